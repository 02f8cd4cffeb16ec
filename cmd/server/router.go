package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"contactlink/internal/contact/handler"
	"contactlink/internal/platform/metrics"
	metadata "contactlink/pkg/platform/middleware/metadata"
	"contactlink/pkg/platform/middleware/request"
)

// routes groups what the router mounts.
type routes struct {
	contacts *handler.Handler
	health   *handler.Health
	gatherer prometheus.Gatherer
	metrics  *metrics.HTTP
}

func newRouter(rt routes, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(logger))
	r.Use(request.Logger(logger))
	r.Use(metadata.ClientMetadata)
	r.Use(rt.metrics.Middleware)

	rt.contacts.Register(r)
	rt.health.Register(r)
	if rt.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}
