package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"contactlink/pkg/platform/httputil"
)

// Pinger reports whether a dependency is reachable.
type Pinger func(ctx context.Context) error

// Health serves GET /health from a database ping.
type Health struct {
	ping   Pinger
	logger *slog.Logger
}

func NewHealth(ping Pinger, logger *slog.Logger) *Health {
	return &Health{ping: ping, logger: logger}
}

type healthResponse struct {
	Status string `json:"status"`
}

func (h *Health) Register(r chi.Router) {
	r.Get("/health", h.handleHealth)
}

func (h *Health) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.ping(ctx); err != nil {
		h.logger.ErrorContext(ctx, "health check failed", "error", err.Error())
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{
			Error: "database unavailable",
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

