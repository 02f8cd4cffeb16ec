package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contactlink/internal/contact/handler"
	"contactlink/internal/contact/models"
	"contactlink/internal/contact/service"
	"contactlink/internal/contact/store"
	"contactlink/internal/platform/metrics"
	"contactlink/internal/ratelimit/middleware"
	"contactlink/internal/ratelimit/store/bucket"
	"contactlink/pkg/platform/middleware/request"
	"contactlink/pkg/testutil"
)

func newTestRouter(t *testing.T, ping handler.Pinger, limitPerMinute int) http.Handler {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	contacts := store.NewInMemoryStore()
	reg := prometheus.NewRegistry()

	limiter := middleware.New(bucket.New(), limitPerMinute, log)
	return newRouter(routes{
		contacts: handler.New(service.New(contacts, contacts), log, handler.WithRateLimit(limiter.RateLimit)),
		health:   handler.NewHealth(ping, log),
		gatherer: reg,
		metrics:  metrics.New(reg),
	}, log)
}

func TestRouter(t *testing.T) {
	testutil.Given(t, "a router backed by the in-memory store", func(t *testing.T) {
		router := newTestRouter(t, func(context.Context) error { return nil }, 0)

		testutil.When(t, "two overlapping contacts are identified", func(t *testing.T) {
			first := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/identify",
				`{"email":"lorraine@hillvalley.edu","phoneNumber":"123456"}`))
			second := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/identify",
				`{"email":"mcfly@hillvalley.edu","phoneNumber":"123456"}`))

			testutil.Then(t, "the second response consolidates both", func(t *testing.T) {
				testutil.AssertStatusOK(t, first)
				testutil.AssertStatusOK(t, second)
				resp := testutil.UnmarshalResponse[models.IdentifyResponse](t, second)
				require.NotNil(t, resp.Contact)
				assert.Equal(t, int64(1), resp.Contact.PrimaryContactID)
				assert.Equal(t, []string{"lorraine@hillvalley.edu", "mcfly@hillvalley.edu"}, resp.Contact.Emails)
				assert.Equal(t, []int64{2}, resp.Contact.SecondaryContactIDs)
				assert.NotEmpty(t, second.Header().Get(request.HeaderRequestID))
			})
		})

		testutil.When(t, "metrics are scraped", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))

			testutil.Then(t, "request counters are exposed by route", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				assert.Contains(t, rr.Body.String(), `contactlink_http_requests_total{method="POST",route="/identify",status="200"} 2`)
			})
		})

		testutil.When(t, "an unknown route is requested", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/contacts"))

			testutil.Then(t, "it responds not found", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusNotFound)
			})
		})
	})

	testutil.Given(t, "an unreachable database", func(t *testing.T) {
		router := newTestRouter(t, func(context.Context) error { return errors.New("connection refused") }, 0)

		testutil.When(t, "health is checked", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/health"))

			testutil.Then(t, "it reports unavailable", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
			})
		})
	})

	testutil.Given(t, "a limit of one request per minute", func(t *testing.T) {
		router := newTestRouter(t, func(context.Context) error { return nil }, 1)

		testutil.When(t, "the same client identifies twice", func(t *testing.T) {
			body := `{"phoneNumber":"555"}`
			first := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/identify", body))
			second := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/identify", body))

			testutil.Then(t, "the second call is throttled", func(t *testing.T) {
				testutil.AssertStatusOK(t, first)
				testutil.AssertStatus(t, second, http.StatusTooManyRequests)
				assert.NotEmpty(t, second.Header().Get("Retry-After"))
			})
		})

		testutil.When(t, "health is checked after the limit is spent", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/health"))

			testutil.Then(t, "health is not rate limited", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
			})
		})
	})
}
