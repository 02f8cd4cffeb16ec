package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"contactlink/internal/ratelimit/models"
	"contactlink/pkg/platform/circuit"
	"contactlink/pkg/platform/httputil"
	metadata "contactlink/pkg/platform/middleware/metadata"
)

// BucketStore counts requests per key within a fixed window.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

type Middleware struct {
	limiter  BucketStore
	fallback BucketStore
	breaker  *circuit.Breaker
	logger   *slog.Logger
	limit    int
	window   time.Duration
	disabled bool
}

type Option func(*Middleware)

// WithFallback sets the limiter used while the primary's circuit is open.
func WithFallback(fallback BucketStore) Option {
	return func(m *Middleware) {
		m.fallback = fallback
	}
}

// WithWindow overrides the one minute window.
func WithWindow(window time.Duration) Option {
	return func(m *Middleware) {
		if window > 0 {
			m.window = window
		}
	}
}

// New builds the middleware. A limit of zero or less disables rate limiting.
func New(limiter BucketStore, limit int, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter:  limiter,
		breaker:  circuit.New("ratelimit"),
		logger:   logger,
		limit:    limit,
		window:   time.Minute,
		disabled: limit <= 0 || limiter == nil,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// Window reports the length of one counting window.
func (m *Middleware) Window() time.Duration {
	return m.window
}

// RateLimit limits requests per client IP. Limiter errors let the request
// through.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		ip := metadata.GetClientIP(ctx)

		result, degraded, err := m.check(ctx, models.NewIPKey(ip))
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to check rate limit", "error", err, "client_ip", ip)
			next.ServeHTTP(w, r)
			return
		}

		addRateLimitHeaders(w, result)
		if degraded {
			w.Header().Set("X-RateLimit-Status", "degraded")
		}

		if !result.Allowed {
			writeRateLimitExceeded(w, result)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) check(ctx context.Context, key string) (*models.RateLimitResult, bool, error) {
	if m.fallback != nil && m.breaker.IsOpen() {
		result, err := m.limiter.Allow(ctx, key, m.limit, m.window)
		if err == nil {
			if _, change := m.breaker.RecordSuccess(); change.Closed {
				m.logger.InfoContext(ctx, "rate limiter recovered, leaving fallback", "breaker", m.breaker.Name())
			}
			return result, false, nil
		}
		m.breaker.RecordFailure()
		result, err = m.fallback.Allow(ctx, key, m.limit, m.window)
		return result, true, err
	}

	result, err := m.limiter.Allow(ctx, key, m.limit, m.window)
	if err != nil {
		useFallback, change := m.breaker.RecordFailure()
		if change.Opened {
			m.logger.WarnContext(ctx, "rate limiter unavailable, opening circuit", "breaker", m.breaker.Name(), "error", err)
		}
		if useFallback && m.fallback != nil {
			result, err = m.fallback.Allow(ctx, key, m.limit, m.window)
			return result, true, err
		}
		return nil, false, err
	}
	m.breaker.RecordSuccess()
	return result, false, nil
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.ErrorResponse{
		Error: "rate limit exceeded",
	})
}
