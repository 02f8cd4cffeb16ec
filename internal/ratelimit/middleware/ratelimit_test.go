package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"contactlink/internal/ratelimit/models"
	"contactlink/internal/ratelimit/store/bucket"
	metadata "contactlink/pkg/platform/middleware/metadata"
	"contactlink/pkg/testutil"
)

// flakyStore delegates to an in-memory bucket until err is set.
type flakyStore struct {
	mu    sync.Mutex
	inner *bucket.InMemoryBucketStore
	err   error
	calls int
	keys  []string
}

func (f *flakyStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	f.mu.Lock()
	f.calls++
	f.keys = append(f.keys, key)
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.inner.Allow(ctx, key, limit, window)
}

func (f *flakyStore) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type RateLimitMiddlewareSuite struct {
	suite.Suite
	primary  *flakyStore
	fallback *bucket.InMemoryBucketStore
	logger   *slog.Logger
	mw       *Middleware
	handler  http.Handler
	reached  int
}

func TestRateLimitMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(RateLimitMiddlewareSuite))
}

func (s *RateLimitMiddlewareSuite) SetupTest() {
	s.primary = &flakyStore{inner: bucket.New()}
	s.fallback = bucket.New()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.reached = 0
	s.mw = New(s.primary, 2, s.logger, WithFallback(s.fallback))
	s.handler = s.build(s.mw)
}

func (s *RateLimitMiddlewareSuite) build(m *Middleware) http.Handler {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.reached++
		w.WriteHeader(http.StatusOK)
	})
	return metadata.ClientMetadata(m.RateLimit(next))
}

func (s *RateLimitMiddlewareSuite) do(ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/identify", nil)
	req.RemoteAddr = ip + ":41000"
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *RateLimitMiddlewareSuite) TestAllowsWithinLimit() {
	rr := s.do("198.51.100.1")

	s.Equal(http.StatusOK, rr.Code)
	s.Equal("2", rr.Header().Get("X-RateLimit-Limit"))
	s.Equal("1", rr.Header().Get("X-RateLimit-Remaining"))
	s.NotEmpty(rr.Header().Get("X-RateLimit-Reset"))
	s.Empty(rr.Header().Get("X-RateLimit-Status"))
	s.Equal([]string{"ratelimit:identify:ip:198.51.100.1"}, s.primary.keys)
}

func (s *RateLimitMiddlewareSuite) TestRejectsOverLimit() {
	s.do("198.51.100.2")
	s.do("198.51.100.2")
	rr := s.do("198.51.100.2")

	s.Equal(http.StatusTooManyRequests, rr.Code)
	s.JSONEq(`{"error":"rate limit exceeded"}`, rr.Body.String())
	s.Equal("0", rr.Header().Get("X-RateLimit-Remaining"))
	s.NotEmpty(rr.Header().Get("Retry-After"))
	s.Equal(2, s.reached)

	s.Equal(http.StatusOK, s.do("198.51.100.3").Code, "other clients keep their own budget")
}

func (s *RateLimitMiddlewareSuite) TestLimiterErrorFailsOpen() {
	s.primary.fail(errors.New("dial tcp: connection refused"))

	rr := s.do("198.51.100.4")

	s.Equal(http.StatusOK, rr.Code)
	s.Empty(rr.Header().Get("X-RateLimit-Limit"))
	s.Equal(1, s.reached)
}

func (s *RateLimitMiddlewareSuite) TestOpenCircuitUsesFallback() {
	s.primary.fail(errors.New("dial tcp: connection refused"))
	for range 4 {
		s.Equal(http.StatusOK, s.do("198.51.100.5").Code)
	}

	rr := s.do("198.51.100.5")
	s.Equal(http.StatusOK, rr.Code)
	s.Equal("degraded", rr.Header().Get("X-RateLimit-Status"))
	s.Equal("1", rr.Header().Get("X-RateLimit-Remaining"))

	s.do("198.51.100.5")
	rr = s.do("198.51.100.5")
	s.Equal(http.StatusTooManyRequests, rr.Code, "the fallback enforces the limit")
	s.Equal("degraded", rr.Header().Get("X-RateLimit-Status"))
}

func (s *RateLimitMiddlewareSuite) TestCircuitClosesAfterRecovery() {
	s.primary.fail(errors.New("i/o timeout"))
	for range 5 {
		s.do("198.51.100.6")
	}
	s.Require().True(s.mw.breaker.IsOpen())
	s.primary.fail(nil)

	for i := range 3 {
		rr := s.do("198.51.100.7")
		s.Empty(rr.Header().Get("X-RateLimit-Status"), "request %d should use the primary", i)
	}
	s.False(s.mw.breaker.IsOpen())
}

func (s *RateLimitMiddlewareSuite) TestDisabled() {
	s.Run("zero limit", func() {
		s.handler = s.build(New(s.primary, 0, s.logger))
		for range 5 {
			s.Equal(http.StatusOK, s.do("198.51.100.8").Code)
		}
		s.Zero(s.primary.calls)
	})

	s.Run("no limiter", func() {
		s.handler = s.build(New(nil, 10, s.logger))
		s.Equal(http.StatusOK, s.do("198.51.100.9").Code)
	})
}

func (s *RateLimitMiddlewareSuite) TestKeysOnContextClientIP() {
	h := s.mw.RateLimit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	testutil.DoRequest(h, testutil.WithClientIP(testutil.NewRequest(s.T(), http.MethodPost, "/identify"), "2001:db8::9"))
	testutil.DoRequest(h, testutil.NewRequest(s.T(), http.MethodPost, "/identify"))

	s.Equal([]string{
		"ratelimit:identify:ip:2001:db8::9",
		"ratelimit:identify:ip:unknown",
	}, s.primary.keys)
}
