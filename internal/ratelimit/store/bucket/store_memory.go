package bucket

import (
	"context"
	"sync"
	"time"

	"contactlink/internal/ratelimit/models"
)

// InMemoryBucketStore implements fixed-window counting in process memory.
// Counts are not shared between replicas; use RedisBucketStore for that.
type InMemoryBucketStore struct {
	mu      sync.Mutex
	buckets map[string]*fixedWindow
	clock   func() time.Time
}

type fixedWindow struct {
	count   int
	resetAt time.Time
}

type MemoryOption func(*InMemoryBucketStore)

func WithClock(clock func() time.Time) MemoryOption {
	return func(s *InMemoryBucketStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates a new in-memory bucket store.
func New(opts ...MemoryOption) *InMemoryBucketStore {
	s := &InMemoryBucketStore{
		buckets: make(map[string]*fixedWindow),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow counts one request against key and reports whether it fits the limit.
func (s *InMemoryBucketStore) Allow(_ context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	fw := s.buckets[key]
	if fw == nil || !now.Before(fw.resetAt) {
		fw = &fixedWindow{resetAt: now.Add(window)}
		s.buckets[key] = fw
	}
	fw.count++

	return buildResult(now, fw.count, limit, fw.resetAt), nil
}

// Reset clears the counter for a key.
func (s *InMemoryBucketStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// Sweep drops windows that have already ended.
func (s *InMemoryBucketStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	removed := 0
	for key, fw := range s.buckets {
		if !now.Before(fw.resetAt) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (s *InMemoryBucketStore) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Len reports how many windows are tracked.
func (s *InMemoryBucketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

func buildResult(now time.Time, count, limit int, resetAt time.Time) *models.RateLimitResult {
	result := &models.RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}
	if !result.Allowed {
		result.RetryAfter = models.RetryAfterSeconds(now, resetAt)
	}
	return result
}
