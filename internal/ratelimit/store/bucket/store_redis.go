package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"contactlink/internal/ratelimit/models"
)

// RedisBucketStore implements fixed-window counting shared by every replica.
// The counter and its expiry are set in one MULTI/EXEC so a key never
// outlives its window.
type RedisBucketStore struct {
	client redis.Cmdable
	clock  func() time.Time
}

func NewRedis(client redis.Cmdable) *RedisBucketStore {
	return &RedisBucketStore{client: client, clock: time.Now}
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit: %w", err)
	}

	now := s.clock()
	remaining := ttl.Val()
	if remaining <= 0 {
		remaining = window
	}
	return buildResult(now, int(incr.Val()), limit, now.Add(remaining)), nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
