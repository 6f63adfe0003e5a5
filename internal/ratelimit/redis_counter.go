package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCounter is a CounterStore on redis so windows are shared across
// replicas. SET NX EX opens the window atomically, INCR counts within it.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a redis-backed counter store.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (r *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	// SET NX both creates the counter and arms its expiry, so a crashed
	// window can never count forever.
	if err := r.client.SetNX(ctx, key, 0, window).Err(); err != nil {
		return 0, 0, fmt.Errorf("open rate limit window: %w", err)
	}

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("bump rate limit counter: %w", err)
	}

	remaining := ttl.Val()
	if remaining < 0 {
		// The key expired between SET NX and TTL. Treat it as a fresh
		// window; the next request reopens it with a proper expiry.
		remaining = 0
	}
	return incr.Val(), remaining, nil
}
