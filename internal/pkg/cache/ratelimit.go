package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter per user and action.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter allows limit requests per window.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, window: window}
}

// Allow counts one request and reports whether it fits in the current window.
// The increment and the window expiry go out in one transaction. EXPIRE NX
// leaves a running window alone and gives a counter without a TTL its window
// back, so a key can never stay limited forever.
func (l *RateLimiter) Allow(ctx context.Context, userID int64, action string) (bool, error) {
	key := fmt.Sprintf(keyRateLimit, userID, action)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	return incr.Val() <= int64(l.limit), nil
}
