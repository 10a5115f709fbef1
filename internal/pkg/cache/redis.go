// Package cache holds the Redis-backed ephemeral state: the live session
// mirror read by the tick loop and the per-user request limiter. Nothing here
// is authoritative; every reader re-checks PostgreSQL before acting.
package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"hazard-wager/internal/config"
)

// ErrMiss is returned when a mirrored session is absent or expired.
var ErrMiss = errors.New("cache miss")

// Key layouts.
const (
	keySession    = "wager:session:%s"
	keyUserActive = "user:%d:active_wagers"
	keyRateLimit  = "ratelimit:%d:%s"
)

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("Connecting to Redis")

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Msg("Successfully connected to Redis")
	return client, nil
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf(keySession, sessionID)
}

func userActiveKey(userID int64) string {
	return fmt.Sprintf(keyUserActive, userID)
}
