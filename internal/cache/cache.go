// Package cache holds short-lived provider lookups (symbol search, quotes)
// keyed by string. Values are stored as JSON.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"flint/internal/logger"
)

// Cache is a TTL key/value store. Get reports false on a miss.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// New returns a redis-backed cache when redisURL is set, otherwise an
// in-process one.
func New(ctx context.Context, redisURL string) (Cache, error) {
	if redisURL == "" {
		logger.Get().Infow("using in-memory cache")
		return NewMemory(), nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Get().Infow("using redis cache", "addr", opts.Addr, "db", opts.DB)
	return NewRedis(client), nil
}

// Key joins parts with ':' under the flint namespace.
func Key(parts ...string) string {
	key := "flint"
	for _, p := range parts {
		key += ":" + p
	}
	return key
}
