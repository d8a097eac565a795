// Package cache holds short-lived derived data such as the recents list and
// per-context file listings. Values are strings; callers own serialization.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss signals that a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache is a concurrency-safe key-value store with per-key TTL.
type Cache interface {
	// Get returns ErrMiss for absent keys; other errors are transport errors.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value at key. A non-positive ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes keys and reports how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// New returns a redis-backed cache when redisURL is set, else an in-memory one.
func New(ctx context.Context, redisURL string) (Cache, error) {
	if redisURL == "" {
		return NewMemory(), nil
	}
	return NewRedis(ctx, redisURL)
}
