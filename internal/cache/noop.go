package cache

import (
	"context"
	"time"
)

// NoOpCache satisfies Cache without a backend: every lookup misses and
// every write succeeds silently. Used when caching is disabled and in
// tests, so the evaluation path never needs a nil check.
type NoOpCache struct{}

// NewNoOpCache creates a cache that stores nothing.
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

func (n *NoOpCache) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, ErrMiss
}

func (n *NoOpCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return nil
}

func (n *NoOpCache) Delete(ctx context.Context, keys ...string) error {
	return nil
}

func (n *NoOpCache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	return 0, nil
}

func (n *NoOpCache) Ping(ctx context.Context) error {
	return nil
}

func (n *NoOpCache) Close() error {
	return nil
}
