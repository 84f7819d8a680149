// Package cache defines the key-value store that persists session state
// (tokens and the cached user profile) together with its backends:
// memory, file, and redis.
package cache

import (
	"context"
	"time"
)

// Store is a synchronous key-value store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns ErrNotFound if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set overwrites any existing value. A ttl of 0 stores without expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete is idempotent.
	Delete(ctx context.Context, key string) error

	Health(ctx context.Context) error

	// Close releases resources. Further calls return ErrClosed.
	Close() error
}

// Backend names accepted by configuration.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)
