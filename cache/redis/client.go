// Package redis provides a cache.Store backed by Redis, letting several
// processes share one session.
package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gaborage/twinclient/cache"
	"github.com/gaborage/twinclient/internal/tracking"
)

// Client implements cache.Store using Redis.
type Client struct {
	client *redis.Client
	config Config
	closed atomic.Bool
}

var _ cache.Store = (*Client)(nil)

// NewClient validates cfg, connects, and verifies the connection with PING.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address(),
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, cache.NewConnectionError("ping", cfg.Address(), err)
	}

	return &Client{client: client, config: cfg}, nil
}

func (c *Client) key(key string) string {
	return c.config.KeyPrefix + key
}

// Get returns cache.ErrNotFound if the key doesn't exist.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if c.closed.Load() {
		return nil, cache.ErrClosed
	}

	start := time.Now()
	result, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		tracking.RecordStoreOperation(ctx, cache.BackendRedis, tracking.OpGet, time.Since(start), nil)
		return nil, cache.ErrNotFound
	}
	tracking.RecordStoreOperation(ctx, cache.BackendRedis, tracking.OpGet, time.Since(start), err)

	if err != nil {
		return nil, cache.NewOperationError(tracking.OpGet, key, err)
	}
	return result, nil
}

// Set stores value with the given TTL; 0 means no expiration.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return cache.ErrClosed
	}
	if ttl < 0 {
		return cache.ErrInvalidTTL
	}

	start := time.Now()
	err := c.client.Set(ctx, c.key(key), value, ttl).Err()
	tracking.RecordStoreOperation(ctx, cache.BackendRedis, tracking.OpSet, time.Since(start), err)

	if err != nil {
		return cache.NewOperationError(tracking.OpSet, key, err)
	}
	return nil
}

// Delete removes a key. Missing keys are not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	if c.closed.Load() {
		return cache.ErrClosed
	}

	start := time.Now()
	err := c.client.Del(ctx, c.key(key)).Err()
	tracking.RecordStoreOperation(ctx, cache.BackendRedis, tracking.OpDelete, time.Since(start), err)

	if err != nil {
		return cache.NewOperationError(tracking.OpDelete, key, err)
	}
	return nil
}

// Health checks connectivity with PING.
func (c *Client) Health(ctx context.Context) error {
	if c.closed.Load() {
		return cache.ErrClosed
	}

	start := time.Now()
	err := c.client.Ping(ctx).Err()
	tracking.RecordStoreOperation(ctx, cache.BackendRedis, tracking.OpHealth, time.Since(start), err)

	if err != nil {
		return cache.NewConnectionError("ping", c.config.Address(), err)
	}
	return nil
}

// Close is idempotent; repeated calls return cache.ErrClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return cache.ErrClosed
	}
	return c.client.Close()
}
