// Package memory provides an in-process cache.Store. It is the default for
// tests and short-lived processes and supports injected failures.
package memory

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaborage/twinclient/cache"
	"github.com/gaborage/twinclient/internal/tracking"
)

type entry struct {
	value      []byte
	expiration time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiration.IsZero() && now.After(e.expiration)
}

// Store is a mutex-guarded map implementing cache.Store.
type Store struct {
	mu       sync.RWMutex
	data     map[string]entry
	failures map[string]error
	closed   atomic.Bool
	now      func() time.Time
}

var _ cache.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		data:     make(map[string]entry),
		failures: make(map[string]error),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailOn makes every subsequent call of op ("get", "set", "delete", "health")
// return err. A nil err clears the failure.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) failure(op, key string) error {
	if err, ok := s.failures[op]; ok {
		return cache.NewOperationError(op, key, err)
	}
	return nil
}

// Get returns a copy of the stored value.
func (s *Store) Get(ctx context.Context, key string) (value []byte, err error) {
	if s.closed.Load() {
		return nil, cache.ErrClosed
	}
	defer s.record(ctx, tracking.OpGet, time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(tracking.OpGet, key); err != nil {
		return nil, err
	}
	e, ok := s.data[key]
	if !ok || e.expired(s.now()) {
		return nil, cache.ErrNotFound
	}
	return bytes.Clone(e.value), nil
}

// Set stores a copy of value.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (err error) {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	if ttl < 0 {
		return cache.ErrInvalidTTL
	}
	defer s.record(ctx, tracking.OpSet, time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(tracking.OpSet, key); err != nil {
		return err
	}
	e := entry{value: bytes.Clone(value)}
	if ttl > 0 {
		e.expiration = s.now().Add(ttl)
	}
	s.data[key] = e
	return nil
}

// Delete removes key; missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) (err error) {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	defer s.record(ctx, tracking.OpDelete, time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(tracking.OpDelete, key); err != nil {
		return err
	}
	delete(s.data, key)
	return nil
}

// Health reports ErrClosed after Close and injected failures otherwise.
func (s *Store) Health(_ context.Context) error {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure(tracking.OpHealth, "")
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	n := 0
	for _, e := range s.data {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Close drops all entries. It is idempotent and returns ErrClosed on repeat calls.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return cache.ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]entry)
	return nil
}

func (s *Store) record(ctx context.Context, op string, start time.Time, err *error) {
	var recordErr error
	if err != nil && *err != nil && !errors.Is(*err, cache.ErrNotFound) {
		recordErr = *err
	}
	tracking.RecordStoreOperation(ctx, cache.BackendMemory, op, time.Since(start), recordErr)
}
