// Package file provides a cache.Store that keeps one file per key in a
// directory. It is the CLI default so sessions survive between invocations.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaborage/twinclient/cache"
	"github.com/gaborage/twinclient/internal/tracking"
)

const (
	dirPerm  fs.FileMode = 0o700
	filePerm fs.FileMode = 0o600
	suffix               = ".entry"
)

// record is the on-disk form of an entry.
type record struct {
	Value     []byte    `cbor:"1,keyasint"`
	ExpiresAt time.Time `cbor:"2,keyasint,omitempty"`
}

// Store implements cache.Store on the local filesystem.
type Store struct {
	dir    string
	mu     sync.RWMutex
	closed atomic.Bool
	now    func() time.Time
}

var _ cache.Store = (*Store)(nil)

// New creates the directory if needed and returns a store rooted at dir.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, cache.NewConfigError("store.file.dir", "directory is required", nil)
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, cache.NewConfigError("store.file.dir", "cannot create directory", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

// path maps a key to a file name that cannot escape the root directory.
func (s *Store) path(key string) string {
	var sb strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		case r == '.' || r == ':':
			sb.WriteByte('.')
		default:
			fmt.Fprintf(&sb, "%%%02x", r)
		}
	}
	return filepath.Join(s.dir, sb.String()+suffix)
}

func (s *Store) Get(ctx context.Context, key string) (value []byte, err error) {
	if s.closed.Load() {
		return nil, cache.ErrClosed
	}
	start := time.Now()
	defer func() { s.record(ctx, tracking.OpGet, start, err) }()

	s.mu.RLock()
	data, err := os.ReadFile(s.path(key))
	s.mu.RUnlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, cache.NewOperationError(tracking.OpGet, key, err)
	}

	rec, err := cache.Unmarshal[record](data)
	if err != nil {
		return nil, cache.NewOperationError(tracking.OpGet, key, err)
	}
	if !rec.ExpiresAt.IsZero() && s.now().After(rec.ExpiresAt) {
		_ = s.remove(key)
		return nil, cache.ErrNotFound
	}
	return rec.Value, nil
}

// Set writes the entry to a temporary file and renames it into place.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (err error) {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	if ttl < 0 {
		return cache.ErrInvalidTTL
	}
	start := time.Now()
	defer func() { s.record(ctx, tracking.OpSet, start, err) }()

	rec := record{Value: value}
	if ttl > 0 {
		rec.ExpiresAt = s.now().Add(ttl).UTC()
	}
	data, err := cache.Marshal(rec)
	if err != nil {
		return cache.NewOperationError(tracking.OpSet, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return cache.NewOperationError(tracking.OpSet, key, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return cache.NewOperationError(tracking.OpSet, key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return cache.NewOperationError(tracking.OpSet, key, err)
	}
	if err := tmp.Close(); err != nil {
		return cache.NewOperationError(tracking.OpSet, key, err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		return cache.NewOperationError(tracking.OpSet, key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) (err error) {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	start := time.Now()
	defer func() { s.record(ctx, tracking.OpDelete, start, err) }()

	if err := s.remove(key); err != nil {
		return cache.NewOperationError(tracking.OpDelete, key, err)
	}
	return nil
}

func (s *Store) remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Health verifies the directory is still present and writable.
func (s *Store) Health(_ context.Context) error {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	info, err := os.Stat(s.dir)
	if err != nil {
		return cache.NewConnectionError("stat", s.dir, err)
	}
	if !info.IsDir() {
		return cache.NewConnectionError("stat", s.dir, fmt.Errorf("%s is not a directory", s.dir))
	}
	return nil
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return cache.ErrClosed
	}
	return nil
}

func (s *Store) record(ctx context.Context, op string, start time.Time, err error) {
	if errors.Is(err, cache.ErrNotFound) {
		err = nil
	}
	tracking.RecordStoreOperation(ctx, cache.BackendFile, op, time.Since(start), err)
}
