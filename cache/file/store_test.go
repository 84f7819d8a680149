package file

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/twinclient/cache"
)

const testKey = "twin.auth.tokens"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "session"))
	require.NoError(t, err)
	return s
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New(" ")
	var cfgErr *cache.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestSetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Get(ctx, testKey)
	assert.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, s.Set(ctx, testKey, []byte(`{"accessToken":"a"}`), 0))
	got, err := s.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, `{"accessToken":"a"}`, string(got))

	require.NoError(t, s.Set(ctx, testKey, []byte(`{"accessToken":"b"}`), 0))
	got, err = s.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, `{"accessToken":"b"}`, string(got))

	require.NoError(t, s.Delete(ctx, testKey))
	require.NoError(t, s.Delete(ctx, testKey))
	_, err = s.Get(ctx, testKey)
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestFilePermissionsAndNames(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on windows")
	}
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Set(ctx, "../escape/key", []byte("v"), 0))
	require.NoError(t, s.Set(ctx, testKey, []byte("v"), 0))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		info, err := e.Info()
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), e.Name())
	}
	_, err = os.Stat(filepath.Join(s.Dir(), "twin.auth.tokens.entry"))
	assert.NoError(t, err)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, testKey, []byte("v"), time.Minute))
	_, err := s.Get(ctx, testKey)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, testKey)
	assert.ErrorIs(t, err, cache.ErrNotFound)

	_, statErr := os.Stat(s.path(testKey))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCorruptEntry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.path(testKey), []byte{0xff, 0x00}, 0o600))

	_, err := s.Get(ctx, testKey)
	var opErr *cache.OperationError
	assert.ErrorAs(t, err, &opErr)
}

func TestPersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, testKey, []byte("persisted"), 0))
	require.NoError(t, first.Close())

	second, err := New(dir)
	require.NoError(t, err)
	got, err := second.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(got))
}

func TestHealthAndClose(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Health(ctx))

	require.NoError(t, os.RemoveAll(s.Dir()))
	var connErr *cache.ConnectionError
	assert.ErrorAs(t, s.Health(ctx), &connErr)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Close(), cache.ErrClosed)
	_, err := s.Get(ctx, testKey)
	assert.ErrorIs(t, err, cache.ErrClosed)
}
