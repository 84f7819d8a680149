package cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrors(t *testing.T) {
	for _, err := range []error{ErrNotFound, ErrClosed, ErrInvalidTTL} {
		assert.Error(t, err)
		assert.ErrorIs(t, NewOperationError("get", "twin.auth.tokens", err), err)
	}
}

func TestConfigError(t *testing.T) {
	err := NewConfigError("store.redis.host", "host is required", nil)
	assert.Equal(t, "store configuration error: store.redis.host: host is required", err.Error())

	underlying := errors.New("permission denied")
	wrapped := NewConfigError("store.file.dir", "directory not writable", underlying)
	assert.ErrorIs(t, wrapped, underlying)
	assert.Contains(t, wrapped.Error(), "permission denied")
}

func TestConnectionError(t *testing.T) {
	underlying := errors.New("connection refused")
	err := NewConnectionError("ping", "localhost:6379", underlying)

	assert.Equal(t, "store connection error: ping failed for localhost:6379: connection refused", err.Error())
	assert.Equal(t, underlying, errors.Unwrap(err))
}

func TestOperationError(t *testing.T) {
	baseErr := errors.New("network error")
	connErr := NewConnectionError("dial", "localhost:6379", baseErr)
	opErr := NewOperationError("set", "twin.auth.user", connErr)

	assert.Contains(t, opErr.Error(), `store operation error: set failed for key "twin.auth.user"`)
	assert.ErrorIs(t, opErr, baseErr)
	assert.ErrorIs(t, opErr, connErr)
}
