package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMessage = "test message"

func newBufferLogger(level string) (*ZeroLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewWithWriter(level, false, &buf, nil), &buf
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNewWithWriterLevels(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected zerolog.Level
	}{
		{"debug", "debug", zerolog.DebugLevel},
		{"warn", "warn", zerolog.WarnLevel},
		{"invalid_level_defaults_to_info", "verbose", zerolog.InfoLevel},
		{"disabled", "disabled", zerolog.Disabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newBufferLogger(tt.level)
			assert.Equal(t, tt.expected, l.zlog.GetLevel())
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newBufferLogger("warn")

	l.Info().Msg(testMessage)
	assert.Zero(t, buf.Len())

	l.Warn().Msg(testMessage)
	entry := decodeEntry(t, buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, testMessage, entry["message"])
}

func TestLogEventFields(t *testing.T) {
	l, buf := newBufferLogger("debug")

	l.Debug().
		Str("endpoint", "auth.refresh").
		Int("attempt", 2).
		Int64("call_count", 7).
		Uint64("bytes", 42).
		Bool("retryable", true).
		Dur("delay", 20*time.Millisecond).
		Err(errors.New("boom")).
		Msgf("attempt %d failed", 2)

	entry := decodeEntry(t, buf)
	assert.Equal(t, "auth.refresh", entry["endpoint"])
	assert.EqualValues(t, 2, entry["attempt"])
	assert.EqualValues(t, 7, entry["call_count"])
	assert.EqualValues(t, 42, entry["bytes"])
	assert.Equal(t, true, entry["retryable"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "attempt 2 failed", entry["message"])
}

func TestSensitiveFieldsAreMasked(t *testing.T) {
	l, buf := newBufferLogger("info")

	l.Info().
		Str("access_token", "eyJhbGciOi").
		Str("Authorization", "Bearer abc").
		Bytes("refresh_token", []byte("r-123")).
		Interface("login", map[string]any{"email": "a@b.com", "password": "pw"}).
		Msg(testMessage)

	entry := decodeEntry(t, buf)
	assert.Equal(t, DefaultMaskValue, entry["access_token"])
	assert.Equal(t, DefaultMaskValue, entry["Authorization"])
	assert.Equal(t, DefaultMaskValue, entry["refresh_token"])

	login, ok := entry["login"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a@b.com", login["email"])
	assert.Equal(t, DefaultMaskValue, login["password"])
}

func TestWithFieldsFiltersSensitiveData(t *testing.T) {
	l, buf := newBufferLogger("info")

	l.WithFields(map[string]any{
		"component": "auth",
		"api_key":   "k-1",
	}).Info().Msg(testMessage)

	entry := decodeEntry(t, buf)
	assert.Equal(t, "auth", entry["component"])
	assert.Equal(t, DefaultMaskValue, entry["api_key"])
}

func TestWithContextFallsBackToReceiver(t *testing.T) {
	l, _ := newBufferLogger("info")
	assert.Same(t, l, l.WithContext("not a context"))
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	assert.NotPanics(t, func() {
		l.Error().Str("k", "v").Msg(testMessage)
	})
}
