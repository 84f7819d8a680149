package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "twinclient.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "twinctl", cfg.App.Name)
	assert.Equal(t, EnvDevelopment, cfg.App.Env)
	assert.Equal(t, "http://localhost:8000", cfg.API.BaseURL)
	assert.Equal(t, "/api/v1", cfg.API.VersionPrefix)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)

	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, []int{429, 500, 502, 503, 504}, cfg.Retry.StatusCodes)
	assert.Contains(t, cfg.Retry.ErrorCodes, "ECONNRESET")

	assert.Equal(t, 5*time.Minute, cfg.Auth.RefreshBuffer)
	assert.Equal(t, time.Hour, cfg.Auth.DefaultLifetime)
	assert.Equal(t, "twin.auth.tokens", cfg.Auth.TokensKey)

	assert.Equal(t, StoreFile, cfg.Store.Backend)
	assert.NotEmpty(t, cfg.Store.File.Dir)
	assert.Equal(t, "twin:", cfg.Store.Redis.KeyPrefix)
	assert.Equal(t, 6379, cfg.Store.Redis.Port)
	assert.Equal(t, 5*time.Second, cfg.Store.Redis.DialTimeout)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Observability.Enabled)
	assert.Equal(t, "twinctl", cfg.Observability.Service.Name)
	assert.Equal(t, 15*time.Minute, cfg.Mock.AccessTTL)
}

func TestLoadFromFile(t *testing.T) {
	path := writeFile(t, `
api:
  base_url: https://twin.example.org
  timeout: 5s
retry:
  max_retries: 1
  status_codes: [503]
store:
  backend: memory
log:
  level: debug
  pretty: true
observability:
  enabled: true
  trace:
    endpoint: collector:4317
    protocol: grpc
`)

	cfg, err := Load(WithFile(path))
	require.NoError(t, err)

	assert.Equal(t, "https://twin.example.org", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, 1, cfg.Retry.MaxRetries)
	assert.Equal(t, []int{503}, cfg.Retry.StatusCodes)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
	assert.True(t, cfg.Observability.Enabled)
	assert.Equal(t, "collector:4317", cfg.Observability.Trace.Endpoint)
	assert.Equal(t, "grpc", cfg.Observability.Trace.Protocol)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "api:\n  base_url: https://file.example.org\n")
	t.Setenv("TWIN_API_BASE_URL", "https://env.example.org")
	t.Setenv("TWIN_RETRY_MAX_RETRIES", "5")
	t.Setenv("TWIN_RETRY_STATUS_CODES", "502, 503")
	t.Setenv("TWIN_RETRY_ERROR_CODES", "ECONNRESET")
	t.Setenv("TWIN_AUTH_REFRESH_BUFFER", "90s")
	t.Setenv("TWIN_STORE_REDIS_KEY_PREFIX", "clinic:")

	cfg, err := Load(WithFile(path))
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.org", cfg.API.BaseURL)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, []int{502, 503}, cfg.Retry.StatusCodes)
	assert.Equal(t, []string{"ECONNRESET"}, cfg.Retry.ErrorCodes)
	assert.Equal(t, 90*time.Second, cfg.Auth.RefreshBuffer)
	assert.Equal(t, "clinic:", cfg.Store.Redis.KeyPrefix)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(WithFile(filepath.Join(t.TempDir(), "absent.yaml")))
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(WithFile(writeFile(t, "api: [unterminated")))
	assert.Error(t, err)
}

func TestLoadValidationFailures(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"bad_env", map[string]string{"TWIN_APP_ENV": "qa"}, "app.env"},
		{"bad_url", map[string]string{"TWIN_API_BASE_URL": "localhost:8000"}, "api.base_url"},
		{"negative_retries", map[string]string{"TWIN_RETRY_MAX_RETRIES": "-1"}, "retry.max_retries"},
		{"max_below_base", map[string]string{"TWIN_RETRY_MAX_DELAY": "10ms"}, "retry.max_delay"},
		{"bad_status", map[string]string{"TWIN_RETRY_STATUS_CODES": "700"}, "retry.status_codes"},
		{"bad_code", map[string]string{"TWIN_RETRY_ERROR_CODES": "EWHATEVER"}, "retry.error_codes"},
		{"bad_backend", map[string]string{"TWIN_STORE_BACKEND": "s3"}, "store.backend"},
		{"bad_level", map[string]string{"TWIN_LOG_LEVEL": "loud"}, "log.level"},
		{"bad_redis_port", map[string]string{"TWIN_STORE_BACKEND": "redis", "TWIN_STORE_REDIS_PORT": "0"}, "store.redis.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "TWIN_API_BASE_URL", EnvName("api.base_url"))
	assert.Equal(t, "TWIN_STORE_REDIS_KEY_PREFIX", EnvName("store.redis.key_prefix"))
}

func TestConfigErrorFormatting(t *testing.T) {
	err := NewMissingFieldError("api.base_url")
	assert.Equal(t, "config_missing: api.base_url required set TWIN_API_BASE_URL env var or add api.base_url to twinclient.yaml", err.Error())

	err = NewInvalidFieldError("store.backend", "unknown backend: s3", []string{"memory", "file"})
	assert.Equal(t, "config_invalid: store.backend unknown backend: s3 must be one of: memory, file", err.Error())

	assert.True(t, IsNotConfigured(NewNotConfiguredError("observability.enabled")))
	assert.True(t, IsNotConfigured(ErrNotConfigured))
	assert.False(t, IsNotConfigured(err))
	assert.False(t, IsNotConfigured(nil))
}

func TestAccessors(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "twinctl", cfg.GetString("app.name"))
	assert.Equal(t, "fallback", cfg.GetString("nope", "fallback"))
	assert.Equal(t, 5*time.Minute, cfg.GetDuration("auth.refresh_buffer"))
	assert.Equal(t, time.Second, cfg.GetDuration("nope", time.Second))
	assert.Contains(t, cfg.Keys(), "api.base_url")

	var empty *Config
	assert.Empty(t, empty.GetString("app.name"))
	assert.Nil(t, empty.Keys())
}
