package config

import (
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/gaborage/twinclient/cache/redis"
	"github.com/gaborage/twinclient/observability"
)

// Config is the complete client configuration.
type Config struct {
	App           AppConfig            `koanf:"app"`
	API           APIConfig            `koanf:"api"`
	Retry         RetryConfig          `koanf:"retry"`
	Auth          AuthConfig           `koanf:"auth"`
	Store         StoreConfig          `koanf:"store"`
	Log           LogConfig            `koanf:"log"`
	Observability observability.Config `koanf:"observability"`
	Mock          MockConfig           `koanf:"mock"`

	k *koanf.Koanf
}

// AppConfig identifies the running client.
type AppConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
	Env     string `koanf:"env"`
}

// APIConfig locates the backend.
type APIConfig struct {
	BaseURL       string        `koanf:"base_url"`
	VersionPrefix string        `koanf:"version_prefix"`
	Timeout       time.Duration `koanf:"timeout"`
	Tracing       bool          `koanf:"tracing"`
}

// RetryConfig is the process-wide retry policy.
type RetryConfig struct {
	MaxRetries  int           `koanf:"max_retries"`
	BaseDelay   time.Duration `koanf:"base_delay"`
	MaxDelay    time.Duration `koanf:"max_delay"`
	StatusCodes []int         `koanf:"status_codes"`
	ErrorCodes  []string      `koanf:"error_codes"`
}

// AuthConfig tunes the session manager.
type AuthConfig struct {
	RefreshBuffer   time.Duration `koanf:"refresh_buffer"`
	DefaultLifetime time.Duration `koanf:"default_lifetime"`
	TokensKey       string        `koanf:"tokens_key"`
	UserKey         string        `koanf:"user_key"`
}

// StoreConfig selects where the session is persisted.
type StoreConfig struct {
	Backend string          `koanf:"backend"`
	File    FileStoreConfig `koanf:"file"`
	Redis   redis.Config    `koanf:"redis"`
}

// FileStoreConfig configures the file store.
type FileStoreConfig struct {
	Dir string `koanf:"dir"`
}

// LogConfig configures the zerolog logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// MockConfig configures the development backend served by "twinctl mock-server".
type MockConfig struct {
	Addr           string        `koanf:"addr"`
	Secret         string        `koanf:"secret"` //nolint:gosec // development signing key
	AccessTTL      time.Duration `koanf:"access_ttl"`
	LoginRateLimit float64       `koanf:"login_rate_limit"`
	LoginBurst     int           `koanf:"login_burst"`
}
