package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Store backends
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

const maxRetriesCeiling = 10

var knownErrorCodes = []string{
	"ECONNREFUSED", "ECONNRESET", "ECONNABORTED", "EPIPE", "ETIMEDOUT",
	"ENOTFOUND", "EAI_AGAIN", "EHOSTUNREACH", "ENETUNREACH",
}

// Validate checks every section and returns the first failure.
func Validate(cfg *Config) error {
	if err := validateApp(&cfg.App); err != nil {
		return fmt.Errorf("app config: %w", err)
	}
	if err := validateAPI(&cfg.API); err != nil {
		return fmt.Errorf("api config: %w", err)
	}
	if err := validateRetry(&cfg.Retry); err != nil {
		return fmt.Errorf("retry config: %w", err)
	}
	if err := validateAuth(&cfg.Auth); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	if err := validateStore(&cfg.Store); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if err := validateLog(&cfg.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	if err := validateMock(&cfg.Mock); err != nil {
		return fmt.Errorf("mock config: %w", err)
	}
	return nil
}

func validateApp(cfg *AppConfig) error {
	if cfg.Name == "" {
		return NewMissingFieldError("app.name")
	}
	validEnvs := []string{EnvDevelopment, EnvStaging, EnvProduction}
	if !slices.Contains(validEnvs, cfg.Env) {
		return NewInvalidFieldError("app.env", fmt.Sprintf("invalid environment: %s", cfg.Env), validEnvs)
	}
	return nil
}

func validateAPI(cfg *APIConfig) error {
	if cfg.BaseURL == "" {
		return NewMissingFieldError("api.base_url")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewInvalidFieldError("api.base_url", fmt.Sprintf("invalid url: %s", cfg.BaseURL), nil)
	}
	if cfg.VersionPrefix != "" && !strings.HasPrefix(cfg.VersionPrefix, "/") {
		return NewInvalidFieldError("api.version_prefix", "must start with /", nil)
	}
	if cfg.Timeout <= 0 {
		return NewInvalidFieldError("api.timeout", "must be positive", nil)
	}
	return nil
}

func validateRetry(cfg *RetryConfig) error {
	if cfg.MaxRetries < 0 || cfg.MaxRetries > maxRetriesCeiling {
		return NewInvalidFieldError("retry.max_retries", fmt.Sprintf("must be between 0 and %d", maxRetriesCeiling), nil)
	}
	if cfg.BaseDelay <= 0 {
		return NewInvalidFieldError("retry.base_delay", "must be positive", nil)
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		return NewInvalidFieldError("retry.max_delay", "must not be less than retry.base_delay", nil)
	}
	for _, code := range cfg.StatusCodes {
		if code < 100 || code > 599 {
			return NewInvalidFieldError("retry.status_codes", fmt.Sprintf("invalid http status: %d", code), nil)
		}
	}
	for _, code := range cfg.ErrorCodes {
		if !slices.Contains(knownErrorCodes, code) {
			return NewInvalidFieldError("retry.error_codes", fmt.Sprintf("unknown error code: %s", code), knownErrorCodes)
		}
	}
	return nil
}

func validateAuth(cfg *AuthConfig) error {
	if cfg.RefreshBuffer < 0 {
		return NewInvalidFieldError("auth.refresh_buffer", "cannot be negative", nil)
	}
	if cfg.DefaultLifetime <= 0 {
		return NewInvalidFieldError("auth.default_lifetime", "must be positive", nil)
	}
	if cfg.TokensKey == "" {
		return NewMissingFieldError("auth.tokens_key")
	}
	if cfg.UserKey == "" {
		return NewMissingFieldError("auth.user_key")
	}
	return nil
}

func validateStore(cfg *StoreConfig) error {
	switch cfg.Backend {
	case StoreMemory:
		return nil
	case StoreFile:
		if cfg.File.Dir == "" {
			return NewMissingFieldError("store.file.dir")
		}
		return nil
	case StoreRedis:
		return cfg.Redis.Validate()
	default:
		return NewInvalidFieldError("store.backend", fmt.Sprintf("unknown backend: %s", cfg.Backend),
			[]string{StoreMemory, StoreFile, StoreRedis})
	}
}

func validateLog(cfg *LogConfig) error {
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err != nil || cfg.Level == "" {
		return NewInvalidFieldError("log.level", fmt.Sprintf("invalid level: %s", cfg.Level),
			[]string{"trace", "debug", "info", "warn", "error", "fatal", "panic"})
	}
	return nil
}

func validateMock(cfg *MockConfig) error {
	if cfg.Secret == "" {
		return NewMissingFieldError("mock.secret")
	}
	if cfg.AccessTTL <= 0 {
		return NewInvalidFieldError("mock.access_ttl", "must be positive", nil)
	}
	if cfg.LoginRateLimit <= 0 || cfg.LoginBurst <= 0 {
		return NewInvalidFieldError("mock.login_rate_limit", "rate and burst must be positive", nil)
	}
	return nil
}
