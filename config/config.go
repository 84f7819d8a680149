// Package config loads the client configuration with koanf: built-in
// defaults, then an optional YAML file, then TWIN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultFile is read from the working directory when present.
	DefaultFile = "twinclient.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "TWIN_"
)

type loadOptions struct {
	file     string
	required bool
}

// LoadOption customizes Load.
type LoadOption func(*loadOptions)

// WithFile reads path instead of DefaultFile and fails when it is missing.
func WithFile(path string) LoadOption {
	return func(o *loadOptions) {
		if path != "" {
			o.file = path
			o.required = true
		}
	}
}

// Load builds the configuration. Priority, highest first:
// 1. TWIN_* environment variables
// 2. the YAML file
// 3. defaults
func Load(opts ...LoadOption) (*Config, error) {
	o := loadOptions{file: DefaultFile}
	for _, opt := range opts {
		opt(&o)
	}

	k := koanf.New(".")
	defs := defaults()
	if err := k.Load(confmap.Provider(defs, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if _, err := os.Stat(o.file); err == nil || o.required || !errors.Is(err, fs.ErrNotExist) {
		if err := k.Load(file.Provider(o.file), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", o.file, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envTransform(defs),
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// envTransform maps TWIN_API_BASE_URL to api.base_url. Known keys are
// resolved through the defaults so underscores inside a key survive; other
// variables split on every underscore. Comma-separated values become lists
// for list-valued keys.
func envTransform(defs map[string]any) func(string, string) (string, any) {
	known := make(map[string]string, len(defs))
	for key := range defs {
		known[EnvName(key)] = key
	}
	return func(name, value string) (string, any) {
		key, ok := known[name]
		if !ok {
			key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "_", ".")
		}
		switch defs[key].(type) {
		case []int, []string:
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return key, slices.DeleteFunc(parts, func(s string) bool { return s == "" })
		}
		return key, value
	}
}

func defaults() map[string]any {
	return map[string]any{
		"app.name":    "twinctl",
		"app.version": "v1.0.0",
		"app.env":     EnvDevelopment,

		"api.base_url":       "http://localhost:8000",
		"api.version_prefix": "/api/v1",
		"api.timeout":        "30s",
		"api.tracing":        false,

		"retry.max_retries":  3,
		"retry.base_delay":   "1s",
		"retry.max_delay":    "10s",
		"retry.status_codes": []int{429, 500, 502, 503, 504},
		"retry.error_codes":  []string{"ECONNRESET", "ECONNREFUSED", "EPIPE", "EAI_AGAIN", "ETIMEDOUT"},

		"auth.refresh_buffer":   "5m",
		"auth.default_lifetime": "1h",
		"auth.tokens_key":       "twin.auth.tokens",
		"auth.user_key":         "twin.auth.user",

		"store.backend":             StoreFile,
		"store.file.dir":            defaultStoreDir(),
		"store.redis.host":          "localhost",
		"store.redis.port":          6379,
		"store.redis.password":      "",
		"store.redis.database":      0,
		"store.redis.key_prefix":    "twin:",
		"store.redis.pool_size":     10,
		"store.redis.dial_timeout":  "5s",
		"store.redis.read_timeout":  "3s",
		"store.redis.write_timeout": "3s",

		"log.level":  "info",
		"log.pretty": false,

		"observability.enabled":          false,
		"observability.service.name":     "twinctl",
		"observability.environment":      EnvDevelopment,
		"observability.trace.endpoint":   "stdout",
		"observability.trace.protocol":   "http",
		"observability.trace.insecure":   false,
		"observability.metrics.endpoint": "",

		"mock.addr":             "127.0.0.1:8000",
		"mock.secret":           "twin-dev-secret",
		"mock.access_ttl":       "15m",
		"mock.login_rate_limit": 1.0,
		"mock.login_burst":      5,
	}
}

func defaultStoreDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".twinclient"
	}
	return filepath.Join(dir, "twinclient")
}
