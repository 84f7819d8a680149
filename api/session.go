package api

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/gaborage/twinclient/auth"
	"github.com/gaborage/twinclient/cache"
	twinhttp "github.com/gaborage/twinclient/http"
	"github.com/gaborage/twinclient/logger"
	"github.com/gaborage/twinclient/mapper"
	"github.com/gaborage/twinclient/retry"
)

// SessionConfig describes a session-aware client.
type SessionConfig struct {
	BaseURL      string
	Timeout      time.Duration
	Tracing      bool
	// Retry is used as given; start from retry.DefaultConfig.
	Retry        retry.Config
	Store        cache.Store
	Logger       logger.Logger
	Mapper       *mapper.Mapper
	RoundTripper nethttp.RoundTripper
	AuthOptions  []auth.Option
}

// Session bundles the authenticated client with its session manager.
type Session struct {
	*Client
	Auth *auth.Manager
}

// Close stops background token refresh.
func (s *Session) Close() {
	s.Auth.Close()
}

// NewSession builds two transports over the same base URL: one without bearer
// authorization for the session calls themselves, and one that authorizes
// through the session manager and tears the session down on 401/403.
func NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.Store == nil {
		return nil, errors.New("api: session store is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	engine := retry.New(cfg.Retry, retry.WithLogger(log))
	common := []Option{WithRetry(engine), WithLogger(log), WithMapper(cfg.Mapper)}

	authTransport, err := cfg.transport(log, nil)
	if err != nil {
		return nil, err
	}
	backend := NewAuthBackend(New(authTransport, common...))

	authOpts := append([]auth.Option{auth.WithLogger(log)}, cfg.AuthOptions...)
	manager, err := auth.NewManager(ctx, cfg.Store, backend, authOpts...)
	if err != nil {
		return nil, fmt.Errorf("create session manager: %w", err)
	}

	apiTransport, err := cfg.transport(log, manager)
	if err != nil {
		manager.Close()
		return nil, err
	}
	client := New(apiTransport, append(common, WithUnauthorizedHandler(manager))...)

	return &Session{Client: client, Auth: manager}, nil
}

func (cfg SessionConfig) transport(log logger.Logger, src twinhttp.TokenSource) (twinhttp.Client, error) {
	b := twinhttp.NewBuilder(log).
		WithBaseURL(cfg.BaseURL).
		WithTracing(cfg.Tracing).
		WithDefaultHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		b = b.WithTimeout(cfg.Timeout)
	}
	if cfg.RoundTripper != nil {
		b = b.WithRoundTripper(cfg.RoundTripper)
	}
	if src != nil {
		b = b.WithTokenSource(src)
	}
	return b.Build()
}
