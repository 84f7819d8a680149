// Package retry re-invokes remote operations with exponential backoff and
// jitter, classifying every failure through package apierror.
//
// The delay before retry n (0-based) is
//
//	min(BaseDelay*2^n + jitter, MaxDelay)
//
// where jitter is uniform in [0, 10% of BaseDelay*2^n]. An operation is
// attempted at most MaxRetries+1 times; non-retryable errors stop immediately.
package retry

import (
	"context"
	crand "crypto/rand"
	"errors"
	"math/big"
	"slices"
	"time"

	"github.com/gaborage/twinclient/apierror"
	"github.com/gaborage/twinclient/internal/tracking"
	"github.com/gaborage/twinclient/logger"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 10 * time.Second

	// maxExponent bounds 2^attempt so the multiplication cannot overflow
	maxExponent = 20
)

// Config is the retry policy. The engine keeps its own copy, so later changes
// to the caller's value never affect a running sequence.
type Config struct {
	MaxRetries       int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	RetryStatusCodes []int
	RetryErrorCodes  []string
}

// DefaultConfig returns the process-wide default policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       DefaultMaxRetries,
		BaseDelay:        DefaultBaseDelay,
		MaxDelay:         DefaultMaxDelay,
		RetryStatusCodes: slices.Clone(apierror.DefaultRetryStatusCodes),
		RetryErrorCodes:  slices.Clone(apierror.DefaultRetryErrorCodes),
	}
}

// Engine executes operations under a retry policy. It is safe for concurrent use.
type Engine struct {
	config     Config
	classifier *apierror.Classifier
	logger     logger.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	jitter     func(limit time.Duration) time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for attempt and exhaustion logs.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSleeper replaces the context-aware sleep between attempts.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithJitter replaces the jitter source. fn receives the inclusive upper bound.
func WithJitter(fn func(limit time.Duration) time.Duration) Option {
	return func(e *Engine) {
		if fn != nil {
			e.jitter = fn
		}
	}
}

// New creates an engine. Zero-valued delays and nil code slices fall back to
// the defaults.
func New(cfg Config, opts ...Option) *Engine {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.RetryStatusCodes == nil {
		cfg.RetryStatusCodes = apierror.DefaultRetryStatusCodes
	}
	if cfg.RetryErrorCodes == nil {
		cfg.RetryErrorCodes = apierror.DefaultRetryErrorCodes
	}
	cfg.RetryStatusCodes = slices.Clone(cfg.RetryStatusCodes)
	cfg.RetryErrorCodes = slices.Clone(cfg.RetryErrorCodes)

	e := &Engine{
		config:     cfg,
		classifier: apierror.NewClassifier(cfg.RetryStatusCodes, cfg.RetryErrorCodes),
		logger:     logger.Nop(),
		sleep:      sleepContext,
		jitter:     randomJitter,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns a copy of the engine's policy.
func (e *Engine) Config() Config {
	cfg := e.config
	cfg.RetryStatusCodes = slices.Clone(cfg.RetryStatusCodes)
	cfg.RetryErrorCodes = slices.Clone(cfg.RetryErrorCodes)
	return cfg
}

// Classifier returns the classifier built from the engine's retry sets.
func (e *Engine) Classifier() *apierror.Classifier {
	return e.classifier
}

// Delay returns the backoff before retry number attempt (0-based).
func (e *Engine) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxExponent {
		attempt = maxExponent
	}
	exp := e.config.BaseDelay * time.Duration(1<<attempt)
	if exp <= 0 || exp > e.config.MaxDelay {
		return e.config.MaxDelay
	}
	d := exp + e.jitter(exp/10)
	if d > e.config.MaxDelay {
		d = e.config.MaxDelay
	}
	return d
}

type callOptions struct {
	maxRetries *int
	validate   func() error
}

// CallOption customizes a single Do invocation.
type CallOption func(*callOptions)

// WithMaxRetries overrides the engine's retry ceiling for one call.
func WithMaxRetries(n int) CallOption {
	return func(o *callOptions) {
		if n < 0 {
			n = 0
		}
		o.maxRetries = &n
	}
}

// WithValidation runs fn before the first attempt; a non-nil result fails the
// call with a VALIDATION error and the operation is never invoked.
func WithValidation(fn func() error) CallOption {
	return func(o *callOptions) {
		o.validate = fn
	}
}

// Do runs op under the engine's policy. endpoint names the logical operation
// and is carried on every returned error.
func Do[T any](ctx context.Context, e *Engine, endpoint string, op func(ctx context.Context) (T, error), opts ...CallOption) (T, error) {
	var zero T

	o := callOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	maxRetries := e.config.MaxRetries
	if o.maxRetries != nil {
		maxRetries = *o.maxRetries
	}

	if o.validate != nil {
		if err := o.validate(); err != nil {
			e.logger.Debug().Str("endpoint", endpoint).Err(err).Msg("Request rejected by validation")
			return zero, apierror.NewValidation(endpoint, err)
		}
	}

	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			tracking.RecordRetryAttempt(ctx, endpoint, tracking.OutcomeSuccess, "")
			return result, nil
		}

		apiErr := e.classifier.Classify(err, endpoint)
		if !apiErr.Retryable || attempt >= maxRetries {
			tracking.RecordRetryAttempt(ctx, endpoint, tracking.OutcomeFailure, string(apiErr.Type))
			if apiErr.Retryable {
				tracking.RecordRetryExhausted(ctx, endpoint, string(apiErr.Type))
				e.logger.Warn().
					Str("endpoint", endpoint).
					Str("type", string(apiErr.Type)).
					Int("attempts", attempt+1).
					Err(err).
					Msg("Retries exhausted")
			}
			return zero, apiErr
		}

		delay := e.Delay(attempt)
		tracking.RecordRetryAttempt(ctx, endpoint, tracking.OutcomeRetry, string(apiErr.Type))
		e.logger.Debug().
			Str("endpoint", endpoint).
			Str("type", string(apiErr.Type)).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying request")

		if err := e.sleep(ctx, delay); err != nil {
			return zero, errors.Join(apiErr, err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// randomJitter returns a uniform duration in [0, limit].
func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := crand.Int(crand.Reader, big.NewInt(int64(limit)+1))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}
