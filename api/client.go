// Package api is the dashboard's typed client for the clinical backend. Every
// call is mapped to the versioned backend route, retried under the configured
// policy, unwrapped from the response envelope, and decoded into Go types.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"

	"github.com/go-playground/validator/v10"

	"github.com/gaborage/twinclient/apierror"
	"github.com/gaborage/twinclient/auth"
	twinhttp "github.com/gaborage/twinclient/http"
	"github.com/gaborage/twinclient/logger"
	"github.com/gaborage/twinclient/mapper"
	"github.com/gaborage/twinclient/retry"
)

// UnauthorizedHandler is told when the server rejects an authenticated call.
// *auth.Manager implements it.
type UnauthorizedHandler interface {
	HandleUnauthorized(ctx context.Context)
}

// Client issues mapped, retried requests over a transport.
type Client struct {
	transport      twinhttp.Client
	engine         *retry.Engine
	mapper         *mapper.Mapper
	logger         logger.Logger
	validate       *validator.Validate
	onUnauthorized UnauthorizedHandler
}

// Option configures a Client.
type Option func(*Client)

// WithRetry sets the retry engine. The default uses retry.DefaultConfig.
func WithRetry(e *retry.Engine) Option {
	return func(c *Client) {
		if e != nil {
			c.engine = e
		}
	}
}

// WithMapper sets the path and payload mapper.
func WithMapper(m *mapper.Mapper) Option {
	return func(c *Client) {
		if m != nil {
			c.mapper = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithUnauthorizedHandler registers h for TOKEN_REVOKED outcomes.
func WithUnauthorizedHandler(h UnauthorizedHandler) Option {
	return func(c *Client) {
		c.onUnauthorized = h
	}
}

// New creates a Client over transport.
func New(transport twinhttp.Client, opts ...Option) *Client {
	c := &Client{
		transport: transport,
		mapper:    mapper.New(),
		logger:    logger.Nop(),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.engine == nil {
		c.engine = retry.New(retry.DefaultConfig(), retry.WithLogger(c.logger))
	}
	return c
}

type requestOptions struct {
	endpoint  string
	anonymous bool
	headers   map[string]string
	query     url.Values
	call      []retry.CallOption
}

// RequestOption customizes a single Request.
type RequestOption func(*requestOptions)

// Endpoint sets the logical endpoint name carried by errors and metrics. The
// default is the frontend path.
func Endpoint(name string) RequestOption {
	return func(o *requestOptions) { o.endpoint = name }
}

// Anonymous sends the request without bearer authorization.
func Anonymous() RequestOption {
	return func(o *requestOptions) { o.anonymous = true }
}

// Header adds a request header.
func Header(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

// Query adds URL query parameters.
func Query(values url.Values) RequestOption {
	return func(o *requestOptions) { o.query = values }
}

// MaxRetries overrides the retry ceiling for this request.
func MaxRetries(n int) RequestOption {
	return func(o *requestOptions) { o.call = append(o.call, retry.WithMaxRetries(n)) }
}

// Validate runs fn before any network attempt.
func Validate(fn func() error) RequestOption {
	return func(o *requestOptions) { o.call = append(o.call, retry.WithValidation(fn)) }
}

// Request sends in (JSON-encoded, nil for no body) to the backend route for
// path and decodes the unwrapped response data into out when out is non-nil.
// The returned envelope carries the camelCased data and meta.
func (c *Client) Request(ctx context.Context, method, path string, in, out any, opts ...RequestOption) (*mapper.Envelope, error) {
	o := requestOptions{endpoint: path}
	for _, opt := range opts {
		opt(&o)
	}

	body, err := c.encode(in)
	if err != nil {
		return nil, apierror.NewValidation(o.endpoint, err)
	}

	target := c.mapper.Path(path)
	if len(o.query) > 0 {
		target += "?" + o.query.Encode()
	}

	env, err := retry.Do(ctx, c.engine, o.endpoint, func(ctx context.Context) (mapper.Envelope, error) {
		resp, err := c.transport.Do(ctx, method, &twinhttp.Request{
			URL:       target,
			Headers:   o.headers,
			Body:      body,
			Anonymous: o.anonymous,
		})
		if err != nil {
			return mapper.Envelope{}, c.sessionError(o.endpoint, err)
		}
		return mapper.Unwrap(resp.StatusCode, resp.Headers, resp.Body), nil
	}, o.call...)
	if err != nil {
		if !o.anonymous && c.onUnauthorized != nil && apierror.IsType(err, apierror.TokenRevoked) {
			c.onUnauthorized.HandleUnauthorized(ctx)
		}
		return nil, err
	}

	if err := c.normalize(&env); err != nil {
		return nil, apierror.New(apierror.Unexpected, o.endpoint, false, err)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, apierror.New(apierror.Unexpected, o.endpoint, false, err)
		}
	}
	return &env, nil
}

// sessionError turns a missing or expired session reported by the bearer
// interceptor into a terminal TOKEN_REVOKED error.
func (c *Client) sessionError(endpoint string, err error) error {
	if errors.Is(err, auth.ErrNoTokens) || errors.Is(err, auth.ErrSessionExpired) {
		apiErr := apierror.New(apierror.TokenRevoked, endpoint, false, err)
		apiErr.Message = auth.MsgSessionExpired
		return apiErr
	}
	return err
}

func (c *Client) encode(in any) ([]byte, error) {
	if in == nil {
		return nil, nil
	}
	var raw []byte
	switch v := in.(type) {
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return c.mapper.Request(raw)
}

// normalize camelCases data and meta. Non-JSON bodies are left untouched.
func (c *Client) normalize(env *mapper.Envelope) error {
	if len(env.Data) > 0 && json.Valid(env.Data) {
		data, err := c.mapper.Response(env.Data)
		if err != nil {
			return err
		}
		env.Data = data
	}
	if len(env.Meta) > 0 {
		meta, err := c.mapper.Response(env.Meta)
		if err != nil {
			return err
		}
		env.Meta = meta
	}
	return nil
}

// validateStruct is the validation hook for typed endpoints.
func (c *Client) validateStruct(v any) func() error {
	return func() error {
		return c.validate.Struct(v)
	}
}
