package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/gaborage/twinclient/logger"
	"github.com/gaborage/twinclient/trace"
)

const (
	// DefaultTimeout is the default request timeout duration
	DefaultTimeout = 30 * time.Second

	tracerName = "github.com/gaborage/twinclient/http"
)

type anonymousKey struct{}

// WithAnonymous marks ctx so that authorization interceptors skip the request.
func WithAnonymous(ctx context.Context) context.Context {
	return context.WithValue(ctx, anonymousKey{}, true)
}

// IsAnonymous reports whether ctx was marked by WithAnonymous.
func IsAnonymous(ctx context.Context) bool {
	v, _ := ctx.Value(anonymousKey{}).(bool)
	return v
}

// client implements the Client interface
type client struct {
	httpClient           *nethttp.Client
	logger               logger.Logger
	config               *Config
	baseURL              *url.URL
	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor
	callCount            int64
}

// Builder provides a fluent interface for configuring the transport
type Builder struct {
	config    *Config
	logger    logger.Logger
	transport nethttp.RoundTripper
}

// NewBuilder creates a new client builder
func NewBuilder(log logger.Logger) *Builder {
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{
		config: &Config{
			Timeout:              DefaultTimeout,
			RequestInterceptors:  []RequestInterceptor{},
			ResponseInterceptors: []ResponseInterceptor{},
			DefaultHeaders:       map[string]string{"Accept": "application/json"},
		},
		logger: log,
	}
}

// WithBaseURL sets the URL that relative request paths are resolved against
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.config.BaseURL = baseURL
	return b
}

// WithTimeout sets the request timeout
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.config.Timeout = timeout
	return b
}

// WithDefaultHeader adds a default header that will be sent with all requests
func (b *Builder) WithDefaultHeader(key, value string) *Builder {
	b.config.DefaultHeaders[key] = value
	return b
}

// WithRequestInterceptor adds a request interceptor
func (b *Builder) WithRequestInterceptor(interceptor RequestInterceptor) *Builder {
	b.config.RequestInterceptors = append(b.config.RequestInterceptors, interceptor)
	return b
}

// WithResponseInterceptor adds a response interceptor
func (b *Builder) WithResponseInterceptor(interceptor ResponseInterceptor) *Builder {
	b.config.ResponseInterceptors = append(b.config.ResponseInterceptors, interceptor)
	return b
}

// WithTokenSource installs bearer authorization backed by src
func (b *Builder) WithTokenSource(src TokenSource) *Builder {
	return b.WithRequestInterceptor(NewBearerInterceptor(src))
}

// WithTracing enables an OpenTelemetry client span per request
func (b *Builder) WithTracing(enabled bool) *Builder {
	b.config.Tracing = enabled
	return b
}

// WithRoundTripper overrides the underlying transport (tests, instrumentation)
func (b *Builder) WithRoundTripper(rt nethttp.RoundTripper) *Builder {
	b.transport = rt
	return b
}

// Build creates the client. It fails when the base URL cannot be parsed.
func (b *Builder) Build() (Client, error) {
	var base *url.URL
	if b.config.BaseURL != "" {
		parsed, err := url.Parse(strings.TrimRight(b.config.BaseURL, "/"))
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, NewValidationError(fmt.Sprintf("invalid base URL %q", b.config.BaseURL), "base_url")
		}
		base = parsed
	}
	return &client{
		httpClient: &nethttp.Client{
			Timeout:   b.config.Timeout,
			Transport: b.transport,
		},
		logger:               b.logger,
		config:               b.config,
		baseURL:              base,
		requestInterceptors:  b.config.RequestInterceptors,
		responseInterceptors: b.config.ResponseInterceptors,
	}, nil
}

// NewBearerInterceptor attaches "Authorization: Bearer <token>" from src.
// Requests marked anonymous are left untouched.
func NewBearerInterceptor(src TokenSource) RequestInterceptor {
	return func(ctx context.Context, req *nethttp.Request) error {
		if IsAnonymous(ctx) || req.Header.Get("Authorization") != "" {
			return nil
		}
		token, err := src.EnsureValidToken(ctx)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return nil
	}
}

// Get performs a GET request
func (c *client) Get(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodGet, req)
}

// Post performs a POST request
func (c *client) Post(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodPost, req)
}

// Put performs a PUT request
func (c *client) Put(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodPut, req)
}

// Patch performs a PATCH request
func (c *client) Patch(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodPatch, req)
}

// Delete performs a DELETE request
func (c *client) Delete(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodDelete, req)
}

// Do performs a single HTTP attempt with the specified method
func (c *client) Do(ctx context.Context, method string, req *Request) (*Response, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, err
	}
	target, err := c.resolveURL(req.URL)
	if err != nil {
		return nil, err
	}

	if req.Anonymous {
		ctx = WithAnonymous(ctx)
	}

	var span oteltrace.Span
	if c.config.Tracing {
		ctx, span = otel.Tracer(tracerName).Start(ctx, "HTTP "+method, oteltrace.WithSpanKind(oteltrace.SpanKindClient))
		span.SetAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", target),
		)
		defer span.End()
	}

	start := time.Now()
	callCount := atomic.AddInt64(&c.callCount, 1)

	httpReq, err := c.buildRequest(ctx, method, target, req)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	requestID := httpReq.Header.Get(trace.HeaderXRequestID)
	c.logRequest(method, target, requestID, req)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		clientErr := c.transportError(err)
		c.logger.Warn().
			Err(clientErr).
			Str("method", method).
			Str("url", target).
			Str("request_id", requestID).
			Str("code", ErrorCode(clientErr)).
			Msg("REST client request failed")
		recordSpanError(span, clientErr)
		return nil, clientErr
	}

	resp, err := c.buildResponse(ctx, start, callCount, requestID, httpReq, httpResp)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if span != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	}
	c.logResponse(resp)

	if IsSuccessStatus(resp.StatusCode) {
		return resp, nil
	}

	httpErr := NewHTTPError(
		fmt.Sprintf("HTTP request failed with status %d", resp.StatusCode),
		resp.StatusCode,
		resp.Body,
		resp.Headers,
	)
	recordSpanError(span, httpErr)
	return resp, httpErr
}

func (c *client) transportError(err error) ClientError {
	if c.isTimeout(err) {
		return NewTimeoutError("request timeout", c.config.Timeout, err)
	}
	return NewNetworkError("request execution failed", err)
}

// resolveURL joins a relative path onto the base URL; absolute URLs pass through.
func (c *client) resolveURL(raw string) (string, error) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw, nil
	}
	if c.baseURL == nil {
		return "", NewValidationError("relative URL requires a base URL", "url")
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return c.baseURL.String() + raw, nil
}

// validateRequest validates the request before sending
func (c *client) validateRequest(req *Request) error {
	if req == nil {
		return NewValidationError("request cannot be nil", "request")
	}
	if req.URL == "" {
		return NewValidationError("URL cannot be empty", "url")
	}
	return nil
}

// applyHeaders applies headers to the HTTP request
func (c *client) applyHeaders(ctx context.Context, httpReq *nethttp.Request, req *Request) {
	for key, value := range c.config.DefaultHeaders {
		httpReq.Header.Set(key, value)
	}

	// Request-specific headers override defaults
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	if httpReq.Header.Get("Content-Type") == "" && req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	trace.InjectHeaders(ctx, httpReq.Header)
	if c.config.Tracing {
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))
	}
}

// buildRequest constructs an *http.Request, applies headers, and runs request interceptors.
func (c *client) buildRequest(ctx context.Context, method, target string, req *Request) (*nethttp.Request, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("failed to create HTTP request: %v", err), "url")
	}

	c.applyHeaders(ctx, httpReq, req)

	if err := c.runRequestInterceptors(ctx, httpReq); err != nil {
		return nil, NewInterceptorError("request interceptor failed", "request", err)
	}
	return httpReq, nil
}

// buildResponse runs response interceptors, reads body, and builds a Response.
func (c *client) buildResponse(ctx context.Context, start time.Time, callCount int64, requestID string, httpReq *nethttp.Request, httpResp *nethttp.Response) (*Response, error) {
	defer httpResp.Body.Close()

	if err := c.runResponseInterceptors(ctx, httpReq, httpResp); err != nil {
		return nil, NewInterceptorError("response interceptor failed", "response", err)
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.transportError(err)
	}

	if id := httpResp.Header.Get(trace.HeaderXRequestID); id != "" {
		requestID = id
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       respBody,
		Headers:    httpResp.Header,
		RequestID:  requestID,
		Stats: Stats{
			ElapsedTime: time.Since(start),
			CallCount:   callCount,
		},
	}, nil
}

func (c *client) isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// runRequestInterceptors executes all request interceptors
func (c *client) runRequestInterceptors(ctx context.Context, req *nethttp.Request) error {
	for _, interceptor := range c.requestInterceptors {
		if err := interceptor(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// runResponseInterceptors executes all response interceptors
func (c *client) runResponseInterceptors(ctx context.Context, req *nethttp.Request, resp *nethttp.Response) error {
	for _, interceptor := range c.responseInterceptors {
		if err := interceptor(ctx, req, resp); err != nil {
			return err
		}
	}
	return nil
}

func recordSpanError(span oteltrace.Span, err error) {
	if span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// logRequest logs the outgoing request
func (c *client) logRequest(method, target, requestID string, req *Request) {
	logEvent := c.logger.Debug().
		Str("direction", "outbound").
		Str("method", method).
		Str("url", target).
		Str("request_id", requestID).
		Bool("anonymous", req.Anonymous)

	if len(req.Headers) > 0 {
		logEvent = logEvent.Interface("headers", req.Headers)
	}

	logEvent.Msg("REST client request")
}

// logResponse logs the incoming response
func (c *client) logResponse(resp *Response) {
	c.logger.Debug().
		Str("direction", "inbound").
		Int("status", resp.StatusCode).
		Str("request_id", resp.RequestID).
		Dur("elapsed", resp.Stats.ElapsedTime).
		Int64("call_count", resp.Stats.CallCount).
		Msg("REST client response")
}
