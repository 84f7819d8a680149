package http

import (
	"context"
	nethttp "net/http"
	"time"
)

// Client defines the transport used by the API layer. Every call is a single
// attempt; retry policy lives in package retry.
type Client interface {
	Get(ctx context.Context, req *Request) (*Response, error)
	Post(ctx context.Context, req *Request) (*Response, error)
	Put(ctx context.Context, req *Request) (*Response, error)
	Patch(ctx context.Context, req *Request) (*Response, error)
	Delete(ctx context.Context, req *Request) (*Response, error)
	Do(ctx context.Context, method string, req *Request) (*Response, error)
}

// Request represents an outbound call. URL may be absolute or a path that is
// resolved against the configured base URL.
type Request struct {
	URL     string
	Headers map[string]string
	Body    []byte
	// Anonymous requests skip bearer authorization (login, refresh).
	Anonymous bool
}

// Response represents an HTTP response with tracking information
type Response struct {
	StatusCode int
	Body       []byte
	Headers    nethttp.Header
	RequestID  string
	Stats      Stats
}

// Stats contains request execution statistics
type Stats struct {
	ElapsedTime time.Duration
	CallCount   int64
}

// TokenSource supplies access tokens for bearer authorization.
type TokenSource interface {
	EnsureValidToken(ctx context.Context) (string, error)
}

// RequestInterceptor is called before sending the request
type RequestInterceptor func(ctx context.Context, req *nethttp.Request) error

// ResponseInterceptor is called after receiving the response
type ResponseInterceptor func(ctx context.Context, req *nethttp.Request, resp *nethttp.Response) error

// Config holds the transport configuration
type Config struct {
	BaseURL              string
	Timeout              time.Duration
	RequestInterceptors  []RequestInterceptor
	ResponseInterceptors []ResponseInterceptor
	DefaultHeaders       map[string]string
	Tracing              bool
}
