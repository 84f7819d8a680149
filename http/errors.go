package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"syscall"
	"time"
)

// ClientError represents different types of transport errors
type ClientError interface {
	error
	Type() ErrorType
}

// ErrorType defines the category of client error
type ErrorType string

const (
	NetworkError     ErrorType = "network"
	TimeoutError     ErrorType = "timeout"
	HTTPError        ErrorType = "http"
	ValidationError  ErrorType = "validation"
	InterceptorError ErrorType = "interceptor"
)

// Normalized network error codes.
const (
	CodeConnRefused  = "ECONNREFUSED"
	CodeConnReset    = "ECONNRESET"
	CodeConnAborted  = "ECONNABORTED"
	CodeBrokenPipe   = "EPIPE"
	CodeTimedOut     = "ETIMEDOUT"
	CodeNotFound     = "ENOTFOUND"
	CodeTryAgain     = "EAI_AGAIN"
	CodeHostUnreach  = "EHOSTUNREACH"
	CodeNetUnreach   = "ENETUNREACH"
	CodeRequestAbort = "ERR_CANCELED"
)

var errnoCodes = []struct {
	errno syscall.Errno
	code  string
}{
	{syscall.ECONNREFUSED, CodeConnRefused},
	{syscall.ECONNRESET, CodeConnReset},
	{syscall.ECONNABORTED, CodeConnAborted},
	{syscall.EPIPE, CodeBrokenPipe},
	{syscall.ETIMEDOUT, CodeTimedOut},
	{syscall.EHOSTUNREACH, CodeHostUnreach},
	{syscall.ENETUNREACH, CodeNetUnreach},
}

// networkError represents failures where no response was received
type networkError struct {
	message string
	code    string
	wrapped error
}

func (e *networkError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("network error: %s: %v", e.message, e.wrapped)
	}
	return fmt.Sprintf("network error: %s", e.message)
}

func (e *networkError) Type() ErrorType {
	return NetworkError
}

func (e *networkError) Code() string {
	return e.code
}

func (e *networkError) Unwrap() error {
	return e.wrapped
}

// timeoutError represents timeout-related errors
type timeoutError struct {
	message string
	timeout time.Duration
	wrapped error
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("timeout error: %s (timeout: %v)", e.message, e.timeout)
}

func (e *timeoutError) Type() ErrorType {
	return TimeoutError
}

func (e *timeoutError) Code() string {
	return CodeTimedOut
}

func (e *timeoutError) Unwrap() error {
	return e.wrapped
}

// httpError represents a non-2xx response
type httpError struct {
	message    string
	statusCode int
	body       []byte
	headers    nethttp.Header
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP error: %s (status: %d)", e.message, e.statusCode)
}

func (e *httpError) Type() ErrorType {
	return HTTPError
}

func (e *httpError) StatusCode() int {
	return e.statusCode
}

func (e *httpError) Body() []byte {
	return e.body
}

func (e *httpError) Headers() nethttp.Header {
	return e.headers
}

// validationError represents request validation errors
type validationError struct {
	message string
	field   string
}

func (e *validationError) Error() string {
	if e.field != "" {
		return fmt.Sprintf("validation error: %s (field: %s)", e.message, e.field)
	}
	return fmt.Sprintf("validation error: %s", e.message)
}

func (e *validationError) Type() ErrorType {
	return ValidationError
}

// interceptorError represents interceptor-related errors
type interceptorError struct {
	message string
	wrapped error
	stage   string
}

func (e *interceptorError) Error() string {
	return fmt.Sprintf("interceptor error: %s (stage: %s): %v", e.message, e.stage, e.wrapped)
}

func (e *interceptorError) Type() ErrorType {
	return InterceptorError
}

func (e *interceptorError) Unwrap() error {
	return e.wrapped
}

// NewNetworkError creates a network error, deriving its code from wrapped.
func NewNetworkError(message string, wrapped error) ClientError {
	return &networkError{
		message: message,
		code:    NetworkCode(wrapped),
		wrapped: wrapped,
	}
}

// NewNetworkErrorWithCode creates a network error with an explicit code.
func NewNetworkErrorWithCode(message, code string, wrapped error) ClientError {
	return &networkError{
		message: message,
		code:    code,
		wrapped: wrapped,
	}
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, timeout time.Duration, wrapped error) ClientError {
	return &timeoutError{
		message: message,
		timeout: timeout,
		wrapped: wrapped,
	}
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(message string, statusCode int, body []byte, headers nethttp.Header) ClientError {
	return &httpError{
		message:    message,
		statusCode: statusCode,
		body:       body,
		headers:    headers,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message, field string) ClientError {
	return &validationError{
		message: message,
		field:   field,
	}
}

// NewInterceptorError creates a new interceptor error
func NewInterceptorError(message, stage string, wrapped error) ClientError {
	return &interceptorError{
		message: message,
		wrapped: wrapped,
		stage:   stage,
	}
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errorType ErrorType) bool {
	if err == nil {
		return false
	}
	var clientErr ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type() == errorType
	}
	return false
}

// IsHTTPStatusError checks if an error is an HTTP error with a specific status code
func IsHTTPStatusError(err error, statusCode int) bool {
	status, _, _, ok := HTTPErrorDetails(err)
	return ok && status == statusCode
}

// HTTPErrorDetails returns the status, body, and headers of an HTTP error.
func HTTPErrorDetails(err error) (status int, body []byte, headers nethttp.Header, ok bool) {
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		return httpErr.statusCode, httpErr.body, httpErr.headers, true
	}
	return 0, nil, nil, false
}

// ErrorCode returns the normalized network code carried by err, if any.
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return ""
}

// IsSuccessStatus checks if a status code represents success (2xx)
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// NetworkCode maps a Go network error onto an errno-style code. It returns ""
// when no code applies.
func NetworkCode(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return CodeRequestAbort
	}
	for _, ec := range errnoCodes {
		if errors.Is(err, ec.errno) {
			return ec.code
		}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return CodeNotFound
		}
		if dnsErr.IsTimeout || dnsErr.IsTemporary {
			return CodeTryAgain
		}
		return CodeNotFound
	}
	return ""
}
