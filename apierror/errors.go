// Package apierror defines the error taxonomy surfaced by the API client and
// the classifier that maps transport failures onto it.
package apierror

import (
	"errors"
	"fmt"
)

// Type is the closed set of error kinds a caller can observe.
type Type string

const (
	Validation         Type = "VALIDATION"
	TokenRevoked       Type = "TOKEN_REVOKED"
	RateLimit          Type = "RATE_LIMIT"
	ServiceUnavailable Type = "SERVICE_UNAVAILABLE"
	NotFound           Type = "NOT_FOUND"
	BadRequest         Type = "BAD_REQUEST"
	Unexpected         Type = "UNEXPECTED"
	Network            Type = "NETWORK"
	Timeout            Type = "TIMEOUT"
)

var defaultMessages = map[Type]string{
	Validation:         "Invalid request parameters",
	TokenRevoked:       "Authentication required",
	RateLimit:          "Too many requests, please try again later",
	ServiceUnavailable: "Service temporarily unavailable",
	NotFound:           "Resource not found",
	BadRequest:         "Invalid request",
	Unexpected:         "An unexpected error occurred",
	Network:            "Network error, please check your connection",
	Timeout:            "Request timed out",
}

// Error is a classified failure of a remote call. It is never persisted.
type Error struct {
	Message    string
	Type       Type
	Endpoint   string
	StatusCode int
	RequestID  string
	Retryable  bool
	Details    any

	cause error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s [%s]", e.Type, e.Endpoint)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.RequestID != "" {
		msg += fmt.Sprintf(" (request %s)", e.RequestID)
	}
	return msg + ": " + e.Message
}

// Unwrap exposes the transport error the classification was derived from.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a classified error with the default message for t.
func New(t Type, endpoint string, retryable bool, cause error) *Error {
	return &Error{
		Message:   DefaultMessage(t),
		Type:      t,
		Endpoint:  endpoint,
		Retryable: retryable,
		cause:     cause,
	}
}

// NewValidation creates a non-retryable VALIDATION error.
func NewValidation(endpoint string, cause error) *Error {
	e := New(Validation, endpoint, false, cause)
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// DefaultMessage returns the generic user-facing text for t.
func DefaultMessage(t Type) string {
	if msg, ok := defaultMessages[t]; ok {
		return msg
	}
	return defaultMessages[Unexpected]
}

// As returns the classified error in err's chain, if any.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsType reports whether err carries a classified error of type t.
func IsType(err error, t Type) bool {
	apiErr, ok := As(err)
	return ok && apiErr.Type == t
}

// IsRetryable reports whether err carries a classified, retryable error.
func IsRetryable(err error) bool {
	apiErr, ok := As(err)
	return ok && apiErr.Retryable
}
