package apierror

import (
	"context"
	"errors"
	"net"
	nethttp "net/http"
	"slices"

	"github.com/tidwall/gjson"

	twinhttp "github.com/gaborage/twinclient/http"
	"github.com/gaborage/twinclient/trace"
)

// DefaultRetryStatusCodes are the statuses considered transient. Only 5xx
// statuses consult the set; 429 is always retryable and other 4xx never are.
var DefaultRetryStatusCodes = []int{429, 500, 502, 503, 504}

// DefaultRetryErrorCodes are the network codes considered transient.
var DefaultRetryErrorCodes = []string{
	twinhttp.CodeConnReset,
	twinhttp.CodeConnRefused,
	twinhttp.CodeBrokenPipe,
	twinhttp.CodeTryAgain,
	twinhttp.CodeTimedOut,
}

var timeoutCodes = []string{twinhttp.CodeConnAborted, twinhttp.CodeTimedOut}

var networkCodes = []string{
	twinhttp.CodeConnRefused,
	twinhttp.CodeConnReset,
	twinhttp.CodeBrokenPipe,
	twinhttp.CodeNotFound,
	twinhttp.CodeHostUnreach,
	twinhttp.CodeNetUnreach,
	twinhttp.CodeTryAgain,
}

var (
	messagePaths   = []string{"error.message", "message", "detail", "error_description", "error"}
	requestIDPaths = []string{"meta.request_id", "request_id", "requestId"}
)

// Classifier maps transport failures onto Error values. The zero value is not
// usable; construct with NewClassifier.
type Classifier struct {
	retryStatusCodes map[int]struct{}
	retryErrorCodes  map[string]struct{}
}

// NewClassifier creates a classifier for the given retry sets. Nil slices
// select the defaults; empty slices disable retries for that family.
func NewClassifier(retryStatusCodes []int, retryErrorCodes []string) *Classifier {
	if retryStatusCodes == nil {
		retryStatusCodes = DefaultRetryStatusCodes
	}
	if retryErrorCodes == nil {
		retryErrorCodes = DefaultRetryErrorCodes
	}
	c := &Classifier{
		retryStatusCodes: make(map[int]struct{}, len(retryStatusCodes)),
		retryErrorCodes:  make(map[string]struct{}, len(retryErrorCodes)),
	}
	for _, code := range retryStatusCodes {
		c.retryStatusCodes[code] = struct{}{}
	}
	for _, code := range retryErrorCodes {
		c.retryErrorCodes[code] = struct{}{}
	}
	return c
}

var defaultClassifier = NewClassifier(nil, nil)

// Classify maps err using the default retry sets.
func Classify(err error, endpoint string) *Error {
	return defaultClassifier.Classify(err, endpoint)
}

// Classify maps err onto the taxonomy. A nil err yields nil and an already
// classified error is returned unchanged.
func (c *Classifier) Classify(err error, endpoint string) *Error {
	if err == nil {
		return nil
	}
	if apiErr, ok := As(err); ok {
		return apiErr
	}

	if status, body, headers, ok := twinhttp.HTTPErrorDetails(err); ok {
		return c.classifyStatus(err, endpoint, status, body, headers)
	}

	if twinhttp.IsErrorType(err, twinhttp.ValidationError) {
		return NewValidation(endpoint, err)
	}

	code := twinhttp.ErrorCode(err)
	if code == "" {
		code = twinhttp.NetworkCode(err)
	}

	if isTimeout(err, code) {
		return New(Timeout, endpoint, true, err)
	}
	if slices.Contains(networkCodes, code) {
		_, retryable := c.retryErrorCodes[code]
		return New(Network, endpoint, retryable, err)
	}
	return New(Unexpected, endpoint, false, err)
}

func (c *Classifier) classifyStatus(err error, endpoint string, status int, body []byte, headers nethttp.Header) *Error {
	var apiErr *Error
	switch {
	case status == nethttp.StatusUnauthorized || status == nethttp.StatusForbidden:
		apiErr = New(TokenRevoked, endpoint, false, err)
	case status == nethttp.StatusNotFound:
		apiErr = New(NotFound, endpoint, false, err)
	case status == nethttp.StatusTooManyRequests:
		apiErr = New(RateLimit, endpoint, true, err)
	case status >= 500:
		_, retryable := c.retryStatusCodes[status]
		apiErr = New(ServiceUnavailable, endpoint, retryable, err)
	case status >= 400:
		apiErr = New(BadRequest, endpoint, false, err)
	default:
		apiErr = New(Unexpected, endpoint, false, err)
	}
	apiErr.StatusCode = status

	if msg := extractMessage(body); msg != "" {
		apiErr.Message = msg
	}
	apiErr.RequestID = headers.Get(trace.HeaderXRequestID)
	if apiErr.RequestID == "" {
		apiErr.RequestID = firstString(body, requestIDPaths)
	}
	if details := gjson.GetBytes(body, "error.details"); details.Exists() {
		apiErr.Details = details.Value()
	}
	return apiErr
}

func isTimeout(err error, code string) bool {
	if twinhttp.IsErrorType(err, twinhttp.TimeoutError) || slices.Contains(timeoutCodes, code) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func extractMessage(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	return firstString(body, messagePaths)
}

func firstString(body []byte, paths []string) string {
	if len(body) == 0 {
		return ""
	}
	for _, path := range paths {
		if r := gjson.GetBytes(body, path); r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	return ""
}
