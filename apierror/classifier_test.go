package apierror

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	twinhttp "github.com/gaborage/twinclient/http"
)

const testEndpoint = "patients.list"

func httpErr(status int, body string, headers nethttp.Header) error {
	return twinhttp.NewHTTPError("request failed", status, []byte(body), headers)
}

func TestClassifyStatusCodes(t *testing.T) {
	tests := []struct {
		status    int
		expected  Type
		retryable bool
	}{
		{401, TokenRevoked, false},
		{403, TokenRevoked, false},
		{404, NotFound, false},
		{429, RateLimit, true},
		{500, ServiceUnavailable, true},
		{501, ServiceUnavailable, false},
		{502, ServiceUnavailable, true},
		{503, ServiceUnavailable, true},
		{504, ServiceUnavailable, true},
		{400, BadRequest, false},
		{408, BadRequest, false},
		{422, BadRequest, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			got := Classify(httpErr(tt.status, "", nil), testEndpoint)
			require.NotNil(t, got)
			assert.Equal(t, tt.expected, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.status, got.StatusCode)
			assert.Equal(t, testEndpoint, got.Endpoint)
		})
	}
}

func TestAuthorizationNeverRetryableRateLimitAlwaysRetryable(t *testing.T) {
	classifiers := []*Classifier{
		NewClassifier(nil, nil),
		NewClassifier([]int{401, 403, 429}, nil),
		NewClassifier([]int{}, []string{}),
	}
	for _, c := range classifiers {
		assert.False(t, c.Classify(httpErr(401, "", nil), testEndpoint).Retryable)
		assert.False(t, c.Classify(httpErr(403, "", nil), testEndpoint).Retryable)
		assert.True(t, c.Classify(httpErr(429, "", nil), testEndpoint).Retryable)
	}
}

func TestClassifyRespectsConfiguredStatusSet(t *testing.T) {
	c := NewClassifier([]int{503}, nil)
	assert.True(t, c.Classify(httpErr(503, "", nil), testEndpoint).Retryable)
	assert.False(t, c.Classify(httpErr(500, "", nil), testEndpoint).Retryable)
}

func TestDefaultStatusSetHoldsOnlyHonoredCodes(t *testing.T) {
	c := NewClassifier(nil, nil)
	for _, status := range DefaultRetryStatusCodes {
		assert.True(t, c.Classify(httpErr(status, "", nil), testEndpoint).Retryable, "status %d", status)
	}

	got := NewClassifier([]int{408, 503}, nil).Classify(httpErr(408, "", nil), testEndpoint)
	assert.Equal(t, BadRequest, got.Type)
	assert.False(t, got.Retryable)
}

func TestClassifyExtractsServerMessage(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"envelope", `{"error":{"code":"INVALID","message":"age must be positive"}}`, "age must be positive"},
		{"flat message", `{"message":"patient archived"}`, "patient archived"},
		{"detail", `{"detail":"text too long"}`, "text too long"},
		{"error string", `{"error":"invalid_grant"}`, "invalid_grant"},
		{"no message", `{"status":"bad"}`, DefaultMessage(BadRequest)},
		{"not json", `<html>bad gateway</html>`, DefaultMessage(BadRequest)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(httpErr(400, tt.body, nil), testEndpoint)
			assert.Equal(t, tt.expected, got.Message)
		})
	}
}

func TestClassifyRequestIDAndDetails(t *testing.T) {
	headers := nethttp.Header{}
	headers.Set("X-Request-ID", "hdr-1")

	got := Classify(httpErr(400, `{"error":{"message":"bad","details":{"field":"age"}},"meta":{"request_id":"body-1"}}`, headers), testEndpoint)
	assert.Equal(t, "hdr-1", got.RequestID)
	assert.Equal(t, map[string]any{"field": "age"}, got.Details)

	got = Classify(httpErr(500, `{"meta":{"request_id":"body-1"}}`, nil), testEndpoint)
	assert.Equal(t, "body-1", got.RequestID)

	got = Classify(httpErr(500, `{"requestId":"camel-1"}`, nil), testEndpoint)
	assert.Equal(t, "camel-1", got.RequestID)
}

func TestClassifyNoResponse(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		expected  Type
		retryable bool
	}{
		{"refused", twinhttp.NewNetworkErrorWithCode("dial", twinhttp.CodeConnRefused, nil), Network, true},
		{"reset", twinhttp.NewNetworkErrorWithCode("read", twinhttp.CodeConnReset, nil), Network, true},
		{"dns not found", twinhttp.NewNetworkErrorWithCode("dns", twinhttp.CodeNotFound, nil), Network, false},
		{"host unreachable", twinhttp.NewNetworkErrorWithCode("dial", twinhttp.CodeHostUnreach, nil), Network, false},
		{"aborted", twinhttp.NewNetworkErrorWithCode("dial", twinhttp.CodeConnAborted, nil), Timeout, true},
		{"transport timeout", twinhttp.NewTimeoutError("slow", time.Second, nil), Timeout, true},
		{"raw deadline", context.DeadlineExceeded, Timeout, true},
		{"canceled", twinhttp.NewNetworkError("request execution failed", context.Canceled), Unexpected, false},
		{"unknown code", twinhttp.NewNetworkError("tls", errors.New("bad cert")), Unexpected, false},
		{"plain", errors.New("boom"), Unexpected, false},
		{"interceptor", twinhttp.NewInterceptorError("x", "request", errors.New("y")), Unexpected, false},
		{"transport validation", twinhttp.NewValidationError("URL cannot be empty", "url"), Validation, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, testEndpoint)
			assert.Equal(t, tt.expected, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Zero(t, got.StatusCode)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyNetworkHonorsConfiguredCodes(t *testing.T) {
	c := NewClassifier(nil, []string{twinhttp.CodeNotFound})
	assert.True(t, c.Classify(twinhttp.NewNetworkErrorWithCode("dns", twinhttp.CodeNotFound, nil), testEndpoint).Retryable)
	assert.False(t, c.Classify(twinhttp.NewNetworkErrorWithCode("dial", twinhttp.CodeConnRefused, nil), testEndpoint).Retryable)
}

func TestClassifyIsIdempotent(t *testing.T) {
	first := Classify(httpErr(503, "", nil), "a")
	second := Classify(first, "b")
	assert.Same(t, first, second)

	wrapped := fmt.Errorf("outer: %w", first)
	assert.Same(t, first, Classify(wrapped, "c"))
	assert.Nil(t, Classify(nil, "d"))
}

func TestHelpers(t *testing.T) {
	err := fmt.Errorf("calling: %w", Classify(httpErr(429, "", nil), testEndpoint))

	assert.True(t, IsType(err, RateLimit))
	assert.False(t, IsType(err, Timeout))
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(errors.New("plain")))

	apiErr, ok := As(err)
	require.True(t, ok)
	assert.Contains(t, apiErr.Error(), "RATE_LIMIT [patients.list] (status 429)")

	v := NewValidation("ml.process_text", errors.New("text is required"))
	assert.Equal(t, "text is required", v.Message)
	assert.False(t, v.Retryable)
	assert.Equal(t, DefaultMessage(Unexpected), DefaultMessage(Type("OTHER")))
}
