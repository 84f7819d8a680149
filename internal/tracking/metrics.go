// Package tracking holds the OpenTelemetry instruments shared by the retry
// engine, the session manager, and the storage backends. Instruments are
// created lazily from the global MeterProvider on first use.
package tracking

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/gaborage/twinclient"

	metricRetryAttempts     = "twinclient.retry.attempts"
	metricRetryExhausted    = "twinclient.retry.exhausted"
	metricRefreshTotal      = "twinclient.auth.refresh"
	metricRefreshDuration   = "twinclient.auth.refresh.duration"
	metricStoreOperationDur = "twinclient.store.operation.duration"

	attrEndpoint   = "endpoint"
	attrOutcome    = "outcome"
	attrErrorType  = "error.type"
	attrStore      = "store.backend"
	attrStoreOp    = "store.operation"
	attrStoreError = "store.error"
)

// Outcome values attached to retry attempts and refreshes.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeFailure = "failure"
)

// Store operation names
const (
	OpGet    = "get"
	OpSet    = "set"
	OpDelete = "delete"
	OpHealth = "health"
)

var (
	meter         metric.Meter
	meterOnce     sync.Once
	meterInitMu   sync.Mutex
	metricsInited bool

	retryAttempts    metric.Int64Counter
	retryExhausted   metric.Int64Counter
	refreshTotal     metric.Int64Counter
	refreshDuration  metric.Float64Histogram
	storeOpsDuration metric.Float64Histogram
)

func logMetricError(metricName string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to initialize metric %s: %v\n", metricName, err)
	}
}

func initMeter() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	if meter != nil {
		return
	}

	meter = otel.Meter(meterName)

	var err error
	retryAttempts, err = meter.Int64Counter(
		metricRetryAttempts,
		metric.WithDescription("Attempts made by the retry engine"),
		metric.WithUnit("{attempt}"),
	)
	logMetricError(metricRetryAttempts, err)

	retryExhausted, err = meter.Int64Counter(
		metricRetryExhausted,
		metric.WithDescription("Operations that failed after the last permitted attempt"),
		metric.WithUnit("{operation}"),
	)
	logMetricError(metricRetryExhausted, err)

	refreshTotal, err = meter.Int64Counter(
		metricRefreshTotal,
		metric.WithDescription("Token refresh calls issued to the backend"),
		metric.WithUnit("{refresh}"),
	)
	logMetricError(metricRefreshTotal, err)

	refreshDuration, err = meter.Float64Histogram(
		metricRefreshDuration,
		metric.WithDescription("Duration of token refresh calls"),
		metric.WithUnit("s"),
	)
	logMetricError(metricRefreshDuration, err)

	storeOpsDuration, err = meter.Float64Histogram(
		metricStoreOperationDur,
		metric.WithDescription("Duration of session store operations"),
		metric.WithUnit("s"),
	)
	logMetricError(metricStoreOperationDur, err)

	metricsInited = true
}

func ensureInitialized() {
	meterOnce.Do(initMeter)
}

// RecordRetryAttempt counts one attempt of a retried operation. errorType is
// empty for successful attempts.
func RecordRetryAttempt(ctx context.Context, endpoint, outcome, errorType string) {
	ensureInitialized()
	if retryAttempts == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(attrEndpoint, endpoint),
		attribute.String(attrOutcome, outcome),
	}
	if errorType != "" {
		attrs = append(attrs, attribute.String(attrErrorType, errorType))
	}
	retryAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRetryExhausted counts an operation that ran out of attempts.
func RecordRetryExhausted(ctx context.Context, endpoint, errorType string) {
	ensureInitialized()
	if retryExhausted == nil {
		return
	}
	retryExhausted.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrEndpoint, endpoint),
		attribute.String(attrErrorType, errorType),
	))
}

// RecordRefresh records a token refresh call and its duration.
func RecordRefresh(ctx context.Context, duration time.Duration, err error) {
	ensureInitialized()
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	attrs := metric.WithAttributes(attribute.String(attrOutcome, outcome))
	if refreshTotal != nil {
		refreshTotal.Add(ctx, 1, attrs)
	}
	if refreshDuration != nil {
		refreshDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordStoreOperation records the duration of a session store operation.
func RecordStoreOperation(ctx context.Context, backend, operation string, duration time.Duration, err error) {
	ensureInitialized()
	if storeOpsDuration == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(attrStore, backend),
		attribute.String(attrStoreOp, operation),
		attribute.Bool(attrStoreError, err != nil),
	}
	storeOpsDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// IsInitialized returns true if the instruments have been created.
func IsInitialized() bool {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()
	return metricsInited
}

// ResetForTesting drops all instruments so the next call binds to the current
// global MeterProvider.
func ResetForTesting() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	meter = nil
	retryAttempts = nil
	retryExhausted = nil
	refreshTotal = nil
	refreshDuration = nil
	storeOpsDuration = nil
	metricsInited = false
	meterOnce = sync.Once{}
}
