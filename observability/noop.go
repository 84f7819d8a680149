package observability

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// disabledProvider backs NewProvider when telemetry is off. It installs
// nothing globally, so the client's instruments stay on OpenTelemetry's
// default no-op providers.
type disabledProvider struct {
	tracers tracenoop.TracerProvider
	meters  metricnoop.MeterProvider
}

func newDisabledProvider() disabledProvider {
	return disabledProvider{
		tracers: tracenoop.NewTracerProvider(),
		meters:  metricnoop.NewMeterProvider(),
	}
}

func (d disabledProvider) TracerProvider() trace.TracerProvider { return d.tracers }

func (d disabledProvider) MeterProvider() metric.MeterProvider { return d.meters }

// Shutdown and ForceFlush have no exporter to drain.
func (disabledProvider) Shutdown(context.Context) error { return nil }

func (disabledProvider) ForceFlush(context.Context) error { return nil }
