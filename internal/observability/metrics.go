// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
// The shutdown function should be called on application exit for graceful cleanup.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// StepMetrics records pipeline step outcomes.
type StepMetrics struct {
	steps    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewStepMetrics creates the step instruments on meter.
func NewStepMetrics(meter metric.Meter) (*StepMetrics, error) {
	steps, err := meter.Int64Counter("mlpipe_steps",
		metric.WithDescription("Pipeline steps completed, by entrypoint and status"))
	if err != nil {
		return nil, fmt.Errorf("failed to create steps counter: %w", err)
	}

	duration, err := meter.Float64Histogram("mlpipe_step_duration",
		metric.WithDescription("Wall time of a pipeline step from launch to completion"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create step duration histogram: %w", err)
	}

	return &StepMetrics{steps: steps, duration: duration}, nil
}

// Record adds one step outcome. A nil receiver records nothing.
func (m *StepMetrics) Record(ctx context.Context, entrypoint, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.steps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entrypoint", entrypoint),
		attribute.String("status", status),
	))
	m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("entrypoint", entrypoint),
	))
}
