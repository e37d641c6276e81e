// Package telemetry wires OpenTelemetry tracing and metrics into bdimport.
//
// Telemetry is off unless Settings.Enabled is set (telemetry.enabled in the
// config file or BDIMPORT_TELEMETRY_ENABLED). While off, no-op providers are
// installed and WrapStore returns stores unchanged.
//
// Spans go to stdout when Settings.Stdout is set. Metrics go to stdout as
// well, and to an OTLP/HTTP collector when Settings.Endpoint names one.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/steveyegge/bdimport"

// Export intervals for periodic metric readers.
const (
	stdoutInterval = 15 * time.Second
	otlpInterval   = 30 * time.Second
)

// Settings selects what Init installs.
type Settings struct {
	ServiceName string
	Version     string
	Enabled     bool
	Stdout      bool   // pretty-print spans and metrics
	Endpoint    string // OTLP/HTTP metrics endpoint, host:port
}

var (
	mu        sync.Mutex
	enabled   bool
	shutdowns []func(context.Context) error
)

// Enabled reports whether the last Init installed real providers.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Init installs global tracer and meter providers for s.
func Init(ctx context.Context, s Settings) error {
	mu.Lock()
	defer mu.Unlock()
	enabled = s.Enabled
	if !s.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(s.ServiceName),
			semconv.ServiceVersionKey.String(s.Version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if s.Stdout {
		spans, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("telemetry: stdout spans: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spans))
		metrics, err := stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("telemetry: stdout metrics: %w", err)
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(stdoutInterval))))
	}
	if s.Endpoint != "" {
		exp, err := newOTLPMetricExporter(ctx, s.Endpoint)
		if err != nil {
			return fmt.Errorf("telemetry: otlp metrics: %w", err)
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(otlpInterval))))
	}

	tp := sdktrace.NewTracerProvider(traceOpts...)
	mp := sdkmetric.NewMeterProvider(metricOpts...)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	shutdowns = append(shutdowns, tp.Shutdown, mp.Shutdown)
	return nil
}

// Tracer returns a tracer for the named instrumentation scope.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a meter for the named instrumentation scope.
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes and stops the installed providers.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	fns := shutdowns
	shutdowns = nil
	enabled = false
	mu.Unlock()

	var errs []error
	for _, fn := range fns {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}
