// Package telemetry wires OpenTelemetry into sprintsync.
//
// Nothing is exported unless SPRINTSYNC_OTEL_ENABLED=true; the global
// providers are then no-ops and instrumented code pays almost nothing.
//
//	SPRINTSYNC_OTEL_ENABLED=true          turn telemetry on
//	SPRINTSYNC_OTEL_STDOUT=true           also print metrics to stderr
//	OTEL_EXPORTER_OTLP_METRICS_ENDPOINT   OTLP/HTTP metrics endpoint
//	OTEL_EXPORTER_OTLP_ENDPOINT           fallback endpoint
//
// Spans always go to stderr when enabled; stdout belongs to --json output.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/sprintpulse/sprintsync"

const (
	stdoutMetricInterval = 15 * time.Second
	otlpMetricInterval   = 30 * time.Second
)

// settings is the environment, read once per Init.
type settings struct {
	enabled      bool
	stdoutMetric bool
	otlpEndpoint string
}

func settingsFromEnv() settings {
	s := settings{
		enabled:      os.Getenv("SPRINTSYNC_OTEL_ENABLED") == "true",
		stdoutMetric: os.Getenv("SPRINTSYNC_OTEL_STDOUT") == "true",
		otlpEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"),
	}
	if s.otlpEndpoint == "" {
		s.otlpEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	return s
}

var (
	// stopFns flush and stop the installed providers, in install order.
	stopFns []func(context.Context) error
	// sink receives the stdout exporters.
	sink io.Writer = os.Stderr
)

// Enabled reports whether SPRINTSYNC_OTEL_ENABLED=true.
func Enabled() bool {
	return settingsFromEnv().enabled
}

// Init installs the global tracer and meter providers. Disabled telemetry
// installs no-op providers.
func Init(ctx context.Context, serviceName, version string) error {
	cfg := settingsFromEnv()
	if !cfg.enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	spanExporter, err := stdouttrace.New(stdouttrace.WithWriter(sink), stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spanExporter),
	)
	otel.SetTracerProvider(tp)
	stopFns = append(stopFns, tp.Shutdown)

	readers, err := metricReaders(ctx, cfg)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	stopFns = append(stopFns, mp.Shutdown)
	return nil
}

// metricReaders returns one periodic reader per configured metric sink.
// With neither sink configured, instruments still record but export nothing.
func metricReaders(ctx context.Context, cfg settings) ([]sdkmetric.Reader, error) {
	var readers []sdkmetric.Reader
	if cfg.stdoutMetric {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(sink))
		if err != nil {
			return nil, fmt.Errorf("stdout metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(stdoutMetricInterval)))
	}
	if cfg.otlpEndpoint != "" {
		exp, err := buildOTLPMetricExporter(ctx, cfg.otlpEndpoint)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(otlpMetricInterval)))
	}
	return readers, nil
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes pending spans and metrics and stops the providers.
func Shutdown(ctx context.Context) error {
	var errs []error
	for _, stop := range stopFns {
		errs = append(errs, stop(ctx))
	}
	stopFns = nil
	return errors.Join(errs...)
}
