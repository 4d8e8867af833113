// Package otlp exports the spans and counters of reagent to an OpenTelemetry
// collector.
//
//	clean, err := otlp.Start(ctx, func(o *otlp.Options) { o.ServiceName = "weather-bot" })
//	if err != nil { ... }
//	defer clean()
//
// Endpoints default to OTEL_EXPORTER_OTLP_TRACES_ENDPOINT /
// OTEL_EXPORTER_OTLP_METRICS_ENDPOINT, then OTEL_EXPORTER_OTLP_ENDPOINT.
package otlp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"

	"github.com/hupe1980/reagent/telemetry"
)

// Protocol selects the OTLP transport.
type Protocol string

const (
	// ProtocolGRPC exports over gRPC (default port 4317).
	ProtocolGRPC Protocol = "grpc"
	// ProtocolHTTP exports protobuf over HTTP (default port 4318).
	ProtocolHTTP Protocol = "http/protobuf"
)

// Options configures Start.
type Options struct {
	Protocol Protocol
	// TracesEndpoint and MetricsEndpoint are host:port pairs without scheme.
	TracesEndpoint   string
	MetricsEndpoint  string
	Insecure         bool
	Headers          map[string]string
	Timeout          time.Duration
	DisableRetry     bool
	ServiceName      string
	ServiceVersion   string
	ServiceNamespace string
	// MetricInterval is the export period of the periodic reader.
	MetricInterval time.Duration
	// SetGlobal also installs the providers as the otel globals.
	SetGlobal bool
}

// Start installs OTLP backed tracer and meter providers. The returned
// function flushes and shuts both down.
func Start(ctx context.Context, optFns ...func(o *Options)) (clean func() error, err error) {
	opts := Options{
		Protocol:         ProtocolGRPC,
		ServiceName:      "reagent",
		ServiceVersion:   "v0.1.0",
		ServiceNamespace: "reagent",
		Insecure:         true,
		MetricInterval:   time.Minute,
		SetGlobal:        true,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.TracesEndpoint == "" {
		opts.TracesEndpoint = endpointFromEnv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", opts.Protocol)
	}
	if opts.MetricsEndpoint == "" {
		opts.MetricsEndpoint = endpointFromEnv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", opts.Protocol)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNamespace(opts.ServiceNamespace),
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceExporter, err := newTraceExporter(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	metricExporter, err := newMetricExporter(ctx, opts)
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(opts.MetricInterval))),
		sdkmetric.WithResource(res),
	)

	telemetry.SetTracerProvider(tracerProvider)
	telemetry.SetMeterProvider(meterProvider)
	if opts.SetGlobal {
		otel.SetTracerProvider(tracerProvider)
		otel.SetMeterProvider(meterProvider)
		otel.SetTextMapPropagator(propagation.TraceContext{})
	}

	return func() error {
		var err error
		if tracerErr := tracerProvider.Shutdown(ctx); tracerErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to shutdown TracerProvider: %w", tracerErr))
		}
		if meterErr := meterProvider.Shutdown(ctx); meterErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to shutdown MeterProvider: %w", meterErr))
		}
		return err
	}, nil
}

func endpointFromEnv(signalKey string, p Protocol) string {
	if endpoint := os.Getenv(signalKey); endpoint != "" {
		return endpoint
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if p == ProtocolHTTP {
		return "localhost:4318"
	}
	return "localhost:4317"
}

func newTraceExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	switch opts.Protocol {
	case ProtocolGRPC:
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.TracesEndpoint)}
		if opts.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		if len(opts.Headers) > 0 {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithHeaders(opts.Headers))
		}
		if opts.Timeout > 0 {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithTimeout(opts.Timeout))
		}
		if opts.DisableRetry {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{Enabled: false}))
		}
		return otlptracegrpc.New(ctx, grpcOpts...)
	case ProtocolHTTP:
		httpOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(opts.TracesEndpoint)}
		if opts.Insecure {
			httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
		}
		if len(opts.Headers) > 0 {
			httpOpts = append(httpOpts, otlptracehttp.WithHeaders(opts.Headers))
		}
		if opts.Timeout > 0 {
			httpOpts = append(httpOpts, otlptracehttp.WithTimeout(opts.Timeout))
		}
		if opts.DisableRetry {
			httpOpts = append(httpOpts, otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}))
		}
		return otlptracehttp.New(ctx, httpOpts...)
	default:
		return nil, fmt.Errorf("unsupported protocol %q", opts.Protocol)
	}
}

func newMetricExporter(ctx context.Context, opts Options) (sdkmetric.Exporter, error) {
	switch opts.Protocol {
	case ProtocolGRPC:
		grpcOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(opts.MetricsEndpoint)}
		if opts.Insecure {
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithInsecure())
		}
		if len(opts.Headers) > 0 {
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithHeaders(opts.Headers))
		}
		if opts.Timeout > 0 {
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithTimeout(opts.Timeout))
		}
		if opts.DisableRetry {
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithRetry(otlpmetricgrpc.RetryConfig{Enabled: false}))
		}
		return otlpmetricgrpc.New(ctx, grpcOpts...)
	case ProtocolHTTP:
		httpOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(opts.MetricsEndpoint)}
		if opts.Insecure {
			httpOpts = append(httpOpts, otlpmetrichttp.WithInsecure())
		}
		if len(opts.Headers) > 0 {
			httpOpts = append(httpOpts, otlpmetrichttp.WithHeaders(opts.Headers))
		}
		if opts.Timeout > 0 {
			httpOpts = append(httpOpts, otlpmetrichttp.WithTimeout(opts.Timeout))
		}
		if opts.DisableRetry {
			httpOpts = append(httpOpts, otlpmetrichttp.WithRetry(otlpmetrichttp.RetryConfig{Enabled: false}))
		}
		return otlpmetrichttp.New(ctx, httpOpts...)
	default:
		return nil, fmt.Errorf("unsupported protocol %q", opts.Protocol)
	}
}
