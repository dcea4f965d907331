package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerProviderOption is a function that configures the tracer provider setup
type TracerProviderOption func(*tracerProviderConfig)

type tracerProviderConfig struct {
	service  Service
	tracing  *TracingConfig
	exporter sdktrace.SpanExporter
}

// WithTracerService sets the exported service identity and collector
func WithTracerService(svc Service) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.service = svc
	}
}

// WithTracingConfig sets the tracing configuration
func WithTracingConfig(tc *TracingConfig) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.tracing = tc
	}
}

// WithSpanExporter replaces the OTLP exporter, e.g. with an in-memory exporter in tests
func WithSpanExporter(exporter sdktrace.SpanExporter) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.exporter = exporter
	}
}

// NewTracerProvider builds the SDK tracer provider and installs it, together with
// W3C trace-context propagation, as the global provider. Sync passes, entry replays
// and remote calls become spans. Disabled or missing tracing config yields a no-op provider.
func NewTracerProvider(ctx context.Context, opts ...TracerProviderOption) (trace.TracerProvider, error) {
	cfg := &tracerProviderConfig{service: DefaultService()}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.tracing == nil || !cfg.tracing.Enabled {
		slog.Debug("Tracing disabled, spans are dropped")
		return noop.NewTracerProvider(), nil
	}

	svc := cfg.service.withDefaults()
	res, err := svc.resource(ctx)
	if err != nil {
		return nil, err
	}

	exporter := cfg.exporter
	if exporter == nil {
		if exporter, err = spanExporter(ctx, svc); err != nil {
			return nil, err
		}
	}

	sampling := cfg.tracing.GetSampling()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampling))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if svc.Insecure {
		slog.Warn("Spans are exported over plain HTTP", "endpoint", svc.Endpoint)
	}
	slog.Info("Tracing initialized", "endpoint", svc.Endpoint, "sampling_ratio", sampling)
	return tp, nil
}

func spanExporter(ctx context.Context, svc Service) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(svc.Endpoint)}
	if svc.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	return exporter, nil
}
