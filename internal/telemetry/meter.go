package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	// DefaultMetricsInterval is the default interval for the OTLP push
	DefaultMetricsInterval = 60 * time.Second
)

// MeterProviderOption is a function that configures the meter provider setup
type MeterProviderOption func(*meterProviderConfig)

type meterProviderConfig struct {
	service    Service
	metrics    *MetricsConfig
	interval   time.Duration
	registerer prometheus.Registerer
}

// WithMeterService sets the exported service identity and collector
func WithMeterService(svc Service) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.service = svc
	}
}

// WithMetricsConfig sets the metrics configuration
func WithMetricsConfig(mc *MetricsConfig) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.metrics = mc
	}
}

// WithMeterInterval overrides the OTLP push interval
func WithMeterInterval(interval time.Duration) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.interval = interval
	}
}

// WithPrometheusRegisterer sets the registry the Prometheus reader registers with.
// prometheus.DefaultRegisterer is used when unset.
func WithPrometheusRegisterer(reg prometheus.Registerer) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.registerer = reg
	}
}

// NewMeterProvider builds the SDK meter provider with an OTLP push reader, a Prometheus
// pull reader, or both, and installs it as the global provider. Disabled or missing
// metrics config yields a no-op provider.
func NewMeterProvider(ctx context.Context, opts ...MeterProviderOption) (metric.MeterProvider, error) {
	cfg := &meterProviderConfig{
		service:  DefaultService(),
		interval: DefaultMetricsInterval,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.metrics == nil || !cfg.metrics.Enabled {
		slog.Debug("Metrics disabled, instruments are no-ops")
		return noop.NewMeterProvider(), nil
	}
	if err := cfg.metrics.Validate(); err != nil {
		return nil, err
	}

	cfg.service = cfg.service.withDefaults()
	res, err := cfg.service.resource(ctx)
	if err != nil {
		return nil, err
	}

	readers, err := cfg.readers(ctx)
	if err != nil {
		return nil, err
	}

	providerOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		providerOpts = append(providerOpts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(providerOpts...)
	otel.SetMeterProvider(mp)

	slog.Info("Metrics initialized",
		"otlp", !cfg.metrics.DisableOTLP,
		"endpoint", cfg.service.Endpoint,
		"prometheus", cfg.metrics.Prometheus,
	)
	return mp, nil
}

func (cfg *meterProviderConfig) readers(ctx context.Context) ([]sdkmetric.Reader, error) {
	var readers []sdkmetric.Reader

	if !cfg.metrics.DisableOTLP {
		exporter, err := metricExporter(ctx, cfg.service)
		if err != nil {
			return nil, err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.interval)))
	}

	if cfg.metrics.Prometheus {
		var promOpts []otelprom.Option
		if cfg.registerer != nil {
			promOpts = append(promOpts, otelprom.WithRegisterer(cfg.registerer))
		}
		exporter, err := otelprom.New(promOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		readers = append(readers, exporter)
	}

	if len(readers) == 0 {
		return nil, errors.New("no metrics reader configured")
	}
	return readers, nil
}

func metricExporter(ctx context.Context, svc Service) (sdkmetric.Exporter, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(svc.Endpoint)}
	if svc.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}
	return exporter, nil
}
