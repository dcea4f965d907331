package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestNewMeterProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		opts       []MeterProviderOption
		expectNoOp bool
		wantErr    string
	}{
		{
			name:       "no config",
			expectNoOp: true,
		},
		{
			name:       "metrics disabled",
			opts:       []MeterProviderOption{WithMetricsConfig(&MetricsConfig{})},
			expectNoOp: true,
		},
		{
			name: "otlp push",
			opts: []MeterProviderOption{
				WithMetricsConfig(&MetricsConfig{Enabled: true}),
				WithMeterService(Service{Insecure: true}),
			},
		},
		{
			name: "prometheus only",
			opts: []MeterProviderOption{
				WithMetricsConfig(&MetricsConfig{Enabled: true, Prometheus: true, DisableOTLP: true}),
				WithPrometheusRegisterer(prometheus.NewRegistry()),
			},
		},
		{
			name: "no exporter",
			opts: []MeterProviderOption{
				WithMetricsConfig(&MetricsConfig{Enabled: true, DisableOTLP: true}),
			},
			wantErr: "disableOTLP requires prometheus",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			mp, err := NewMeterProvider(ctx, tt.opts...)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			if tt.expectNoOp {
				_, ok := mp.(noop.MeterProvider)
				assert.True(t, ok, "expected no-op meter provider")
				return
			}
			sdkMP, ok := mp.(*sdkmetric.MeterProvider)
			require.True(t, ok, "expected SDK meter provider")
			// No collector is running, so the final OTLP flush may fail
			_ = sdkMP.Shutdown(ctx)
		})
	}
}

func TestNewMeterProvider_PrometheusGathers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := prometheus.NewRegistry()

	mp, err := NewMeterProvider(ctx,
		WithMetricsConfig(&MetricsConfig{Enabled: true, Prometheus: true, DisableOTLP: true}),
		WithPrometheusRegisterer(registry))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mp.(*sdkmetric.MeterProvider).Shutdown(ctx) })

	metrics, err := NewSyncMetrics(mp)
	require.NoError(t, err)
	metrics.RecordPassDuration(ctx, "manual", 2*time.Second, true)

	families, err := registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "offline_sync_pass_duration_seconds")
}

func TestMeterProviderOptions(t *testing.T) {
	t.Parallel()

	cfg := &meterProviderConfig{}
	registry := prometheus.NewRegistry()
	for _, opt := range []MeterProviderOption{
		WithMeterService(Service{Name: "edge-node", Version: "2.0.0", Endpoint: "collector:4318", Insecure: true}),
		WithMeterInterval(time.Second),
		WithPrometheusRegisterer(registry),
	} {
		opt(cfg)
	}

	assert.Equal(t, Service{Name: "edge-node", Version: "2.0.0", Endpoint: "collector:4318", Insecure: true}, cfg.service)
	assert.Equal(t, time.Second, cfg.interval)
	assert.Same(t, registry, cfg.registerer)
}
