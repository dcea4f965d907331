package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectScope(t *testing.T, reader *sdkmetric.ManualReader, scopeName string) []metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name == scopeName {
			return scope.Metrics
		}
	}
	return nil
}

func findMetric(metrics []metricdata.Metrics, name string) (metricdata.Metrics, bool) {
	for _, m := range metrics {
		if m.Name == name {
			return m, true
		}
	}
	return metricdata.Metrics{}, false
}

func TestNewSyncMetrics(t *testing.T) {
	t.Parallel()

	t.Run("returns nil when provider is nil", func(t *testing.T) {
		t.Parallel()

		metrics, err := NewSyncMetrics(nil)
		require.NoError(t, err)
		assert.Nil(t, metrics)
	})

	t.Run("creates metrics with SDK provider", func(t *testing.T) {
		t.Parallel()

		mp := sdkmetric.NewMeterProvider()
		defer func() { _ = mp.Shutdown(context.Background()) }()

		metrics, err := NewSyncMetrics(mp)
		require.NoError(t, err)
		require.NotNil(t, metrics)
		assert.NotNil(t, metrics.passDuration)
		assert.NotNil(t, metrics.entriesProcessed)
		assert.NotNil(t, metrics.conflicts)
		assert.NotNil(t, metrics.queueEntries)
	})
}

func TestSyncMetrics_NilSafety(t *testing.T) {
	t.Parallel()

	var metrics *SyncMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		metrics.RecordPassDuration(ctx, "manual", time.Second, true)
		metrics.RecordEntryProcessed(ctx, "note", "create", "completed")
		metrics.RecordConflict(ctx, "data", "use_local")
		metrics.RecordQueueEntries(ctx, "pending", 3)
	})
}

func TestSyncMetrics_RecordPassDuration(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	metrics, err := NewSyncMetrics(mp)
	require.NoError(t, err)

	metrics.RecordPassDuration(context.Background(), "manual", 1500*time.Millisecond, true)

	m, ok := findMetric(collectScope(t, reader, SyncMetricsMeterName), "offline_sync_pass_duration_seconds")
	require.True(t, ok, "expected pass duration histogram")

	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "expected histogram data type")
	require.NotEmpty(t, hist.DataPoints)
	assert.InDelta(t, 1.5, hist.DataPoints[0].Sum, 0.001)
}

func TestSyncMetrics_Counters(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	metrics, err := NewSyncMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordEntryProcessed(ctx, "note", "create", "completed")
	metrics.RecordEntryProcessed(ctx, "note", "create", "completed")
	metrics.RecordConflict(ctx, "data", "merge")

	scope := collectScope(t, reader, SyncMetricsMeterName)

	processed, ok := findMetric(scope, "offline_sync_entries_processed_total")
	require.True(t, ok)
	sum, ok := processed.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum")
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)

	conflicts, ok := findMetric(scope, "offline_sync_conflicts_total")
	require.True(t, ok)
	sum, ok = conflicts.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
}

func TestConnectivityMetrics_RecordOnline(t *testing.T) {
	t.Parallel()

	t.Run("no-op when metrics is nil", func(t *testing.T) {
		t.Parallel()

		var metrics *ConnectivityMetrics
		assert.NotPanics(t, func() { metrics.RecordOnline(context.Background(), true) })
	})

	t.Run("records last state", func(t *testing.T) {
		t.Parallel()

		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() { _ = mp.Shutdown(context.Background()) }()

		metrics, err := NewConnectivityMetrics(mp)
		require.NoError(t, err)

		metrics.RecordOnline(context.Background(), true)
		metrics.RecordOnline(context.Background(), false)

		m, ok := findMetric(collectScope(t, reader, ConnectivityMetricsMeterName), "offline_sync_connectivity_online")
		require.True(t, ok)
		gauge, ok := m.Data.(metricdata.Gauge[int64])
		require.True(t, ok, "expected int64 gauge")
		require.Len(t, gauge.DataPoints, 1)
		assert.Equal(t, int64(0), gauge.DataPoints[0].Value)
	})
}
