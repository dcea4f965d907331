// Package telemetry provides OpenTelemetry instrumentation for the offline sync engine.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/stacklok/offline-sync/sync"

	// ConnectivityMetricsMeterName is the name used for the connectivity metrics meter
	ConnectivityMetricsMeterName = "github.com/stacklok/offline-sync/connectivity"
)

// SyncMetrics holds the OpenTelemetry instruments for sync pass metrics
type SyncMetrics struct {
	passDuration     metric.Float64Histogram
	entriesProcessed metric.Int64Counter
	conflicts        metric.Int64Counter
	queueEntries     metric.Int64Gauge
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	passDuration, err := meter.Float64Histogram(
		"offline_sync_pass_duration_seconds",
		metric.WithDescription("Duration of sync passes in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, err
	}

	entriesProcessed, err := meter.Int64Counter(
		"offline_sync_entries_processed_total",
		metric.WithDescription("Number of queue entries replayed, by outcome"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	conflicts, err := meter.Int64Counter(
		"offline_sync_conflicts_total",
		metric.WithDescription("Number of detected conflicts, by type and resolution"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		return nil, err
	}

	queueEntries, err := meter.Int64Gauge(
		"offline_sync_queue_entries",
		metric.WithDescription("Number of queue entries in each status"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		passDuration:     passDuration,
		entriesProcessed: entriesProcessed,
		conflicts:        conflicts,
		queueEntries:     queueEntries,
	}, nil
}

// RecordPassDuration records the duration of one sync pass
func (m *SyncMetrics) RecordPassDuration(ctx context.Context, syncType string, duration time.Duration, success bool) {
	if m == nil || m.passDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("sync_type", syncType),
		attribute.Bool("success", success),
	}

	m.passDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordEntryProcessed counts one replayed entry. outcome is "completed" or "failed".
func (m *SyncMetrics) RecordEntryProcessed(ctx context.Context, entityType, operation, outcome string) {
	if m == nil || m.entriesProcessed == nil {
		return
	}

	m.entriesProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity_type", entityType),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

// RecordConflict counts one conflict. resolution is the applied strategy or "pending".
func (m *SyncMetrics) RecordConflict(ctx context.Context, conflictType, resolution string) {
	if m == nil || m.conflicts == nil {
		return
	}

	m.conflicts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("conflict_type", conflictType),
		attribute.String("resolution", resolution),
	))
}

// RecordQueueEntries records the number of entries currently in a status
func (m *SyncMetrics) RecordQueueEntries(ctx context.Context, status string, count int64) {
	if m == nil || m.queueEntries == nil {
		return
	}

	m.queueEntries.Record(ctx, count, metric.WithAttributes(attribute.String("status", status)))
}

// ConnectivityMetrics holds the OpenTelemetry instruments for the connectivity monitor
type ConnectivityMetrics struct {
	online metric.Int64Gauge
}

// NewConnectivityMetrics creates a new ConnectivityMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewConnectivityMetrics(provider metric.MeterProvider) (*ConnectivityMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ConnectivityMetricsMeterName)

	online, err := meter.Int64Gauge(
		"offline_sync_connectivity_online",
		metric.WithDescription("1 when the remote is reachable, 0 otherwise"),
	)
	if err != nil {
		return nil, err
	}

	return &ConnectivityMetrics{online: online}, nil
}

// RecordOnline records the latest connectivity state
func (m *ConnectivityMetrics) RecordOnline(ctx context.Context, online bool) {
	if m == nil || m.online == nil {
		return
	}

	var v int64
	if online {
		v = 1
	}
	m.online.Record(ctx, v)
}
