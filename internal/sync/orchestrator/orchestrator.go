// Package orchestrator schedules and runs sync passes: it owns the engine
// lifecycle, reacts to connectivity changes and keeps the sync history.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/offline-sync/internal/conflict"
	"github.com/stacklok/offline-sync/internal/connectivity"
	"github.com/stacklok/offline-sync/internal/events"
	"github.com/stacklok/offline-sync/internal/otel"
	"github.com/stacklok/offline-sync/internal/queue"
	"github.com/stacklok/offline-sync/internal/status"
	"github.com/stacklok/offline-sync/internal/store"
	pkgsync "github.com/stacklok/offline-sync/internal/sync"
)

// TracerName is the name used for the orchestrator tracer
const TracerName = "github.com/stacklok/offline-sync/orchestrator"

// Orchestrator drives sync passes and exposes the queue to callers
//
//go:generate mockgen -destination=mocks/mock_orchestrator.go -package=mocks -source=orchestrator.go Orchestrator
type Orchestrator interface {
	// Start resets interrupted entries, starts the connectivity monitor and the
	// scheduler, and runs one pass when online. Calling it again is a no-op.
	Start(ctx context.Context) error

	// Stop cancels the scheduler and in-flight passes and stops the monitor
	Stop() error

	// TriggerSync runs one pass and returns its result. It fails with
	// *sync.OfflineError or *sync.ConcurrencyLimitError without touching the queue.
	TriggerSync(ctx context.Context, syncType status.SyncType) (*status.SyncResult, error)

	// RetryFailedEntries requeues every retryable failed entry and runs a manual pass
	RetryFailedEntries(ctx context.Context) (*status.SyncResult, error)

	// EnqueueEntry validates and stores a new pending entry
	EnqueueEntry(
		ctx context.Context, op queue.Operation, entityType, entityID string, payload json.RawMessage,
	) (*queue.Entry, error)

	// RequeueEntry moves a failed entry back to pending, clearing a permanent failure
	RequeueEntry(ctx context.Context, id string) (*queue.Entry, error)

	GetQueueStats(ctx context.Context) (queue.Stats, error)
	GetFailedEntries(ctx context.Context) ([]*queue.Entry, error)
	ClearCompletedEntries(ctx context.Context, olderThanDays int) (int, error)

	// GetSyncHistory returns the most recent history records, newest first
	GetSyncHistory(ctx context.Context, limit int) ([]*status.SyncRecord, error)

	GetStatus(ctx context.Context) (*Status, error)

	// Subscribe registers fn for orchestrator events
	Subscribe(fn events.Listener[Event]) (unsubscribe func())
}

// Status is a point-in-time view of the engine
type Status struct {
	Running         bool                `json:"running"`
	AutoSync        bool                `json:"autoSync"`
	Connectivity    connectivity.Status `json:"connectivity"`
	OfflineDuration *time.Duration      `json:"offlineDuration,omitempty"`
	ActiveSyncs     int                 `json:"activeSyncs"`
	Queue           queue.Stats         `json:"queue"`
	LastResult      *status.SyncResult  `json:"lastResult,omitempty"`
}

// ConnectivityMonitor is the reachability signal the orchestrator depends on
type ConnectivityMonitor interface {
	Start(ctx context.Context)
	Stop()
	IsOnline() bool
	Status() connectivity.Status
	GetOfflineDuration() (time.Duration, bool)
	Subscribe(fn events.Listener[connectivity.Event]) (unsubscribe func())
}

// ConflictEvents publishes conflict resolutions
type ConflictEvents interface {
	Subscribe(fn events.Listener[conflict.Event]) (unsubscribe func())
}

// MetricsRecorder receives pass and queue observations
type MetricsRecorder interface {
	RecordPassDuration(ctx context.Context, syncType string, duration time.Duration, success bool)
	RecordQueueEntries(ctx context.Context, status string, count int64)
}

// DefaultOrchestrator is the default implementation of Orchestrator
type DefaultOrchestrator struct {
	store     store.Store
	processor pkgsync.Processor
	monitor   ConnectivityMonitor
	cfg       Config

	conflicts ConflictEvents
	metrics   MetricsRecorder
	tracer    trace.Tracer
	now       func() time.Time

	bus events.Bus[Event]

	mu          sync.Mutex
	running     bool
	activeSyncs int
	lastResult  *status.SyncResult
	runCtx      context.Context
	cancel      context.CancelFunc
	unsubscribe []func()
	wg          sync.WaitGroup
}

var _ Orchestrator = (*DefaultOrchestrator)(nil)

// Option configures the orchestrator
type Option func(*DefaultOrchestrator)

// WithConflictEvents requeues entries parked behind a conflict once an operator resolves it
func WithConflictEvents(source ConflictEvents) Option {
	return func(o *DefaultOrchestrator) {
		o.conflicts = source
	}
}

// WithMetrics records pass durations and queue gauges
func WithMetrics(m MetricsRecorder) Option {
	return func(o *DefaultOrchestrator) {
		o.metrics = m
	}
}

// WithTracer sets the OpenTelemetry tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(o *DefaultOrchestrator) {
		o.tracer = tracer
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *DefaultOrchestrator) {
		o.now = now
	}
}

// New creates a stopped orchestrator with injected dependencies
func New(
	st store.Store,
	processor pkgsync.Processor,
	monitor ConnectivityMonitor,
	cfg Config,
	opts ...Option,
) *DefaultOrchestrator {
	o := &DefaultOrchestrator{
		store:     st,
		processor: processor,
		monitor:   monitor,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Subscribe registers fn for orchestrator events
func (o *DefaultOrchestrator) Subscribe(fn events.Listener[Event]) (unsubscribe func()) {
	return o.bus.Subscribe(fn)
}

// Start brings the engine up
func (o *DefaultOrchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}

	// Entries left in processing belong to a run that never finished
	reset, err := o.store.ResetInterrupted(ctx)
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("failed to reset interrupted queue entries: %w", err)
	}
	if reset > 0 {
		slog.Warn("Previous sync was interrupted, entries returned to pending", "count", reset)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.running = true
	o.runCtx = runCtx
	o.cancel = cancel
	o.mu.Unlock()

	slog.Info("Starting sync orchestrator",
		"batch_size", o.cfg.BatchSize,
		"max_concurrent_syncs", o.cfg.MaxConcurrentSyncs,
		"sync_interval", o.cfg.SyncInterval,
		"auto_sync", o.cfg.AutoSync,
		"retention_days", o.cfg.RetentionDays)

	o.monitor.Start(runCtx)

	unsubs := []func(){o.monitor.Subscribe(o.onConnectivity)}
	if o.conflicts != nil {
		unsubs = append(unsubs, o.conflicts.Subscribe(o.onConflict))
	}

	o.mu.Lock()
	o.unsubscribe = unsubs
	o.wg.Add(1)
	o.mu.Unlock()
	go o.schedule(runCtx)

	o.bus.Publish(Event{Type: EventStarted, Timestamp: o.now().UTC()})

	if o.cfg.AutoSync && o.monitor.IsOnline() {
		o.goPass(status.SyncTypeAutomatic)
	}
	return nil
}

// Stop shuts the engine down and waits for background passes to finish
func (o *DefaultOrchestrator) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	cancel := o.cancel
	unsubs := o.unsubscribe
	o.unsubscribe = nil
	o.mu.Unlock()

	slog.Info("Stopping sync orchestrator")
	for _, unsub := range unsubs {
		unsub()
	}
	cancel()
	o.monitor.Stop()
	o.wg.Wait()

	o.bus.Publish(Event{Type: EventStopped, Timestamp: o.now().UTC()})
	slog.Info("Sync orchestrator stopped")
	return nil
}

// schedule runs automatic passes and the retention sweep until ctx is cancelled
func (o *DefaultOrchestrator) schedule(ctx context.Context) {
	defer o.wg.Done()

	syncTicker := time.NewTicker(o.cfg.SyncInterval)
	defer syncTicker.Stop()

	var sweep <-chan time.Time
	if o.cfg.RetentionDays > 0 {
		sweepTicker := time.NewTicker(o.cfg.CleanupInterval)
		defer sweepTicker.Stop()
		sweep = sweepTicker.C
	}

	for {
		select {
		case <-syncTicker.C:
			if o.cfg.AutoSync && o.monitor.IsOnline() {
				o.goPass(status.SyncTypeAutomatic)
			}
		case <-sweep:
			o.sweepRetention(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (o *DefaultOrchestrator) sweepRetention(ctx context.Context) {
	removed, err := o.store.ClearCompletedEntries(ctx, o.cfg.RetentionDays)
	if err != nil {
		slog.Error("Retention sweep failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("Removed expired completed entries",
			"count", removed,
			"retention_days", o.cfg.RetentionDays)
	}
}

// goPass runs a pass in the background while the orchestrator is running
func (o *DefaultOrchestrator) goPass(syncType status.SyncType) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	ctx := o.runCtx
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()

		_, err := o.TriggerSync(ctx, syncType)
		var offline *pkgsync.OfflineError
		var limit *pkgsync.ConcurrencyLimitError
		switch {
		case err == nil:
		case errors.As(err, &offline):
			slog.Debug("Skipping sync pass while offline", "type", syncType)
		case errors.As(err, &limit):
			slog.Debug("Skipping sync pass, too many passes running",
				"type", syncType, "active", limit.Active, "limit", limit.Limit)
		case ctx.Err() != nil:
			slog.Debug("Sync pass interrupted by shutdown", "type", syncType)
		default:
			slog.Error("Background sync pass failed", "type", syncType, "error", err)
		}
	}()
}

func (o *DefaultOrchestrator) onConnectivity(e connectivity.Event) {
	switch e.Type {
	case connectivity.EventOnline:
		if o.cfg.AutoSync {
			slog.Info("Connectivity restored, starting sync pass")
			o.goPass(status.SyncTypeConnectivityRestored)
		}
	case connectivity.EventOffline:
		slog.Info("Connectivity lost, sync paused")
		o.bus.Publish(Event{Type: EventSyncPaused, Timestamp: o.now().UTC()})
	case connectivity.EventStatusChanged:
	}
}

func (o *DefaultOrchestrator) onConflict(e conflict.Event) {
	if e.Type != conflict.EventConflictResolved || e.Record == nil || e.Record.ResolvedBy == conflict.ResolvedBySystem {
		return
	}

	o.mu.Lock()
	ctx := o.runCtx
	o.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := o.processor.ApplyResolution(ctx, e.Record); err != nil {
		slog.Error("Failed to release entry after conflict resolution",
			"conflict_id", e.Record.ID,
			"entry_id", e.Record.QueueEntryID,
			"error", err)
	}
}

func (o *DefaultOrchestrator) acquire() (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.activeSyncs >= o.cfg.MaxConcurrentSyncs {
		return o.activeSyncs, false
	}
	o.activeSyncs++
	return o.activeSyncs, true
}

func (o *DefaultOrchestrator) release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activeSyncs--
}

// TriggerSync runs one pass
func (o *DefaultOrchestrator) TriggerSync(ctx context.Context, syncType status.SyncType) (*status.SyncResult, error) {
	if !syncType.IsValid() {
		return nil, fmt.Errorf("unknown sync type %q", syncType)
	}
	if !o.monitor.IsOnline() {
		offlineFor, _ := o.monitor.GetOfflineDuration()
		return nil, &pkgsync.OfflineError{OfflineFor: offlineFor}
	}
	active, ok := o.acquire()
	if !ok {
		return nil, &pkgsync.ConcurrencyLimitError{Active: active, Limit: o.cfg.MaxConcurrentSyncs}
	}
	defer o.release()

	return o.runPass(ctx, syncType)
}

func (o *DefaultOrchestrator) runPass(ctx context.Context, syncType status.SyncType) (*status.SyncResult, error) {
	passID := uuid.NewString()
	ctx, span := otel.StartSpan(ctx, o.tracer, "Orchestrator.SyncPass",
		trace.WithAttributes(
			otel.AttrSyncType.String(string(syncType)),
			otel.AttrPassID.String(passID),
			otel.AttrBatchSize.Int(o.cfg.BatchSize),
		))
	defer span.End()

	start := o.now()
	result := &status.SyncResult{
		Errors:    []status.EntryError{},
		Timestamp: start.UTC(),
	}

	// Always close the pass with a history record, whatever happens below.
	// Default to failure in case the pass is cut short.
	message := "Sync pass aborted"
	var passErr error
	defer func() {
		result.Duration = o.now().Sub(start)
		result.Success = passErr == nil && result.FailedCount == 0
		o.finishPass(ctx, passID, syncType, result, message, passErr)
	}()

	o.appendHistory(ctx, &status.SyncRecord{
		ID:        uuid.NewString(),
		PassID:    passID,
		Type:      syncType,
		Phase:     status.SyncPhaseStarted,
		Message:   "Sync pass started",
		Timestamp: start.UTC(),
	})
	o.bus.Publish(Event{Type: EventSyncStarted, SyncType: syncType, PassID: passID, Timestamp: start.UTC()})
	slog.Info("Starting sync pass", "pass_id", passID, "type", syncType, "batch_size", o.cfg.BatchSize)

	batch, err := o.store.GetSyncBatch(ctx, o.cfg.BatchSize, start.UTC())
	if err != nil {
		passErr = fmt.Errorf("failed to load sync batch: %w", err)
		message = passErr.Error()
		otel.RecordError(span, passErr)
		return nil, passErr
	}

	// Sequential: a batch is ordered oldest first and per-entity order must hold.
	// Once an entry for an entity does not complete, its newer entries wait for a later pass.
	held := make(map[string]struct{})
	for _, entry := range batch {
		if ctx.Err() != nil {
			break
		}
		key := store.EntityKey(entry.EntityType, entry.EntityID)
		if _, ok := held[key]; ok {
			continue
		}
		outcome, err := o.processor.ProcessEntry(ctx, entry)
		switch outcome {
		case pkgsync.OutcomeCompleted:
			result.ProcessedCount++
		case pkgsync.OutcomeFailed, pkgsync.OutcomeConflict:
			result.FailedCount++
			result.Errors = append(result.Errors, entryError(entry, err))
			held[key] = struct{}{}
		case pkgsync.OutcomeSkipped:
			held[key] = struct{}{}
		}
	}
	span.SetAttributes(otel.AttrResultCount.Int(result.ProcessedCount))

	if ctx.Err() != nil {
		passErr = fmt.Errorf("sync pass interrupted: %w", ctx.Err())
		message = "Sync pass interrupted"
		return result, passErr
	}

	if result.FailedCount == 0 {
		message = fmt.Sprintf("Synced %d entries", result.ProcessedCount)
	} else {
		message = fmt.Sprintf("Synced %d entries, %d failed", result.ProcessedCount, result.FailedCount)
		otel.RecordError(span, fmt.Errorf("%d entries failed", result.FailedCount))
	}
	return result, nil
}

func (o *DefaultOrchestrator) finishPass(
	ctx context.Context, passID string, syncType status.SyncType, result *status.SyncResult, message string, passErr error,
) {
	ctx = context.WithoutCancel(ctx)

	phase := status.SyncPhaseCompleted
	eventType := EventSyncCompleted
	if !result.Success {
		phase = status.SyncPhaseFailed
		eventType = EventSyncFailed
	}

	o.appendHistory(ctx, &status.SyncRecord{
		ID:             uuid.NewString(),
		PassID:         passID,
		Type:           syncType,
		Phase:          phase,
		ProcessedCount: result.ProcessedCount,
		FailedCount:    result.FailedCount,
		Errors:         result.Errors,
		Message:        message,
		Duration:       result.Duration,
		Timestamp:      o.now().UTC(),
	})

	o.mu.Lock()
	last := *result
	o.lastResult = &last
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RecordPassDuration(ctx, string(syncType), result.Duration, result.Success)
		o.recordQueueGauges(ctx)
	}

	event := Event{Type: eventType, SyncType: syncType, PassID: passID, Result: &last, Timestamp: o.now().UTC()}
	if passErr != nil {
		event.Error = passErr.Error()
	}
	o.bus.Publish(event)

	if result.Success {
		slog.Info("Sync pass completed",
			"pass_id", passID,
			"type", syncType,
			"processed", result.ProcessedCount,
			"duration", result.Duration)
		return
	}
	slog.Warn("Sync pass failed",
		"pass_id", passID,
		"type", syncType,
		"processed", result.ProcessedCount,
		"failed", result.FailedCount,
		"message", message)
}

func (o *DefaultOrchestrator) recordQueueGauges(ctx context.Context) {
	stats, err := o.store.GetQueueStats(ctx)
	if err != nil {
		slog.Debug("Failed to read queue stats for metrics", "error", err)
		return
	}
	o.metrics.RecordQueueEntries(ctx, string(queue.StatusPending), int64(stats.Pending))
	o.metrics.RecordQueueEntries(ctx, string(queue.StatusProcessing), int64(stats.Processing))
	o.metrics.RecordQueueEntries(ctx, string(queue.StatusCompleted), int64(stats.Completed))
	o.metrics.RecordQueueEntries(ctx, string(queue.StatusFailed), int64(stats.Failed))
}

func (o *DefaultOrchestrator) appendHistory(ctx context.Context, record *status.SyncRecord) {
	if err := o.store.AppendHistory(ctx, record); err != nil {
		slog.Error("Error writing sync history",
			"pass_id", record.PassID,
			"phase", record.Phase,
			"error", err)
	}
}

func entryError(entry *queue.Entry, err error) status.EntryError {
	msg := "unknown failure"
	if err != nil {
		msg = err.Error()
	}
	return status.EntryError{
		EntryID:    entry.ID,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Message:    msg,
	}
}

// RetryFailedEntries requeues retryable failures and runs a manual pass
func (o *DefaultOrchestrator) RetryFailedEntries(ctx context.Context) (*status.SyncResult, error) {
	failed, err := o.store.GetFailedEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed entries: %w", err)
	}

	requeued := 0
	for _, entry := range failed {
		if !queue.ShouldRetry(entry) {
			continue
		}
		updated, err := o.store.UpdateEntryAtomically(ctx, entry.ID, func(e *queue.Entry) bool {
			return queue.ShouldRetry(e) && queue.Requeue(e, false) == nil
		})
		if errors.Is(err, store.ErrEntryNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to requeue entry %s: %w", entry.ID, err)
		}
		if updated {
			requeued++
		}
	}
	slog.Info("Requeued failed entries", "count", requeued)

	return o.TriggerSync(ctx, status.SyncTypeManual)
}

// EnqueueEntry stores a new pending entry
func (o *DefaultOrchestrator) EnqueueEntry(
	ctx context.Context, op queue.Operation, entityType, entityID string, payload json.RawMessage,
) (*queue.Entry, error) {
	entry, err := queue.CreateEntry(op, entityType, entityID, payload)
	if err != nil {
		return nil, err
	}
	if err := o.store.AddEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to store queue entry: %w", err)
	}
	slog.Debug("Queue entry added",
		"entry_id", entry.ID,
		"operation", entry.Operation,
		"entity_type", entry.EntityType,
		"entity_id", entry.EntityID)
	return entry, nil
}

// RequeueEntry manually moves a failed entry back to pending
func (o *DefaultOrchestrator) RequeueEntry(ctx context.Context, id string) (*queue.Entry, error) {
	var requeueErr error
	_, err := o.store.UpdateEntryAtomically(ctx, id, func(e *queue.Entry) bool {
		requeueErr = queue.Requeue(e, true)
		return requeueErr == nil
	})
	if err != nil {
		return nil, err
	}
	if requeueErr != nil {
		return nil, requeueErr
	}
	slog.Info("Queue entry requeued", "entry_id", id)
	return o.store.GetEntry(ctx, id)
}

// GetQueueStats returns entry counts per status
func (o *DefaultOrchestrator) GetQueueStats(ctx context.Context) (queue.Stats, error) {
	return o.store.GetQueueStats(ctx)
}

// GetFailedEntries returns every failed entry, oldest first
func (o *DefaultOrchestrator) GetFailedEntries(ctx context.Context) ([]*queue.Entry, error) {
	return o.store.GetFailedEntries(ctx)
}

// ClearCompletedEntries removes completed entries older than the given number of days
func (o *DefaultOrchestrator) ClearCompletedEntries(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("olderThanDays must not be negative (got %d)", olderThanDays)
	}
	return o.store.ClearCompletedEntries(ctx, olderThanDays)
}

// GetSyncHistory returns the most recent history records, newest first
func (o *DefaultOrchestrator) GetSyncHistory(ctx context.Context, limit int) ([]*status.SyncRecord, error) {
	return o.store.ListHistory(ctx, limit)
}

// GetStatus returns a snapshot of the engine
func (o *DefaultOrchestrator) GetStatus(ctx context.Context) (*Status, error) {
	stats, err := o.store.GetQueueStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	o.mu.Lock()
	s := &Status{
		Running:     o.running,
		AutoSync:    o.cfg.AutoSync,
		ActiveSyncs: o.activeSyncs,
		Queue:       stats,
	}
	if o.lastResult != nil {
		last := *o.lastResult
		s.LastResult = &last
	}
	o.mu.Unlock()

	s.Connectivity = o.monitor.Status()
	if d, ok := o.monitor.GetOfflineDuration(); ok {
		s.OfflineDuration = &d
	}
	return s, nil
}
