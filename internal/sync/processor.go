package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/offline-sync/internal/conflict"
	"github.com/stacklok/offline-sync/internal/otel"
	"github.com/stacklok/offline-sync/internal/queue"
	"github.com/stacklok/offline-sync/internal/remote"
	"github.com/stacklok/offline-sync/internal/retry"
	"github.com/stacklok/offline-sync/internal/store"
)

// ProcessorTracerName is the name used for the processor tracer
const ProcessorTracerName = "github.com/stacklok/offline-sync/sync"

// Outcome is what happened to a queue entry within a pass
type Outcome string

const (
	// OutcomeCompleted means the remote accepted the mutation, or a conflict was resolved
	OutcomeCompleted Outcome = "completed"

	// OutcomeFailed means the entry was marked failed
	OutcomeFailed Outcome = "failed"

	// OutcomeConflict means the entry was parked behind a conflict awaiting manual resolution
	OutcomeConflict Outcome = "conflict"

	// OutcomeSkipped means the entry was claimed by another pass or is no longer eligible
	OutcomeSkipped Outcome = "skipped"
)

// Processor replays single queue entries
//
//go:generate mockgen -destination=mocks/mock_processor.go -package=mocks -source=processor.go Processor
type Processor interface {
	// ProcessEntry claims, applies and finalizes one entry. The returned error
	// is an *Error describing an entry-level failure.
	ProcessEntry(ctx context.Context, entry *queue.Entry) (Outcome, error)

	// ApplyResolution releases an entry parked behind a conflict that has since
	// been resolved
	ApplyResolution(ctx context.Context, record *conflict.Record) error
}

// ConflictResolver checks a divergent entry in with the conflict resolver
type ConflictResolver interface {
	Resolve(ctx context.Context, in conflict.Input) (*conflict.Record, error)
}

// MetricsRecorder receives one observation per processed entry
type MetricsRecorder interface {
	RecordEntryProcessed(ctx context.Context, entityType, operation, outcome string)
}

// DefaultProcessor is the default implementation of Processor
type DefaultProcessor struct {
	entries   store.EntryStore
	applier   remote.Applier
	resolver  ConflictResolver
	retryOpts retry.Options
	metrics   MetricsRecorder
	tracer    trace.Tracer
	now       func() time.Time
}

var _ Processor = (*DefaultProcessor)(nil)

// ProcessorOption configures a DefaultProcessor
type ProcessorOption func(*DefaultProcessor)

// WithRetryOptions sets the in-pass retry policy
func WithRetryOptions(opts retry.Options) ProcessorOption {
	return func(p *DefaultProcessor) {
		p.retryOpts = opts
	}
}

// WithMetrics records entry outcomes
func WithMetrics(m MetricsRecorder) ProcessorOption {
	return func(p *DefaultProcessor) {
		p.metrics = m
	}
}

// WithTracer sets the OpenTelemetry tracer
func WithTracer(tracer trace.Tracer) ProcessorOption {
	return func(p *DefaultProcessor) {
		p.tracer = tracer
	}
}

// WithClock overrides the time source used for claims and backoff gating
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *DefaultProcessor) {
		p.now = now
	}
}

// NewProcessor creates a processor
func NewProcessor(
	entries store.EntryStore,
	applier remote.Applier,
	resolver ConflictResolver,
	opts ...ProcessorOption,
) *DefaultProcessor {
	p := &DefaultProcessor{
		entries:   entries,
		applier:   applier,
		resolver:  resolver,
		retryOpts: retry.DefaultOptions(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.retryOpts.ShouldRetry == nil {
		p.retryOpts.ShouldRetry = retry.IsRetryableError
	}
	return p
}

// ProcessEntry replays entry against the remote
func (p *DefaultProcessor) ProcessEntry(ctx context.Context, entry *queue.Entry) (Outcome, error) {
	ctx, span := otel.StartSpan(ctx, p.tracer, "Processor.ProcessEntry",
		trace.WithAttributes(otel.EntryAttributes(
			entry.ID, string(entry.Operation), entry.EntityType, entry.EntityID)...))
	defer span.End()

	claimed, err := p.claim(ctx, entry.ID)
	if err != nil {
		otel.RecordError(span, err)
		p.record(ctx, entry, OutcomeFailed)
		return OutcomeFailed, &Error{
			Err:     err,
			Message: fmt.Sprintf("failed to claim queue entry %s: %v", entry.ID, err),
			Reason:  ReasonStoreFailed,
		}
	}
	if claimed == nil {
		slog.DebugContext(ctx, "Queue entry no longer eligible, skipping", "entry_id", entry.ID)
		span.SetAttributes(attribute.String("sync.outcome", string(OutcomeSkipped)))
		p.record(ctx, entry, OutcomeSkipped)
		return OutcomeSkipped, nil
	}

	outcome, conflictData, syncErr := p.replay(ctx, claimed)

	if syncErr != nil && ctx.Err() != nil {
		// Stopped mid-flight: hand the entry back without counting an attempt
		if _, err := p.entries.UpdateEntryAtomically(context.WithoutCancel(ctx), claimed.ID, queue.Release); err != nil {
			slog.Error("Failed to release interrupted queue entry", "entry_id", claimed.ID, "error", err)
		}
		otel.RecordError(span, syncErr)
		p.record(ctx, claimed, OutcomeSkipped)
		return OutcomeSkipped, syncErr
	}

	if err := p.finalize(ctx, claimed.ID, outcome, conflictData, syncErr); err != nil {
		otel.RecordError(span, err)
		p.record(ctx, claimed, OutcomeFailed)
		return OutcomeFailed, &Error{
			Err:     err,
			Message: fmt.Sprintf("failed to record result for queue entry %s: %v", claimed.ID, err),
			Reason:  ReasonStoreFailed,
		}
	}

	span.SetAttributes(attribute.String("sync.outcome", string(outcome)))
	p.record(ctx, claimed, outcome)

	if syncErr != nil {
		otel.RecordError(span, syncErr)
		slog.WarnContext(ctx, "Queue entry sync failed",
			"entry_id", claimed.ID,
			"entity_type", claimed.EntityType,
			"entity_id", claimed.EntityID,
			"reason", syncErr.Reason,
			"error", syncErr.Message)
		return outcome, syncErr
	}

	slog.DebugContext(ctx, "Queue entry synced",
		"entry_id", claimed.ID,
		"entity_type", claimed.EntityType,
		"entity_id", claimed.EntityID,
		"operation", claimed.Operation)
	return outcome, nil
}

// claim moves the entry to processing if it is still eligible and returns the claimed copy
func (p *DefaultProcessor) claim(ctx context.Context, id string) (*queue.Entry, error) {
	asOf := p.now().UTC()
	var claimed *queue.Entry

	_, err := p.entries.UpdateEntryAtomically(ctx, id, func(e *queue.Entry) bool {
		if !store.IsBatchEligible(e, asOf) {
			return false
		}
		if err := queue.MarkProcessing(e); err != nil {
			return false
		}
		claimed = e.Clone()
		return true
	})
	if errors.Is(err, store.ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (p *DefaultProcessor) replay(ctx context.Context, entry *queue.Entry) (Outcome, json.RawMessage, *Error) {
	opts := remote.ApplyOptions{Overwrite: carriesResolution(entry)}

	result, err := p.apply(ctx, entry, opts)
	if err != nil {
		return OutcomeFailed, nil, applyError(entry, err)
	}
	if !result.Divergent {
		return OutcomeCompleted, nil, nil
	}
	return p.handleDivergence(ctx, entry, result.Remote)
}

func (p *DefaultProcessor) apply(
	ctx context.Context, entry *queue.Entry, opts remote.ApplyOptions,
) (*remote.Result, error) {
	outcome := retry.Execute(ctx, func(ctx context.Context) (*remote.Result, error) {
		return p.applier.Apply(ctx, entry, opts)
	}, p.retryOpts)

	if outcome.Attempts > 1 {
		slog.DebugContext(ctx, "Remote apply needed retries",
			"entry_id", entry.ID,
			"attempts", outcome.Attempts,
			"success", outcome.Success,
			"total_time", outcome.TotalTime)
	}
	if !outcome.Success {
		return nil, outcome.Err
	}
	if outcome.Result == nil {
		return &remote.Result{}, nil
	}
	return outcome.Result, nil
}

func (p *DefaultProcessor) handleDivergence(
	ctx context.Context, entry *queue.Entry, remoteData json.RawMessage,
) (Outcome, json.RawMessage, *Error) {
	lastSync, err := p.entries.LastSyncedAt(ctx, entry.EntityType, entry.EntityID)
	if err != nil {
		return OutcomeFailed, nil, &Error{
			Err:     err,
			Message: fmt.Sprintf("failed to read last sync time for %s/%s: %v", entry.EntityType, entry.EntityID, err),
			Reason:  ReasonStoreFailed,
		}
	}

	var local json.RawMessage
	if entry.Operation != queue.OperationDelete {
		local = entry.Payload
	}

	record, err := p.resolver.Resolve(ctx, conflict.Input{
		QueueEntryID: entry.ID,
		EntityType:   entry.EntityType,
		EntityID:     entry.EntityID,
		Local:        local,
		Remote:       remoteData,
		LastSyncAt:   lastSync,
	})
	if err != nil {
		return OutcomeFailed, nil, &Error{
			Err:     err,
			Message: fmt.Sprintf("failed to resolve conflict for %s/%s: %v", entry.EntityType, entry.EntityID, err),
			Reason:  ReasonConflictFailed,
		}
	}

	// The remote refused the write but already holds the same data
	if record == nil {
		return OutcomeCompleted, nil, nil
	}
	otel.AnnotateConflict(ctx, record.ID, string(record.ConflictType))

	if record.Status != conflict.StatusResolved {
		return OutcomeConflict, marshalRecord(record), &Error{
			Message: fmt.Sprintf("%s conflict %s on %s/%s awaits manual resolution",
				record.ConflictType, record.ID, entry.EntityType, entry.EntityID),
			Reason: ReasonConflictPending,
		}
	}

	return p.pushResolution(ctx, entry, record)
}

func (p *DefaultProcessor) pushResolution(
	ctx context.Context, entry *queue.Entry, record *conflict.Record,
) (Outcome, json.RawMessage, *Error) {
	if record.Resolution == conflict.StrategyUseRemote {
		slog.InfoContext(ctx, "Local change discarded in favour of remote",
			"entry_id", entry.ID,
			"conflict_id", record.ID)
		return OutcomeCompleted, nil, nil
	}

	resolved := entry.Clone()
	if entry.Operation != queue.OperationDelete {
		resolved.Payload = record.ResolvedData
	}

	result, err := p.apply(ctx, resolved, remote.ApplyOptions{Overwrite: true})
	if err != nil {
		return OutcomeFailed, marshalRecord(record), applyError(entry, err)
	}
	if result.Divergent {
		return OutcomeFailed, marshalRecord(record), &Error{
			Message: fmt.Sprintf("remote still diverges after pushing resolution of conflict %s", record.ID),
			Reason:  ReasonConflictFailed,
		}
	}
	return OutcomeCompleted, nil, nil
}

func (p *DefaultProcessor) finalize(
	ctx context.Context, id string, outcome Outcome, conflictData json.RawMessage, syncErr *Error,
) error {
	// The remote already answered; the result must be recorded even during shutdown
	ctx = context.WithoutCancel(ctx)

	backoffOpts := p.retryOpts
	backoffOpts.Jitter = false
	now := p.now().UTC()

	_, err := p.entries.UpdateEntryAtomically(ctx, id, func(e *queue.Entry) bool {
		if e.Status != queue.StatusProcessing {
			return false
		}
		if outcome == OutcomeCompleted {
			queue.MarkCompleted(e)
			return true
		}

		var cause error
		if syncErr != nil {
			cause = syncErr
		}
		permanent := outcome == OutcomeConflict || remote.IsPermanent(cause)
		queue.MarkFailed(e, cause, permanent, conflictData)
		if queue.ShouldRetry(e) {
			next := now.Add(retry.Delay(e.Attempts-1, backoffOpts))
			e.NextAttemptAt = &next
		}
		return true
	})
	return err
}

// ApplyResolution requeues the entry behind a resolved conflict so the next pass
// pushes the resolved data. A use_remote resolution completes the entry instead.
func (p *DefaultProcessor) ApplyResolution(ctx context.Context, record *conflict.Record) error {
	if record == nil || record.Status != conflict.StatusResolved || record.QueueEntryID == "" {
		return nil
	}
	data := marshalRecord(record)

	var requeueErr error
	updated, err := p.entries.UpdateEntryAtomically(ctx, record.QueueEntryID, func(e *queue.Entry) bool {
		if e.Status != queue.StatusFailed {
			return false
		}
		if record.Resolution == conflict.StrategyUseRemote {
			queue.MarkCompleted(e)
			e.ConflictData = data
			return true
		}
		if err := queue.RequeueResolved(e); err != nil {
			requeueErr = err
			return false
		}
		if e.Operation != queue.OperationDelete {
			e.Payload = append(json.RawMessage(nil), record.ResolvedData...)
		}
		e.ConflictData = data
		return true
	})
	if errors.Is(err, store.ErrEntryNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to apply resolution to queue entry %s: %w", record.QueueEntryID, err)
	}
	if requeueErr != nil {
		return requeueErr
	}
	if updated {
		slog.InfoContext(ctx, "Queue entry released after conflict resolution",
			"entry_id", record.QueueEntryID,
			"conflict_id", record.ID,
			"resolution", record.Resolution)
	}
	return nil
}

func (p *DefaultProcessor) record(ctx context.Context, entry *queue.Entry, outcome Outcome) {
	if p.metrics != nil {
		p.metrics.RecordEntryProcessed(ctx, entry.EntityType, string(entry.Operation), string(outcome))
	}
}

// carriesResolution reports whether the entry was requeued with the data of a resolved conflict
func carriesResolution(entry *queue.Entry) bool {
	if len(entry.ConflictData) == 0 {
		return false
	}
	var record conflict.Record
	if err := json.Unmarshal(entry.ConflictData, &record); err != nil {
		return false
	}
	return record.Status == conflict.StatusResolved && record.Resolution != conflict.StrategyUseRemote
}

func applyError(entry *queue.Entry, err error) *Error {
	reason := ReasonApplyFailed
	if remote.IsPermanent(err) {
		reason = ReasonRemoteRejected
	}
	return &Error{
		Err:     err,
		Message: fmt.Sprintf("failed to apply %s of %s/%s: %v", entry.Operation, entry.EntityType, entry.EntityID, err),
		Reason:  reason,
	}
}

func marshalRecord(record *conflict.Record) json.RawMessage {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("Failed to marshal conflict record", "conflict_id", record.ID, "error", err)
		return nil
	}
	return data
}
