// Package otel provides OpenTelemetry span helpers shared by the sync engine components.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by every traced sync component
const (
	AttrSyncType     = attribute.Key("sync.type")
	AttrPassID       = attribute.Key("sync.pass_id")
	AttrBatchSize    = attribute.Key("sync.batch_size")
	AttrEntryID      = attribute.Key("queue.entry_id")
	AttrOperation    = attribute.Key("queue.operation")
	AttrEntityType   = attribute.Key("entity.type")
	AttrEntityID     = attribute.Key("entity.id")
	AttrConflictID   = attribute.Key("conflict.id")
	AttrConflictType = attribute.Key("conflict.type")
	AttrResultCount  = attribute.Key("result.count")
)

// StartSpan starts a span on tracer. A nil tracer yields the span already in ctx,
// which is a no-op span when ctx carries none.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// EntryAttributes identifies a queue entry and the entity it mutates
func EntryAttributes(entryID, operation, entityType, entityID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEntryID.String(entryID),
		AttrOperation.String(operation),
		AttrEntityType.String(entityType),
		AttrEntityID.String(entityID),
	}
}

// AnnotateConflict tags the span in ctx with the conflict an entry ran into
func AnnotateConflict(ctx context.Context, conflictID, conflictType string) {
	trace.SpanFromContext(ctx).SetAttributes(
		AttrConflictID.String(conflictID),
		AttrConflictType.String(conflictType),
	)
}

// RecordError marks span as failed. The error text goes into an exception event,
// the status description stays generic. Nil spans and nil errors are ignored.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "operation failed")
}
