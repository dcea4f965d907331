package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/offline-sync/internal/conflict"
	"github.com/stacklok/offline-sync/internal/otel"
	"github.com/stacklok/offline-sync/internal/queue"
	"github.com/stacklok/offline-sync/internal/status"
)

const (
	// PostgresTracerName is the name used for the Postgres store tracer
	PostgresTracerName = "github.com/stacklok/offline-sync/store/postgres"

	uniqueViolation = "23505"

	entryColumns = `id, operation, entity_type, entity_id, payload, attempts, last_attempt_at,
	status, created_at, updated_at, conflict_data, last_error, permanent_failure, next_attempt_at`

	conflictColumns = `id, queue_entry_id, entity_type, entity_id, conflict_type, local_data,
	remote_data, conflict_fields, resolution, resolved_data, resolved_by, resolved_at, status,
	created_at, updated_at`

	ruleColumns = `id, entity_type, conflict_type, field_pattern, resolution, priority, is_active, created_at`

	historyColumns = `id, pass_id, sync_type, phase, processed_count, failed_count, errors, message,
	duration_ms, created_at`
)

// PostgresStore persists sync state in PostgreSQL. The schema lives in the
// database package migrations.
type PostgresStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures a PostgresStore
type PostgresOption func(*PostgresStore)

// WithTracer sets the OpenTelemetry tracer for store operations.
// If not set, tracing is disabled.
func WithTracer(tracer trace.Tracer) PostgresOption {
	return func(s *PostgresStore) {
		s.tracer = tracer
	}
}

// NewPostgresStore creates a store on top of an existing pool. The caller owns the pool.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("pgx pool is required")
	}
	s := &PostgresStore{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *PostgresStore) startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	opts = append([]trace.SpanStartOption{trace.WithAttributes(semconv.DBSystemPostgreSQL)}, opts...)
	return s.tracer.Start(ctx, name, opts...)
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller
func (*PostgresStore) Close() error {
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// nullableJSON maps an empty payload to SQL NULL
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// limitArg maps a non-positive limit to LIMIT NULL, which Postgres treats as no limit
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func scanEntry(row pgx.CollectableRow) (*queue.Entry, error) {
	var (
		e                     queue.Entry
		op, st                string
		payload, conflictData []byte
		lastError             *string
	)
	err := row.Scan(
		&e.ID, &op, &e.EntityType, &e.EntityID, &payload, &e.Attempts, &e.LastAttemptAt,
		&st, &e.CreatedAt, &e.UpdatedAt, &conflictData, &lastError, &e.PermanentFailure, &e.NextAttemptAt,
	)
	if err != nil {
		return nil, err
	}
	e.Operation = queue.Operation(op)
	e.Status = queue.Status(st)
	e.Payload = payload
	e.ConflictData = conflictData
	e.LastError = derefString(lastError)
	return &e, nil
}

func entryArgs(e *queue.Entry) []any {
	return []any{
		e.ID, string(e.Operation), e.EntityType, e.EntityID, nullableJSON(e.Payload), e.Attempts,
		e.LastAttemptAt, string(e.Status), e.CreatedAt, e.UpdatedAt, nullableJSON(e.ConflictData),
		nullableString(e.LastError), e.PermanentFailure, e.NextAttemptAt,
	}
}

const updateEntrySQL = `UPDATE queue_entries SET
	operation = $2, entity_type = $3, entity_id = $4, payload = $5, attempts = $6,
	last_attempt_at = $7, status = $8, created_at = $9, updated_at = $10, conflict_data = $11,
	last_error = $12, permanent_failure = $13, next_attempt_at = $14
	WHERE id = $1`

// AddEntry inserts a queue entry
func (s *PostgresStore) AddEntry(ctx context.Context, entry *queue.Entry) error {
	ctx, span := s.startSpan(ctx, "PostgresStore.AddEntry",
		trace.WithAttributes(otel.AttrEntryID.String(entry.ID), otel.AttrEntityType.String(entry.EntityType)))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO queue_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		entryArgs(entry)...)
	if err != nil {
		otel.RecordError(span, err)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: queue entry %s", ErrDuplicate, entry.ID)
		}
		return fmt.Errorf("failed to insert queue entry: %w", err)
	}
	return nil
}

// GetEntry loads a queue entry by id
func (s *PostgresStore) GetEntry(ctx context.Context, id string) (*queue.Entry, error) {
	return getEntry(ctx, s.pool, id, false)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getEntry(ctx context.Context, q querier, id string, forUpdate bool) (*queue.Entry, error) {
	sql := `SELECT ` + entryColumns + ` FROM queue_entries WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue entry: %w", err)
	}
	entry, err := pgx.CollectExactlyOneRow(rows, scanEntry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		return nil, fmt.Errorf("failed to scan queue entry: %w", err)
	}
	return entry, nil
}

// UpdateEntry replaces a stored queue entry
func (s *PostgresStore) UpdateEntry(ctx context.Context, entry *queue.Entry) error {
	tag, err := s.pool.Exec(ctx, updateEntrySQL, entryArgs(entry)...)
	if err != nil {
		return fmt.Errorf("failed to update queue entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entry.ID)
	}
	return nil
}

// UpdateEntryAtomically locks the row, applies testAndUpdateFn and writes the result in one transaction
func (s *PostgresStore) UpdateEntryAtomically(
	ctx context.Context,
	id string,
	testAndUpdateFn func(entry *queue.Entry) bool,
) (bool, error) {
	ctx, span := s.startSpan(ctx, "PostgresStore.UpdateEntryAtomically",
		trace.WithAttributes(otel.AttrEntryID.String(id)))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		otel.RecordError(span, err)
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	entry, err := getEntry(ctx, tx, id, true)
	if err != nil {
		otel.RecordError(span, err)
		return false, err
	}

	if !testAndUpdateFn(entry) {
		return false, nil
	}

	if _, err := tx.Exec(ctx, updateEntrySQL, entryArgs(entry)...); err != nil {
		otel.RecordError(span, err)
		return false, fmt.Errorf("failed to update queue entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		otel.RecordError(span, err)
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// RemoveEntry deletes a queue entry
func (s *PostgresStore) RemoveEntry(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM queue_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete queue entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return nil
}

func (s *PostgresStore) queryEntries(ctx context.Context, where string, args ...any) ([]*queue.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue entries: %w", err)
	}
	return entries, nil
}

// ListEntries returns entries in the given status, oldest first
func (s *PostgresStore) ListEntries(ctx context.Context, st queue.Status, limit int) ([]*queue.Entry, error) {
	return s.queryEntries(ctx,
		`($1 = '' OR status = $1) ORDER BY created_at, seq LIMIT $2`,
		string(st), limitArg(limit))
}

// GetPendingEntries returns pending entries oldest first
func (s *PostgresStore) GetPendingEntries(ctx context.Context, limit int) ([]*queue.Entry, error) {
	return s.ListEntries(ctx, queue.StatusPending, limit)
}

// GetSyncBatch returns pending entries and due retryable failures, oldest first,
// skipping every entity that still has an older entry held back
func (s *PostgresStore) GetSyncBatch(ctx context.Context, limit int, asOf time.Time) ([]*queue.Entry, error) {
	ctx, span := s.startSpan(ctx, "PostgresStore.GetSyncBatch",
		trace.WithAttributes(otel.AttrBatchSize.Int(limit)))
	defer span.End()

	entries, err := s.queryEntries(ctx,
		`(status = 'pending'
			OR (status = 'failed' AND NOT permanent_failure AND attempts < $1
				AND (next_attempt_at IS NULL OR next_attempt_at <= $2)))
		AND NOT EXISTS (
			SELECT 1 FROM queue_entries older
			WHERE older.entity_type = queue_entries.entity_type
				AND older.entity_id = queue_entries.entity_id
				AND (older.created_at, older.seq) < (queue_entries.created_at, queue_entries.seq)
				AND (older.status = 'processing'
					OR (older.status = 'failed' AND NOT older.permanent_failure AND older.attempts < $1
						AND older.next_attempt_at > $2)))
		ORDER BY created_at, seq LIMIT $3`,
		queue.MaxRetryAttempts, asOf, limitArg(limit))
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(otel.AttrResultCount.Int(len(entries)))
	return entries, nil
}

// GetEntriesForEntity returns every entry for one entity, oldest first
func (s *PostgresStore) GetEntriesForEntity(ctx context.Context, entityType, entityID string) ([]*queue.Entry, error) {
	return s.queryEntries(ctx,
		`entity_type = $1 AND entity_id = $2 ORDER BY created_at, seq`,
		entityType, entityID)
}

// GetFailedEntries returns every failed entry, oldest first
func (s *PostgresStore) GetFailedEntries(ctx context.Context) ([]*queue.Entry, error) {
	return s.ListEntries(ctx, queue.StatusFailed, 0)
}

// ResetInterrupted moves processing entries back to pending
func (s *PostgresStore) ResetInterrupted(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_entries SET status = 'pending', updated_at = $1 WHERE status = 'processing'`,
		time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to reset interrupted entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClearCompletedEntries deletes completed entries last updated before the cutoff
func (s *PostgresStore) ClearCompletedEntries(ctx context.Context, olderThanDays int) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM queue_entries WHERE status = 'completed' AND updated_at < $1`,
		queue.RetentionCutoff(olderThanDays))
	if err != nil {
		return 0, fmt.Errorf("failed to clear completed entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetQueueStats counts entries per status
func (s *PostgresStore) GetQueueStats(ctx context.Context) (queue.Stats, error) {
	var stats queue.Stats
	err := s.pool.QueryRow(ctx, `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE status = 'pending'),
		COUNT(*) FILTER (WHERE status = 'processing'),
		COUNT(*) FILTER (WHERE status = 'completed'),
		COUNT(*) FILTER (WHERE status = 'failed'),
		COUNT(*) FILTER (WHERE status = 'failed' AND NOT permanent_failure AND attempts < $1)
		FROM queue_entries`, queue.MaxRetryAttempts).
		Scan(&stats.Total, &stats.Pending, &stats.Processing, &stats.Completed, &stats.Failed, &stats.Retryable)
	if err != nil {
		return queue.Stats{}, fmt.Errorf("failed to compute queue stats: %w", err)
	}
	return stats, nil
}

// LastSyncedAt returns the latest completion time of an entry for the entity
func (s *PostgresStore) LastSyncedAt(ctx context.Context, entityType, entityID string) (*time.Time, error) {
	var latest *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(updated_at) FROM queue_entries
		WHERE entity_type = $1 AND entity_id = $2 AND status = 'completed'`,
		entityType, entityID).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("failed to query last sync time: %w", err)
	}
	return latest, nil
}

func scanConflict(row pgx.CollectableRow) (*conflict.Record, error) {
	var (
		r                                  conflict.Record
		conflictType, st                   string
		resolution, resolvedBy             *string
		localData, remoteData, resolvedRaw []byte
	)
	err := row.Scan(
		&r.ID, &r.QueueEntryID, &r.EntityType, &r.EntityID, &conflictType, &localData,
		&remoteData, &r.ConflictFields, &resolution, &resolvedRaw, &resolvedBy, &r.ResolvedAt, &st,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ConflictType = conflict.Type(conflictType)
	r.Status = conflict.Status(st)
	r.Resolution = conflict.Strategy(derefString(resolution))
	r.ResolvedBy = derefString(resolvedBy)
	r.LocalData = localData
	r.RemoteData = remoteData
	r.ResolvedData = resolvedRaw
	if r.ConflictFields == nil {
		r.ConflictFields = []string{}
	}
	return &r, nil
}

func conflictArgs(r *conflict.Record) []any {
	fields := r.ConflictFields
	if fields == nil {
		fields = []string{}
	}
	return []any{
		r.ID, r.QueueEntryID, r.EntityType, r.EntityID, string(r.ConflictType), nullableJSON(r.LocalData),
		nullableJSON(r.RemoteData), fields, nullableString(string(r.Resolution)), nullableJSON(r.ResolvedData),
		nullableString(r.ResolvedBy), r.ResolvedAt, string(r.Status), r.CreatedAt, r.UpdatedAt,
	}
}

// AddConflict inserts a conflict record
func (s *PostgresStore) AddConflict(ctx context.Context, record *conflict.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conflict_resolutions (`+conflictColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		conflictArgs(record)...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: conflict %s", ErrDuplicate, record.ID)
		}
		return fmt.Errorf("failed to insert conflict: %w", err)
	}
	return nil
}

func (s *PostgresStore) queryConflicts(ctx context.Context, where string, args ...any) ([]*conflict.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+conflictColumns+` FROM conflict_resolutions WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanConflict)
	if err != nil {
		return nil, fmt.Errorf("failed to scan conflicts: %w", err)
	}
	return records, nil
}

// GetConflict loads a conflict record by id
func (s *PostgresStore) GetConflict(ctx context.Context, id string) (*conflict.Record, error) {
	records, err := s.queryConflicts(ctx, `id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}
	return records[0], nil
}

// UpdateConflict replaces a stored conflict record
func (s *PostgresStore) UpdateConflict(ctx context.Context, record *conflict.Record) error {
	tag, err := s.pool.Exec(ctx, `UPDATE conflict_resolutions SET
		queue_entry_id = $2, entity_type = $3, entity_id = $4, conflict_type = $5, local_data = $6,
		remote_data = $7, conflict_fields = $8, resolution = $9, resolved_data = $10, resolved_by = $11,
		resolved_at = $12, status = $13, created_at = $14, updated_at = $15
		WHERE id = $1`, conflictArgs(record)...)
	if err != nil {
		return fmt.Errorf("failed to update conflict: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrConflictNotFound, record.ID)
	}
	return nil
}

// ListPendingConflicts returns unresolved conflicts, oldest first
func (s *PostgresStore) ListPendingConflicts(ctx context.Context) ([]*conflict.Record, error) {
	return s.queryConflicts(ctx, `status <> 'resolved' ORDER BY seq`)
}

// ListResolvedConflicts returns resolved conflicts, most recently resolved first
func (s *PostgresStore) ListResolvedConflicts(ctx context.Context, limit int) ([]*conflict.Record, error) {
	return s.queryConflicts(ctx,
		`status = 'resolved' AND resolved_at IS NOT NULL ORDER BY resolved_at DESC, seq DESC LIMIT $1`,
		limitArg(limit))
}

// GetConflictsForEntry returns the conflicts recorded for one queue entry
func (s *PostgresStore) GetConflictsForEntry(ctx context.Context, entryID string) ([]*conflict.Record, error) {
	return s.queryConflicts(ctx, `queue_entry_id = $1 ORDER BY seq`, entryID)
}

// AddRule inserts a resolution rule
func (s *PostgresStore) AddRule(ctx context.Context, rule *conflict.Rule) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auto_resolution_rules (`+ruleColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rule.ID, rule.EntityType, string(rule.ConflictType), nullableString(rule.FieldPattern),
		string(rule.Resolution), rule.Priority, rule.IsActive, rule.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: rule %s", ErrDuplicate, rule.ID)
		}
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// ListRules returns the rules in insertion order
func (s *PostgresStore) ListRules(ctx context.Context) ([]*conflict.Rule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+ruleColumns+` FROM auto_resolution_rules ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	rules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*conflict.Rule, error) {
		var (
			r                        conflict.Rule
			conflictType, resolution string
			pattern                  *string
		)
		if err := row.Scan(&r.ID, &r.EntityType, &conflictType, &pattern, &resolution,
			&r.Priority, &r.IsActive, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ConflictType = conflict.Type(conflictType)
		r.Resolution = conflict.Strategy(resolution)
		r.FieldPattern = derefString(pattern)
		return &r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan rules: %w", err)
	}
	return rules, nil
}

// DeleteRule removes a rule
func (s *PostgresStore) DeleteRule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM auto_resolution_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return nil
}

// AppendHistory inserts a sync record
func (s *PostgresStore) AppendHistory(ctx context.Context, record *status.SyncRecord) error {
	var errs any
	if len(record.Errors) > 0 {
		data, err := json.Marshal(record.Errors)
		if err != nil {
			return fmt.Errorf("failed to marshal sync errors: %w", err)
		}
		errs = data
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_history (`+historyColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.ID, record.PassID, string(record.Type), string(record.Phase), record.ProcessedCount,
		record.FailedCount, errs, nullableString(record.Message), record.Duration.Milliseconds(), record.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert sync history: %w", err)
	}
	return nil
}

// ListHistory returns sync records newest first
func (s *PostgresStore) ListHistory(ctx context.Context, limit int) ([]*status.SyncRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+historyColumns+` FROM sync_history ORDER BY seq DESC LIMIT $1`, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query sync history: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*status.SyncRecord, error) {
		var (
			r               status.SyncRecord
			syncType, phase string
			errs            []byte
			message         *string
			durationMs      int64
		)
		if err := row.Scan(&r.ID, &r.PassID, &syncType, &phase, &r.ProcessedCount, &r.FailedCount,
			&errs, &message, &durationMs, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Type = status.SyncType(syncType)
		r.Phase = status.SyncPhase(phase)
		r.Message = derefString(message)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		if len(errs) > 0 {
			if err := json.Unmarshal(errs, &r.Errors); err != nil {
				return nil, fmt.Errorf("failed to unmarshal sync errors: %w", err)
			}
		}
		return &r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync history: %w", err)
	}
	return records, nil
}
