package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/offline-sync/internal/events"
)

// Repository is the persistence the resolver needs
type Repository interface {
	AddConflict(ctx context.Context, record *Record) error
	GetConflict(ctx context.Context, id string) (*Record, error)
	UpdateConflict(ctx context.Context, record *Record) error
	ListPendingConflicts(ctx context.Context) ([]*Record, error)
	ListResolvedConflicts(ctx context.Context, limit int) ([]*Record, error)

	AddRule(ctx context.Context, rule *Rule) error
	ListRules(ctx context.Context) ([]*Rule, error)
	DeleteRule(ctx context.Context, id string) error
}

// MetricsRecorder receives one observation per conflict outcome
type MetricsRecorder interface {
	RecordConflict(ctx context.Context, conflictType, resolution string)
}

// Config controls automatic resolution
type Config struct {
	// AutoResolve applies rules (or DefaultResolution) as soon as a conflict is detected
	AutoResolve bool

	// DefaultResolution is used when no rule matches. StrategyManual leaves the conflict pending.
	DefaultResolution Strategy

	// TimestampTolerance is the largest gap between concurrent writes still treated as one change
	TimestampTolerance time.Duration
}

// DefaultConfig returns automatic resolution preferring the local side
func DefaultConfig() Config {
	return Config{
		AutoResolve:        true,
		DefaultResolution:  StrategyUseLocal,
		TimestampTolerance: DefaultTimestampTolerance,
	}
}

// Input describes the two sides of a possible conflict
type Input struct {
	QueueEntryID string
	EntityType   string
	EntityID     string
	Local        json.RawMessage
	Remote       json.RawMessage
	LastSyncAt   *time.Time
}

// Resolver detects, records and resolves conflicts
type Resolver struct {
	repo    Repository
	cfg     Config
	bus     events.Bus[Event]
	metrics MetricsRecorder
	now     func() time.Time
}

// Option configures a Resolver
type Option func(*Resolver)

// WithMetrics records conflict outcomes
func WithMetrics(m MetricsRecorder) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver creates a resolver backed by repo
func NewResolver(repo Repository, cfg Config, opts ...Option) *Resolver {
	if cfg.DefaultResolution == "" {
		cfg.DefaultResolution = StrategyUseLocal
	}
	if cfg.TimestampTolerance <= 0 {
		cfg.TimestampTolerance = DefaultTimestampTolerance
	}
	r := &Resolver{
		repo: repo,
		cfg:  cfg,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers fn for conflictDetected and conflictResolved events
func (r *Resolver) Subscribe(fn events.Listener[Event]) (unsubscribe func()) {
	return r.bus.Subscribe(fn)
}

// Detect compares the two sides using the configured tolerance
func (r *Resolver) Detect(local, remote json.RawMessage, lastSync *time.Time) Detection {
	return Detect(local, remote, lastSync, r.cfg.TimestampTolerance)
}

// Resolve checks in for a conflict. It returns nil when the sides agree. Otherwise
// the conflict is persisted and, when automatic resolution is enabled and a
// strategy applies, resolved before returning.
func (r *Resolver) Resolve(ctx context.Context, in Input) (*Record, error) {
	detection := r.Detect(in.Local, in.Remote, in.LastSyncAt)
	if !detection.HasConflict {
		return nil, nil
	}

	ts := r.now().UTC()
	record := &Record{
		ID:             uuid.NewString(),
		QueueEntryID:   in.QueueEntryID,
		EntityType:     in.EntityType,
		EntityID:       in.EntityID,
		ConflictType:   detection.Type,
		LocalData:      cloneRaw(in.Local),
		RemoteData:     cloneRaw(in.Remote),
		ConflictFields: detection.Fields,
		Status:         StatusPending,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	if err := r.repo.AddConflict(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record conflict: %w", err)
	}

	slog.InfoContext(ctx, "Conflict detected",
		"conflict_id", record.ID,
		"queue_entry_id", record.QueueEntryID,
		"entity_type", record.EntityType,
		"entity_id", record.EntityID,
		"conflict_type", record.ConflictType,
		"fields", record.ConflictFields)
	r.bus.Publish(Event{Type: EventConflictDetected, Record: record.Clone()})

	strategy, ok, err := r.automaticStrategy(ctx, record)
	if err != nil {
		return nil, err
	}
	if !ok {
		r.recordConflict(ctx, record.ConflictType, "pending")
		return record, nil
	}

	return r.apply(ctx, record, strategy, ResolvedBySystem, nil)
}

func (r *Resolver) automaticStrategy(ctx context.Context, record *Record) (Strategy, bool, error) {
	if !r.cfg.AutoResolve {
		return "", false, nil
	}
	rules, err := r.repo.ListRules(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to list resolution rules: %w", err)
	}
	if rule := SelectRule(rules, record.EntityType, record.ConflictType, record.ConflictFields); rule != nil {
		slog.DebugContext(ctx, "Resolution rule matched",
			"conflict_id", record.ID, "rule_id", rule.ID, "resolution", rule.Resolution)
		return rule.Resolution, true, nil
	}
	if r.cfg.DefaultResolution == StrategyManual {
		return "", false, nil
	}
	return r.cfg.DefaultResolution, true, nil
}

// ApplyResolution resolves a pending (or previously failed) conflict. data is
// required for StrategyManual and ignored otherwise. An empty resolvedBy is
// recorded as "manual".
func (r *Resolver) ApplyResolution(
	ctx context.Context, conflictID string, strategy Strategy, resolvedBy string, data json.RawMessage,
) (*Record, error) {
	if !strategy.IsValid() {
		return nil, fmt.Errorf("unknown resolution strategy %q", strategy)
	}
	if strategy == StrategyManual && isAbsent(data) {
		return nil, ErrManualDataRequired
	}
	record, err := r.repo.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if record.Status == StatusResolved {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, conflictID)
	}
	if resolvedBy == "" {
		resolvedBy = string(StrategyManual)
	}
	return r.apply(ctx, record, strategy, resolvedBy, data)
}

func (r *Resolver) apply(
	ctx context.Context, record *Record, strategy Strategy, resolvedBy string, data json.RawMessage,
) (*Record, error) {
	resolved, err := resolvedData(record, strategy, data)
	if err != nil {
		record.Status = StatusFailed
		record.UpdatedAt = r.now().UTC()
		if uerr := r.repo.UpdateConflict(ctx, record); uerr != nil {
			return nil, errors.Join(err, uerr)
		}
		r.recordConflict(ctx, record.ConflictType, string(StatusFailed))
		return nil, err
	}

	ts := r.now().UTC()
	record.Resolution = strategy
	record.ResolvedData = resolved
	record.ResolvedBy = resolvedBy
	record.ResolvedAt = &ts
	record.Status = StatusResolved
	record.UpdatedAt = ts
	if err := r.repo.UpdateConflict(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store conflict resolution: %w", err)
	}

	slog.InfoContext(ctx, "Conflict resolved",
		"conflict_id", record.ID,
		"resolution", strategy,
		"resolved_by", resolvedBy)
	r.recordConflict(ctx, record.ConflictType, string(strategy))
	r.bus.Publish(Event{Type: EventConflictResolved, Record: record.Clone()})
	return record, nil
}

func resolvedData(record *Record, strategy Strategy, data json.RawMessage) (json.RawMessage, error) {
	switch strategy {
	case StrategyUseLocal:
		return orNull(record.LocalData), nil
	case StrategyUseRemote:
		return orNull(record.RemoteData), nil
	case StrategyMerge:
		return Merge(record.LocalData, record.RemoteData, record.ConflictFields)
	case StrategyManual:
		if isAbsent(data) {
			return nil, ErrManualDataRequired
		}
		if !json.Valid(data) {
			return nil, errors.New("manual resolution data must be valid JSON")
		}
		return cloneRaw(data), nil
	default:
		return nil, fmt.Errorf("unknown resolution strategy %q", strategy)
	}
}

func orNull(raw json.RawMessage) json.RawMessage {
	if isAbsent(raw) {
		return json.RawMessage("null")
	}
	return cloneRaw(raw)
}

// GetPendingConflicts lists conflicts awaiting resolution
func (r *Resolver) GetPendingConflicts(ctx context.Context) ([]*Record, error) {
	return r.repo.ListPendingConflicts(ctx)
}

// GetConflict returns a single conflict record
func (r *Resolver) GetConflict(ctx context.Context, id string) (*Record, error) {
	return r.repo.GetConflict(ctx, id)
}

// GetResolutionHistory lists applied resolutions, most recent first.
// A limit of zero or less returns everything.
func (r *Resolver) GetResolutionHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	records, err := r.repo.ListResolvedConflicts(ctx, limit)
	if err != nil {
		return nil, err
	}
	history := make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		if rec.ResolvedAt == nil {
			continue
		}
		history = append(history, HistoryEntry{
			ConflictID:   rec.ID,
			QueueEntryID: rec.QueueEntryID,
			EntityType:   rec.EntityType,
			EntityID:     rec.EntityID,
			ConflictType: rec.ConflictType,
			Resolution:   rec.Resolution,
			ResolvedBy:   rec.ResolvedBy,
			ResolvedAt:   *rec.ResolvedAt,
		})
	}
	return history, nil
}

// AddRule validates and stores an automatic resolution rule
func (r *Resolver) AddRule(ctx context.Context, rule *Rule) (*Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	stored := *rule
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.CreatedAt = r.now().UTC()
	if err := r.repo.AddRule(ctx, &stored); err != nil {
		return nil, fmt.Errorf("failed to store rule: %w", err)
	}
	return &stored, nil
}

// ListRules returns all rules in insertion order
func (r *Resolver) ListRules(ctx context.Context) ([]*Rule, error) {
	return r.repo.ListRules(ctx)
}

// DeleteRule removes a rule
func (r *Resolver) DeleteRule(ctx context.Context, id string) error {
	return r.repo.DeleteRule(ctx, id)
}

func (r *Resolver) recordConflict(ctx context.Context, conflictType Type, resolution string) {
	if r.metrics != nil {
		r.metrics.RecordConflict(ctx, string(conflictType), resolution)
	}
}
