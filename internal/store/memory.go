package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stacklok/offline-sync/internal/conflict"
	"github.com/stacklok/offline-sync/internal/queue"
	"github.com/stacklok/offline-sync/internal/status"
)

// DefaultHistoryLimit is how many sync records the in-process stores retain
const DefaultHistoryLimit = 1000

// Snapshot is the full contents of a store, in insertion order
type Snapshot struct {
	Version   int                  `json:"version"`
	Entries   []*queue.Entry       `json:"entries"`
	Conflicts []*conflict.Record   `json:"conflicts"`
	Rules     []*conflict.Rule     `json:"rules"`
	History   []*status.SyncRecord `json:"history"`
}

const snapshotVersion = 1

type sequenced[T any] struct {
	seq   uint64
	value T
}

// MemoryStore keeps everything in process memory. Reads return copies so callers
// can never mutate stored state.
type MemoryStore struct {
	mu           sync.RWMutex
	seq          uint64
	entries      map[string]sequenced[*queue.Entry]
	conflicts    map[string]sequenced[*conflict.Record]
	rules        []*conflict.Rule
	history      []*status.SyncRecord
	historyLimit int

	// commit is called with the new state after every mutation, under the write lock
	commit func(*Snapshot) error
}

var _ Store = (*MemoryStore)(nil)

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithHistoryLimit bounds the number of retained sync records
func WithHistoryLimit(limit int) MemoryOption {
	return func(m *MemoryStore) {
		m.historyLimit = limit
	}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		entries:      make(map[string]sequenced[*queue.Entry]),
		conflicts:    make(map[string]sequenced[*conflict.Record]),
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) nextSeq() uint64 {
	m.seq++
	return m.seq
}

func (m *MemoryStore) commitLocked() error {
	if m.commit == nil {
		return nil
	}
	return m.commit(m.snapshotLocked())
}

// commitOrRollback persists the current state and calls undo if that fails
func (m *MemoryStore) commitOrRollback(undo func()) error {
	if err := m.commitLocked(); err != nil {
		undo()
		return err
	}
	return nil
}

// Snapshot returns a deep copy of the store contents
func (m *MemoryStore) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *MemoryStore) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		Version:   snapshotVersion,
		Entries:   make([]*queue.Entry, 0, len(m.entries)),
		Conflicts: make([]*conflict.Record, 0, len(m.conflicts)),
		Rules:     make([]*conflict.Rule, 0, len(m.rules)),
		History:   make([]*status.SyncRecord, 0, len(m.history)),
	}
	for _, e := range sortedBySeq(m.entries) {
		snap.Entries = append(snap.Entries, e.Clone())
	}
	for _, c := range sortedBySeq(m.conflicts) {
		snap.Conflicts = append(snap.Conflicts, c.Clone())
	}
	for _, r := range m.rules {
		rc := *r
		snap.Rules = append(snap.Rules, &rc)
	}
	for _, h := range m.history {
		snap.History = append(snap.History, cloneRecord(h))
	}
	return snap
}

// restore replaces the store contents with snap
func (m *MemoryStore) restore(snap *Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]sequenced[*queue.Entry], len(snap.Entries))
	m.conflicts = make(map[string]sequenced[*conflict.Record], len(snap.Conflicts))
	for _, e := range snap.Entries {
		m.entries[e.ID] = sequenced[*queue.Entry]{seq: m.nextSeq(), value: e.Clone()}
	}
	for _, c := range snap.Conflicts {
		m.conflicts[c.ID] = sequenced[*conflict.Record]{seq: m.nextSeq(), value: c.Clone()}
	}
	m.rules = make([]*conflict.Rule, 0, len(snap.Rules))
	for _, r := range snap.Rules {
		rc := *r
		m.rules = append(m.rules, &rc)
	}
	m.history = make([]*status.SyncRecord, 0, len(snap.History))
	for _, h := range snap.History {
		m.history = append(m.history, cloneRecord(h))
	}
}

func sortedBySeq[T any](items map[string]sequenced[T]) []T {
	seqs := make([]sequenced[T], 0, len(items))
	for _, item := range items {
		seqs = append(seqs, item)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i].seq < seqs[j].seq })
	out := make([]T, len(seqs))
	for i, s := range seqs {
		out[i] = s.value
	}
	return out
}

// AddEntry stores a new queue entry
func (m *MemoryStore) AddEntry(_ context.Context, entry *queue.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[entry.ID]; exists {
		return fmt.Errorf("%w: queue entry %s", ErrDuplicate, entry.ID)
	}
	m.entries[entry.ID] = sequenced[*queue.Entry]{seq: m.nextSeq(), value: entry.Clone()}
	return m.commitOrRollback(func() { delete(m.entries, entry.ID) })
}

// GetEntry returns a copy of the entry with the given id
func (m *MemoryStore) GetEntry(_ context.Context, id string) (*queue.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return stored.value.Clone(), nil
}

// UpdateEntry replaces a stored entry
func (m *MemoryStore) UpdateEntry(_ context.Context, entry *queue.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.entries[entry.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entry.ID)
	}
	m.entries[entry.ID] = sequenced[*queue.Entry]{seq: stored.seq, value: entry.Clone()}
	return m.commitOrRollback(func() { m.entries[entry.ID] = stored })
}

// UpdateEntryAtomically applies testAndUpdateFn to the stored entry under the write lock
func (m *MemoryStore) UpdateEntryAtomically(
	_ context.Context,
	id string,
	testAndUpdateFn func(entry *queue.Entry) bool,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.entries[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}

	working := stored.value.Clone()
	if !testAndUpdateFn(working) {
		return false, nil
	}
	m.entries[id] = sequenced[*queue.Entry]{seq: stored.seq, value: working}
	if err := m.commitOrRollback(func() { m.entries[id] = stored }); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveEntry deletes an entry
func (m *MemoryStore) RemoveEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	delete(m.entries, id)
	return m.commitOrRollback(func() { m.entries[id] = stored })
}

// selectEntries returns copies of matching entries ordered by creation time, then insertion
func (m *MemoryStore) selectEntries(match func(e *queue.Entry) bool, limit int) []*queue.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]sequenced[*queue.Entry], 0)
	for _, stored := range m.entries {
		if match(stored.value) {
			matched = append(matched, stored)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.value.CreatedAt.Equal(b.value.CreatedAt) {
			return a.value.CreatedAt.Before(b.value.CreatedAt)
		}
		return a.seq < b.seq
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*queue.Entry, len(matched))
	for i, stored := range matched {
		out[i] = stored.value.Clone()
	}
	return out
}

// ListEntries returns entries in the given status, oldest first
func (m *MemoryStore) ListEntries(_ context.Context, st queue.Status, limit int) ([]*queue.Entry, error) {
	return m.selectEntries(func(e *queue.Entry) bool {
		return st == "" || e.Status == st
	}, limit), nil
}

// GetPendingEntries returns pending entries oldest first
func (m *MemoryStore) GetPendingEntries(ctx context.Context, limit int) ([]*queue.Entry, error) {
	return m.ListEntries(ctx, queue.StatusPending, limit)
}

// GetSyncBatch returns the entries a sync pass should attempt at asOf.
// An entity whose older entry is still held back contributes nothing.
func (m *MemoryStore) GetSyncBatch(_ context.Context, limit int, asOf time.Time) ([]*queue.Entry, error) {
	open := m.selectEntries(func(e *queue.Entry) bool {
		return e.Status != queue.StatusCompleted
	}, 0)

	held := make(map[string]struct{})
	batch := make([]*queue.Entry, 0, len(open))
	for _, e := range open {
		key := EntityKey(e.EntityType, e.EntityID)
		if _, ok := held[key]; ok {
			continue
		}
		if HoldsEntity(e, asOf) {
			held[key] = struct{}{}
			continue
		}
		if !IsBatchEligible(e, asOf) {
			continue
		}
		batch = append(batch, e)
		if limit > 0 && len(batch) == limit {
			break
		}
	}
	return batch, nil
}

// IsBatchEligible reports whether a sync pass running at asOf may pick e up
func IsBatchEligible(e *queue.Entry, asOf time.Time) bool {
	if e.Status == queue.StatusPending {
		return true
	}
	return queue.ShouldRetry(e) && queue.IsDue(e, asOf)
}

// HoldsEntity reports whether e is unfinished but not eligible at asOf, so newer
// entries for the same entity must wait behind it. Dead-lettered entries never hold.
func HoldsEntity(e *queue.Entry, asOf time.Time) bool {
	switch e.Status {
	case queue.StatusProcessing:
		return true
	case queue.StatusFailed:
		return queue.ShouldRetry(e) && !queue.IsDue(e, asOf)
	default:
		return false
	}
}

// EntityKey identifies one remote entity across queue entries
func EntityKey(entityType, entityID string) string {
	return entityType + "/" + entityID
}

// GetEntriesForEntity returns every entry for one entity, oldest first
func (m *MemoryStore) GetEntriesForEntity(_ context.Context, entityType, entityID string) ([]*queue.Entry, error) {
	return m.selectEntries(func(e *queue.Entry) bool {
		return e.EntityType == entityType && e.EntityID == entityID
	}, 0), nil
}

// GetFailedEntries returns every failed entry, oldest first
func (m *MemoryStore) GetFailedEntries(ctx context.Context) ([]*queue.Entry, error) {
	return m.ListEntries(ctx, queue.StatusFailed, 0)
}

// ResetInterrupted moves processing entries back to pending
func (m *MemoryStore) ResetInterrupted(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := make(map[string]sequenced[*queue.Entry])
	for id, stored := range m.entries {
		if stored.value.Status != queue.StatusProcessing {
			continue
		}
		e := stored.value.Clone()
		queue.Release(e)
		m.entries[id] = sequenced[*queue.Entry]{seq: stored.seq, value: e}
		previous[id] = stored
	}
	if len(previous) == 0 {
		return 0, nil
	}
	if err := m.commitOrRollback(func() { m.putEntries(previous) }); err != nil {
		return 0, err
	}
	return len(previous), nil
}

func (m *MemoryStore) putEntries(entries map[string]sequenced[*queue.Entry]) {
	for id, stored := range entries {
		m.entries[id] = stored
	}
}

// ClearCompletedEntries removes completed entries whose last update is older than the cutoff
func (m *MemoryStore) ClearCompletedEntries(_ context.Context, olderThanDays int) (int, error) {
	cutoff := queue.RetentionCutoff(olderThanDays)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := make(map[string]sequenced[*queue.Entry])
	for id, stored := range m.entries {
		if queue.IsRetentionExpired(stored.value, cutoff) {
			delete(m.entries, id)
			removed[id] = stored
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}
	if err := m.commitOrRollback(func() { m.putEntries(removed) }); err != nil {
		return 0, err
	}
	return len(removed), nil
}

// GetQueueStats counts entries per status
func (m *MemoryStore) GetQueueStats(_ context.Context) (queue.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats queue.Stats
	for _, stored := range m.entries {
		stats.Add(stored.value)
	}
	return stats, nil
}

// LastSyncedAt returns the latest completion time of an entry for the entity
func (m *MemoryStore) LastSyncedAt(_ context.Context, entityType, entityID string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *time.Time
	for _, stored := range m.entries {
		e := stored.value
		if e.EntityType != entityType || e.EntityID != entityID || e.Status != queue.StatusCompleted {
			continue
		}
		if latest == nil || e.UpdatedAt.After(*latest) {
			ts := e.UpdatedAt
			latest = &ts
		}
	}
	return latest, nil
}

// AddConflict stores a new conflict record
func (m *MemoryStore) AddConflict(_ context.Context, record *conflict.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conflicts[record.ID]; exists {
		return fmt.Errorf("%w: conflict %s", ErrDuplicate, record.ID)
	}
	m.conflicts[record.ID] = sequenced[*conflict.Record]{seq: m.nextSeq(), value: record.Clone()}
	return m.commitOrRollback(func() { delete(m.conflicts, record.ID) })
}

// GetConflict returns a copy of a conflict record
func (m *MemoryStore) GetConflict(_ context.Context, id string) (*conflict.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.conflicts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}
	return stored.value.Clone(), nil
}

// UpdateConflict replaces a stored conflict record
func (m *MemoryStore) UpdateConflict(_ context.Context, record *conflict.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.conflicts[record.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConflictNotFound, record.ID)
	}
	m.conflicts[record.ID] = sequenced[*conflict.Record]{seq: stored.seq, value: record.Clone()}
	return m.commitOrRollback(func() { m.conflicts[record.ID] = stored })
}

func (m *MemoryStore) selectConflicts(match func(r *conflict.Record) bool) []*conflict.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*conflict.Record, 0)
	for _, rec := range sortedBySeq(m.conflicts) {
		if match(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// ListPendingConflicts returns unresolved conflicts, oldest first
func (m *MemoryStore) ListPendingConflicts(_ context.Context) ([]*conflict.Record, error) {
	return m.selectConflicts(func(r *conflict.Record) bool {
		return r.Status != conflict.StatusResolved
	}), nil
}

// ListResolvedConflicts returns resolved conflicts, most recently resolved first
func (m *MemoryStore) ListResolvedConflicts(_ context.Context, limit int) ([]*conflict.Record, error) {
	resolved := m.selectConflicts(func(r *conflict.Record) bool {
		return r.Status == conflict.StatusResolved && r.ResolvedAt != nil
	})
	sort.SliceStable(resolved, func(i, j int) bool {
		return resolved[i].ResolvedAt.After(*resolved[j].ResolvedAt)
	})
	if limit > 0 && len(resolved) > limit {
		resolved = resolved[:limit]
	}
	return resolved, nil
}

// GetConflictsForEntry returns the conflicts recorded for one queue entry
func (m *MemoryStore) GetConflictsForEntry(_ context.Context, entryID string) ([]*conflict.Record, error) {
	return m.selectConflicts(func(r *conflict.Record) bool {
		return r.QueueEntryID == entryID
	}), nil
}

// AddRule appends a resolution rule
func (m *MemoryStore) AddRule(_ context.Context, rule *conflict.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.rules {
		if r.ID == rule.ID {
			return fmt.Errorf("%w: rule %s", ErrDuplicate, rule.ID)
		}
	}
	previous := m.rules
	rc := *rule
	m.rules = append(m.rules[:len(m.rules):len(m.rules)], &rc)
	return m.commitOrRollback(func() { m.rules = previous })
}

// ListRules returns the rules in insertion order
func (m *MemoryStore) ListRules(_ context.Context) ([]*conflict.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*conflict.Rule, len(m.rules))
	for i, r := range m.rules {
		rc := *r
		out[i] = &rc
	}
	return out, nil
}

// DeleteRule removes a rule
func (m *MemoryStore) DeleteRule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.rules {
		if r.ID == id {
			previous := m.rules
			m.rules = append(m.rules[:i:i], m.rules[i+1:]...)
			return m.commitOrRollback(func() { m.rules = previous })
		}
	}
	return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

// AppendHistory records a sync pass event, dropping the oldest record past the limit
func (m *MemoryStore) AppendHistory(_ context.Context, record *status.SyncRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.history
	m.history = append(m.history[:len(m.history):len(m.history)], cloneRecord(record))
	if m.historyLimit > 0 && len(m.history) > m.historyLimit {
		m.history = append([]*status.SyncRecord(nil), m.history[len(m.history)-m.historyLimit:]...)
	}
	return m.commitOrRollback(func() { m.history = previous })
}

// ListHistory returns sync records newest first
func (m *MemoryStore) ListHistory(_ context.Context, limit int) ([]*status.SyncRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*status.SyncRecord, 0, n)
	for i := len(m.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, cloneRecord(m.history[i]))
	}
	return out, nil
}

// Close is a no-op for the memory store
func (*MemoryStore) Close() error {
	return nil
}

func cloneRecord(r *status.SyncRecord) *status.SyncRecord {
	c := *r
	c.Errors = append([]status.EntryError(nil), r.Errors...)
	return &c
}
