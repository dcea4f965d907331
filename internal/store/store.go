// Package store contains the persistent queue store: queue entries, conflict
// records, automatic resolution rules and the sync history log.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/stacklok/offline-sync/internal/conflict"
	"github.com/stacklok/offline-sync/internal/queue"
	"github.com/stacklok/offline-sync/internal/status"
)

var (
	// ErrEntryNotFound is returned when a queue entry does not exist
	ErrEntryNotFound = errors.New("queue entry not found")

	// ErrConflictNotFound is returned when a conflict record does not exist
	ErrConflictNotFound = conflict.ErrNotFound

	// ErrRuleNotFound is returned when a resolution rule does not exist
	ErrRuleNotFound = errors.New("resolution rule not found")

	// ErrDuplicate is returned when a record with the same id already exists
	ErrDuplicate = errors.New("record already exists")
)

// Store is the single source of truth for sync state. Implementations must make
// each method atomic on its own; callers never hold locks across calls.
type Store interface {
	EntryStore
	conflict.Repository
	HistoryStore

	// GetConflictsForEntry returns every conflict recorded for a queue entry, oldest first
	GetConflictsForEntry(ctx context.Context, entryID string) ([]*conflict.Record, error)

	// Close releases resources held by the store
	Close() error
}

// EntryStore persists queue entries
type EntryStore interface {
	AddEntry(ctx context.Context, entry *queue.Entry) error
	GetEntry(ctx context.Context, id string) (*queue.Entry, error)
	UpdateEntry(ctx context.Context, entry *queue.Entry) error
	RemoveEntry(ctx context.Context, id string) error

	// UpdateEntryAtomically loads the entry, applies testAndUpdateFn and stores the
	// result if the function reports a change, all as one atomic step.
	UpdateEntryAtomically(
		ctx context.Context,
		id string,
		testAndUpdateFn func(entry *queue.Entry) bool,
	) (bool, error)

	// ListEntries returns entries oldest first. An empty status matches every entry
	// and a limit of zero or less returns everything.
	ListEntries(ctx context.Context, status queue.Status, limit int) ([]*queue.Entry, error)

	// GetPendingEntries returns pending entries oldest first
	GetPendingEntries(ctx context.Context, limit int) ([]*queue.Entry, error)

	// GetSyncBatch returns pending entries and failed entries that automatic retry
	// may pick up at asOf, oldest first. Entries queued behind an older entry for the
	// same entity that is processing or still waiting out its backoff are left out.
	GetSyncBatch(ctx context.Context, limit int, asOf time.Time) ([]*queue.Entry, error)

	GetEntriesForEntity(ctx context.Context, entityType, entityID string) ([]*queue.Entry, error)
	GetFailedEntries(ctx context.Context) ([]*queue.Entry, error)

	// ResetInterrupted moves entries left in processing by a previous run back to pending
	ResetInterrupted(ctx context.Context) (int, error)

	// ClearCompletedEntries removes completed entries older than the given number of days
	ClearCompletedEntries(ctx context.Context, olderThanDays int) (int, error)

	GetQueueStats(ctx context.Context) (queue.Stats, error)

	// LastSyncedAt returns when an entry for the entity last completed, or nil if unknown
	LastSyncedAt(ctx context.Context, entityType, entityID string) (*time.Time, error)
}

// HistoryStore persists sync pass records
type HistoryStore interface {
	AppendHistory(ctx context.Context, record *status.SyncRecord) error

	// ListHistory returns records newest first. A limit of zero or less returns everything.
	ListHistory(ctx context.Context, limit int) ([]*status.SyncRecord, error)
}
