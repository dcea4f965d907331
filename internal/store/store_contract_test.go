package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/offline-sync/internal/conflict"
	"github.com/stacklok/offline-sync/internal/queue"
	"github.com/stacklok/offline-sync/internal/status"
)

var base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newEntry(id string, created time.Time, mutate func(e *queue.Entry)) *queue.Entry {
	e := &queue.Entry{
		ID:         id,
		Operation:  queue.OperationUpdate,
		EntityType: "employee",
		EntityID:   "emp-" + id,
		Payload:    json.RawMessage(`{"name":"A"}`),
		Status:     queue.StatusPending,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	if mutate != nil {
		mutate(e)
	}
	return e
}

func entryIDs(entries []*queue.Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func newConflict(id, entryID string, created time.Time) *conflict.Record {
	return &conflict.Record{
		ID:             id,
		QueueEntryID:   entryID,
		EntityType:     "employee",
		EntityID:       "emp-1",
		ConflictType:   conflict.TypeData,
		LocalData:      json.RawMessage(`{"name":"A"}`),
		RemoteData:     json.RawMessage(`{"name":"B"}`),
		ConflictFields: []string{"name"},
		Status:         conflict.StatusPending,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

// runStoreContract exercises behaviour every Store implementation must share.
// newStore must return an empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("entry_crud", func(t *testing.T) {
		s := newStore(t)

		entry := newEntry("e1", base, nil)
		require.NoError(t, s.AddEntry(ctx, entry))
		require.ErrorIs(t, s.AddEntry(ctx, entry), ErrDuplicate)

		got, err := s.GetEntry(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, queue.OperationUpdate, got.Operation)
		assert.Equal(t, "employee", got.EntityType)
		assert.Equal(t, "emp-e1", got.EntityID)
		assert.JSONEq(t, `{"name":"A"}`, string(got.Payload))
		assert.Equal(t, queue.StatusPending, got.Status)
		assert.True(t, base.Equal(got.CreatedAt))

		got.Status = queue.StatusFailed
		got.Attempts = 2
		got.LastError = "boom"
		require.NoError(t, s.UpdateEntry(ctx, got))

		reloaded, err := s.GetEntry(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, queue.StatusFailed, reloaded.Status)
		assert.Equal(t, 2, reloaded.Attempts)
		assert.Equal(t, "boom", reloaded.LastError)

		require.NoError(t, s.RemoveEntry(ctx, "e1"))
		_, err = s.GetEntry(ctx, "e1")
		require.ErrorIs(t, err, ErrEntryNotFound)
		require.ErrorIs(t, s.RemoveEntry(ctx, "e1"), ErrEntryNotFound)
		require.ErrorIs(t, s.UpdateEntry(ctx, entry), ErrEntryNotFound)
	})

	t.Run("delete_entry_without_payload", func(t *testing.T) {
		s := newStore(t)

		entry := newEntry("d1", base, func(e *queue.Entry) {
			e.Operation = queue.OperationDelete
			e.Payload = nil
		})
		require.NoError(t, s.AddEntry(ctx, entry))

		got, err := s.GetEntry(ctx, "d1")
		require.NoError(t, err)
		assert.Empty(t, got.Payload)
	})

	t.Run("list_entries_oldest_first", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.AddEntry(ctx, newEntry("c", base.Add(2*time.Second), nil)))
		require.NoError(t, s.AddEntry(ctx, newEntry("a", base, nil)))
		require.NoError(t, s.AddEntry(ctx, newEntry("b", base.Add(time.Second), nil)))
		require.NoError(t, s.AddEntry(ctx, newEntry("done", base, func(e *queue.Entry) {
			e.Status = queue.StatusCompleted
		})))

		pending, err := s.GetPendingEntries(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, entryIDs(pending))

		limited, err := s.ListEntries(ctx, queue.StatusPending, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, entryIDs(limited))

		all, err := s.ListEntries(ctx, "", 0)
		require.NoError(t, err)
		assert.Len(t, all, 4)

		forEntity, err := s.GetEntriesForEntity(ctx, "employee", "emp-b")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, entryIDs(forEntity))
	})

	t.Run("sync_batch_selects_eligible_entries", func(t *testing.T) {
		s := newStore(t)
		asOf := base.Add(time.Hour)
		later := asOf.Add(time.Minute)
		earlier := asOf.Add(-time.Minute)

		fixtures := []*queue.Entry{
			newEntry("pending", base, nil),
			newEntry("failed-due", base.Add(time.Second), func(e *queue.Entry) {
				e.Status = queue.StatusFailed
				e.Attempts = 1
				e.NextAttemptAt = &earlier
			}),
			newEntry("failed-waiting", base.Add(2*time.Second), func(e *queue.Entry) {
				e.Status = queue.StatusFailed
				e.Attempts = 1
				e.NextAttemptAt = &later
			}),
			newEntry("failed-permanent", base.Add(3*time.Second), func(e *queue.Entry) {
				e.Status = queue.StatusFailed
				e.Attempts = 1
				e.PermanentFailure = true
			}),
			newEntry("failed-exhausted", base.Add(4*time.Second), func(e *queue.Entry) {
				e.Status = queue.StatusFailed
				e.Attempts = queue.MaxRetryAttempts
			}),
			newEntry("processing", base.Add(5*time.Second), func(e *queue.Entry) {
				e.Status = queue.StatusProcessing
			}),
			newEntry("completed", base.Add(6*time.Second), func(e *queue.Entry) {
				e.Status = queue.StatusCompleted
			}),
			newEntry("failed-no-backoff", base.Add(7*time.Second), func(e *queue.Entry) {
				e.Status = queue.StatusFailed
				e.Attempts = 4
			}),
		}
		for _, e := range fixtures {
			require.NoError(t, s.AddEntry(ctx, e))
		}

		batch, err := s.GetSyncBatch(ctx, 0, asOf)
		require.NoError(t, err)
		assert.Equal(t, []string{"pending", "failed-due", "failed-no-backoff"}, entryIDs(batch))

		limited, err := s.GetSyncBatch(ctx, 2, asOf)
		require.NoError(t, err)
		assert.Equal(t, []string{"pending", "failed-due"}, entryIDs(limited))

		failed, err := s.GetFailedEntries(ctx)
		require.NoError(t, err)
		assert.Len(t, failed, 5)
	})

	t.Run("sync_batch_keeps_entity_order", func(t *testing.T) {
		s := newStore(t)
		asOf := base.Add(time.Hour)
		later := asOf.Add(time.Minute)
		earlier := asOf.Add(-time.Minute)
		forEntity := func(entityID string, mutate func(e *queue.Entry)) func(e *queue.Entry) {
			return func(e *queue.Entry) {
				e.EntityID = entityID
				if mutate != nil {
					mutate(e)
				}
			}
		}

		fixtures := []*queue.Entry{
			newEntry("waiting-old", base, forEntity("emp-1", func(e *queue.Entry) {
				e.Payload = json.RawMessage(`{"name":"old"}`)
				e.Status = queue.StatusFailed
				e.Attempts = 1
				e.NextAttemptAt = &later
			})),
			newEntry("waiting-new", base.Add(time.Second), forEntity("emp-1", func(e *queue.Entry) {
				e.Payload = json.RawMessage(`{"name":"new"}`)
			})),
			newEntry("busy-old", base.Add(2*time.Second), forEntity("emp-2", func(e *queue.Entry) {
				e.Status = queue.StatusProcessing
			})),
			newEntry("busy-new", base.Add(3*time.Second), forEntity("emp-2", nil)),
			newEntry("dead-old", base.Add(4*time.Second), forEntity("emp-3", func(e *queue.Entry) {
				e.Status = queue.StatusFailed
				e.Attempts = 1
				e.PermanentFailure = true
			})),
			newEntry("dead-new", base.Add(5*time.Second), forEntity("emp-3", nil)),
			newEntry("due-old", base.Add(6*time.Second), forEntity("emp-4", func(e *queue.Entry) {
				e.Status = queue.StatusFailed
				e.Attempts = 1
				e.NextAttemptAt = &earlier
			})),
			newEntry("due-new", base.Add(7*time.Second), forEntity("emp-4", nil)),
			newEntry("other-type", base.Add(8*time.Second), func(e *queue.Entry) {
				e.EntityType = "department"
				e.EntityID = "emp-1"
			}),
		}
		for _, e := range fixtures {
			require.NoError(t, s.AddEntry(ctx, e))
		}

		batch, err := s.GetSyncBatch(ctx, 0, asOf)
		require.NoError(t, err)
		assert.Equal(t, []string{"dead-new", "due-old", "due-new", "other-type"}, entryIDs(batch))

		limited, err := s.GetSyncBatch(ctx, 1, asOf)
		require.NoError(t, err)
		assert.Equal(t, []string{"dead-new"}, entryIDs(limited))

		batch, err = s.GetSyncBatch(ctx, 0, later)
		require.NoError(t, err)
		assert.Equal(t, []string{"waiting-old", "waiting-new", "dead-new", "due-old", "due-new", "other-type"},
			entryIDs(batch))
	})

	t.Run("update_entry_atomically", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.AddEntry(ctx, newEntry("e1", base, nil)))

		updated, err := s.UpdateEntryAtomically(ctx, "e1", func(e *queue.Entry) bool {
			e.Status = queue.StatusCompleted
			return false
		})
		require.NoError(t, err)
		assert.False(t, updated)

		got, err := s.GetEntry(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, queue.StatusPending, got.Status)

		updated, err = s.UpdateEntryAtomically(ctx, "e1", func(e *queue.Entry) bool {
			return queue.MarkProcessing(e) == nil
		})
		require.NoError(t, err)
		assert.True(t, updated)

		got, err = s.GetEntry(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, queue.StatusProcessing, got.Status)

		_, err = s.UpdateEntryAtomically(ctx, "missing", func(*queue.Entry) bool { return true })
		require.ErrorIs(t, err, ErrEntryNotFound)
	})

	t.Run("reset_interrupted", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.AddEntry(ctx, newEntry("p", base, func(e *queue.Entry) {
			e.Status = queue.StatusProcessing
		})))
		require.NoError(t, s.AddEntry(ctx, newEntry("c", base, func(e *queue.Entry) {
			e.Status = queue.StatusCompleted
		})))

		n, err := s.ResetInterrupted(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := s.GetEntry(ctx, "p")
		require.NoError(t, err)
		assert.Equal(t, queue.StatusPending, got.Status)
	})

	t.Run("clear_completed_entries", func(t *testing.T) {
		s := newStore(t)
		old := time.Now().UTC().Add(-10 * 24 * time.Hour)
		recent := time.Now().UTC()

		require.NoError(t, s.AddEntry(ctx, newEntry("old-completed", old, func(e *queue.Entry) {
			e.Status = queue.StatusCompleted
		})))
		require.NoError(t, s.AddEntry(ctx, newEntry("old-pending", old, nil)))
		require.NoError(t, s.AddEntry(ctx, newEntry("recent-completed", recent, func(e *queue.Entry) {
			e.Status = queue.StatusCompleted
		})))

		removed, err := s.ClearCompletedEntries(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		_, err = s.GetEntry(ctx, "old-completed")
		require.ErrorIs(t, err, ErrEntryNotFound)
		_, err = s.GetEntry(ctx, "old-pending")
		require.NoError(t, err)
		_, err = s.GetEntry(ctx, "recent-completed")
		require.NoError(t, err)
	})

	t.Run("queue_stats", func(t *testing.T) {
		s := newStore(t)
		statuses := []queue.Status{
			queue.StatusPending, queue.StatusPending, queue.StatusProcessing,
			queue.StatusCompleted, queue.StatusFailed,
		}
		for i, st := range statuses {
			require.NoError(t, s.AddEntry(ctx, newEntry(fmt.Sprintf("e%d", i), base, func(e *queue.Entry) {
				e.Status = st
			})))
		}
		require.NoError(t, s.AddEntry(ctx, newEntry("exhausted", base, func(e *queue.Entry) {
			e.Status = queue.StatusFailed
			e.Attempts = queue.MaxRetryAttempts
		})))

		stats, err := s.GetQueueStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, queue.Stats{
			Total:      6,
			Pending:    2,
			Processing: 1,
			Completed:  1,
			Failed:     2,
			Retryable:  1,
		}, stats)
	})

	t.Run("last_synced_at", func(t *testing.T) {
		s := newStore(t)

		none, err := s.LastSyncedAt(ctx, "employee", "emp-1")
		require.NoError(t, err)
		assert.Nil(t, none)

		for i, ts := range []time.Time{base, base.Add(time.Hour)} {
			require.NoError(t, s.AddEntry(ctx, newEntry(fmt.Sprintf("c%d", i), base, func(e *queue.Entry) {
				e.EntityID = "emp-1"
				e.Status = queue.StatusCompleted
				e.UpdatedAt = ts
			})))
		}
		require.NoError(t, s.AddEntry(ctx, newEntry("p", base, func(e *queue.Entry) {
			e.EntityID = "emp-1"
			e.UpdatedAt = base.Add(2 * time.Hour)
		})))

		last, err := s.LastSyncedAt(ctx, "employee", "emp-1")
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.True(t, base.Add(time.Hour).Equal(*last))
	})

	t.Run("conflicts", func(t *testing.T) {
		s := newStore(t)

		c1 := newConflict("c1", "e1", base)
		c2 := newConflict("c2", "e2", base.Add(time.Second))
		c3 := newConflict("c3", "e1", base.Add(2*time.Second))
		for _, c := range []*conflict.Record{c1, c2, c3} {
			require.NoError(t, s.AddConflict(ctx, c))
		}
		require.ErrorIs(t, s.AddConflict(ctx, c1), ErrDuplicate)

		got, err := s.GetConflict(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, conflict.TypeData, got.ConflictType)
		assert.Equal(t, []string{"name"}, got.ConflictFields)
		assert.JSONEq(t, `{"name":"B"}`, string(got.RemoteData))

		_, err = s.GetConflict(ctx, "missing")
		require.ErrorIs(t, err, ErrConflictNotFound)

		resolve := func(r *conflict.Record, at time.Time) {
			r.Status = conflict.StatusResolved
			r.Resolution = conflict.StrategyUseLocal
			r.ResolvedData = r.LocalData
			r.ResolvedBy = conflict.ResolvedBySystem
			r.ResolvedAt = &at
			r.UpdatedAt = at
			require.NoError(t, s.UpdateConflict(ctx, r))
		}
		resolve(c1, base.Add(time.Minute))
		resolve(c3, base.Add(2*time.Minute))

		pending, err := s.ListPendingConflicts(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "c2", pending[0].ID)

		resolved, err := s.ListResolvedConflicts(ctx, 0)
		require.NoError(t, err)
		require.Len(t, resolved, 2)
		assert.Equal(t, "c3", resolved[0].ID)
		assert.Equal(t, "c1", resolved[1].ID)
		assert.Equal(t, conflict.StrategyUseLocal, resolved[0].Resolution)
		assert.Equal(t, conflict.ResolvedBySystem, resolved[0].ResolvedBy)

		limited, err := s.ListResolvedConflicts(ctx, 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, "c3", limited[0].ID)

		forEntry, err := s.GetConflictsForEntry(ctx, "e1")
		require.NoError(t, err)
		require.Len(t, forEntry, 2)
		assert.Equal(t, "c1", forEntry[0].ID)
		assert.Equal(t, "c3", forEntry[1].ID)

		require.ErrorIs(t, s.UpdateConflict(ctx, newConflict("missing", "e9", base)), ErrConflictNotFound)
	})

	t.Run("rules", func(t *testing.T) {
		s := newStore(t)

		for i, id := range []string{"r2", "r1", "r3"} {
			require.NoError(t, s.AddRule(ctx, &conflict.Rule{
				ID:           id,
				EntityType:   "employee",
				ConflictType: conflict.TypeData,
				Resolution:   conflict.StrategyUseRemote,
				Priority:     i,
				IsActive:     true,
				CreatedAt:    base,
			}))
		}
		require.ErrorIs(t, s.AddRule(ctx, &conflict.Rule{ID: "r1", CreatedAt: base}), ErrDuplicate)

		rules, err := s.ListRules(ctx)
		require.NoError(t, err)
		require.Len(t, rules, 3)
		assert.Equal(t, "r2", rules[0].ID)
		assert.Equal(t, "r1", rules[1].ID)
		assert.Equal(t, "r3", rules[2].ID)
		assert.Equal(t, conflict.StrategyUseRemote, rules[0].Resolution)

		require.NoError(t, s.DeleteRule(ctx, "r1"))
		require.ErrorIs(t, s.DeleteRule(ctx, "r1"), ErrRuleNotFound)

		rules, err = s.ListRules(ctx)
		require.NoError(t, err)
		require.Len(t, rules, 2)
		assert.Equal(t, "r3", rules[1].ID)
	})

	t.Run("history_newest_first", func(t *testing.T) {
		s := newStore(t)

		for i := range 3 {
			require.NoError(t, s.AppendHistory(ctx, &status.SyncRecord{
				ID:             fmt.Sprintf("h%d", i),
				PassID:         "pass",
				Type:           status.SyncTypeManual,
				Phase:          status.SyncPhaseCompleted,
				ProcessedCount: i,
				Errors:         []status.EntryError{{EntryID: "e", Message: "boom"}},
				Duration:       time.Duration(i) * time.Second,
				Timestamp:      base.Add(time.Duration(i) * time.Second),
			}))
		}

		history, err := s.ListHistory(ctx, 0)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, "h2", history[0].ID)
		assert.Equal(t, "h0", history[2].ID)
		assert.Equal(t, 2*time.Second, history[0].Duration)
		require.Len(t, history[0].Errors, 1)
		assert.Equal(t, "boom", history[0].Errors[0].Message)

		limited, err := s.ListHistory(ctx, 2)
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, "h2", limited[0].ID)
		assert.Equal(t, "h1", limited[1].ID)
	})
}
