package v1_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	v1 "github.com/stacklok/offline-sync/internal/api/v1"
	"github.com/stacklok/offline-sync/internal/conflict"
	"github.com/stacklok/offline-sync/internal/connectivity"
	"github.com/stacklok/offline-sync/internal/queue"
	"github.com/stacklok/offline-sync/internal/status"
	"github.com/stacklok/offline-sync/internal/store"
	pkgsync "github.com/stacklok/offline-sync/internal/sync"
	"github.com/stacklok/offline-sync/internal/sync/orchestrator"
	"github.com/stacklok/offline-sync/internal/sync/orchestrator/mocks"
)

func newResolver(t *testing.T) *conflict.Resolver {
	t.Helper()
	cfg := conflict.DefaultConfig()
	cfg.AutoResolve = false
	return conflict.NewResolver(store.NewMemoryStore(), cfg)
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestQueueRoutes(t *testing.T) {
	t.Parallel()

	failedEntry := &queue.Entry{ID: "entry-1", Operation: queue.OperationUpdate, Status: queue.StatusFailed}

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		setup      func(m *mocks.MockOrchestrator)
		wantStatus int
		wantBody   string
	}{
		{
			name:   "enqueue entry",
			method: http.MethodPost,
			path:   "/queue/entries",
			body:   `{"operation":"update","entityType":"employee","entityId":"emp-1","payload":{"name":"A"}}`,
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().
					EnqueueEntry(gomock.Any(), queue.OperationUpdate, "employee", "emp-1", json.RawMessage(`{"name":"A"}`)).
					Return(&queue.Entry{ID: "entry-1", Status: queue.StatusPending}, nil)
			},
			wantStatus: http.StatusCreated,
		},
		{
			name:   "enqueue invalid entry",
			method: http.MethodPost,
			path:   "/queue/entries",
			body:   `{"operation":"delete","entityType":"employee","entityId":"emp-1","payload":{"name":"A"}}`,
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().EnqueueEntry(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Return(nil, &queue.ValidationError{Field: "payload", Message: "must be empty for delete"})
			},
			wantStatus: http.StatusBadRequest,
			wantBody:   "payload must be empty for delete",
		},
		{
			name:       "enqueue malformed body",
			method:     http.MethodPost,
			path:       "/queue/entries",
			body:       `{"operation":`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "invalid request body",
		},
		{
			name:   "requeue entry",
			method: http.MethodPost,
			path:   "/queue/entries/entry-1/requeue",
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().RequeueEntry(gomock.Any(), "entry-1").
					Return(&queue.Entry{ID: "entry-1", Status: queue.StatusPending}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:   "requeue unknown entry",
			method: http.MethodPost,
			path:   "/queue/entries/missing/requeue",
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().RequeueEntry(gomock.Any(), "missing").
					Return(nil, fmt.Errorf("%w: missing", store.ErrEntryNotFound))
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:   "requeue exhausted entry",
			method: http.MethodPost,
			path:   "/queue/entries/entry-1/requeue",
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().RequeueEntry(gomock.Any(), "entry-1").
					Return(nil, fmt.Errorf("%w: queue entry entry-1 after 5 attempts", queue.ErrAttemptsExhausted))
			},
			wantStatus: http.StatusConflict,
		},
		{
			name:   "requeue pending entry",
			method: http.MethodPost,
			path:   "/queue/entries/entry-1/requeue",
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().RequeueEntry(gomock.Any(), "entry-1").
					Return(nil, &queue.TransitionError{EntryID: "entry-1", From: queue.StatusPending, To: queue.StatusPending})
			},
			wantStatus: http.StatusConflict,
		},
		{
			name:   "queue stats",
			method: http.MethodGet,
			path:   "/queue/stats",
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().GetQueueStats(gomock.Any()).Return(queue.Stats{Total: 3, Pending: 2, Failed: 1}, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   `"pending":2`,
		},
		{
			name:   "failed entries",
			method: http.MethodGet,
			path:   "/queue/failed",
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().GetFailedEntries(gomock.Any()).Return([]*queue.Entry{failedEntry}, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   `"count":1`,
		},
		{
			name:   "no failed entries",
			method: http.MethodGet,
			path:   "/queue/failed",
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().GetFailedEntries(gomock.Any()).Return(nil, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   `"entries":[]`,
		},
		{
			name:   "clear completed with default age",
			method: http.MethodDelete,
			path:   "/queue/completed",
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().ClearCompletedEntries(gomock.Any(), 7).Return(4, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   `"removed":4`,
		},
		{
			name:   "clear completed with explicit age",
			method: http.MethodDelete,
			path:   "/queue/completed?olderThanDays=30",
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().ClearCompletedEntries(gomock.Any(), 30).Return(0, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "clear completed with bad age",
			method:     http.MethodDelete,
			path:       "/queue/completed?olderThanDays=-1",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "store failure hides details",
			method: http.MethodGet,
			path:   "/queue/stats",
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().GetQueueStats(gomock.Any()).Return(queue.Stats{}, fmt.Errorf("disk on fire"))
			},
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"Failed to get queue stats"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			t.Cleanup(ctrl.Finish)

			orch := mocks.NewMockOrchestrator(ctrl)
			if tt.setup != nil {
				tt.setup(orch)
			}

			rr := serve(t, v1.Router(orch, newResolver(t)), tt.method, tt.path, tt.body)

			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			if tt.wantBody != "" {
				assert.Contains(t, rr.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestSyncRoutes(t *testing.T) {
	t.Parallel()

	result := &status.SyncResult{Success: true, ProcessedCount: 2, Errors: []status.EntryError{}}

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		setup      func(m *mocks.MockOrchestrator)
		wantStatus int
		wantBody   string
	}{
		{
			name:   "trigger without body runs a manual pass",
			method: http.MethodPost,
			path:   "/sync",
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().TriggerSync(gomock.Any(), status.SyncTypeManual).Return(result, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   `"processedCount":2`,
		},
		{
			name:   "trigger with explicit type",
			method: http.MethodPost,
			path:   "/sync",
			body:   `{"type":"automatic"}`,
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().TriggerSync(gomock.Any(), status.SyncTypeAutomatic).Return(result, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "trigger with unknown type",
			method:     http.MethodPost,
			path:       "/sync",
			body:       `{"type":"nightly"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `unknown sync type`,
		},
		{
			name:   "trigger while offline",
			method: http.MethodPost,
			path:   "/sync",
			body:   `{"type":"manual"}`,
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().TriggerSync(gomock.Any(), status.SyncTypeManual).
					Return(nil, &pkgsync.OfflineError{OfflineFor: time.Minute})
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "cannot sync while offline (offline for 1m0s)",
		},
		{
			name:   "trigger at concurrency limit",
			method: http.MethodPost,
			path:   "/sync",
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().TriggerSync(gomock.Any(), status.SyncTypeManual).
					Return(nil, &pkgsync.ConcurrencyLimitError{Active: 3, Limit: 3})
			},
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:   "retry failed entries",
			method: http.MethodPost,
			path:   "/sync/retry",
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().RetryFailedEntries(gomock.Any()).Return(result, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   `"success":true`,
		},
		{
			name:   "history with limit",
			method: http.MethodGet,
			path:   "/sync/history?limit=5",
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().GetSyncHistory(gomock.Any(), 5).Return([]*status.SyncRecord{
					{ID: "r2", PassID: "p1", Type: status.SyncTypeManual, Phase: status.SyncPhaseCompleted},
					{ID: "r1", PassID: "p1", Type: status.SyncTypeManual, Phase: status.SyncPhaseStarted},
				}, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   `"count":2`,
		},
		{
			name:   "history with default limit",
			method: http.MethodGet,
			path:   "/sync/history",
			setup: func(m *mocks.MockOrchestrator) {
				m.EXPECT().GetSyncHistory(gomock.Any(), 50).Return(nil, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   `"records":[]`,
		},
		{
			name:       "history with bad limit",
			method:     http.MethodGet,
			path:       "/sync/history?limit=all",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			t.Cleanup(ctrl.Finish)

			orch := mocks.NewMockOrchestrator(ctrl)
			if tt.setup != nil {
				tt.setup(orch)
			}

			rr := serve(t, v1.Router(orch, newResolver(t)), tt.method, tt.path, tt.body)

			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.wantBody != "" {
				assert.Contains(t, rr.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestStatusRoute(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	offlineFor := 90 * time.Second
	orch := mocks.NewMockOrchestrator(ctrl)
	orch.EXPECT().GetStatus(gomock.Any()).Return(&orchestrator.Status{
		Running:         true,
		AutoSync:        true,
		Connectivity:    connectivity.Status{IsOnline: false},
		OfflineDuration: &offlineFor,
		Queue:           queue.Stats{Total: 1, Pending: 1},
	}, nil)

	rr := serve(t, v1.Router(orch, newResolver(t)), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rr.Code)

	got := decode[orchestrator.Status](t, rr)
	assert.True(t, got.Running)
	assert.False(t, got.Connectivity.IsOnline)
	require.NotNil(t, got.OfflineDuration)
	assert.Equal(t, offlineFor, *got.OfflineDuration)
	assert.Equal(t, 1, got.Queue.Pending)
}

func seedConflict(t *testing.T, resolver *conflict.Resolver) *conflict.Record {
	t.Helper()
	record, err := resolver.Resolve(context.Background(), conflict.Input{
		QueueEntryID: "entry-1",
		EntityType:   "employee",
		EntityID:     "emp-1",
		Local:        json.RawMessage(`{"name":"A","dept":"x"}`),
		Remote:       json.RawMessage(`{"name":"B","dept":"x"}`),
	})
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, conflict.StatusPending, record.Status)
	return record
}

func TestConflictRoutes(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	resolver := newResolver(t)
	record := seedConflict(t, resolver)
	router := v1.Router(mocks.NewMockOrchestrator(ctrl), resolver)

	rr := serve(t, router, http.MethodGet, "/conflicts", "")
	require.Equal(t, http.StatusOK, rr.Code)
	pending := decode[v1.ConflictListResponse](t, rr)
	require.Equal(t, 1, pending.Count)
	assert.Equal(t, record.ID, pending.Conflicts[0].ID)
	assert.Equal(t, []string{"name"}, pending.Conflicts[0].ConflictFields)

	resolvePath := "/conflicts/" + record.ID + "/resolve"

	rr = serve(t, router, http.MethodPost, resolvePath, `{"resolution":"coin_flip"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, router, http.MethodPost, resolvePath, `{"resolution":"manual"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), conflict.ErrManualDataRequired.Error())

	rr = serve(t, router, http.MethodPost, "/conflicts/unknown/resolve", `{"resolution":"use_remote"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(t, router, http.MethodPost, resolvePath,
		`{"resolution":"manual","resolvedBy":"alice","resolvedData":{"name":"C","dept":"x"}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resolved := decode[conflict.Record](t, rr)
	assert.Equal(t, conflict.StatusResolved, resolved.Status)
	assert.Equal(t, "alice", resolved.ResolvedBy)
	assert.JSONEq(t, `{"name":"C","dept":"x"}`, string(resolved.ResolvedData))

	rr = serve(t, router, http.MethodPost, resolvePath, `{"resolution":"use_local"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = serve(t, router, http.MethodGet, "/conflicts", "")
	assert.Contains(t, rr.Body.String(), `"count":0`)

	rr = serve(t, router, http.MethodGet, "/conflicts/history?limit=10", "")
	require.Equal(t, http.StatusOK, rr.Code)
	history := decode[v1.ResolutionHistoryResponse](t, rr)
	require.Equal(t, 1, history.Count)
	assert.Equal(t, record.ID, history.Resolutions[0].ConflictID)
	assert.Equal(t, conflict.StrategyManual, history.Resolutions[0].Resolution)
}

func TestRuleRoutes(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	router := v1.Router(mocks.NewMockOrchestrator(ctrl), newResolver(t))

	rr := serve(t, router, http.MethodPost, "/rules",
		`{"id":"emp-remote","entityType":"employee","conflictType":"data","resolution":"use_remote","priority":10,"isActive":true}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[conflict.Rule](t, rr)
	assert.Equal(t, "emp-remote", created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	rr = serve(t, router, http.MethodPost, "/rules",
		`{"id":"emp-remote","entityType":"employee","conflictType":"data","resolution":"use_local"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = serve(t, router, http.MethodPost, "/rules",
		`{"entityType":"employee","conflictType":"data","resolution":"manual"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "rule resolution must be")

	rr = serve(t, router, http.MethodPost, "/rules", `{"entityType":"*","conflictType":"sideways","resolution":"merge"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, router, http.MethodGet, "/rules", "")
	require.Equal(t, http.StatusOK, rr.Code)
	rules := decode[v1.RuleListResponse](t, rr)
	require.Equal(t, 1, rules.Count)
	assert.Equal(t, conflict.StrategyUseRemote, rules.Rules[0].Resolution)

	rr = serve(t, router, http.MethodDelete, "/rules/emp-remote", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = serve(t, router, http.MethodDelete, "/rules/emp-remote", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
