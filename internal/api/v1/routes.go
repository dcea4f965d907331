// Package v1 provides the management API for the sync engine: queue
// inspection, sync triggers, conflict resolution and rule management.
package v1

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/offline-sync/internal/api/common"
	"github.com/stacklok/offline-sync/internal/conflict"
	"github.com/stacklok/offline-sync/internal/connectivity"
	"github.com/stacklok/offline-sync/internal/events"
	"github.com/stacklok/offline-sync/internal/sync/orchestrator"
)

// ConflictService is the part of the conflict resolver the API exposes
//
//go:generate mockgen -destination=mocks/mock_conflict_service.go -package=mocks -source=routes.go ConflictService
type ConflictService interface {
	GetPendingConflicts(ctx context.Context) ([]*conflict.Record, error)
	GetResolutionHistory(ctx context.Context, limit int) ([]conflict.HistoryEntry, error)
	ApplyResolution(
		ctx context.Context, conflictID string, strategy conflict.Strategy, resolvedBy string, data json.RawMessage,
	) (*conflict.Record, error)
	AddRule(ctx context.Context, rule *conflict.Rule) (*conflict.Rule, error)
	ListRules(ctx context.Context) ([]*conflict.Rule, error)
	DeleteRule(ctx context.Context, id string) error
	Subscribe(fn events.Listener[conflict.Event]) (unsubscribe func())
}

var _ ConflictService = (*conflict.Resolver)(nil)

// ConnectivityEvents is the part of the connectivity monitor the event stream follows
type ConnectivityEvents interface {
	Subscribe(fn events.Listener[connectivity.Event]) (unsubscribe func())
}

var _ ConnectivityEvents = (*connectivity.Monitor)(nil)

// Routes handles HTTP requests for the v1 management API
type Routes struct {
	orch           orchestrator.Orchestrator
	conflicts      ConflictService
	connectivity   ConnectivityEvents
	originPatterns []string
}

// RouterOption configures optional parts of the v1 API
type RouterOption func(*Routes)

// WithConnectivity forwards connectivity transitions to /events subscribers
func WithConnectivity(c ConnectivityEvents) RouterOption {
	return func(routes *Routes) {
		routes.connectivity = c
	}
}

// WithOriginPatterns lets browsers on matching hosts open /events.
// Without patterns only same-origin upgrades are accepted.
func WithOriginPatterns(patterns ...string) RouterOption {
	return func(routes *Routes) {
		routes.originPatterns = append(routes.originPatterns, patterns...)
	}
}

// NewRoutes creates a new Routes instance
func NewRoutes(orch orchestrator.Orchestrator, conflicts ConflictService, opts ...RouterOption) *Routes {
	routes := &Routes{
		orch:      orch,
		conflicts: conflicts,
	}
	for _, opt := range opts {
		opt(routes)
	}
	return routes
}

// Router creates the HTTP router for the v1 management API
func Router(orch orchestrator.Orchestrator, conflicts ConflictService, opts ...RouterOption) http.Handler {
	routes := NewRoutes(orch, conflicts, opts...)

	r := chi.NewRouter()

	r.Get("/status", routes.getStatus)

	r.Route("/queue", func(r chi.Router) {
		r.Post("/entries", routes.enqueueEntry)
		r.Post("/entries/{id}/requeue", routes.requeueEntry)
		r.Get("/stats", routes.getQueueStats)
		r.Get("/failed", routes.getFailedEntries)
		r.Delete("/completed", routes.clearCompletedEntries)
	})

	r.Route("/sync", func(r chi.Router) {
		r.Post("/", routes.triggerSync)
		r.Post("/retry", routes.retryFailedEntries)
		r.Get("/history", routes.getSyncHistory)
	})

	r.Route("/conflicts", func(r chi.Router) {
		r.Get("/", routes.listConflicts)
		r.Get("/history", routes.getResolutionHistory)
		r.Post("/{id}/resolve", routes.resolveConflict)
	})

	r.Route("/rules", func(r chi.Router) {
		r.Get("/", routes.listRules)
		r.Post("/", routes.addRule)
		r.Delete("/{id}", routes.deleteRule)
	})

	r.Get("/events", routes.streamEvents)

	return r
}

// getStatus handles GET /api/v1/status
//
// @Summary		Engine status
// @Description	Running flag, connectivity, active passes, queue stats and the last pass result
// @Tags			status
// @Produce		json
// @Success		200	{object}	orchestrator.Status
// @Failure		500	{object}	common.ErrorResponse
// @Router			/api/v1/status [get]
func (routes *Routes) getStatus(w http.ResponseWriter, r *http.Request) {
	st, err := routes.orch.GetStatus(r.Context())
	if err != nil {
		writeServiceError(w, r, "Failed to get status", err)
		return
	}
	common.WriteJSONResponse(w, st, http.StatusOK)
}
