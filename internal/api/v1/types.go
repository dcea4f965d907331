package v1

import (
	"encoding/json"

	"github.com/stacklok/offline-sync/internal/conflict"
	"github.com/stacklok/offline-sync/internal/queue"
	"github.com/stacklok/offline-sync/internal/status"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status" example:"healthy"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Status string `json:"status" example:"ready"`
}

// EnqueueRequest is the body of POST /api/v1/queue/entries
type EnqueueRequest struct {
	Operation  queue.Operation `json:"operation" example:"update"`
	EntityType string          `json:"entityType" example:"employee"`
	EntityID   string          `json:"entityId" example:"emp-1"`
	Payload    json.RawMessage `json:"payload,omitempty" swaggertype:"object"`
}

// EntryListResponse wraps a list of queue entries
type EntryListResponse struct {
	Entries []*queue.Entry `json:"entries"`
	Count   int            `json:"count"`
}

// ClearCompletedResponse reports how many entries the retention sweep removed
type ClearCompletedResponse struct {
	Removed int `json:"removed"`
}

// TriggerSyncRequest is the optional body of POST /api/v1/sync
type TriggerSyncRequest struct {
	Type status.SyncType `json:"type" example:"manual"`
}

// SyncHistoryResponse wraps sync history records, newest first
type SyncHistoryResponse struct {
	Records []*status.SyncRecord `json:"records"`
	Count   int                  `json:"count"`
}

// ConflictListResponse wraps pending conflict records
type ConflictListResponse struct {
	Conflicts []*conflict.Record `json:"conflicts"`
	Count     int                `json:"count"`
}

// ResolutionHistoryResponse wraps applied resolutions, newest first
type ResolutionHistoryResponse struct {
	Resolutions []conflict.HistoryEntry `json:"resolutions"`
	Count       int                     `json:"count"`
}

// ResolveConflictRequest is the body of POST /api/v1/conflicts/{id}/resolve
type ResolveConflictRequest struct {
	Resolution   conflict.Strategy `json:"resolution" example:"use_remote"`
	ResolvedBy   string            `json:"resolvedBy,omitempty" example:"alice"`
	ResolvedData json.RawMessage   `json:"resolvedData,omitempty" swaggertype:"object"`
}

// RuleListResponse wraps resolution rules in insertion order
type RuleListResponse struct {
	Rules []*conflict.Rule `json:"rules"`
	Count int              `json:"count"`
}

// nonNil keeps empty lists serialised as [] rather than null
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
