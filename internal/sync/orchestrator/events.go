package orchestrator

import (
	"time"

	"github.com/stacklok/offline-sync/internal/status"
)

// EventType names an orchestrator event
type EventType string

const (
	// EventStarted is published once Start has finished wiring the engine
	EventStarted EventType = "started"

	// EventStopped is published once Stop has drained background work
	EventStopped EventType = "stopped"

	// EventSyncStarted is published when a pass begins
	EventSyncStarted EventType = "syncStarted"

	// EventSyncCompleted is published when every entry of a pass succeeded
	EventSyncCompleted EventType = "syncCompleted"

	// EventSyncFailed is published when a pass aborted or at least one entry failed
	EventSyncFailed EventType = "syncFailed"

	// EventSyncPaused is published when connectivity is lost
	EventSyncPaused EventType = "syncPaused"
)

// Event is delivered to orchestrator subscribers
type Event struct {
	Type      EventType          `json:"type"`
	SyncType  status.SyncType    `json:"syncType,omitempty"`
	PassID    string             `json:"passId,omitempty"`
	Result    *status.SyncResult `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}
