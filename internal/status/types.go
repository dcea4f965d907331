// Package status contains the records that describe sync passes: what triggered
// them, how far they got, and what they produced.
package status

import "time"

// SyncType identifies what triggered a sync pass
type SyncType string

const (
	// SyncTypeManual is a pass requested by an operator or API caller
	SyncTypeManual SyncType = "manual"

	// SyncTypeAutomatic is a pass started by the periodic scheduler
	SyncTypeAutomatic SyncType = "automatic"

	// SyncTypeConnectivityRestored is a pass started when the network came back
	SyncTypeConnectivityRestored SyncType = "connectivity-restored"
)

// IsValid reports whether t is a known sync type
func (t SyncType) IsValid() bool {
	switch t {
	case SyncTypeManual, SyncTypeAutomatic, SyncTypeConnectivityRestored:
		return true
	default:
		return false
	}
}

// SyncPhase represents the phase a history record was written in
type SyncPhase string

const (
	// SyncPhaseStarted is written when a pass begins
	SyncPhaseStarted SyncPhase = "started"

	// SyncPhaseCompleted is written when every entry in the pass succeeded
	SyncPhaseCompleted SyncPhase = "completed"

	// SyncPhaseFailed is written when at least one entry failed or the pass aborted
	SyncPhaseFailed SyncPhase = "failed"
)

// EntryError describes why a single queue entry failed within a pass
type EntryError struct {
	EntryID    string `json:"entryId" yaml:"entryId"`
	EntityType string `json:"entityType,omitempty" yaml:"entityType,omitempty"`
	EntityID   string `json:"entityId,omitempty" yaml:"entityId,omitempty"`
	Message    string `json:"message" yaml:"message"`
}

// SyncResult is returned to the caller of a sync pass
type SyncResult struct {
	Success        bool          `json:"success" yaml:"success"`
	ProcessedCount int           `json:"processedCount" yaml:"processedCount"`
	FailedCount    int           `json:"failedCount" yaml:"failedCount"`
	Errors         []EntryError  `json:"errors" yaml:"errors"`
	Duration       time.Duration `json:"duration" yaml:"duration"`
	Timestamp      time.Time     `json:"timestamp" yaml:"timestamp"`
}

// SyncRecord is one entry in the sync history log. A pass writes a started
// record and then a completed or failed record sharing the same PassID.
type SyncRecord struct {
	ID             string        `json:"id" yaml:"id"`
	PassID         string        `json:"passId" yaml:"passId"`
	Type           SyncType      `json:"type" yaml:"type"`
	Phase          SyncPhase     `json:"phase" yaml:"phase"`
	ProcessedCount int           `json:"processedCount" yaml:"processedCount"`
	FailedCount    int           `json:"failedCount" yaml:"failedCount"`
	Errors         []EntryError  `json:"errors,omitempty" yaml:"errors,omitempty"`
	Message        string        `json:"message,omitempty" yaml:"message,omitempty"`
	Duration       time.Duration `json:"duration" yaml:"duration"`
	Timestamp      time.Time     `json:"timestamp" yaml:"timestamp"`
}
