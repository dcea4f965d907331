// Package conflict detects divergence between a queued local mutation and the
// remote state of the same entity, and resolves it automatically or leaves it
// pending for an operator.
package conflict

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type classifies a detected divergence
type Type string

const (
	// TypeTimestamp means both sides changed after the last sync, too far apart to be the same write
	TypeTimestamp Type = "timestamp"

	// TypeData means at least one non-audit field differs
	TypeData Type = "data"

	// TypeDeletion means exactly one side no longer has the entity
	TypeDeletion Type = "deletion"
)

// IsValid reports whether t is a known conflict type
func (t Type) IsValid() bool {
	switch t {
	case TypeTimestamp, TypeData, TypeDeletion:
		return true
	default:
		return false
	}
}

// Strategy is how a conflict is (or should be) resolved
type Strategy string

const (
	// StrategyUseLocal keeps the queued local payload
	StrategyUseLocal Strategy = "use_local"

	// StrategyUseRemote keeps the remote snapshot
	StrategyUseRemote Strategy = "use_remote"

	// StrategyMerge combines both sides field by field, last writer wins
	StrategyMerge Strategy = "merge"

	// StrategyManual uses data supplied by an operator
	StrategyManual Strategy = "manual"
)

// IsValid reports whether s is a known strategy
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyUseLocal, StrategyUseRemote, StrategyMerge, StrategyManual:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a conflict record
type Status string

const (
	// StatusPending means the conflict awaits resolution
	StatusPending Status = "pending"

	// StatusResolved means a resolution was applied
	StatusResolved Status = "resolved"

	// StatusFailed means applying a resolution failed
	StatusFailed Status = "failed"
)

// ResolvedBySystem is recorded for automatic resolutions
const ResolvedBySystem = "system"

// Record is the durable trace of one detected divergence
type Record struct {
	ID             string          `json:"id" yaml:"id"`
	QueueEntryID   string          `json:"queueEntryId" yaml:"queueEntryId"`
	EntityType     string          `json:"entityType" yaml:"entityType"`
	EntityID       string          `json:"entityId" yaml:"entityId"`
	ConflictType   Type            `json:"conflictType" yaml:"conflictType"`
	LocalData      json.RawMessage `json:"localData,omitempty" yaml:"localData,omitempty"`
	RemoteData     json.RawMessage `json:"remoteData,omitempty" yaml:"remoteData,omitempty"`
	ConflictFields []string        `json:"conflictFields" yaml:"conflictFields"`
	Resolution     Strategy        `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	ResolvedData   json.RawMessage `json:"resolvedData,omitempty" yaml:"resolvedData,omitempty"`
	ResolvedBy     string          `json:"resolvedBy,omitempty" yaml:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time      `json:"resolvedAt,omitempty" yaml:"resolvedAt,omitempty"`
	Status         Status          `json:"status" yaml:"status"`
	CreatedAt      time.Time       `json:"createdAt" yaml:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt" yaml:"updatedAt"`
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.LocalData = cloneRaw(r.LocalData)
	c.RemoteData = cloneRaw(r.RemoteData)
	c.ResolvedData = cloneRaw(r.ResolvedData)
	c.ConflictFields = append([]string(nil), r.ConflictFields...)
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// Rule maps a conflict shape to an automatic resolution
type Rule struct {
	ID           string    `json:"id" yaml:"id"`
	EntityType   string    `json:"entityType" yaml:"entityType"`
	ConflictType Type      `json:"conflictType" yaml:"conflictType"`
	FieldPattern string    `json:"fieldPattern,omitempty" yaml:"fieldPattern,omitempty"`
	Resolution   Strategy  `json:"resolution" yaml:"resolution"`
	Priority     int       `json:"priority" yaml:"priority"`
	IsActive     bool      `json:"isActive" yaml:"isActive"`
	CreatedAt    time.Time `json:"createdAt" yaml:"createdAt"`
}

// Validate checks that the rule can be used for automatic resolution
func (r *Rule) Validate() error {
	if r.EntityType == "" {
		return errors.New("rule entityType is required")
	}
	if !r.ConflictType.IsValid() {
		return fmt.Errorf("rule conflictType %q is not valid", r.ConflictType)
	}
	switch r.Resolution {
	case StrategyUseLocal, StrategyUseRemote, StrategyMerge:
	default:
		return fmt.Errorf("rule resolution must be use_local, use_remote or merge (got %q)", r.Resolution)
	}
	if r.FieldPattern != "" {
		if _, err := compilePattern(r.FieldPattern); err != nil {
			return fmt.Errorf("rule fieldPattern is not a valid expression: %w", err)
		}
	}
	return nil
}

// HistoryEntry is one line of the resolution history log
type HistoryEntry struct {
	ConflictID   string    `json:"conflictId"`
	QueueEntryID string    `json:"queueEntryId"`
	EntityType   string    `json:"entityType"`
	EntityID     string    `json:"entityId"`
	ConflictType Type      `json:"conflictType"`
	Resolution   Strategy  `json:"resolution"`
	ResolvedBy   string    `json:"resolvedBy"`
	ResolvedAt   time.Time `json:"resolvedAt"`
}

// EventType identifies a resolver event
type EventType string

const (
	// EventConflictDetected is published when a new conflict record is created
	EventConflictDetected EventType = "conflictDetected"

	// EventConflictResolved is published when a resolution is applied
	EventConflictResolved EventType = "conflictResolved"
)

// Event is delivered to resolver subscribers
type Event struct {
	Type   EventType
	Record *Record
}

var (
	// ErrNotFound is returned when a conflict record does not exist
	ErrNotFound = errors.New("conflict not found")

	// ErrAlreadyResolved is returned when a resolution is applied to a resolved record
	ErrAlreadyResolved = errors.New("conflict already resolved")

	// ErrManualDataRequired is returned when a manual resolution carries no data
	ErrManualDataRequired = errors.New("manual resolution requires resolved data")
)

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
