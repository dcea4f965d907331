// Package queue contains the queue entry model and the state machine that governs
// how a locally recorded mutation moves from pending to completed or failed.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxRetryAttempts is the number of failed attempts after which an entry is no
// longer picked up for automatic retry.
const MaxRetryAttempts = 5

// Operation is the kind of mutation recorded in a queue entry
type Operation string

const (
	// OperationCreate creates a new entity on the remote
	OperationCreate Operation = "create"

	// OperationUpdate updates an existing entity on the remote
	OperationUpdate Operation = "update"

	// OperationDelete deletes an entity on the remote
	OperationDelete Operation = "delete"
)

// IsValid reports whether the operation is one of the known operations
func (o Operation) IsValid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a queue entry
type Status string

const (
	// StatusPending means the entry is waiting to be replayed
	StatusPending Status = "pending"

	// StatusProcessing means a sync pass has claimed the entry
	StatusProcessing Status = "processing"

	// StatusCompleted means the entry was applied remotely
	StatusCompleted Status = "completed"

	// StatusFailed means the last attempt failed
	StatusFailed Status = "failed"
)

// Entry is a single local mutation awaiting replay against the remote system of record
type Entry struct {
	ID            string          `json:"id" yaml:"id"`
	Operation     Operation       `json:"operation" yaml:"operation"`
	EntityType    string          `json:"entityType" yaml:"entityType"`
	EntityID      string          `json:"entityId" yaml:"entityId"`
	Payload       json.RawMessage `json:"payload,omitempty" yaml:"payload,omitempty"`
	Attempts      int             `json:"attempts" yaml:"attempts"`
	LastAttemptAt *time.Time      `json:"lastAttemptAt,omitempty" yaml:"lastAttemptAt,omitempty"`
	Status        Status          `json:"status" yaml:"status"`
	CreatedAt     time.Time       `json:"createdAt" yaml:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt" yaml:"updatedAt"`
	ConflictData  json.RawMessage `json:"conflictData,omitempty" yaml:"conflictData,omitempty"`

	// LastError holds the message of the most recent failure
	LastError string `json:"lastError,omitempty" yaml:"lastError,omitempty"`

	// PermanentFailure marks a failure that automatic retry must not pick up again
	// (for example a 4xx rejection from the remote). Only a manual requeue clears it.
	PermanentFailure bool `json:"permanentFailure,omitempty" yaml:"permanentFailure,omitempty"`

	// NextAttemptAt is the earliest time automatic retry may pick a failed entry up
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty" yaml:"nextAttemptAt,omitempty"`
}

// Clone returns a deep copy of the entry
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Payload != nil {
		c.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	if e.ConflictData != nil {
		c.ConflictData = append(json.RawMessage(nil), e.ConflictData...)
	}
	if e.LastAttemptAt != nil {
		t := *e.LastAttemptAt
		c.LastAttemptAt = &t
	}
	if e.NextAttemptAt != nil {
		t := *e.NextAttemptAt
		c.NextAttemptAt = &t
	}
	return &c
}

// Stats summarises the contents of the queue
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`

	// Retryable counts failed entries that automatic retry can still pick up
	Retryable int `json:"retryable"`
}

// Add counts a single entry into the stats
func (s *Stats) Add(e *Entry) {
	s.Total++
	switch e.Status {
	case StatusPending:
		s.Pending++
	case StatusProcessing:
		s.Processing++
	case StatusCompleted:
		s.Completed++
	case StatusFailed:
		s.Failed++
		if ShouldRetry(e) {
			s.Retryable++
		}
	}
}

// ValidationError is returned when a queue entry cannot be constructed from the given input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid queue entry: %s %s", e.Field, e.Message)
}

var (
	// ErrAttemptsExhausted is returned when an entry reached MaxRetryAttempts
	ErrAttemptsExhausted = errors.New("retry attempts exhausted")

	// ErrPermanentFailure is returned when an automatic requeue meets a permanent failure
	ErrPermanentFailure = errors.New("entry failed permanently")
)

// TransitionError is returned when a state change is not allowed from the current status
type TransitionError struct {
	EntryID string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("queue entry %s cannot move from %s to %s", e.EntryID, e.From, e.To)
}

// now is swapped in tests that need deterministic timestamps
var now = time.Now

// CreateEntry builds a new pending entry. Payload is required for create and
// update and must be empty for delete.
func CreateEntry(op Operation, entityType, entityID string, payload json.RawMessage) (*Entry, error) {
	if !op.IsValid() {
		return nil, &ValidationError{Field: "operation", Message: fmt.Sprintf("must be one of create, update, delete (got %q)", op)}
	}
	if entityType == "" {
		return nil, &ValidationError{Field: "entityType", Message: "is required"}
	}
	if entityID == "" {
		return nil, &ValidationError{Field: "entityId", Message: "is required"}
	}

	if op == OperationDelete {
		payload = nil
	} else {
		if isEmptyPayload(payload) {
			return nil, &ValidationError{Field: "payload", Message: fmt.Sprintf("is required for %s", op)}
		}
		if !json.Valid(payload) {
			return nil, &ValidationError{Field: "payload", Message: "must be valid JSON"}
		}
	}

	ts := now().UTC()
	return &Entry{
		ID:         uuid.NewString(),
		Operation:  op,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		Attempts:   0,
		Status:     StatusPending,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}, nil
}

func isEmptyPayload(payload json.RawMessage) bool {
	if len(payload) == 0 {
		return true
	}
	return string(payload) == "null"
}

// MarkProcessing moves the entry to processing. Only pending and failed entries may be claimed.
func MarkProcessing(e *Entry) error {
	if e.Status != StatusPending && e.Status != StatusFailed {
		return &TransitionError{EntryID: e.ID, From: e.Status, To: StatusProcessing}
	}
	e.Status = StatusProcessing
	touch(e)
	return nil
}

// Release returns a claimed entry to pending without counting an attempt. It is
// used when a pass is interrupted before the remote answered.
func Release(e *Entry) bool {
	if e.Status != StatusProcessing {
		return false
	}
	e.Status = StatusPending
	touch(e)
	return true
}

// MarkCompleted moves the entry to completed
func MarkCompleted(e *Entry) {
	e.Status = StatusCompleted
	e.LastError = ""
	e.PermanentFailure = false
	e.NextAttemptAt = nil
	touch(e)
}

// MarkFailed moves the entry to failed, increments attempts and records the attempt time.
// conflictData is attached when provided.
func MarkFailed(e *Entry, cause error, permanent bool, conflictData json.RawMessage) {
	e.Status = StatusFailed
	e.Attempts++
	ts := now().UTC()
	e.LastAttemptAt = &ts
	if cause != nil {
		e.LastError = cause.Error()
	}
	e.PermanentFailure = permanent
	if len(conflictData) > 0 {
		e.ConflictData = conflictData
	}
	touch(e)
}

// ShouldRetry reports whether automatic retry may pick the entry up again
func ShouldRetry(e *Entry) bool {
	return e.Status == StatusFailed && e.Attempts < MaxRetryAttempts && !e.PermanentFailure
}

// Requeue moves a failed entry back to pending. A manual requeue may clear a
// permanent failure but never lifts the attempt cap.
func Requeue(e *Entry, manual bool) error {
	if e.Status != StatusFailed {
		return &TransitionError{EntryID: e.ID, From: e.Status, To: StatusPending}
	}
	if e.Attempts >= MaxRetryAttempts {
		return fmt.Errorf("%w: queue entry %s after %d attempts", ErrAttemptsExhausted, e.ID, e.Attempts)
	}
	if e.PermanentFailure && !manual {
		return fmt.Errorf("%w: queue entry %s: %s", ErrPermanentFailure, e.ID, e.LastError)
	}
	e.Status = StatusPending
	e.PermanentFailure = false
	e.NextAttemptAt = nil
	touch(e)
	return nil
}

// RequeueResolved moves a failed entry parked behind a conflict back to pending
// once the conflict is resolved. The resolved data is a fresh write, so the
// attempt count and the last error start over.
func RequeueResolved(e *Entry) error {
	if e.Status != StatusFailed {
		return &TransitionError{EntryID: e.ID, From: e.Status, To: StatusPending}
	}
	e.Status = StatusPending
	e.Attempts = 0
	e.LastError = ""
	e.PermanentFailure = false
	e.NextAttemptAt = nil
	touch(e)
	return nil
}

// IsDue reports whether a retryable failed entry has waited out its backoff
func IsDue(e *Entry, at time.Time) bool {
	return e.NextAttemptAt == nil || !e.NextAttemptAt.After(at)
}

// IsRetentionExpired reports whether a completed entry is older than cutoff
func IsRetentionExpired(e *Entry, cutoff time.Time) bool {
	return e.Status == StatusCompleted && e.UpdatedAt.Before(cutoff)
}

// RetentionCutoff returns the instant before which completed entries are swept
func RetentionCutoff(olderThanDays int) time.Time {
	return now().UTC().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
}

// touch refreshes updatedAt while keeping it monotonically non-decreasing
func touch(e *Entry) {
	ts := now().UTC()
	if ts.Before(e.UpdatedAt) {
		ts = e.UpdatedAt
	}
	e.UpdatedAt = ts
}
