package sync

import (
	"fmt"
	"time"
)

// Failure reasons attached to Error
const (
	// ReasonApplyFailed means the remote call failed after in-pass retries
	ReasonApplyFailed = "ApplyFailed"

	// ReasonRemoteRejected means the remote refused the mutation with a permanent status
	ReasonRemoteRejected = "RemoteRejected"

	// ReasonConflictPending means the entry waits for a manual conflict resolution
	ReasonConflictPending = "ConflictPending"

	// ReasonConflictFailed means detecting or resolving the conflict failed
	ReasonConflictFailed = "ConflictFailed"

	// ReasonStoreFailed means the queue store could not be read or written
	ReasonStoreFailed = "StoreFailed"
)

// Error describes why a single queue entry could not be synced
type Error struct {
	Err     error
	Message string
	Reason  string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// OfflineError is returned when a pass is requested while the remote is unreachable
type OfflineError struct {
	// OfflineFor is how long the remote has been unreachable, zero if unknown
	OfflineFor time.Duration
}

func (e *OfflineError) Error() string {
	if e.OfflineFor > 0 {
		return fmt.Sprintf("cannot sync while offline (offline for %s)", e.OfflineFor.Round(time.Second))
	}
	return "cannot sync while offline"
}

// ConcurrencyLimitError is returned when the number of running passes reached the limit
type ConcurrencyLimitError struct {
	Active int
	Limit  int
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("maximum concurrent syncs reached (%d of %d running)", e.Active, e.Limit)
}
