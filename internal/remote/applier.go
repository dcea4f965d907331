// Package remote contains the transport that replays queued mutations against
// the remote system of record.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/stacklok/offline-sync/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_applier.go -package=mocks -source=applier.go Applier

// ApplyOptions tunes a single apply call
type ApplyOptions struct {
	// Overwrite applies the payload unconditionally, replacing whatever the remote holds.
	// It is used to push conflict-resolved data.
	Overwrite bool
}

// Result is the outcome of an apply call that reached the remote
type Result struct {
	// Divergent is set when the remote refused the mutation because its copy differs
	// from what the local change was based on
	Divergent bool

	// Remote is the remote snapshot of the entity when Divergent is set.
	// Empty means the remote no longer has the entity.
	Remote json.RawMessage

	// Data is the representation returned by the remote on success, if any
	Data json.RawMessage
}

// Applier replays a queue entry against the remote system of record
type Applier interface {
	// Apply sends the mutation described by entry. Transport failures and rejected
	// requests are returned as errors; divergence is reported through the Result.
	Apply(ctx context.Context, entry *queue.Entry, opts ApplyOptions) (*Result, error)
}

// StatusError is returned when the remote answers with an unexpected status code
type StatusError struct {
	StatusCode int
	URL        string
	Message    string
}

// Error returns the error message
func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned HTTP %d for %s: %s", e.StatusCode, e.URL, e.Message)
}

// HTTPStatusCode returns the response status code
func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Permanent reports whether resending the same request cannot succeed: any 4xx except 429
func (e *StatusError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// IsPermanent reports whether err carries a permanent remote rejection
func IsPermanent(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Permanent()
}
