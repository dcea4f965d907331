package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/stacklok/offline-sync/internal/api/common"
	"github.com/stacklok/offline-sync/internal/conflict"
	"github.com/stacklok/offline-sync/internal/queue"
	"github.com/stacklok/offline-sync/internal/store"
	pkgsync "github.com/stacklok/offline-sync/internal/sync"
)

// statusFor maps engine errors to HTTP status codes
func statusFor(err error) int {
	var (
		validationErr  *queue.ValidationError
		transitionErr  *queue.TransitionError
		offlineErr     *pkgsync.OfflineError
		concurrencyErr *pkgsync.ConcurrencyLimitError
	)

	switch {
	case errors.As(err, &validationErr),
		errors.Is(err, conflict.ErrManualDataRequired):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrEntryNotFound),
		errors.Is(err, store.ErrConflictNotFound),
		errors.Is(err, store.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.As(err, &transitionErr),
		errors.Is(err, queue.ErrAttemptsExhausted),
		errors.Is(err, queue.ErrPermanentFailure),
		errors.Is(err, conflict.ErrAlreadyResolved),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.As(err, &concurrencyErr):
		return http.StatusTooManyRequests
	case errors.As(err, &offlineErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Client errors carry the
// error text; server errors carry msg only and are logged.
func writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), msg, "error", err, "path", r.URL.Path)
		common.WriteErrorResponse(w, msg, code)
		return
	}
	common.WriteErrorResponse(w, err.Error(), code)
}
