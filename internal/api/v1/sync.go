package v1

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/stacklok/offline-sync/internal/api/common"
	"github.com/stacklok/offline-sync/internal/status"
)

const defaultHistoryLimit = 50

// triggerSync handles POST /api/v1/sync
//
// @Summary		Run a sync pass
// @Description	Run one pass now and return its result. The body is optional and defaults to a manual pass.
// @Tags			sync
// @Accept			json
// @Produce		json
// @Param			request	body		TriggerSyncRequest	false	"Pass type"
// @Success		200		{object}	status.SyncResult
// @Failure		400		{object}	common.ErrorResponse
// @Failure		429		{object}	common.ErrorResponse
// @Failure		503		{object}	common.ErrorResponse
// @Router			/api/v1/sync [post]
func (routes *Routes) triggerSync(w http.ResponseWriter, r *http.Request) {
	req := TriggerSyncRequest{Type: status.SyncTypeManual}
	if err := common.DecodeJSONBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		req.Type = status.SyncTypeManual
	}
	if !req.Type.IsValid() {
		common.WriteErrorResponse(w, fmt.Sprintf("unknown sync type %q", req.Type), http.StatusBadRequest)
		return
	}

	result, err := routes.orch.TriggerSync(r.Context(), req.Type)
	if err != nil {
		writeServiceError(w, r, "Sync pass failed", err)
		return
	}
	common.WriteJSONResponse(w, result, http.StatusOK)
}

// retryFailedEntries handles POST /api/v1/sync/retry
//
// @Summary		Retry failed entries
// @Description	Requeue every retryable failed entry and run a manual pass
// @Tags			sync
// @Produce		json
// @Success		200	{object}	status.SyncResult
// @Failure		429	{object}	common.ErrorResponse
// @Failure		503	{object}	common.ErrorResponse
// @Router			/api/v1/sync/retry [post]
func (routes *Routes) retryFailedEntries(w http.ResponseWriter, r *http.Request) {
	result, err := routes.orch.RetryFailedEntries(r.Context())
	if err != nil {
		writeServiceError(w, r, "Retry pass failed", err)
		return
	}
	common.WriteJSONResponse(w, result, http.StatusOK)
}

// getSyncHistory handles GET /api/v1/sync/history
//
// @Summary		Sync history
// @Tags			sync
// @Produce		json
// @Param			limit	query		int	false	"Maximum records"	default(50)
// @Success		200		{object}	SyncHistoryResponse
// @Failure		400		{object}	common.ErrorResponse
// @Router			/api/v1/sync/history [get]
func (routes *Routes) getSyncHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := common.IntQueryParam(r, "limit", defaultHistoryLimit)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := routes.orch.GetSyncHistory(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, "Failed to get sync history", err)
		return
	}
	common.WriteJSONResponse(w, SyncHistoryResponse{Records: nonNil(records), Count: len(records)}, http.StatusOK)
}
