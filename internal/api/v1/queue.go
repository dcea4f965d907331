package v1

import (
	"net/http"

	"github.com/stacklok/offline-sync/internal/api/common"
)

// enqueueEntry handles POST /api/v1/queue/entries
//
// @Summary		Enqueue a local mutation
// @Description	Validate and store a pending create, update or delete for later sync
// @Tags			queue
// @Accept			json
// @Produce		json
// @Param			entry	body		EnqueueRequest	true	"Mutation to queue"
// @Success		201		{object}	queue.Entry
// @Failure		400		{object}	common.ErrorResponse
// @Failure		500		{object}	common.ErrorResponse
// @Router			/api/v1/queue/entries [post]
func (routes *Routes) enqueueEntry(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := common.DecodeJSONBody(w, r, &req); err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := routes.orch.EnqueueEntry(r.Context(), req.Operation, req.EntityType, req.EntityID, req.Payload)
	if err != nil {
		writeServiceError(w, r, "Failed to enqueue entry", err)
		return
	}
	common.WriteJSONResponse(w, entry, http.StatusCreated)
}

// requeueEntry handles POST /api/v1/queue/entries/{id}/requeue
//
// @Summary		Requeue a failed entry
// @Description	Move a failed entry back to pending, clearing a permanent failure
// @Tags			queue
// @Produce		json
// @Param			id	path		string	true	"Queue entry id"
// @Success		200	{object}	queue.Entry
// @Failure		400	{object}	common.ErrorResponse
// @Failure		404	{object}	common.ErrorResponse
// @Failure		409	{object}	common.ErrorResponse
// @Router			/api/v1/queue/entries/{id}/requeue [post]
func (routes *Routes) requeueEntry(w http.ResponseWriter, r *http.Request) {
	id, err := common.GetAndValidateURLParam(r, "id")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := routes.orch.RequeueEntry(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "Failed to requeue entry", err)
		return
	}
	common.WriteJSONResponse(w, entry, http.StatusOK)
}

// getQueueStats handles GET /api/v1/queue/stats
//
// @Summary		Queue statistics
// @Tags			queue
// @Produce		json
// @Success		200	{object}	queue.Stats
// @Failure		500	{object}	common.ErrorResponse
// @Router			/api/v1/queue/stats [get]
func (routes *Routes) getQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := routes.orch.GetQueueStats(r.Context())
	if err != nil {
		writeServiceError(w, r, "Failed to get queue stats", err)
		return
	}
	common.WriteJSONResponse(w, stats, http.StatusOK)
}

// getFailedEntries handles GET /api/v1/queue/failed
//
// @Summary		List failed entries
// @Tags			queue
// @Produce		json
// @Success		200	{object}	EntryListResponse
// @Failure		500	{object}	common.ErrorResponse
// @Router			/api/v1/queue/failed [get]
func (routes *Routes) getFailedEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := routes.orch.GetFailedEntries(r.Context())
	if err != nil {
		writeServiceError(w, r, "Failed to list failed entries", err)
		return
	}
	common.WriteJSONResponse(w, EntryListResponse{Entries: nonNil(entries), Count: len(entries)}, http.StatusOK)
}

// clearCompletedEntries handles DELETE /api/v1/queue/completed
//
// @Summary		Remove old completed entries
// @Tags			queue
// @Produce		json
// @Param			olderThanDays	query		int	false	"Age threshold in days"	default(7)
// @Success		200				{object}	ClearCompletedResponse
// @Failure		400				{object}	common.ErrorResponse
// @Router			/api/v1/queue/completed [delete]
func (routes *Routes) clearCompletedEntries(w http.ResponseWriter, r *http.Request) {
	days, err := common.IntQueryParam(r, "olderThanDays", defaultRetentionDays)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	removed, err := routes.orch.ClearCompletedEntries(r.Context(), days)
	if err != nil {
		writeServiceError(w, r, "Failed to clear completed entries", err)
		return
	}
	common.WriteJSONResponse(w, ClearCompletedResponse{Removed: removed}, http.StatusOK)
}

const defaultRetentionDays = 7
