package v1

import (
	"fmt"
	"net/http"

	"github.com/stacklok/offline-sync/internal/api/common"
	"github.com/stacklok/offline-sync/internal/conflict"
)

// listConflicts handles GET /api/v1/conflicts
//
// @Summary		List pending conflicts
// @Tags			conflicts
// @Produce		json
// @Success		200	{object}	ConflictListResponse
// @Failure		500	{object}	common.ErrorResponse
// @Router			/api/v1/conflicts [get]
func (routes *Routes) listConflicts(w http.ResponseWriter, r *http.Request) {
	records, err := routes.conflicts.GetPendingConflicts(r.Context())
	if err != nil {
		writeServiceError(w, r, "Failed to list conflicts", err)
		return
	}
	common.WriteJSONResponse(w, ConflictListResponse{Conflicts: nonNil(records), Count: len(records)}, http.StatusOK)
}

// getResolutionHistory handles GET /api/v1/conflicts/history
//
// @Summary		Conflict resolution history
// @Tags			conflicts
// @Produce		json
// @Param			limit	query		int	false	"Maximum records"	default(50)
// @Success		200		{object}	ResolutionHistoryResponse
// @Failure		400		{object}	common.ErrorResponse
// @Router			/api/v1/conflicts/history [get]
func (routes *Routes) getResolutionHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := common.IntQueryParam(r, "limit", defaultHistoryLimit)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	history, err := routes.conflicts.GetResolutionHistory(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, "Failed to get resolution history", err)
		return
	}
	common.WriteJSONResponse(w,
		ResolutionHistoryResponse{Resolutions: nonNil(history), Count: len(history)}, http.StatusOK)
}

// resolveConflict handles POST /api/v1/conflicts/{id}/resolve
//
// @Summary		Resolve a conflict
// @Description	Apply a resolution to a pending conflict. resolvedData is required for manual resolutions.
// @Tags			conflicts
// @Accept			json
// @Produce		json
// @Param			id			path		string					true	"Conflict id"
// @Param			resolution	body		ResolveConflictRequest	true	"Resolution"
// @Success		200			{object}	conflict.Record
// @Failure		400			{object}	common.ErrorResponse
// @Failure		404			{object}	common.ErrorResponse
// @Failure		409			{object}	common.ErrorResponse
// @Router			/api/v1/conflicts/{id}/resolve [post]
func (routes *Routes) resolveConflict(w http.ResponseWriter, r *http.Request) {
	id, err := common.GetAndValidateURLParam(r, "id")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req ResolveConflictRequest
	if err := common.DecodeJSONBody(w, r, &req); err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Resolution.IsValid() {
		common.WriteErrorResponse(w, fmt.Sprintf("unknown resolution strategy %q", req.Resolution), http.StatusBadRequest)
		return
	}

	record, err := routes.conflicts.ApplyResolution(r.Context(), id, req.Resolution, req.ResolvedBy, req.ResolvedData)
	if err != nil {
		writeServiceError(w, r, "Failed to resolve conflict", err)
		return
	}
	common.WriteJSONResponse(w, record, http.StatusOK)
}

// listRules handles GET /api/v1/rules
//
// @Summary		List resolution rules
// @Tags			rules
// @Produce		json
// @Success		200	{object}	RuleListResponse
// @Failure		500	{object}	common.ErrorResponse
// @Router			/api/v1/rules [get]
func (routes *Routes) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := routes.conflicts.ListRules(r.Context())
	if err != nil {
		writeServiceError(w, r, "Failed to list rules", err)
		return
	}
	common.WriteJSONResponse(w, RuleListResponse{Rules: nonNil(rules), Count: len(rules)}, http.StatusOK)
}

// addRule handles POST /api/v1/rules
//
// @Summary		Add a resolution rule
// @Tags			rules
// @Accept			json
// @Produce		json
// @Param			rule	body		conflict.Rule	true	"Rule"
// @Success		201		{object}	conflict.Rule
// @Failure		400		{object}	common.ErrorResponse
// @Failure		409		{object}	common.ErrorResponse
// @Router			/api/v1/rules [post]
func (routes *Routes) addRule(w http.ResponseWriter, r *http.Request) {
	var rule conflict.Rule
	if err := common.DecodeJSONBody(w, r, &rule); err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := rule.Validate(); err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	stored, err := routes.conflicts.AddRule(r.Context(), &rule)
	if err != nil {
		writeServiceError(w, r, "Failed to add rule", err)
		return
	}
	common.WriteJSONResponse(w, stored, http.StatusCreated)
}

// deleteRule handles DELETE /api/v1/rules/{id}
//
// @Summary		Delete a resolution rule
// @Tags			rules
// @Param			id	path	string	true	"Rule id"
// @Success		204
// @Failure		404	{object}	common.ErrorResponse
// @Router			/api/v1/rules/{id} [delete]
func (routes *Routes) deleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := common.GetAndValidateURLParam(r, "id")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := routes.conflicts.DeleteRule(r.Context(), id); err != nil {
		writeServiceError(w, r, "Failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
