package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/offline-sync/internal/api/common"
	"github.com/stacklok/offline-sync/internal/sync/orchestrator"
	"github.com/stacklok/offline-sync/internal/versions"
)

// HealthRouter creates a router for health check endpoints
func HealthRouter(orch orchestrator.Orchestrator) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(orch))
	r.Get("/version", versionHandler)

	return r
}

// healthHandler handles health check requests
//
// @Summary		Health check
// @Tags			system
// @Produce		json
// @Success		200	{object}	HealthResponse
// @Router			/health [get]
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, HealthResponse{Status: "healthy"}, http.StatusOK)
}

// readinessHandler reports ready once the engine has been started
//
// @Summary		Readiness check
// @Tags			system
// @Produce		json
// @Success		200	{object}	ReadinessResponse
// @Failure		503	{object}	common.ErrorResponse
// @Router			/readiness [get]
func readinessHandler(orch orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := orch.GetStatus(r.Context())
		if err != nil {
			common.WriteErrorResponse(w, "sync engine not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		if !st.Running {
			common.WriteErrorResponse(w, "sync engine not ready: not started", http.StatusServiceUnavailable)
			return
		}
		common.WriteJSONResponse(w, ReadinessResponse{Status: "ready"}, http.StatusOK)
	}
}

// versionHandler handles version information requests
//
// @Summary		Version information
// @Tags			system
// @Produce		json
// @Success		200	{object}	versions.VersionInfo
// @Router			/version [get]
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}
