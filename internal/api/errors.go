// Package api provides the HTTP API server for the pipeline run control plane.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nextlayerdevops/runctl/internal/api/middleware"
	"github.com/nextlayerdevops/runctl/internal/runs"
)

// reasonCode is one of the stable wire error codes callers can branch on.
type reasonCode string

const (
	reasonNotFound           reasonCode = "not_found"
	reasonInvalidState       reasonCode = "invalid_state"
	reasonPreconditionFailed reasonCode = "precondition_failed"
	reasonWorkerMismatch     reasonCode = "worker_mismatch"
	reasonTransient          reasonCode = "transient"
)

// actionResult is the wire envelope for state-changing endpoints.
type actionResult struct {
	OK     bool         `json:"ok"`
	Reason string       `json:"reason,omitempty"`
	Status int          `json:"status,omitempty"`
	Run    *runResponse `json:"run,omitempty"`
}

// findResult is the wire envelope for lookup endpoints.
type findResult struct {
	Found  bool         `json:"found"`
	Reason string       `json:"reason,omitempty"`
	Run    *runResponse `json:"run,omitempty"`
}

// claimResult is the wire envelope for the claim endpoint: unlike other
// lookups it also carries a snapshot of the pipeline version the claimed run
// references, so a worker never has to make a second round trip to learn
// what DAG it is executing.
type claimResult struct {
	Found           bool                     `json:"found"`
	Reason          string                   `json:"reason,omitempty"`
	Run             *runResponse             `json:"run,omitempty"`
	PipelineVersion *pipelineVersionResponse `json:"pipeline_version,omitempty"`
}

// classify maps a domain sentinel error to an HTTP status and reason code.
func classify(err error) (int, reasonCode) {
	switch {
	case errors.Is(err, runs.ErrRunNotFound):
		return http.StatusNotFound, reasonNotFound
	case errors.Is(err, runs.ErrNoQueuedRuns):
		return http.StatusNotFound, reasonNotFound
	case errors.Is(err, runs.ErrWorkerMismatch):
		return http.StatusConflict, reasonWorkerMismatch
	case errors.Is(err, runs.ErrInvalidTransition):
		return http.StatusConflict, reasonInvalidState
	case errors.Is(err, runs.ErrNotRetryable):
		return http.StatusConflict, reasonPreconditionFailed
	case errors.Is(err, runs.ErrPipelineVersionNotApproved):
		return http.StatusBadRequest, reasonPreconditionFailed
	case errors.Is(err, runs.ErrPipelineVersionGone):
		return http.StatusConflict, reasonPreconditionFailed
	default:
		return http.StatusInternalServerError, reasonTransient
	}
}

// writeFound writes a {"found": false, "reason": "..."} envelope for an error.
func writeFound(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, reason := classify(err)
	writeJSON(w, r, logger, status, findResult{Found: false, Reason: string(reason)})
}

func writeFoundRun(w http.ResponseWriter, r *http.Request, logger *slog.Logger, run *runs.Run) {
	writeJSON(w, r, logger, http.StatusOK, findResult{Found: true, Run: toRunResponse(run)})
}

// writeClaimNotFound writes the claim-specific error envelope, matching the
// found/reason shape of the other lookup-style endpoints in this API.
func writeClaimNotFound(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, reason := classify(err)
	writeJSON(w, r, logger, status, claimResult{Found: false, Reason: string(reason)})
}

func writeClaimFound(w http.ResponseWriter, r *http.Request, logger *slog.Logger, result *runs.ClaimResult) {
	writeJSON(w, r, logger, http.StatusOK, claimResult{
		Found:           true,
		Run:             toRunResponse(result.Run),
		PipelineVersion: toPipelineVersionResponse(result.PipelineVersion),
	})
}

// writeAction writes a {"ok": false, "reason": "...", "status": N} envelope for an error.
func writeAction(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, reason := classify(err)
	writeJSON(w, r, logger, status, actionResult{OK: false, Reason: string(reason), Status: status})
}

func writeActionRun(w http.ResponseWriter, r *http.Request, logger *slog.Logger, run *runs.Run) {
	writeJSON(w, r, logger, http.StatusOK, actionResult{OK: true, Run: toRunResponse(run)})
}

func writeJSON(w http.ResponseWriter, r *http.Request, logger *slog.Logger, status int, body any) {
	correlationID := middleware.GetCorrelationID(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}
