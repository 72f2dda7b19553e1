package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nextlayerdevops/runctl/internal/runs"
)

const defaultLogLimit = 200

// decodeBody decodes the JSON request body into dst. An empty body is
// treated as an empty object so optional-body endpoints (cancel, retry)
// don't require callers to send "{}".
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}

	dec := json.NewDecoder(r.Body)

	if err := dec.Decode(dst); err != nil {
		return err
	}

	return nil
}

type claimRequest struct {
	WorkerID string `json:"worker_id"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")

	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeClaimNotFound(w, r, s.logger, runs.ErrRunNotFound)

		return
	}

	result, err := s.store.Claim(r.Context(), tenantID, req.WorkerID)
	if err != nil {
		writeClaimNotFound(w, r, s.logger, err)

		return
	}

	writeClaimFound(w, r, s.logger, result)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	runID := r.PathValue("id")

	run, err := s.store.Get(r.Context(), tenantID, runID)
	if err != nil {
		writeFound(w, r, s.logger, err)

		return
	}

	writeFoundRun(w, r, s.logger, run)
}

type listResponse struct {
	Runs       []*runResponse `json:"runs"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	q := r.URL.Query()

	filter := runs.ListFilter{
		PipelineVersionID: q.Get("pipeline_version_id"),
		RetryOfRunID:      q.Get("retry_of_run_id"),
		Cursor:            q.Get("cursor"),
	}

	if status := q.Get("status"); status != "" {
		filter.Status = runs.Status(status)
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	items, nextCursor, err := s.store.List(r.Context(), tenantID, filter)
	if err != nil {
		writeFound(w, r, s.logger, err)

		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, listResponse{
		Runs:       toRunResponses(items),
		NextCursor: nextCursor,
	})
}

type heartbeatRequest struct {
	WorkerID string `json:"worker_id"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	runID := r.PathValue("id")

	var req heartbeatRequest
	if err := decodeBody(r, &req); err != nil {
		writeAction(w, r, s.logger, runs.ErrRunNotFound)

		return
	}

	run, err := s.store.Heartbeat(r.Context(), tenantID, runID, req.WorkerID)
	if err != nil {
		writeAction(w, r, s.logger, err)

		return
	}

	writeActionRun(w, r, s.logger, run)
}

type completeRequest struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	runID := r.PathValue("id")

	var req completeRequest
	if err := decodeBody(r, &req); err != nil {
		writeAction(w, r, s.logger, runs.ErrRunNotFound)

		return
	}

	outcome := runs.Status(req.Status)
	if outcome != runs.StatusSucceeded && outcome != runs.StatusFailed {
		writeAction(w, r, s.logger, runs.ErrInvalidTransition)

		return
	}

	run, err := s.store.Complete(r.Context(), tenantID, runID, outcome, req.ErrorMessage)
	if err != nil {
		writeAction(w, r, s.logger, err)

		return
	}

	writeActionRun(w, r, s.logger, run)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	runID := r.PathValue("id")

	var req cancelRequest
	if err := decodeBody(r, &req); err != nil {
		writeAction(w, r, s.logger, runs.ErrRunNotFound)

		return
	}

	run, err := s.store.Cancel(r.Context(), tenantID, runID, req.Reason)
	if err != nil {
		writeAction(w, r, s.logger, err)

		return
	}

	writeActionRun(w, r, s.logger, run)
}

type retryRequest struct {
	Parameters json.RawMessage `json:"parameters"`
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	runID := r.PathValue("id")

	var req retryRequest
	if err := decodeBody(r, &req); err != nil {
		writeAction(w, r, s.logger, runs.ErrRunNotFound)

		return
	}

	run, err := s.store.Retry(r.Context(), tenantID, runID, req.Parameters)
	if err != nil {
		writeAction(w, r, s.logger, err)

		return
	}

	writeActionRun(w, r, s.logger, run)
}

func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	runID := r.PathValue("id")

	chain, err := s.store.Lineage(r.Context(), tenantID, runID)
	if err != nil {
		writeFound(w, r, s.logger, err)

		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, struct {
		Found bool           `json:"found"`
		Runs  []*runResponse `json:"runs"`
	}{Found: true, Runs: toRunResponses(chain)})
}

const (
	defaultReapLimit          = 100
	defaultReapStaleAfterSecs = 300
)

type reapStaleRequest struct {
	HeartbeatTimeoutSeconds int64 `json:"heartbeat_timeout_seconds"`
	Limit                   int   `json:"limit"`
}

type reapStaleResponse struct {
	ReapedCount  int      `json:"reaped_count"`
	ReapedRunIDs []string `json:"reaped_run_ids"`
}

func (s *Server) handleReapStale(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")

	req := reapStaleRequest{HeartbeatTimeoutSeconds: defaultReapStaleAfterSecs, Limit: defaultReapLimit}
	if err := decodeBody(r, &req); err != nil {
		writeAction(w, r, s.logger, runs.ErrRunNotFound)

		return
	}

	reaped, err := s.store.ReapStale(r.Context(), tenantID, req.HeartbeatTimeoutSeconds, req.Limit)
	if err != nil {
		writeAction(w, r, s.logger, err)

		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, reapStaleResponse{
		ReapedCount:  len(reaped),
		ReapedRunIDs: reaped,
	})
}

type appendLogRequest struct {
	Level   string          `json:"level"`
	Message string          `json:"message"`
	Source  string          `json:"source"`
	Meta    json.RawMessage `json:"meta"`
}

type appendLogResponse struct {
	OK    bool   `json:"ok"`
	LogID string `json:"log_id"`
}

func (s *Server) handleAppendLog(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	runID := r.PathValue("id")

	var req appendLogRequest
	if err := decodeBody(r, &req); err != nil {
		writeAction(w, r, s.logger, runs.ErrRunNotFound)

		return
	}

	level := runs.LogLevel(req.Level)
	if level == "" {
		level = runs.LogLevelInfo
	}

	entry := &runs.RunLog{
		Level:   level,
		Message: req.Message,
		Source:  req.Source,
		Meta:    req.Meta,
	}

	saved, err := s.store.AppendLog(r.Context(), tenantID, runID, entry)
	if err != nil {
		writeAction(w, r, s.logger, err)

		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, appendLogResponse{OK: true, LogID: saved.ID})
}

type listLogsResponse struct {
	Logs []*runLogResponse `json:"logs"`
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	runID := r.PathValue("id")
	q := r.URL.Query()

	filter := runs.LogFilter{Limit: defaultLogLimit, Order: runs.LogOrderAsc}

	if sinceStr := q.Get("after_ts"); sinceStr != "" {
		if since, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			filter.Since = since
		}
	}

	if beforeStr := q.Get("before_ts"); beforeStr != "" {
		if before, err := time.Parse(time.RFC3339, beforeStr); err == nil {
			filter.Before = before
		}
	}

	if strings.EqualFold(q.Get("order"), "desc") {
		filter.Order = runs.LogOrderDesc
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	entries, err := s.store.ListLogs(r.Context(), tenantID, runID, filter)
	if err != nil {
		writeFound(w, r, s.logger, err)

		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, listLogsResponse{Logs: toRunLogResponses(entries)})
}
