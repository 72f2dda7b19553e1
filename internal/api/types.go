package api

import (
	"encoding/json"
	"time"

	"github.com/nextlayerdevops/runctl/internal/runs"
)

// runResponse is the wire representation of a pipeline run. Nullable domain
// fields are rendered as omitted JSON fields rather than null where empty,
// matching the envelope shapes callers branch on.
type runResponse struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	PipelineVersionID string          `json:"pipeline_version_id"`
	Status            string          `json:"status"`
	TriggerType       string          `json:"trigger_type"`
	Parameters        json.RawMessage `json:"parameters,omitempty"`
	ClaimedAt         *time.Time      `json:"claimed_at,omitempty"`
	ClaimedBy         string          `json:"claimed_by,omitempty"`
	HeartbeatAt       *time.Time      `json:"heartbeat_at,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	FinishedAt        *time.Time      `json:"finished_at,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	RetryOfRunID      string          `json:"retry_of_run_id,omitempty"`
	RootRunID         string          `json:"root_run_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func toRunResponse(run *runs.Run) *runResponse {
	if run == nil {
		return nil
	}

	return &runResponse{
		ID:                run.ID,
		TenantID:          run.TenantID,
		PipelineVersionID: run.PipelineVersionID,
		Status:            string(run.Status),
		TriggerType:       run.TriggerType,
		Parameters:        run.Parameters,
		ClaimedAt:         run.ClaimedAt,
		ClaimedBy:         run.ClaimedBy,
		HeartbeatAt:       run.HeartbeatAt,
		StartedAt:         run.StartedAt,
		FinishedAt:        run.FinishedAt,
		ErrorMessage:      run.ErrorMessage,
		RetryOfRunID:      run.RetryOfRunID,
		RootRunID:         run.RootRunID,
		CreatedAt:         run.CreatedAt,
		UpdatedAt:         run.UpdatedAt,
	}
}

// pipelineVersionResponse is the wire snapshot of a pipeline version returned
// alongside a claimed run.
type pipelineVersionResponse struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	DAGSpec json.RawMessage `json:"dag_spec,omitempty"`
}

func toPipelineVersionResponse(pv *runs.PipelineVersion) *pipelineVersionResponse {
	if pv == nil {
		return nil
	}

	return &pipelineVersionResponse{ID: pv.ID, Status: pv.Status, DAGSpec: pv.DAGSpec}
}

func toRunResponses(items []*runs.Run) []*runResponse {
	out := make([]*runResponse, 0, len(items))
	for _, run := range items {
		out = append(out, toRunResponse(run))
	}

	return out
}

// runLogResponse is the wire representation of a single run log entry.
type runLogResponse struct {
	ID      string          `json:"id"`
	RunID   string          `json:"run_id"`
	Ts      time.Time       `json:"ts"`
	Level   string          `json:"level"`
	Message string          `json:"message"`
	Source  string          `json:"source,omitempty"`
	Meta    json.RawMessage `json:"meta,omitempty"`
}

func toRunLogResponse(entry *runs.RunLog) *runLogResponse {
	if entry == nil {
		return nil
	}

	return &runLogResponse{
		ID:      entry.ID,
		RunID:   entry.RunID,
		Ts:      entry.Ts,
		Level:   string(entry.Level),
		Message: entry.Message,
		Source:  entry.Source,
		Meta:    entry.Meta,
	}
}

func toRunLogResponses(items []*runs.RunLog) []*runLogResponse {
	out := make([]*runLogResponse, 0, len(items))
	for _, entry := range items {
		out = append(out, toRunLogResponse(entry))
	}

	return out
}
