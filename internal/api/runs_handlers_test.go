package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlayerdevops/runctl/internal/runs"
)

// fakeStore is a minimal in-memory runs.Store stand-in for handler tests.
// Lookups of unknown run ids return runs.ErrRunNotFound; ReapStale is a
// no-op that reaps nothing.
type fakeStore struct {
	runs             map[string]*runs.Run
	pipelineVersions map[string]*runs.PipelineVersion

	claimErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:             make(map[string]*runs.Run),
		pipelineVersions: make(map[string]*runs.PipelineVersion),
	}
}

func (f *fakeStore) Claim(_ context.Context, tenantID, workerID string) (*runs.ClaimResult, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}

	run := &runs.Run{
		ID: "run-1", TenantID: tenantID, Status: runs.StatusRunning, ClaimedBy: workerID,
		PipelineVersionID: "pv-1",
	}
	f.runs[run.ID] = run

	pv, ok := f.pipelineVersions["pv-1"]
	if !ok {
		pv = &runs.PipelineVersion{ID: "pv-1", Status: "APPROVED"}
	}

	return &runs.ClaimResult{Run: run, PipelineVersion: pv}, nil
}

func (f *fakeStore) Get(_ context.Context, tenantID, runID string) (*runs.Run, error) {
	run, ok := f.runs[runID]
	if !ok || run.TenantID != tenantID {
		return nil, runs.ErrRunNotFound
	}

	return run, nil
}

func (f *fakeStore) List(_ context.Context, _ string, filter runs.ListFilter) ([]*runs.Run, string, error) {
	var out []*runs.Run

	for _, r := range f.runs {
		if filter.RetryOfRunID != "" && r.RetryOfRunID != filter.RetryOfRunID {
			continue
		}

		out = append(out, r)
	}

	return out, "", nil
}

func (f *fakeStore) Heartbeat(_ context.Context, _, runID, workerID string) (*runs.Run, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, runs.ErrRunNotFound
	}

	if run.ClaimedBy != workerID {
		return nil, runs.ErrWorkerMismatch
	}

	return run, nil
}

func (f *fakeStore) Complete(_ context.Context, _, runID string, outcome runs.Status, errMsg string) (*runs.Run, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, runs.ErrRunNotFound
	}

	if run.Status != runs.StatusRunning {
		return nil, runs.ErrInvalidTransition
	}

	run.Status = outcome

	if outcome == runs.StatusFailed {
		run.ErrorMessage = errMsg
	} else {
		run.ErrorMessage = ""
	}

	return run, nil
}

func (f *fakeStore) Cancel(_ context.Context, _, runID, reason string) (*runs.Run, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, runs.ErrRunNotFound
	}

	if reason == "" {
		reason = cancelledByAdmin
	}

	run.Status = runs.StatusCancelled
	run.ErrorMessage = reason

	return run, nil
}

const cancelledByAdmin = "Cancelled by admin"

func (f *fakeStore) Retry(_ context.Context, tenantID, runID string, parametersOverride json.RawMessage) (*runs.Run, error) {
	source, ok := f.runs[runID]
	if !ok {
		return nil, runs.ErrRunNotFound
	}

	if !source.Status.Retryable() {
		return nil, runs.ErrNotRetryable
	}

	pv, ok := f.pipelineVersions[source.PipelineVersionID]
	if !ok {
		return nil, runs.ErrPipelineVersionGone
	}

	if pv.Status != "APPROVED" {
		return nil, runs.ErrPipelineVersionNotApproved
	}

	parameters := source.Parameters
	if parametersOverride != nil {
		parameters = parametersOverride
	}

	retry := &runs.Run{
		ID: "run-retry", TenantID: tenantID, Status: runs.StatusQueued,
		RetryOfRunID: source.ID, PipelineVersionID: source.PipelineVersionID, Parameters: parameters,
	}
	f.runs[retry.ID] = retry

	return retry, nil
}

func (f *fakeStore) ReapStale(_ context.Context, _ string, _ int64, _ int) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) Lineage(_ context.Context, _, runID string) ([]*runs.Run, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, runs.ErrRunNotFound
	}

	return []*runs.Run{run}, nil
}

func (f *fakeStore) AppendLog(_ context.Context, _, runID string, entry *runs.RunLog) (*runs.RunLog, error) {
	if _, ok := f.runs[runID]; !ok {
		return nil, runs.ErrRunNotFound
	}

	entry.ID = "log-1"
	entry.RunID = runID

	return entry, nil
}

func (f *fakeStore) ListLogs(_ context.Context, _, runID string, _ runs.LogFilter) ([]*runs.RunLog, error) {
	if _, ok := f.runs[runID]; !ok {
		return nil, runs.ErrRunNotFound
	}

	return []*runs.RunLog{{ID: "log-1", RunID: runID, Message: "hello"}}, nil
}

func (f *fakeStore) HealthCheck(_ context.Context) error {
	return nil
}

func newTestServer(t *testing.T, store runs.Store) *Server {
	t.Helper()

	cfg := LoadServerConfig()

	return NewServer(&cfg, store, nil)
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	return rec
}

func TestHandleClaim_Success(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(t, store)

	rec := doRequest(s, http.MethodPost, "/v1/tenants/t1/runs/claim", claimRequest{WorkerID: "worker-1"})

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp claimResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Found)
	assert.Equal(t, "run-1", resp.Run.ID)
	require.NotNil(t, resp.PipelineVersion)
	assert.Equal(t, "pv-1", resp.PipelineVersion.ID)
}

func TestHandleClaim_NoQueuedRuns(t *testing.T) {
	store := newFakeStore()
	store.claimErr = runs.ErrNoQueuedRuns
	s := newTestServer(t, store)

	rec := doRequest(s, http.MethodPost, "/v1/tenants/t1/runs/claim", claimRequest{WorkerID: "worker-1"})

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp claimResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Found)
	assert.Equal(t, string(reasonNotFound), resp.Reason)
}

func TestHandleClaim_PipelineVersionGoneRollsBack(t *testing.T) {
	store := newFakeStore()
	store.claimErr = runs.ErrPipelineVersionGone
	s := newTestServer(t, store)

	rec := doRequest(s, http.MethodPost, "/v1/tenants/t1/runs/claim", claimRequest{WorkerID: "worker-1"})

	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp claimResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Found)
	assert.Equal(t, string(reasonPreconditionFailed), resp.Reason)
}

func TestHandleGet_NotFound(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(t, store)

	rec := doRequest(s, http.MethodGet, "/v1/tenants/t1/runs/missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHeartbeat_WorkerMismatch(t *testing.T) {
	store := newFakeStore()
	store.runs["run-1"] = &runs.Run{ID: "run-1", TenantID: "t1", Status: runs.StatusRunning, ClaimedBy: "worker-a"}
	s := newTestServer(t, store)

	rec := doRequest(s, http.MethodPost, "/v1/tenants/t1/runs/run-1/heartbeat", heartbeatRequest{WorkerID: "worker-b"})

	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp actionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.OK)
	assert.Equal(t, string(reasonWorkerMismatch), resp.Reason)
}

func TestHandleComplete_InvalidOutcomeRejected(t *testing.T) {
	store := newFakeStore()
	store.runs["run-1"] = &runs.Run{ID: "run-1", TenantID: "t1", Status: runs.StatusRunning, ClaimedBy: "worker-a"}
	s := newTestServer(t, store)

	rec := doRequest(s, http.MethodPost, "/v1/tenants/t1/runs/run-1/complete",
		completeRequest{Status: "BOGUS"})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleComplete_Success(t *testing.T) {
	store := newFakeStore()
	store.runs["run-1"] = &runs.Run{ID: "run-1", TenantID: "t1", Status: runs.StatusRunning, ClaimedBy: "worker-a"}
	s := newTestServer(t, store)

	// The wire body carries no worker_id: complete is keyed solely on the run
	// being RUNNING, so any caller can complete it.
	rec := doRequest(s, http.MethodPost, "/v1/tenants/t1/runs/run-1/complete",
		completeRequest{Status: string(runs.StatusSucceeded)})

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleRetry_NotRetryable(t *testing.T) {
	store := newFakeStore()
	store.runs["run-1"] = &runs.Run{ID: "run-1", TenantID: "t1", Status: runs.StatusRunning}
	s := newTestServer(t, store)

	rec := doRequest(s, http.MethodPost, "/v1/tenants/t1/runs/run-1/retry", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp actionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(reasonPreconditionFailed), resp.Reason)
}

func TestHandleRetry_FromCancelledSucceeds(t *testing.T) {
	store := newFakeStore()
	store.runs["run-1"] = &runs.Run{ID: "run-1", TenantID: "t1", Status: runs.StatusCancelled, PipelineVersionID: "pv-1"}
	store.pipelineVersions["pv-1"] = &runs.PipelineVersion{ID: "pv-1", Status: "APPROVED"}
	s := newTestServer(t, store)

	rec := doRequest(s, http.MethodPost, "/v1/tenants/t1/runs/run-1/retry", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp actionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "run-1", resp.Run.RetryOfRunID)
}

func TestHandleRetry_PipelineVersionNotApproved(t *testing.T) {
	store := newFakeStore()
	store.runs["run-1"] = &runs.Run{ID: "run-1", TenantID: "t1", Status: runs.StatusFailed, PipelineVersionID: "pv-1"}
	store.pipelineVersions["pv-1"] = &runs.PipelineVersion{ID: "pv-1", Status: "DRAFT"}
	s := newTestServer(t, store)

	rec := doRequest(s, http.MethodPost, "/v1/tenants/t1/runs/run-1/retry", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp actionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.OK)
	assert.Equal(t, string(reasonPreconditionFailed), resp.Reason)
}

func TestHandleRetry_PipelineVersionGone(t *testing.T) {
	store := newFakeStore()
	store.runs["run-1"] = &runs.Run{ID: "run-1", TenantID: "t1", Status: runs.StatusFailed, PipelineVersionID: "pv-missing"}
	s := newTestServer(t, store)

	rec := doRequest(s, http.MethodPost, "/v1/tenants/t1/runs/run-1/retry", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp actionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(reasonPreconditionFailed), resp.Reason)
}

func TestHandleRetry_ParametersOverride(t *testing.T) {
	store := newFakeStore()
	store.runs["run-1"] = &runs.Run{
		ID: "run-1", TenantID: "t1", Status: runs.StatusFailed, PipelineVersionID: "pv-1",
		Parameters: json.RawMessage(`{"a":1}`),
	}
	store.pipelineVersions["pv-1"] = &runs.PipelineVersion{ID: "pv-1", Status: "APPROVED"}
	s := newTestServer(t, store)

	rec := doRequest(s, http.MethodPost, "/v1/tenants/t1/runs/run-1/retry",
		retryRequest{Parameters: json.RawMessage(`{"b":2}`)})

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp actionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.JSONEq(t, `{"b":2}`, string(resp.Run.Parameters))
}

func TestHandleAppendLog_DefaultsLevelToInfo(t *testing.T) {
	store := newFakeStore()
	store.runs["run-1"] = &runs.Run{ID: "run-1", TenantID: "t1"}
	s := newTestServer(t, store)

	rec := doRequest(s, http.MethodPost, "/v1/tenants/t1/runs/run-1/logs", appendLogRequest{Message: "hello"})

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp appendLogResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "log-1", resp.LogID)
}

func TestHandleHealthz(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(t, store)

	rec := doRequest(s, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}
