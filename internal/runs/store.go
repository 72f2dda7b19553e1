package runs

import (
	"context"
	"encoding/json"
)

// Store defines the interface for pipeline run persistence.
//
// The domain package defines this interface to specify what it needs for run
// storage, without depending on a concrete database. This follows the
// Dependency Inversion Principle: high-level domain logic should not depend
// on low-level infrastructure details.
//
// Implementations must support:
//   - Contention-free claim: concurrent claimants never receive the same run
//     (SELECT ... FOR UPDATE SKIP LOCKED or equivalent).
//   - Race-safe heartbeat/complete/reap: all three take the same row lock so
//     a heartbeat arriving mid-reap-scan is never silently lost or raced.
//   - Append-only logs: no operation mutates or deletes an existing log row.
type Store interface {
	// Claim atomically claims the oldest QUEUED run for the tenant and marks
	// it RUNNING. Returns ErrNoQueuedRuns if none are available, or
	// ErrPipelineVersionGone if the claimed run's pipeline version has since
	// disappeared (the whole claim is rolled back in that case, including the
	// RUNNING transition).
	Claim(ctx context.Context, tenantID, workerID string) (*ClaimResult, error)

	// Get fetches a single run by id, scoped to tenant. Returns ErrRunNotFound
	// if absent or owned by a different tenant.
	Get(ctx context.Context, tenantID, runID string) (*Run, error)

	// List returns runs for a tenant matching filter, newest first.
	List(ctx context.Context, tenantID string, filter ListFilter) ([]*Run, string, error)

	// Heartbeat records liveness for a RUNNING run held by workerID. Returns
	// ErrWorkerMismatch if workerID does not hold the claim, ErrInvalidTransition
	// if the run is not RUNNING.
	Heartbeat(ctx context.Context, tenantID, runID, workerID string) (*Run, error)

	// Complete transitions a RUNNING run to SUCCEEDED or FAILED. Keyed solely
	// on the run being RUNNING (no worker identity check): this makes
	// complete idempotent against duplicate or late calls, which surface as
	// ErrInvalidTransition rather than ErrWorkerMismatch.
	Complete(ctx context.Context, tenantID, runID string, outcome Status, errorMessage string) (*Run, error)

	// Cancel transitions a QUEUED or RUNNING run to CANCELLED. No worker
	// identity is required; this is an operator action. reason defaults to
	// "Cancelled by admin" when empty.
	Cancel(ctx context.Context, tenantID, runID, reason string) (*Run, error)

	// Retry creates a new QUEUED run linked to the given FAILED or CANCELLED
	// run via RetryOfRunID, inheriting RootRunID. parametersOverride replaces
	// the source run's parameters when non-nil. Returns ErrNotRetryable if
	// the source run is in neither state, ErrPipelineVersionGone if its
	// pipeline version no longer exists, or ErrPipelineVersionNotApproved if
	// it is no longer APPROVED.
	Retry(ctx context.Context, tenantID, runID string, parametersOverride json.RawMessage) (*Run, error)

	// ReapStale transitions up to limit RUNNING runs whose liveness has
	// expired to FAILED, appending a WARN log entry to each. Returns the ids
	// of every run it reaped.
	ReapStale(ctx context.Context, tenantID string, heartbeatTimeoutSeconds int64, limit int) ([]string, error)

	// Lineage returns every run sharing a root, ordered by creation time.
	Lineage(ctx context.Context, tenantID, runID string) ([]*Run, error)

	// AppendLog appends one log line to a run's log stream.
	AppendLog(ctx context.Context, tenantID, runID string, entry *RunLog) (*RunLog, error)

	// ListLogs returns a run's log stream ordered per filter.Order.
	ListLogs(ctx context.Context, tenantID, runID string, filter LogFilter) ([]*RunLog, error)

	// HealthCheck verifies the storage backend is healthy and ready to serve
	// requests. Used by readiness probes and health endpoints.
	HealthCheck(ctx context.Context) error
}

// LifecycleEvent describes a run transition worth publishing downstream.
type LifecycleEvent struct {
	Kind string // "claimed", "completed", "cancelled", "retried", "reaped"
	Run  *Run
}

// Publisher delivers lifecycle events to an external system. A nil Publisher
// is a valid no-op configuration (events are simply not published).
type Publisher interface {
	Publish(ctx context.Context, event LifecycleEvent) error
	Close() error
}
