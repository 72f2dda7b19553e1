package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlayerdevops/runctl/internal/runs"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	defaultLogLimit = 200
	maxLogLimit     = 1000

	minReapLimit = 1
	maxReapLimit = 500

	cancelledByAdmin = "Cancelled by admin"

	logSourceControlPlane = "control-plane"
)

// RunStore implements runs.Store against PostgreSQL.
//
// Claim uses SELECT ... FOR UPDATE SKIP LOCKED so concurrent workers polling
// for work never observe or double-claim the same row. Heartbeat, Complete
// and ReapStale take the same row lock inside a transaction so a heartbeat
// racing a reap scan is resolved by whichever transaction commits first,
// never silently lost.
type RunStore struct {
	conn      *Connection
	logger    *slog.Logger
	publisher runs.Publisher
}

var _ runs.Store = (*RunStore)(nil)

// NewRunStore creates a RunStore. publisher may be nil-safe no-op
// (events.NoopPublisher{}); lifecycle events are published best-effort and
// never block or fail a request.
func NewRunStore(conn *Connection, publisher runs.Publisher, logger *slog.Logger) *RunStore {
	return &RunStore{conn: conn, logger: logger.With("component", "run_store"), publisher: publisher}
}

// HealthCheck verifies the storage backend is healthy and ready.
func (s *RunStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// Close releases the underlying connection pool and the lifecycle event
// publisher.
func (s *RunStore) Close() error {
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn("failed to close lifecycle event publisher", "error", err.Error())
		}
	}

	return s.conn.Close()
}

const runColumns = `
	id, tenant_id, pipeline_version_id, status, trigger_type, parameters,
	claimed_at, claimed_by, heartbeat_at, started_at, finished_at,
	error_message, retry_of_run_id, root_run_id, created_at, updated_at`

func scanRun(row interface{ Scan(...any) error }) (*runs.Run, error) {
	var r runs.Run

	var parameters []byte

	var claimedBy, errorMessage, retryOfRunID, rootRunID sql.NullString

	var claimedAt, heartbeatAt, startedAt, finishedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.TenantID, &r.PipelineVersionID, &r.Status, &r.TriggerType, &parameters,
		&claimedAt, &claimedBy, &heartbeatAt, &startedAt, &finishedAt,
		&errorMessage, &retryOfRunID, &rootRunID, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, runs.ErrRunNotFound
		}

		return nil, fmt.Errorf("scan run: %w", err)
	}

	r.Parameters = parameters
	r.ClaimedBy = claimedBy.String
	r.ErrorMessage = errorMessage.String
	r.RetryOfRunID = retryOfRunID.String
	r.RootRunID = rootRunID.String

	if claimedAt.Valid {
		t := claimedAt.Time
		r.ClaimedAt = &t
	}

	if heartbeatAt.Valid {
		t := heartbeatAt.Time
		r.HeartbeatAt = &t
	}

	if startedAt.Valid {
		t := startedAt.Time
		r.StartedAt = &t
	}

	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}

	return &r, nil
}

func scanPipelineVersion(row interface{ Scan(...any) error }) (*runs.PipelineVersion, error) {
	var pv runs.PipelineVersion

	var dagSpec []byte

	if err := row.Scan(&pv.ID, &pv.Status, &dagSpec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, runs.ErrPipelineVersionGone
		}

		return nil, fmt.Errorf("scan pipeline version: %w", err)
	}

	pv.DAGSpec = dagSpec

	return &pv, nil
}

// Claim atomically claims the oldest QUEUED run for tenantID and returns it
// with a snapshot of the pipeline version it references. If that version has
// disappeared, the whole claim (including the RUNNING transition) is rolled
// back and ErrPipelineVersionGone is returned.
func (s *RunStore) Claim(ctx context.Context, tenantID, workerID string) (*runs.ClaimResult, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id FROM pipeline_runs
		WHERE tenant_id = $1 AND status = 'QUEUED'
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, tenantID)

	var runID string
	if err := row.Scan(&runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, runs.ErrNoQueuedRuns
		}

		return nil, fmt.Errorf("claim: select candidate: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE pipeline_runs
		SET status = 'RUNNING', claimed_at = NOW(), claimed_by = $2,
		    started_at = COALESCE(started_at, NOW()), heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING %s`, runColumns)

	run, err := scanRun(tx.QueryRowContext(ctx, query, runID, workerID))
	if err != nil {
		return nil, fmt.Errorf("claim: update: %w", err)
	}

	pipelineVersion, err := scanPipelineVersion(tx.QueryRowContext(ctx, `
		SELECT id, status, dag_spec FROM pipeline_versions WHERE id = $1`, run.PipelineVersionID))
	if err != nil {
		// The run has transitioned to RUNNING inside this transaction; since
		// we never commit, the deferred rollback reverts it back to QUEUED.
		return nil, fmt.Errorf("claim: %w", runs.ErrPipelineVersionGone)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim: commit: %w", err)
	}

	s.publish(ctx, "claimed", run)

	return &runs.ClaimResult{Run: run, PipelineVersion: pipelineVersion}, nil
}

// Get fetches a single run scoped to tenant.
func (s *RunStore) Get(ctx context.Context, tenantID, runID string) (*runs.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM pipeline_runs WHERE id = $1 AND tenant_id = $2`, runColumns)

	return scanRun(s.conn.QueryRowContext(ctx, query, runID, tenantID))
}

// List returns runs for a tenant matching filter, newest first, with an
// opaque created_at+id pagination cursor.
func (s *RunStore) List(ctx context.Context, tenantID string, filter runs.ListFilter) ([]*runs.Run, string, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	if limit > maxListLimit {
		limit = maxListLimit
	}

	where := []string{"tenant_id = $1"}
	args := []any{tenantID}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	if filter.PipelineVersionID != "" {
		args = append(args, filter.PipelineVersionID)
		where = append(where, fmt.Sprintf("pipeline_version_id = $%d", len(args)))
	}

	if filter.RetryOfRunID != "" {
		args = append(args, filter.RetryOfRunID)
		where = append(where, fmt.Sprintf("retry_of_run_id = $%d", len(args)))
	}

	if filter.Cursor != "" {
		cursorTime, cursorID, err := decodeListCursor(filter.Cursor)
		if err != nil {
			return nil, "", fmt.Errorf("list: %w", err)
		}

		args = append(args, cursorTime, cursorID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}

	args = append(args, limit+1)

	query := fmt.Sprintf(`
		SELECT %s FROM pipeline_runs
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`, runColumns, strings.Join(where, " AND "), len(args))

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("list: query: %w", err)
	}
	defer rows.Close()

	var result []*runs.Run

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, "", fmt.Errorf("list: scan: %w", err)
		}

		result = append(result, run)
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("list: iterate: %w", err)
	}

	nextCursor := ""
	if len(result) > limit {
		last := result[limit-1]
		nextCursor = encodeListCursor(last.CreatedAt, last.ID)
		result = result[:limit]
	}

	return result, nextCursor, nil
}

func encodeListCursor(t time.Time, id string) string {
	return fmt.Sprintf("%d:%s", t.UnixNano(), id)
}

func decodeListCursor(cursor string) (time.Time, string, error) {
	parts := strings.SplitN(cursor, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid cursor")
	}

	var nanos int64
	if _, err := fmt.Sscanf(parts[0], "%d", &nanos); err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor timestamp: %w", err)
	}

	return time.Unix(0, nanos), parts[1], nil
}

// Heartbeat records liveness for a RUNNING run held by workerID.
func (s *RunStore) Heartbeat(ctx context.Context, tenantID, runID, workerID string) (*runs.Run, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.lockRun(ctx, tx, tenantID, runID)
	if err != nil {
		return nil, err
	}

	if current.Status != runs.StatusRunning {
		return nil, fmt.Errorf("heartbeat: %w: run is %s", runs.ErrInvalidTransition, current.Status)
	}

	if current.ClaimedBy != workerID {
		return nil, runs.ErrWorkerMismatch
	}

	query := fmt.Sprintf(`
		UPDATE pipeline_runs SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 RETURNING %s`, runColumns)

	run, err := scanRun(tx.QueryRowContext(ctx, query, runID))
	if err != nil {
		return nil, fmt.Errorf("heartbeat: update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("heartbeat: commit: %w", err)
	}

	return run, nil
}

// Complete transitions a RUNNING run to a terminal outcome. It is keyed
// solely on the run being RUNNING, not on worker identity, so a duplicate or
// late complete call from any caller fails with ErrInvalidTransition rather
// than silently double-applying or being rejected for the wrong reason.
func (s *RunStore) Complete(
	ctx context.Context, tenantID, runID string, outcome runs.Status, errorMessage string,
) (*runs.Run, error) {
	if outcome != runs.StatusSucceeded && outcome != runs.StatusFailed {
		return nil, fmt.Errorf("complete: %w: outcome must be SUCCEEDED or FAILED, got %s", runs.ErrInvalidTransition, outcome)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("complete: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.lockRun(ctx, tx, tenantID, runID)
	if err != nil {
		return nil, err
	}

	if err := runs.ValidateTransition(current.Status, outcome); err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}

	// error_message is forced null unless the outcome is FAILED, so invariant
	// 4 (error_message non-null => status in {FAILED, CANCELLED}) always holds.
	storedErrorMessage := ""
	if outcome == runs.StatusFailed {
		storedErrorMessage = errorMessage
	}

	query := fmt.Sprintf(`
		UPDATE pipeline_runs
		SET status = $2, error_message = $3, finished_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 RETURNING %s`, runColumns)

	run, err := scanRun(tx.QueryRowContext(ctx, query, runID, string(outcome), nullableString(storedErrorMessage)))
	if err != nil {
		return nil, fmt.Errorf("complete: update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("complete: commit: %w", err)
	}

	s.publish(ctx, "completed", run)

	return run, nil
}

// Cancel transitions a QUEUED or RUNNING run to CANCELLED, defaulting reason
// to "Cancelled by admin" when empty, and appends a WARN log entry.
func (s *RunStore) Cancel(ctx context.Context, tenantID, runID, reason string) (*runs.Run, error) {
	if reason == "" {
		reason = cancelledByAdmin
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("cancel: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.lockRun(ctx, tx, tenantID, runID)
	if err != nil {
		return nil, err
	}

	if err := runs.ValidateTransition(current.Status, runs.StatusCancelled); err != nil {
		return nil, fmt.Errorf("cancel: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE pipeline_runs
		SET status = 'CANCELLED', error_message = $2, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 RETURNING %s`, runColumns)

	run, err := scanRun(tx.QueryRowContext(ctx, query, runID, nullableString(reason)))
	if err != nil {
		return nil, fmt.Errorf("cancel: update: %w", err)
	}

	meta, _ := json.Marshal(map[string]string{"status": "CANCELLED"})

	if err := s.appendLogTx(ctx, tx, tenantID, runID, runs.LogLevelWarn, "Run cancelled", logSourceControlPlane, meta); err != nil {
		return nil, fmt.Errorf("cancel: append log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("cancel: commit: %w", err)
	}

	s.publish(ctx, "cancelled", run)

	return run, nil
}

// Retry creates a new QUEUED run linked to a FAILED or CANCELLED source run.
// The source's pipeline version must still exist and be APPROVED.
func (s *RunStore) Retry(
	ctx context.Context, tenantID, runID string, parametersOverride json.RawMessage,
) (*runs.Run, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("retry: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	source, err := s.lockRun(ctx, tx, tenantID, runID)
	if err != nil {
		return nil, err
	}

	if !source.Status.Retryable() {
		return nil, fmt.Errorf("retry: %w: run is %s", runs.ErrNotRetryable, source.Status)
	}

	pipelineVersion, err := scanPipelineVersion(tx.QueryRowContext(ctx, `
		SELECT id, status, dag_spec FROM pipeline_versions WHERE id = $1`, source.PipelineVersionID))
	if err != nil {
		return nil, fmt.Errorf("retry: %w", runs.ErrPipelineVersionGone)
	}

	if pipelineVersion.Status != "APPROVED" {
		return nil, runs.ErrPipelineVersionNotApproved
	}

	rootRunID := source.RootRunID
	if rootRunID == "" {
		rootRunID = source.ID
	}

	parameters := []byte(source.Parameters)
	if parametersOverride != nil {
		parameters = parametersOverride
	}

	newID := uuid.NewString()

	query := fmt.Sprintf(`
		INSERT INTO pipeline_runs (
			id, tenant_id, pipeline_version_id, status, trigger_type, parameters,
			retry_of_run_id, root_run_id
		) VALUES ($1, $2, $3, 'QUEUED', 'retry', $4, $5, $6)
		RETURNING %s`, runColumns)

	run, err := scanRun(tx.QueryRowContext(ctx, query,
		newID, source.TenantID, source.PipelineVersionID, parameters, source.ID, rootRunID,
	))
	if err != nil {
		return nil, fmt.Errorf("retry: insert: %w", err)
	}

	meta, _ := json.Marshal(map[string]string{"retry_of": source.ID})

	if err := s.appendLogTx(ctx, tx, tenantID, run.ID, runs.LogLevelInfo,
		"Retry of "+source.ID, logSourceControlPlane, meta); err != nil {
		return nil, fmt.Errorf("retry: append log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("retry: commit: %w", err)
	}

	s.publish(ctx, "retried", run)

	return run, nil
}

// ReapStale fails up to limit RUNNING runs whose liveness has expired,
// appending a WARN log entry to each. Inputs are clamped the same way the
// HTTP layer's original implementation clamped them: stale_after_seconds >=
// 1, 1 <= limit <= 500.
func (s *RunStore) ReapStale(ctx context.Context, tenantID string, heartbeatTimeoutSeconds int64, limit int) ([]string, error) {
	if heartbeatTimeoutSeconds < 1 {
		heartbeatTimeoutSeconds = 1
	}

	if limit < minReapLimit {
		limit = minReapLimit
	}

	if limit > maxReapLimit {
		limit = maxReapLimit
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("reap: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, heartbeat_at FROM pipeline_runs
		WHERE tenant_id = $1 AND status = 'RUNNING'
		  AND COALESCE(heartbeat_at, started_at) < NOW() - ($2 || ' seconds')::interval
		ORDER BY created_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED`, tenantID, heartbeatTimeoutSeconds, limit)
	if err != nil {
		return nil, fmt.Errorf("reap: select candidates: %w", err)
	}

	type candidate struct {
		id          string
		heartbeatAt sql.NullTime
	}

	var candidates []candidate

	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.heartbeatAt); err != nil {
			rows.Close()

			return nil, fmt.Errorf("reap: scan candidate: %w", err)
		}

		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		rows.Close()

		return nil, fmt.Errorf("reap: iterate candidates: %w", err)
	}

	rows.Close()

	reaped := make([]string, 0, len(candidates))
	reapedRuns := make([]*runs.Run, 0, len(candidates))
	errorMessage := fmt.Sprintf("Stale: no heartbeat for %ds", heartbeatTimeoutSeconds)

	for _, c := range candidates {
		query := fmt.Sprintf(`
			UPDATE pipeline_runs
			SET status = 'FAILED', error_message = $2, finished_at = NOW(), updated_at = NOW()
			WHERE id = $1 RETURNING %s`, runColumns)

		run, err := scanRun(tx.QueryRowContext(ctx, query, c.id, errorMessage))
		if err != nil {
			return nil, fmt.Errorf("reap: update %s: %w", c.id, err)
		}

		meta := map[string]any{"stale_after_seconds": heartbeatTimeoutSeconds}
		if c.heartbeatAt.Valid {
			meta["last_heartbeat_at"] = c.heartbeatAt.Time.Format(time.RFC3339)
		}

		metaJSON, _ := json.Marshal(meta)

		if err := s.appendLogTx(ctx, tx, tenantID, c.id, runs.LogLevelWarn,
			"Run marked stale by reaper", logSourceControlPlane, metaJSON); err != nil {
			return nil, fmt.Errorf("reap: append log %s: %w", c.id, err)
		}

		reaped = append(reaped, c.id)
		reapedRuns = append(reapedRuns, run)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("reap: commit: %w", err)
	}

	for _, run := range reapedRuns {
		s.publish(ctx, "reaped", run)
	}

	s.logger.Info("reaped stale runs", slog.String("tenant_id", tenantID), slog.Int("count", len(reaped)))

	return reaped, nil
}

// Lineage returns every run sharing a root, ordered by creation time.
func (s *RunStore) Lineage(ctx context.Context, tenantID, runID string) ([]*runs.Run, error) {
	anchor, err := s.Get(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}

	rootID := anchor.RootRunID
	if rootID == "" {
		rootID = anchor.ID
	}

	query := fmt.Sprintf(`
		SELECT %s FROM pipeline_runs
		WHERE tenant_id = $1 AND (id = $2 OR root_run_id = $2)
		ORDER BY created_at ASC`, runColumns)

	rows, err := s.conn.QueryContext(ctx, query, tenantID, rootID)
	if err != nil {
		return nil, fmt.Errorf("lineage: query: %w", err)
	}
	defer rows.Close()

	var chain []*runs.Run

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("lineage: scan: %w", err)
		}

		chain = append(chain, run)
	}

	return chain, rows.Err()
}

// AppendLog appends one log line to a run's stream.
func (s *RunStore) AppendLog(ctx context.Context, tenantID, runID string, entry *runs.RunLog) (*runs.RunLog, error) {
	if _, err := s.Get(ctx, tenantID, runID); err != nil {
		return nil, err
	}

	level := entry.Level
	if level == "" {
		level = runs.LogLevelInfo
	}

	meta := entry.Meta
	if meta == nil {
		meta = []byte("{}")
	}

	row := s.conn.QueryRowContext(ctx, `
		INSERT INTO pipeline_run_logs (id, run_id, tenant_id, level, message, source, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, run_id, tenant_id, ts, level, message, source, meta`,
		uuid.NewString(), runID, tenantID, string(level), entry.Message, nullableString(entry.Source), []byte(meta))

	return scanRunLog(row)
}

// appendLogTx appends one log line inside an existing transaction, used by
// operations that must make the log entry visible atomically with the run
// mutation that produced it (cancel, retry, reap).
func (s *RunStore) appendLogTx(
	ctx context.Context, tx *sql.Tx, tenantID, runID string, level runs.LogLevel, message, source string, meta []byte,
) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pipeline_run_logs (id, run_id, tenant_id, level, message, source, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), runID, tenantID, string(level), message, nullableString(source), meta)

	return err
}

// ListLogs returns a run's log stream ordered per filter.Order (default
// ascending), bounded by filter.Before/filter.Since, limit clamped to
// [1, 1000] with a default of 200.
func (s *RunStore) ListLogs(ctx context.Context, tenantID, runID string, filter runs.LogFilter) ([]*runs.RunLog, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}

	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	args := []any{runID, tenantID}
	where := []string{"run_id = $1", "tenant_id = $2"}

	if !filter.Before.IsZero() {
		args = append(args, filter.Before)
		where = append(where, fmt.Sprintf("ts < $%d", len(args)))
	}

	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("ts > $%d", len(args)))
	}

	orderDir := "ASC"
	if filter.Order == runs.LogOrderDesc {
		orderDir = "DESC"
	}

	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, run_id, tenant_id, ts, level, message, source, meta
		FROM pipeline_run_logs
		WHERE %s
		ORDER BY ts %s
		LIMIT $%d`, strings.Join(where, " AND "), orderDir, len(args))

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list logs: query: %w", err)
	}
	defer rows.Close()

	var logs []*runs.RunLog

	for rows.Next() {
		entry, err := scanRunLog(rows)
		if err != nil {
			return nil, fmt.Errorf("list logs: scan: %w", err)
		}

		logs = append(logs, entry)
	}

	return logs, rows.Err()
}

func scanRunLog(row interface{ Scan(...any) error }) (*runs.RunLog, error) {
	var entry runs.RunLog

	var source sql.NullString

	var meta []byte

	if err := row.Scan(
		&entry.ID, &entry.RunID, &entry.TenantID, &entry.Ts, &entry.Level, &entry.Message, &source, &meta,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, runs.ErrRunNotFound
		}

		return nil, fmt.Errorf("scan run log: %w", err)
	}

	entry.Source = source.String
	entry.Meta = meta

	return &entry, nil
}

// lockRun fetches a run inside tx with FOR UPDATE so concurrent
// heartbeat/complete/reap/cancel calls for the same run serialize.
func (s *RunStore) lockRun(ctx context.Context, tx *sql.Tx, tenantID, runID string) (*runs.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM pipeline_runs WHERE id = $1 AND tenant_id = $2 FOR UPDATE`, runColumns)

	return scanRun(tx.QueryRowContext(ctx, query, runID, tenantID))
}

func (s *RunStore) publish(ctx context.Context, kind string, run *runs.Run) {
	if s.publisher == nil || run == nil {
		return
	}

	if err := s.publisher.Publish(ctx, runs.LifecycleEvent{Kind: kind, Run: run}); err != nil {
		s.logger.Warn("failed to publish lifecycle event",
			slog.String("kind", kind), slog.String("run_id", run.ID), slog.String("error", err.Error()))
	}
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
