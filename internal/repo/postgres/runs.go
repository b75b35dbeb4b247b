package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/flowsync/internal/domain"
	"github.com/animus-labs/flowsync/internal/repo"
)

const runColumns = `r.run_id, r.workflow_name, r.source_id, r.external_run_id,
		COALESCE(NULLIF(d.external_ref, ''), r.workflow_name),
		r.status, r.triggered_by, r.run_kind, r.started_at, r.ended_at,
		r.stop_requested_by, r.stop_reason, r.stop_requested_at,
		r.task_progress, r.status_url, r.created_at, r.updated_at`

const runFrom = ` FROM workflow_runs r
	 LEFT JOIN workflow_definitions d ON d.name = r.workflow_name`

const (
	insertRunQuery = `INSERT INTO workflow_runs (
		run_id,
		workflow_name,
		source_id,
		external_run_id,
		status,
		triggered_by,
		run_kind,
		started_at,
		ended_at,
		stop_requested_by,
		stop_reason,
		stop_requested_at,
		task_progress,
		status_url,
		created_at,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	selectRunQuery = `SELECT ` + runColumns + runFrom + `
	 WHERE r.run_id = $1`

	selectRunByExternalRefQuery = `SELECT ` + runColumns + runFrom + `
	 WHERE r.source_id = $1 AND r.external_run_id = $2`

	listActiveRunsBySourceQuery = `SELECT ` + runColumns + runFrom + `
	 WHERE r.source_id = $1
	   AND r.status NOT IN ('SUCCESS','FAILED','STOPPED')
	   AND r.updated_at >= $2
	 ORDER BY r.created_at ASC, r.run_id ASC`

	listStaleRunsQuery = `SELECT ` + runColumns + runFrom + `
	 WHERE r.status NOT IN ('SUCCESS','FAILED','STOPPED')
	   AND r.updated_at < $1
	 ORDER BY r.updated_at ASC, r.run_id ASC
	 LIMIT $2`

	updateRunQuery = `UPDATE workflow_runs SET
		external_run_id = $2,
		status = $3,
		started_at = $4,
		ended_at = $5,
		stop_requested_by = $6,
		stop_reason = $7,
		stop_requested_at = $8,
		task_progress = $9,
		status_url = $10,
		updated_at = $11
	 WHERE run_id = $1`
)

const defaultStaleLimit = 500

type RunStore struct {
	db DB
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

var _ repo.RunRepository = (*RunStore)(nil)

func (s *RunStore) CreateRun(ctx context.Context, run domain.WorkflowRun) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	progress, err := encodeProgress(run.TaskProgress)
	if err != nil {
		return fmt.Errorf("encode task progress: %w", err)
	}
	stopBy, stopReason, stopAt := stopColumns(run.Stop)
	_, err = s.db.ExecContext(
		ctx,
		insertRunQuery,
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.WorkflowName),
		strings.TrimSpace(run.SourceID),
		nullIfEmpty(run.ExternalRef()),
		string(run.Status),
		run.TriggeredBy,
		string(run.Kind),
		nullTime(run.StartedAt),
		nullTime(run.EndedAt),
		stopBy,
		stopReason,
		stopAt,
		progress,
		run.StatusURL,
		normalizeTime(run.CreatedAt),
		normalizeTime(run.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, id string) (domain.WorkflowRun, error) {
	if s == nil || s.db == nil {
		return domain.WorkflowRun{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.WorkflowRun{}, fmt.Errorf("run id is required")
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRunQuery, id))
	if err != nil {
		return domain.WorkflowRun{}, handleNotFound(err)
	}
	return run, nil
}

func (s *RunStore) FindByExternalRef(ctx context.Context, sourceID, externalRunID string) (domain.WorkflowRun, error) {
	if s == nil || s.db == nil {
		return domain.WorkflowRun{}, fmt.Errorf("run store not initialized")
	}
	sourceID = strings.TrimSpace(sourceID)
	externalRunID = strings.TrimSpace(externalRunID)
	if sourceID == "" || externalRunID == "" {
		return domain.WorkflowRun{}, fmt.Errorf("source id and external run id are required")
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRunByExternalRefQuery, sourceID, externalRunID))
	if err != nil {
		return domain.WorkflowRun{}, handleNotFound(err)
	}
	return run, nil
}

func (s *RunStore) ListActiveBySource(ctx context.Context, sourceID string, since time.Time) ([]domain.WorkflowRun, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return nil, fmt.Errorf("source id is required")
	}
	return s.list(ctx, listActiveRunsBySourceQuery, sourceID, since.UTC())
}

func (s *RunStore) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.WorkflowRun, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	if limit <= 0 {
		limit = defaultStaleLimit
	}
	return s.list(ctx, listStaleRunsQuery, before.UTC(), limit)
}

func (s *RunStore) UpdateRun(ctx context.Context, run domain.WorkflowRun) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	progress, err := encodeProgress(run.TaskProgress)
	if err != nil {
		return fmt.Errorf("encode task progress: %w", err)
	}
	stopBy, stopReason, stopAt := stopColumns(run.Stop)
	res, err := s.db.ExecContext(
		ctx,
		updateRunQuery,
		strings.TrimSpace(run.ID),
		nullIfEmpty(run.ExternalRef()),
		string(run.Status),
		nullTime(run.StartedAt),
		nullTime(run.EndedAt),
		stopBy,
		stopReason,
		stopAt,
		progress,
		run.StatusURL,
		normalizeTime(run.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *RunStore) list(ctx context.Context, query string, args ...any) ([]domain.WorkflowRun, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.WorkflowRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func scanRun(row rowScanner) (domain.WorkflowRun, error) {
	var run domain.WorkflowRun
	var externalRunID sql.NullString
	var status, kind string
	var startedAt, endedAt, stopAt sql.NullTime
	var stopBy, stopReason sql.NullString
	var progressJSON []byte
	if err := row.Scan(&run.ID, &run.WorkflowName, &run.SourceID, &externalRunID, &run.WorkflowExternalID,
		&status, &run.TriggeredBy, &kind, &startedAt, &endedAt,
		&stopBy, &stopReason, &stopAt,
		&progressJSON, &run.StatusURL, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return domain.WorkflowRun{}, err
	}
	if externalRunID.Valid {
		ref := externalRunID.String
		run.ExternalRunID = &ref
	}
	run.Status = domain.NormalizeRunStatus(status)
	if run.Status == "" {
		return domain.WorkflowRun{}, fmt.Errorf("run %s: unknown stored status %q", run.ID, status)
	}
	run.Kind = domain.RunKind(kind)
	run.StartedAt = timePtr(startedAt)
	run.EndedAt = timePtr(endedAt)
	if stopAt.Valid {
		run.Stop = &domain.StopRequest{
			RequestedBy: stopBy.String,
			Reason:      stopReason.String,
			RequestedAt: stopAt.Time.UTC(),
		}
	}
	progress, err := decodeProgress(progressJSON)
	if err != nil {
		return domain.WorkflowRun{}, fmt.Errorf("decode task progress: %w", err)
	}
	run.TaskProgress = progress
	run.CreatedAt = run.CreatedAt.UTC()
	run.UpdatedAt = run.UpdatedAt.UTC()
	return run, nil
}

func stopColumns(stop *domain.StopRequest) (sql.NullString, sql.NullString, sql.NullTime) {
	if stop == nil {
		return sql.NullString{}, sql.NullString{}, sql.NullTime{}
	}
	at := stop.RequestedAt
	return sql.NullString{String: stop.RequestedBy, Valid: true},
		sql.NullString{String: stop.Reason, Valid: true},
		nullTime(&at)
}
