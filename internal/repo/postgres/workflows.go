package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/flowsync/internal/domain"
	"github.com/animus-labs/flowsync/internal/repo"
)

const (
	insertWorkflowQuery = `INSERT INTO workflow_definitions (
		definition_id,
		name,
		owner,
		team,
		description,
		schedule_cron,
		schedule_tz,
		source_location,
		source_kind,
		status,
		external_ref,
		created_at,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	selectWorkflowByNameQuery = `SELECT definition_id, name, owner, team, description, schedule_cron, schedule_tz,
		source_location, source_kind, status, external_ref, created_at, updated_at
	 FROM workflow_definitions
	 WHERE name = $1`

	updateWorkflowQuery = `UPDATE workflow_definitions SET
		owner = $2,
		team = $3,
		description = $4,
		schedule_cron = $5,
		schedule_tz = $6,
		source_location = $7,
		source_kind = $8,
		status = $9,
		external_ref = $10,
		updated_at = $11
	 WHERE name = $1`
)

type WorkflowStore struct {
	db DB
}

func NewWorkflowStore(db DB) *WorkflowStore {
	if db == nil {
		return nil
	}
	return &WorkflowStore{db: db}
}

var _ repo.WorkflowRepository = (*WorkflowStore)(nil)

func (s *WorkflowStore) GetByName(ctx context.Context, name string) (domain.WorkflowDefinition, error) {
	if s == nil || s.db == nil {
		return domain.WorkflowDefinition{}, fmt.Errorf("workflow store not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.WorkflowDefinition{}, fmt.Errorf("workflow name is required")
	}
	def, err := scanWorkflow(s.db.QueryRowContext(ctx, selectWorkflowByNameQuery, name))
	if err != nil {
		return domain.WorkflowDefinition{}, handleNotFound(err)
	}
	return def, nil
}

func (s *WorkflowStore) Create(ctx context.Context, def domain.WorkflowDefinition) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("workflow store not initialized")
	}
	if err := def.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		insertWorkflowQuery,
		strings.TrimSpace(def.ID),
		strings.TrimSpace(def.Name),
		def.Owner,
		def.Team,
		def.Description,
		def.Schedule.Cron,
		def.Schedule.Timezone,
		def.SourceLocation,
		string(def.SourceKind),
		string(def.Status),
		def.ExternalRef,
		normalizeTime(def.CreatedAt),
		normalizeTime(def.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func (s *WorkflowStore) Update(ctx context.Context, def domain.WorkflowDefinition) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("workflow store not initialized")
	}
	if err := def.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		updateWorkflowQuery,
		strings.TrimSpace(def.Name),
		def.Owner,
		def.Team,
		def.Description,
		def.Schedule.Cron,
		def.Schedule.Timezone,
		def.SourceLocation,
		string(def.SourceKind),
		string(def.Status),
		def.ExternalRef,
		normalizeTime(def.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func scanWorkflow(row rowScanner) (domain.WorkflowDefinition, error) {
	var def domain.WorkflowDefinition
	var sourceKind, status string
	if err := row.Scan(&def.ID, &def.Name, &def.Owner, &def.Team, &def.Description, &def.Schedule.Cron, &def.Schedule.Timezone,
		&def.SourceLocation, &sourceKind, &status, &def.ExternalRef, &def.CreatedAt, &def.UpdatedAt); err != nil {
		return domain.WorkflowDefinition{}, err
	}
	def.SourceKind = domain.SourceKind(sourceKind)
	def.Status = domain.WorkflowStatus(status)
	def.CreatedAt = def.CreatedAt.UTC()
	def.UpdatedAt = def.UpdatedAt.UTC()
	return def, nil
}
