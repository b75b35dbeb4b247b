package repo

import (
	"context"
	"errors"
	"time"

	"github.com/animus-labs/flowsync/internal/domain"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// WorkflowRepository stores workflow definitions keyed by name.
type WorkflowRepository interface {
	GetByName(ctx context.Context, name string) (domain.WorkflowDefinition, error)
	Create(ctx context.Context, def domain.WorkflowDefinition) error
	Update(ctx context.Context, def domain.WorkflowDefinition) error
}

// RunRepository stores workflow runs. UpdateRun writes the whole mutable
// state of one run in a single statement.
type RunRepository interface {
	CreateRun(ctx context.Context, run domain.WorkflowRun) error
	GetRun(ctx context.Context, id string) (domain.WorkflowRun, error)
	FindByExternalRef(ctx context.Context, sourceID, externalRunID string) (domain.WorkflowRun, error)
	// ListActiveBySource returns non-terminal runs of a source refreshed at or after since.
	ListActiveBySource(ctx context.Context, sourceID string, since time.Time) ([]domain.WorkflowRun, error)
	// ListStale returns non-terminal runs last refreshed strictly before the given time.
	ListStale(ctx context.Context, before time.Time, limit int) ([]domain.WorkflowRun, error)
	UpdateRun(ctx context.Context, run domain.WorkflowRun) error
}

// SourceRepository lists registered orchestrator sources.
type SourceRepository interface {
	ListSources(ctx context.Context, activeOnly bool) ([]domain.RunSource, error)
	GetSource(ctx context.Context, id string) (domain.RunSource, error)
}
