package reconcile

import "context"

// Audit actions written after each completed pass.
const (
	ActionWorkflowSyncCompleted = "workflow_sync.completed"
	ActionRunSyncCompleted      = "run_sync.completed"
	ActionSourceSyncCompleted   = "run_source_sync.completed"
	ActionStaleSyncCompleted    = "stale_run_sync.completed"

	ResourceReport      = "reconciliation_report"
	ResourceMultiSource = "multi_source_report"
	ResourceOutcome     = "source_outcome"
)

// PassAuditor persists a record of a finished pass. A failure to audit never
// changes the returned report.
type PassAuditor interface {
	RecordPass(ctx context.Context, action, resourceType, resourceID string, payload any) error
}
