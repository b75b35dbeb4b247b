package runsync

import (
	"context"

	"github.com/animus-labs/flowsync/internal/reconcile"
)

func (s *Service) record(ctx context.Context, action, resourceType, resourceID string, payload map[string]any) {
	if s.auditor == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	defer cancel()
	if err := s.auditor.RecordPass(ctx, action, resourceType, resourceID, payload); err != nil {
		s.log("audit pass failed", "item", resourceID, "error", err)
	}
}

func (s *Service) auditAggregate(ctx context.Context, agg reconcile.MultiSourceReport) {
	s.record(ctx, reconcile.ActionRunSyncCompleted, reconcile.ResourceMultiSource, agg.ID, map[string]any{
		"total_sources":     agg.TotalSources,
		"succeeded_sources": agg.SucceededSources,
		"failed_sources":    agg.FailedSources,
		"total_updated":     agg.TotalUpdated,
		"total_skipped":     agg.TotalSkipped,
		"total_failed":      agg.TotalFailed,
		"total_orphaned":    agg.TotalOrphaned,
	})
}

func (s *Service) auditOutcome(ctx context.Context, o reconcile.SourceOutcome) {
	payload := map[string]any{
		"source_id": o.SourceID,
		"updated":   o.Report.Updated,
		"skipped":   o.Report.Skipped,
		"failed":    o.Report.Failed,
		"orphaned":  o.Orphaned,
	}
	if o.Error != nil {
		payload["error_kind"] = string(o.Error.Kind)
	}
	s.record(ctx, reconcile.ActionSourceSyncCompleted, reconcile.ResourceOutcome, o.Report.ID, payload)
}

func (s *Service) auditReport(ctx context.Context, r reconcile.Report) {
	s.record(ctx, reconcile.ActionStaleSyncCompleted, reconcile.ResourceReport, r.ID, map[string]any{
		"reconciler": r.Reconciler,
		"processed":  r.Processed,
		"updated":    r.Updated,
		"skipped":    r.Skipped,
		"failed":     r.Failed,
	})
}
