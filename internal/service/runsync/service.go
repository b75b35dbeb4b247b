package runsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/flowsync/internal/domain"
	"github.com/animus-labs/flowsync/internal/orchestrator"
	"github.com/animus-labs/flowsync/internal/reconcile"
	"github.com/animus-labs/flowsync/internal/repo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	ReconcilerName      = "runsync"
	StaleReconcilerName = "runsync_stale"
)

const (
	defaultCallTimeout    = 30 * time.Second
	defaultConcurrency    = 4
	defaultLookback       = 24 * time.Hour
	defaultBatchSize      = 100
	defaultStaleThreshold = time.Hour
	defaultStaleLimit     = 500

	passCancelled = "pass cancelled"
)

// SourceRegistry resolves registered orchestrator sources and their clients.
type SourceRegistry interface {
	ActiveSources(ctx context.Context) ([]domain.RunSource, error)
	Source(ctx context.Context, id string) (domain.RunSource, error)
	Client(ctx context.Context, src domain.RunSource) (orchestrator.RunSource, error)
}

type Service struct {
	registry SourceRegistry
	runs     repo.RunRepository
	logger   *slog.Logger
	now      func() time.Time
	auditor  reconcile.PassAuditor

	callTimeout           time.Duration
	concurrency           int
	defaultLookback       time.Duration
	defaultBatchSize      int
	defaultStaleThreshold time.Duration
	staleLimit            int
}

func New(registry SourceRegistry, runs repo.RunRepository, opts ...Option) (*Service, error) {
	if registry == nil {
		return nil, errors.New("source registry is required")
	}
	if runs == nil {
		return nil, errors.New("run repository is required")
	}
	s := &Service{
		registry:              registry,
		runs:                  runs,
		logger:                slog.New(slog.DiscardHandler),
		now:                   time.Now,
		callTimeout:           defaultCallTimeout,
		concurrency:           defaultConcurrency,
		defaultLookback:       defaultLookback,
		defaultBatchSize:      defaultBatchSize,
		defaultStaleThreshold: defaultStaleThreshold,
		staleLimit:            defaultStaleLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func tracer() oteltrace.Tracer { return otel.Tracer("flowsync/runsync") }

// SyncAllActiveSources syncs every active source, at most the configured
// number at a time. Outcomes keep registration order.
func (s *Service) SyncAllActiveSources(ctx context.Context, lookback time.Duration, batchSize int) reconcile.MultiSourceReport {
	started := s.now()
	ctx, span := tracer().Start(ctx, "runsync.SyncAllActiveSources")
	defer span.End()

	sources, err := s.activeSources(ctx)
	if err != nil {
		s.log("list sources failed", "source_id", reconcile.WildcardItem, "error", err)
		outcome := reconcile.FailedOutcome(reconcile.WildcardItem, reconcile.WildcardItem, reconcile.NewBuilder(ReconcilerName, started).Report(), err)
		agg := reconcile.Aggregate(started, 0, []reconcile.SourceOutcome{outcome})
		reconcile.ObserveSourceOutcome(outcome, s.now().Sub(started))
		span.SetStatus(codes.Error, err.Error())
		s.auditAggregate(ctx, agg)
		return agg
	}

	outcomes := make([]reconcile.SourceOutcome, len(sources))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, src := range sources {
		g.Go(func() error {
			outcomes[i] = s.syncSource(ctx, src, lookback, batchSize)
			return nil
		})
	}
	_ = g.Wait()

	agg := reconcile.Aggregate(started, len(sources), outcomes)
	span.SetAttributes(
		attribute.Int("sources.total", agg.TotalSources),
		attribute.Int("sources.failed", agg.FailedSources),
		attribute.Int("runs.updated", agg.TotalUpdated),
	)
	if agg.FailedSources > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d sources failed", agg.FailedSources))
	}
	s.auditAggregate(ctx, agg)
	s.logger.Info("run sync completed",
		"component", ReconcilerName,
		"report_id", agg.ID,
		"sources", agg.TotalSources,
		"failed_sources", agg.FailedSources,
		"updated", agg.TotalUpdated,
		"skipped", agg.TotalSkipped,
		"failed", agg.TotalFailed,
		"orphaned", agg.TotalOrphaned,
	)
	return agg
}

// SyncOneSource syncs a single registered source. An unknown or inactive id
// yields a failed outcome.
func (s *Service) SyncOneSource(ctx context.Context, sourceID string, lookback time.Duration, batchSize int) reconcile.SourceOutcome {
	started := s.now()
	ctx, span := tracer().Start(ctx, "runsync.SyncOneSource",
		oteltrace.WithAttributes(attribute.String("source.id", sourceID)))
	defer span.End()

	src, err := s.source(ctx, sourceID)
	if err != nil {
		s.log("resolve source failed", "source_id", sourceID, "error", err)
		outcome := reconcile.FailedOutcome(sourceID, "", reconcile.NewBuilder(ReconcilerName, started).Report(), err)
		reconcile.ObserveSourceOutcome(outcome, s.now().Sub(started))
		span.SetStatus(codes.Error, err.Error())
		s.auditOutcome(ctx, outcome)
		return outcome
	}

	outcome := s.syncSource(ctx, src, lookback, batchSize)
	s.auditOutcome(ctx, outcome)
	return outcome
}

func (s *Service) syncSource(ctx context.Context, src domain.RunSource, lookback time.Duration, batchSize int) reconcile.SourceOutcome {
	started := s.now()
	ctx, span := tracer().Start(ctx, "runsync.source",
		oteltrace.WithAttributes(attribute.String("source.id", src.ID)))
	defer span.End()

	outcome := s.doSync(ctx, src, lookback, batchSize)
	elapsed := s.now().Sub(started)
	reconcile.ObserveSourceOutcome(outcome, elapsed)

	span.SetAttributes(
		attribute.Int("runs.updated", outcome.Report.Updated),
		attribute.Int("runs.skipped", outcome.Report.Skipped),
		attribute.Int("runs.failed", outcome.Report.Failed),
		attribute.Int("runs.orphaned", outcome.Orphaned),
	)
	if outcome.Failed() {
		span.SetStatus(codes.Error, outcome.Error.Message)
		s.log("source sync failed", "source_id", src.ID, "kind", string(outcome.Error.Kind), "error", errors.New(outcome.Error.Message))
	}
	return outcome
}

// doSync reconciles one source: listed runs first, then local runs that
// the listing did not mention.
func (s *Service) doSync(ctx context.Context, src domain.RunSource, lookback time.Duration, batchSize int) reconcile.SourceOutcome {
	if lookback <= 0 {
		lookback = s.defaultLookback
	}
	if batchSize <= 0 {
		batchSize = s.defaultBatchSize
	}
	now := s.now()
	since := now.Add(-lookback)
	b := reconcile.NewBuilder(ReconcilerName, now)
	name := src.DisplayName()

	client, err := s.registry.Client(ctx, src)
	if err != nil {
		return reconcile.FailedOutcome(src.ID, name, b.Report(), reconcile.Ensure(reconcile.KindStorage, "connect source", err))
	}

	var snaps []orchestrator.RunSnapshot
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		snaps, err = client.ListRecentRuns(ctx, since, batchSize)
		return err
	})
	if err != nil {
		return reconcile.FailedOutcome(src.ID, name, b.Report(), reconcile.Storage("list recent runs", err))
	}

	var local []domain.WorkflowRun
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		local, err = s.runs.ListActiveBySource(ctx, src.ID, since)
		return err
	})
	if err != nil {
		return reconcile.FailedOutcome(src.ID, name, b.Report(), reconcile.Storage("list local runs", err))
	}

	listed := make(map[string]struct{}, len(snaps))
	for _, snap := range snaps {
		listed[snap.ExternalRunID] = struct{}{}
	}

	for _, snap := range snaps {
		if ctx.Err() != nil {
			b.FailKind(snapshotItem(snap), reconcile.KindUnknown, passCancelled)
			continue
		}

		updated, err := s.syncListed(ctx, src, client, snap)
		switch {
		case err != nil:
			s.fail(ctx, b, src.ID, snapshotItem(snap), err)
		case updated:
			b.Updated()
		default:
			b.Skipped()
		}
	}

	orphaned := 0
	for _, run := range local {
		ref := run.ExternalRef()
		if ref == "" {
			continue
		}
		if _, ok := listed[ref]; ok {
			continue
		}
		if ctx.Err() != nil {
			b.FailKind(run.ID, reconcile.KindUnknown, passCancelled)
			continue
		}

		err := s.refreshByLookup(ctx, client, run)
		switch {
		case errors.Is(err, orchestrator.ErrNotFound):
			orphaned++
			s.logger.Info("run not known to orchestrator",
				"component", ReconcilerName, "source_id", src.ID, "item", run.ID, "external_run_id", ref)
		case err != nil:
			s.fail(ctx, b, src.ID, run.ID, err)
		default:
			b.Updated()
		}
	}

	return reconcile.SourceOutcome{SourceID: src.ID, SourceName: name, Report: b.Report(), Orphaned: orphaned}
}

// syncListed applies one listed snapshot. It reports false when no local run
// carries the snapshot's external id; such runs were started elsewhere.
func (s *Service) syncListed(ctx context.Context, src domain.RunSource, client orchestrator.RunSource, snap orchestrator.RunSnapshot) (bool, error) {
	if strings.TrimSpace(snap.ExternalRunID) == "" {
		return false, reconcile.Validationf("orchestrator returned a run without an id for workflow %q", snap.WorkflowExternalID)
	}
	var run domain.WorkflowRun
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		run, err = s.runs.FindByExternalRef(ctx, src.ID, snap.ExternalRunID)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, reconcile.Storage("find run "+snap.ExternalRunID, err)
	}
	if err := s.refresh(ctx, client, run, snap); err != nil {
		return false, err
	}
	return true, nil
}

// refreshByLookup fetches one run directly. orchestrator.ErrNotFound is
// returned unwrapped so callers can tell a vanished run from a failure.
func (s *Service) refreshByLookup(ctx context.Context, client orchestrator.RunSource, run domain.WorkflowRun) error {
	workflowRef := run.WorkflowExternalID
	if workflowRef == "" {
		workflowRef = run.WorkflowName
	}
	var snap orchestrator.RunSnapshot
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		snap, err = client.FetchRun(ctx, workflowRef, run.ExternalRef())
		return err
	})
	if errors.Is(err, orchestrator.ErrNotFound) {
		return orchestrator.ErrNotFound
	}
	if err != nil {
		return reconcile.Storage("fetch run "+run.ExternalRef(), err)
	}
	return s.refresh(ctx, client, run, snap)
}

// refresh is the shared per-run update: task states, state machine, one write.
func (s *Service) refresh(ctx context.Context, client orchestrator.RunSource, run domain.WorkflowRun, snap orchestrator.RunSnapshot) error {
	workflowRef := snap.WorkflowExternalID
	if workflowRef == "" {
		workflowRef = run.WorkflowExternalID
	}
	if workflowRef == "" {
		workflowRef = run.WorkflowName
	}

	var tasks map[string]string
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		tasks, err = client.ListTaskStates(ctx, workflowRef, run.ExternalRef())
		return err
	})
	if err != nil {
		s.log("task states unavailable, clearing progress", "source_id", run.SourceID, "item", run.ID, "error", err)
		tasks = nil
	}

	next, err := applySnapshot(run, snap, domain.TaskProgress(tasks), s.now())
	if err != nil {
		return err
	}
	if err := s.call(ctx, func(ctx context.Context) error { return s.runs.UpdateRun(ctx, next) }); err != nil {
		return reconcile.Storage("update run "+run.ID, err)
	}
	return nil
}

// SyncStaleRuns refreshes non-terminal runs whose local record is older than
// threshold. A run that cannot be refreshed is counted as skipped and left
// for the next pass; per-run failures are logged, not reported.
func (s *Service) SyncStaleRuns(ctx context.Context, threshold time.Duration) reconcile.Report {
	if threshold <= 0 {
		threshold = s.defaultStaleThreshold
	}
	started := s.now()
	ctx, span := tracer().Start(ctx, "runsync.SyncStaleRuns",
		oteltrace.WithAttributes(attribute.String("stale.threshold", threshold.String())))
	defer span.End()

	b := reconcile.NewBuilder(StaleReconcilerName, started)
	report := s.syncStale(ctx, b, started.Add(-threshold))

	span.SetAttributes(
		attribute.Int("runs.updated", report.Updated),
		attribute.Int("runs.skipped", report.Skipped),
	)
	if report.Failed > 0 {
		span.SetStatus(codes.Error, report.Failures[0].Message)
	}
	reconcile.ObserveReport(report, s.now().Sub(started))
	s.auditReport(ctx, report)
	s.logger.Info("stale run sync completed",
		"component", StaleReconcilerName,
		"report_id", report.ID,
		"processed", report.Processed,
		"updated", report.Updated,
		"skipped", report.Skipped,
	)
	return report
}

func (s *Service) syncStale(ctx context.Context, b *reconcile.Builder, cutoff time.Time) reconcile.Report {
	var candidates []domain.WorkflowRun
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		candidates, err = s.runs.ListStale(ctx, cutoff, s.staleLimit)
		return err
	})
	if err != nil {
		s.log("list stale runs failed", "item", reconcile.WildcardItem, "error", err)
		b.FailKind(reconcile.WildcardItem, reconcile.KindStorage, reconcile.Storage("list stale runs", err).Error())
		return b.Report()
	}

	bySource := make(map[string][]domain.WorkflowRun)
	order := make([]string, 0)
	for _, run := range candidates {
		if _, ok := bySource[run.SourceID]; !ok {
			order = append(order, run.SourceID)
		}
		bySource[run.SourceID] = append(bySource[run.SourceID], run)
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, sourceID := range order {
		runs := bySource[sourceID]
		g.Go(func() error {
			s.repairSource(ctx, b, sourceID, runs)
			return nil
		})
	}
	_ = g.Wait()
	return b.Report()
}

func (s *Service) repairSource(ctx context.Context, b *reconcile.Builder, sourceID string, runs []domain.WorkflowRun) {
	client, err := s.clientFor(ctx, sourceID)
	if err != nil {
		s.log("stale repair source unavailable", "source_id", sourceID, "error", err)
		for range runs {
			b.Skipped()
		}
		return
	}
	for _, run := range runs {
		if ctx.Err() != nil || run.ExternalRef() == "" {
			b.Skipped()
			continue
		}
		if err := s.refreshByLookup(ctx, client, run); err != nil {
			s.log("stale run not refreshed", "source_id", sourceID, "item", run.ID, "kind", string(reconcile.Classify(err)), "error", err)
			b.Skipped()
			continue
		}
		b.Updated()
	}
}

// clientFor resolves the client of an active source.
func (s *Service) clientFor(ctx context.Context, sourceID string) (orchestrator.RunSource, error) {
	var src domain.RunSource
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		src, err = s.registry.Source(ctx, sourceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !src.Active {
		return nil, reconcile.Validationf("source %q is inactive", sourceID)
	}
	return s.registry.Client(ctx, src)
}

func (s *Service) activeSources(ctx context.Context) ([]domain.RunSource, error) {
	var sources []domain.RunSource
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		sources, err = s.registry.ActiveSources(ctx)
		return err
	})
	if err != nil {
		return nil, reconcile.Storage("list sources", err)
	}
	return sources, nil
}

func (s *Service) source(ctx context.Context, sourceID string) (domain.RunSource, error) {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return domain.RunSource{}, reconcile.Validationf("source id is required")
	}
	var src domain.RunSource
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		src, err = s.registry.Source(ctx, sourceID)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return domain.RunSource{}, reconcile.Validationf("unknown source %q", sourceID)
	}
	if err != nil {
		return domain.RunSource{}, reconcile.Storage("get source "+sourceID, err)
	}
	if !src.Active {
		return domain.RunSource{}, reconcile.Validationf("source %q is inactive", sourceID)
	}
	return src, nil
}

func (s *Service) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return fn(callCtx)
}

// fail records a per-item failure, or a cancellation if the pass was abandoned.
func (s *Service) fail(ctx context.Context, b *reconcile.Builder, sourceID, item string, err error) {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		b.FailKind(item, reconcile.KindUnknown, passCancelled)
		return
	}
	f := b.Fail(item, err)
	s.log("run not synced", "source_id", sourceID, "item", item, "kind", string(f.Kind), "error", err)
}

func snapshotItem(snap orchestrator.RunSnapshot) string {
	if snap.WorkflowExternalID == "" {
		return snap.ExternalRunID
	}
	return snap.WorkflowExternalID + "/" + snap.ExternalRunID
}

func (s *Service) log(msg string, attrs ...any) {
	for i := 0; i+1 < len(attrs); i += 2 {
		if key, ok := attrs[i].(string); ok && key == "error" {
			if err, ok := attrs[i+1].(error); ok && errors.Is(err, context.Canceled) {
				return
			}
		}
	}
	fields := append([]any{"component", ReconcilerName}, attrs...)
	s.logger.Warn(msg, fields...)
}
