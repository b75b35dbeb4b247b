package specsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/flowsync/internal/domain"
	"github.com/animus-labs/flowsync/internal/reconcile"
	"github.com/animus-labs/flowsync/internal/repo"
	"github.com/animus-labs/flowsync/internal/specdoc"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// ReconcilerName labels reports and metrics produced by this package.
const ReconcilerName = "specsync"

const defaultCallTimeout = 30 * time.Second

// Parser turns document content into a validated spec.
type Parser interface {
	Parse(content []byte) (specdoc.ParsedSpec, error)
}

type Service struct {
	source      SpecSource
	parser      Parser
	workflows   repo.WorkflowRepository
	logger      *slog.Logger
	now         func() time.Time
	callTimeout time.Duration
	newID       func() string
	auditor     reconcile.PassAuditor
}

func New(source SpecSource, parser Parser, workflows repo.WorkflowRepository, opts ...Option) (*Service, error) {
	if source == nil {
		return nil, errors.New("spec source is required")
	}
	if parser == nil {
		return nil, errors.New("spec parser is required")
	}
	if workflows == nil {
		return nil, errors.New("workflow repository is required")
	}
	s := &Service{
		source:      source,
		parser:      parser,
		workflows:   workflows,
		logger:      slog.New(slog.DiscardHandler),
		now:         time.Now,
		callTimeout: defaultCallTimeout,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type itemResult int

const (
	itemCreated itemResult = iota
	itemUpdated
)

// SyncFromSource runs one pass. It always returns a report that satisfies
// reconcile.Report.Validate; failures are recorded in it, never returned.
func (s *Service) SyncFromSource(ctx context.Context) reconcile.Report {
	started := s.now()
	ctx, span := otel.Tracer("flowsync/specsync").Start(ctx, "specsync.SyncFromSource")
	defer span.End()

	b := reconcile.NewBuilder(ReconcilerName, started)
	report := s.syncFromSource(ctx, b)

	span.SetAttributes(
		attribute.String("report.id", report.ID),
		attribute.Int("report.processed", report.Processed),
		attribute.Int("report.failed", report.Failed),
	)
	if report.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d failures", report.Failed))
	}
	reconcile.ObserveReport(report, s.now().Sub(started))
	s.audit(ctx, report)
	s.logger.Info("workflow sync completed",
		"component", ReconcilerName,
		"report_id", report.ID,
		"processed", report.Processed,
		"created", report.Created,
		"updated", report.Updated,
		"failed", report.Failed,
	)
	return report
}

func (s *Service) syncFromSource(ctx context.Context, b *reconcile.Builder) reconcile.Report {
	locations, err := s.listSpecs(ctx)
	if err != nil {
		s.log("list specs failed", "item", reconcile.WildcardItem, "error", err)
		b.FailKind(reconcile.WildcardItem, reconcile.KindStorage, err.Error())
		return b.Report()
	}

	seen := make(map[string]string, len(locations))
	for i, loc := range locations {
		if ctx.Err() != nil {
			for _, rest := range locations[i:] {
				b.FailKind(rest, reconcile.KindUnknown, "pass cancelled")
			}
			break
		}

		result, err := s.syncOne(ctx, loc, seen)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				b.FailKind(loc, reconcile.KindUnknown, "pass cancelled")
				continue
			}
			f := b.Fail(loc, err)
			s.log("workflow document rejected", "item", loc, "kind", string(f.Kind), "error", err)
			continue
		}
		switch result {
		case itemCreated:
			b.Created()
		case itemUpdated:
			b.Updated()
		}
	}
	return b.Report()
}

func (s *Service) listSpecs(ctx context.Context) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	locations, err := s.source.ListAllSpecs(callCtx)
	if err != nil {
		return nil, reconcile.Storage("list specs", err)
	}
	return locations, nil
}

func (s *Service) syncOne(ctx context.Context, loc string, seen map[string]string) (itemResult, error) {
	ctx, span := otel.Tracer("flowsync/specsync").Start(ctx, "specsync.item",
		oteltrace.WithAttributes(attribute.String("spec.location", loc)))
	defer span.End()

	content, err := s.fetch(ctx, loc)
	if err != nil {
		return 0, err
	}

	parsed, err := s.parser.Parse(content)
	if err != nil {
		return 0, reconcile.Ensure(reconcile.KindParse, "parse "+loc, err)
	}
	name := strings.TrimSpace(parsed.Name)
	if prev, ok := seen[name]; ok {
		return 0, reconcile.Validationf("duplicate workflow name %q, already declared in %s", name, prev)
	}
	seen[name] = loc
	span.SetAttributes(attribute.String("workflow.name", name))

	incoming := parsed.Definition(loc)
	now := s.now()

	existing, err := s.getByName(ctx, name)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		def := domain.NewDeclaredDefinition(s.newID(), incoming, now)
		if err := def.Validate(); err != nil {
			return 0, reconcile.Validation("new definition "+name, err)
		}
		if err := s.withTimeout(ctx, func(ctx context.Context) error { return s.workflows.Create(ctx, def) }); err != nil {
			return 0, reconcile.Storage("create workflow "+name, err)
		}
		return itemCreated, nil
	case err != nil:
		return 0, reconcile.Storage("get workflow "+name, err)
	}

	merged := domain.MergeDefinition(existing, incoming, now)
	if err := merged.Validate(); err != nil {
		return 0, reconcile.Validation("merge definition "+name, err)
	}
	if err := s.withTimeout(ctx, func(ctx context.Context) error { return s.workflows.Update(ctx, merged) }); err != nil {
		return 0, reconcile.Storage("update workflow "+name, err)
	}
	return itemUpdated, nil
}

func (s *Service) fetch(ctx context.Context, loc string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	content, err := s.source.Fetch(callCtx, loc)
	if err != nil {
		return nil, reconcile.Storage("fetch "+loc, err)
	}
	return content, nil
}

func (s *Service) getByName(ctx context.Context, name string) (domain.WorkflowDefinition, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.workflows.GetByName(callCtx, name)
}

func (s *Service) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return fn(callCtx)
}

func (s *Service) audit(ctx context.Context, report reconcile.Report) {
	if s.auditor == nil {
		return
	}
	// Record the pass even when the caller has gone away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	defer cancel()
	err := s.auditor.RecordPass(ctx, reconcile.ActionWorkflowSyncCompleted, reconcile.ResourceReport, report.ID, map[string]any{
		"reconciler": report.Reconciler,
		"processed":  report.Processed,
		"created":    report.Created,
		"updated":    report.Updated,
		"skipped":    report.Skipped,
		"failed":     report.Failed,
	})
	if err != nil {
		s.log("audit pass failed", "error", err)
	}
}

func (s *Service) log(msg string, attrs ...any) {
	fields := []any{"component", ReconcilerName}
	for i := 0; i+1 < len(attrs); i += 2 {
		if key, ok := attrs[i].(string); ok && key == "error" {
			if err, ok := attrs[i+1].(error); ok && errors.Is(err, context.Canceled) {
				return
			}
		}
	}
	fields = append(fields, attrs...)
	s.logger.Warn(msg, fields...)
}
