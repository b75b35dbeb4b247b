package runsync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/animus-labs/flowsync/internal/domain"
	"github.com/animus-labs/flowsync/internal/orchestrator"
	"github.com/animus-labs/flowsync/internal/repo"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func tp(t time.Time) *time.Time { return &t }

func sp(s string) *string { return &s }

type fakeRunSource struct {
	mu       sync.Mutex
	snaps    []orchestrator.RunSnapshot
	listErr  error
	byRun    map[string]orchestrator.RunSnapshot
	fetchErr map[string]error
	tasks    map[string]map[string]string
	taskErr  error
	fetches  []string
}

func (f *fakeRunSource) ListRecentRuns(ctx context.Context, since time.Time, limit int) ([]orchestrator.RunSnapshot, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := append([]orchestrator.RunSnapshot{}, f.snaps...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRunSource) FetchRun(ctx context.Context, wf, run string) (orchestrator.RunSnapshot, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, wf+"/"+run)
	f.mu.Unlock()
	if err := f.fetchErr[run]; err != nil {
		return orchestrator.RunSnapshot{}, err
	}
	snap, ok := f.byRun[run]
	if !ok {
		return orchestrator.RunSnapshot{}, orchestrator.ErrNotFound
	}
	return snap, nil
}

func (f *fakeRunSource) ListTaskStates(ctx context.Context, wf, run string) (map[string]string, error) {
	if f.taskErr != nil {
		return nil, f.taskErr
	}
	return f.tasks[run], nil
}

type fakeRegistry struct {
	sources   []domain.RunSource
	listErr   error
	clients   map[string]*fakeRunSource
	clientErr map[string]error
}

func (f *fakeRegistry) ActiveSources(ctx context.Context) ([]domain.RunSource, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.RunSource, 0, len(f.sources))
	for _, s := range f.sources {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRegistry) Source(ctx context.Context, id string) (domain.RunSource, error) {
	for _, s := range f.sources {
		if s.ID == id {
			return s, nil
		}
	}
	return domain.RunSource{}, repo.ErrNotFound
}

func (f *fakeRegistry) Client(ctx context.Context, src domain.RunSource) (orchestrator.RunSource, error) {
	if err := f.clientErr[src.ID]; err != nil {
		return nil, err
	}
	c, ok := f.clients[src.ID]
	if !ok {
		return nil, errors.New("no client")
	}
	return c, nil
}

type fakeRuns struct {
	mu        sync.Mutex
	byID      map[string]domain.WorkflowRun
	listErr   error
	staleErr  error
	updateErr map[string]error
	updates   int
}

func newFakeRuns(runs ...domain.WorkflowRun) *fakeRuns {
	f := &fakeRuns{byID: map[string]domain.WorkflowRun{}, updateErr: map[string]error{}}
	for _, r := range runs {
		f.byID[r.ID] = r
	}
	return f
}

func (f *fakeRuns) get(id string) domain.WorkflowRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id]
}

func (f *fakeRuns) CreateRun(ctx context.Context, run domain.WorkflowRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[run.ID] = run
	return nil
}

func (f *fakeRuns) GetRun(ctx context.Context, id string) (domain.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[id]
	if !ok {
		return domain.WorkflowRun{}, repo.ErrNotFound
	}
	return r, nil
}

func (f *fakeRuns) FindByExternalRef(ctx context.Context, sourceID, externalRunID string) (domain.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.byID {
		if r.SourceID == sourceID && r.ExternalRef() == externalRunID {
			return r, nil
		}
	}
	return domain.WorkflowRun{}, repo.ErrNotFound
}

func (f *fakeRuns) ListActiveBySource(ctx context.Context, sourceID string, since time.Time) ([]domain.WorkflowRun, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.WorkflowRun
	for _, r := range f.byID {
		if r.SourceID != sourceID || r.Status.IsTerminal() {
			continue
		}
		if !r.UpdatedAt.Before(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRuns) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.WorkflowRun, error) {
	if f.staleErr != nil {
		return nil, f.staleErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.WorkflowRun
	for _, r := range f.byID {
		if !r.Status.IsTerminal() && r.UpdatedAt.Before(before) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRuns) UpdateRun(ctx context.Context, run domain.WorkflowRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.updateErr[run.ID]; err != nil {
		return err
	}
	if _, ok := f.byID[run.ID]; !ok {
		return repo.ErrNotFound
	}
	f.updates++
	f.byID[run.ID] = run
	return nil
}

// localRun returns a run of workflow "orders" on source src with an external id.
func localRun(id, src, ext string, status domain.RunStatus, updated time.Time) domain.WorkflowRun {
	r := domain.NewRun(id, "orders", src, domain.RunKindManual, "alice", updated)
	r.WorkflowExternalID = "orders"
	r.ExternalRunID = sp(ext)
	r.Status = status
	if status != domain.RunStatusPending {
		r.StartedAt = tp(updated)
	}
	return r
}
