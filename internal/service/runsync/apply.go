package runsync

import (
	"time"

	"github.com/animus-labs/flowsync/internal/domain"
	"github.com/animus-labs/flowsync/internal/orchestrator"
	"github.com/animus-labs/flowsync/internal/reconcile"
)

// applySnapshot folds the orchestrator's view of a run into the local record.
// The status moves through the state machine; timestamps reported by the
// orchestrator replace local ones, and endedAt stays set only on terminal
// runs. tasks replaces the progress summary wholesale.
//
// A run with a pending stop request stays STOPPING while the orchestrator
// still reports it active, and settles as STOPPED once it reports any
// terminal state: a killed run comes back as failed, or as success if it
// finished first.
func applySnapshot(run domain.WorkflowRun, snap orchestrator.RunSnapshot, tasks domain.TaskProgress, now time.Time) (domain.WorkflowRun, error) {
	target, ok := domain.RunStatusFromExternal(snap.State)
	if !ok {
		return run, reconcile.Validationf("run %s: unknown orchestrator state %q", run.ID, snap.State)
	}
	if run.Status == domain.RunStatusStopping {
		if target.IsTerminal() {
			target = domain.RunStatusStopped
		} else {
			target = domain.RunStatusStopping
		}
	}
	next := run
	if err := next.AdvanceTo(target, now); err != nil {
		return run, err
	}

	if snap.StartedAt != nil {
		ts := snap.StartedAt.UTC()
		next.StartedAt = &ts
	}
	if next.Status.IsTerminal() {
		if snap.EndedAt != nil {
			ts := snap.EndedAt.UTC()
			next.EndedAt = &ts
		}
	} else {
		next.EndedAt = nil
	}

	next.TaskProgress = tasks.Clone()
	if snap.StatusURL != "" {
		next.StatusURL = snap.StatusURL
	}
	next.UpdatedAt = now.UTC()
	return next, nil
}
