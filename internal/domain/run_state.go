package domain

import (
	"fmt"
	"strings"
	"time"
)

// Transition names an operation of the run state machine.
type Transition string

const (
	TransitionStart        Transition = "start"
	TransitionComplete     Transition = "complete"
	TransitionFail         Transition = "fail"
	TransitionRequestStop  Transition = "request_stop"
	TransitionCompleteStop Transition = "complete_stop"
	TransitionAdvance      Transition = "advance"
)

// TransitionError reports an operation attempted from a state that does not allow it.
type TransitionError struct {
	RunID      string
	From       RunStatus
	Transition Transition
	Target     RunStatus
}

func (e *TransitionError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("run %s: cannot %s from %s to %s", e.RunID, e.Transition, e.From, e.Target)
	}
	return fmt.Sprintf("run %s: cannot %s from %s", e.RunID, e.Transition, e.From)
}

func (r *WorkflowRun) reject(t Transition) error {
	return &TransitionError{RunID: r.ID, From: r.Status, Transition: t}
}

// Start moves PENDING to RUNNING and stamps StartedAt if unset.
func (r *WorkflowRun) Start(at time.Time) error {
	if r.Status != RunStatusPending {
		return r.reject(TransitionStart)
	}
	r.Status = RunStatusRunning
	if r.StartedAt == nil {
		ts := at.UTC()
		r.StartedAt = &ts
	}
	return nil
}

// Complete moves RUNNING to SUCCESS.
func (r *WorkflowRun) Complete(at time.Time) error {
	if r.Status != RunStatusRunning {
		return r.reject(TransitionComplete)
	}
	r.Status = RunStatusSuccess
	r.stampEnd(at)
	return nil
}

// Fail moves RUNNING or PENDING to FAILED.
func (r *WorkflowRun) Fail(at time.Time) error {
	if r.Status != RunStatusRunning && r.Status != RunStatusPending {
		return r.reject(TransitionFail)
	}
	r.Status = RunStatusFailed
	r.stampEnd(at)
	return nil
}

// RequestStop moves any non-terminal run to STOPPING and records who asked.
func (r *WorkflowRun) RequestStop(by, reason string, at time.Time) error {
	if r.Status.IsTerminal() || r.Status == RunStatusStopping {
		return r.reject(TransitionRequestStop)
	}
	r.Status = RunStatusStopping
	r.Stop = &StopRequest{
		RequestedBy: strings.TrimSpace(by),
		Reason:      strings.TrimSpace(reason),
		RequestedAt: at.UTC(),
	}
	return nil
}

// CompleteStop moves STOPPING to STOPPED.
func (r *WorkflowRun) CompleteStop(at time.Time) error {
	if r.Status != RunStatusStopping {
		return r.reject(TransitionCompleteStop)
	}
	r.Status = RunStatusStopped
	r.stampEnd(at)
	return nil
}

func (r *WorkflowRun) stampEnd(at time.Time) {
	ts := at.UTC()
	r.EndedAt = &ts
}

// ExternalStopActor is recorded as the requester when the orchestrator stops a run on its own.
const ExternalStopActor = "orchestrator"

// AdvanceTo walks the shortest legal path from the current status to target.
// The run is left untouched when no such path exists.
func (r *WorkflowRun) AdvanceTo(target RunStatus, at time.Time) error {
	if r.Status == target {
		return nil
	}
	next := *r
	var err error
	switch target {
	case RunStatusRunning:
		err = next.Start(at)
	case RunStatusSuccess:
		if next.Status == RunStatusPending {
			if err = next.Start(at); err != nil {
				break
			}
		}
		err = next.Complete(at)
	case RunStatusFailed:
		err = next.Fail(at)
	case RunStatusStopping:
		err = next.RequestStop(ExternalStopActor, "stopped by orchestrator", at)
	case RunStatusStopped:
		if next.Status != RunStatusStopping {
			if err = next.RequestStop(ExternalStopActor, "stopped by orchestrator", at); err != nil {
				break
			}
		}
		err = next.CompleteStop(at)
	default:
		err = &TransitionError{RunID: r.ID, From: r.Status, Transition: TransitionAdvance}
	}
	if err != nil {
		return &TransitionError{RunID: r.ID, From: r.Status, Transition: TransitionAdvance, Target: target}
	}
	*r = next
	return nil
}
