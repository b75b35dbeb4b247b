package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunStatus is a lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending  RunStatus = "PENDING"
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusSuccess  RunStatus = "SUCCESS"
	RunStatusFailed   RunStatus = "FAILED"
	RunStatusStopping RunStatus = "STOPPING"
	RunStatusStopped  RunStatus = "STOPPED"
)

// TerminalRunStatuses lists every status a run never leaves.
var TerminalRunStatuses = []RunStatus{RunStatusSuccess, RunStatusFailed, RunStatusStopped}

func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailed, RunStatusStopped:
		return true
	default:
		return false
	}
}

// NormalizeRunStatus maps stored values to canonical statuses. Unknown values yield "".
func NormalizeRunStatus(value string) RunStatus {
	switch RunStatus(strings.ToUpper(strings.TrimSpace(value))) {
	case RunStatusPending:
		return RunStatusPending
	case RunStatusRunning:
		return RunStatusRunning
	case RunStatusSuccess:
		return RunStatusSuccess
	case RunStatusFailed:
		return RunStatusFailed
	case RunStatusStopping:
		return RunStatusStopping
	case RunStatusStopped:
		return RunStatusStopped
	default:
		return ""
	}
}

// RunStatusFromExternal maps orchestrator run and task states onto run statuses.
func RunStatusFromExternal(state string) (RunStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "queued", "scheduled", "none", "pending":
		return RunStatusPending, true
	case "running", "restarting", "up_for_retry", "up_for_reschedule", "deferred":
		return RunStatusRunning, true
	case "success", "succeeded":
		return RunStatusSuccess, true
	case "failed", "upstream_failed":
		return RunStatusFailed, true
	case "stopping":
		return RunStatusStopping, true
	case "stopped", "removed":
		return RunStatusStopped, true
	default:
		return "", false
	}
}

// RunKind records why a run exists.
type RunKind string

const (
	RunKindManual    RunKind = "MANUAL"
	RunKindScheduled RunKind = "SCHEDULED"
	RunKindBackfill  RunKind = "BACKFILL"
)

// StopRequest is present only once a stop was requested.
type StopRequest struct {
	RequestedBy string    `json:"requested_by"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// TaskProgress maps task id to the orchestrator's task state. It is replaced, never merged.
type TaskProgress map[string]string

// Clone returns an independent copy; a nil receiver yields an empty map.
func (p TaskProgress) Clone() TaskProgress {
	out := make(TaskProgress, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// WorkflowRun is the local record of one execution.
type WorkflowRun struct {
	ID                 string       `json:"id"`
	WorkflowName       string       `json:"workflow_name"`
	SourceID           string       `json:"source_id"`
	ExternalRunID      *string      `json:"external_run_id,omitempty"`
	WorkflowExternalID string       `json:"workflow_external_id,omitempty"`
	Status             RunStatus    `json:"status"`
	TriggeredBy        string       `json:"triggered_by"`
	Kind               RunKind      `json:"kind"`
	StartedAt          *time.Time   `json:"started_at,omitempty"`
	EndedAt            *time.Time   `json:"ended_at,omitempty"`
	Stop               *StopRequest `json:"stop,omitempty"`
	TaskProgress       TaskProgress `json:"task_progress"`
	StatusURL          string       `json:"status_url,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// NewRun returns a PENDING run.
func NewRun(id, workflowName, sourceID string, kind RunKind, triggeredBy string, at time.Time) WorkflowRun {
	return WorkflowRun{
		ID:           id,
		WorkflowName: workflowName,
		SourceID:     sourceID,
		Status:       RunStatusPending,
		TriggeredBy:  triggeredBy,
		Kind:         kind,
		TaskProgress: TaskProgress{},
		CreatedAt:    at.UTC(),
		UpdatedAt:    at.UTC(),
	}
}

func (r WorkflowRun) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.WorkflowName) == "" {
		return errors.New("workflow name is required")
	}
	if strings.TrimSpace(r.SourceID) == "" {
		return errors.New("source id is required")
	}
	if NormalizeRunStatus(string(r.Status)) == "" {
		return fmt.Errorf("invalid run status %q", r.Status)
	}
	if r.Status.IsTerminal() != (r.EndedAt != nil) {
		return errors.New("ended_at must be set exactly when status is terminal")
	}
	return nil
}

// ExternalRef returns the orchestrator run id, or "" when none is assigned yet.
func (r WorkflowRun) ExternalRef() string {
	if r.ExternalRunID == nil {
		return ""
	}
	return *r.ExternalRunID
}

// Duration reports elapsed run time. ok is false when the run never started.
func (r WorkflowRun) Duration(now time.Time) (d time.Duration, ok bool) {
	if r.StartedAt == nil {
		return 0, false
	}
	if r.EndedAt != nil {
		return r.EndedAt.Sub(*r.StartedAt), true
	}
	return now.Sub(*r.StartedAt), true
}
