package auditlog

import (
	"context"
	"errors"
	"time"

	"github.com/animus-labs/flowsync/internal/platform/requestid"
)

const SystemActor = "system"

// Recorder writes one audit event per completed reconciliation pass.
type Recorder struct {
	q   QueryRower
	now func() time.Time
}

func NewRecorder(q QueryRower) *Recorder {
	if q == nil {
		return nil
	}
	return &Recorder{q: q, now: time.Now}
}

// RecordPass stores action against the pass identified by resourceID.
// The request id, when the pass was triggered over HTTP, is taken from ctx.
func (r *Recorder) RecordPass(ctx context.Context, action, resourceType, resourceID string, payload any) error {
	if r == nil || r.q == nil {
		return errors.New("audit recorder not initialized")
	}
	_, err := Insert(ctx, r.q, Event{
		OccurredAt:   r.now().UTC(),
		Actor:        SystemActor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    requestid.FromContext(ctx),
		Payload:      payload,
	})
	return err
}
