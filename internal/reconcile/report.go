package reconcile

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WildcardItem identifies a failure that is not tied to a single item.
const WildcardItem = "*"

// ItemFailure is one recorded per-item failure.
type ItemFailure struct {
	ItemID  string `json:"item_id"`
	Message string `json:"message"`
	Kind    Kind   `json:"kind"`
}

// Report is the outcome of one reconciliation pass.
type Report struct {
	ID         string        `json:"id"`
	Reconciler string        `json:"reconciler"`
	Processed  int           `json:"processed"`
	Created    int           `json:"created"`
	Updated    int           `json:"updated"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Failures   []ItemFailure `json:"failures"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Validate checks the counting invariants every returned report holds.
// Failures against WildcardItem belong to the pass rather than to an item,
// so they count as failed without counting as processed.
func (r Report) Validate() error {
	itemFailures := r.Failed - r.PassFailures()
	if r.Processed != r.Created+r.Updated+r.Skipped+itemFailures {
		return fmt.Errorf("processed=%d does not equal created+updated+skipped+item failures=%d",
			r.Processed, r.Created+r.Updated+r.Skipped+itemFailures)
	}
	if r.Failed != len(r.Failures) {
		return fmt.Errorf("failed=%d does not equal len(failures)=%d", r.Failed, len(r.Failures))
	}
	return nil
}

// PassFailures counts failures recorded against WildcardItem.
func (r Report) PassFailures() int {
	n := 0
	for _, f := range r.Failures {
		if f.ItemID == WildcardItem {
			n++
		}
	}
	return n
}

// Builder accumulates a Report. Every item increment also counts the item as
// processed, so a snapshot taken at any point satisfies Report.Validate.
// It is safe for concurrent use.
type Builder struct {
	mu sync.Mutex
	r  Report
}

func NewBuilder(reconciler string, at time.Time) *Builder {
	return &Builder{r: Report{
		ID:         uuid.NewString(),
		Reconciler: reconciler,
		Failures:   []ItemFailure{},
		Timestamp:  at.UTC(),
	}}
}

func (b *Builder) Created() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r.Processed++
	b.r.Created++
}

func (b *Builder) Updated() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r.Processed++
	b.r.Updated++
}

func (b *Builder) Skipped() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r.Processed++
	b.r.Skipped++
}

// Fail records err against itemID under its classified kind.
func (b *Builder) Fail(itemID string, err error) ItemFailure {
	kind := Classify(err)
	if kind == "" {
		kind = KindUnknown
	}
	msg := string(kind)
	if err != nil {
		msg = err.Error()
	}
	return b.FailKind(itemID, kind, msg)
}

func (b *Builder) FailKind(itemID string, kind Kind, msg string) ItemFailure {
	f := ItemFailure{ItemID: itemID, Message: msg, Kind: kind}
	b.mu.Lock()
	defer b.mu.Unlock()
	if itemID != WildcardItem {
		b.r.Processed++
	}
	b.r.Failed++
	b.r.Failures = append(b.r.Failures, f)
	return f
}

// Report returns an independent snapshot.
func (b *Builder) Report() Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.r
	out.Failures = append([]ItemFailure{}, b.r.Failures...)
	return out
}

// OutcomeError is set on a SourceOutcome only when the whole source failed.
type OutcomeError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// SourceOutcome is the result of syncing one external run source.
type SourceOutcome struct {
	SourceID   string        `json:"source_id"`
	SourceName string        `json:"source_name"`
	Report     Report        `json:"report"`
	Orphaned   int           `json:"orphaned"`
	Error      *OutcomeError `json:"error,omitempty"`
}

func (o SourceOutcome) Failed() bool { return o.Error != nil }

// FailedOutcome builds the outcome for a source that could not be synced at all.
func FailedOutcome(sourceID, sourceName string, report Report, err error) SourceOutcome {
	kind := Classify(err)
	if kind == "" {
		kind = KindUnknown
	}
	msg := string(kind)
	if err != nil {
		msg = err.Error()
	}
	return SourceOutcome{
		SourceID:   sourceID,
		SourceName: sourceName,
		Report:     report,
		Error:      &OutcomeError{Kind: kind, Message: msg},
	}
}

// MultiSourceReport aggregates one pass over every active source.
type MultiSourceReport struct {
	ID               string          `json:"id"`
	TotalSources     int             `json:"total_sources"`
	SucceededSources int             `json:"succeeded_sources"`
	FailedSources    int             `json:"failed_sources"`
	UpdatedSources   int             `json:"updated_sources"`
	TotalUpdated     int             `json:"total_updated"`
	TotalCreated     int             `json:"total_created"`
	TotalSkipped     int             `json:"total_skipped"`
	TotalFailed      int             `json:"total_failed"`
	TotalOrphaned    int             `json:"total_orphaned"`
	Outcomes         []SourceOutcome `json:"outcomes"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Aggregate derives totals from outcomes. Totals are sums, so the order of
// outcomes only affects the Outcomes slice.
func Aggregate(at time.Time, totalSources int, outcomes []SourceOutcome) MultiSourceReport {
	agg := MultiSourceReport{
		ID:           uuid.NewString(),
		TotalSources: totalSources,
		Outcomes:     append([]SourceOutcome{}, outcomes...),
		Timestamp:    at.UTC(),
	}
	for _, o := range outcomes {
		if o.Failed() {
			agg.FailedSources++
		} else {
			agg.SucceededSources++
		}
		if o.Report.Updated > 0 {
			agg.UpdatedSources++
		}
		agg.TotalUpdated += o.Report.Updated
		agg.TotalCreated += o.Report.Created
		agg.TotalSkipped += o.Report.Skipped
		agg.TotalFailed += o.Report.Failed
		agg.TotalOrphaned += o.Orphaned
	}
	return agg
}
