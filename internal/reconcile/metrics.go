package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	itemsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowsync_reconcile_items_total",
			Help: "Items examined by reconciliation passes, by outcome",
		},
		[]string{"reconciler", "outcome"},
	)

	failuresCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowsync_reconcile_failures_total",
			Help: "Per-item reconciliation failures, by kind",
		},
		[]string{"reconciler", "kind"},
	)

	passDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowsync_reconcile_pass_duration_seconds",
			Help:    "Wall time of one reconciliation pass",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"reconciler"},
	)

	sourceFailuresCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowsync_source_sync_failures_total",
			Help: "Run sources whose sync failed as a whole",
		},
		[]string{"source_id", "kind"},
	)
)

// ObserveReport records a finished pass.
func ObserveReport(r Report, elapsed time.Duration) {
	itemsCounter.WithLabelValues(r.Reconciler, "created").Add(float64(r.Created))
	itemsCounter.WithLabelValues(r.Reconciler, "updated").Add(float64(r.Updated))
	itemsCounter.WithLabelValues(r.Reconciler, "skipped").Add(float64(r.Skipped))
	itemsCounter.WithLabelValues(r.Reconciler, "failed").Add(float64(r.Failed))
	for _, f := range r.Failures {
		failuresCounter.WithLabelValues(r.Reconciler, string(f.Kind)).Inc()
	}
	passDuration.WithLabelValues(r.Reconciler).Observe(elapsed.Seconds())
}

// ObserveSourceOutcome records one source's result within a multi-source pass.
func ObserveSourceOutcome(o SourceOutcome, elapsed time.Duration) {
	if o.Error != nil {
		sourceFailuresCounter.WithLabelValues(o.SourceID, string(o.Error.Kind)).Inc()
	}
	ObserveReport(o.Report, elapsed)
}
