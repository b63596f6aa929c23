// Package metrics exposes Prometheus counters/gauges for the core's
// ambient concerns: reviews processed, import rows ingested, cards due.
// Grounded on NikeGunn-tutu/internal/infra/observability's promauto
// package-level var pattern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ReviewsSubmitted counts submit_review calls by difficulty.
var ReviewsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bettertactics",
	Subsystem: "review",
	Name:      "submitted_total",
	Help:      "Total reviews submitted, by difficulty.",
}, []string{"difficulty"})

// ReviewsReplayed counts submit_review calls that were no-ops because of
// a stale review_count.
var ReviewsReplayed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "bettertactics",
	Subsystem: "review",
	Name:      "replayed_total",
	Help:      "Total submit_review calls that were idempotent no-ops.",
})

// SkipsSubmitted counts submit_skip calls by mode.
var SkipsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bettertactics",
	Subsystem: "skip",
	Name:      "submitted_total",
	Help:      "Total skips submitted, by mode.",
}, []string{"mode"})

// CardsDue tracks the due-now count, set by the service layer each time
// it computes stats.
var CardsDue = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "bettertactics",
	Subsystem: "cards",
	Name:      "due_now",
	Help:      "Cards currently due for review.",
})

// ImportRowsInserted counts puzzle rows persisted by the import pipeline.
var ImportRowsInserted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "bettertactics",
	Subsystem: "import",
	Name:      "rows_inserted_total",
	Help:      "Total puzzle rows inserted by the import pipeline.",
})

// ImportRowsDropped counts malformed rows logged and dropped during
// parse/normalize rather than aborting the import.
var ImportRowsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "bettertactics",
	Subsystem: "import",
	Name:      "rows_dropped_total",
	Help:      "Total malformed puzzle rows dropped during import.",
})

// ImportCompleted is set to 1 once the corpus import completes.
var ImportCompleted = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "bettertactics",
	Subsystem: "import",
	Name:      "completed",
	Help:      "Whether the puzzle corpus import has completed (1) or not (0).",
})

// BackupRuns counts backup attempts by outcome ("ok" or "failed").
var BackupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bettertactics",
	Subsystem: "backup",
	Name:      "runs_total",
	Help:      "Total backup attempts, by outcome.",
}, []string{"outcome"})
