package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics owned by the engine. A fresh instance
// registers against an injected registry so unit tests stay hermetic.
type Metrics struct {
	// RowsProcessed counts rows that reached a final disposition.
	RowsProcessed prometheus.Counter
	// DuplicatesDropped counts rows dropped as duplicates of stored inputs.
	DuplicatesDropped prometheus.Counter
	// ReuseHits counts rows short-circuited from stored results.
	ReuseHits prometheus.Counter
	// RowErrors counts rows annotated with a classification error.
	RowErrors prometheus.Counter
	// GeneratorCalls counts classifier invocations.
	GeneratorCalls prometheus.Counter
	// BatchDuration records wall-clock batch processing time.
	BatchDuration prometheus.Histogram
}

// NewMetrics registers the engine metrics against reg and returns them.
// promauto.With(reg) registers into the provided registry rather than the
// global default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RowsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vocsight",
			Subsystem: "engine",
			Name:      "rows_processed_total",
			Help:      "Total rows that reached a final disposition.",
		}),
		DuplicatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vocsight",
			Subsystem: "engine",
			Name:      "duplicates_dropped_total",
			Help:      "Total rows dropped as duplicates of stored input rows.",
		}),
		ReuseHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vocsight",
			Subsystem: "engine",
			Name:      "reuse_hits_total",
			Help:      "Total rows short-circuited from stored classification results.",
		}),
		RowErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vocsight",
			Subsystem: "engine",
			Name:      "row_errors_total",
			Help:      "Total rows annotated with a classification error.",
		}),
		GeneratorCalls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vocsight",
			Subsystem: "engine",
			Name:      "generator_calls_total",
			Help:      "Total classifier invocations.",
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vocsight",
			Subsystem: "engine",
			Name:      "batch_duration_seconds",
			Help:      "Wall-clock duration of batch processing.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),
	}
}
