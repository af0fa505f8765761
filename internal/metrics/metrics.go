// Package metrics provides Prometheus collectors for the quote engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Propagation metrics
	FlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "montaje_flushes_total",
			Help: "Debounced batches flushed to the recompute routine",
		},
		[]string{"status"},
	)

	FlushBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "montaje_flush_batch_fields",
			Help:    "Number of distinct fields delivered per flush",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "montaje_flush_duration_seconds",
			Help:    "Time spent in the recompute routine per flush",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	RuleFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "montaje_rule_failures_total",
			Help: "Update rules that returned an error or panicked",
		},
		[]string{"source", "target"},
	)

	GuardSkipsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "montaje_recursion_guard_skips_total",
			Help: "Writes skipped because the target field was already mid-update",
		},
	)

	// Recompute metrics
	StaleRecomputesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "montaje_stale_recomputes_total",
			Help: "Recompute results discarded because newer edits arrived",
		},
	)

	LayoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "montaje_layouts_total",
			Help: "Sheet layouts computed, by cut-down derivation",
		},
		[]string{"derivation"},
	)

	PriceLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "montaje_price_lookups_total",
			Help: "External paper price lookups",
		},
		[]string{"status"},
	)

	// Session metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "montaje_sessions_active",
			Help: "Order-editing sessions currently open",
		},
	)
)
