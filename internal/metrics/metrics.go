// Package metrics defines the Prometheus counters and gauges incremented
// at the call sites the concurrency model names explicitly: enqueue
// success/fail, dedup hit, merge success/fail, export success/fail, and
// queue depth/utilization. There is no implicit instrumentation layer —
// every metric here is updated by a named call from the component that
// owns the event.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EnqueueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcore_ingest_enqueue_total",
			Help: "Total ingest-queue enqueue attempts by work kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: success|full|validation_error|graph_not_found
	)

	DedupHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcore_tracebuffer_dedup_hits_total",
			Help: "Total trace events dropped as duplicates at append time",
		},
		[]string{"graph_id"},
	)

	MergeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcore_merge_total",
			Help: "Total merge attempts by outcome",
		},
		[]string{"outcome"}, // outcome: success, or the failed merge's error code (MERGE_CONFLICT, MERGE_INVALID, ...)
	)

	MergeAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowcore_merge_attempts",
			Help:    "Number of optimistic-retry attempts a successful merge required",
			Buckets: []float64{1, 2, 3},
		},
	)

	ExportTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcore_export_total",
			Help: "Total push-to-analytics attempts by outcome",
		},
		[]string{"outcome"}, // outcome: success|failure|rate_limited|circuit_open
	)

	ExportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowcore_export_duration_seconds",
			Help:    "Time spent pushing a graph's Cypher export to the analytics store",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowcore_ingest_queue_depth",
			Help: "Current number of items in the ingest queue",
		},
	)

	QueueUtilization = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowcore_ingest_queue_utilization",
			Help: "Current ingest queue utilization as a percentage of capacity",
		},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowcore_worker_pool_active_workers",
			Help: "Current number of ingest workers actively processing an item",
		},
	)

	BackpressureLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowcore_backpressure_level",
			Help: "Current backpressure level (0=none, 1=degraded, 2=critical)",
		},
	)

	GraphsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowcore_graphs_tracked",
			Help: "Current number of graphs held in the graph store",
		},
	)

	DroppedTraces = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcore_merge_dropped_traces_total",
			Help: "Total traces dropped by the merge engine, by reason",
		},
		[]string{"reason"},
	)
)
