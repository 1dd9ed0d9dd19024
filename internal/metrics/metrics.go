// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsTotal counts packets by engine stage (captured, parsed, processed, dropped)
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "festats_packets_total",
			Help: "Total number of packets seen by each engine stage",
		},
		[]string{"stage"},
	)

	// ParseErrorsTotal counts frames the decoder rejected
	ParseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "festats_parse_errors_total",
			Help: "Total number of frames rejected by the decoder",
		},
		[]string{"reason"},
	)

	// UpdateErrorsTotal counts accumulator updates that did not complete cleanly
	UpdateErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "festats_update_errors_total",
			Help: "Total number of accumulator updates reporting overflow, regression or a full table",
		},
		[]string{"table", "reason"},
	)

	// TableEntries tracks live keys per flow table
	TableEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "festats_table_entries",
			Help: "Current number of keys held by each flow table",
		},
		[]string{"table"},
	)

	// TableEvictionsTotal counts idle keys expired from flow tables
	TableEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "festats_table_evictions_total",
			Help: "Total number of idle keys evicted from flow tables",
		},
		[]string{"table"},
	)

	// VectorsReportedTotal counts feature vectors accepted by each reporter
	VectorsReportedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "festats_vectors_reported_total",
			Help: "Total number of feature vectors accepted by reporters",
		},
		[]string{"reporter"},
	)

	// ReporterErrorsTotal counts reporter errors by name and error type
	ReporterErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "festats_reporter_errors_total",
			Help: "Total number of reporter errors",
		},
		[]string{"reporter", "error_type"},
	)

	// ProcessLatencySeconds measures per-packet latency of an engine stage
	ProcessLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "festats_process_latency_seconds",
			Help:    "Latency of engine stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
		[]string{"stage"},
	)

	// WorkerQueueDepth tracks pending jobs per worker
	WorkerQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "festats_worker_queue_depth",
			Help: "Number of packets waiting in each worker queue",
		},
		[]string{"worker"},
	)
)

// Error reasons shared by the counters above.
const (
	ReasonTruncated          = "truncated"
	ReasonUnsupported        = "unsupported"
	ReasonOverflow           = "overflow"
	ReasonTemporalRegression = "temporal_regression"
	ReasonTableFull          = "table_full"
)
