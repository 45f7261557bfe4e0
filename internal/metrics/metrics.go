package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Check metrics
	ChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logalert_condition_checks_total",
			Help: "Total number of condition checks by outcome",
		},
		[]string{"condition_type", "outcome"}, // outcome: triggered, not_triggered, failed
	)

	CheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logalert_condition_check_duration_seconds",
			Help:    "Condition check latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"condition_type"},
	)

	ChecksSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logalert_condition_checks_skipped_total",
			Help: "Total number of skipped condition checks",
		},
		[]string{"reason"}, // reason: overlap, grace
	)

	ConditionsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logalert_conditions_loaded",
			Help: "Number of conditions currently scheduled",
		},
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logalert_notifications_total",
			Help: "Total number of notification deliveries",
		},
		[]string{"channel", "status"}, // status: sent, failed
	)

	VerdictsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logalert_verdicts_published_total",
			Help: "Total number of verdicts published to JetStream",
		},
		[]string{"status"},
	)

	// Ingest metrics
	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logalert_ingest_messages_total",
			Help: "Total number of ingested log messages",
		},
		[]string{"source", "status"}, // status: accepted, rejected, failed
	)

	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logalert_ingest_batch_size",
			Help:    "Size of ingested message batches",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// Index set metrics
	IndexRotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logalert_index_rotations_total",
			Help: "Total number of index set rotations",
		},
		[]string{"index_set"},
	)

	IndexPartitions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "logalert_index_partitions",
			Help: "Number of partitions managed by an index set",
		},
		[]string{"index_set"},
	)
)

// Handler exposes the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
