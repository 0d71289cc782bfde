// Package metrics holds the Prometheus collectors exported by the service.
// Collectors that carry a "source" label are filtered per ingestion key on
// /v1/metrics; the rest are shared by every key.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reportinsight"

// SourceLabel is the label name used to scope a series to one source channel.
const SourceLabel = "source"

var (
	ReportsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_submitted_total",
			Help:      "Reports accepted into the ledger.",
		},
		[]string{SourceLabel, "task_type", "suspicious"},
	)
	DuplicateDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_deliveries_total",
			Help:      "Submissions rejected because their idempotency key was already recorded.",
		},
		[]string{SourceLabel},
	)
	ReportsReviewed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_reviewed_total",
			Help:      "Review actions applied, by outcome.",
		},
		[]string{SourceLabel, "outcome"},
	)
	SubmitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submit_duration_seconds",
			Help:      "Time to classify, score and commit one report.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{SourceLabel},
	)
	NotificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications a sink failed to deliver.",
		},
		[]string{"sink"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route.",
		},
		[]string{"route", "method", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Calling it more
// than once is a no-op.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ReportsSubmitted,
			DuplicateDeliveries,
			ReportsReviewed,
			SubmitDuration,
			NotificationFailures,
			HTTPRequests,
			HTTPDuration,
		)
	})
}
