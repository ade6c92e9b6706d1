package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "status"},
	)

	AuditEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Audit events dropped before reaching the log",
		},
		[]string{"reason"}, // reason: queue_full, store_error, closed
	)

	AuditEventsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_events_recorded_total",
			Help: "Audit events successfully written",
		},
	)

	ReorderConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reorder_conflicts_total",
			Help: "Reorder requests rejected because the submitted id set was stale",
		},
	)
)

func ObserveHTTPRequest(method, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, status).Observe(duration.Seconds())
}

func CountAuditDrop(reason string) {
	AuditEventsDropped.WithLabelValues(reason).Inc()
}
