// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "echolog"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// External service calls
	ExternalCalls   *prometheus.CounterVec
	ExternalLatency *prometheus.HistogramVec

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	// Transcription lifecycle
	TranscriptionsSubmitted *prometheus.CounterVec
	TranscriptionsFinished  *prometheus.CounterVec
	PersistenceSkipped      prometheus.Counter

	// Cleanup
	TempFilesRemoved   prometheus.Counter
	CascadeBlobMisses  prometheus.Counter
	RetentionBlobsGone prometheus.Counter
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates and registers all metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ExternalCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_calls_total",
			Help:      "Calls to external managed services",
		}, []string{"service", "operation", "outcome"}),
		ExternalLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_call_duration_seconds",
			Help:      "Latency of external managed service calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"service", "operation"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		TranscriptionsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_submitted_total",
			Help:      "Transcription submissions by source kind",
		}, []string{"kind"}),
		TranscriptionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_finished_total",
			Help:      "Terminal transcription job states observed by polling",
		}, []string{"status"}),
		PersistenceSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_not_persisted_total",
			Help:      "Completed transcripts returned without a durable record",
		}),

		TempFilesRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "temp_files_removed_total",
			Help:      "Temporary upload copies removed",
		}),
		CascadeBlobMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_blob_delete_failures_total",
			Help:      "Blob deletions ignored during cascade delete",
		}),
		RetentionBlobsGone: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_blobs_deleted_total",
			Help:      "Recording blobs removed by the retention cleaner",
		}),
	}
}

// RecordExternalCall records the outcome and latency of one external call.
func (m *Metrics) RecordExternalCall(service, operation string, err error, seconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.ExternalCalls.WithLabelValues(service, operation, outcome).Inc()
	m.ExternalLatency.WithLabelValues(service, operation).Observe(seconds)
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, seconds float64) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(seconds)
}

// ObserveCall times fn against DefaultMetrics.
func ObserveCall[T any](service, operation string, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := fn()
	DefaultMetrics.RecordExternalCall(service, operation, err, time.Since(start).Seconds())
	return out, err
}

// ObserveErr is ObserveCall for calls that only return an error.
func ObserveErr(service, operation string, fn func() error) error {
	_, err := ObserveCall(service, operation, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
