// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameHTTPRequestsTotal,
			Help: HelpTextHTTPRequestsTotal,
		},
		[]string{LabelMethod, LabelPath, LabelStatus},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricNameHTTPRequestDuration,
			Help:    HelpTextHTTPRequestDuration,
			Buckets: HTTPLatencyBuckets,
		},
		[]string{LabelMethod, LabelPath},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameHTTPRequestsInFlight,
			Help: HelpTextHTTPRequestsInFlight,
		},
	)
)

// Sync Metrics
var (
	FlushRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameFlushRuns,
			Help: HelpTextFlushRuns,
		},
	)

	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    MetricNameFlushDuration,
			Help:    HelpTextFlushDuration,
			Buckets: FlushLatencyBuckets,
		},
	)

	QueueItemsReplayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameQueueItemsReplayed,
			Help: HelpTextQueueItemsReplayed,
		},
		[]string{LabelOperation, LabelResult},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: MetricNameQueueDepth,
			Help: HelpTextQueueDepth,
		},
		[]string{LabelStatus},
	)

	RemoteCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameRemoteCalls,
			Help: HelpTextRemoteCalls,
		},
		[]string{LabelOperation, LabelResult},
	)
)

// Attendance Metrics
var (
	CheckIns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameCheckIns,
			Help: HelpTextCheckIns,
		},
		[]string{LabelMode},
	)

	Checkouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameCheckouts,
			Help: HelpTextCheckouts,
		},
		[]string{LabelMode},
	)
)

// ObserveRemote records the outcome of one remote call.
func ObserveRemote(operation string, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	RemoteCalls.WithLabelValues(operation, result).Inc()
}

// SetQueueDepth publishes queue counts.
func SetQueueDepth(pending, synced, failed int) {
	QueueDepth.WithLabelValues("pending").Set(float64(pending))
	QueueDepth.WithLabelValues("synced").Set(float64(synced))
	QueueDepth.WithLabelValues("failed").Set(float64(failed))
}
