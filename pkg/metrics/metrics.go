// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RoutingDecisionsTotal tracks routing decisions by handler and method.
	RoutingDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_decisions_total",
			Help: "Routing decisions by selected handler and resolution method",
		},
		[]string{"handler", "method"},
	)

	// OracleCallsTotal tracks classification oracle calls by outcome.
	OracleCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_calls_total",
			Help: "Classification oracle calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// OracleCallDuration tracks oracle call latency.
	OracleCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oracle_call_duration_seconds",
			Help:    "Classification oracle call duration",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20},
		},
		[]string{"operation"},
	)

	// HandoffsTotal tracks handler-to-handler handoffs.
	HandoffsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoffs_total",
			Help: "Handoffs between handlers within a single message",
		},
		[]string{"from", "to"},
	)

	// HandoffLoopTripsTotal counts times the handoff loop bound was hit.
	HandoffLoopTripsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "handoff_loop_trips_total",
			Help: "Times the per-message handoff bound terminated the loop",
		},
	)

	// CacheOperationsTotal tracks conversation cache reads by result.
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_cache_operations_total",
			Help: "Conversation cache operations by kind and result",
		},
		[]string{"operation", "result"},
	)

	// StoreErrorsTotal tracks persistence failures by backend.
	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_store_errors_total",
			Help: "Conversation persistence failures by backend",
		},
		[]string{"backend"},
	)

	// MessagesProcessedTotal tracks processed inbound messages.
	MessagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_processed_total",
			Help: "Inbound messages processed by final handler and status",
		},
		[]string{"handler", "status"},
	)

	// MessageProcessingDuration tracks end-to-end pipeline latency.
	MessageProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "message_processing_duration_seconds",
			Help:    "End-to-end message processing duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRoutingDecision records a routing decision.
func RecordRoutingDecision(handler, method string) {
	RoutingDecisionsTotal.WithLabelValues(handler, method).Inc()
}

// RecordOracleCall records an oracle call with its outcome and latency.
func RecordOracleCall(operation, outcome string, duration float64) {
	OracleCallsTotal.WithLabelValues(operation, outcome).Inc()
	OracleCallDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheOperation records a cache operation result.
func RecordCacheOperation(operation, result string) {
	CacheOperationsTotal.WithLabelValues(operation, result).Inc()
}
