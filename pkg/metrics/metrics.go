package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	WorkItemsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workfeed_work_items_ingested_total",
			Help: "Total number of new work items accepted by the reconciler (count)",
		},
		[]string{"source"},
	)

	WorkItemsDuplicateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workfeed_work_items_duplicate_total",
			Help: "Total number of work item events dropped because the id was already known (count)",
		},
		[]string{"source"},
	)

	WorkItemsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workfeed_work_items_rejected_total",
			Help: "Total number of inbound events rejected before reconciliation (count)",
		},
		[]string{"source", "reason"},
	)

	WorkItemsKnown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "workfeed_work_items_known",
			Help: "Number of work items in the all-known collection (count)",
		},
	)

	WorkItemsUnacknowledged = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "workfeed_work_items_unacknowledged",
			Help: "Number of work items awaiting acknowledgment (count)",
		},
	)

	IngestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workfeed_ingest_duration_ms",
			Help:    "Time from envelope receipt to reconciliation in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100},
		},
		[]string{"source"},
	)

	TransportConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "workfeed_transport_connected",
			Help: "Whether a transport is currently connected (0 or 1)",
		},
		[]string{"transport"},
	)

	TransportConnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workfeed_transport_connects_total",
			Help: "Total number of successful transport connections (count)",
		},
		[]string{"transport"},
	)

	TransportErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workfeed_transport_errors_total",
			Help: "Total number of transport errors (count)",
		},
		[]string{"transport", "kind"},
	)

	TransportReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workfeed_transport_reconnects_total",
			Help: "Total number of scheduled reconnect attempts (count)",
		},
		[]string{"transport"},
	)

	PollRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workfeed_poll_requests_total",
			Help: "Total number of poll requests (count)",
		},
		[]string{"transport", "status"},
	)

	PollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workfeed_poll_duration_ms",
			Help:    "Duration of poll requests in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"transport"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workfeed_notifications_total",
			Help: "Total number of notifications handled by sinks (count)",
		},
		[]string{"sink", "kind", "status"},
	)

	NotificationGuardTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workfeed_notification_guard_total",
			Help: "Total number of cross-replica guard checks (count)",
		},
		[]string{"status"},
	)

	NotificationGuardDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workfeed_notification_guard_duration_ms",
			Help:    "Duration of cross-replica guard checks in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workfeed_fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"component", "strategy"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workfeed_retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"component", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workfeed_dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"topic", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workfeed_kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workfeed_kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"topic"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "workfeed_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workfeed_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workfeed_circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workfeed_rate_limit_requests_total",
			Help: "Total number of API requests checked against rate limit (count)",
		},
		[]string{"status"},
	)
)

func RegisterIngestMetrics() {
	prometheus.MustRegister(WorkItemsIngestedTotal)
	prometheus.MustRegister(WorkItemsDuplicateTotal)
	prometheus.MustRegister(WorkItemsRejectedTotal)
	prometheus.MustRegister(WorkItemsKnown)
	prometheus.MustRegister(WorkItemsUnacknowledged)
	prometheus.MustRegister(IngestDuration)
}

func RegisterTransportMetrics() {
	prometheus.MustRegister(TransportConnected)
	prometheus.MustRegister(TransportConnectsTotal)
	prometheus.MustRegister(TransportErrorsTotal)
	prometheus.MustRegister(TransportReconnectsTotal)
	prometheus.MustRegister(PollRequestsTotal)
	prometheus.MustRegister(PollDuration)
}

func RegisterNotificationMetrics() {
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(NotificationGuardTotal)
	prometheus.MustRegister(NotificationGuardDuration)
	prometheus.MustRegister(FallbackUsageTotal)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterAPIMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func SetWorkItemCounts(all, unacknowledged int) {
	WorkItemsKnown.Set(float64(all))
	WorkItemsUnacknowledged.Set(float64(unacknowledged))
}

func ObserveIngestDuration(source string, duration time.Duration) {
	IngestDuration.WithLabelValues(source).Observe(float64(duration.Microseconds()) / 1000)
}

func SetTransportConnected(transport string, connected bool) {
	value := 0.0
	if connected {
		value = 1
	}
	TransportConnected.WithLabelValues(transport).Set(value)
}

func IncTransportError(transport, kind string) {
	TransportErrorsTotal.WithLabelValues(transport, kind).Inc()
}

func ObservePoll(transport, status string, duration time.Duration) {
	PollRequestsTotal.WithLabelValues(transport, status).Inc()
	PollDuration.WithLabelValues(transport).Observe(float64(duration.Milliseconds()))
}

func IncNotification(sink, kind, status string) {
	NotificationsTotal.WithLabelValues(sink, kind, status).Inc()
}

func ObserveGuardDuration(duration time.Duration, status string) {
	NotificationGuardTotal.WithLabelValues(status).Inc()
	NotificationGuardDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}
