// README: Prometheus collectors for lifecycle, payment, assignment and HTTP traffic.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ambulance"

var (
	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "booking_transitions_total", Help: "Booking state transitions by target status"},
		[]string{"to"},
	)
	PaymentCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "payment_callbacks_total", Help: "Gateway callbacks by outcome"},
		[]string{"outcome"},
	)
	PaymentsExpired = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "payments_expired_total", Help: "Pending payments expired by the sweeper"},
	)
	AssignmentAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "assignment_attempts_total", Help: "Assignment commits by outcome"},
		[]string{"outcome"},
	)
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_dropped_total", Help: "Lifecycle events dropped because the bus queue was full"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
