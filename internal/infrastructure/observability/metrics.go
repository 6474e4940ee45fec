package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Payment attempt metrics
	PaymentAttemptsTotal *prometheus.CounterVec
	PaymentDuration      *prometheus.HistogramVec
	ActiveMonitors       prometheus.Gauge
	StatusChecksTotal    *prometheus.CounterVec
	ConfirmationsTotal   *prometheus.CounterVec
	PersistRetries       prometheus.Counter
	GatewayErrors        *prometheus.CounterVec

	// State store metrics
	StateEntries   prometheus.Gauge
	StateFlushes   *prometheus.CounterVec
	StateListeners prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState    *prometheus.GaugeVec
	CircuitBreakerRequests *prometheus.CounterVec

	// Worker metrics
	WorkerMessagesProcessed  *prometheus.CounterVec
	WorkerProcessingDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWith(nil, reg)

	m := &Metrics{
		PaymentAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_attempts_total",
				Help:      "Payment attempts by method and resulting status",
			},
			[]string{"method", "status"},
		),
		PaymentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "payment_duration_seconds",
				Help:      "Time from attempt creation to a terminal status",
				Buckets:   []float64{1, 3, 10, 30, 60, 120, 300, 600},
			},
			[]string{"method", "status"},
		),
		ActiveMonitors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_monitors",
				Help:      "Number of payment attempts currently being polled",
			},
		),
		StatusChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_checks_total",
				Help:      "Gateway status checks by method and gateway status",
			},
			[]string{"method", "result"},
		),
		ConfirmationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "confirmations_total",
				Help:      "Order payment confirmations by outcome",
			},
			[]string{"result"},
		),
		PersistRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_retries_total",
				Help:      "Retries while persisting the payment intent id on the order",
			},
		),
		GatewayErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_errors_total",
				Help:      "Backend call failures by operation and error type",
			},
			[]string{"operation", "error_type"},
		),
		StateEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state_entries",
				Help:      "Payment states held in the state store",
			},
		),
		StateFlushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_flushes_total",
				Help:      "State store flushes to durable storage",
			},
			[]string{"status"},
		),
		StateListeners: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state_listeners",
				Help:      "Per-order listeners currently subscribed",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		CircuitBreakerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_requests_total",
				Help:      "Total number of circuit breaker requests",
			},
			[]string{"name", "result"},
		),
		WorkerMessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_messages_processed_total",
				Help:      "Total number of worker messages processed",
			},
			[]string{"stream", "status"},
		),
		WorkerProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "worker_processing_duration_seconds",
				Help:      "Worker message processing duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"stream"},
		),
	}

	factory.MustRegister(
		m.PaymentAttemptsTotal,
		m.PaymentDuration,
		m.ActiveMonitors,
		m.StatusChecksTotal,
		m.ConfirmationsTotal,
		m.PersistRetries,
		m.GatewayErrors,
		m.StateEntries,
		m.StateFlushes,
		m.StateListeners,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CircuitBreakerState,
		m.CircuitBreakerRequests,
		m.WorkerMessagesProcessed,
		m.WorkerProcessingDuration,
	)

	return m
}

// NewTestMetrics registers metrics on a throwaway registry.
func NewTestMetrics() *Metrics {
	return NewMetrics("test", prometheus.NewRegistry())
}
