package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for flowguard. A nil *Metrics, or one
// created with metrics disabled, ignores every call.
type Metrics struct {
	config MetricsConfig

	// Execution metrics
	attempts        *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	retryDelay      *prometheus.HistogramVec
	errorsByKind    *prometheus.CounterVec

	// Circuit breaker metrics
	circuitTransitions *prometheus.CounterVec
	circuitState       *prometheus.GaugeVec
	circuitRejections  *prometheus.CounterVec

	// Cache and queue metrics
	idempotencyHits  prometheus.Counter
	dlqItems         prometheus.Gauge
	replays          prometheus.Counter
	janitorEvictions *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Total number of operation attempts",
			},
			[]string{"connector", "node_type"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "execution_outcomes_total",
				Help:      "Total number of finished Run calls by resulting status",
			},
			[]string{"connector", "status"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Duration of a single operation attempt in seconds",
				Buckets:   buckets,
			},
			[]string{"connector", "result"},
		),
		retryDelay: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retry_delay_seconds",
				Help:      "Backoff delay scheduled before a retry in seconds",
				Buckets:   buckets,
			},
			[]string{"connector"},
		),
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of attempt failures by classified kind",
			},
			[]string{"kind"},
		),

		circuitTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"connector", "from", "to"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"connector", "node"},
		),
		circuitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_rejections_total",
				Help:      "Total number of attempts rejected by an open circuit",
			},
			[]string{"connector"},
		),

		idempotencyHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "idempotency_hits_total",
				Help:      "Total number of Run calls answered from the idempotency cache",
			},
		),
		dlqItems: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dlq_items",
				Help:      "Current number of executions in the dead letter queue",
			},
		),
		replays: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dlq_replays_total",
				Help:      "Total number of dead letter queue replays",
			},
		),
		janitorEvictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "janitor_evictions_total",
				Help:      "Total number of entries removed by the janitor",
			},
			[]string{"table"},
		),
	}

	registry.MustRegister(
		m.attempts,
		m.outcomes,
		m.attemptDuration,
		m.retryDelay,
		m.errorsByKind,
		m.circuitTransitions,
		m.circuitState,
		m.circuitRejections,
		m.idempotencyHits,
		m.dlqItems,
		m.replays,
		m.janitorEvictions,
	)

	return m, nil
}

// Execution Metrics

// RecordAttempt records a finished attempt and its duration.
func (m *Metrics) RecordAttempt(connector, nodeType string, duration time.Duration, err error) {
	if m == nil || m.attempts == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.attempts.WithLabelValues(connector, nodeType).Inc()
	m.attemptDuration.WithLabelValues(connector, result).Observe(duration.Seconds())
}

// RecordOutcome records the status a Run call ended with.
func (m *Metrics) RecordOutcome(connector, status string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(connector, status).Inc()
}

// RecordRetry records a scheduled retry and its backoff delay.
func (m *Metrics) RecordRetry(connector string, delay time.Duration) {
	if m == nil || m.retryDelay == nil {
		return
	}
	m.retryDelay.WithLabelValues(connector).Observe(delay.Seconds())
}

// RecordErrorKind records a classified attempt failure.
func (m *Metrics) RecordErrorKind(kind string) {
	if m == nil || m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Circuit Breaker Metrics

// RecordCircuitTransition records a breaker moving between states.
func (m *Metrics) RecordCircuitTransition(connector, from, to string) {
	if m == nil || m.circuitTransitions == nil {
		return
	}
	m.circuitTransitions.WithLabelValues(connector, from, to).Inc()
}

// SetCircuitState sets the state gauge for one breaker.
func (m *Metrics) SetCircuitState(connector, node, state string) {
	if m == nil || m.circuitState == nil {
		return
	}
	var value float64
	switch state {
	case "half_open":
		value = 1
	case "open":
		value = 2
	}
	m.circuitState.WithLabelValues(connector, node).Set(value)
}

// DeleteCircuitState removes the state gauge of a swept breaker.
func (m *Metrics) DeleteCircuitState(connector, node string) {
	if m == nil || m.circuitState == nil {
		return
	}
	m.circuitState.DeleteLabelValues(connector, node)
}

// RecordCircuitRejection records an attempt refused by an open breaker.
func (m *Metrics) RecordCircuitRejection(connector string) {
	if m == nil || m.circuitRejections == nil {
		return
	}
	m.circuitRejections.WithLabelValues(connector).Inc()
}

// Cache and Queue Metrics

// RecordIdempotencyHit records a Run call answered from the cache.
func (m *Metrics) RecordIdempotencyHit() {
	if m == nil || m.idempotencyHits == nil {
		return
	}
	m.idempotencyHits.Inc()
}

// SetDLQItems sets the current dead letter queue size.
func (m *Metrics) SetDLQItems(count int) {
	if m == nil || m.dlqItems == nil {
		return
	}
	m.dlqItems.Set(float64(count))
}

// RecordReplay records a dead letter queue replay.
func (m *Metrics) RecordReplay() {
	if m == nil || m.replays == nil {
		return
	}
	m.replays.Inc()
}

// RecordJanitorEvictions records entries removed from a table by the janitor.
func (m *Metrics) RecordJanitorEvictions(table string, count int) {
	if m == nil || m.janitorEvictions == nil || count == 0 {
		return
	}
	m.janitorEvictions.WithLabelValues(table).Add(float64(count))
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. The server is
// shut down when ctx is cancelled.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger zerolog.Logger) error {
	if m == nil || !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Log error but don't fail the application
			logger.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server error")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("address", m.config.ListenAddress).Str("path", path).Msg("Metrics server started")
	return nil
}
