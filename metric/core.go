package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by sparqlstream.
const Namespace = "sparqlstream"

// Metrics contains the query pipeline metrics shared by all coordinators.
type Metrics struct {
	QueriesTotal       *prometheus.CounterVec
	QueryErrors        *prometheus.CounterVec
	PhaseDuration      *prometheus.HistogramVec
	ResponseBytes      prometheus.Histogram
	ParseStrategy      *prometheus.CounterVec
	ParsingFallbacks   prometheus.Counter
	PagesLoaded        *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge
	EventsPublished    *prometheus.CounterVec
	HealthCheckStatus  *prometheus.GaugeVec
	NATSConnected      prometheus.Gauge
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "queries_total",
				Help:      "Total number of executed queries by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		QueryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "query_errors_total",
				Help:      "Total number of failed queries by error kind",
			},
			[]string{"kind"},
		),

		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of each execution phase in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9),
			},
			[]string{"phase"},
		),

		ResponseBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "response_bytes",
				Help:      "Size of query response bodies in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),

		ParseStrategy: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "parse_strategy_total",
				Help:      "Parsing strategy selections",
			},
			[]string{"strategy"},
		),

		ParsingFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "parsing_fallbacks_total",
				Help:      "Offloaded parse failures recovered by parsing on the caller goroutine",
			},
		),

		PagesLoaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "pages_loaded_total",
				Help:      "Pagination requests by outcome (more, last, stopped, error)",
			},
			[]string{"outcome"},
		),

		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "gateway",
				Name:      "active_sessions",
				Help:      "Number of live gateway sessions",
			},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "events_published_total",
				Help:      "Result events delivered to output sinks",
			},
			[]string{"output", "type"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.QueriesTotal,
		c.QueryErrors,
		c.PhaseDuration,
		c.ResponseBytes,
		c.ParseStrategy,
		c.ParsingFallbacks,
		c.PagesLoaded,
		c.ActiveSessions,
		c.EventsPublished,
		c.HealthCheckStatus,
		c.NATSConnected,
		c.NATSCircuitBreaker,
	}
}

// RecordQuery counts a finished query. outcome is "success" or "error".
func (c *Metrics) RecordQuery(kind, outcome string) {
	c.QueriesTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordQueryError counts a failure by its error kind.
func (c *Metrics) RecordQueryError(kind string) {
	c.QueryErrors.WithLabelValues(kind).Inc()
}

// RecordPhase observes the duration of one execution phase.
func (c *Metrics) RecordPhase(phase string, d time.Duration) {
	c.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordResponseBytes observes a response body size.
func (c *Metrics) RecordResponseBytes(n int64) {
	c.ResponseBytes.Observe(float64(n))
}

// RecordStrategy counts a parsing strategy selection.
func (c *Metrics) RecordStrategy(strategy string) {
	c.ParseStrategy.WithLabelValues(strategy).Inc()
}

// RecordFallback counts an offloaded parse recovered on the caller goroutine.
func (c *Metrics) RecordFallback() {
	c.ParsingFallbacks.Inc()
}

// RecordPage counts a pagination attempt.
func (c *Metrics) RecordPage(outcome string) {
	c.PagesLoaded.WithLabelValues(outcome).Inc()
}

// RecordEventPublished counts an event handed to an output.
func (c *Metrics) RecordEventPublished(output, eventType string) {
	c.EventsPublished.WithLabelValues(output, eventType).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(value)
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
