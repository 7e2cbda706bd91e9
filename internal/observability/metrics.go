package observability

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes Prometheus collectors for HTTP traffic and the workflow.
// A nil *Metrics is a valid no-op.
type Metrics struct {
	registry         *prometheus.Registry
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	errors           *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	transitionErrors *prometheus.CounterVec
	outboxDispatched *prometheus.CounterVec
	outboxFailed     *prometheus.CounterVec
	autoClosed       prometheus.Counter
}

// NewMetrics registers collectors on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total number of HTTP errors by domain code",
		}, []string{"route", "method", "code"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_transitions_total",
			Help: "Successful workflow transitions",
		}, []string{"action"}),
		transitionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_transition_errors_total",
			Help: "Rejected workflow transitions by error code",
		}, []string{"action", "code"}),
		outboxDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_dispatched_total",
			Help: "Outbox events delivered to subscribers",
		}, []string{"event_type"}),
		outboxFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_failed_total",
			Help: "Outbox delivery failures",
		}, []string{"event_type"}),
		autoClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tickets_auto_closed_total",
			Help: "Resolved tickets closed by the scheduler",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(route, method, code).Inc()
}

// RecordTransition counts the outcome of a workflow action. An empty code
// means success.
func (m *Metrics) RecordTransition(action, code string) {
	if m == nil {
		return
	}
	if code == "" {
		m.transitions.WithLabelValues(action).Inc()
		return
	}
	m.transitionErrors.WithLabelValues(action, code).Inc()
}

func (m *Metrics) RecordOutbox(eventType string, ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.outboxDispatched.WithLabelValues(eventType).Inc()
		return
	}
	m.outboxFailed.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordAutoClosed(n int) {
	if m == nil {
		return
	}
	m.autoClosed.Add(float64(n))
}
