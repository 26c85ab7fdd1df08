package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the relay gateway and
// the timer monitor.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal      prometheus.Counter
	errorsTotal        prometheus.Counter
	messagesTotal      *prometheus.CounterVec
	droppedTotal       *prometheus.CounterVec
	foreignTotal       prometheus.Counter
	connectionsActive  prometheus.Gauge
	connectionLosses   prometheus.Counter
	timerTransitions   *prometheus.CounterVec
	speedErrorSeconds  prometheus.Gauge
	rehearsalsRecorded prometheus.Counter
}

// New creates and registers Prometheus metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deckpace_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deckpace_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deckpace_messages_total",
			Help: "Protocol messages handled, by type",
		}, []string{"type"}),
		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deckpace_messages_dropped_total",
			Help: "Protocol messages dropped, by reason",
		}, []string{"reason"}),
		foreignTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deckpace_foreign_session_messages_total",
			Help: "Messages ignored because they belong to another presentation session",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deckpace_relay_connections",
			Help: "Number of open relay websocket connections",
		}),
		connectionLosses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deckpace_presenter_connection_losses_total",
			Help: "Times the monitor lost contact with the presenter",
		}),
		timerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deckpace_timer_transitions_total",
			Help: "Timer mode changes, by target mode",
		}, []string{"mode"}),
		speedErrorSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deckpace_speed_error_seconds",
			Help: "Latest speed error; positive is ahead of schedule",
		}),
		rehearsalsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deckpace_rehearsals_recorded_total",
			Help: "Timed runs saved to the rehearsal store",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.messagesTotal,
		m.droppedTotal,
		m.foreignTotal,
		m.connectionsActive,
		m.connectionLosses,
		m.timerTransitions,
		m.speedErrorSeconds,
		m.rehearsalsRecorded,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncMessages counts a handled protocol message.
func (m *Metrics) IncMessages(msgType string) {
	m.messagesTotal.WithLabelValues(msgType).Inc()
}

// IncDropped counts a dropped message.
func (m *Metrics) IncDropped(reason string) {
	m.droppedTotal.WithLabelValues(reason).Inc()
}

// IncForeignSession counts a message from another session.
func (m *Metrics) IncForeignSession() {
	m.foreignTotal.Inc()
}

// SetConnections sets the open relay connections gauge.
func (m *Metrics) SetConnections(n int) {
	m.connectionsActive.Set(float64(n))
}

// IncConnectionLosses counts a presenter liveness timeout.
func (m *Metrics) IncConnectionLosses() {
	m.connectionLosses.Inc()
}

// IncTimerTransition counts a change into mode.
func (m *Metrics) IncTimerTransition(mode string) {
	m.timerTransitions.WithLabelValues(mode).Inc()
}

// SetSpeedError records the latest speed error in seconds.
func (m *Metrics) SetSpeedError(seconds float64) {
	m.speedErrorSeconds.Set(seconds)
}

// IncRehearsals counts a saved rehearsal run.
func (m *Metrics) IncRehearsals() {
	m.rehearsalsRecorded.Inc()
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
