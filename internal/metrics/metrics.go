// ABOUTME: Prometheus metrics for tool dispatch, sessions, and auth decisions.
// ABOUTME: All hooks are nil-safe so metrics can be disabled wholesale.

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the openmcp metric instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	dispatchDuration *prometheus.HistogramVec
	dispatchTotal    *prometheus.CounterVec
	activeSessions   *prometheus.GaugeVec
	authDecisions    *prometheus.CounterVec
	progressEvents   *prometheus.CounterVec
}

// New creates the metric set on its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		dispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "openmcp_dispatch_duration_seconds",
				Help:    "Duration of tool call dispatches in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"service", "outcome"},
		),
		dispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openmcp_dispatch_total",
				Help: "Total number of tool call dispatches",
			},
			[]string{"service", "outcome"},
		),
		activeSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "openmcp_active_sessions",
				Help: "Current number of open sessions",
			},
			[]string{"service"},
		),
		authDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openmcp_auth_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"outcome"},
		),
		progressEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openmcp_progress_events_total",
				Help: "Total number of streamed progress events",
			},
			[]string{"service"},
		),
	}
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDispatch records one completed dispatch.
func (m *Metrics) ObserveDispatch(service string, duration time.Duration, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.dispatchDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
	m.dispatchTotal.WithLabelValues(service, outcome).Inc()
}

// SetActiveSessions records the current open session count of a service.
func (m *Metrics) SetActiveSessions(service string, count int) {
	if m == nil {
		return
	}
	m.activeSessions.WithLabelValues(service).Set(float64(count))
}

// ObserveAuth records one authorization decision.
func (m *Metrics) ObserveAuth(allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.authDecisions.WithLabelValues(outcome).Inc()
}

// ObserveProgress records streamed progress events.
func (m *Metrics) ObserveProgress(service string, count uint64) {
	if m == nil || count == 0 {
		return
	}
	m.progressEvents.WithLabelValues(service).Add(float64(count))
}
