// Package metrics holds the Prometheus instruments for the supervisor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the camera supervisor.
// Each instance owns its registry so tests can build isolated sets.
type Metrics struct {
	registry *prometheus.Registry

	healthChecksTotal        prometheus.Counter
	healthCheckFailuresTotal prometheus.Counter
	circuitBreakerTotal      prometheus.Counter
	recoveriesTotal          prometheus.Counter
	recordingsActive         prometheus.Gauge
	snapshotsTotal           *prometheus.CounterVec
}

// New creates and registers the supervisor metric set.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		healthChecksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camd_health_checks_total",
			Help: "Total number of media server health probes",
		}),
		healthCheckFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camd_health_check_failures_total",
			Help: "Total number of failed media server health probes",
		}),
		circuitBreakerTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camd_circuit_breaker_activations_total",
			Help: "Total number of circuit breaker activations",
		}),
		recoveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camd_recoveries_total",
			Help: "Total number of confirmed media server recoveries",
		}),
		recordingsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camd_recordings_active",
			Help: "Number of in-progress recording sessions",
		}),
		snapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camd_snapshots_total",
			Help: "Total number of snapshot captures by outcome",
		}, []string{"status"}),
	}

	registry.MustRegister(
		m.healthChecksTotal,
		m.healthCheckFailuresTotal,
		m.circuitBreakerTotal,
		m.recoveriesTotal,
		m.recordingsActive,
		m.snapshotsTotal,
	)
	return m
}

// IncHealthChecks increments the probe counter; failed also bumps the
// failure counter.
func (m *Metrics) IncHealthChecks(failed bool) {
	m.healthChecksTotal.Inc()
	if failed {
		m.healthCheckFailuresTotal.Inc()
	}
}

// IncCircuitBreaker increments the circuit breaker activation counter.
func (m *Metrics) IncCircuitBreaker() {
	m.circuitBreakerTotal.Inc()
}

// IncRecoveries increments the confirmed recovery counter.
func (m *Metrics) IncRecoveries() {
	m.recoveriesTotal.Inc()
}

// SetRecordingsActive sets the active recording session gauge.
func (m *Metrics) SetRecordingsActive(n int) {
	m.recordingsActive.Set(float64(n))
}

// IncSnapshots increments the snapshot counter for the given outcome
// ("completed" or "failed").
func (m *Metrics) IncSnapshots(status string) {
	m.snapshotsTotal.WithLabelValues(status).Inc()
}

// Handler serves the metric set in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
