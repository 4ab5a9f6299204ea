// Package metrics exposes the rotation loop as Prometheus collectors.
// All methods are safe on a nil *Metrics, so components can run without them.
package metrics

import (
	"net/http"

	"github.com/aretw0/forkline/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	rotations     prometheus.Counter
	quotaHours    *prometheus.GaugeVec
	probeFailures prometheus.Counter
	retries       prometheus.Counter
	transitions   *prometheus.CounterVec
	activeIndex   prometheus.Gauge
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forkline_rotations_total",
			Help: "Total number of identity rotations",
		}),
		quotaHours: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "forkline_quota_hours",
				Help: "Last observed hours-equivalent usage per identity",
			},
			[]string{"identity"},
		),
		probeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forkline_quota_probe_failures_total",
			Help: "Quota probes downgraded to an assume-exhausted report",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forkline_retry_attempts_total",
			Help: "Failed remote attempts that were retried",
		}),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forkline_node_transitions_total",
				Help: "Fork chain node status transitions",
			},
			[]string{"from", "to"},
		),
		activeIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forkline_active_identity_index",
			Help: "Pool index of the identity currently considered active",
		}),
	}
	m.registry.MustRegister(
		m.rotations,
		m.quotaHours,
		m.probeFailures,
		m.retries,
		m.transitions,
		m.activeIndex,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Rotated records one rotation to the given pool index.
func (m *Metrics) Rotated(next int) {
	if m == nil {
		return
	}
	m.rotations.Inc()
	m.activeIndex.Set(float64(next))
}

// ObserveQuota records a quota report.
func (m *Metrics) ObserveQuota(report domain.QuotaReport) {
	if m == nil {
		return
	}
	m.quotaHours.WithLabelValues(report.Identity).Set(report.HoursEquivalent)
	if report.Assumed {
		m.probeFailures.Inc()
	}
}

// Retried records one retried remote attempt.
func (m *Metrics) Retried() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// Transition records a node status change.
func (m *Metrics) Transition(from, to domain.ForkStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// SetActive records the active pool index.
func (m *Metrics) SetActive(index int) {
	if m == nil {
		return
	}
	m.activeIndex.Set(float64(index))
}
