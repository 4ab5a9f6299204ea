package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/aretw0/forkline/internal/metrics"
	"github.com/aretw0/forkline/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value returns the sum of every sample of the named family.
func value(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				total += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				total += metric.GetGauge().GetValue()
			}
		}
		return total
	}
	return 0
}

func TestMetrics_Record(t *testing.T) {
	m := metrics.New()

	m.Rotated(3)
	m.ObserveQuota(domain.QuotaReport{Identity: "alpha", HoursEquivalent: 119.6})
	m.ObserveQuota(domain.QuotaReport{Identity: "bravo", HoursEquivalent: 120, Assumed: true})
	m.Retried()
	m.Retried()
	m.Transition(domain.StatusActive, domain.StatusExhausted)

	assert.Equal(t, 1.0, value(t, m, "forkline_rotations_total"))
	assert.Equal(t, 3.0, value(t, m, "forkline_active_identity_index"))
	assert.InDelta(t, 239.6, value(t, m, "forkline_quota_hours"), 1e-9)
	assert.Equal(t, 1.0, value(t, m, "forkline_quota_probe_failures_total"))
	assert.Equal(t, 2.0, value(t, m, "forkline_retry_attempts_total"))
	assert.Equal(t, 1.0, value(t, m, "forkline_node_transitions_total"))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.Rotated(1)
		m.ObserveQuota(domain.QuotaReport{})
		m.Retried()
		m.Transition(domain.StatusActive, domain.StatusDisabled)
		m.SetActive(0)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := metrics.New()
	m.Rotated(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "forkline_rotations_total 1")
}
