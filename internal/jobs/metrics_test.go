package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// counterValue sums the counter samples of family name whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metrics:
		for _, m := range fam.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("gl:integrity_check").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("gl:integrity_check").End(boom), boom)

	require.Equal(t, 1.0, counterValue(t, reg, "gl_jobs_total", map[string]string{"status": "success"}))
	require.Equal(t, 1.0, counterValue(t, reg, "gl_jobs_total", map[string]string{"status": "failure"}))
	require.Equal(t, 1.0, counterValue(t, reg, "gl_jobs_failures_total", nil))
}

func TestCountersIgnoreEmptyAndNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.AddRejected(2024, 0)
	m.AddRejected(2024, 3)
	m.AddDrift(2024, 2)
	require.Equal(t, 3.0, counterValue(t, reg, "gl_rejected_entries_total", map[string]string{"fiscal_year": "2024"}))
	require.Equal(t, 2.0, counterValue(t, reg, "gl_carry_forward_drift_total", nil))

	var none *Metrics
	none.AddRejected(2024, 1)
	require.NoError(t, none.Track("x").End(nil))
}
