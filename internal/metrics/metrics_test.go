package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.ObserveIteration(10)
	m.ObserveRun(0.5)
	m.JobTransition("", "pending")
	m.ObserveJobDuration(time.Second)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"hillclimb_iterations_total",
		"hillclimb_evaluations_total",
		"hillclimb_best_error",
		"hillclimb_jobs",
		"hillclimb_job_duration_seconds",
	}, names)
}

func TestObserveIteration(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveIteration(5)
	m.ObserveIteration(15)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Iterations))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.Evaluations))
}

func TestJobTransition(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.JobTransition("", "pending")
	m.JobTransition("pending", "running")
	m.JobTransition("", "pending")
	m.JobTransition("running", "completed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Jobs.WithLabelValues("pending")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Jobs.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Jobs.WithLabelValues("completed")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveIteration(1)
		m.ObserveRun(1)
		m.JobTransition("", "pending")
		m.ObserveJobDuration(time.Second)
	})
}
