// Package metrics defines the Prometheus collectors exported by the hill
// climbing service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hillclimb"

// Metrics groups the service collectors. A nil *Metrics is valid and records
// nothing, so library code can take one unconditionally.
type Metrics struct {
	Iterations  prometheus.Counter
	Evaluations prometheus.Counter
	BestError   prometheus.Histogram
	Jobs        *prometheus.GaugeVec
	JobDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them through promhttp.Handler.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Completed hill climbing sweeps.",
		}),
		Evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Scorer invocations made by hill climbing sweeps.",
		}),
		BestError: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "best_error",
			Help:      "Best error reached at the end of a run.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 10, 12),
		}),
		Jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Optimization jobs by status.",
		}, []string{"status"}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of finished optimization jobs.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Iterations, m.Evaluations, m.BestError, m.Jobs, m.JobDuration)
	}
	return m
}

// ObserveIteration records one completed sweep that made evals scorer calls.
func (m *Metrics) ObserveIteration(evals int) {
	if m == nil {
		return
	}
	m.Iterations.Inc()
	m.Evaluations.Add(float64(evals))
}

// ObserveRun records the final best error of a run.
func (m *Metrics) ObserveRun(bestError float64) {
	if m == nil {
		return
	}
	m.BestError.Observe(bestError)
}

// JobTransition moves one job from one status to another. An empty from
// means the job is new.
func (m *Metrics) JobTransition(from, to string) {
	if m == nil {
		return
	}
	if from != "" {
		m.Jobs.WithLabelValues(from).Dec()
	}
	m.Jobs.WithLabelValues(to).Inc()
}

// ObserveJobDuration records how long a finished job ran.
func (m *Metrics) ObserveJobDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.JobDuration.Observe(d.Seconds())
}
