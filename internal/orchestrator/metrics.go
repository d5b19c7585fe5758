package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Namann-14/artifex/internal/domain"
)

const (
	metricsSubsystem = "artifex"

	jobsFinishedTotal   = "jobs_finished_total"
	jobTransitionsTotal = "job_transitions_total"
	jobDurationSeconds  = "job_duration_seconds"
	jobsInFlight        = "jobs_in_flight"

	kindLabel   = "kind"
	stateLabel  = "state"
	reasonLabel = "reason"
)

var jobsFinishedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: metricsSubsystem,
		Name:      jobsFinishedTotal,
		Help:      "number of generation jobs that reached a terminal state",
	},
	[]string{kindLabel, stateLabel, reasonLabel},
)

var jobTransitionsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: metricsSubsystem,
		Name:      jobTransitionsTotal,
		Help:      "number of job state transitions by target state",
	},
	[]string{kindLabel, stateLabel},
)

var jobDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: metricsSubsystem,
		Name:      jobDurationSeconds,
		Help:      "time from job creation to its terminal state",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
	},
	[]string{kindLabel, stateLabel},
)

var jobsInFlightMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: metricsSubsystem,
		Name:      jobsInFlight,
		Help:      "jobs created but not yet finished",
	},
	[]string{kindLabel},
)

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsFinishedMetric)
	prometheus.MustRegister(jobTransitionsMetric)
	prometheus.MustRegister(jobDurationMetric)
	prometheus.MustRegister(jobsInFlightMetric)
}

// MetricsObserver records job lifecycle metrics on the default registry.
type MetricsObserver struct{}

func (MetricsObserver) Observe(job domain.GenerationJob) {
	kind := string(job.Kind)
	state := string(job.State)
	jobTransitionsMetric.With(prometheus.Labels{kindLabel: kind, stateLabel: state}).Inc()

	switch {
	case job.State == domain.StateCreated:
		jobsInFlightMetric.With(prometheus.Labels{kindLabel: kind}).Inc()
	case job.State.Terminal():
		jobsInFlightMetric.With(prometheus.Labels{kindLabel: kind}).Dec()
		reason := ""
		if job.Failure != nil {
			reason = string(job.Failure.Reason)
		}
		jobsFinishedMetric.With(prometheus.Labels{kindLabel: kind, stateLabel: state, reasonLabel: reason}).Inc()
		jobDurationMetric.With(prometheus.Labels{kindLabel: kind, stateLabel: state}).
			Observe(job.UpdatedAt.Sub(job.CreatedAt).Seconds())
	}
}
