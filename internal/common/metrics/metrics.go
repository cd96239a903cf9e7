// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Enrollment wizard
var (
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enrollment_sessions_started_total",
			Help: "Total number of enrollment sessions started",
		},
	)

	StepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollment_step_transitions_total",
			Help: "Wizard step moves by direction (advance, retreat, blocked) and source step",
		},
		[]string{"direction", "from_step"},
	)

	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollment_validation_failures_total",
			Help: "Field validation failures by step and field",
		},
		[]string{"step", "field"},
	)

	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollment_submissions_total",
			Help: "Submission attempts by outcome",
		},
		[]string{"outcome"},
	)

	SubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enrollment_submission_duration_seconds",
			Help:    "Duration of the outbound submission call in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	SessionsReset = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enrollment_sessions_reset_total",
			Help: "Forms blanked after a successful submission",
		},
	)
)

// Job workers
var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)
)
