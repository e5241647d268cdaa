package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_scheduler_job_runs_total",
			Help: "Scheduled job runs by job and result (ok, error).",
		},
		[]string{"job", "result"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wa_scheduler_job_duration_seconds",
			Help:    "Wall time of scheduled job runs.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 300},
		},
		[]string{"job"},
	)
)

func init() {
	prometheus.MustRegister(jobRuns, jobDuration)
}
