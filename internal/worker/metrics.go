package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_worker_tasks_total",
			Help: "Background tasks by outcome (completed, failed, panicked, overflow, rejected).",
		},
		[]string{"result"},
	)

	taskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wa_worker_task_duration_seconds",
			Help:    "Wall time of background tasks.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wa_worker_queue_depth",
			Help: "Tasks waiting in the worker queue.",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksTotal, taskDuration, queueDepth)
}
