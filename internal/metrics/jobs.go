package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsProcessedTotal, staleTasksTotal) }

var (
	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interpretation_jobs_total",
			Help: "Background tasks processed, labeled by kind and outcome.",
		},
		[]string{"kind", "status"}, // success, failure, retry, stale
	)

	staleTasksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stale_tasks_total",
			Help: "Tasks that found their job superseded by a newer task ref.",
		},
	)
)

func IncJob(kind, status string) {
	jobsProcessedTotal.WithLabelValues(norm(kind), norm(status)).Inc()
}

func IncStaleTask() { staleTasksTotal.Inc() }
