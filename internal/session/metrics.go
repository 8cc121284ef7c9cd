package session

import "github.com/prometheus/client_golang/prometheus"

// Rejection reasons.
const (
	rejectBusy       = "busy"
	rejectCredential = "missing_credential"
	rejectShutdown   = "shutdown"
)

var (
	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserd_tasks_total",
			Help: "Total number of finished tasks, by result status.",
		},
		[]string{"status"},
	)

	taskRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserd_task_rejections_total",
			Help: "Total number of rejected task submissions, by reason.",
		},
		[]string{"reason"},
	)

	taskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "browserd_task_duration_seconds",
			Help:    "Task execution duration in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	sessionBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserd_session_busy",
			Help: "1 while a task is in flight, 0 otherwise.",
		},
	)

	progressDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "browserd_progress_dropped_total",
			Help: "Progress lines dropped because the bridge was full or stale.",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksTotal)
	prometheus.MustRegister(taskRejectionsTotal)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(sessionBusy)
	prometheus.MustRegister(progressDroppedTotal)
}
