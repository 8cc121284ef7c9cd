package browser

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for teardown outcomes.
const (
	stopClean  = "clean"
	stopFailed = "failed"
)

var (
	browserStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserd_browser_starts_total",
			Help: "Total number of browser launches, by outcome.",
		},
		[]string{"result"},
	)

	browserStopsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserd_browser_stops_total",
			Help: "Total number of browser teardowns, by outcome.",
		},
		[]string{"result"},
	)

	browserStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "browserd_browser_start_seconds",
			Help:    "Duration of browser launches, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	activeBrowsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserd_browser_active",
			Help: "Number of browser instances currently held by controllers.",
		},
	)
)

func init() {
	prometheus.MustRegister(browserStartsTotal)
	prometheus.MustRegister(browserStopsTotal)
	prometheus.MustRegister(browserStartDuration)
	prometheus.MustRegister(activeBrowsers)

	for _, r := range []string{"ok", "error"} {
		browserStartsTotal.WithLabelValues(r)
	}
	browserStopsTotal.WithLabelValues(stopClean)
	browserStopsTotal.WithLabelValues(stopFailed)
}
