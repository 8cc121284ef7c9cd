package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatched = "unmatched"

// Log stream transports, used as the "transport" label.
const (
	transportWebSocket = "websocket"
	transportSSE       = "sse"
)

// /run-agent outcomes. Engine failures still answer 200, so the status code
// alone cannot tell a finished task from a crashed one.
const (
	outcomeSuccess           = "success"
	outcomeError             = "error"
	outcomeBusy              = "busy"
	outcomeMissingCredential = "missing_credential"
	outcomeBadRequest        = "bad_request"
	outcomeShuttingDown      = "shutting_down"
	outcomeAbandoned         = "abandoned"
)

// streamRoutes hold a connection open for as long as the client listens.
// Their lifetime is tracked by logStreamClients, not the latency histogram.
var streamRoutes = map[string]bool{
	"/logs":               true,
	"/v1/tasks/{id}/logs": true,
}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserd_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "browserd_http_request_duration_seconds",
			Help: "Latency of non-streaming HTTP requests. /run-agent includes the task itself.",
			// Synchronous runs drive a browser through many steps.
			Buckets: []float64{.005, .025, .1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"method", "path"},
	)

	logStreamClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "browserd_log_stream_clients",
			Help: "Clients currently attached to a progress log stream.",
		},
		[]string{"transport"},
	)

	runAgentResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserd_run_agent_responses_total",
			Help: "Responses to /run-agent by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, logStreamClients, runAgentResponses)
}

// metricsMiddleware counts every request by chi route pattern and records
// latency for everything except the log streams.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			// Hijacked WebSocket upgrades never report a status.
			status = http.StatusOK
		}

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		if !streamRoutes[path] {
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}
	})
}

// trackStream counts a log stream client until the returned func is called.
func trackStream(transport string) func() {
	g := logStreamClients.WithLabelValues(transport)
	g.Inc()
	return g.Dec
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
