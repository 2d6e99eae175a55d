package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service reports ready, 0 otherwise.",
	})

	paymentConfirmations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_confirmations_total",
			Help: "Payment confirmation outcomes.",
		},
		[]string{"result"},
	)

	accessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Access decisions by outcome.",
		},
		[]string{"granted"},
	)

	viewerBlockedActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewer_blocked_actions_total",
			Help: "Viewer actions suppressed while protection is active.",
		},
		[]string{"action"},
	)
)

// Init registers all service metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		ready,
		paymentConfirmations,
		accessDecisions,
		viewerBlockedActions,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// CountPaymentConfirmation records a confirmation outcome ("completed",
// "replayed", "rejected").
func CountPaymentConfirmation(result string) {
	paymentConfirmations.WithLabelValues(result).Inc()
}

// CountAccessDecision records a single authorization decision.
func CountAccessDecision(granted bool) {
	accessDecisions.WithLabelValues(strconv.FormatBool(granted)).Inc()
}

// CountViewerBlock records a suppressed viewer action.
func CountViewerBlock(action string) {
	viewerBlockedActions.WithLabelValues(action).Inc()
}

// CanonicalPath collapses resource identifiers so metric labels stay
// low-cardinality.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	if len(parts) >= 4 && parts[1] == "v1" {
		switch parts[2] {
		case "payments":
			if len(parts) == 4 {
				return "/v1/payments/:id"
			}
			if len(parts) == 5 && (parts[4] == "confirm" || parts[4] == "fail") {
				return "/v1/payments/:id/" + parts[4]
			}
		case "bundles":
			if len(parts) == 4 {
				return "/v1/bundles/:id"
			}
			if len(parts) == 5 && (parts[4] == "access" || parts[4] == "documents" || parts[4] == "paycode") {
				return "/v1/bundles/:id/" + parts[4]
			}
		case "documents":
			if len(parts) == 4 {
				return "/v1/documents/:id"
			}
		case "grants":
			if len(parts) == 5 {
				return "/v1/grants/:principal/:bundle"
			}
		case "viewer":
			if parts[3] == "sessions" {
				if len(parts) == 5 {
					return "/v1/viewer/sessions/:id"
				}
				if len(parts) == 6 && parts[5] == "events" {
					return "/v1/viewer/sessions/:id/events"
				}
			}
		}
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE responses streaming through the instrumented wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
