package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exsaengine",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "exsaengine",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "exsaengine",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "In-flight HTTP requests",
		},
		[]string{"path"},
	)

	backpressureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exsaengine",
			Subsystem: "http",
			Name:      "backpressure_total",
			Help:      "Total backpressure rejections (429 rate_limited, 503 queue_full)",
		},
		[]string{"reason"},
	)

	// Inference-specific series (spec §12's supplemented Prometheus
	// metrics endpoint): queue depth, generation throughput, swap state
	// and backend error counts, none of which the teacher's HTTP-only
	// metrics covered.
	queueDepthGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "exsaengine",
			Subsystem: "inference",
			Name:      "queue_depth",
			Help:      "Current admission queue depth",
		},
	)

	tokensPerSecond = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "exsaengine",
			Subsystem: "inference",
			Name:      "tokens_per_second",
			Help:      "Observed completion-token throughput per job",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	activeGenerations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "exsaengine",
			Subsystem: "inference",
			Name:      "active_generations",
			Help:      "1 while the worker is decoding a job, 0 otherwise",
		},
	)

	swapInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "exsaengine",
			Subsystem: "inference",
			Name:      "swap_in_progress",
			Help:      "1 while a model load/reload is in flight, 0 otherwise",
		},
	)

	backendErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exsaengine",
			Subsystem: "inference",
			Name:      "backend_errors_total",
			Help:      "Total non-streaming jobs that terminated with a backend error",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal, httpRequestDuration, httpInflight, backpressureTotal,
		queueDepthGauge, tokensPerSecond, activeGenerations, swapInProgress, backendErrorsTotal,
	)
}

// ObserveQueueDepth publishes the current admission queue depth. Called
// from the status handler rather than on every
// enqueue/dequeue to avoid contending the queue's mutex on the hot path.
func ObserveQueueDepth(depth int) {
	queueDepthGauge.Set(float64(depth))
}

// ObserveTokensPerSecond records one completed job's throughput.
func ObserveTokensPerSecond(tps float64) {
	tokensPerSecond.Observe(tps)
}

// SetActiveGenerations reports whether the worker is currently decoding.
func SetActiveGenerations(active bool) {
	if active {
		activeGenerations.Set(1)
	} else {
		activeGenerations.Set(0)
	}
}

// SetSwapInProgress reports whether a model load/reload is in flight.
func SetSwapInProgress(inProgress bool) {
	if inProgress {
		swapInProgress.Set(1)
	} else {
		swapInProgress.Set(0)
	}
}

// IncrementBackendErrors is called by runJob when a non-streaming job
// ends with a backend error. Streamed (SSE) jobs are not counted.
func IncrementBackendErrors() {
	backendErrorsTotal.Inc()
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware instruments requests for Prometheus
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := routePatternOrPath(r)
		method := r.Method
		httpInflight.WithLabelValues(path).Inc()
		defer httpInflight.WithLabelValues(path).Dec()

		sr := &statusRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(sr, r)
		// chi records the matched route pattern while routing, so it is
		// only available once next has run.
		routeLabel := routePatternOrPath(r)
		statusLabel := itoa(sr.status)
		dur := time.Since(start).Seconds()
		httpRequestsTotal.WithLabelValues(routeLabel, method, statusLabel).Inc()
		httpRequestDuration.WithLabelValues(routeLabel, method, statusLabel).Observe(dur)
	})
}

// routePatternOrPath returns the chi route pattern if available, otherwise
// falls back to URL path. This avoids high-cardinality label values.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// IncrementBackpressure is called when a job is rejected at admission:
// 429 for rate_limited, 503 for queue_full.
func IncrementBackpressure(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	backpressureTotal.WithLabelValues(reason).Inc()
}

// fast integer to ascii for small set of status codes
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [4]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
