package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"medianalyst/internal/pipeline"
)

// Metrics holds the HTTP and pipeline collectors of one registry.
type Metrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	inFlight     prometheus.Gauge
	buckets      prometheus.Gauge
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	runs         prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "path"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_request_in_flight",
			Help: "Current in-flight requests",
		}),
		buckets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rate_limiter_buckets_total",
			Help: "Client buckets still draining after the last sweep",
		}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_step_total",
			Help: "Completed pipeline steps by outcome",
		}, []string{"step", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_step_duration_seconds",
			Help:    "Model latency per pipeline step",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"step"}),
		runs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_runs_active",
			Help: "Runs held in the registry",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.inFlight, m.buckets, m.steps, m.stepDuration, m.runs)
	return m
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack keeps WebSocket upgrades working behind the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Handler records requests labelled by chi route pattern, so path parameters
// do not explode label cardinality.
func (m *Metrics) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		m.requests.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		m.duration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) SetRateLimitBuckets(n int) { m.buckets.Set(float64(n)) }

func (m *Metrics) SetActiveRuns(n int) { m.runs.Set(float64(n)) }

// ObserveStep implements pipeline.Observer.
func (m *Metrics) ObserveStep(step pipeline.Step, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.steps.WithLabelValues(step.String(), outcome).Inc()
	m.stepDuration.WithLabelValues(step.String()).Observe(elapsed.Seconds())
}
