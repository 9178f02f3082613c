package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medianalyst/internal/pipeline"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestCORSPreflight(t *testing.T) {
	h := CORS(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/runs", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(0.001, 10)
	h := rl.Handler(okHandler())

	send := func(addr, method, path string) int {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1111", http.MethodPost, "/api/runs"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:2222", http.MethodPost, "/api/runs"))
	assert.Equal(t, http.StatusOK, send("10.0.0.1:3333", http.MethodGet, "/healthz"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1111", http.MethodPost, "/api/runs"))
	assert.Equal(t, 2, rl.Sweep())
}

func TestRequestCost(t *testing.T) {
	cases := map[string]int64{
		"GET /metrics":                     0,
		"GET /api/runs/x":                  1,
		"POST /api/runs":                   10,
		"POST /api/runs/x/confirm-product": 10,
		"POST /api/images/edit":            10,
		"POST /api/runs/x/chat":            2,
	}
	for line, want := range cases {
		var method, path string
		for i := range line {
			if line[i] == ' ' {
				method, path = line[:i], line[i+1:]
				break
			}
		}
		assert.Equal(t, want, RequestCost(httptest.NewRequest(method, path, nil)), line)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return float64(m.GetHistogram().GetSampleCount())
		}
	}
	return 0
}

func TestMetricsUseRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	r := chi.NewRouter()
	r.Use(m.Handler)
	r.Get("/api/runs/{runID}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) })

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/runs/"+id, nil))
	}
	got := counterValue(t, reg, "http_request_total", map[string]string{"path": "/api/runs/{runID}", "status": "404"})
	assert.Equal(t, float64(2), got)
}

func TestMetricsObserveStep(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveStep(pipeline.StepSearching, time.Second, nil)
	m.ObserveStep(pipeline.StepSearching, time.Second, errors.New("x"))
	m.ObserveStep(pipeline.StepAnalyzingPathology, time.Second, nil)

	assert.Equal(t, float64(1), counterValue(t, reg, "pipeline_step_total", map[string]string{"step": "searching", "outcome": "error"}))
	assert.Equal(t, float64(2), counterValue(t, reg, "pipeline_step_duration_seconds", map[string]string{"step": "searching"}))
}
