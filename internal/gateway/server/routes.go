package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"medianalyst/internal/gateway/handler"
	"medianalyst/internal/gateway/middleware"
)

type RouterDeps struct {
	Handler   *handler.Handler
	Metrics   *middleware.Metrics
	Limiter   *middleware.RateLimiter
	Gatherer  prometheus.Gatherer
	AccessLog bool
}

func NewRouter(d RouterDeps) http.Handler {
	h := d.Handler
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	if d.AccessLog {
		r.Use(chimw.Logger)
	}
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS)
	if d.Metrics != nil {
		r.Use(d.Metrics.Handler)
	}
	if d.Limiter != nil {
		r.Use(d.Limiter.Handler)
	}

	r.Get("/healthz", h.Healthz)
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/runs", h.CreateRun)
		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/", h.GetRun)
			r.Post("/search", h.Search)
			r.Patch("/product", h.EditProduct)
			r.Post("/confirm-product", h.ConfirmProduct)
			r.Post("/confirm-report", h.ConfirmReport)
			r.Post("/chat", h.Chat)
			r.Post("/reset", h.Reset)
			r.Get("/report", h.DownloadReport)
			r.Post("/report/export", h.ExportReport)
			r.Post("/history", h.SaveHistory)
			r.Post("/history/{historyID}", h.LoadHistory)
		})
		r.Get("/history", h.ListHistory)
		r.Post("/images/edit", h.EditImage)
		r.Get("/artifacts", h.ListArtifacts)
		r.Get("/artifacts/*", h.GetArtifact)
	})

	r.Get("/ws/runs/{runID}/chat", h.ChatWS)
	return r
}
