package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"medianalyst/internal/gateway/config"
	"medianalyst/internal/gateway/handler"
	"medianalyst/internal/gateway/middleware"
	"medianalyst/internal/gateway/server"
	"medianalyst/internal/gateway/session"
	"medianalyst/internal/logger"
	"medianalyst/internal/pipeline"
)

const sweepEvery = 5 * time.Minute

type App struct {
	server  *server.Server
	runs    *session.Registry
	closers []func() error
	log     *logger.Logger
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return NewWithConfig(context.Background(), cfg, log)
}

func NewWithConfig(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	log = logger.OrNop(log)

	// Dependencies
	svc, err := NewAnalyst(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	hist, err := NewHistory(cfg, log)
	if err != nil {
		return nil, err
	}
	artifacts, closeArtifacts, err := NewArtifacts(cfg, log)
	if err != nil {
		_ = hist.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := middleware.NewMetrics(reg)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	runs, err := session.NewRegistry(session.Options{
		MaxRuns: cfg.MaxRuns,
		IdleTTL: cfg.RunIdleTTL,
		Logger:  log,
		OnSize:  metrics.SetActiveRuns,
	})
	if err != nil {
		return nil, err
	}
	if err := runs.StartSweeper(sweepEvery, func() { metrics.SetRateLimitBuckets(limiter.Sweep()) }); err != nil {
		return nil, fmt.Errorf("start sweeper: %w", err)
	}

	engine := pipeline.NewEngine(svc, hist, pipeline.WithLogger(log), pipeline.WithObserver(metrics))
	h := handler.New(handler.Deps{
		Engine:    engine,
		Runs:      runs,
		History:   hist,
		Artifacts: artifacts,
		Images:    svc,
		Logger:    log,
	})

	// Routing & Server
	router := server.NewRouter(server.RouterDeps{
		Handler:   h,
		Metrics:   metrics,
		Limiter:   limiter,
		Gatherer:  reg,
		AccessLog: cfg.Env != "prod" && cfg.Env != "production",
	})

	return &App{
		server:  server.New(cfg.Port, router, log),
		runs:    runs,
		closers: []func() error{hist.Close, closeArtifacts},
		log:     log,
	}, nil
}

// Logger is the process logger the app was built with.
func (a *App) Logger() *logger.Logger { return a.log }

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	a.runs.Stop()
	for _, c := range a.closers {
		err = errors.Join(err, c())
	}
	a.log.Sync()
	return err
}
