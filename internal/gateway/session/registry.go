package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"medianalyst/internal/logger"
	"medianalyst/internal/pipeline"
)

var ErrRunNotFound = errors.New("run not found")

// Registry holds the live runs of the gateway. The least recently used run is
// dropped once MaxRuns is reached, and a gocron job drops runs idle for longer
// than the TTL.
type Registry struct {
	mu    sync.Mutex
	runs  *lru.Cache[string, *pipeline.Run]
	ttl   time.Duration
	log   *logger.Logger
	sched *gocron.Scheduler
	// onSize is told the registry size after every change.
	onSize func(int)
}

type Options struct {
	MaxRuns int
	IdleTTL time.Duration
	Logger  *logger.Logger
	OnSize  func(int)
}

func NewRegistry(opts Options) (*Registry, error) {
	if opts.MaxRuns <= 0 {
		opts.MaxRuns = 256
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 2 * time.Hour
	}
	if opts.OnSize == nil {
		opts.OnSize = func(int) {}
	}
	log := logger.OrNop(opts.Logger)
	runs, err := lru.NewWithEvict[string, *pipeline.Run](opts.MaxRuns, func(id string, _ *pipeline.Run) {
		log.Debug("run evicted", "run_id", id)
	})
	if err != nil {
		return nil, err
	}
	return &Registry{runs: runs, ttl: opts.IdleTTL, log: log, onSize: opts.OnSize}, nil
}

// Create registers a new idle run under a fresh id.
func (g *Registry) Create() *pipeline.Run {
	r := pipeline.NewRun(uuid.NewString())
	g.mu.Lock()
	g.runs.Add(r.ID(), r)
	n := g.runs.Len()
	g.mu.Unlock()
	g.onSize(n)
	return r
}

func (g *Registry) Get(id string) (*pipeline.Run, error) {
	id = strings.TrimSpace(id)
	g.mu.Lock()
	r, ok := g.runs.Get(id)
	g.mu.Unlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	return r, nil
}

func (g *Registry) Delete(id string) {
	g.mu.Lock()
	g.runs.Remove(strings.TrimSpace(id))
	n := g.runs.Len()
	g.mu.Unlock()
	g.onSize(n)
}

func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.runs.Len()
}

// Sweep drops runs untouched since now-TTL. Busy runs are kept.
func (g *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-g.ttl)
	g.mu.Lock()
	removed := 0
	for _, id := range g.runs.Keys() {
		r, ok := g.runs.Peek(id)
		if !ok || r.Busy() || r.IdleSince().After(cutoff) {
			continue
		}
		g.runs.Remove(id)
		removed++
	}
	n := g.runs.Len()
	g.mu.Unlock()
	g.onSize(n)
	if removed > 0 {
		g.log.Info("idle runs swept", "removed", removed, "remaining", n)
	}
	return removed
}

// StartSweeper runs Sweep plus any extra jobs on a fixed interval until Stop.
func (g *Registry) StartSweeper(every time.Duration, extra ...func()) error {
	if every <= 0 {
		every = 5 * time.Minute
	}
	s := gocron.NewScheduler(time.Local)
	if _, err := s.Every(every).Do(func() {
		g.Sweep(time.Now())
		for _, fn := range extra {
			fn()
		}
	}); err != nil {
		return err
	}
	s.StartAsync()
	g.mu.Lock()
	g.sched = s
	g.mu.Unlock()
	return nil
}

func (g *Registry) Stop() {
	g.mu.Lock()
	s := g.sched
	g.sched = nil
	g.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}
