package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/claims"
	"github.com/scourhq/scour/internal/research"
	"github.com/scourhq/scour/internal/store"
	"github.com/scourhq/scour/internal/trust"
)

// Scheduler resubmits standing objectives on their cron schedules and runs
// the periodic state sweeps (stale trust scores, unverified claims, old
// archive snapshots).
type Scheduler struct {
	cfg    *config.Config
	runs   *RunsHandler
	store  *store.Store
	trust  *trust.Engine
	claims *claims.Graph
	logger *log.Logger

	Stop chan struct{}

	mu      sync.Mutex
	lastRun map[string]time.Time
}

func NewScheduler(cfg *config.Config, runs *RunsHandler, st *store.Store, trustEngine *trust.Engine, graph *claims.Graph, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	return &Scheduler{
		cfg:     cfg,
		runs:    runs,
		store:   st,
		trust:   trustEngine,
		claims:  graph,
		logger:  logger,
		Stop:    make(chan struct{}),
		lastRun: make(map[string]time.Time),
	}
}

func (s *Scheduler) Start() {
	objectives := time.NewTicker(time.Minute)
	sweeps := time.NewTicker(s.cfg.Scheduler.SweepEvery)
	go func() {
		for {
			select {
			case <-s.Stop:
				objectives.Stop()
				sweeps.Stop()
				return
			case <-objectives.C:
				s.tick()
			case <-sweeps.C:
				s.sweep()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	for _, obj := range s.cfg.Scheduler.Objectives {
		if s.runs.hasActiveObjective(obj.Name) {
			continue
		}
		if !isDue(obj.Cron, s.lastSubmitted(ctx, obj.Name)) {
			continue
		}

		mode := obj.Mode
		if mode == "" {
			mode = s.cfg.Engine.DefaultMode
		}
		run, err := s.runs.Submit(research.Objective{
			ID:                 obj.Name,
			Query:              obj.Query,
			Mode:               research.Mode(mode),
			KnownDomains:       obj.KnownDomains,
			RequiredConfidence: obj.RequiredConfidence,
		})
		if err != nil {
			s.logger.Printf("standing objective %q: %v", obj.Name, err)
			continue
		}
		s.mu.Lock()
		s.lastRun[obj.Name] = run.startedAt
		s.mu.Unlock()
		s.logger.Printf("standing objective %q started session %s", obj.Name, run.session)
	}
}

// lastSubmitted prefers the in-process submission time; the archive covers
// restarts.
func (s *Scheduler) lastSubmitted(ctx context.Context, name string) *time.Time {
	s.mu.Lock()
	t, ok := s.lastRun[name]
	s.mu.Unlock()
	if ok {
		return &t
	}
	if s.store == nil {
		return nil
	}
	last, err := s.store.LatestRunTime(ctx, name)
	if err != nil {
		return nil
	}
	return last
}

func (s *Scheduler) sweep() {
	if maxAge := s.cfg.Trust.SweepMaxAge; maxAge > 0 {
		if n := s.trust.Sweep(maxAge); n > 0 {
			s.logger.Printf("trust sweep dropped %d stale domains", n)
		}
	}
	if maxAge := s.cfg.Scheduler.ClaimMaxAge; maxAge > 0 {
		if n := s.claims.Sweep(maxAge); n > 0 {
			s.logger.Printf("claim sweep dropped %d uncorroborated claims", n)
		}
	}
	if maxAge := s.cfg.Scheduler.SnapshotMaxAge; s.store != nil && maxAge > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, err := s.store.PruneSnapshots(ctx, maxAge)
		cancel()
		if err != nil {
			s.logger.Printf("snapshot prune: %v", err)
		} else if n > 0 {
			s.logger.Printf("snapshot prune removed %d rows", n)
		}
	}
}

// isDue determines whether an objective with cronSpec should run now based
// on its last submission time. Supports "@daily", "@hourly", and standard
// 5-field cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// Fallback: treat as @daily if invalid
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			// Never run, due now
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
