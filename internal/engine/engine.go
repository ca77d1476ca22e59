// Package engine drives a research run end to end: it generates and
// validates the plan, executes paths against the navigation driver under the
// plan's budgets, feeds every result through cache, trust and the claim
// graph, and assembles the final structured report. All blocking I/O lives
// behind the BrowserDriver and SearchProvider collaborators; the engine's
// own bookkeeping is synchronous.
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scourhq/scour/internal/cache"
	"github.com/scourhq/scour/internal/claims"
	"github.com/scourhq/scour/internal/planner"
	"github.com/scourhq/scour/internal/research"
	"github.com/scourhq/scour/internal/telemetry"
	"github.com/scourhq/scour/internal/trust"
)

// Deps wires one engine. Planner, Trust, Claims, Caches, Control and Driver
// are required; Search is optional and expands path targets from query
// memoization when present.
type Deps struct {
	Planner *planner.Planner
	Trust   *trust.Engine
	Claims  *claims.Graph
	Caches  *cache.Manager
	Control *telemetry.Engine
	Driver  research.BrowserDriver
	Search  research.SearchProvider
	Logger  *log.Logger
}

// Engine executes research runs.
type Engine struct {
	planner *planner.Planner
	trust   *trust.Engine
	claims  *claims.Graph
	caches  *cache.Manager
	control *telemetry.Engine
	driver  research.BrowserDriver
	search  research.SearchProvider
	logger  *log.Logger
	now     func() time.Time
}

// New validates the dependency set and builds an engine.
func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Planner == nil:
		return nil, fmt.Errorf("engine: planner is required")
	case deps.Trust == nil:
		return nil, fmt.Errorf("engine: trust engine is required")
	case deps.Claims == nil:
		return nil, fmt.Errorf("engine: claim graph is required")
	case deps.Caches == nil:
		return nil, fmt.Errorf("engine: cache manager is required")
	case deps.Control == nil:
		return nil, fmt.Errorf("engine: telemetry engine is required")
	case deps.Driver == nil:
		return nil, fmt.Errorf("engine: browser driver is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[RUNNER] ", log.LstdFlags)
	}
	return &Engine{
		planner: deps.Planner,
		trust:   deps.Trust,
		claims:  deps.Claims,
		caches:  deps.Caches,
		control: deps.Control,
		driver:  deps.Driver,
		search:  deps.Search,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Run takes an objective through plan, execution and report. A structurally
// invalid plan fails the run before any page is visited; recoverable web
// failures during execution flow through telemetry instead. The returned
// report is complete even when the run was stopped early.
func (e *Engine) Run(ctx context.Context, objective research.Objective) (*Report, error) {
	if objective.ID == "" {
		objective.ID = uuid.NewString()
	}
	if objective.CreatedAt.IsZero() {
		objective.CreatedAt = e.now()
	}

	if err := e.control.StartPlanning(); err != nil {
		return nil, err
	}
	plan, err := e.planner.GeneratePlan(ctx, objective)
	if err != nil {
		e.control.Fail("planning", err)
		return nil, fmt.Errorf("generate plan: %w", err)
	}
	if v := planner.ValidatePlan(plan); !v.Valid {
		err := fmt.Errorf("plan rejected: %s", strings.Join(v.Errors, "; "))
		e.control.Fail("planning", err)
		return nil, err
	}

	e.control.SetBudgets(plan.Budgets)
	if err := e.control.StartExecuting(); err != nil {
		return nil, err
	}
	e.logger.Printf("run %s started: %d paths, %d pages budget, %v time budget",
		e.control.Session(), len(plan.Paths), plan.Budgets.MaxPages, plan.Budgets.MaxTime)

	r := newRun(e, plan)
	reason, detail := r.execute(ctx)

	e.control.SetPhase("assembling report")
	var stop research.StopCondition
	if existing, ok := e.control.StopConditionRecord(); ok {
		// An external Stop already emitted the condition; keep it.
		stop = existing
	} else {
		stop = e.control.Stop(reason, detail)
	}

	report := BuildReport(plan, e.claims, e.control.Progress(), stop)
	e.logger.Printf("run %s finished: %s (%s), confidence %.2f, %d pages, %d claims",
		e.control.Session(), stop.Reason, stop.Detail, report.Overall, report.PagesVisited, report.ClaimsFound)
	return report, nil
}
