package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/cache"
	"github.com/scourhq/scour/internal/claims"
	"github.com/scourhq/scour/internal/planner"
	"github.com/scourhq/scour/internal/queue/streams"
	"github.com/scourhq/scour/internal/research"
	"github.com/scourhq/scour/internal/store"
	"github.com/scourhq/scour/internal/telemetry"
	"github.com/scourhq/scour/internal/trust"
)

// Deps carries the long-lived components every run shares. Trust, claims,
// caches and planner are required; the rest degrade gracefully when nil
// (no archive, no stream mirror, default metrics).
type Deps struct {
	Trust    *trust.Engine
	Claims   *claims.Graph
	Caches   *cache.Manager
	Planner  *planner.Planner
	Driver   research.BrowserDriver
	Search   research.SearchProvider
	Metrics  *telemetry.Metrics
	Registry *prometheus.Registry
	Store    *store.Store
	Bridge   *streams.Bridge
	Logger   *log.Logger
}

// Server hosts the research API, the SSE feeds and the standing-objective
// scheduler.
type Server struct {
	cfg   *config.Config
	echo  *echo.Echo
	runs  *RunsHandler
	sched *Scheduler
}

func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Trust == nil || deps.Claims == nil || deps.Caches == nil || deps.Planner == nil {
		return nil, fmt.Errorf("server: trust, claims, caches and planner are required")
	}
	if deps.Driver == nil || deps.Search == nil {
		return nil, fmt.Errorf("server: browser driver and search provider are required")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	origins := cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	if deps.Registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	} else {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	runs := NewRunsHandler(cfg, deps)

	api := e.Group("/api")
	if cfg.Server.JWTSecret != "" || cfg.Server.APIKeyHash != "" {
		api.Use(withAuth([]byte(cfg.Server.JWTSecret), cfg.Server.APIKeyHash))
	}
	runs.Register(api.Group("/runs"))
	NewClaimsHandler(deps.Claims).Register(api.Group("/claims"))
	NewStateHandler(deps.Trust, deps.Claims, deps.Caches, deps.Store, deps.Logger).Register(api.Group("/state"))
	NewOpsHandler(runs, deps.Trust, deps.Claims, deps.Caches).Register(api.Group("/ops"))

	srv := &Server{cfg: cfg, echo: e, runs: runs}
	if cfg.Scheduler.Enabled {
		srv.sched = NewScheduler(cfg, runs, deps.Store, deps.Trust, deps.Claims, deps.Logger)
	}
	return srv, nil
}

// Start launches the scheduler, then serves until the listener fails or
// Shutdown is called.
func (s *Server) Start() error {
	if s.sched != nil {
		s.sched.Start()
	}
	log.Printf("listening on %s", s.cfg.Server.Address)
	return s.echo.Start(s.cfg.Server.Address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.sched != nil {
		close(s.sched.Stop)
	}
	return s.echo.Shutdown(ctx)
}
