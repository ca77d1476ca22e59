package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/cache"
	"github.com/scourhq/scour/internal/claims"
	"github.com/scourhq/scour/internal/planner"
	"github.com/scourhq/scour/internal/schema"
	"github.com/scourhq/scour/internal/telemetry"
	"github.com/scourhq/scour/internal/trust"
)

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	trustEngine := trust.NewEngine(logger)
	registry := prometheus.NewRegistry()
	srv, err := New(cfg, Deps{
		Trust:    trustEngine,
		Claims:   claims.NewGraph(logger),
		Caches:   cache.NewManager(cache.DefaultConfig(), logger),
		Planner:  planner.New(trustEngine, schema.Default(), nil, logger),
		Driver:   &fakeDriver{},
		Search:   stubSearch{},
		Metrics:  telemetry.NewMetrics(registry),
		Registry: registry,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func TestNewRequiresCoreDeps(t *testing.T) {
	t.Parallel()
	if _, err := New(testConfig(), Deps{}); err == nil {
		t.Fatal("expected error for missing components")
	}

	logger := log.New(io.Discard, "", 0)
	trustEngine := trust.NewEngine(logger)
	_, err := New(testConfig(), Deps{
		Trust:   trustEngine,
		Claims:  claims.NewGraph(logger),
		Caches:  cache.NewManager(cache.DefaultConfig(), logger),
		Planner: planner.New(trustEngine, schema.Default(), nil, logger),
		Logger:  logger,
	})
	if err == nil {
		t.Fatal("expected error for missing driver and search")
	}
}

func TestServerRoutes(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}

	// No JWT secret configured leaves the API open.
	req = httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec = httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("runs list = %d", rec.Code)
	}
	var runs runListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("runs decode: %v", err)
	}
	if len(runs.Active) != 0 || len(runs.Finished) != 0 {
		t.Fatalf("expected empty registry, got %+v", runs)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/ops/stats", nil)
	rec = httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("ops stats = %d", rec.Code)
	}
}

func TestServerGuardsAPIWithJWT(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Server.JWTSecret = "shared-secret"
	srv := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request = %d, want 401", rec.Code)
	}
	var httpErr HTTPError
	if err := json.Unmarshal(rec.Body.Bytes(), &httpErr); err != nil {
		t.Fatalf("error decode: %v", err)
	}
	if httpErr.Error == "" {
		t.Fatal("expected an error payload from the unified handler")
	}

	// Health and metrics stay open.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz behind auth = %d", rec.Code)
	}

	token, err := SignToken("ops", []byte("shared-secret"), time.Hour)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated request = %d, want 200", rec.Code)
	}
}

func TestServerSchedulerLifecycle(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Scheduler = schedulerObjectives()
	srv := newTestServer(t, cfg)
	if srv.sched == nil {
		t.Fatal("scheduler should be constructed when enabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-srv.sched.Stop:
	default:
		t.Fatal("shutdown should close the scheduler stop channel")
	}
}
