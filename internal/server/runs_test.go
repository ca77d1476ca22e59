package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/cache"
	"github.com/scourhq/scour/internal/claims"
	"github.com/scourhq/scour/internal/helpers"
	"github.com/scourhq/scour/internal/planner"
	"github.com/scourhq/scour/internal/research"
	"github.com/scourhq/scour/internal/schema"
	"github.com/scourhq/scour/internal/store"
	"github.com/scourhq/scour/internal/telemetry"
	"github.com/scourhq/scour/internal/trust"
)

// fakeDriver answers every navigation with a deterministic page and every
// general-facts extraction with one corroborable fact, so runs finish
// without a browser.
type fakeDriver struct {
	delay time.Duration
}

func (d *fakeDriver) Navigate(ctx context.Context, target string) (*research.PageContent, error) {
	if d.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.delay):
		}
	}
	return &research.PageContent{
		URL:         target,
		FinalURL:    target,
		Title:       target,
		Text:        "Published 2026. " + strings.Repeat("detail ", 120),
		StatusCode:  200,
		FetchedAt:   time.Now(),
		LoadTime:    time.Millisecond,
		WordCount:   600,
		ContentHash: helpers.Fingerprint(target),
	}, nil
}

func (d *fakeDriver) Extract(_ context.Context, page *research.PageContent, s research.ExtractionSchema) ([]research.ExtractionResult, error) {
	if s.Name != "general_facts" {
		return nil, nil
	}
	return []research.ExtractionResult{{
		SchemaName: s.Name,
		Data: map[string]research.Value{
			"subject": research.Text("Initech headquarters"),
			"fact":    research.Text("the company is based in Austin"),
		},
		Confidence:  0.9,
		SourceURL:   page.URL,
		Timestamp:   time.Now(),
		ContentHash: helpers.Fingerprint("initech hq fact"),
	}}, nil
}

type stubSearch struct{}

func (stubSearch) Search(context.Context, string, int) ([]research.SearchResult, error) {
	return nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		General: config.GeneralConfig{DefaultTimeout: time.Minute},
		Server: config.ServerConfig{
			Address:          ":0",
			ProgressInterval: 5 * time.Millisecond,
			RunHistoryLimit:  8,
		},
		Engine: config.EngineConfig{DefaultMode: "balanced", MaxConcurrentRuns: 4},
	}
}

func newTestHandler(t *testing.T, driver research.BrowserDriver) *RunsHandler {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	trustEngine := trust.NewEngine(logger)
	return NewRunsHandler(testConfig(), Deps{
		Trust:   trustEngine,
		Claims:  claims.NewGraph(logger),
		Caches:  cache.NewManager(cache.DefaultConfig(), logger),
		Planner: planner.New(trustEngine, schema.Default(), nil, logger),
		Driver:  driver,
		Search:  stubSearch{},
		Logger:  logger,
	})
}

func fastObjective() research.Objective {
	return research.Objective{
		Query:        "Where is Initech headquartered?",
		Mode:         research.ModeBalanced,
		KnownDomains: []string{"github.com", "crunchbase.com", "linkedin.com"},
	}
}

func slowObjective() research.Objective {
	domains := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		domains = append(domains, fmt.Sprintf("slow%02d.example", i))
	}
	return research.Objective{
		Query:              "Where is Initech headquartered?",
		Mode:               research.ModeBalanced,
		KnownDomains:       domains,
		RequiredConfidence: 0.9,
		Constraints:        research.Constraints{MaxPages: 50},
	}
}

func waitDone(t *testing.T, run *activeRun) {
	t.Helper()
	select {
	case <-run.done:
	case <-time.After(15 * time.Second):
		t.Fatal("run did not finish")
	}
}

func waitPagesVisited(t *testing.T, run *activeRun, n int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for run.control.Progress().PagesVisited < n {
		if time.Now().After(deadline) {
			t.Fatalf("run never visited %d pages", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func submitAndWait(t *testing.T, h *RunsHandler) *activeRun {
	t.Helper()
	run, err := h.Submit(fastObjective())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, run)
	return run
}

func TestStartRunValidatesRequest(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, &fakeDriver{})
	e := echo.New()

	cases := []struct {
		name string
		body string
	}{
		{"empty query", `{}`},
		{"unknown mode", `{"query":"q","mode":"warp"}`},
		{"confidence out of range", `{"query":"q","required_confidence":1.5}`},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(tc.body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		err := h.startRun(e.NewContext(req, rec))
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		httpErr, ok := err.(*echo.HTTPError)
		if !ok || httpErr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 http error, got %#v", tc.name, err)
		}
	}
}

func TestStartRunLifecycle(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, &fakeDriver{})
	e := echo.New()

	body := `{"query":"Where is Initech headquartered?","known_domains":["github.com","crunchbase.com","linkedin.com"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.startRun(e.NewContext(req, rec)); err != nil {
		t.Fatalf("startRun: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var resp startRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response decode: %v", err)
	}
	if resp.Session == "" {
		t.Fatal("expected a session id")
	}

	run := h.find(resp.Session)
	if run == nil {
		t.Fatalf("session %s not registered", resp.Session)
	}
	waitDone(t, run)

	req = httptest.NewRequest(http.MethodGet, "/api/runs/"+resp.Session, nil)
	rec = httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues(resp.Session)
	if err := h.getRun(ctx); err != nil {
		t.Fatalf("getRun: %v", err)
	}
	var snap runSnapshotResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("snapshot decode: %v", err)
	}
	if snap.Status != string(telemetry.StatusCompleted) {
		t.Fatalf("status = %s, want completed", snap.Status)
	}
	if len(snap.Report) == 0 {
		t.Fatal("expected a report payload")
	}
	var report struct {
		Overall float64 `json:"overall_confidence"`
		Stop    research.StopCondition
	}
	if err := json.Unmarshal(snap.Report, &report); err != nil {
		t.Fatalf("report decode: %v", err)
	}
	if report.Overall <= 0 {
		t.Fatalf("overall confidence = %v, want positive", report.Overall)
	}
}

func TestStartRunEnforcesConcurrencyCap(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, &fakeDriver{delay: 30 * time.Millisecond})
	h.cfg.Engine.MaxConcurrentRuns = 1

	first, err := h.Submit(slowObjective())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	defer func() {
		first.control.Stop(research.StopUserRequested, "test cleanup")
		waitDone(t, first)
	}()

	if _, err := h.Submit(slowObjective()); err != errTooManyRuns {
		t.Fatalf("second submit error = %v, want errTooManyRuns", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"query":"q"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	err = h.startRun(e.NewContext(req, rec))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 http error, got %#v", err)
	}
}

func TestPauseResumeStopFlow(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, &fakeDriver{delay: 30 * time.Millisecond})
	run, err := h.Submit(slowObjective())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitPagesVisited(t, run, 1)

	e := echo.New()
	call := func(handler echo.HandlerFunc, action string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/runs/"+run.session+"/"+action, nil)
		rec := httptest.NewRecorder()
		ctx := e.NewContext(req, rec)
		ctx.SetParamNames("id")
		ctx.SetParamValues(run.session)
		if err := handler(ctx); err != nil {
			t.Fatalf("%s: %v", action, err)
		}
		return rec
	}

	rec := call(h.pauseRun, "pause")
	var progress telemetry.ProgressState
	if err := json.Unmarshal(rec.Body.Bytes(), &progress); err != nil {
		t.Fatalf("progress decode: %v", err)
	}
	if progress.Status != telemetry.StatusPaused {
		t.Fatalf("status after pause = %s, want paused", progress.Status)
	}

	// Pausing twice conflicts.
	req := httptest.NewRequest(http.MethodPost, "/api/runs/"+run.session+"/pause", nil)
	ctx := e.NewContext(req, httptest.NewRecorder())
	ctx.SetParamNames("id")
	ctx.SetParamValues(run.session)
	err = h.pauseRun(ctx)
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double pause, got %#v", err)
	}

	call(h.resumeRun, "resume")

	rec = call(h.stopRun, "stop")
	var stop research.StopCondition
	if err := json.Unmarshal(rec.Body.Bytes(), &stop); err != nil {
		t.Fatalf("stop decode: %v", err)
	}
	if stop.Reason != research.StopUserRequested {
		t.Fatalf("stop reason = %s, want %s", stop.Reason, research.StopUserRequested)
	}
	waitDone(t, run)

	if run.report == nil || run.report.Stop.Reason != research.StopUserRequested {
		t.Fatalf("report should carry the user stop, got %+v", run.report)
	}
}

func TestGetRunUnknownSession(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, &fakeDriver{})
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/runs/sess-missing", nil)
	ctx := e.NewContext(req, httptest.NewRecorder())
	ctx.SetParamNames("id")
	ctx.SetParamValues("sess-missing")
	err := h.getRun(ctx)
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 http error, got %#v", err)
	}
}

func TestGetRunFallsBackToArchive(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := newTestHandler(t, &fakeDriver{})
	h.deps.Store = &store.Store{DB: db}

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"session", "objective_id", "plan_id", "query", "mode", "status", "stop_reason",
		"confidence", "pages_visited", "claims_found", "verifications", "known_domains",
		"report", "started_at", "finished_at", "created_at",
	}).AddRow("sess-old", "obj-1", "plan-1", "old query", "fast", "completed", "confidence_reached",
		0.8, 5, 3, 2, "{}", []byte(`{"session":"sess-old"}`), now, now, now)
	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT session, objective_id, plan_id, query, mode, status, stop_reason, confidence, pages_visited, claims_found, verifications, known_domains, report, started_at, finished_at, created_at
FROM runs
WHERE session=$1
`)).WithArgs("sess-old").WillReturnRows(rows)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/runs/sess-old", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("sess-old")
	if err := h.getRun(ctx); err != nil {
		t.Fatalf("getRun: %v", err)
	}
	var snap runSnapshotResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("snapshot decode: %v", err)
	}
	if !snap.Archived || snap.Session != "sess-old" || snap.Query != "old query" {
		t.Fatalf("unexpected archived snapshot: %+v", snap)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestArchiveWritesRunAndStopCondition(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO stop_conditions").WillReturnResult(sqlmock.NewResult(1, 1))

	h := newTestHandler(t, &fakeDriver{})
	h.deps.Store = &store.Store{DB: db}
	submitAndWait(t, h)

	// The archive write happens after done closes; give it a moment.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := mock.ExpectationsWereMet(); err == nil {
			break
		} else if time.Now().After(deadline) {
			t.Fatalf("expectations: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestListRunsSeparatesActiveAndFinished(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, &fakeDriver{delay: 30 * time.Millisecond})
	finished, err := h.Submit(fastObjective())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, finished)

	active, err := h.Submit(slowObjective())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	defer func() {
		active.control.Stop(research.StopUserRequested, "test cleanup")
		waitDone(t, active)
	}()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()
	if err := h.listRuns(e.NewContext(req, rec)); err != nil {
		t.Fatalf("listRuns: %v", err)
	}
	var resp runListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("list decode: %v", err)
	}
	if len(resp.Active) != 1 || resp.Active[0].Session != active.session {
		t.Fatalf("unexpected active list: %+v", resp.Active)
	}
	if len(resp.Finished) != 1 || resp.Finished[0].Session != finished.session {
		t.Fatalf("unexpected finished list: %+v", resp.Finished)
	}
	if resp.Finished[0].Confidence <= 0 {
		t.Fatalf("finished run should report confidence, got %v", resp.Finished[0].Confidence)
	}
}

func TestRunHistoryTrimsToLimit(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, &fakeDriver{})
	h.cfg.Server.RunHistoryLimit = 2

	sessions := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		run := submitAndWait(t, h)
		sessions = append(sessions, run.session)
	}

	if _, finished := h.counts(); finished != 2 {
		t.Fatalf("history length = %d, want 2", finished)
	}
	if h.find(sessions[0]) != nil {
		t.Fatalf("oldest session %s should have aged out", sessions[0])
	}
	if h.find(sessions[2]) == nil {
		t.Fatalf("newest session %s should remain", sessions[2])
	}
}

func TestStreamEventsReplaysFinishedRun(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, &fakeDriver{})
	run := submitAndWait(t, h)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+run.session+"/events", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues(run.session)
	if err := h.streamEvents(ctx); err != nil {
		t.Fatalf("streamEvents: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: "+string(telemetry.EventPageLoad)) {
		t.Fatalf("replay missing page_load events:\n%s", body)
	}
	if !strings.Contains(body, "event: "+string(telemetry.EventStopCondition)) {
		t.Fatalf("replay missing the stop condition:\n%s", body)
	}
}

func TestStreamProgressFinishedRunSendsFinalSnapshot(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, &fakeDriver{})
	run := submitAndWait(t, h)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+run.session+"/progress", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues(run.session)
	if err := h.streamProgress(ctx); err != nil {
		t.Fatalf("streamProgress: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: update") {
		t.Fatalf("expected an update frame:\n%s", body)
	}
	if !strings.Contains(body, `"status":"completed"`) {
		t.Fatalf("expected a completed status frame:\n%s", body)
	}
}
