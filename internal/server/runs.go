package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/engine"
	"github.com/scourhq/scour/internal/queue/streams"
	"github.com/scourhq/scour/internal/research"
	"github.com/scourhq/scour/internal/store"
	"github.com/scourhq/scour/internal/telemetry"
)

// errTooManyRuns maps to 429 when the concurrent run cap is hit.
var errTooManyRuns = errors.New("concurrent run limit reached")

// activeRun tracks one research session from submission to archival.
type activeRun struct {
	session   string
	objective research.Objective
	control   *telemetry.Engine
	cancel    context.CancelFunc
	startedAt time.Time
	done      chan struct{}

	// set exactly once, before done closes
	report *engine.Report
	runErr error
}

func (r *activeRun) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// RunsHandler owns the run registry: live runs, a capped history of
// finished ones, and the launch path that wires a fresh engine per run.
type RunsHandler struct {
	cfg    *config.Config
	deps   Deps
	logger *log.Logger

	mu      sync.Mutex
	active  map[string]*activeRun
	history []*activeRun
}

func NewRunsHandler(cfg *config.Config, deps Deps) *RunsHandler {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[RUNS] ", log.LstdFlags)
	}
	return &RunsHandler{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		active: make(map[string]*activeRun),
	}
}

// Register mounts run endpoints under the provided group.
func (h *RunsHandler) Register(g *echo.Group) {
	g.POST("", h.startRun)
	g.GET("", h.listRuns)
	g.GET("/:id", h.getRun)
	g.GET("/:id/progress", h.streamProgress)
	g.GET("/:id/events", h.streamEvents)
	g.POST("/:id/pause", h.pauseRun)
	g.POST("/:id/resume", h.resumeRun)
	g.POST("/:id/stop", h.stopRun)
}

func (h *RunsHandler) startRun(c echo.Context) error {
	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	mode := research.Mode(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = research.Mode(h.cfg.Engine.DefaultMode)
	}
	switch mode {
	case research.ModeFast, research.ModeBalanced, research.ModeDeep:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "mode must be fast, balanced or deep")
	}
	if req.RequiredConfidence < 0 || req.RequiredConfidence > 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "required_confidence must be between 0 and 1")
	}

	objective := research.Objective{
		ID:                 strings.TrimSpace(req.ObjectiveID),
		Query:              strings.TrimSpace(req.Query),
		Context:            req.Context,
		Mode:               mode,
		KnownEntities:      req.KnownEntities,
		KnownDomains:       req.KnownDomains,
		RequiredConfidence: req.RequiredConfidence,
		Constraints: research.Constraints{
			MaxPages: req.MaxPages,
			MaxTime:  time.Duration(req.MaxTimeSeconds) * time.Second,
		},
	}

	run, err := h.Submit(objective)
	if err != nil {
		if errors.Is(err, errTooManyRuns) {
			return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, startRunResponse{
		Session: run.session,
		Status:  string(run.control.Status()),
	})
}

// Submit starts a run for the objective, enforcing the concurrency cap.
// The scheduler uses this path too, so caps apply to standing objectives.
func (h *RunsHandler) Submit(objective research.Objective) (*activeRun, error) {
	h.mu.Lock()
	if max := h.cfg.Engine.MaxConcurrentRuns; max > 0 && len(h.active) >= max {
		h.mu.Unlock()
		return nil, errTooManyRuns
	}

	session := uuid.NewString()
	control := telemetry.NewEngine(session, telemetry.Options{
		EventCapacity: h.cfg.Control.EventCapacity,
		EventMaxAge:   h.cfg.Control.EventMaxAge,
		Metrics:       h.deps.Metrics,
		Logger:        h.logger,
	})
	eng, err := engine.New(engine.Deps{
		Planner: h.deps.Planner,
		Trust:   h.deps.Trust,
		Claims:  h.deps.Claims,
		Caches:  h.deps.Caches,
		Control: control,
		Driver:  h.deps.Driver,
		Search:  h.deps.Search,
		Logger:  h.deps.Logger,
	})
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if t := h.cfg.General.DefaultTimeout; t > 0 {
		ctx, cancel = context.WithTimeout(ctx, t)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	run := &activeRun{
		session:   session,
		objective: objective,
		control:   control,
		cancel:    cancel,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	h.active[session] = run
	h.mu.Unlock()

	if h.deps.Bridge != nil {
		if err := h.deps.Bridge.Announce(ctx, streams.StartPayload{
			Session:            session,
			ObjectiveID:        objective.ID,
			Query:              objective.Query,
			Mode:               string(objective.Mode),
			KnownDomains:       objective.KnownDomains,
			RequiredConfidence: objective.RequiredConfidence,
			StartedAt:          run.startedAt,
		}); err != nil {
			h.logger.Printf("announce %s: %v", session, err)
		}
		go h.deps.Bridge.Mirror(ctx, control)
	}

	go h.execute(ctx, run, eng)
	return run, nil
}

func (h *RunsHandler) execute(ctx context.Context, run *activeRun, eng *engine.Engine) {
	defer run.cancel()
	report, err := eng.Run(ctx, run.objective)

	h.mu.Lock()
	run.report = report
	run.runErr = err
	delete(h.active, run.session)
	h.history = append([]*activeRun{run}, h.history...)
	if limit := h.cfg.Server.RunHistoryLimit; limit > 0 && len(h.history) > limit {
		h.history = h.history[:limit]
	}
	h.mu.Unlock()
	close(run.done)

	h.archive(run)
	// Closing the control engine ends every live SSE subscription; the
	// ring log stays readable for replay on finished runs.
	run.control.Close()
}

// archive persists the finished run to the bridge and the store. Failed
// runs have no report and stay in the in-memory history only.
func (h *RunsHandler) archive(run *activeRun) {
	report := run.report
	if report == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if h.deps.Bridge != nil {
		if err := h.deps.Bridge.Complete(ctx, streams.RunSummary{
			Session:       report.Session,
			PlanID:        report.PlanID,
			ObjectiveID:   report.ObjectiveID,
			Reason:        string(report.Stop.Reason),
			Detail:        report.Stop.Detail,
			Confidence:    report.Overall,
			PagesVisited:  report.PagesVisited,
			ClaimsFound:   report.ClaimsFound,
			Verifications: report.Verifications,
			ElapsedMS:     report.Elapsed.Milliseconds(),
		}); err != nil {
			h.logger.Printf("bridge complete %s: %v", report.Session, err)
		}
	}

	if h.deps.Store == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		h.logger.Printf("marshal report %s: %v", report.Session, err)
		return
	}
	rec := store.RunRecord{
		Session:       report.Session,
		ObjectiveID:   report.ObjectiveID,
		PlanID:        report.PlanID,
		Query:         run.objective.Query,
		Mode:          string(report.Mode),
		Status:        string(run.control.Status()),
		StopReason:    string(report.Stop.Reason),
		Confidence:    report.Overall,
		PagesVisited:  report.PagesVisited,
		ClaimsFound:   report.ClaimsFound,
		Verifications: report.Verifications,
		KnownDomains:  run.objective.KnownDomains,
		Report:        payload,
		StartedAt:     run.startedAt,
		FinishedAt:    report.GeneratedAt,
	}
	if err := h.deps.Store.SaveRun(ctx, rec); err != nil {
		h.logger.Printf("archive run %s: %v", report.Session, err)
		return
	}
	if err := h.deps.Store.RecordStopCondition(ctx, report.Session, report.Stop); err != nil {
		h.logger.Printf("archive stop condition %s: %v", report.Session, err)
	}
}

// find returns a live or recently finished run, nil when unknown.
func (h *RunsHandler) find(session string) *activeRun {
	h.mu.Lock()
	defer h.mu.Unlock()
	if run, ok := h.active[session]; ok {
		return run
	}
	for _, run := range h.history {
		if run.session == session {
			return run
		}
	}
	return nil
}

// hasActiveObjective reports whether a live run carries the objective ID.
func (h *RunsHandler) hasActiveObjective(objectiveID string) bool {
	if objectiveID == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, run := range h.active {
		if run.objective.ID == objectiveID {
			return true
		}
	}
	return false
}

func (h *RunsHandler) listRuns(c echo.Context) error {
	h.mu.Lock()
	resp := runListResponse{
		Active:   make([]runListItem, 0, len(h.active)),
		Finished: make([]runListItem, 0, len(h.history)),
	}
	for _, run := range h.active {
		resp.Active = append(resp.Active, h.listItemLocked(run))
	}
	for _, run := range h.history {
		resp.Finished = append(resp.Finished, h.listItemLocked(run))
	}
	h.mu.Unlock()
	return c.JSON(http.StatusOK, resp)
}

func (h *RunsHandler) listItemLocked(run *activeRun) runListItem {
	item := runListItem{
		Session:   run.session,
		Query:     run.objective.Query,
		Mode:      string(run.objective.Mode),
		Status:    string(run.control.Status()),
		StartedAt: run.startedAt,
	}
	if run.report != nil {
		item.Confidence = run.report.Overall
	} else {
		item.Confidence = run.control.Progress().Confidence
	}
	return item
}

func (h *RunsHandler) getRun(c echo.Context) error {
	session := c.Param("id")
	if run := h.find(session); run != nil {
		// report and runErr are written under the registry lock.
		h.mu.Lock()
		report := run.report
		runErr := run.runErr
		h.mu.Unlock()

		resp := runSnapshotResponse{
			Session: run.session,
			Status:  string(run.control.Status()),
			Query:   run.objective.Query,
		}
		progress := run.control.Progress()
		resp.Progress = &progress
		if report != nil {
			payload, err := json.Marshal(report)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
			}
			resp.Report = payload
		}
		if runErr != nil {
			resp.Error = runErr.Error()
		}
		return c.JSON(http.StatusOK, resp)
	}

	// Fall back to the archive for sessions that aged out of history.
	if h.deps.Store != nil {
		rec, err := h.deps.Store.GetRun(c.Request().Context(), session)
		if err == nil {
			return c.JSON(http.StatusOK, runSnapshotResponse{
				Session:  rec.Session,
				Status:   rec.Status,
				Query:    rec.Query,
				Report:   rec.Report,
				Archived: true,
			})
		}
		if !errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "run not found")
}

func (h *RunsHandler) pauseRun(c echo.Context) error {
	run := h.find(c.Param("id"))
	if run == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err := run.control.Pause(); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, run.control.Progress())
}

func (h *RunsHandler) resumeRun(c echo.Context) error {
	run := h.find(c.Param("id"))
	if run == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err := run.control.Resume(); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, run.control.Progress())
}

func (h *RunsHandler) stopRun(c echo.Context) error {
	run := h.find(c.Param("id"))
	if run == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	var req stopRunRequest
	_ = c.Bind(&req)
	detail := strings.TrimSpace(req.Detail)
	if detail == "" {
		detail = "stop requested via api"
	}
	stop := run.control.Stop(research.StopUserRequested, detail)
	return c.JSON(http.StatusOK, stop)
}

// streamProgress pushes progress snapshots as SSE "update" events until
// the run finishes or the client disconnects. The configured interval acts
// as a heartbeat when nothing changes.
func (h *RunsHandler) streamProgress(c echo.Context) error {
	run := h.find(c.Param("id"))
	if run == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	send := func(p telemetry.ProgressState) error {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if _, err := resp.Write([]byte("event: update\n")); err != nil {
			return err
		}
		if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := send(run.control.Progress()); err != nil {
		return nil
	}
	if run.finished() {
		return nil
	}

	sub, cancelSub := run.control.SubscribeProgress()
	defer cancelSub()

	interval := h.cfg.Server.ProgressInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-run.done:
			_ = send(run.control.Progress())
			return nil
		case p, ok := <-sub:
			if !ok {
				_ = send(run.control.Progress())
				return nil
			}
			if err := send(p); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := send(run.control.Progress()); err != nil {
				return nil
			}
		}
	}
}

// streamEvents replays the buffered event log and then follows the live
// feed. Finished runs get the replay only.
func (h *RunsHandler) streamEvents(c echo.Context) error {
	run := h.find(c.Param("id"))
	if run == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	send := func(ev telemetry.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := resp.Write([]byte("event: " + string(ev.Type) + "\n")); err != nil {
			return err
		}
		if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	// Subscribe before replaying so nothing falls between; replayed IDs
	// are remembered to drop the overlap from the live feed.
	sub, cancelSub := run.control.SubscribeEvents()
	defer cancelSub()

	replayed := make(map[string]bool)
	for _, ev := range run.control.Events() {
		replayed[ev.ID] = true
		if err := send(ev); err != nil {
			return nil
		}
	}
	if run.finished() {
		return nil
	}

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			if replayed[ev.ID] {
				continue
			}
			if err := send(ev); err != nil {
				return nil
			}
		}
	}
}

func parseLimit(c echo.Context, def int) int {
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}
