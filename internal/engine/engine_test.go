package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scourhq/scour/internal/cache"
	"github.com/scourhq/scour/internal/claims"
	"github.com/scourhq/scour/internal/helpers"
	"github.com/scourhq/scour/internal/planner"
	"github.com/scourhq/scour/internal/research"
	"github.com/scourhq/scour/internal/schema"
	"github.com/scourhq/scour/internal/telemetry"
	"github.com/scourhq/scour/internal/trust"
)

// fakeDriver serves deterministic pages and extraction payloads so runs
// complete without a browser.
type fakeDriver struct {
	mu      sync.Mutex
	delay   time.Duration
	visits  []string
	extract func(url string, s research.ExtractionSchema) []research.ExtractionResult
}

func (d *fakeDriver) Navigate(ctx context.Context, target string) (*research.PageContent, error) {
	if d.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.delay):
		}
	}
	d.mu.Lock()
	d.visits = append(d.visits, target)
	d.mu.Unlock()
	return &research.PageContent{
		URL:         target,
		FinalURL:    target,
		Title:       target,
		Text:        "Published 2026. " + strings.Repeat("detail ", 120),
		StatusCode:  200,
		FetchedAt:   time.Now(),
		LoadTime:    2 * time.Millisecond,
		WordCount:   600,
		ContentHash: helpers.Fingerprint(target),
	}, nil
}

func (d *fakeDriver) Extract(_ context.Context, page *research.PageContent, s research.ExtractionSchema) ([]research.ExtractionResult, error) {
	if d.extract == nil {
		return nil, nil
	}
	return d.extract(page.URL, s), nil
}

func (d *fakeDriver) visitCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.visits)
}

func generalFactPayload(url string, s research.ExtractionSchema) []research.ExtractionResult {
	if s.Name != "general_facts" {
		return nil
	}
	return []research.ExtractionResult{{
		SchemaName: s.Name,
		Data: map[string]research.Value{
			"subject": research.Text("Initech logo"),
			"fact":    research.Text("the logo is a deep shade of purple"),
		},
		Confidence:  0.9,
		SourceURL:   url,
		Timestamp:   time.Now(),
		ContentHash: helpers.Fingerprint("initech logo fact"),
	}}
}

func newTestEngine(t *testing.T, driver research.BrowserDriver) (*Engine, *telemetry.Engine) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	trustEngine := trust.NewEngine(logger)
	graph := claims.NewGraph(logger)
	caches := cache.NewManager(cache.DefaultConfig(), logger)
	control := telemetry.NewEngine("session-"+t.Name(), telemetry.Options{Logger: logger})
	plnr := planner.New(trustEngine, schema.Default(), nil, logger)

	eng, err := New(Deps{
		Planner: plnr,
		Trust:   trustEngine,
		Claims:  graph,
		Caches:  caches,
		Control: control,
		Driver:  driver,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng, control
}

func TestRunStopsWhenConfidenceReached(t *testing.T) {
	t.Parallel()
	driver := &fakeDriver{extract: generalFactPayload}
	eng, control := newTestEngine(t, driver)

	report, err := eng.Run(context.Background(), research.Objective{
		Query:        "What color is the Initech logo?",
		Mode:         research.ModeBalanced,
		KnownDomains: []string{"github.com", "crunchbase.com", "linkedin.com"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Stop.Reason != research.StopConfidenceReached {
		t.Fatalf("stop reason = %s (%s), want %s", report.Stop.Reason, report.Stop.Detail, research.StopConfidenceReached)
	}
	if control.Status() != telemetry.StatusCompleted {
		t.Fatalf("status = %s, want completed", control.Status())
	}
	if report.PagesVisited < 2 {
		t.Fatalf("expected at least 2 pages before the threshold, got %d", report.PagesVisited)
	}
	if len(report.Answers) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(report.Answers))
	}
	answer := report.Answers[0]
	if answer.Level != claims.LevelVerified {
		t.Fatalf("answer level = %s (score %.2f), want verified", answer.Level, answer.Score)
	}
	if !answer.Satisfied {
		t.Fatalf("answer should satisfy the threshold, score %.2f", answer.Score)
	}
	if report.Overall < 0.75 {
		t.Fatalf("overall confidence %.2f below threshold", report.Overall)
	}
}

func TestRunRespectsPageBudget(t *testing.T) {
	t.Parallel()
	driver := &fakeDriver{extract: generalFactPayload}
	eng, _ := newTestEngine(t, driver)

	report, err := eng.Run(context.Background(), research.Objective{
		Query:              "What color is the Initech logo?",
		Mode:               research.ModeBalanced,
		KnownDomains:       []string{"github.com", "crunchbase.com", "linkedin.com"},
		RequiredConfidence: 0.9,
		Constraints:        research.Constraints{MaxPages: 1},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Stop.Reason != research.StopBudgetExhausted {
		t.Fatalf("stop reason = %s (%s), want %s", report.Stop.Reason, report.Stop.Detail, research.StopBudgetExhausted)
	}
	if report.PagesVisited != 1 {
		t.Fatalf("pages visited = %d, want exactly 1", report.PagesVisited)
	}
}

func TestRunStopsOnMarginalGain(t *testing.T) {
	t.Parallel()
	driver := &fakeDriver{extract: generalFactPayload}
	eng, _ := newTestEngine(t, driver)

	domains := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		domains = append(domains, fmt.Sprintf("source%02d.example", i))
	}
	report, err := eng.Run(context.Background(), research.Objective{
		Query:              "What color is the Initech logo?",
		Mode:               research.ModeBalanced,
		KnownDomains:       domains,
		RequiredConfidence: 0.9,
		Constraints:        research.Constraints{MaxPages: 50},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Stop.Reason != research.StopMarginalGain {
		t.Fatalf("stop reason = %s (%s), want %s", report.Stop.Reason, report.Stop.Detail, research.StopMarginalGain)
	}
	if driver.visitCount() >= 20 {
		t.Fatalf("marginal stop should cut the run short, visited %d pages", driver.visitCount())
	}
}

func TestRunFailsOnInvalidPlan(t *testing.T) {
	t.Parallel()
	driver := &fakeDriver{extract: generalFactPayload}
	eng, control := newTestEngine(t, driver)

	_, err := eng.Run(context.Background(), research.Objective{
		Query:       "What color is the Initech logo?",
		Mode:        research.ModeBalanced,
		Constraints: research.Constraints{AllowedTiers: []research.Tier{research.TierOfficial}},
	})
	if err == nil {
		t.Fatal("expected error for a plan with no usable domains")
	}
	if !strings.Contains(err.Error(), "plan rejected") {
		t.Fatalf("error %q should mention plan rejection", err)
	}
	if control.Status() != telemetry.StatusFailed {
		t.Fatalf("status = %s, want failed", control.Status())
	}
}

func TestRunHonorsExternalStop(t *testing.T) {
	t.Parallel()
	driver := &fakeDriver{delay: 30 * time.Millisecond, extract: generalFactPayload}
	eng, control := newTestEngine(t, driver)

	domains := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		domains = append(domains, fmt.Sprintf("slow%02d.example", i))
	}

	type outcome struct {
		report *Report
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		report, err := eng.Run(context.Background(), research.Objective{
			Query:              "What color is the Initech logo?",
			Mode:               research.ModeBalanced,
			KnownDomains:       domains,
			RequiredConfidence: 0.9,
			Constraints:        research.Constraints{MaxPages: 50},
		})
		done <- outcome{report, err}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for control.Progress().PagesVisited < 1 {
		if time.Now().After(deadline) {
			t.Fatal("run never visited a page")
		}
		time.Sleep(5 * time.Millisecond)
	}
	control.Stop(research.StopUserRequested, "operator request")

	var got outcome
	select {
	case got = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("run did not unwind after stop")
	}
	if got.err != nil {
		t.Fatalf("Run: %v", got.err)
	}
	if got.report.Stop.Reason != research.StopUserRequested {
		t.Fatalf("stop reason = %s, want %s", got.report.Stop.Reason, research.StopUserRequested)
	}
	if control.Status() != telemetry.StatusCompleted {
		t.Fatalf("status = %s, want completed", control.Status())
	}

	stopEvents := 0
	for _, ev := range control.Events() {
		if ev.Type == telemetry.EventStopCondition {
			stopEvents++
		}
	}
	if stopEvents != 1 {
		t.Fatalf("expected exactly one stop condition event, got %d", stopEvents)
	}
}

func TestBuildReport(t *testing.T) {
	t.Parallel()
	logger := log.New(io.Discard, "", 0)
	graph := claims.NewGraph(logger)
	graph.CreateClaim("fact", research.Text("purple"), claims.Source{
		URL:    "https://github.com/initech",
		Domain: "github.com",
		Tier:   research.TierOfficial,
	}, "q1", research.CategoryGeneral)

	plan := &research.Plan{
		ID:                  "plan-1",
		Objective:           "logo color",
		Mode:                research.ModeFast,
		ConfidenceThreshold: 0.6,
		Questions: []research.PrimaryQuestion{
			{ID: "q1", Text: "What color is the logo?", Category: research.CategoryGeneral},
			{ID: "q2", Text: "Who designed it?", Category: research.CategoryGeneral},
		},
	}
	progress := telemetry.ProgressState{Session: "s1", PagesVisited: 4, ClaimsFound: 1}
	stop := research.StopCondition{Reason: research.StopPathsExhausted, Confidence: 0.7}

	report := BuildReport(plan, graph, progress, stop)
	if len(report.Answers) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(report.Answers))
	}
	if report.Answers[0].QuestionID != "q1" || !report.Answers[0].Satisfied {
		t.Fatalf("unexpected answer: %+v", report.Answers[0])
	}
	if len(report.Unanswered) != 1 || report.Unanswered[0] != "Who designed it?" {
		t.Fatalf("unexpected unanswered list: %v", report.Unanswered)
	}
	if report.PagesVisited != 4 || report.Session != "s1" {
		t.Fatalf("progress fields not carried: %+v", report)
	}
}
