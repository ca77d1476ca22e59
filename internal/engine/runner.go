package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scourhq/scour/internal/claims"
	"github.com/scourhq/scour/internal/helpers"
	"github.com/scourhq/scour/internal/research"
	"github.com/scourhq/scour/internal/telemetry"
	"github.com/scourhq/scour/internal/trust"
)

const (
	// pausePollInterval is how often an idled path re-checks control state.
	pausePollInterval = 50 * time.Millisecond

	// searchResultLimit bounds how many search hits expand a path's targets.
	searchResultLimit = 3

	// marginalGainMinPages is the page count before the marginal-gain floor
	// applies; early pages always carry large gains.
	marginalGainMinPages = 8

	// marginalGainWindow is how many consecutive low-gain pages trip the
	// marginal-gain stop.
	marginalGainWindow = 5

	// pageCostUnits and extractionCostUnits charge the cost budget.
	pageCostUnits       = 1.0
	extractionCostUnits = 0.25

	// domainMapURLLimit caps how many page links feed the domain map.
	domainMapURLLimit = 10
)

// run is the mutable state of one executing plan. The plan itself is guarded
// by planMu since paths complete concurrently and every completion may
// re-sort it.
type run struct {
	engine *Engine
	plan   *research.Plan
	planMu sync.Mutex

	questions map[string]research.PrimaryQuestion
	budget    *budgetTracker

	mu         sync.Mutex
	stopReason research.StopReason
	stopDetail string
}

func newRun(e *Engine, plan *research.Plan) *run {
	questions := make(map[string]research.PrimaryQuestion, len(plan.Questions))
	for _, q := range plan.Questions {
		questions[q.ID] = q
	}
	return &run{
		engine:    e,
		plan:      plan,
		questions: questions,
		budget:    newBudgetTracker(plan.Budgets, e.now()),
	}
}

// pathSnapshot is the immutable slice of plan state one worker needs, taken
// under planMu so workers never read the re-sorting path list.
type pathSnapshot struct {
	id          string
	goal        string
	targets     []string
	questionIDs []string
}

// execute dispatches pending paths into a bounded worker group until the
// paths run out or a stop cause fires, then reports why the run ended.
func (r *run) execute(ctx context.Context) (research.StopReason, string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.plan.Budgets.MaxConcurrency)
	r.engine.control.SetPhase("visiting sources")

	for {
		if gctx.Err() != nil {
			r.setStop(research.StopUserRequested, "context cancelled")
			break
		}
		if r.engine.control.HasPendingStop() || r.stopped() {
			break
		}
		if r.budget.timeExpired() {
			r.setStop(research.StopBudgetExhausted, "time budget exhausted")
			break
		}
		snap := r.claimNextPath()
		if snap == nil {
			break
		}
		g.Go(func() error {
			r.runPath(gctx, snap)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.engine.control.RecordError("path group", err)
	}

	reason, detail := r.stopCause()
	if reason == "" {
		reason, detail = research.StopPathsExhausted, "all execution paths completed"
	}
	return reason, detail
}

// claimNextPath pops the highest-priority pending path and marks it active.
// Paths whose questions are already satisfied are closed out instead of
// dispatched.
func (r *run) claimNextPath() *pathSnapshot {
	perQuestion := r.questionConfidences()

	r.planMu.Lock()
	defer r.planMu.Unlock()
	for i := range r.plan.Paths {
		p := &r.plan.Paths[i]
		if p.Status != research.PathPending {
			continue
		}
		if r.satisfied(p.QuestionIDs, perQuestion) {
			p.Status = research.PathTerminated
			r.engine.control.RecordPathTerminated(p.ID, "questions already satisfied")
			continue
		}
		p.Status = research.PathActive
		return &pathSnapshot{
			id:          p.ID,
			goal:        p.Goal,
			targets:     append([]string(nil), p.SeedURLs...),
			questionIDs: append([]string(nil), p.QuestionIDs...),
		}
	}
	return nil
}

// runPath walks one path's targets through the navigate→extract→verify
// loop, consulting control and budgets between steps.
func (r *run) runPath(ctx context.Context, snap *pathSnapshot) {
	ctl := r.engine.control
	ctl.PathStarted(snap.id)

	targets := r.expandTargets(ctx, snap)
	terminated := ""
	for _, target := range targets {
		if !r.pauseGate(ctx) {
			terminated = "stop requested"
			break
		}
		if r.budget.timeExpired() {
			r.setStop(research.StopBudgetExhausted, "time budget exhausted")
			terminated = "time budget exhausted"
			break
		}
		if r.budget.marginalStalled() {
			r.setStop(research.StopMarginalGain, "confidence gain below the marginal floor")
			terminated = "marginal gain floor reached"
			break
		}
		if r.stopped() {
			terminated = "run stopping"
			break
		}
		if !r.budget.allowPage() {
			r.setStop(research.StopBudgetExhausted, "page budget exhausted")
			terminated = "page budget exhausted"
			break
		}
		r.visitTarget(ctx, target, snap.questionIDs)
	}

	if terminated != "" {
		r.setPathStatus(snap.id, research.PathTerminated)
	} else {
		r.setPathStatus(snap.id, research.PathCompleted)
	}
	ctl.RecordPathTerminated(snap.id, terminatedOr(terminated, "completed"))

	r.afterPath(snap.id)
}

// expandTargets augments the path's seed URLs with memoized search hits for
// its goal. Search failures are recoverable telemetry, never fatal.
func (r *run) expandTargets(ctx context.Context, snap *pathSnapshot) []string {
	targets := append([]string(nil), snap.targets...)
	if r.engine.search == nil || snap.goal == "" {
		return targets
	}

	results, ok := r.engine.caches.GetQueryResults(snap.goal)
	if !ok {
		searchCtx, cancel := r.budget.stepContext(ctx)
		found, err := r.engine.search.Search(searchCtx, snap.goal, searchResultLimit)
		cancel()
		if err != nil {
			r.engine.control.RecordError("search "+snap.goal, err)
			return targets
		}
		results = found
		r.engine.caches.PutQueryResults(snap.goal, results)
	}

	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		seen[t] = true
	}
	for _, res := range results {
		if res.URL == "" || seen[res.URL] {
			continue
		}
		domain, err := helpers.Domain(res.URL)
		if err != nil || r.engine.trust.ShouldAvoid(domain) {
			continue
		}
		seen[res.URL] = true
		targets = append(targets, res.URL)
	}
	return targets
}

// visitTarget performs one navigate→extract→verify step.
func (r *run) visitTarget(ctx context.Context, target string, questionIDs []string) {
	ctl := r.engine.control
	domain, err := helpers.Domain(target)
	if err != nil {
		ctl.RecordError("resolve "+target, err)
		return
	}
	if r.engine.trust.ShouldAvoid(domain) {
		ctl.RecordBlocked(target, "low-trust domain")
		return
	}

	page, cached := r.engine.caches.GetPage(target)
	if !cached {
		navCtx, cancel := r.budget.stepContext(ctx)
		loaded, err := r.engine.driver.Navigate(navCtx, target)
		cancel()
		if err != nil {
			ctl.RecordError("navigate "+target, err)
			r.engine.trust.RecordVisit(domain, false)
			return
		}
		page = *loaded
		r.engine.caches.PutPage(page)
	}

	ctl.RecordPageLoad(page.URL, domain, page.LoadTime, page.StatusCode)
	if page.StatusCode >= 400 {
		ctl.RecordBlocked(target, fmt.Sprintf("status %d", page.StatusCode))
		r.engine.trust.RecordVisit(domain, false)
		return
	}

	score := r.engine.trust.ScoreDomain(domain, page.Text)
	r.engine.caches.UpdateDomainMap(domain, highSignalLinks(page), nil)

	extractedAny := false
	for _, extractionSchema := range r.plan.Schemas {
		results, ok := r.engine.caches.GetExtractions(page.URL, extractionSchema.Name)
		if !ok {
			r.budget.charge(extractionCostUnits)
			extractCtx, cancel := r.budget.stepContext(ctx)
			found, err := r.engine.driver.Extract(extractCtx, &page, extractionSchema)
			cancel()
			if err != nil {
				ctl.RecordError("extract "+extractionSchema.Name, err)
				continue
			}
			results = found
			r.engine.caches.PutExtractions(page.URL, extractionSchema.Name, results)
		}
		for _, res := range results {
			if !usable(extractionSchema, res) {
				continue
			}
			extractedAny = true
			ctl.RecordExtraction(res.SourceURL, extractionSchema.Name, len(res.Data))
			stepStart := r.engine.now()
			affected := r.engine.claims.Ingest(res, score.Tier, r.questionFor(extractionSchema.Category, questionIDs), extractionSchema.Category)
			r.recordClaims(affected, stepStart)
		}
	}

	r.engine.trust.RecordVisit(domain, extractedAny)
	r.observeConfidence()
}

// usable applies the schema's quality rules: a result is kept when it has no
// rules or at least one passes. Predicate evaluation never panics, so a
// malformed payload just fails the rule.
func usable(s research.ExtractionSchema, res research.ExtractionResult) bool {
	if len(s.Rules) == 0 {
		return true
	}
	for _, rule := range s.Rules {
		if rule.Eval(res.Data) {
			return true
		}
	}
	return false
}

// recordClaims emits claim-found events for fresh claims and verification
// events for merges and contradictions that happened during this step.
func (r *run) recordClaims(affected []*claims.Claim, since time.Time) {
	ctl := r.engine.control
	for _, c := range affected {
		if len(c.Sources) == 1 && len(c.History) == 0 {
			ctl.RecordClaimFound(c.ID, c.Text, c.Score)
			continue
		}
		if len(c.History) == 0 {
			continue
		}
		last := c.History[len(c.History)-1]
		if last.At.Before(since) {
			continue
		}
		ctl.RecordVerification(c.ID, string(last.Kind), last.BeforeScore, last.AfterScore)
	}
}

// questionFor picks which of the path's questions an extraction answers:
// the first whose category matches the schema, else the path's lead
// question.
func (r *run) questionFor(category research.Category, questionIDs []string) string {
	for _, qid := range questionIDs {
		if q, ok := r.questions[qid]; ok && q.Category == category {
			return qid
		}
	}
	if len(questionIDs) > 0 {
		return questionIDs[0]
	}
	return ""
}

// observeConfidence refreshes the aggregate confidence, feeds the marginal
// gain tracker and arms the confidence stop when every question is
// satisfied.
func (r *run) observeConfidence() {
	overall := r.engine.claims.OverallConfidence()
	r.engine.control.SetConfidence(overall)
	r.budget.observeGain(overall)

	if len(r.questions) > 0 && r.satisfied(questionIDs(r.questions), r.questionConfidences()) {
		r.setStop(research.StopConfidenceReached, "every question satisfied")
	}
}

// afterPath runs the cross-source feedback loop: consistency smoothing,
// confidence snapshot and plan re-prioritization.
func (r *run) afterPath(pathID string) {
	r.engine.trust.UpdateConsistency(claimViews(r.engine.claims))

	perQuestion := r.questionConfidences()
	r.planMu.Lock()
	demoted := r.engine.planner.AdjustPlan(r.plan, perQuestion)
	r.planMu.Unlock()
	if demoted > 0 {
		r.engine.control.RecordStrategyShift(fmt.Sprintf("%d satisfied paths deprioritized after %s", demoted, pathID))
	}
}

// pauseGate consumes queued control commands and idles while the run is
// paused. It returns false when the path should terminate.
func (r *run) pauseGate(ctx context.Context) bool {
	ctl := r.engine.control
	for {
		for {
			if _, ok := ctl.PollCommand(); !ok {
				break
			}
		}
		if ctl.HasPendingStop() {
			return false
		}
		switch ctl.Status() {
		case telemetry.StatusExecuting:
			return true
		case telemetry.StatusPaused:
			select {
			case <-ctx.Done():
				return false
			case <-ctl.StopSignal():
				return false
			case <-time.After(pausePollInterval):
			}
		default:
			return false
		}
	}
}

func (r *run) questionConfidences() map[string]float64 {
	out := make(map[string]float64, len(r.questions))
	for qid := range r.questions {
		out[qid] = r.engine.claims.QuestionConfidence(qid)
	}
	return out
}

// satisfied reports whether every listed question meets its confidence
// requirement. An empty list is never satisfied.
func (r *run) satisfied(qids []string, perQuestion map[string]float64) bool {
	if len(qids) == 0 {
		return false
	}
	for _, qid := range qids {
		need := r.plan.ConfidenceThreshold
		if q, ok := r.questions[qid]; ok && q.RequiredConfidence > 0 {
			need = q.RequiredConfidence
		}
		if perQuestion[qid] < need {
			return false
		}
	}
	return true
}

func (r *run) setPathStatus(id string, status research.PathStatus) {
	r.planMu.Lock()
	defer r.planMu.Unlock()
	for i := range r.plan.Paths {
		if r.plan.Paths[i].ID == id {
			r.plan.Paths[i].Status = status
			return
		}
	}
}

func (r *run) setStop(reason research.StopReason, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopReason == "" {
		r.stopReason, r.stopDetail = reason, detail
	}
}

func (r *run) stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopReason != ""
}

func (r *run) stopCause() (research.StopReason, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopReason, r.stopDetail
}

// claimViews projects the graph into the shape the trust engine's
// consistency update consumes.
func claimViews(g *claims.Graph) []trust.ClaimView {
	all := g.All()
	views := make([]trust.ClaimView, 0, len(all))
	for _, c := range all {
		if c.QuestionID == "" {
			continue
		}
		views = append(views, trust.ClaimView{
			QuestionID: c.QuestionID,
			ValueKey:   c.Value.Key(),
			Domains:    c.Domains(),
		})
	}
	return views
}

func questionIDs(questions map[string]research.PrimaryQuestion) []string {
	out := make([]string, 0, len(questions))
	for qid := range questions {
		out = append(out, qid)
	}
	return out
}

func highSignalLinks(page research.PageContent) []string {
	links := page.Links
	if len(links) > domainMapURLLimit {
		links = links[:domainMapURLLimit]
	}
	return links
}

func terminatedOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}

// budgetTracker enforces page, time and cost budgets and watches marginal
// confidence gain. It is shared by every concurrent path.
type budgetTracker struct {
	mu       sync.Mutex
	deadline time.Time
	maxPages int
	pages    int
	maxCost  float64
	cost     float64

	floor       float64
	lastConf    float64
	lowGainRuns int
	stalled     bool
}

func newBudgetTracker(b research.Budgets, start time.Time) *budgetTracker {
	t := &budgetTracker{
		maxPages: b.MaxPages,
		maxCost:  b.MaxCostUnits,
		floor:    b.MarginalGainFloor,
	}
	if b.MaxTime > 0 {
		t.deadline = start.Add(b.MaxTime)
	}
	return t
}

// allowPage consumes one page slot and its cost units; false means the page
// or cost budget is spent.
func (t *budgetTracker) allowPage() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.maxPages > 0 && t.pages >= t.maxPages {
		return false
	}
	if t.maxCost > 0 && t.cost+pageCostUnits > t.maxCost {
		return false
	}
	t.pages++
	t.cost += pageCostUnits
	return true
}

func (t *budgetTracker) charge(units float64) {
	t.mu.Lock()
	t.cost += units
	t.mu.Unlock()
}

func (t *budgetTracker) timeExpired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.deadline.IsZero() && time.Now().After(t.deadline)
}

// stepContext bounds one blocking collaborator call by the run deadline.
func (t *budgetTracker) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	t.mu.Lock()
	deadline := t.deadline
	t.mu.Unlock()
	if deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline)
}

// observeGain tracks the confidence delta per page. Once past the warm-up
// page count, a window of consecutive gains below the floor marks the run
// as stalled.
func (t *budgetTracker) observeGain(confidence float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	gain := confidence - t.lastConf
	t.lastConf = confidence
	if t.floor <= 0 || t.pages < marginalGainMinPages {
		return
	}
	if gain < t.floor {
		t.lowGainRuns++
	} else {
		t.lowGainRuns = 0
	}
	if t.lowGainRuns >= marginalGainWindow {
		t.stalled = true
	}
}

func (t *budgetTracker) marginalStalled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stalled
}
