// Package planner turns a research objective into a bounded plan: decomposed
// primary questions, trust-ranked target domains, extraction schemas, budget
// presets and a prioritized set of execution paths. Plans that fail the
// structural check are handed back with explicit errors, never repaired.
package planner

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/scourhq/scour/internal/helpers"
	"github.com/scourhq/scour/internal/research"
	"github.com/scourhq/scour/internal/schema"
	"github.com/scourhq/scour/internal/trust"
)

// DefaultConfidenceThreshold applies when the objective does not name one.
const DefaultConfidenceThreshold = 0.75

// candidatesPerCategory bounds how many trust-ranked domains one detected
// category contributes to the plan.
const candidatesPerCategory = 5

// pathDomainLimit bounds the domain scope of a single focused path.
const pathDomainLimit = 3

// Planner builds and re-prioritizes research plans.
type Planner struct {
	trust      *trust.Engine
	catalog    *schema.Catalog
	classifier Classifier
	logger     *log.Logger
	now        func() time.Time
}

// New wires a planner. A nil classifier falls back to keyword heuristics,
// a nil catalog to the embedded schema defaults.
func New(trustEngine *trust.Engine, catalog *schema.Catalog, classifier Classifier, logger *log.Logger) *Planner {
	if trustEngine == nil {
		trustEngine = trust.NewEngine(nil)
	}
	if catalog == nil {
		catalog = schema.Default()
	}
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANNER] ", log.LstdFlags)
	}
	return &Planner{
		trust:      trustEngine,
		catalog:    catalog,
		classifier: classifier,
		logger:     logger,
		now:        time.Now,
	}
}

// GeneratePlan decomposes the objective into questions, merges known domains
// with trust-ranked candidates, picks schemas for the detected categories and
// lays out prioritized execution paths under the mode's budget preset.
func (p *Planner) GeneratePlan(ctx context.Context, objective research.Objective) (*research.Plan, error) {
	started := time.Now()
	query := strings.TrimSpace(objective.Query)
	if query == "" {
		return nil, fmt.Errorf("objective query is empty")
	}

	mode := objective.Mode
	if mode == "" {
		mode = research.ModeBalanced
	}
	threshold := objective.RequiredConfidence
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultConfidenceThreshold
	}

	categories, err := p.classifier.Classify(ctx, query, objective.Context)
	if err != nil || len(categories) == 0 {
		if err != nil {
			p.logger.Printf("classifier failed: %v, falling back to keyword heuristics", err)
		}
		categories, _ = KeywordClassifier{}.Classify(ctx, query, objective.Context)
	}

	plan := &research.Plan{
		ID:                  uuid.NewString(),
		ObjectiveID:         objective.ID,
		Objective:           query,
		CreatedAt:           p.now(),
		Mode:                mode,
		Questions:           p.decompose(objective, categories, threshold),
		Domains:             p.selectDomains(objective, categories),
		Schemas:             p.selectSchemas(categories),
		ConfidenceThreshold: threshold,
		Budgets:             BudgetsFor(mode, objective.Constraints),
	}
	plan.AnswerTypes = answerTypes(plan.Questions)
	plan.Paths = p.buildPaths(plan)

	if v := ValidatePlan(plan); !v.Valid {
		p.logger.Printf("plan %s failed validation: %s", plan.ID, strings.Join(v.Errors, "; "))
	}
	p.logger.Printf("plan %s: %d questions, %d domains, %d paths in %v",
		plan.ID, len(plan.Questions), len(plan.Domains), len(plan.Paths), time.Since(started))
	return plan, nil
}

// ValidatePlan is the pure structural check: at least one question, domain
// and path, budget floors, a usable threshold and path referential
// integrity. It never mutates the plan.
func ValidatePlan(plan *research.Plan) research.Validation {
	if plan == nil {
		return research.Validation{Valid: false, Errors: []string{"plan is nil"}}
	}
	var errs []string
	if len(plan.Questions) == 0 {
		errs = append(errs, "plan has no primary questions")
	}
	if len(plan.Domains) == 0 {
		errs = append(errs, "plan has no target domains")
	}
	if len(plan.Paths) == 0 {
		errs = append(errs, "plan has no execution paths")
	}
	if plan.Budgets.MaxPages < MinBudgetPages {
		errs = append(errs, fmt.Sprintf("budget max_pages %d below floor %d", plan.Budgets.MaxPages, MinBudgetPages))
	}
	if plan.Budgets.MaxTime < MinBudgetTime {
		errs = append(errs, fmt.Sprintf("budget max_time %v below floor %v", plan.Budgets.MaxTime, MinBudgetTime))
	}
	if plan.Budgets.MaxConcurrency < 1 {
		errs = append(errs, "budget max_concurrency below 1")
	}
	if plan.ConfidenceThreshold <= 0 || plan.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Sprintf("confidence threshold %.2f outside (0,1]", plan.ConfidenceThreshold))
	}
	known := make(map[string]bool, len(plan.Questions))
	for _, q := range plan.Questions {
		known[q.ID] = true
	}
	for _, path := range plan.Paths {
		if len(path.Domains) == 0 {
			errs = append(errs, fmt.Sprintf("path %s has an empty domain scope", path.ID))
		}
		for _, qid := range path.QuestionIDs {
			if !known[qid] {
				errs = append(errs, fmt.Sprintf("path %s references unknown question %s", path.ID, qid))
			}
		}
	}
	return research.Validation{Valid: len(errs) == 0, Errors: errs}
}

// AdjustPlan re-sorts the plan's paths in place: paths whose questions are
// all satisfied (live confidence at or above the question's requirement)
// drop below paths still chasing answers, and within each group the stable
// order is descending priority. It returns how many pending paths were
// deprioritized.
func (p *Planner) AdjustPlan(plan *research.Plan, perQuestion map[string]float64) int {
	if plan == nil || len(plan.Paths) < 2 {
		return 0
	}
	need := make(map[string]float64, len(plan.Questions))
	for _, q := range plan.Questions {
		req := q.RequiredConfidence
		if req <= 0 {
			req = plan.ConfidenceThreshold
		}
		need[q.ID] = req
	}
	satisfied := make(map[string]bool, len(plan.Paths))
	demoted := 0
	for _, path := range plan.Paths {
		ok := len(path.QuestionIDs) > 0
		for _, qid := range path.QuestionIDs {
			if perQuestion[qid] < need[qid] {
				ok = false
				break
			}
		}
		satisfied[path.ID] = ok
		if ok && path.Status == research.PathPending {
			demoted++
		}
	}
	sort.SliceStable(plan.Paths, func(i, j int) bool {
		si, sj := satisfied[plan.Paths[i].ID], satisfied[plan.Paths[j].ID]
		if si != sj {
			return !si
		}
		return plan.Paths[i].Priority > plan.Paths[j].Priority
	})
	if demoted > 0 {
		p.logger.Printf("plan %s adjusted: %d pending paths deprioritized", plan.ID, demoted)
	}
	return demoted
}

// questionTemplate is one category-specific decomposition the planner emits
// when an objective matches that category.
type questionTemplate struct {
	text       string
	answerType research.AnswerType
	priority   int
}

var questionTemplates = map[research.Category][]questionTemplate{
	research.CategoryPricing: {
		{"What pricing plans and tiers does %s offer?", research.AnswerList, 8},
		{"What is the lowest advertised monthly price for %s?", research.AnswerNumber, 7},
		{"Does %s offer a free tier or trial?", research.AnswerFlag, 6},
	},
	research.CategorySecurity: {
		{"What security certifications and compliance attestations does %s hold?", research.AnswerList, 8},
		{"Have any security incidents involving %s been publicly disclosed?", research.AnswerText, 7},
	},
	research.CategoryCompanyInfo: {
		{"Who founded %s and when?", research.AnswerText, 8},
		{"How much funding has %s raised?", research.AnswerNumber, 7},
		{"Where is %s headquartered and how large is the team?", research.AnswerText, 6},
	},
	research.CategoryTechnical: {
		{"What integrations and APIs does %s provide?", research.AnswerList, 8},
		{"What is %s built on and how is it deployed?", research.AnswerText, 7},
	},
}

// decompose emits the objective itself as the lead question, then the
// template questions for every detected category.
func (p *Planner) decompose(objective research.Objective, categories []research.Category, threshold float64) []research.PrimaryQuestion {
	subject := guessSubject(objective.Query, objective.KnownEntities)
	lead := research.PrimaryQuestion{
		ID:                 uuid.NewString(),
		Text:               strings.TrimSpace(objective.Query),
		Category:           categories[0],
		AnswerType:         research.AnswerText,
		Priority:           10,
		RequiredConfidence: threshold,
	}
	questions := []research.PrimaryQuestion{lead}
	seen := map[string]bool{strings.ToLower(lead.Text): true}
	for _, cat := range categories {
		for _, tpl := range questionTemplates[cat] {
			text := fmt.Sprintf(tpl.text, subject)
			key := strings.ToLower(text)
			if seen[key] {
				continue
			}
			seen[key] = true
			questions = append(questions, research.PrimaryQuestion{
				ID:                 uuid.NewString(),
				Text:               text,
				Category:           cat,
				AnswerType:         tpl.answerType,
				Priority:           tpl.priority,
				RequiredConfidence: threshold,
			})
		}
	}
	return questions
}

// selectDomains merges the objective's known domains with trust-ranked
// candidates per category, dropping blocked, avoided and tier-filtered
// entries. Tier dominates relevance in the final order, mirroring
// trust.RankDomains.
func (p *Planner) selectDomains(objective research.Objective, categories []research.Category) []research.RankedDomain {
	blocked := make(map[string]bool, len(objective.Constraints.BlockedDomains))
	for _, raw := range objective.Constraints.BlockedDomains {
		if canon, err := helpers.Domain(raw); err == nil {
			blocked[canon] = true
		}
	}
	allowed := tierFilter(objective.Constraints.AllowedTiers)

	var out []research.RankedDomain
	seen := make(map[string]bool)
	add := func(rd research.RankedDomain) {
		if rd.Domain == "" || seen[rd.Domain] || blocked[rd.Domain] || !allowed(rd.ExpectedTier) {
			return
		}
		seen[rd.Domain] = true
		out = append(out, rd)
	}

	for _, raw := range objective.KnownDomains {
		canon, err := helpers.Domain(raw)
		if err != nil {
			p.logger.Printf("skipping known domain %q: %v", raw, err)
			continue
		}
		if p.trust.ShouldAvoid(canon) {
			continue
		}
		add(research.RankedDomain{
			Domain:          canon,
			ExpectedTier:    p.trust.ClassifyDomain(canon),
			Relevance:       1.0,
			ExpectedContent: "first-party pages",
		})
	}
	for _, cat := range categories {
		for _, score := range p.trust.Candidates(cat, candidatesPerCategory) {
			add(research.RankedDomain{
				Domain:          score.Domain,
				ExpectedTier:    score.Tier,
				Relevance:       score.Overall,
				ExpectedContent: string(cat),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ExpectedTier != out[j].ExpectedTier {
			return out[i].ExpectedTier < out[j].ExpectedTier
		}
		return out[i].Relevance > out[j].Relevance
	})
	return out
}

// selectSchemas picks one catalog schema set per detected category, deduped
// by schema name.
func (p *Planner) selectSchemas(categories []research.Category) []research.ExtractionSchema {
	var out []research.ExtractionSchema
	seen := make(map[string]bool)
	for _, cat := range categories {
		for _, s := range p.catalog.ForCategory(cat) {
			if seen[s.Name] {
				continue
			}
			seen[s.Name] = true
			out = append(out, s)
		}
	}
	return out
}

// buildPaths lays out one focused path per question plus, when domains are
// left over, a single broad sweep covering every question at low priority.
func (p *Planner) buildPaths(plan *research.Plan) []research.ExecutionPath {
	paths := make([]research.ExecutionPath, 0, len(plan.Questions)+1)
	used := make(map[string]bool)
	for _, q := range plan.Questions {
		domains := domainsForCategory(plan.Domains, q.Category, pathDomainLimit)
		if len(domains) == 0 {
			continue
		}
		relevance := 0.0
		for _, d := range domains {
			used[d.Domain] = true
			relevance += d.Relevance
		}
		relevance /= float64(len(domains))
		paths = append(paths, research.ExecutionPath{
			ID:          uuid.NewString(),
			Goal:        q.Text,
			Domains:     domainNames(domains),
			QuestionIDs: []string{q.ID},
			SeedURLs:    seedURLs(domains),
			Priority:    float64(q.Priority) + relevance,
			Status:      research.PathPending,
		})
	}

	var leftover []research.RankedDomain
	for _, d := range plan.Domains {
		if !used[d.Domain] {
			leftover = append(leftover, d)
		}
	}
	if len(leftover) > 0 {
		qids := make([]string, 0, len(plan.Questions))
		for _, q := range plan.Questions {
			qids = append(qids, q.ID)
		}
		paths = append(paths, research.ExecutionPath{
			ID:          uuid.NewString(),
			Goal:        "broad sweep across remaining sources",
			Domains:     domainNames(leftover),
			QuestionIDs: qids,
			SeedURLs:    seedURLs(leftover),
			Priority:    1.0,
			Status:      research.PathPending,
		})
	}
	sort.SliceStable(paths, func(i, j int) bool { return paths[i].Priority > paths[j].Priority })
	return paths
}

// domainsForCategory prefers domains the trust engine suggested for the
// question's category, then fills from the overall ranking.
func domainsForCategory(ranked []research.RankedDomain, cat research.Category, limit int) []research.RankedDomain {
	out := make([]research.RankedDomain, 0, limit)
	taken := make(map[string]bool, limit)
	for _, d := range ranked {
		if len(out) >= limit {
			return out
		}
		if d.ExpectedContent == string(cat) || d.ExpectedContent == "first-party pages" {
			out = append(out, d)
			taken[d.Domain] = true
		}
	}
	for _, d := range ranked {
		if len(out) >= limit {
			break
		}
		if !taken[d.Domain] {
			out = append(out, d)
			taken[d.Domain] = true
		}
	}
	return out
}

func domainNames(ranked []research.RankedDomain) []string {
	out := make([]string, 0, len(ranked))
	for _, d := range ranked {
		out = append(out, d.Domain)
	}
	return out
}

func seedURLs(ranked []research.RankedDomain) []string {
	out := make([]string, 0, len(ranked))
	for _, d := range ranked {
		out = append(out, "https://"+d.Domain)
	}
	return out
}

func answerTypes(questions []research.PrimaryQuestion) []research.AnswerType {
	var out []research.AnswerType
	seen := make(map[research.AnswerType]bool, 4)
	for _, q := range questions {
		if !seen[q.AnswerType] {
			seen[q.AnswerType] = true
			out = append(out, q.AnswerType)
		}
	}
	return out
}

func tierFilter(allowed []research.Tier) func(research.Tier) bool {
	if len(allowed) == 0 {
		return func(research.Tier) bool { return true }
	}
	set := make(map[research.Tier]bool, len(allowed))
	for _, t := range allowed {
		set[t] = true
	}
	return func(t research.Tier) bool { return set[t] }
}

// questionStopwords are capitalized sentence openers that never name the
// research subject.
var questionStopwords = map[string]bool{
	"what": true, "who": true, "when": true, "where": true, "why": true,
	"how": true, "does": true, "do": true, "did": true, "is": true,
	"are": true, "was": true, "were": true, "the": true, "a": true,
	"an": true, "which": true, "has": true, "have": true, "can": true,
	"should": true, "compare": true, "find": true, "tell": true,
}

// guessSubject picks the entity the questions talk about: the first known
// entity when provided, otherwise the longest run of capitalized words in
// the query, otherwise the query itself.
func guessSubject(query string, entities []string) string {
	for _, e := range entities {
		if s := strings.TrimSpace(e); s != "" {
			return s
		}
	}
	var best, current []string
	flush := func() {
		if len(current) > len(best) {
			best = current
		}
		current = nil
	}
	for _, w := range strings.Fields(query) {
		trimmed := strings.Trim(w, ".,!?;:\"'()")
		runes := []rune(trimmed)
		if len(runes) > 0 && unicode.IsUpper(runes[0]) && !questionStopwords[strings.ToLower(trimmed)] {
			current = append(current, trimmed)
			continue
		}
		flush()
	}
	flush()
	if len(best) > 0 {
		return strings.Join(best, " ")
	}
	return strings.TrimRight(strings.TrimSpace(query), "?")
}
