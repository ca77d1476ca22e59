package planner

import (
	"context"
	"strings"
	"testing"

	"github.com/scourhq/scour/internal/research"
)

func testObjective(query string) research.Objective {
	return research.Objective{
		ID:    "obj-1",
		Query: query,
		Mode:  research.ModeBalanced,
	}
}

func TestGeneratePlanPricing(t *testing.T) {
	t.Parallel()
	p := New(nil, nil, nil, nil)

	obj := testObjective("How much does Acme Analytics cost per seat?")
	obj.KnownDomains = []string{"https://www.acme-analytics.com/pricing"}

	plan, err := p.GeneratePlan(context.Background(), obj)
	if err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}
	if v := ValidatePlan(plan); !v.Valid {
		t.Fatalf("expected valid plan, got errors: %v", v.Errors)
	}
	if plan.Questions[0].Text != obj.Query {
		t.Fatalf("lead question should be the objective, got %q", plan.Questions[0].Text)
	}
	if plan.Questions[0].Category != research.CategoryPricing {
		t.Fatalf("expected pricing lead category, got %s", plan.Questions[0].Category)
	}
	if plan.ConfidenceThreshold != DefaultConfidenceThreshold {
		t.Fatalf("expected default threshold, got %.2f", plan.ConfidenceThreshold)
	}

	foundKnown := false
	for _, d := range plan.Domains {
		if d.Domain == "acme-analytics.com" {
			foundKnown = true
			if d.Relevance != 1.0 {
				t.Fatalf("known domain relevance = %.2f, want 1.0", d.Relevance)
			}
		}
	}
	if !foundKnown {
		t.Fatalf("known domain missing from plan: %+v", plan.Domains)
	}

	hasPricingSchema := false
	for _, s := range plan.Schemas {
		if s.Category == research.CategoryPricing {
			hasPricingSchema = true
		}
	}
	if !hasPricingSchema {
		t.Fatalf("pricing objective should carry a pricing schema, got %+v", plan.Schemas)
	}
	if len(plan.Paths) == 0 {
		t.Fatal("plan has no execution paths")
	}
	for i := 1; i < len(plan.Paths); i++ {
		if plan.Paths[i-1].Priority < plan.Paths[i].Priority {
			t.Fatalf("paths not sorted by priority: %f before %f", plan.Paths[i-1].Priority, plan.Paths[i].Priority)
		}
	}
}

func TestGeneratePlanEmptyQuery(t *testing.T) {
	t.Parallel()
	p := New(nil, nil, nil, nil)
	if _, err := p.GeneratePlan(context.Background(), testObjective("   ")); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestModeBudgetOrdering(t *testing.T) {
	t.Parallel()
	p := New(nil, nil, nil, nil)

	fastObj := testObjective("What security certifications does Initech hold?")
	fastObj.Mode = research.ModeFast
	deepObj := fastObj
	deepObj.Mode = research.ModeDeep

	fast, err := p.GeneratePlan(context.Background(), fastObj)
	if err != nil {
		t.Fatalf("fast plan: %v", err)
	}
	deep, err := p.GeneratePlan(context.Background(), deepObj)
	if err != nil {
		t.Fatalf("deep plan: %v", err)
	}
	if fast.Budgets.MaxPages >= deep.Budgets.MaxPages {
		t.Fatalf("fast max pages %d should be strictly below deep %d", fast.Budgets.MaxPages, deep.Budgets.MaxPages)
	}
	if fast.Budgets.MaxTime >= deep.Budgets.MaxTime {
		t.Fatalf("fast max time %v should be strictly below deep %v", fast.Budgets.MaxTime, deep.Budgets.MaxTime)
	}
}

func TestBudgetConstraintOverrides(t *testing.T) {
	t.Parallel()
	b := BudgetsFor(research.ModeFast, research.Constraints{MaxPages: 99, MaxConcurrency: 8})
	if b.MaxPages != 99 {
		t.Fatalf("max pages override ignored: %d", b.MaxPages)
	}
	if b.MaxConcurrency != 8 {
		t.Fatalf("max concurrency override ignored: %d", b.MaxConcurrency)
	}
	if b.MaxTime != budgetPresets[research.ModeFast].MaxTime {
		t.Fatalf("unset constraint should keep preset, got %v", b.MaxTime)
	}
}

func TestBlockedDomainsExcluded(t *testing.T) {
	t.Parallel()
	p := New(nil, nil, nil, nil)

	obj := testObjective("How much does Hooli Cloud pricing start at?")
	obj.Constraints.BlockedDomains = []string{"g2.com"}

	plan, err := p.GeneratePlan(context.Background(), obj)
	if err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}
	for _, d := range plan.Domains {
		if d.Domain == "g2.com" {
			t.Fatal("blocked domain leaked into plan")
		}
	}
}

func TestValidatePlan(t *testing.T) {
	t.Parallel()
	if v := ValidatePlan(nil); v.Valid {
		t.Fatal("nil plan should be invalid")
	}

	empty := &research.Plan{}
	v := ValidatePlan(empty)
	if v.Valid {
		t.Fatal("empty plan should be invalid")
	}
	joined := strings.Join(v.Errors, "\n")
	for _, want := range []string{"no primary questions", "no target domains", "no execution paths", "max_pages", "max_time"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing validation error %q in %q", want, joined)
		}
	}

	p := New(nil, nil, nil, nil)
	plan, err := p.GeneratePlan(context.Background(), testObjective("Who founded Globex Corporation?"))
	if err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}
	if v := ValidatePlan(plan); !v.Valid {
		t.Fatalf("generated plan should validate, errors: %v", v.Errors)
	}

	plan.Paths[0].QuestionIDs = append(plan.Paths[0].QuestionIDs, "missing-question")
	if v := ValidatePlan(plan); v.Valid {
		t.Fatal("dangling question reference should fail validation")
	}
}

func TestAdjustPlanDeprioritizesSatisfied(t *testing.T) {
	t.Parallel()
	plan := &research.Plan{
		ID:                  "plan-1",
		ConfidenceThreshold: 0.75,
		Questions: []research.PrimaryQuestion{
			{ID: "q1", Text: "answered", Priority: 9},
			{ID: "q2", Text: "open", Priority: 5},
		},
		Paths: []research.ExecutionPath{
			{ID: "p1", QuestionIDs: []string{"q1"}, Priority: 9, Status: research.PathPending},
			{ID: "p2", QuestionIDs: []string{"q2"}, Priority: 5, Status: research.PathPending},
			{ID: "p3", QuestionIDs: []string{"q2"}, Priority: 5, Status: research.PathPending},
		},
	}

	p := New(nil, nil, nil, nil)
	if n := p.AdjustPlan(plan, map[string]float64{"q1": 0.9, "q2": 0.2}); n != 1 {
		t.Fatalf("expected 1 demoted path, got %d", n)
	}

	if plan.Paths[0].ID != "p2" || plan.Paths[1].ID != "p3" {
		t.Fatalf("unsatisfied paths should lead, got order %s, %s, %s",
			plan.Paths[0].ID, plan.Paths[1].ID, plan.Paths[2].ID)
	}
	if plan.Paths[2].ID != "p1" {
		t.Fatalf("satisfied path should sink to the end, got %s", plan.Paths[2].ID)
	}

	// Below-threshold confidence must not demote anything.
	p.AdjustPlan(plan, map[string]float64{"q1": 0.5, "q2": 0.2})
	if plan.Paths[0].ID != "p1" {
		t.Fatalf("highest priority unsatisfied path should lead, got %s", plan.Paths[0].ID)
	}
}

func TestKeywordClassifier(t *testing.T) {
	t.Parallel()
	c := KeywordClassifier{}

	cats, err := c.Classify(context.Background(), "how much does the pro plan cost", "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cats[0] != research.CategoryPricing {
		t.Fatalf("expected pricing first, got %v", cats)
	}

	cats, _ = c.Classify(context.Background(), "any recent CVE or breach reports?", "")
	if cats[0] != research.CategorySecurity {
		t.Fatalf("expected security first, got %v", cats)
	}

	cats, _ = c.Classify(context.Background(), "tallest lighthouse in normandy", "")
	if len(cats) != 1 || cats[0] != research.CategoryGeneral {
		t.Fatalf("expected general fallback, got %v", cats)
	}
}

func TestGuessSubject(t *testing.T) {
	t.Parallel()
	cases := []struct {
		query    string
		entities []string
		want     string
	}{
		{"How much does Acme Analytics cost per seat?", nil, "Acme Analytics"},
		{"Who founded Globex?", nil, "Globex"},
		{"anything at all", []string{" Initech "}, "Initech"},
		{"lowercase query with no entities?", nil, "lowercase query with no entities"},
	}
	for _, tc := range cases {
		if got := guessSubject(tc.query, tc.entities); got != tc.want {
			t.Fatalf("guessSubject(%q) = %q, want %q", tc.query, got, tc.want)
		}
	}
}
