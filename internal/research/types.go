// Package research holds the shared vocabulary of the scour engine:
// objectives, plans, execution paths, extraction payloads and the
// collaborator interfaces the engine consumes. It has no dependencies on
// the engine packages so every component can share these types freely.
package research

import (
	"time"
)

// Mode selects a budget preset for a research run.
type Mode string

const (
	ModeFast     Mode = "fast"
	ModeBalanced Mode = "balanced"
	ModeDeep     Mode = "deep"
)

// Tier is a domain trust tier, 1 (most authoritative) through 5 (actively
// penalized). TierNeutral is the default for unknown domains.
type Tier int

const (
	TierOfficial   Tier = 1
	TierFirstParty Tier = 2
	TierNeutral    Tier = 3
	TierForum      Tier = 4
	TierPenalized  Tier = 5
)

// Valid reports whether t is inside the 1..5 range.
func (t Tier) Valid() bool { return t >= TierOfficial && t <= TierPenalized }

// Category buckets questions, schemas and claims by research intent.
type Category string

const (
	CategoryPricing     Category = "pricing"
	CategorySecurity    Category = "security"
	CategoryCompanyInfo Category = "company-info"
	CategoryTechnical   Category = "technical"
	CategoryGeneral     Category = "general"
)

// AnswerType is the shape of answer a question expects.
type AnswerType string

const (
	AnswerText   AnswerType = "text"
	AnswerNumber AnswerType = "number"
	AnswerFlag   AnswerType = "flag"
	AnswerList   AnswerType = "list"
)

// Constraints carries optional caller-imposed limits on a run. Zero values
// mean "no override"; the planner fills gaps from the mode preset.
type Constraints struct {
	MaxTime        time.Duration `json:"max_time,omitempty"`
	MaxPages       int           `json:"max_pages,omitempty"`
	MaxConcurrency int           `json:"max_concurrency,omitempty"`
	MaxCostUnits   float64       `json:"max_cost_units,omitempty"`
	AllowedTiers   []Tier        `json:"allowed_tiers,omitempty"`
	BlockedDomains []string      `json:"blocked_domains,omitempty"`
}

// Objective is the immutable input to a plan.
type Objective struct {
	ID                 string      `json:"id"`
	Query              string      `json:"query"`
	Context            string      `json:"context,omitempty"`
	Mode               Mode        `json:"mode"`
	Constraints        Constraints `json:"constraints,omitempty"`
	RequiredConfidence float64     `json:"required_confidence,omitempty"`
	KnownEntities      []string    `json:"known_entities,omitempty"`
	KnownDomains       []string    `json:"known_domains,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
}

// PrimaryQuestion is one decomposed question the run tries to answer.
type PrimaryQuestion struct {
	ID                 string     `json:"id"`
	Text               string     `json:"text"`
	Category           Category   `json:"category"`
	AnswerType         AnswerType `json:"answer_type"`
	Priority           int        `json:"priority"`
	RequiredConfidence float64    `json:"required_confidence"`
}

// RankedDomain is a target domain with the planner's expectations attached.
type RankedDomain struct {
	Domain          string  `json:"domain"`
	ExpectedTier    Tier    `json:"expected_tier"`
	Relevance       float64 `json:"relevance"`
	ExpectedContent string  `json:"expected_content,omitempty"`
}

// SchemaField names one field an extraction schema asks the driver for.
type SchemaField struct {
	Name     string     `json:"name"`
	Type     AnswerType `json:"type"`
	Required bool       `json:"required"`
}

// ExtractionSchema tells the driver what to pull off a page and carries the
// predicates used to judge the quality of what came back.
type ExtractionSchema struct {
	Name     string        `json:"name"`
	Category Category      `json:"category"`
	Fields   []SchemaField `json:"fields"`
	Rules    []Predicate   `json:"rules,omitempty"`
}

// PathStatus is the lifecycle of one execution path.
type PathStatus string

const (
	PathPending    PathStatus = "pending"
	PathActive     PathStatus = "active"
	PathCompleted  PathStatus = "completed"
	PathTerminated PathStatus = "terminated"
)

// ExecutionPath is one independent navigate→extract→verify sequence.
type ExecutionPath struct {
	ID          string     `json:"id"`
	Goal        string     `json:"goal"`
	Domains     []string   `json:"domains"`
	QuestionIDs []string   `json:"question_ids"`
	SeedURLs    []string   `json:"seed_urls,omitempty"`
	Priority    float64    `json:"priority"`
	Status      PathStatus `json:"status"`
}

// Budgets bounds a run. MarginalGainFloor is the minimum confidence
// improvement per action below which continuing is judged wasteful.
type Budgets struct {
	MaxTime           time.Duration `json:"max_time"`
	MaxPages          int           `json:"max_pages"`
	MaxConcurrency    int           `json:"max_concurrency"`
	MaxCostUnits      float64       `json:"max_cost_units"`
	MarginalGainFloor float64       `json:"marginal_gain_floor"`
}

// Plan is the bounded investigation produced for one objective. It is
// created once, re-prioritized in place while the run progresses, and
// frozen after the run terminates.
type Plan struct {
	ID                  string             `json:"id"`
	ObjectiveID         string             `json:"objective_id"`
	Objective           string             `json:"objective"`
	CreatedAt           time.Time          `json:"created_at"`
	Mode                Mode               `json:"mode"`
	Questions           []PrimaryQuestion  `json:"questions"`
	AnswerTypes         []AnswerType       `json:"answer_types"`
	Domains             []RankedDomain     `json:"domains"`
	Schemas             []ExtractionSchema `json:"schemas"`
	ConfidenceThreshold float64            `json:"confidence_threshold"`
	Budgets             Budgets            `json:"budgets"`
	Paths               []ExecutionPath    `json:"paths"`
}

// Validation is the outcome of a structural plan check. Invalid plans are
// handed back with explicit errors, never repaired.
type Validation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// PageContent is what the navigation driver returns for one page visit.
type PageContent struct {
	URL         string        `json:"url"`
	FinalURL    string        `json:"final_url"`
	Title       string        `json:"title"`
	Text        string        `json:"text"`
	Links       []string      `json:"links,omitempty"`
	StatusCode  int           `json:"status_code"`
	FetchedAt   time.Time     `json:"fetched_at"`
	LoadTime    time.Duration `json:"load_time"`
	WordCount   int           `json:"word_count"`
	ContentHash string        `json:"content_hash"`
}

// ExtractionResult is one schema-shaped payload pulled off a page.
type ExtractionResult struct {
	SchemaName  string           `json:"schema_name"`
	Data        map[string]Value `json:"data"`
	Confidence  float64          `json:"confidence"`
	SourceURL   string           `json:"source_url"`
	Timestamp   time.Time        `json:"timestamp"`
	ContentHash string           `json:"content_hash"`
}

// SearchResult is one hit from the search collaborator.
type SearchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// StopReason says why a run ended.
type StopReason string

const (
	StopConfidenceReached StopReason = "confidence_reached"
	StopBudgetExhausted   StopReason = "budget_exhausted"
	StopMarginalGain      StopReason = "marginal_gain"
	StopUserRequested     StopReason = "user_requested"
	StopPathsExhausted    StopReason = "paths_exhausted"
	StopFailed            StopReason = "failed"
)

// StopCondition records the terminal reason and the confidence the run
// reached when it ended.
type StopCondition struct {
	Reason     StopReason `json:"reason"`
	Detail     string     `json:"detail,omitempty"`
	Confidence float64    `json:"confidence"`
	At         time.Time  `json:"at"`
}
