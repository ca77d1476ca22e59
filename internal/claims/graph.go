package claims

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scourhq/scour/internal/helpers"
	"github.com/scourhq/scour/internal/research"
)

// ExportVersion tags claim-graph export payloads.
const ExportVersion = 1

// Edge records one contradicts relationship between two claims.
type Edge struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Export is the persistable form of the claim graph.
type Export struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Claims     []Claim   `json:"claims"`
	Edges      []Edge    `json:"edges,omitempty"`
}

// GraphStats is a point-in-time summary of the graph.
type GraphStats struct {
	Total          int           `json:"total"`
	ByLevel        map[Level]int `json:"by_level"`
	Contradictions int           `json:"contradictions"`
	Questions      int           `json:"questions"`
}

// Graph is the claim store. All mutations are serialized by a single lock;
// write volume is bounded by page visits, not CPU, so contention is not a
// concern (and duplicate-free merging requires linearized writes anyway).
type Graph struct {
	mu         sync.Mutex
	claims     map[string]*Claim
	byBucket   map[string][]string
	byQuestion map[string][]string
	edges      map[string]Edge
	index      *Index
	logger     *log.Logger
	now        func() time.Time
}

// NewGraph builds an empty claim graph with an in-memory search index.
// Index failures are logged and disable search; they never block claim
// ingestion.
func NewGraph(logger *log.Logger) *Graph {
	if logger == nil {
		logger = log.New(log.Writer(), "[CLAIMS] ", log.LstdFlags)
	}
	idx, err := NewIndex()
	if err != nil {
		logger.Printf("search index unavailable: %v", err)
		idx = nil
	}
	return &Graph{
		claims:     make(map[string]*Claim),
		byBucket:   make(map[string][]string),
		byQuestion: make(map[string][]string),
		edges:      make(map[string]Edge),
		index:      idx,
		logger:     logger,
		now:        time.Now,
	}
}

// Ingest turns one extraction payload into claims, one per populated field,
// merging each into the graph. The returned claims are defensive copies in
// field order.
func (g *Graph) Ingest(extraction research.ExtractionResult, tier research.Tier, questionID string, category research.Category) []*Claim {
	domain, err := helpers.Domain(extraction.SourceURL)
	if err != nil {
		g.logger.Printf("dropping extraction with unusable source url %q: %v", extraction.SourceURL, err)
		return nil
	}
	src := Source{
		URL:         extraction.SourceURL,
		Domain:      domain,
		Tier:        tier,
		Timestamp:   extraction.Timestamp,
		ContentHash: extraction.ContentHash,
	}
	if src.Timestamp.IsZero() {
		src.Timestamp = g.now()
	}

	fields := make([]string, 0, len(extraction.Data))
	for field := range extraction.Data {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	out := make([]*Claim, 0, len(fields))
	for _, field := range fields {
		value := extraction.Data[field]
		if value.IsZero() {
			continue
		}
		out = append(out, g.CreateClaim(field, value, src, questionID, category))
	}
	return out
}

// CreateClaim merges one observed value into the graph: structurally
// similar claims in the same category+field bucket absorb the observation
// (corroborating when the domain is new), everything else creates a fresh
// claim. Contradictions against other claims on the same question and field
// are recorded afterwards. The returned claim is a copy.
func (g *Graph) CreateClaim(field string, observed research.Value, src Source, questionID string, category research.Category) *Claim {
	if category == "" {
		category = research.CategoryGeneral
	}
	if src.Domain == "" {
		if d, err := helpers.Domain(src.URL); err == nil {
			src.Domain = d
		}
	}
	if src.Timestamp.IsZero() {
		src.Timestamp = g.now()
	}
	normalized := observed.Normalized()
	bucket := bucketKey(category, field)

	g.mu.Lock()
	defer g.mu.Unlock()

	var claim *Claim
	for _, id := range g.byBucket[bucket] {
		existing := g.claims[id]
		if similar(normalized, existing.Value) {
			g.mergeLocked(existing, src)
			claim = existing
			// A claim first observed outside any question adopts the
			// question of the first observation that carries one, so its
			// evidence counts toward that question's answer.
			if questionID != "" && claim.QuestionID == "" {
				claim.QuestionID = questionID
				g.byQuestion[questionID] = append(g.byQuestion[questionID], claim.ID)
			}
			break
		}
	}

	if claim == nil {
		claim = &Claim{
			ID:          uuid.NewString(),
			Text:        claimText(field, observed),
			Field:       strings.ToLower(field),
			Value:       normalized,
			Category:    category,
			QuestionID:  questionID,
			Sources:     []Source{src},
			PrimaryTier: src.Tier,
			CreatedAt:   g.now(),
			UpdatedAt:   g.now(),
		}
		claim.recompute()
		g.claims[claim.ID] = claim
		g.byBucket[bucket] = append(g.byBucket[bucket], claim.ID)
		if questionID != "" {
			g.byQuestion[questionID] = append(g.byQuestion[questionID], claim.ID)
		}
	}

	if questionID != "" {
		g.detectContradictionsLocked(claim, questionID)
	}
	g.indexLocked(claim)
	return claim.clone()
}

// mergeLocked folds a new source into an existing claim. A source from an
// unseen domain counts as corroboration and may promote the primary tier;
// a repeat domain only extends the source list.
func (g *Graph) mergeLocked(claim *Claim, src Source) {
	newDomain := !claim.hasDomain(src.Domain)
	claim.Sources = append(claim.Sources, src)
	claim.UpdatedAt = g.now()
	if !newDomain {
		return
	}

	beforeScore, beforeLevel := claim.Score, claim.Level
	claim.Corroborations++
	if src.Tier.Valid() && src.Tier < claim.PrimaryTier {
		claim.PrimaryTier = src.Tier
	}
	claim.recompute()
	claim.History = append(claim.History, VerificationEvent{
		At:          g.now(),
		Kind:        VerificationCorroborated,
		Domain:      src.Domain,
		BeforeScore: beforeScore,
		AfterScore:  claim.Score,
		BeforeLevel: beforeLevel,
		AfterLevel:  claim.Level,
	})
}

// detectContradictionsLocked registers contradictions between claim and any
// other claim answering the same question's same field with a dissimilar
// value. Each unordered pair is counted once; re-observing an existing
// contradiction does not inflate the counts.
func (g *Graph) detectContradictionsLocked(claim *Claim, questionID string) {
	for _, id := range g.byQuestion[questionID] {
		if id == claim.ID {
			continue
		}
		other := g.claims[id]
		if other.Field != claim.Field {
			continue
		}
		if similar(claim.Value, other.Value) {
			continue
		}
		key := edgeKey(claim.ID, other.ID)
		if _, exists := g.edges[key]; exists {
			continue
		}
		g.edges[key] = Edge{A: claim.ID, B: other.ID}
		g.contradictLocked(claim, other.Domains())
		g.contradictLocked(other, claim.Domains())
		g.indexLocked(other)
	}
}

func (g *Graph) contradictLocked(claim *Claim, opposingDomains []string) {
	beforeScore, beforeLevel := claim.Score, claim.Level
	claim.Contradictions++
	claim.recompute()
	claim.UpdatedAt = g.now()
	claim.History = append(claim.History, VerificationEvent{
		At:          g.now(),
		Kind:        VerificationContradicted,
		Domain:      strings.Join(opposingDomains, ","),
		BeforeScore: beforeScore,
		AfterScore:  claim.Score,
		BeforeLevel: beforeLevel,
		AfterLevel:  claim.Level,
	})
}

// Get returns a copy of one claim.
func (g *Graph) Get(id string) (*Claim, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	claim, ok := g.claims[id]
	if !ok {
		return nil, false
	}
	return claim.clone(), true
}

// All returns copies of every claim, sorted by descending score then
// creation time.
func (g *Graph) All() []*Claim {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Claim, 0, len(g.claims))
	for _, claim := range g.claims {
		out = append(out, claim.clone())
	}
	sortClaims(out)
	return out
}

// ForQuestion returns copies of the claims tagged to a question, sorted by
// descending score.
func (g *Graph) ForQuestion(questionID string) []*Claim {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := g.byQuestion[questionID]
	out := make([]*Claim, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.claims[id].clone())
	}
	sortClaims(out)
	return out
}

// BestAnswer returns the highest-scoring claim for a question.
func (g *Graph) BestAnswer(questionID string) (*Claim, bool) {
	ranked := g.ForQuestion(questionID)
	if len(ranked) == 0 {
		return nil, false
	}
	return ranked[0], true
}

// QuestionConfidence is the maximum claim score recorded for a question.
func (g *Graph) QuestionConfidence(questionID string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	best := 0.0
	for _, id := range g.byQuestion[questionID] {
		if s := g.claims[id].Score; s > best {
			best = s
		}
	}
	return best
}

// OverallConfidence aggregates run confidence: the mean of per-question
// maxima when question-tagged claims exist, otherwise the maximum over all
// claims. An empty graph reports zero.
func (g *Graph) OverallConfidence() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.byQuestion) > 0 {
		sum := 0.0
		for _, ids := range g.byQuestion {
			best := 0.0
			for _, id := range ids {
				if s := g.claims[id].Score; s > best {
					best = s
				}
			}
			sum += best
		}
		return sum / float64(len(g.byQuestion))
	}

	best := 0.0
	for _, claim := range g.claims {
		if claim.Score > best {
			best = claim.Score
		}
	}
	return best
}

// Stats summarizes the graph.
func (g *Graph) Stats() GraphStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	stats := GraphStats{
		Total:          len(g.claims),
		ByLevel:        make(map[Level]int),
		Contradictions: len(g.edges),
		Questions:      len(g.byQuestion),
	}
	for _, claim := range g.claims {
		stats.ByLevel[claim.Level]++
	}
	return stats
}

// Edges returns all contradiction relationships sorted for determinism.
func (g *Graph) Edges() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// ExportState dumps every claim and contradiction edge.
func (g *Graph) ExportState() *Export {
	all := g.All()
	out := &Export{Version: ExportVersion, ExportedAt: g.now(), Edges: g.Edges()}
	out.Claims = make([]Claim, 0, len(all))
	for _, claim := range all {
		out.Claims = append(out.Claims, *claim)
	}
	return out
}

// ImportState replaces the graph's contents with a previously exported
// snapshot. Malformed payloads are rejected before any mutation.
func (g *Graph) ImportState(exported *Export) error {
	if exported == nil {
		return fmt.Errorf("claims import: nil payload")
	}
	if exported.Version != ExportVersion {
		return fmt.Errorf("claims import: unsupported version %d (want %d)", exported.Version, ExportVersion)
	}
	for i, claim := range exported.Claims {
		if claim.ID == "" {
			return fmt.Errorf("claims import: claim %d has empty id", i)
		}
		if !claim.Level.valid() {
			return fmt.Errorf("claims import: claim %s has unknown level %q", claim.ID, claim.Level)
		}
		if claim.Score < 0 || claim.Score > 1 {
			return fmt.Errorf("claims import: claim %s score %f out of range", claim.ID, claim.Score)
		}
		if len(claim.Sources) == 0 {
			return fmt.Errorf("claims import: claim %s has no sources", claim.ID)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetLocked()
	for i := range exported.Claims {
		claim := exported.Claims[i]
		stored := claim.clone()
		g.claims[stored.ID] = stored
		bucket := bucketKey(stored.Category, stored.Field)
		g.byBucket[bucket] = append(g.byBucket[bucket], stored.ID)
		if stored.QuestionID != "" {
			g.byQuestion[stored.QuestionID] = append(g.byQuestion[stored.QuestionID], stored.ID)
		}
		g.indexLocked(stored)
	}
	for _, e := range exported.Edges {
		g.edges[edgeKey(e.A, e.B)] = e
	}
	g.logger.Printf("imported %d claims, %d contradiction edges", len(exported.Claims), len(exported.Edges))
	return nil
}

// Clear removes every claim and edge.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetLocked()
}

// Sweep drops claims not updated within maxAge along with their edges and
// returns how many were removed. Zero maxAge disables sweeping.
func (g *Graph) Sweep(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := g.now().Add(-maxAge)

	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for id, claim := range g.claims {
		if !claim.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(g.claims, id)
		g.removeFromBucketLocked(bucketKey(claim.Category, claim.Field), id)
		if claim.QuestionID != "" {
			g.removeFromQuestionLocked(claim.QuestionID, id)
		}
		for key, e := range g.edges {
			if e.A == id || e.B == id {
				delete(g.edges, key)
			}
		}
		if g.index != nil {
			if err := g.index.Remove(id); err != nil {
				g.logger.Printf("index remove %s: %v", id, err)
			}
		}
		removed++
	}
	if removed > 0 {
		g.logger.Printf("swept %d stale claims", removed)
	}
	return removed
}

// Search runs a free-text query over claim texts and returns copies of the
// matching claims, best first.
func (g *Graph) Search(query string, limit int) ([]*Claim, error) {
	g.mu.Lock()
	idx := g.index
	g.mu.Unlock()
	if idx == nil {
		return nil, fmt.Errorf("claim search index unavailable")
	}
	ids, err := idx.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("claim search: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Claim, 0, len(ids))
	for _, id := range ids {
		if claim, ok := g.claims[id]; ok {
			out = append(out, claim.clone())
		}
	}
	return out, nil
}

func (g *Graph) resetLocked() {
	g.claims = make(map[string]*Claim)
	g.byBucket = make(map[string][]string)
	g.byQuestion = make(map[string][]string)
	g.edges = make(map[string]Edge)
	if g.index != nil {
		if err := g.index.Reset(); err != nil {
			g.logger.Printf("index reset: %v", err)
		}
	}
}

func (g *Graph) indexLocked(claim *Claim) {
	if g.index == nil {
		return
	}
	if err := g.index.Add(claim); err != nil {
		g.logger.Printf("index claim %s: %v", claim.ID, err)
	}
}

func (g *Graph) removeFromBucketLocked(bucket, id string) {
	g.byBucket[bucket] = removeID(g.byBucket[bucket], id)
	if len(g.byBucket[bucket]) == 0 {
		delete(g.byBucket, bucket)
	}
}

func (g *Graph) removeFromQuestionLocked(questionID, id string) {
	g.byQuestion[questionID] = removeID(g.byQuestion[questionID], id)
	if len(g.byQuestion[questionID]) == 0 {
		delete(g.byQuestion, questionID)
	}
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}

func sortClaims(claims []*Claim) {
	sort.SliceStable(claims, func(i, j int) bool {
		if claims[i].Score != claims[j].Score {
			return claims[i].Score > claims[j].Score
		}
		if claims[i].Corroborations != claims[j].Corroborations {
			return claims[i].Corroborations > claims[j].Corroborations
		}
		return claims[i].CreatedAt.Before(claims[j].CreatedAt)
	})
}

func bucketKey(category research.Category, field string) string {
	return string(category) + "|" + strings.ToLower(field)
}

func edgeKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
