// Package trust implements the source-intelligence engine: domain tier
// classification, five-dimension quality scoring, consistency feedback from
// cross-source agreement and avoid/rank decisions for the planner.
package trust

import (
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/scourhq/scour/internal/helpers"
	"github.com/scourhq/scour/internal/research"
)

// ExportVersion tags trust export payloads.
const ExportVersion = 1

// Dimension weights for the overall score.
const (
	weightAuthority   = 0.30
	weightOriginality = 0.25
	weightFreshness   = 0.15
	weightSpecificity = 0.20
	weightConsistency = 0.10
)

// smoothingAlpha drives the exponential updates for consistency and visit
// success tracking.
const smoothingAlpha = 0.2

// avoidSuccessFloor is the decayed success rate below which a domain is
// skipped entirely.
const avoidSuccessFloor = 0.2

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// DomainScore is the engine's full opinion of one domain.
type DomainScore struct {
	Domain      string        `json:"domain"`
	Tier        research.Tier `json:"tier"`
	Authority   float64       `json:"authority"`
	Originality float64       `json:"originality"`
	Freshness   float64       `json:"freshness"`
	Specificity float64       `json:"specificity"`
	Consistency float64       `json:"consistency"`
	Overall     float64       `json:"overall"`
	SuccessRate float64       `json:"success_rate"`
	SampleSize  int           `json:"sample_size"`
	LastUpdated time.Time     `json:"last_updated"`
}

// ClaimView is the neutral shape UpdateConsistency consumes: one claim's
// question, its normalized value key and the domains that reported it.
// Views sharing a question but differing in value key are disagreements.
type ClaimView struct {
	QuestionID string
	ValueKey   string
	Domains    []string
}

// Export is the persistable form of the engine's score map.
type Export struct {
	Version    int           `json:"version"`
	ExportedAt time.Time     `json:"exported_at"`
	Scores     []DomainScore `json:"scores"`
}

// Engine holds the domain score map. Scores are created lazily on first
// encounter and are only removed by an explicit Sweep.
type Engine struct {
	mu     sync.RWMutex
	scores map[string]*DomainScore
	// content hash → first domain seen publishing it, for originality
	// erosion when other domains republish the same content.
	contentSeen map[string]string
	// operator-pinned tiers, consulted before the deny list and rules.
	overrides map[string]research.Tier
	logger    *log.Logger
	now       func() time.Time
}

// NewEngine builds an empty source-intelligence engine.
func NewEngine(logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[TRUST] ", log.LstdFlags)
	}
	return &Engine{
		scores:      make(map[string]*DomainScore),
		contentSeen: make(map[string]string),
		overrides:   make(map[string]research.Tier),
		logger:      logger,
		now:         time.Now,
	}
}

// SetTierOverrides pins tiers for specific domains, winning over the deny
// list and the static rules. Invalid tiers are skipped. Already-scored
// domains are re-tiered in place; learned dimensions are kept.
func (e *Engine) SetTierOverrides(overrides map[string]research.Tier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for domain, tier := range overrides {
		d := normalize(domain)
		if d == "" || !tier.Valid() {
			continue
		}
		e.overrides[d] = tier
		if s, ok := e.scores[d]; ok {
			s.Tier = tier
			s.LastUpdated = e.now()
		}
	}
}

// ClassifyDomain returns the trust tier for a domain: operator overrides
// first, then the deny list, then the static tier rules, defaulting to the
// neutral tier for unknowns.
func (e *Engine) ClassifyDomain(domain string) research.Tier {
	d := normalize(domain)
	e.mu.RLock()
	t, pinned := e.overrides[d]
	e.mu.RUnlock()
	if pinned {
		return t
	}
	if denied(d) {
		return research.TierPenalized
	}
	tier, _ := matchTier(d)
	return tier
}

// ScoreDomain computes or refreshes the five-dimension score for a domain.
// content is an optional page-text sample; when empty only the tier-derived
// priors apply. The returned score is a copy.
func (e *Engine) ScoreDomain(domain, content string) DomainScore {
	d := normalize(domain)
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.ensureLocked(d)
	if content != "" {
		s.Freshness = e.freshness(content)
		s.Specificity = specificity(content)
		e.applyOriginalityLocked(s, content)
	}
	s.Overall = overall(s)
	s.SampleSize++
	s.LastUpdated = e.now()
	return *s
}

// RecordVisit folds one visit outcome (did the page yield extractable
// data?) into the domain's decayed success rate.
func (e *Engine) RecordVisit(domain string, success bool) {
	d := normalize(domain)
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.ensureLocked(d)
	target := 0.0
	if success {
		target = 1.0
	}
	s.SuccessRate = smooth(s.SuccessRate, target)
	s.SampleSize++
	s.LastUpdated = e.now()
}

// UpdateConsistency recomputes cross-source agreement. For every pair of
// domains reporting on the same question, agreement (same value key) pulls
// both consistency scores toward 1.0 and disagreement toward 0.0, with
// exponential smoothing. Domains sharing one merged claim agree with each
// other.
func (e *Engine) UpdateConsistency(views []ClaimView) {
	byQuestion := make(map[string][]ClaimView)
	for _, v := range views {
		if v.QuestionID == "" {
			continue
		}
		byQuestion[v.QuestionID] = append(byQuestion[v.QuestionID], v)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, group := range byQuestion {
		for i := range group {
			// Domains within one view corroborate the same value.
			e.pairwiseLocked(group[i].Domains, group[i].Domains, true)
			for j := i + 1; j < len(group); j++ {
				agree := group[i].ValueKey == group[j].ValueKey
				e.pairwiseLocked(group[i].Domains, group[j].Domains, agree)
			}
		}
	}
}

func (e *Engine) pairwiseLocked(left, right []string, agree bool) {
	target := 0.0
	if agree {
		target = 1.0
	}
	touched := make(map[string]struct{})
	for _, a := range left {
		for _, b := range right {
			da, db := normalize(a), normalize(b)
			if da == db {
				continue
			}
			for _, d := range []string{da, db} {
				if _, done := touched[d]; done {
					continue
				}
				touched[d] = struct{}{}
				s := e.ensureLocked(d)
				s.Consistency = smooth(s.Consistency, target)
				s.Overall = overall(s)
				s.LastUpdated = e.now()
			}
		}
	}
}

// ShouldAvoid reports whether a domain is not worth visiting: deny-listed,
// bottom tier, or persistently failing to yield data. A pinned tier bypasses
// the deny list but not the failure-rate check.
func (e *Engine) ShouldAvoid(domain string) bool {
	d := normalize(domain)
	e.mu.RLock()
	defer e.mu.RUnlock()
	if t, pinned := e.overrides[d]; pinned {
		if s, ok := e.scores[d]; ok {
			return t == research.TierPenalized || s.SuccessRate < avoidSuccessFloor
		}
		return t == research.TierPenalized
	}
	if denied(d) {
		return true
	}
	if s, ok := e.scores[d]; ok {
		return s.Tier == research.TierPenalized || s.SuccessRate < avoidSuccessFloor
	}
	tier, _ := matchTier(d)
	return tier == research.TierPenalized
}

// RankDomains filters avoided domains and sorts the rest by tier ascending
// then overall score descending. Tier always dominates: a worse-scored
// domain in a better tier outranks any domain in a lower tier.
func (e *Engine) RankDomains(domains []string) []DomainScore {
	ranked := make([]DomainScore, 0, len(domains))
	seen := make(map[string]struct{}, len(domains))
	for _, domain := range domains {
		d := normalize(domain)
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		if e.ShouldAvoid(d) {
			continue
		}
		e.mu.Lock()
		s := *e.ensureLocked(d)
		e.mu.Unlock()
		ranked = append(ranked, s)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Tier != ranked[j].Tier {
			return ranked[i].Tier < ranked[j].Tier
		}
		return ranked[i].Overall > ranked[j].Overall
	})
	return ranked
}

// Candidates returns the ranked seed domains for a category, truncated to
// limit (0 means all).
func (e *Engine) Candidates(category research.Category, limit int) []DomainScore {
	seeds, ok := categorySeeds[category]
	if !ok {
		seeds = categorySeeds[research.CategoryGeneral]
	}
	ranked := e.RankDomains(seeds)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// Get returns a copy of the stored score for a domain, if any.
func (e *Engine) Get(domain string) (DomainScore, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.scores[normalize(domain)]
	if !ok {
		return DomainScore{}, false
	}
	return *s, true
}

// Len reports how many domains have scores.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.scores)
}

// ExportState dumps every domain score, sorted by domain for determinism.
func (e *Engine) ExportState() *Export {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := &Export{Version: ExportVersion, ExportedAt: e.now()}
	for _, s := range e.scores {
		out.Scores = append(out.Scores, *s)
	}
	sort.Slice(out.Scores, func(i, j int) bool { return out.Scores[i].Domain < out.Scores[j].Domain })
	return out
}

// ImportState restores a previously exported score map. Malformed payloads
// are rejected wholesale so a corrupted snapshot cannot half-load.
func (e *Engine) ImportState(exported *Export) error {
	if exported == nil {
		return fmt.Errorf("trust import: nil payload")
	}
	if exported.Version != ExportVersion {
		return fmt.Errorf("trust import: unsupported version %d (want %d)", exported.Version, ExportVersion)
	}
	for i, s := range exported.Scores {
		if s.Domain == "" {
			return fmt.Errorf("trust import: score %d has empty domain", i)
		}
		if !s.Tier.Valid() {
			return fmt.Errorf("trust import: %s has invalid tier %d", s.Domain, s.Tier)
		}
		for name, v := range map[string]float64{
			"authority": s.Authority, "originality": s.Originality,
			"freshness": s.Freshness, "specificity": s.Specificity,
			"consistency": s.Consistency, "success_rate": s.SuccessRate,
		} {
			if v < 0 || v > 1 {
				return fmt.Errorf("trust import: %s dimension %s=%s out of range",
					s.Domain, name, strconv.FormatFloat(v, 'g', -1, 64))
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range exported.Scores {
		copied := s
		copied.Domain = normalize(s.Domain)
		e.scores[copied.Domain] = &copied
	}
	e.logger.Printf("imported %d domain scores", len(exported.Scores))
	return nil
}

// Sweep removes scores not updated within maxAge and returns how many were
// dropped. Scores are otherwise kept for the life of the process; callers
// opt into decay by scheduling this.
func (e *Engine) Sweep(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := e.now().Add(-maxAge)
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for domain, s := range e.scores {
		if s.LastUpdated.Before(cutoff) {
			delete(e.scores, domain)
			removed++
		}
	}
	if removed > 0 {
		e.logger.Printf("swept %d stale domain scores", removed)
	}
	return removed
}

// ensureLocked returns the score for d, creating it with tier-derived
// priors on first encounter. Callers hold e.mu.
func (e *Engine) ensureLocked(d string) *DomainScore {
	if s, ok := e.scores[d]; ok {
		return s
	}
	tier := research.TierNeutral
	if t, pinned := e.overrides[d]; pinned {
		tier = t
	} else if denied(d) {
		tier = research.TierPenalized
	} else if t, matched := matchTier(d); matched {
		tier = t
	}
	s := &DomainScore{
		Domain:      d,
		Tier:        tier,
		Authority:   authorityPrior(tier),
		Originality: originalityPrior(tier),
		Freshness:   0.5,
		Specificity: 0.5,
		Consistency: 0.5,
		SuccessRate: 1.0,
		LastUpdated: e.now(),
	}
	s.Overall = overall(s)
	e.scores[d] = s
	return s
}

// freshness infers recency from the most recent year-like token in the
// content, decayed per year of age. No dates means neutral.
func (e *Engine) freshness(content string) float64 {
	currentYear := e.now().Year()
	best := 0
	for _, match := range yearPattern.FindAllString(content, -1) {
		year, err := strconv.Atoi(match)
		if err != nil || year > currentYear {
			continue
		}
		if year > best {
			best = year
		}
	}
	if best == 0 {
		return 0.5
	}
	return clamp(1.0 - 0.2*float64(currentYear-best))
}

// specificity rewards substantial content and penalizes stubs.
func specificity(content string) float64 {
	words := len(strings.Fields(content))
	switch {
	case words > 500:
		return 0.75
	case words < 100:
		return 0.25
	default:
		return 0.5
	}
}

// applyOriginalityLocked erodes originality when this domain republishes
// content first seen elsewhere.
func (e *Engine) applyOriginalityLocked(s *DomainScore, content string) {
	hash := helpers.Fingerprint(content)
	first, seen := e.contentSeen[hash]
	if !seen {
		e.contentSeen[hash] = s.Domain
		return
	}
	if first != s.Domain {
		s.Originality = clampFloor(s.Originality*0.9, 0.1)
	}
}

func overall(s *DomainScore) float64 {
	return clamp(weightAuthority*s.Authority +
		weightOriginality*s.Originality +
		weightFreshness*s.Freshness +
		weightSpecificity*s.Specificity +
		weightConsistency*s.Consistency)
}

func smooth(current, target float64) float64 {
	return clamp((1-smoothingAlpha)*current + smoothingAlpha*target)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampFloor(v, floor float64) float64 {
	if v < floor {
		return floor
	}
	return v
}

func normalize(domain string) string {
	d, err := helpers.Domain(domain)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(domain))
	}
	return d
}
