// Package claims implements the verification engine: deduplication of
// extracted facts into claims, corroboration and contradiction accounting,
// and the confidence arithmetic that turns source quality into calibrated
// levels.
package claims

import (
	"fmt"
	"strings"
	"time"

	"github.com/scourhq/scour/internal/research"
)

// Level is the calibrated confidence bucket of a claim.
type Level string

const (
	LevelVerified     Level = "verified"
	LevelHigh         Level = "high"
	LevelMedium       Level = "medium"
	LevelLow          Level = "low"
	LevelUncertain    Level = "uncertain"
	LevelContradicted Level = "contradicted"
)

func (l Level) valid() bool {
	switch l {
	case LevelVerified, LevelHigh, LevelMedium, LevelLow, LevelUncertain, LevelContradicted:
		return true
	}
	return false
}

// Source is one observation backing a claim.
type Source struct {
	URL         string        `json:"url"`
	Domain      string        `json:"domain"`
	Tier        research.Tier `json:"tier"`
	Timestamp   time.Time     `json:"timestamp"`
	ContentHash string        `json:"content_hash,omitempty"`
}

// VerificationKind labels entries in a claim's verification history.
type VerificationKind string

const (
	VerificationCorroborated VerificationKind = "corroborated"
	VerificationContradicted VerificationKind = "contradicted"
)

// VerificationEvent records one confidence-changing observation.
type VerificationEvent struct {
	At          time.Time        `json:"at"`
	Kind        VerificationKind `json:"kind"`
	Domain      string           `json:"domain,omitempty"`
	BeforeScore float64          `json:"before_score"`
	AfterScore  float64          `json:"after_score"`
	BeforeLevel Level            `json:"before_level"`
	AfterLevel  Level            `json:"after_level"`
}

// Claim is one deduplicated, source-tracked assertion about a single
// normalized value. Claims are only ever removed by Clear or an explicit
// sweep.
type Claim struct {
	ID             string              `json:"id"`
	Text           string              `json:"text"`
	Field          string              `json:"field"`
	Value          research.Value      `json:"value"`
	Category       research.Category   `json:"category"`
	QuestionID     string              `json:"question_id,omitempty"`
	Sources        []Source            `json:"sources"`
	PrimaryTier    research.Tier       `json:"primary_tier"`
	Corroborations int                 `json:"corroborations"`
	Contradictions int                 `json:"contradictions"`
	Level          Level               `json:"level"`
	Score          float64             `json:"score"`
	History        []VerificationEvent `json:"history,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// UniqueDomains counts distinct source domains.
func (c *Claim) UniqueDomains() int {
	seen := make(map[string]struct{}, len(c.Sources))
	for _, s := range c.Sources {
		seen[s.Domain] = struct{}{}
	}
	return len(seen)
}

// Domains lists the distinct source domains in first-seen order.
func (c *Claim) Domains() []string {
	seen := make(map[string]struct{}, len(c.Sources))
	out := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		if _, dup := seen[s.Domain]; dup {
			continue
		}
		seen[s.Domain] = struct{}{}
		out = append(out, s.Domain)
	}
	return out
}

func (c *Claim) hasDomain(domain string) bool {
	for _, s := range c.Sources {
		if s.Domain == domain {
			return true
		}
	}
	return false
}

// clone returns a defensive copy so callers never hold references into the
// graph's mutable state.
func (c *Claim) clone() *Claim {
	copied := *c
	copied.Sources = append([]Source(nil), c.Sources...)
	copied.History = append([]VerificationEvent(nil), c.History...)
	return &copied
}

// tierBaseline is the confidence floor contributed by the primary source
// tier.
func tierBaseline(t research.Tier) float64 {
	switch t {
	case research.TierOfficial:
		return 0.7
	case research.TierFirstParty:
		return 0.5
	case research.TierNeutral:
		return 0.35
	case research.TierForum:
		return 0.2
	case research.TierPenalized:
		return 0.1
	default:
		return 0.35
	}
}

// recompute derives the confidence score and level from the claim's
// counters:
//
//	score = baseline(tier) + min(0.1·corroborations, 0.3)
//	        + min(0.05·(uniqueDomains−1), 0.15) − 0.2·contradictions
//
// clamped to [0,1]. VERIFIED requires independent support (≥2
// corroborations or a top-two tier), zero contradictions and a score of at
// least 0.7; CONTRADICTED requires a contradiction with a score below 0.3;
// otherwise the score maps through the HIGH/MEDIUM/LOW thresholds.
func (c *Claim) recompute() {
	corrBonus := 0.1 * float64(c.Corroborations)
	if corrBonus > 0.3 {
		corrBonus = 0.3
	}
	domainBonus := 0.0
	if unique := c.UniqueDomains(); unique > 1 {
		domainBonus = 0.05 * float64(unique-1)
		if domainBonus > 0.15 {
			domainBonus = 0.15
		}
	}
	score := tierBaseline(c.PrimaryTier) + corrBonus + domainBonus - 0.2*float64(c.Contradictions)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	c.Score = score

	switch {
	case (c.Corroborations >= 2 || c.PrimaryTier <= research.TierFirstParty) &&
		c.Contradictions == 0 && score >= 0.7:
		c.Level = LevelVerified
	case c.Contradictions > 0 && score < 0.3:
		c.Level = LevelContradicted
	case score >= 0.7:
		c.Level = LevelHigh
	case score >= 0.5:
		c.Level = LevelMedium
	case score >= 0.25:
		c.Level = LevelLow
	default:
		c.Level = LevelUncertain
	}
}

// claimText composes the human-readable form from the field name and the
// originally observed value.
func claimText(field string, value research.Value) string {
	label := strings.ReplaceAll(field, "_", " ")
	return fmt.Sprintf("%s: %s", label, value.String())
}
