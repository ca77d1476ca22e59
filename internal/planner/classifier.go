package planner

import (
	"context"
	"sort"
	"strings"

	"github.com/scourhq/scour/internal/research"
)

// Classifier detects which research categories an objective touches. The
// keyword classifier below is the default; callers can swap in a smarter
// implementation (an LLM-backed one lives in tools/classify) without the
// planner caring.
type Classifier interface {
	Classify(ctx context.Context, query, hint string) ([]research.Category, error)
}

// categoryKeywords drive the default classifier. Matching is substring-based
// over the lower-cased query and context, so multi-word cues like "how much"
// work without tokenization.
var categoryKeywords = map[research.Category][]string{
	research.CategoryPricing: {
		"price", "pricing", "cost", "how much", "subscription", "per seat",
		"per user", "plan", "tier", "fee", "billing", "license", "quote",
		"discount", "free trial",
	},
	research.CategorySecurity: {
		"security", "vulnerability", "vulnerabilities", "cve", "breach",
		"exploit", "soc 2", "soc2", "iso 27001", "compliance", "gdpr",
		"hipaa", "encryption", "pentest", "audit", "incident",
	},
	research.CategoryCompanyInfo: {
		"company", "founded", "founder", "funding", "revenue", "employees",
		"headquarters", "headquartered", "ceo", "acquisition", "acquired",
		"valuation", "investors", "series a", "series b", "ipo", "who owns",
		"who makes", "who is behind",
	},
	research.CategoryTechnical: {
		"api", "sdk", "integration", "integrates", "architecture", "latency",
		"performance", "benchmark", "stack", "framework", "self-hosted",
		"open source", "open-source", "deploy", "kubernetes", "on-prem",
		"documentation", "supports",
	},
}

// KeywordClassifier is the default, dependency-free classifier.
type KeywordClassifier struct{}

// Classify returns every category whose keyword table matches the objective,
// most matches first. An objective matching nothing classifies as general.
func (KeywordClassifier) Classify(_ context.Context, query, hint string) ([]research.Category, error) {
	haystack := strings.ToLower(query + " " + hint)

	type hit struct {
		category research.Category
		count    int
	}
	hits := make([]hit, 0, len(categoryKeywords))
	for category, words := range categoryKeywords {
		n := 0
		for _, w := range words {
			if strings.Contains(haystack, w) {
				n++
			}
		}
		if n > 0 {
			hits = append(hits, hit{category, n})
		}
	}
	if len(hits) == 0 {
		return []research.Category{research.CategoryGeneral}, nil
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].count != hits[j].count {
			return hits[i].count > hits[j].count
		}
		return hits[i].category < hits[j].category
	})

	out := make([]research.Category, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.category)
	}
	return out, nil
}
