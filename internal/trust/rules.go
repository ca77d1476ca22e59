package trust

import (
	"regexp"
	"strings"

	"github.com/scourhq/scour/internal/research"
)

// denyList holds domains presumed low-signal regardless of tier rules:
// social platforms and commerce marketplaces. Checked before everything
// else during classification.
var denyList = map[string]struct{}{
	"facebook.com":   {},
	"twitter.com":    {},
	"x.com":          {},
	"instagram.com":  {},
	"tiktok.com":     {},
	"pinterest.com":  {},
	"snapchat.com":   {},
	"amazon.com":     {},
	"ebay.com":       {},
	"aliexpress.com": {},
	"etsy.com":       {},
	"temu.com":       {},
	"walmart.com":    {},
}

type tierRule struct {
	pattern *regexp.Regexp
	tier    research.Tier
}

// tierRules are evaluated in order after the deny-list; the first match
// wins. Unmatched domains fall through to the neutral tier.
var tierRules = []tierRule{
	// Tier 1: government, military, academic, standards bodies, official
	// documentation and code hosting.
	{regexp.MustCompile(`\.gov(\.[a-z]{2})?$`), research.TierOfficial},
	{regexp.MustCompile(`\.mil$`), research.TierOfficial},
	{regexp.MustCompile(`\.edu$`), research.TierOfficial},
	{regexp.MustCompile(`^(docs|documentation|developers?)\.`), research.TierOfficial},
	{regexp.MustCompile(`^(github|gitlab|bitbucket)\.(com|org|io)$`), research.TierOfficial},
	{regexp.MustCompile(`^(ietf|w3|iso|ieee|owasp)\.org$`), research.TierOfficial},
	{regexp.MustCompile(`^developer\.mozilla\.org$`), research.TierOfficial},

	// Tier 2: first-party blogs, professional networks, funding databases.
	{regexp.MustCompile(`^(blog|engineering|eng|techblog)\.`), research.TierFirstParty},
	{regexp.MustCompile(`^linkedin\.com$`), research.TierFirstParty},
	{regexp.MustCompile(`^(crunchbase|pitchbook|dealroom)\.(com|co)$`), research.TierFirstParty},
	{regexp.MustCompile(`^angel\.co$`), research.TierFirstParty},

	// Tier 3: reputable news, analyst and review sites.
	{regexp.MustCompile(`^(reuters|apnews|bloomberg|ft|wsj|economist)\.com$`), research.TierNeutral},
	{regexp.MustCompile(`^(techcrunch|theverge|wired|arstechnica|zdnet|theregister)\.(com|co\.uk)$`), research.TierNeutral},
	{regexp.MustCompile(`^(g2|capterra|trustradius|gartner|forrester)\.com$`), research.TierNeutral},
	{regexp.MustCompile(`^([a-z]{2}\.)?wikipedia\.org$`), research.TierNeutral},

	// Tier 4: forums and Q&A communities.
	{regexp.MustCompile(`^(reddit|quora|medium)\.com$`), research.TierForum},
	{regexp.MustCompile(`(^|\.)stackexchange\.com$`), research.TierForum},
	{regexp.MustCompile(`^(stackoverflow|serverfault|superuser)\.com$`), research.TierForum},
	{regexp.MustCompile(`^news\.ycombinator\.com$`), research.TierForum},

	// Tier 5: content farms and SEO mills.
	{regexp.MustCompile(`^(ehow|answers|hubpages|articlesbase|ezinearticles)\.com$`), research.TierPenalized},
	{regexp.MustCompile(`-(review|top10|best)s?\d*\.(com|net|info)$`), research.TierPenalized},
	{regexp.MustCompile(`\.(info|biz)$`), research.TierPenalized},
}

// categorySeeds are the candidate domains the planner asks for when an
// objective's detected category has no explicitly known domains.
var categorySeeds = map[research.Category][]string{
	research.CategoryPricing: {
		"g2.com", "capterra.com", "trustradius.com", "getapp.com",
	},
	research.CategorySecurity: {
		"nvd.nist.gov", "cve.mitre.org", "owasp.org", "securityscorecard.com",
	},
	research.CategoryCompanyInfo: {
		"crunchbase.com", "linkedin.com", "bloomberg.com", "wikipedia.org", "pitchbook.com",
	},
	research.CategoryTechnical: {
		"github.com", "stackoverflow.com", "developer.mozilla.org", "news.ycombinator.com",
	},
	research.CategoryGeneral: {
		"wikipedia.org", "reuters.com", "apnews.com",
	},
}

// authorityPrior maps a tier to its authority dimension prior.
func authorityPrior(t research.Tier) float64 {
	switch t {
	case research.TierOfficial:
		return 0.95
	case research.TierFirstParty:
		return 0.80
	case research.TierNeutral:
		return 0.55
	case research.TierForum:
		return 0.35
	case research.TierPenalized:
		return 0.15
	default:
		return 0.55
	}
}

// originalityPrior maps a tier to its originality dimension prior; duplicate
// content observations erode it from there.
func originalityPrior(t research.Tier) float64 {
	switch t {
	case research.TierOfficial:
		return 0.80
	case research.TierFirstParty:
		return 0.70
	case research.TierNeutral:
		return 0.50
	case research.TierForum:
		return 0.35
	case research.TierPenalized:
		return 0.20
	default:
		return 0.50
	}
}

func denied(domain string) bool {
	if _, ok := denyList[domain]; ok {
		return true
	}
	// Subdomains inherit the platform's deny status.
	for root := range denyList {
		if strings.HasSuffix(domain, "."+root) {
			return true
		}
	}
	return false
}

func matchTier(domain string) (research.Tier, bool) {
	for _, rule := range tierRules {
		if rule.pattern.MatchString(domain) {
			return rule.tier, true
		}
	}
	return research.TierNeutral, false
}
