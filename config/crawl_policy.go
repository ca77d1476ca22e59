package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CrawlPolicyConfig configures domain-level crawling rules for the browser
// adapter. Disallowed hosts are never fetched, paywalled hosts are skipped
// with an explicit reason, allowed hosts bypass the robots gate.
type CrawlPolicyConfig struct {
	RespectRobots bool     `mapstructure:"respect_robots" json:"respect_robots"`
	Allow         []string `mapstructure:"allow" json:"allow"`
	Disallow      []string `mapstructure:"disallow" json:"disallow"`
	Paywall       []string `mapstructure:"paywall" json:"paywall"`
}

// Verdict is the per-host crawl decision.
type Verdict int

const (
	VerdictDefault Verdict = iota // no policy entry, robots gate applies
	VerdictAllow                  // fetch without consulting robots
	VerdictDeny                   // never fetch
	VerdictPaywall                // skip, content is behind a paywall
)

// Normalize cleans entries and removes duplicates.
func (c CrawlPolicyConfig) Normalize() CrawlPolicyConfig {
	norm := c
	norm.Allow = sanitizeDomainList(norm.Allow)
	norm.Disallow = sanitizeDomainList(norm.Disallow)
	norm.Paywall = sanitizeDomainList(norm.Paywall)
	return norm
}

// Validate ensures configured policy entries do not conflict and are well-formed.
func (c CrawlPolicyConfig) Validate() error {
	norm := c.Normalize()

	allow := make(map[string]struct{}, len(norm.Allow))
	for _, host := range norm.Allow {
		allow[host] = struct{}{}
	}
	disallow := make(map[string]struct{}, len(norm.Disallow))
	for _, host := range norm.Disallow {
		if _, ok := allow[host]; ok {
			return fmt.Errorf("crawl policy conflict: host %q present in both allow and disallow lists", host)
		}
		disallow[host] = struct{}{}
	}
	for _, host := range norm.Paywall {
		if host == "" {
			return fmt.Errorf("crawl policy paywall entry must not be empty")
		}
		if _, ok := disallow[host]; ok {
			return fmt.Errorf("crawl policy conflict: host %q marked disallow and paywall", host)
		}
	}
	return nil
}

// Decision returns the policy verdict for a host. Deny wins over paywall,
// paywall over allow. Unlisted hosts get the default verdict.
func (c CrawlPolicyConfig) Decision(host string) Verdict {
	h := normalizeHost(host)
	if h == "" {
		return VerdictDefault
	}
	for _, d := range c.Disallow {
		if h == d || strings.HasSuffix(h, "."+d) {
			return VerdictDeny
		}
	}
	for _, p := range c.Paywall {
		if h == p || strings.HasSuffix(h, "."+p) {
			return VerdictPaywall
		}
	}
	for _, a := range c.Allow {
		if h == a || strings.HasSuffix(h, "."+a) {
			return VerdictAllow
		}
	}
	return VerdictDefault
}

func sanitizeDomainList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	for _, raw := range values {
		host := normalizeHost(raw)
		if host == "" {
			continue
		}
		seen[host] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for host := range seen {
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}

func normalizeHost(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if u, err := url.Parse(value); err == nil && u.Host != "" {
			return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		}
	}
	value = strings.TrimPrefix(value, "www.")
	return value
}
