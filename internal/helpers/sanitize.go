package helpers

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	textPolicyOnce sync.Once
	textPolicy     *bluemonday.Policy
)

func strictPolicy() *bluemonday.Policy {
	textPolicyOnce.Do(func() {
		textPolicy = bluemonday.StrictPolicy()
	})
	return textPolicy
}

// PlainText strips every HTML element, attribute and script from s and
// trims the result. Extracted page text passes through here before it is
// hashed, cached or turned into claims, so stored state never carries
// markup from arbitrary web servers.
func PlainText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(strictPolicy().Sanitize(s))
}

// Snippet reduces s to one sanitized line of at most max runes, appending
// an ellipsis when it truncates. max <= 0 leaves the length unbounded.
// Search-result descriptions and claim excerpts render through this before
// they reach reports or logs; search APIs in particular decorate snippets
// with <strong> markers that must not leak into stored text.
func Snippet(s string, max int) string {
	s = PlainText(s)
	if s == "" {
		return ""
	}
	s = strings.Join(strings.Fields(s), " ")
	if max > 0 {
		if runes := []rune(s); len(runes) > max {
			s = strings.TrimSpace(string(runes[:max])) + "…"
		}
	}
	return s
}
