package helpers

import (
	"strings"
	"time"
)

// PageMark is what the driver remembers about a page it has already
// rendered: the content fingerprint and when it last saw it.
type PageMark struct {
	Hash   string
	SeenAt time.Time
}

// RevisitResult reports how freshly rendered text relates to the previous
// mark for the same page key.
type RevisitResult struct {
	Hash    string
	Changed bool
	Expired bool
	Age     time.Duration
}

// ContentHash fingerprints page text after whitespace collapsing and case
// folding, so cosmetic re-renders of the same content hash identically.
func ContentHash(content string) string {
	content = strings.TrimSpace(content)
	if content != "" {
		content = strings.ToLower(strings.Join(strings.Fields(content), " "))
	}
	return Fingerprint(content)
}

// CheckRevisit compares content against the previous mark. A zero-valued
// mark always reads as changed (first visit). maxAge bounds how long a
// mark stays trustworthy; 0 disables expiry.
func CheckRevisit(prev PageMark, content string, now time.Time, maxAge time.Duration) RevisitResult {
	result := RevisitResult{Hash: ContentHash(content)}
	result.Changed = prev.Hash == "" || prev.Hash != result.Hash

	if !prev.SeenAt.IsZero() && !now.IsZero() {
		result.Age = now.Sub(prev.SeenAt)
		if maxAge > 0 && result.Age >= maxAge {
			result.Expired = true
		}
	}
	return result
}
