package helpers

import (
	"fmt"
	"strings"
	"time"
)

// Citation carries what a report needs to attribute one claim source: its
// position in the answer's source list, the page, the trust tier of its
// domain and when the content was published or retrieved.
type Citation struct {
	Ref       int
	Title     string
	URL       string
	Snippet   string
	Tier      int
	Published time.Time
	Accessed  time.Time
}

type citationConfig struct {
	maxSnippet int
}

// CitationOption configures citation formatting.
type CitationOption func(*citationConfig)

// WithMaxSnippetLength truncates snippets to the provided length (default 180).
func WithMaxSnippetLength(n int) CitationOption {
	return func(cfg *citationConfig) {
		if n > 0 {
			cfg.maxSnippet = n
		}
	}
}

// FormatCitation renders one citation in a fixed layout:
// [ref] Title — "Snippet" (domain, tier N, YYYY-MM-DD) <URL>
// Zero-valued fields drop out of the line instead of printing placeholders.
func FormatCitation(c Citation, opts ...CitationOption) string {
	cfg := citationConfig{maxSnippet: 180}
	for _, opt := range opts {
		opt(&cfg)
	}

	ref := c.Ref
	if ref <= 0 {
		ref = 1
	}
	parts := []string{fmt.Sprintf("[%d]", ref)}

	if title := strings.TrimSpace(c.Title); title != "" {
		parts = append(parts, title)
	}
	if snippet := Snippet(c.Snippet, cfg.maxSnippet); snippet != "" {
		parts = append(parts, `— "`+snippet+`"`)
	}
	if meta := citationMeta(c); meta != "" {
		parts = append(parts, "("+meta+")")
	}
	if link := strings.TrimSpace(c.URL); link != "" {
		parts = append(parts, "<"+link+">")
	}
	return strings.Join(parts, " ")
}

// FormatCitations renders a source list in order.
func FormatCitations(citations []Citation, opts ...CitationOption) []string {
	if len(citations) == 0 {
		return nil
	}
	out := make([]string, 0, len(citations))
	for _, c := range citations {
		out = append(out, FormatCitation(c, opts...))
	}
	return out
}

func citationMeta(c Citation) string {
	var fields []string
	if domain, err := Domain(c.URL); err == nil {
		fields = append(fields, domain)
	}
	if c.Tier >= 1 && c.Tier <= 5 {
		fields = append(fields, fmt.Sprintf("tier %d", c.Tier))
	}
	switch {
	case !c.Published.IsZero():
		fields = append(fields, c.Published.Format("2006-01-02"))
	case !c.Accessed.IsZero():
		fields = append(fields, "retrieved "+c.Accessed.Format("2006-01-02"))
	}
	return strings.Join(fields, ", ")
}
