package browser

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/scourhq/scour/internal/research"
)

// Extract pulls schema fields off the page's readable text with
// deterministic heuristics: title-derived subjects, price/year/count
// patterns, keyword vocabularies and marker-anchored lists. No network
// traffic happens here, so results are safe to memoize. A page missing a
// required field yields no result at all.
func (d *Driver) Extract(ctx context.Context, page *research.PageContent, s research.ExtractionSchema) ([]research.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if page == nil || strings.TrimSpace(page.Text) == "" {
		return nil, nil
	}

	data := make(map[string]research.Value, len(s.Fields))
	for _, field := range s.Fields {
		if v := extractField(field, page); !v.IsZero() {
			data[field.Name] = v
		}
	}
	for _, field := range s.Fields {
		if !field.Required {
			continue
		}
		if _, ok := data[field.Name]; !ok {
			return nil, nil
		}
	}
	if len(data) == 0 {
		return nil, nil
	}

	return []research.ExtractionResult{{
		SchemaName:  s.Name,
		Data:        data,
		Confidence:  extractionConfidence(s, data),
		SourceURL:   page.URL,
		Timestamp:   time.Now(),
		ContentHash: page.ContentHash,
	}}, nil
}

// extractionConfidence grows with field coverage. The heuristics are
// conservative, so full coverage still stays below certainty.
func extractionConfidence(s research.ExtractionSchema, data map[string]research.Value) float64 {
	conf := 0.45 + 0.08*float64(len(data))
	if len(s.Fields) > 0 && len(data) == len(s.Fields) {
		conf += 0.05
	}
	if conf > 0.9 {
		conf = 0.9
	}
	return conf
}

func extractField(field research.SchemaField, page *research.PageContent) research.Value {
	text := page.Text
	switch field.Name {
	case "subject", "product_name", "company_name":
		return subjectValue(page)
	case "fact":
		if fact := firstFact(text); fact != "" {
			return research.Text(fact)
		}
	case "context":
		if title := strings.TrimSpace(page.Title); title != "" {
			return research.Text(title)
		}
	case "plan_name":
		if m := planPattern.FindStringSubmatch(text); m != nil {
			return research.Text(titleCase(m[1]))
		}
	case "monthly_price":
		if v, ok := priceNear(text, monthlyMarkers); ok {
			return research.Number(v)
		}
	case "annual_price":
		if v, ok := priceNear(text, annualMarkers); ok {
			return research.Number(v)
		}
	case "currency":
		if c := currencyOf(text); c != "" {
			return research.Text(c)
		}
	case "free_tier":
		if containsAny(text, "free tier", "free plan", "free forever") {
			return research.Flag(true)
		}
	case "features":
		if items := listAfterMarker(text, "features include", "features:", "plans include"); len(items) > 0 {
			return research.List(items...)
		}
	case "founded_year":
		if m := foundedPattern.FindStringSubmatch(text); m != nil {
			if year, err := strconv.ParseFloat(m[1], 64); err == nil {
				return research.Number(year)
			}
		}
	case "headquarters":
		if m := headquartersPattern.FindStringSubmatch(text); m != nil {
			return research.Text(strings.TrimRight(strings.TrimSpace(m[1]), ",. "))
		}
	case "employee_count":
		if m := employeePattern.FindStringSubmatch(text); m != nil {
			if n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64); err == nil {
				return research.Number(n)
			}
		}
	case "total_funding":
		if v, ok := fundingAmount(text); ok {
			return research.Number(v)
		}
	case "founders":
		if people := peopleAfterMarker(text, "founded by", "co-founded by", "founders"); len(people) > 0 {
			return research.List(people...)
		}
	case "investors":
		if people := peopleAfterMarker(text, "investors include", "backed by", "led by", "investment from"); len(people) > 0 {
			return research.List(people...)
		}
	case "certifications":
		if found := vocabularyMatches(text, certificationVocab); len(found) > 0 {
			return research.List(found...)
		}
	case "disclosed_incidents":
		if items := incidentMentions(text); len(items) > 0 {
			return research.List(items...)
		}
	case "last_audit":
		if m := auditPattern.FindStringSubmatch(text); m != nil {
			return research.Text(m[1])
		}
	case "encryption_at_rest":
		if containsAny(text, "encryption at rest", "encrypted at rest", "aes-256") {
			return research.Flag(true)
		}
	case "languages":
		if items := languageList(text); len(items) > 0 {
			return research.List(items...)
		}
	case "integrations":
		if items := listAfterMarker(text, "integrates with", "integrations include", "integration with", "connects with", "works with"); len(items) > 0 {
			return research.List(items...)
		}
	case "api_available":
		if containsAny(text, "rest api", "graphql api", "public api", "api access", "api available") {
			return research.Flag(true)
		}
	case "deployment_models":
		if found := vocabularyMatches(text, deploymentVocab); len(found) > 0 {
			return research.List(found...)
		}
	}
	// fields outside the built-in catalog stay absent rather than guessed
	return research.Value{}
}

var (
	planPattern         = regexp.MustCompile(`(?i)\b(free|starter|basic|standard|pro|professional|team|business|enterprise|premium|plus|ultimate)\s+(?:plan|tier)\b`)
	pricePattern        = regexp.MustCompile(`[$€£]\s?(\d+(?:,\d{3})*(?:\.\d+)?)`)
	foundedPattern      = regexp.MustCompile(`(?i)(?:founded|established|launched|started)\D{0,30}?\b((?:18|19|20)\d{2})\b`)
	headquartersPattern = regexp.MustCompile(`(?i:headquartered|based)\s+in\s+([A-Z][A-Za-z.'-]*(?:[ ,]+[A-Z][A-Za-z.'-]*){0,4})`)
	employeePattern     = regexp.MustCompile(`(?i)\b(\d[\d,]*)\s*\+?\s*(?:employees|staff|people)\b`)
	fundingPattern      = regexp.MustCompile(`(?i)(?:raised|funding of|total funding of|secured)\s+[$€£]\s?(\d+(?:\.\d+)?)\s*(million|billion|m|b)?\b`)
	auditPattern        = regexp.MustCompile(`(?i)audit(?:ed)?\b\D{0,40}?\b((?:19|20)\d{2})\b`)
)

var (
	monthlyMarkers = []string{"per month", "/mo", "a month", "monthly", "per seat", "per user"}
	annualMarkers  = []string{"per year", "/yr", "a year", "annually", "per annum", "billed yearly"}

	certificationVocab = []string{
		"SOC 2", "SOC 1", "ISO 27001", "ISO 9001", "PCI DSS", "HIPAA",
		"GDPR", "FedRAMP", "CCPA", "CSA STAR",
	}
	deploymentVocab = []string{
		"self-hosted", "on-premises", "on-prem", "hybrid", "SaaS",
		"cloud-hosted", "single-tenant", "multi-tenant",
	}
	languageVocab = []string{
		"Go", "Python", "JavaScript", "TypeScript", "Java", "Ruby",
		"Rust", "C++", "C#", "PHP", "Kotlin", "Swift", "Scala",
	}
)

// subjectValue prefers the leading title segment; pages without a usable
// title fall back to the opening words of the first factual sentence.
func subjectValue(page *research.PageContent) research.Value {
	title := strings.TrimSpace(page.Title)
	for _, sep := range []string{" | ", " - ", " – ", ": "} {
		if idx := strings.Index(title, sep); idx > 0 {
			title = title[:idx]
			break
		}
	}
	title = strings.TrimSpace(title)
	if title != "" {
		return research.Text(title)
	}
	fact := firstFact(page.Text)
	if fact == "" {
		return research.Value{}
	}
	words := strings.Fields(fact)
	if len(words) > 8 {
		words = words[:8]
	}
	return research.Text(strings.Join(words, " "))
}

// firstFact returns the first sentence long enough to carry information.
func firstFact(text string) string {
	for _, sentence := range splitSentences(text) {
		s := strings.TrimSpace(sentence)
		if len([]rune(s)) >= 20 {
			return s
		}
	}
	return ""
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
}

func containsAny(text string, markers ...string) bool {
	lower := strings.ToLower(text)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func titleCase(s string) string {
	s = strings.ToLower(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// priceNear returns the first price whose trailing context mentions one of
// the markers, so "$29 per month" binds to monthly_price and not
// annual_price. Each window ends at the next price so neighbours do not
// leak their billing period backwards.
func priceNear(text string, markers []string) (float64, bool) {
	lower := strings.ToLower(text)
	matches := pricePattern.FindAllStringSubmatchIndex(lower, -1)
	for i, m := range matches {
		raw := strings.ReplaceAll(lower[m[2]:m[3]], ",", "")
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		end := m[1] + 48
		if i+1 < len(matches) && matches[i+1][0] < end {
			end = matches[i+1][0]
		}
		if end > len(lower) {
			end = len(lower)
		}
		window := lower[m[1]:end]
		for _, marker := range markers {
			if strings.Contains(window, marker) {
				return value, true
			}
		}
	}
	return 0, false
}

func currencyOf(text string) string {
	for _, c := range []struct {
		symbol string
		code   string
	}{{"$", "USD"}, {"€", "EUR"}, {"£", "GBP"}} {
		if strings.Contains(text, c.symbol) {
			return c.code
		}
	}
	return ""
}

func fundingAmount(text string) (float64, bool) {
	m := fundingPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "million", "m":
		value *= 1e6
	case "billion", "b":
		value *= 1e9
	}
	return value, true
}

// listAfterMarker captures the run of text between a marker phrase and the
// end of its sentence, split into clean comma-separated items.
func listAfterMarker(text string, markers ...string) []string {
	lower := strings.ToLower(text)
	for _, marker := range markers {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		tail := text[idx+len(marker):]
		if end := strings.IndexAny(tail, ".;\n!?"); end >= 0 {
			tail = tail[:end]
		}
		if items := splitList(tail); len(items) > 0 {
			return items
		}
	}
	return nil
}

func splitList(s string) []string {
	s = strings.ReplaceAll(s, " and ", ",")
	s = strings.ReplaceAll(s, " & ", ",")
	var items []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.Trim(strings.TrimSpace(part), ":;–- ")
		if len(part) < 2 || len(part) > 60 {
			continue
		}
		key := strings.ToLower(part)
		if seen[key] {
			continue
		}
		seen[key] = true
		items = append(items, part)
		if len(items) == 12 {
			break
		}
	}
	return items
}

var personPattern = regexp.MustCompile(`\b[A-Z][a-z]+(?: [A-Z][a-z]+)+\b`)

// peopleAfterMarker collects capitalized multi-word names in the window
// after a marker phrase. Works for people and for firms.
func peopleAfterMarker(text string, markers ...string) []string {
	lower := strings.ToLower(text)
	for _, marker := range markers {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		start := idx + len(marker)
		end := start + 160
		if end > len(text) {
			end = len(text)
		}
		window := text[start:end]
		if cut := strings.IndexAny(window, ".\n"); cut >= 0 {
			window = window[:cut]
		}
		names := personPattern.FindAllString(window, 8)
		if len(names) > 0 {
			return dedupeStrings(names)
		}
	}
	return nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// vocabularyMatches returns the vocabulary terms present in the text,
// case-insensitively, in vocabulary order.
func vocabularyMatches(text string, vocab []string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, term := range vocab {
		if strings.Contains(lower, strings.ToLower(term)) {
			found = append(found, term)
		}
	}
	return found
}

// languageList only fires near an explicit marker, then keeps the items
// that match the known language vocabulary. Bare substring matching would
// claim "Go" on every English page.
func languageList(text string) []string {
	items := listAfterMarker(text, "written in", "built with", "built in", "language support for", "supported languages")
	if len(items) == 0 {
		return nil
	}
	known := make(map[string]string, len(languageVocab))
	for _, lang := range languageVocab {
		known[strings.ToLower(lang)] = lang
	}
	var out []string
	for _, item := range items {
		if lang, ok := known[strings.ToLower(item)]; ok {
			out = append(out, lang)
		}
	}
	return out
}

// incidentMentions quotes the sentences that disclose breaches or security
// incidents, trimmed to a readable length.
func incidentMentions(text string) []string {
	var items []string
	for _, sentence := range splitSentences(text) {
		lower := strings.ToLower(sentence)
		if !strings.Contains(lower, "breach") && !strings.Contains(lower, "security incident") {
			continue
		}
		s := strings.TrimSpace(sentence)
		if runes := []rune(s); len(runes) > 160 {
			s = strings.TrimRightFunc(string(runes[:160]), unicode.IsSpace)
		}
		items = append(items, s)
		if len(items) == 5 {
			break
		}
	}
	return items
}
