package cache

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/scourhq/scour/internal/helpers"
	"github.com/scourhq/scour/internal/research"
)

// ExportVersion tags cache export payloads so stale persisted state is
// rejected instead of half-loaded.
const ExportVersion = 1

// Config sizes the manager's four caches. Zero fields fall back to the
// defaults below.
type Config struct {
	PageCapacity       int           `json:"page_capacity" mapstructure:"page_capacity"`
	PageTTL            time.Duration `json:"page_ttl" mapstructure:"page_ttl"`
	ExtractionCapacity int           `json:"extraction_capacity" mapstructure:"extraction_capacity"`
	ExtractionTTL      time.Duration `json:"extraction_ttl" mapstructure:"extraction_ttl"`
	DomainCapacity     int           `json:"domain_capacity" mapstructure:"domain_capacity"`
	DomainTTL          time.Duration `json:"domain_ttl" mapstructure:"domain_ttl"`
	QueryCapacity      int           `json:"query_capacity" mapstructure:"query_capacity"`
	QueryTTL           time.Duration `json:"query_ttl" mapstructure:"query_ttl"`
}

// DefaultConfig returns the stock sizing: a small page cache with a short
// TTL, larger caches elsewhere, day-long domain knowledge.
func DefaultConfig() Config {
	return Config{
		PageCapacity:       100,
		PageTTL:            30 * time.Minute,
		ExtractionCapacity: 1000,
		ExtractionTTL:      time.Hour,
		DomainCapacity:     1000,
		DomainTTL:          24 * time.Hour,
		QueryCapacity:      1000,
		QueryTTL:           time.Hour,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.PageCapacity <= 0 {
		c.PageCapacity = def.PageCapacity
	}
	if c.PageTTL <= 0 {
		c.PageTTL = def.PageTTL
	}
	if c.ExtractionCapacity <= 0 {
		c.ExtractionCapacity = def.ExtractionCapacity
	}
	if c.ExtractionTTL <= 0 {
		c.ExtractionTTL = def.ExtractionTTL
	}
	if c.DomainCapacity <= 0 {
		c.DomainCapacity = def.DomainCapacity
	}
	if c.DomainTTL <= 0 {
		c.DomainTTL = def.DomainTTL
	}
	if c.QueryCapacity <= 0 {
		c.QueryCapacity = def.QueryCapacity
	}
	if c.QueryTTL <= 0 {
		c.QueryTTL = def.QueryTTL
	}
	return c
}

// DomainKnowledge is what the engine remembers about navigating a domain:
// URLs that yielded extractable data and labeled navigation paths (for
// example "pricing" → "/pricing").
type DomainKnowledge struct {
	Domain          string            `json:"domain"`
	HighSignalURLs  []string          `json:"high_signal_urls,omitempty"`
	NavigationPaths map[string]string `json:"navigation_paths,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Manager owns the four specialized caches and the aggregate counters the
// telemetry layer reports.
type Manager struct {
	pages       *Cache[research.PageContent]
	extractions *Cache[[]research.ExtractionResult]
	domains     *Cache[DomainKnowledge]
	queries     *Cache[[]research.SearchResult]
	logger      *log.Logger
}

// NewManager builds the cache layer. A nil logger falls back to the
// process default.
func NewManager(cfg Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(log.Writer(), "[CACHE] ", log.LstdFlags)
	}
	cfg = cfg.normalized()
	return &Manager{
		pages:       New[research.PageContent]("pages", cfg.PageCapacity, cfg.PageTTL),
		extractions: New[[]research.ExtractionResult]("extractions", cfg.ExtractionCapacity, cfg.ExtractionTTL),
		domains:     New[DomainKnowledge]("domains", cfg.DomainCapacity, cfg.DomainTTL),
		queries:     New[[]research.SearchResult]("queries", cfg.QueryCapacity, cfg.QueryTTL),
		logger:      logger,
	}
}

// PutPage caches a fetched page under its normalized URL key. Pages with
// unusable URLs are skipped rather than failing the caller.
func (m *Manager) PutPage(page research.PageContent) {
	key, err := helpers.PageKey(page.URL)
	if err != nil {
		return
	}
	m.pages.Put(key, page)
}

// GetPage looks a page up by any URL variant that normalizes to the same key.
func (m *Manager) GetPage(rawURL string) (research.PageContent, bool) {
	key, err := helpers.PageKey(rawURL)
	if err != nil {
		return research.PageContent{}, false
	}
	return m.pages.Get(key)
}

// PutExtractions caches a page's extraction payloads for one schema.
func (m *Manager) PutExtractions(rawURL, schemaName string, results []research.ExtractionResult) {
	key, err := extractionKey(rawURL, schemaName)
	if err != nil {
		return
	}
	m.extractions.Put(key, results)
}

// GetExtractions returns cached extraction payloads for a page+schema pair.
func (m *Manager) GetExtractions(rawURL, schemaName string) ([]research.ExtractionResult, bool) {
	key, err := extractionKey(rawURL, schemaName)
	if err != nil {
		return nil, false
	}
	return m.extractions.Get(key)
}

// GetDomain returns the remembered navigation knowledge for a domain.
func (m *Manager) GetDomain(domain string) (DomainKnowledge, bool) {
	return m.domains.Get(normalizeDomain(domain))
}

// UpdateDomainMap merges newly observed high-signal URLs into the stored
// set (union, never replacement) and refreshes navigation paths, newest
// label winning. It returns the merged knowledge.
func (m *Manager) UpdateDomainMap(domain string, highSignalURLs []string, navigationPaths map[string]string) DomainKnowledge {
	key := normalizeDomain(domain)
	existing, _ := m.domains.Get(key)

	urlSet := make(map[string]struct{}, len(existing.HighSignalURLs)+len(highSignalURLs))
	for _, u := range existing.HighSignalURLs {
		urlSet[u] = struct{}{}
	}
	for _, u := range highSignalURLs {
		if normalized, err := helpers.PageKey(u); err == nil {
			urlSet[normalized] = struct{}{}
		}
	}
	merged := make([]string, 0, len(urlSet))
	for u := range urlSet {
		merged = append(merged, u)
	}
	sort.Strings(merged)

	paths := make(map[string]string, len(existing.NavigationPaths)+len(navigationPaths))
	for label, p := range existing.NavigationPaths {
		paths[label] = p
	}
	for label, p := range navigationPaths {
		paths[label] = p
	}

	knowledge := DomainKnowledge{
		Domain:          key,
		HighSignalURLs:  merged,
		NavigationPaths: paths,
		UpdatedAt:       time.Now(),
	}
	m.domains.Put(key, knowledge)
	return knowledge
}

// PutQueryResults memoizes search results under the query's content hash.
func (m *Manager) PutQueryResults(query string, results []research.SearchResult) {
	m.queries.Put(queryKey(query), results)
}

// GetQueryResults returns memoized search results for a query.
func (m *Manager) GetQueryResults(query string) ([]research.SearchResult, bool) {
	return m.queries.Get(queryKey(query))
}

// ManagerStats aggregates hit/miss counters across all sub-caches.
type ManagerStats struct {
	Pages       Stats   `json:"pages"`
	Extractions Stats   `json:"extractions"`
	Domains     Stats   `json:"domains"`
	Queries     Stats   `json:"queries"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
}

// Stats snapshots every sub-cache plus the aggregate counters.
func (m *Manager) Stats() ManagerStats {
	s := ManagerStats{
		Pages:       m.pages.Stats(),
		Extractions: m.extractions.Stats(),
		Domains:     m.domains.Stats(),
		Queries:     m.queries.Stats(),
	}
	s.Hits = s.Pages.Hits + s.Extractions.Hits + s.Domains.Hits + s.Queries.Hits
	s.Misses = s.Pages.Misses + s.Extractions.Misses + s.Domains.Misses + s.Queries.Misses
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Export is the persistable form of the whole cache layer.
type Export struct {
	Version     int                                   `json:"version"`
	ExportedAt  time.Time                             `json:"exported_at"`
	Pages       Snapshot[research.PageContent]        `json:"pages"`
	Extractions Snapshot[[]research.ExtractionResult] `json:"extractions"`
	Domains     Snapshot[DomainKnowledge]             `json:"domains"`
	Queries     Snapshot[[]research.SearchResult]     `json:"queries"`
}

// ExportState dumps all live entries across the sub-caches.
func (m *Manager) ExportState() *Export {
	return &Export{
		Version:     ExportVersion,
		ExportedAt:  time.Now(),
		Pages:       m.pages.Export(),
		Extractions: m.extractions.Export(),
		Domains:     m.domains.Export(),
		Queries:     m.queries.Export(),
	}
}

// ImportState restores a previously exported cache layer, dropping entries
// that expired while persisted. A version mismatch is a hard failure.
func (m *Manager) ImportState(exported *Export) error {
	if exported == nil {
		return fmt.Errorf("cache import: nil payload")
	}
	if exported.Version != ExportVersion {
		return fmt.Errorf("cache import: unsupported version %d (want %d)", exported.Version, ExportVersion)
	}
	pages := m.pages.Import(exported.Pages)
	extractions := m.extractions.Import(exported.Extractions)
	domains := m.domains.Import(exported.Domains)
	queries := m.queries.Import(exported.Queries)
	m.logger.Printf("imported cache state: %d pages, %d extractions, %d domains, %d queries",
		pages, extractions, domains, queries)
	return nil
}

// Clear empties every sub-cache.
func (m *Manager) Clear() {
	m.pages.Clear()
	m.extractions.Clear()
	m.domains.Clear()
	m.queries.Clear()
}

func extractionKey(rawURL, schemaName string) (string, error) {
	key, err := helpers.PageKey(rawURL)
	if err != nil {
		return "", err
	}
	return key + "|" + strings.ToLower(schemaName), nil
}

func normalizeDomain(domain string) string {
	d, err := helpers.Domain(domain)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(domain))
	}
	return d
}

func queryKey(query string) string {
	return helpers.Fingerprint(strings.ToLower(strings.TrimSpace(query)))
}
