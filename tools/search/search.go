// Package search implements the web-search providers the engine uses to
// expand execution paths past their seed URLs. Both providers satisfy
// research.SearchProvider; config.SearchConfig picks one. Engines built
// without an API key should simply run without a provider rather than
// construct one that fails on every query.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/helpers"
	"github.com/scourhq/scour/internal/research"
)

const (
	braveBaseURL  = "https://api.search.brave.com"
	serperBaseURL = "https://google.serper.dev"

	defaultLimit = 10
)

// New builds the provider named by cfg.Provider. BaseURL overrides the
// provider's public endpoint, which tests use to point at local servers.
func New(cfg config.SearchConfig, logger *log.Logger) (research.SearchProvider, error) {
	cfg = cfg.Normalize()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("search: api key required for provider %q", cfg.Provider)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	client := &http.Client{Timeout: cfg.Timeout}
	switch cfg.Provider {
	case "brave":
		return &braveProvider{
			apiKey:  cfg.APIKey,
			baseURL: baseOr(cfg.BaseURL, braveBaseURL),
			client:  client,
			logger:  logger,
		}, nil
	case "serper":
		return &serperProvider{
			apiKey:  cfg.APIKey,
			baseURL: baseOr(cfg.BaseURL, serperBaseURL),
			client:  client,
			logger:  logger,
		}, nil
	default:
		return nil, fmt.Errorf("search: unknown provider %q", cfg.Provider)
	}
}

func baseOr(base, fallback string) string {
	if base == "" {
		base = fallback
	}
	return strings.TrimRight(base, "/")
}

// braveProvider queries the Brave web search API.
// https://api.search.brave.com/app/documentation/web-search
type braveProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *log.Logger
}

func (p *braveProvider) Search(ctx context.Context, query string, limit int) ([]research.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search: empty query")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	endpoint := fmt.Sprintf("%s/res/v1/web/search?q=%s&count=%d", p.baseURL, url.QueryEscape(query), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: brave: %w", err)
	}
	body, err := helpers.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("search: read brave response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		p.logger.Printf("brave search returned status %d for %q", resp.StatusCode, query)
		return nil, fmt.Errorf("search: brave status %d", resp.StatusCode)
	}

	var raw struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("search: decode brave response: %w", err)
	}

	out := make([]research.SearchResult, 0, len(raw.Web.Results))
	for _, r := range raw.Web.Results {
		if len(out) >= limit {
			break
		}
		if r.URL == "" {
			continue
		}
		out = append(out, research.SearchResult{
			URL:     r.URL,
			Title:   helpers.Snippet(r.Title, 0),
			Snippet: helpers.Snippet(r.Description, 0),
		})
	}
	return out, nil
}

// serperProvider queries the Serper google-search proxy.
// https://serper.dev/
type serperProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *log.Logger
}

func (p *serperProvider) Search(ctx context.Context, query string, limit int) ([]research.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search: empty query")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	payload, err := json.Marshal(map[string]any{"q": query, "num": limit})
	if err != nil {
		return nil, fmt.Errorf("search: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}
	req.Header.Set("X-API-KEY", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: serper: %w", err)
	}
	body, err := helpers.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("search: read serper response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		p.logger.Printf("serper search returned status %d for %q", resp.StatusCode, query)
		return nil, fmt.Errorf("search: serper status %d", resp.StatusCode)
	}

	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("search: decode serper response: %w", err)
	}

	out := make([]research.SearchResult, 0, len(raw.Organic))
	for _, r := range raw.Organic {
		if len(out) >= limit {
			break
		}
		if r.Link == "" {
			continue
		}
		out = append(out, research.SearchResult{
			URL:     r.Link,
			Title:   helpers.Snippet(r.Title, 0),
			Snippet: helpers.Snippet(r.Snippet, 0),
		})
	}
	return out, nil
}
