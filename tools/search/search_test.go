package search

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/scourhq/scour/config"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(config.SearchConfig{Provider: "brave"}, testLogger()); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(config.SearchConfig{Provider: "bing", APIKey: "k"}, testLogger())
	if err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	if !strings.Contains(err.Error(), "bing") {
		t.Fatalf("error should name the provider, got %v", err)
	}
}

func TestBraveSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/res/v1/web/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Subscription-Token"); got != "brave-key" {
			t.Errorf("unexpected token header %q", got)
		}
		if got := r.URL.Query().Get("q"); got != "initech pricing" {
			t.Errorf("unexpected query %q", got)
		}
		if got := r.URL.Query().Get("count"); got != "3" {
			t.Errorf("unexpected count %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"web": map[string]any{
				"results": []map[string]string{
					{"title": "Initech Pricing", "url": "https://initech.example/pricing", "description": "Plans and <strong>pricing</strong>."},
					{"title": "Sponsored", "url": "", "description": "no link"},
					{"title": "Initech Docs", "url": "https://initech.example/docs", "description": "API reference."},
				},
			},
		})
	}))
	defer srv.Close()

	p, err := New(config.SearchConfig{
		Provider: "brave",
		APIKey:   "brave-key",
		BaseURL:  srv.URL,
		Timeout:  2 * time.Second,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := p.Search(context.Background(), "initech pricing", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results after dropping the linkless one, got %d", len(out))
	}
	if out[0].URL != "https://initech.example/pricing" {
		t.Fatalf("unexpected first url %q", out[0].URL)
	}
	if out[0].Title != "Initech Pricing" || out[0].Snippet != "Plans and pricing." {
		t.Fatalf("expected sanitized result, got %+v", out[0])
	}
	if out[1].URL != "https://initech.example/docs" {
		t.Fatalf("unexpected second url %q", out[1].URL)
	}
}

func TestBraveSearchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := New(config.SearchConfig{Provider: "brave", APIKey: "k", BaseURL: srv.URL}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Search(context.Background(), "anything", 5)
	if err == nil {
		t.Fatalf("expected error on 429 response")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("error should carry the status, got %v", err)
	}
}

func TestSerperSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-API-KEY"); got != "serper-key" {
			t.Errorf("unexpected api key header %q", got)
		}
		var body struct {
			Q   string `json:"q"`
			Num int    `json:"num"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Q != "acme security" || body.Num != 5 {
			t.Errorf("unexpected request body %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"organic": []map[string]any{
				{"title": "Acme Trust Center", "link": "https://acme.example/trust", "snippet": "SOC 2 and ISO 27001."},
				{"title": "Acme on HN", "link": "https://news.ycombinator.example/item?id=1", "snippet": "Discussion."},
			},
		})
	}))
	defer srv.Close()

	p, err := New(config.SearchConfig{
		Provider: "serper",
		APIKey:   "serper-key",
		BaseURL:  srv.URL,
		Timeout:  2 * time.Second,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := p.Search(context.Background(), "acme security", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if out[0].URL != "https://acme.example/trust" {
		t.Fatalf("unexpected first url %q", out[0].URL)
	}
	if out[1].Title != "Acme on HN" {
		t.Fatalf("unexpected second title %q", out[1].Title)
	}
}

func TestSerperDefaultsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Num int `json:"num"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Num != 10 {
			t.Errorf("expected default num 10, got %d", body.Num)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"organic": []map[string]any{}})
	}))
	defer srv.Close()

	p, err := New(config.SearchConfig{Provider: "serper", APIKey: "k", BaseURL: srv.URL}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Search(context.Background(), "query", 0); err != nil {
		t.Fatalf("Search: %v", err)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request should be sent for an empty query")
	}))
	defer srv.Close()

	for _, provider := range []string{"brave", "serper"} {
		p, err := New(config.SearchConfig{Provider: provider, APIKey: "k", BaseURL: srv.URL}, testLogger())
		if err != nil {
			t.Fatalf("New(%s): %v", provider, err)
		}
		if _, err := p.Search(context.Background(), "   ", 5); err == nil {
			t.Fatalf("%s: expected error for empty query", provider)
		}
	}
}
