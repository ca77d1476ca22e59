package classify

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/research"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// chatServer fakes the chat-completion endpoint, replying with the given
// assistant message content on every request.
func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": content},
					"finish_reason": "stop",
				},
			},
		})
	}))
}

func newTestClassifier(t *testing.T, baseURL string) *Classifier {
	t.Helper()
	c, err := New(config.ClassifierConfig{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		APIKey:   "test-key",
		BaseURL:  baseURL + "/v1",
		Timeout:  2 * time.Second,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(config.ClassifierConfig{Provider: "openai"}, testLogger()); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}

func TestClassifyParsesModelReply(t *testing.T) {
	reply := "```json\n{\"categories\": [\"pricing\", \"company_info\"]}\n```"
	srv := chatServer(t, reply)
	defer srv.Close()

	c := newTestClassifier(t, srv.URL)
	out, err := c.Classify(context.Background(), "how much does initech cost and who owns it", "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	want := []research.Category{research.CategoryPricing, research.CategoryCompanyInfo}
	if len(out) != len(want) {
		t.Fatalf("expected %d categories, got %v", len(want), out)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("category %d: expected %s, got %s", i, want[i], out[i])
		}
	}
}

func TestClassifyFallsBackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClassifier(t, srv.URL)
	out, err := c.Classify(context.Background(), "initech soc 2 compliance and audit history", "")
	if err != nil {
		t.Fatalf("Classify should fall back, not fail: %v", err)
	}
	if len(out) == 0 || out[0] != research.CategorySecurity {
		t.Fatalf("expected keyword fallback to lead with security, got %v", out)
	}
}

func TestClassifyFallsBackOnGarbageReply(t *testing.T) {
	srv := chatServer(t, "I cannot help with that request.")
	defer srv.Close()

	c := newTestClassifier(t, srv.URL)
	out, err := c.Classify(context.Background(), "what does the pro plan cost per month", "")
	if err != nil {
		t.Fatalf("Classify should fall back, not fail: %v", err)
	}
	if len(out) == 0 || out[0] != research.CategoryPricing {
		t.Fatalf("expected keyword fallback to lead with pricing, got %v", out)
	}
}

func TestParseCategoriesFiltersUnknownAndDuplicates(t *testing.T) {
	out, err := parseCategories(`{"categories": ["pricing", "PRICING", "astrology", "technical"]}`)
	if err != nil {
		t.Fatalf("parseCategories: %v", err)
	}
	want := []research.Category{research.CategoryPricing, research.CategoryTechnical}
	if len(out) != len(want) {
		t.Fatalf("expected %v, got %v", want, out)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("category %d: expected %s, got %s", i, want[i], out[i])
		}
	}
}

func TestParseCategoriesRejectsEmpty(t *testing.T) {
	if _, err := parseCategories(`{"categories": []}`); err == nil {
		t.Fatalf("expected error for empty category list")
	}
	if _, err := parseCategories(`{"categories": ["astrology"]}`); err == nil {
		t.Fatalf("expected error when no category is recognized")
	}
}
