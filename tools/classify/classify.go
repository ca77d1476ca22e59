// Package classify provides an LLM-backed implementation of
// planner.Classifier. It asks a chat model to bucket a research objective
// into the engine's categories and degrades to the keyword classifier when
// the model is unreachable or answers garbage, so classification never sinks
// a run.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/helpers"
	"github.com/scourhq/scour/internal/planner"
	"github.com/scourhq/scour/internal/research"
)

const systemPrompt = `You classify research objectives for an autonomous web-research engine.
Given an objective and optional context, pick every category that applies from:
pricing, security, company-info, technical, general.
Order categories from most to least relevant.
Respond ONLY with valid JSON: {"categories": ["..."]}. Do not include any other text.`

// Classifier calls a chat-completion model to bucket objectives.
type Classifier struct {
	client   *openai.Client
	model    string
	logger   *log.Logger
	fallback planner.KeywordClassifier
}

// New builds the classifier from cfg. BaseURL overrides the public OpenAI
// endpoint, which tests use to point at local servers.
func New(cfg config.ClassifierConfig, logger *log.Logger) (*Classifier, error) {
	cfg = cfg.Normalize()
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("classify: api key required")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[CLASSIFY] ", log.LstdFlags)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Classifier{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// Classify asks the model for category labels. Model failures and unusable
// replies fall back to keyword classification rather than erroring: a
// research run should not abort because the classifier endpoint hiccuped.
func (c *Classifier) Classify(ctx context.Context, query, hint string) ([]research.Category, error) {
	out, err := c.ask(ctx, query, hint)
	if err != nil {
		c.logger.Printf("falling back to keyword classification: %v", err)
		return c.fallback.Classify(ctx, query, hint)
	}
	return out, nil
}

func (c *Classifier) ask(ctx context.Context, query, hint string) ([]research.Category, error) {
	user := "Objective: " + query
	if strings.TrimSpace(hint) != "" {
		user += "\nContext: " + hint
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	return parseCategories(resp.Choices[0].Message.Content)
}

// parseCategories pulls the JSON payload out of the model reply. Models
// routinely wrap JSON in prose or code fences, so the reply is scanned for
// the first balanced object instead of being unmarshalled whole.
func parseCategories(reply string) ([]research.Category, error) {
	payload, err := helpers.ExtractJSON(reply)
	if err != nil {
		return nil, fmt.Errorf("unusable reply: %w", err)
	}
	var parsed struct {
		Categories []string `json:"categories"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}

	out := make([]research.Category, 0, len(parsed.Categories))
	seen := make(map[research.Category]bool, len(parsed.Categories))
	for _, raw := range parsed.Categories {
		cat, ok := normalizeCategory(raw)
		if !ok || seen[cat] {
			continue
		}
		seen[cat] = true
		out = append(out, cat)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("reply named no known categories")
	}
	return out, nil
}

func normalizeCategory(raw string) (research.Category, bool) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "_", "-") {
	case "pricing":
		return research.CategoryPricing, true
	case "security":
		return research.CategorySecurity, true
	case "company-info", "company":
		return research.CategoryCompanyInfo, true
	case "technical":
		return research.CategoryTechnical, true
	case "general":
		return research.CategoryGeneral, true
	default:
		return "", false
	}
}
