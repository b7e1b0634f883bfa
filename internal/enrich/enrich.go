// Package enrich invokes the AI collaborator that summarizes, tags and
// scores ingested items. Every call carries the owning account explicitly
// so usage can be attributed without any ambient per-goroutine state.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/driftline/driftline/internal/config"
)

// Request is one enrichment call. AccountID attributes the spend.
type Request struct {
	AccountID int64
	Title     string
	Content   string
	Criteria  string
}

// Result is the structured output of an enrichment call.
type Result struct {
	Summary   string
	Tags      []string
	Sentiment string
	Score     float64
	Reasoning string
}

// Provider is a chat-completion backend. accountID is passed through for
// per-account usage attribution where the backend supports it.
type Provider interface {
	Generate(ctx context.Context, accountID int64, prompt string, maxTokens int) (string, error)
	IsConfigured() bool
}

const enrichPrompt = `You are processing an item collected from a monitored content source.

Summarize it, tag it, judge its sentiment, and score how relevant it is to the reader's stated interests.

Reader interests:
%s

Item Title: %s
Content:
%s

Respond with ONLY this JSON:
{
    "summary": "2-4 sentence summary of the item",
    "tags": ["tag1", "tag2", "tag3"],
    "sentiment": "positive" | "neutral" | "negative",
    "score": 0.0-10.0,
    "reasoning": "One sentence explaining the score"
}

score: 10 = exactly what the reader wants, 0 = unrelated.`

// Enricher wraps a provider with prompt construction and response parsing.
type Enricher struct {
	provider  Provider
	maxTokens int
	log       zerolog.Logger
}

// New builds an enricher from configuration. Returns an enricher with a nil
// provider when nothing is configured; calls then fail cleanly.
func New(cfg config.Enrichment, log zerolog.Logger) *Enricher {
	elog := log.With().Str("component", "enrich").Logger()
	provider := CreateProvider(cfg, elog)
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &Enricher{provider: provider, maxTokens: maxTokens, log: elog}
}

// NewWithProvider builds an enricher around an explicit provider.
func NewWithProvider(provider Provider, maxTokens int, log zerolog.Logger) *Enricher {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &Enricher{provider: provider, maxTokens: maxTokens, log: log}
}

// EnrichWithScore runs one enrichment call and parses the structured result.
func (e *Enricher) EnrichWithScore(ctx context.Context, req Request) (*Result, error) {
	if e.provider == nil {
		return nil, fmt.Errorf("no enrichment provider configured")
	}

	content := req.Content
	if content == "" {
		content = req.Title
	}
	content = truncateContent(content, 4000)

	criteria := strings.TrimSpace(req.Criteria)
	if criteria == "" {
		criteria = "None stated; judge general usefulness."
	}

	prompt := fmt.Sprintf(enrichPrompt, criteria, req.Title, content)

	responseText, err := e.provider.Generate(ctx, req.AccountID, prompt, e.maxTokens)
	if err != nil {
		return nil, err
	}

	parsed := ParseJSONResponse(responseText)
	if parsed == nil {
		return nil, fmt.Errorf("unparseable enrichment response")
	}

	result := &Result{
		Summary:   getString(parsed, "summary", ""),
		Sentiment: getString(parsed, "sentiment", "neutral"),
		Reasoning: getString(parsed, "reasoning", ""),
		Score:     getFloat(parsed, "score", 0),
	}
	if result.Summary == "" {
		return nil, fmt.Errorf("enrichment response missing summary")
	}

	switch result.Sentiment {
	case "positive", "neutral", "negative":
	default:
		result.Sentiment = "neutral"
	}
	if result.Score < 0 {
		result.Score = 0
	} else if result.Score > 10 {
		result.Score = 10
	}

	if raw, ok := parsed["tags"]; ok {
		if arr, ok := raw.([]any); ok {
			for _, v := range arr {
				if s, ok := v.(string); ok && s != "" {
					result.Tags = append(result.Tags, s)
				}
			}
			if len(result.Tags) > 8 {
				result.Tags = result.Tags[:8]
			}
		}
	}

	return result, nil
}

// CreateProvider creates a provider based on configuration, preferring the
// configured backend and falling back to OpenAI when Ollama is unreachable.
func CreateProvider(cfg config.Enrichment, log zerolog.Logger) Provider {
	if strings.ToLower(cfg.Provider) == "ollama" {
		p := NewOllamaProvider(cfg.Model, cfg.OllamaURL)
		if p.IsConfigured() {
			log.Info().Str("model", cfg.Model).Msg("using Ollama provider")
			return p
		}
		log.Warn().Msg("Ollama not available, trying OpenAI fallback")
	}

	p := NewOpenAIProvider(cfg.Model, cfg.APIKeyEnv)
	if p.IsConfigured() {
		log.Info().Str("model", cfg.Model).Msg("using OpenAI provider")
		return p
	}

	log.Error().Msg("no enrichment provider available; check Ollama or the API key")
	return nil
}

// truncateContent cuts content to at most max bytes without splitting a
// multi-byte rune.
func truncateContent(content string, max int) string {
	if len(content) <= max {
		return content
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}

func getString(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return fallback
}

func getFloat(m map[string]any, key string, fallback float64) float64 {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return fallback
}
