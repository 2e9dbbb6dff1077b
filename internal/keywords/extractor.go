// Package keywords derives search keywords from video metadata and keeps keyword sets
// case-insensitively unique.
package keywords

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/voyagen/techtube/internal/config"
)

// ErrAIUnavailable means the completion provider failed, timed out, or returned nothing usable.
var ErrAIUnavailable = errors.New("AI keyword extraction unavailable")

// Extractor derives up to N keyword candidates from a video's title and description.
type Extractor interface {
	Extract(ctx context.Context, title, description string) ([]string, error)
}

// Provider names accepted in config.
const (
	ProviderOpenAI       = "openai"
	ProviderGitHubModels = "github_models"
	ProviderAnthropic    = "anthropic"
)

const (
	defaultGitHubModelsURL = "https://models.github.ai/inference"
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultGitHubModel     = "openai/gpt-4o-mini"
	defaultAnthropicModel  = "claude-haiku-4-5"
)

// New picks the extractor once, at construction: the local heuristic when AI is disabled or has
// no credentials, otherwise the configured provider with the local heuristic as fallback.
func New(cfg config.AI, logger zerolog.Logger) (Extractor, error) {
	local := NewLocal(cfg.MaxKeywords)
	if !cfg.Enabled || cfg.APIKey == "" {
		return local, nil
	}

	var completer Completer
	switch cfg.Provider {
	case ProviderOpenAI:
		completer = NewOpenAICompleter(cfg.APIKey, orDefault(cfg.Model, defaultOpenAIModel), cfg.BaseURL)
	case ProviderGitHubModels:
		completer = NewOpenAICompleter(cfg.APIKey, orDefault(cfg.Model, defaultGitHubModel), orDefault(cfg.BaseURL, defaultGitHubModelsURL))
	case ProviderAnthropic:
		completer = NewAnthropicCompleter(cfg.APIKey, orDefault(cfg.Model, defaultAnthropicModel))
	default:
		return nil, fmt.Errorf("keywords: unknown AI provider %q", cfg.Provider)
	}
	ai := NewAIExtractor(completer, cfg.MaxKeywords, cfg.Timeout)
	return &Fallback{Primary: ai, Secondary: local, Log: logger}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Fallback uses Secondary whenever Primary errors or finds nothing.
type Fallback struct {
	Primary   Extractor
	Secondary Extractor
	Log       zerolog.Logger
}

func (f *Fallback) Extract(ctx context.Context, title, description string) ([]string, error) {
	start := time.Now()
	out, err := f.Primary.Extract(ctx, title, description)
	if err == nil && len(out) > 0 {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	f.Log.Debug().Err(err).Dur("took", time.Since(start)).Str("title", title).Msg("falling back to local keyword extraction")
	return f.Secondary.Extract(ctx, title, description)
}
