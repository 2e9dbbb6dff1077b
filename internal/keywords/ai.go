package keywords

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Completer sends one system+user prompt to a chat completion API and returns the text reply.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

const aiSystemPrompt = `You extract search keywords for IT and software videos.
Always answer with a JSON array of strings and nothing else, e.g. ["kubernetes", "go generics"].`

const aiUserPrompt = `Return at most %d short, searchable IT keywords for this YouTube video as a JSON array.
Prefer concrete nouns (technologies, products, concepts). Skip generic words.

Title: %s
Description: %s`

const (
	maxDescriptionRunes = 1000
	maxKeywordRunes     = 40
)

// AIExtractor asks a Completer for keywords.
type AIExtractor struct {
	completer Completer
	n         int
	timeout   time.Duration
}

// NewAIExtractor returns an extractor keeping at most n keywords; each call is bounded by timeout.
func NewAIExtractor(c Completer, n int, timeout time.Duration) *AIExtractor {
	if n <= 0 {
		n = 5
	}
	return &AIExtractor{completer: c, n: n, timeout: timeout}
}

// Extract returns ErrAIUnavailable (wrapping the cause) on any provider or parse failure,
// and when the reply holds no usable keyword.
func (a *AIExtractor) Extract(ctx context.Context, title, description string) ([]string, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	prompt := fmt.Sprintf(aiUserPrompt, a.n, title, truncateRunes(description, maxDescriptionRunes))
	reply, err := a.completer.Complete(ctx, aiSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAIUnavailable, err)
	}
	out, err := parseKeywords(reply, a.n)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAIUnavailable, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty reply", ErrAIUnavailable)
	}
	return out, nil
}

// parseKeywords decodes a JSON array reply, dropping blanks, overlong entries and case-insensitive repeats.
func parseKeywords(reply string, n int) ([]string, error) {
	content := cleanJSONResponse(reply)
	var raw []any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("parse reply: %w, content: %s", err, content)
	}
	var texts []string
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = Clean(s)
		if utf8.RuneCountInString(s) < 2 || utf8.RuneCountInString(s) > maxKeywordRunes {
			continue
		}
		texts = append(texts, s)
	}
	out := KeySet{}.Novel(texts)
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// cleanJSONResponse strips code fences and any prose around the first JSON array.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
