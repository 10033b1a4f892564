// Package retrieval finds, ranks and renders personal context items for a question.
package retrieval

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/answer-machine/internal/llm"
)

const maxKeywords = 8

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {}, "your": {},
	"with": {}, "this": {}, "that": {}, "from": {}, "have": {}, "has": {}, "had": {}, "was": {},
	"were": {}, "what": {}, "which": {}, "who": {}, "whom": {}, "when": {}, "where": {}, "why": {},
	"how": {}, "can": {}, "could": {}, "should": {}, "would": {}, "will": {}, "about": {}, "into": {},
	"there": {}, "their": {}, "they": {}, "them": {}, "then": {}, "than": {}, "any": {}, "all": {},
	"does": {}, "did": {}, "doing": {}, "been": {}, "being": {}, "more": {}, "most": {}, "some": {},
	"such": {}, "only": {}, "other": {}, "also": {}, "just": {}, "over": {}, "very": {}, "need": {},
	"needed": {}, "know": {}, "tell": {}, "information": {}, "specific": {}, "relevant": {}, "additional": {},
}

// Words splits text into lowercase alphanumeric words
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ContentWords returns the distinct non-stopword words of at least three characters in order
func ContentWords(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range Words(text) {
		if len(w) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// HeuristicKeywords extracts up to eight content words
func HeuristicKeywords(text string) []string {
	out := ContentWords(text)
	if len(out) > maxKeywords {
		out = out[:maxKeywords]
	}
	return out
}

// Caller is the LLM call provider
type Caller interface {
	Call(ctx context.Context, req llm.Request) llm.Response
}

// LLMKeywordGenerator asks the model for search keywords and falls back to heuristics
type LLMKeywordGenerator struct {
	caller Caller
	logger *zap.Logger
}

// NewLLMKeywordGenerator creates a keyword generator; a nil caller always uses heuristics
func NewLLMKeywordGenerator(caller Caller, logger *zap.Logger) *LLMKeywordGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMKeywordGenerator{caller: caller, logger: logger}
}

// Keywords returns search keywords for question
func (g *LLMKeywordGenerator) Keywords(ctx context.Context, question string, settings llm.Settings) ([]string, error) {
	if g.caller == nil || settings.Model == "" {
		return HeuristicKeywords(question), nil
	}
	s := settings
	s.Temperature = 0
	s.MaxTokens = 64
	resp := g.caller.Call(ctx, s.Request(
		llm.Message{Role: "system", Content: "Extract up to 8 search keywords from the user's question. Reply with a comma-separated list only."},
		llm.Message{Role: "user", Content: question},
	))
	if !resp.Success {
		g.logger.Debug("Keyword generation fell back to heuristics", zap.String("error", resp.Error))
		return HeuristicKeywords(question), nil
	}
	kws := parseKeywordList(resp.Content)
	if len(kws) == 0 {
		return HeuristicKeywords(question), nil
	}
	return kws, nil
}

func parseKeywordList(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == ';' }) {
		kw := strings.ToLower(strings.Trim(strings.TrimSpace(part), `"'.-*`))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}
