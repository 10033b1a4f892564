package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticLookup map[string]string

func (s staticLookup) ProviderForModel(model string) string { return s[model] }

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		model    string
		expected string
	}{
		{"gpt-4o-mini", "openai"},
		{"claude-3-5-haiku-latest", "anthropic"},
		{"gemini-1.5-pro", "google"},
		{"deepseek-chat", "deepseek"},
		{"llama3.1:8b", "ollama"},
		{"mixtral-8x7b", "mistral"},
		{"groq-llama-3-70b", "groq"},
		{"something-else", "unknown"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectProvider(tt.model, nil))
		})
	}
}

func TestDetectProvider_CatalogWins(t *testing.T) {
	lookup := staticLookup{"llama3.1:8b": "together"}
	assert.Equal(t, "together", DetectProvider("llama3.1:8b", lookup))
	assert.Equal(t, "openai", DetectProvider("gpt-4o", lookup))
}

func TestSubQuestionStatusTransitions(t *testing.T) {
	assert.True(t, SubQuestionPending.CanTransition(SubQuestionAnswered))
	assert.True(t, SubQuestionPending.CanTransition(SubQuestionError))
	assert.True(t, SubQuestionPending.CanTransition(SubQuestionSkipped))
	assert.False(t, SubQuestionPending.CanTransition(SubQuestionPending))

	for _, from := range []SubQuestionStatus{SubQuestionAnswered, SubQuestionSkipped, SubQuestionError} {
		for _, to := range []SubQuestionStatus{SubQuestionPending, SubQuestionAnswered, SubQuestionError, SubQuestionSkipped} {
			assert.False(t, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestThreadIterationBounds(t *testing.T) {
	min, max := (&Thread{}).IterationBounds()
	assert.Equal(t, 1, min)
	assert.Equal(t, 1, max)

	min, max = (&Thread{MinIterations: 3, MaxIterations: 7}).IterationBounds()
	assert.Equal(t, 3, min)
	assert.Equal(t, 7, max)
}

func TestTokenUsageAdd(t *testing.T) {
	a := TokenUsage{PromptTokens: 1, CompletionTokens: 2, ReasoningTokens: 3, TotalTokens: 6}
	b := TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}
	assert.Equal(t, TokenUsage{PromptTokens: 11, CompletionTokens: 22, ReasoningTokens: 3, TotalTokens: 36}, a.Add(b))
	assert.True(t, TokenUsage{}.IsZero())
}
