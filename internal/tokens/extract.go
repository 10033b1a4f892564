// Package tokens extracts token usage from LLM responses and keeps the per-run token ledger.
package tokens

import (
	"encoding/json"

	"github.com/Kocoro-lab/answer-machine/internal/models"
)

// openAIUsage covers OpenAI-compatible usage objects, including reasoning counts
// reported either at the top level or under completion_tokens_details.
type openAIUsage struct {
	PromptTokens            int  `json:"prompt_tokens"`
	CompletionTokens        int  `json:"completion_tokens"`
	TotalTokens             *int `json:"total_tokens"`
	ReasoningTokens         int  `json:"reasoning_tokens"`
	CompletionTokensDetails *struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details"`
}

type rawResponse struct {
	Usage           *openAIUsage `json:"usage"`
	PromptEvalCount *int         `json:"prompt_eval_count"`
	EvalCount       *int         `json:"eval_count"`
}

// Extract reads token counts from a raw provider response.
// Unknown or malformed shapes yield zero usage.
func Extract(raw []byte) models.TokenUsage {
	if len(raw) == 0 {
		return models.TokenUsage{}
	}
	var r rawResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.TokenUsage{}
	}

	if u := r.Usage; u != nil {
		reasoning := u.ReasoningTokens
		if u.CompletionTokensDetails != nil && u.CompletionTokensDetails.ReasoningTokens > 0 {
			reasoning = u.CompletionTokensDetails.ReasoningTokens
		}
		reported := 0
		if u.TotalTokens != nil {
			reported = *u.TotalTokens
		}
		return Usage(u.PromptTokens, u.CompletionTokens, reasoning, reported)
	}

	if r.PromptEvalCount != nil || r.EvalCount != nil {
		var prompt, completion int
		if r.PromptEvalCount != nil {
			prompt = *r.PromptEvalCount
		}
		if r.EvalCount != nil {
			completion = *r.EvalCount
		}
		return Usage(prompt, completion, 0, 0)
	}
	return models.TokenUsage{}
}

// Usage builds a TokenUsage. A positive reported total wins over the component sum.
func Usage(prompt, completion, reasoning, reportedTotal int) models.TokenUsage {
	u := models.TokenUsage{
		PromptTokens:     max(prompt, 0),
		CompletionTokens: max(completion, 0),
		ReasoningTokens:  max(reasoning, 0),
	}
	if reportedTotal > 0 {
		u.TotalTokens = reportedTotal
	} else {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens + u.ReasoningTokens
	}
	return u
}

// Normalize fills a missing total from the component counts
func Normalize(u models.TokenUsage) models.TokenUsage {
	return Usage(u.PromptTokens, u.CompletionTokens, u.ReasoningTokens, u.TotalTokens)
}

// Estimate approximates the token count of text at one token per four characters
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
