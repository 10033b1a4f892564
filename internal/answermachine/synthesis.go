package answermachine

import (
	"context"
	"fmt"
	"strings"

	"github.com/Kocoro-lab/answer-machine/internal/models"
	"github.com/Kocoro-lab/answer-machine/internal/tokens"
)

// NothingAnsweredYet is the intermediate answer when no sub-question has an answer
const NothingAnsweredYet = "No sub-questions have been answered yet for this request."

var nothingAnsweredUsage = models.TokenUsage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}

// SynthesisResult is an intermediate answer and the usage charged to intermediate_answer
type SynthesisResult struct {
	Answer   string
	Answered int
	Usage    models.TokenUsage
}

// Synthesizer merges answered sub-questions into one intermediate answer
type Synthesizer interface {
	Synthesize(ctx context.Context, runID string) (SynthesisResult, error)
}

// ListSynthesizer renders answered sub-questions as a numbered list
type ListSynthesizer struct {
	subs SubQuestionStore
}

// NewListSynthesizer creates a list synthesizer
func NewListSynthesizer(subs SubQuestionStore) *ListSynthesizer {
	return &ListSynthesizer{subs: subs}
}

// Synthesize builds the intermediate answer over every answered sub-question of the run
func (s *ListSynthesizer) Synthesize(ctx context.Context, runID string) (SynthesisResult, error) {
	answered, err := s.subs.ListSubQuestions(ctx, runID, models.SubQuestionAnswered)
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("failed to list answered sub-questions: %w", err)
	}
	if len(answered) == 0 {
		return SynthesisResult{Answer: NothingAnsweredYet, Usage: nothingAnsweredUsage}, nil
	}

	parts := make([]string, 0, len(answered)+1)
	input := 0
	for i, sq := range answered {
		parts = append(parts, fmt.Sprintf("%d. Q: %s\nA: %s", i+1, sq.Question, sq.Answer))
		input += tokens.Estimate(sq.Question) + tokens.Estimate(sq.Answer)
	}
	parts = append(parts, fmt.Sprintf("Summary: %d sub-questions have been answered so far.", len(answered)))
	answer := strings.Join(parts, "\n\n")

	return SynthesisResult{
		Answer:   answer,
		Answered: len(answered),
		Usage:    tokens.Usage(input, tokens.Estimate(answer), 0, 0),
	}, nil
}
