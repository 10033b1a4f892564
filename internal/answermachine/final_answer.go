package answermachine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/answer-machine/internal/llm"
	"github.com/Kocoro-lab/answer-machine/internal/models"
	"github.com/Kocoro-lab/answer-machine/internal/retrieval"
	"github.com/Kocoro-lab/answer-machine/internal/tokens"
)

const finalAnswerSystemPrompt = `You write the final reply to the user's message.
Combine the research notes and the user's records into one clear, direct answer.
Do not mention the research process.`

// FinalAnswerRequest identifies the run to finalize
type FinalAnswerRequest struct {
	ThreadID string
	Username string
	RunID    string
	Settings llm.Settings
}

// FinalAnswerResult is the outcome of final-answer generation
type FinalAnswerResult struct {
	Success     bool
	Answer      string
	ErrorReason string
	// Fallback is set when the latest intermediate answer was used instead of a model answer
	Fallback bool
	Usage    models.TokenUsage
}

// FinalAnswerGenerator produces the reply written back to the thread
type FinalAnswerGenerator interface {
	Generate(ctx context.Context, req FinalAnswerRequest) FinalAnswerResult
}

// LLMFinalAnswerGenerator synthesizes the final answer with one model call
type LLMFinalAnswerGenerator struct {
	threads  ThreadStore
	runs     RunStore
	subs     SubQuestionStore
	fetcher  ContentFetcher
	caller   LLMCaller
	recorder TokenRecorder
	logger   *zap.Logger
}

// NewLLMFinalAnswerGenerator creates a final-answer generator
func NewLLMFinalAnswerGenerator(
	threads ThreadStore,
	runs RunStore,
	subs SubQuestionStore,
	fetcher ContentFetcher,
	caller LLMCaller,
	recorder TokenRecorder,
	logger *zap.Logger,
) *LLMFinalAnswerGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMFinalAnswerGenerator{
		threads:  threads,
		runs:     runs,
		subs:     subs,
		fetcher:  fetcher,
		caller:   caller,
		recorder: recorder,
		logger:   logger,
	}
}

// Generate answers the run's parent message from its sub-questions, intermediate answers
// and referenced records. When the model fails the latest intermediate answer is returned.
func (g *LLMFinalAnswerGenerator) Generate(ctx context.Context, req FinalAnswerRequest) FinalAnswerResult {
	run, err := g.runs.GetRun(ctx, req.RunID)
	if err != nil {
		return FinalAnswerResult{ErrorReason: fmt.Sprintf("failed to load run: %v", err)}
	}

	question := ""
	if run.ParentMessageID != "" {
		if msg, err := g.threads.GetMessage(ctx, run.ParentMessageID, req.Username); err == nil {
			question = msg.Content
		} else {
			g.logger.Debug("Parent message unavailable", zap.String("run_id", run.ID), zap.Error(err))
		}
	}

	answered, err := g.subs.ListSubQuestions(ctx, run.ID, models.SubQuestionAnswered)
	if err != nil {
		g.logger.Debug("Answered sub-questions unavailable", zap.String("run_id", run.ID), zap.Error(err))
		answered = nil
	}

	var blocks retrieval.Blocks
	if ids := contextIDs(answered); len(ids) > 0 && g.fetcher != nil {
		blocks, err = g.fetcher.FetchByIDs(ctx, ids, req.Username)
		if err != nil {
			g.logger.Debug("Context fetch failed", zap.String("run_id", run.ID), zap.Error(err))
			blocks = nil
		}
	}

	prompt := buildFinalPrompt(question, run.IntermediateAnswers, answered, blocks)
	messages := []llm.Message{
		{Role: "system", Content: finalAnswerSystemPrompt},
		{Role: "user", Content: prompt},
	}
	resp := g.caller.Call(ctx, req.Settings.Request(messages...))
	if resp.Success && strings.TrimSpace(resp.Content) != "" {
		usage := tokens.Extract(resp.Raw)
		scope := Scope{RunID: run.ID, ThreadID: req.ThreadID, Username: req.Username, Settings: req.Settings}
		if g.recorder != nil {
			if _, err := g.recorder.Record(ctx, scope.entry(models.QueryTypeFinalAnswer, usage)); err != nil {
				g.logger.Warn("Failed to record final answer tokens", zap.String("run_id", run.ID), zap.Error(err))
			}
		}
		return FinalAnswerResult{Success: true, Answer: resp.Content, Usage: usage}
	}

	if latest := run.LatestIntermediateAnswer(); strings.TrimSpace(latest) != "" && latest != NothingAnsweredYet {
		g.logger.Info("Final answer model call failed, using latest intermediate answer",
			zap.String("run_id", run.ID),
			zap.String("error", resp.Error),
		)
		return FinalAnswerResult{Success: true, Answer: latest, Fallback: true}
	}

	reason := resp.Error
	if reason == "" {
		reason = "empty final answer"
	}
	return FinalAnswerResult{ErrorReason: fmt.Sprintf("final answer generation failed: %s", reason)}
}

func contextIDs(subs []models.SubQuestion) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, sq := range subs {
		for _, id := range sq.ContextIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

func buildFinalPrompt(question string, intermediate []string, answered []models.SubQuestion, blocks retrieval.Blocks) string {
	var sb strings.Builder
	if question != "" {
		fmt.Fprintf(&sb, "User message:\n%s\n\n", question)
	}
	if len(answered) > 0 {
		sb.WriteString("Research notes:\n")
		for i, sq := range answered {
			fmt.Fprintf(&sb, "%d. %s\n%s\n", i+1, sq.Question, sq.Answer)
		}
		sb.WriteString("\n")
	}
	if n := len(intermediate); n > 0 {
		fmt.Fprintf(&sb, "Latest draft:\n%s\n\n", intermediate[n-1])
	}
	if !blocks.Empty() {
		fmt.Fprintf(&sb, "User records:\n%s\n", blocks.Text())
	}
	return sb.String()
}
