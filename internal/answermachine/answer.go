package answermachine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/answer-machine/internal/llm"
	"github.com/Kocoro-lab/answer-machine/internal/metrics"
	"github.com/Kocoro-lab/answer-machine/internal/models"
	"github.com/Kocoro-lab/answer-machine/internal/retrieval"
	"github.com/Kocoro-lab/answer-machine/internal/tokens"
)

const answerSystemPrompt = `You are a personal assistant answering one focused question for the user.
Use only the user's records below and the conversation when they are relevant.
If the records do not contain the answer, say what is missing.

%s`

// AnswerRequest identifies a sub-question to answer
type AnswerRequest struct {
	SubQuestionID string
	ThreadID      string
	RunID         string
	Username      string
	Settings      llm.Settings
}

// AnswerResult is the outcome of one answer attempt
type AnswerResult struct {
	Success     bool
	Answer      string
	ContextIDs  []string
	Usage       models.TokenUsage
	Fallback    bool
	ErrorReason string
}

// AnswererConfig configures sub-question answering
type AnswererConfig struct {
	// Concurrency is the number of sub-questions answered at once; 1 answers sequentially
	Concurrency int
}

// Answerer answers sub-questions from retrieved personal context
type Answerer struct {
	subs          SubQuestionStore
	conversations ConversationProvider
	keywords      KeywordGenerator
	searcher      ContextSearcher
	caller        LLMCaller
	recorder      TokenRecorder
	concurrency   int
	logger        *zap.Logger
}

// NewAnswerer creates an answerer
func NewAnswerer(
	subs SubQuestionStore,
	conversations ConversationProvider,
	keywords KeywordGenerator,
	searcher ContextSearcher,
	caller LLMCaller,
	recorder TokenRecorder,
	cfg AnswererConfig,
	logger *zap.Logger,
) *Answerer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Answerer{
		subs:          subs,
		conversations: conversations,
		keywords:      keywords,
		searcher:      searcher,
		caller:        caller,
		recorder:      recorder,
		concurrency:   cfg.Concurrency,
		logger:        logger,
	}
}

// FallbackAnswer is the templated answer used when the model call fails
func FallbackAnswer(question string) string {
	return fmt.Sprintf("An automated answer to %q could not be generated right now. "+
		"This question is kept so the final answer can account for it.", question)
}

// Answer makes one attempt at a sub-question. A model failure falls back to a templated
// answer; only store failures or panics leave the sub-question in error.
func (a *Answerer) Answer(ctx context.Context, req AnswerRequest) (result AnswerResult) {
	sq, err := a.subs.GetSubQuestion(ctx, req.SubQuestionID, req.Username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			err = ErrSubQuestionNotFound
		}
		metrics.SubQuestionsAnswered.WithLabelValues("error").Inc()
		return AnswerResult{ErrorReason: err.Error()}
	}
	if strings.TrimSpace(sq.Question) == "" {
		a.markError(ctx, sq.ID, ErrSubQuestionNotFound.Error())
		return AnswerResult{ErrorReason: ErrSubQuestionNotFound.Error()}
	}

	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("panic while answering: %v", r)
			a.logger.Error("Sub-question answer panicked",
				zap.String("sub_question_id", sq.ID),
				zap.Any("panic", r),
			)
			a.markError(ctx, sq.ID, reason)
			result = AnswerResult{ErrorReason: reason}
		}
	}()

	scope := Scope{RunID: sq.RunID, ThreadID: sq.ThreadID, Username: req.Username, Settings: req.Settings}
	if req.RunID != "" {
		scope.RunID = req.RunID
	}

	history, err := a.conversations.GetMessages(ctx, sq.ThreadID, req.Username)
	if err != nil {
		a.logger.Debug("Conversation unavailable for sub-question", zap.String("sub_question_id", sq.ID), zap.Error(err))
		history = nil
	}

	items := a.retrieve(ctx, sq, req)
	contextText := retrieval.Group(items).Text()
	contextIDs := retrieval.IDs(items)

	messages := []llm.Message{{Role: "system", Content: fmt.Sprintf(answerSystemPrompt, contextText)}}
	for _, m := range history {
		role := "user"
		if m.IsAI {
			role = "assistant"
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: sq.Question})

	result = AnswerResult{Success: true, ContextIDs: contextIDs}
	resp := a.caller.Call(ctx, req.Settings.Request(messages...))
	if resp.Success {
		result.Answer = resp.Content
		// a body without a usage shape counts as zero tokens
		result.Usage = tokens.Extract(resp.Raw)
		if a.recorder != nil {
			if _, err := a.recorder.Record(ctx, scope.entry(models.QueryTypeSubQuestionAnswer, result.Usage)); err != nil {
				a.logger.Warn("Failed to record sub-question tokens", zap.String("sub_question_id", sq.ID), zap.Error(err))
			}
		}
	} else {
		a.logger.Info("LLM call failed, using fallback answer",
			zap.String("sub_question_id", sq.ID),
			zap.String("error", resp.Error),
		)
		result.Answer = FallbackAnswer(sq.Question)
		result.Fallback = true
	}

	if err := a.subs.MarkAnswered(ctx, sq.ID, result.Answer, contextIDs); err != nil {
		reason := fmt.Sprintf("failed to persist answer: %v", err)
		a.markError(ctx, sq.ID, reason)
		metrics.SubQuestionsAnswered.WithLabelValues("error").Inc()
		return AnswerResult{ErrorReason: reason}
	}

	if result.Fallback {
		metrics.SubQuestionsAnswered.WithLabelValues("fallback").Inc()
	} else {
		metrics.SubQuestionsAnswered.WithLabelValues("llm").Inc()
	}
	return result
}

// PendingRequest selects the pending sub-questions of a run
type PendingRequest struct {
	RunID    string
	ThreadID string
	Username string
	Settings llm.Settings
}

// PendingSummary counts the outcomes of a batch
type PendingSummary struct {
	Attempted int
	Answered  int
	Failed    int
}

// AnswerPending answers every pending sub-question of a run through a bounded worker pool.
// Each sub-question goes to exactly one worker. Cancellation stops dispatch; answers already
// in flight run to completion on a context detached from cancellation.
func (a *Answerer) AnswerPending(ctx context.Context, req PendingRequest) (PendingSummary, error) {
	pending, err := a.subs.ListSubQuestions(ctx, req.RunID, models.SubQuestionPending)
	if err != nil {
		return PendingSummary{}, fmt.Errorf("failed to list pending sub-questions: %w", err)
	}

	results := make([]AnswerResult, len(pending))
	dispatched := make([]bool, len(pending))
	work := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			// a slot may free up only after cancellation
			if ctx.Err() != nil {
				return nil
			}
			dispatched[i] = true
			results[i] = a.Answer(work, AnswerRequest{
				SubQuestionID: pending[i].ID,
				ThreadID:      req.ThreadID,
				RunID:         req.RunID,
				Username:      req.Username,
				Settings:      req.Settings,
			})
			return nil
		})
	}
	_ = g.Wait()

	var summary PendingSummary
	for i, res := range results {
		if !dispatched[i] {
			continue
		}
		summary.Attempted++
		if res.Success {
			summary.Answered++
		} else {
			summary.Failed++
		}
	}
	return summary, ctx.Err()
}

func (a *Answerer) retrieve(ctx context.Context, sq *models.SubQuestion, req AnswerRequest) []models.ContextItem {
	var kws []string
	if a.keywords != nil {
		var err error
		kws, err = a.keywords.Keywords(ctx, sq.Question, req.Settings)
		if err != nil {
			a.logger.Debug("Keyword generation failed, using heuristics", zap.Error(err))
			kws = nil
		}
	}
	if len(kws) == 0 {
		kws = retrieval.HeuristicKeywords(sq.Question)
	}
	if len(kws) == 0 || a.searcher == nil {
		return nil
	}
	items, err := a.searcher.Search(ctx, kws, req.Username)
	if err != nil {
		a.logger.Debug("Context search failed", zap.String("sub_question_id", sq.ID), zap.Error(err))
		return nil
	}
	return items
}

func (a *Answerer) markError(ctx context.Context, id, reason string) {
	if err := a.subs.MarkSubQuestionError(context.WithoutCancel(ctx), id, reason); err != nil {
		a.logger.Warn("Failed to mark sub-question error",
			zap.String("sub_question_id", id),
			zap.Error(err),
		)
	}
}
