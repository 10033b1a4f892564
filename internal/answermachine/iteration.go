package answermachine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/answer-machine/internal/metrics"
	"github.com/Kocoro-lab/answer-machine/internal/models"
	"github.com/Kocoro-lab/answer-machine/internal/tracing"
)

const (
	ReasonNoQuestions DecisionReason = "no_questions"
	ReasonError       DecisionReason = "error"
)

// PendingAnswerer answers the pending sub-questions of a run
type PendingAnswerer interface {
	AnswerPending(ctx context.Context, req PendingRequest) (PendingSummary, error)
}

// IterationRequest describes one pass of the loop
type IterationRequest struct {
	Scope
	Iteration     int
	MinIterations int
	MaxIterations int
	PriorGaps     CarriedGaps
}

// IterationResult tells the orchestrator whether to run another iteration
type IterationResult struct {
	ShouldContinue     bool
	NextGaps           CarriedGaps
	ErrorReason        string
	StopReason         DecisionReason
	QuestionsGenerated int
	Answered           int
}

// IterationProcessor runs a single iteration: decompose, answer, synthesize, evaluate, decide
type IterationProcessor struct {
	conversations ConversationProvider
	decomposer    Decomposer
	answerer      PendingAnswerer
	synthesizer   Synthesizer
	evaluator     Evaluator
	gaps          GapRecoverer
	runs          RunStore
	recorder      TokenRecorder
	logger        *zap.Logger
}

// NewIterationProcessor wires an iteration processor
func NewIterationProcessor(
	conversations ConversationProvider,
	decomposer Decomposer,
	answerer PendingAnswerer,
	synthesizer Synthesizer,
	evaluator Evaluator,
	gaps GapRecoverer,
	runs RunStore,
	recorder TokenRecorder,
	logger *zap.Logger,
) *IterationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gaps == nil {
		gaps = NewReevaluatingGapRecoverer(evaluator)
	}
	return &IterationProcessor{
		conversations: conversations,
		decomposer:    decomposer,
		answerer:      answerer,
		synthesizer:   synthesizer,
		evaluator:     evaluator,
		gaps:          gaps,
		runs:          runs,
		recorder:      recorder,
		logger:        logger,
	}
}

// Process runs one iteration. Errors and panics are converted into a stop with ErrorReason.
func (p *IterationProcessor) Process(ctx context.Context, req IterationRequest) (result IterationResult) {
	ctx, span := tracing.StartSpan(ctx, "answer_machine.iteration",
		attribute.String("run_id", req.RunID),
		attribute.Int("iteration", req.Iteration),
	)
	defer span.End()

	logger := p.logger.With(
		zap.String("run_id", req.RunID),
		zap.String("thread_id", req.ThreadID),
		zap.Int("iteration", req.Iteration),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Iteration panicked", zap.Any("panic", r))
			result = IterationResult{ErrorReason: fmt.Sprintf("iteration panicked: %v", r), StopReason: ReasonError}
		}
		if result.ErrorReason != "" {
			span.SetStatus(codes.Error, result.ErrorReason)
		}
		metrics.IterationsTotal.WithLabelValues(string(result.StopReason)).Inc()
	}()

	res, err := p.process(ctx, req, logger)
	if err != nil {
		logger.Warn("Iteration failed", zap.Error(err))
		return IterationResult{
			ErrorReason:        err.Error(),
			StopReason:         ReasonError,
			QuestionsGenerated: res.QuestionsGenerated,
			Answered:           res.Answered,
		}
	}
	logger.Info("Iteration completed",
		zap.Bool("continue", res.ShouldContinue),
		zap.String("reason", string(res.StopReason)),
		zap.Int("questions", res.QuestionsGenerated),
		zap.Int("answered", res.Answered),
	)
	return res
}

func (p *IterationProcessor) process(ctx context.Context, req IterationRequest, logger *zap.Logger) (IterationResult, error) {
	var result IterationResult
	limits := ComputeLimits(req.Iteration, req.MinIterations, req.MaxIterations)

	history, err := p.conversations.GetMessages(ctx, req.ThreadID, req.Username)
	if err != nil {
		return result, fmt.Errorf("failed to load conversation: %w", err)
	}
	if len(history) == 0 {
		return result, ErrNoConversation
	}

	gaps, err := p.resolveGaps(ctx, req)
	if err != nil {
		return result, err
	}

	dec, err := p.decomposer.Decompose(ctx, DecomposeRequest{
		Scope:            req.Scope,
		Iteration:        req.Iteration,
		Gaps:             gaps,
		ContinuingForMin: req.Iteration > 1 && len(gaps) == 0 && !limits.HasReachedMin,
		Transcript:       Transcript(history),
	})
	if err != nil {
		return result, fmt.Errorf("failed to decompose: %w", err)
	}
	p.record(ctx, req.Scope, models.QueryTypeQuestionGeneration, dec.Usage, logger)
	result.QuestionsGenerated = len(dec.Questions)

	if req.Iteration > req.MaxIterations {
		result.StopReason = ReasonMaxReached
		return result, nil
	}
	if len(dec.Questions) == 0 && req.Iteration == 1 {
		result.StopReason = ReasonNoQuestions
		return result, nil
	}

	summary, err := p.answerer.AnswerPending(ctx, PendingRequest{
		RunID:    req.RunID,
		ThreadID: req.ThreadID,
		Username: req.Username,
		Settings: req.Settings,
	})
	result.Answered = summary.Answered
	if err != nil {
		return result, fmt.Errorf("failed to answer sub-questions: %w", err)
	}

	synth, err := p.synthesizer.Synthesize(ctx, req.RunID)
	if err != nil {
		return result, fmt.Errorf("failed to synthesize: %w", err)
	}
	p.record(ctx, req.Scope, models.QueryTypeIntermediateAnswer, synth.Usage, logger)
	if strings.TrimSpace(synth.Answer) != "" {
		if err := p.runs.AppendIntermediateAnswer(ctx, req.RunID, req.Iteration, synth.Answer); err != nil {
			return result, fmt.Errorf("failed to append intermediate answer: %w", err)
		}
	}
	if err := p.runs.SetCurrentIteration(ctx, req.RunID, req.Iteration+1); err != nil {
		return result, fmt.Errorf("failed to advance iteration: %w", err)
	}

	next := ComputeLimits(req.Iteration+1, req.MinIterations, req.MaxIterations)
	if next.HasReachedMax {
		result.StopReason = ReasonMaxReached
		return result, nil
	}

	eval, err := p.evaluator.Evaluate(ctx, req.RunID, req.Iteration+1)
	if err != nil {
		return result, fmt.Errorf("failed to evaluate: %w", err)
	}
	p.record(ctx, req.Scope, models.QueryTypeEvaluation, eval.Usage, logger)

	decision := Decide(eval, next)
	result.ShouldContinue = decision.Continue
	result.StopReason = decision.Reason
	if decision.Reason == ReasonForcedToMinimum {
		// No gaps to act on; the next iteration repeats the template questions.
		logger.Warn("Continuing without gaps to reach minimum iterations",
			zap.Int("min_iterations", req.MinIterations))
	}
	if decision.Continue {
		result.NextGaps = Carry(eval.Gaps)
	}
	return result, nil
}

// resolveGaps returns the gaps the decomposition should address
func (p *IterationProcessor) resolveGaps(ctx context.Context, req IterationRequest) ([]string, error) {
	if req.Iteration <= 1 {
		return nil, nil
	}
	if req.PriorGaps.Present {
		return req.PriorGaps.Gaps, nil
	}
	eval, err := p.gaps.RecoverGaps(ctx, req.RunID, req.Iteration)
	if err != nil {
		return nil, err
	}
	p.record(ctx, req.Scope, models.QueryTypeEvaluation, eval.Usage, p.logger)
	return eval.Gaps, nil
}

func (p *IterationProcessor) record(ctx context.Context, scope Scope, qt models.QueryType, usage models.TokenUsage, logger *zap.Logger) {
	if usage.IsZero() || p.recorder == nil {
		return
	}
	if _, err := p.recorder.Record(ctx, scope.entry(qt, usage)); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("Failed to record token usage", zap.String("query_type", string(qt)), zap.Error(err))
	}
}
