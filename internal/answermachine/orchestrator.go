package answermachine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/answer-machine/internal/llm"
	"github.com/Kocoro-lab/answer-machine/internal/metrics"
	"github.com/Kocoro-lab/answer-machine/internal/models"
	"github.com/Kocoro-lab/answer-machine/internal/tracing"
)

// IterationRunner runs one iteration of the loop
type IterationRunner interface {
	Process(ctx context.Context, req IterationRequest) IterationResult
}

// ExecuteRequest starts or resumes the answer machine on a thread
type ExecuteRequest struct {
	ThreadID         string       `json:"thread_id"`
	Username         string       `json:"username"`
	PriorGaps        CarriedGaps  `json:"prior_gaps"`
	ContinueExisting bool         `json:"continue_existing"`
	Settings         llm.Settings `json:"settings"`
}

// ExecutionResult is the outcome of a whole run
type ExecutionResult struct {
	Success     bool           `json:"success"`
	ErrorReason string         `json:"error_reason,omitempty"`
	RunID       string         `json:"run_id,omitempty"`
	Iterations  int            `json:"iterations"`
	FinalAnswer string         `json:"final_answer,omitempty"`
	StopReason  DecisionReason `json:"stop_reason,omitempty"`
}

// Orchestrator drives the iteration loop to completion and writes the final answer back
type Orchestrator struct {
	threads       ThreadStore
	runs          RunStore
	runManager    *RunManager
	processor     IterationRunner
	generator     FinalAnswerGenerator
	recorder      TokenRecorder
	conversations ConversationProvider
	logger        *zap.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(
	threads ThreadStore,
	runs RunStore,
	processor IterationRunner,
	generator FinalAnswerGenerator,
	recorder TokenRecorder,
	conversations ConversationProvider,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		threads:       threads,
		runs:          runs,
		runManager:    NewRunManager(threads, runs, logger),
		processor:     processor,
		generator:     generator,
		recorder:      recorder,
		conversations: conversations,
		logger:        logger,
	}
}

// Execute runs the answer machine for a thread. It never panics and never returns an error:
// failures are reported through ExecutionResult and the run/thread status.
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) (result ExecutionResult) {
	start := time.Now()
	mode := "fresh"
	if req.ContinueExisting {
		mode = "continue"
	}

	ctx, span := tracing.StartSpan(ctx, "answer_machine.run",
		attribute.String("thread_id", req.ThreadID),
		attribute.Bool("continue_existing", req.ContinueExisting),
	)
	defer span.End()

	logger := o.logger.With(zap.String("thread_id", req.ThreadID), zap.String("username", req.Username))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Answer machine run panicked", zap.Any("panic", r), zap.String("run_id", result.RunID))
			reason := fmt.Sprintf("answer machine panicked: %v", r)
			o.markFailed(ctx, req, result.RunID, reason, logger)
			result = ExecutionResult{ErrorReason: reason, RunID: result.RunID, Iterations: result.Iterations}
		}
		status := string(models.RunStatusAnswered)
		if !result.Success {
			status = string(models.RunStatusError)
			span.SetStatus(codes.Error, result.ErrorReason)
		}
		span.SetAttributes(attribute.String("run_id", result.RunID), attribute.Int("iterations", result.Iterations))
		metrics.RecordRun(status, mode, time.Since(start).Seconds(), result.Iterations)
	}()

	thread, err := o.threads.GetThread(ctx, req.ThreadID, req.Username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			err = ErrThreadNotFound
		}
		logger.Warn("Answer machine rejected", zap.Error(err))
		return ExecutionResult{ErrorReason: err.Error()}
	}
	minIter, maxIter := thread.IterationBounds()
	if minIter > maxIter {
		o.markFailed(ctx, req, "", ErrInvalidIterationBounds.Error(), logger)
		return ExecutionResult{ErrorReason: ErrInvalidIterationBounds.Error()}
	}

	init, err := o.runManager.Resolve(ctx, req.ThreadID, thread, req.Username, req.ContinueExisting)
	if err != nil {
		o.markFailed(ctx, req, "", err.Error(), logger)
		return ExecutionResult{ErrorReason: err.Error()}
	}
	result.RunID = init.RunID
	logger = logger.With(zap.String("run_id", init.RunID))

	if err := o.threads.SetThreadStatus(ctx, req.ThreadID, req.Username, string(models.RunStatusPending), ""); err != nil {
		logger.Warn("Failed to mark thread pending", zap.Error(err))
	}

	scope := Scope{RunID: init.RunID, ThreadID: req.ThreadID, Username: req.Username, Settings: req.Settings}
	iteration := init.CurrentIteration
	gaps := req.PriorGaps
	for {
		if err := ctx.Err(); err != nil {
			reason := fmt.Sprintf("answer machine canceled: %v", err)
			o.markFailed(ctx, req, init.RunID, reason, logger)
			result.ErrorReason = reason
			return result
		}

		res := o.processor.Process(ctx, IterationRequest{
			Scope:         scope,
			Iteration:     iteration,
			MinIterations: minIter,
			MaxIterations: maxIter,
			PriorGaps:     gaps,
		})
		result.Iterations++
		if !res.ShouldContinue {
			result.StopReason = res.StopReason
			if res.ErrorReason != "" {
				logger.Warn("Iteration stopped the loop with an error", zap.String("error", res.ErrorReason))
			}
			break
		}
		iteration++
		gaps = res.NextGaps
	}

	return o.finalize(ctx, req, result, logger)
}

func (o *Orchestrator) finalize(ctx context.Context, req ExecuteRequest, result ExecutionResult, logger *zap.Logger) ExecutionResult {
	runID := result.RunID
	fin := o.generator.Generate(ctx, FinalAnswerRequest{
		ThreadID: req.ThreadID,
		Username: req.Username,
		RunID:    runID,
		Settings: req.Settings,
	})

	if o.recorder != nil {
		totals, err := o.recorder.Aggregate(ctx, runID)
		if err == nil {
			err = o.runs.UpdateTotals(ctx, runID, totals)
		}
		if err != nil {
			logger.Warn("Failed to update run token totals", zap.Error(err))
		}
	}

	if !fin.Success {
		o.markFailed(ctx, req, runID, fin.ErrorReason, logger)
		result.ErrorReason = fin.ErrorReason
		return result
	}

	if err := o.runs.CompleteRun(ctx, runID, fin.Answer); err != nil {
		reason := fmt.Sprintf("failed to complete run: %v", err)
		o.markFailed(ctx, req, runID, reason, logger)
		result.ErrorReason = reason
		return result
	}
	if err := o.threads.AppendMessage(ctx, &models.Message{
		ThreadID: req.ThreadID,
		Username: req.Username,
		Content:  fin.Answer,
		IsAI:     true,
	}); err != nil {
		reason := fmt.Sprintf("failed to append answer message: %v", err)
		o.markFailed(ctx, req, runID, reason, logger)
		result.ErrorReason = reason
		return result
	}
	if err := o.threads.SetThreadStatus(ctx, req.ThreadID, req.Username, string(models.RunStatusAnswered), ""); err != nil {
		logger.Warn("Failed to mark thread answered", zap.Error(err))
	}
	o.invalidate(ctx, req, logger)

	logger.Info("Answer machine run completed",
		zap.Int("iterations", result.Iterations),
		zap.String("stop_reason", string(result.StopReason)),
		zap.Bool("fallback_answer", fin.Fallback),
	)
	result.Success = true
	result.FinalAnswer = fin.Answer
	return result
}

// markFailed records a failure on the run and thread even when ctx is canceled
func (o *Orchestrator) markFailed(ctx context.Context, req ExecuteRequest, runID, reason string, logger *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	if runID != "" {
		if err := o.runs.FailRun(ctx, runID, reason); err != nil {
			logger.Warn("Failed to mark run error", zap.String("run_id", runID), zap.Error(err))
		}
	}
	if err := o.threads.SetThreadStatus(ctx, req.ThreadID, req.Username, string(models.RunStatusError), reason); err != nil {
		logger.Warn("Failed to mark thread error", zap.Error(err))
	}
	o.invalidate(ctx, req, logger)
	logger.Warn("Answer machine run failed", zap.String("run_id", runID), zap.String("reason", reason))
}

// invalidate drops cached history so the next read sees the thread's latest messages
func (o *Orchestrator) invalidate(ctx context.Context, req ExecuteRequest, logger *zap.Logger) {
	inv, ok := o.conversations.(ConversationInvalidator)
	if !ok {
		return
	}
	if err := inv.Invalidate(ctx, req.ThreadID, req.Username); err != nil {
		logger.Debug("Failed to invalidate conversation cache", zap.Error(err))
	}
}
