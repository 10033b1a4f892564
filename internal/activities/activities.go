package activities

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/answer-machine/internal/answermachine"
	"github.com/Kocoro-lab/answer-machine/internal/llm"
	"github.com/Kocoro-lab/answer-machine/internal/models"
)

const heartbeatInterval = 15 * time.Second

// Executor runs one orchestration
type Executor interface {
	Execute(ctx context.Context, req answermachine.ExecuteRequest) answermachine.ExecutionResult
}

// Activities holds dependencies for activities
type Activities struct {
	executor Executor
	settings llm.Settings
	catalog  models.ProviderLookup
	logger   *zap.Logger
}

// NewActivities creates activities backed by an executor. settings are the worker's model
// settings; API keys stay on the worker and never enter workflow history. catalog resolves
// the provider of an overridden model and may be nil.
func NewActivities(executor Executor, settings llm.Settings, catalog models.ProviderLookup, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{executor: executor, settings: settings, catalog: catalog, logger: logger}
}

// RunAnswerMachineInput is the activity input
type RunAnswerMachineInput struct {
	ThreadID         string                    `json:"thread_id"`
	Username         string                    `json:"username"`
	ContinueExisting bool                      `json:"continue_existing"`
	PriorGaps        answermachine.CarriedGaps `json:"prior_gaps"`
	// Model and Provider override the worker defaults when set; without Provider the
	// provider is detected from Model
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// RunAnswerMachineResult is the activity result
type RunAnswerMachineResult struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"error_reason,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	Iterations  int    `json:"iterations"`
	FinalAnswer string `json:"final_answer,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// RunAnswerMachine executes the answer machine for a thread. Run failures are reported in
// the result; only invalid input fails the activity.
func (a *Activities) RunAnswerMachine(ctx context.Context, in RunAnswerMachineInput) (RunAnswerMachineResult, error) {
	if in.ThreadID == "" || in.Username == "" {
		return RunAnswerMachineResult{}, temporal.NewNonRetryableApplicationError(
			"thread_id and username are required", "InvalidInput", nil)
	}

	settings := a.settings.WithModel(in.Model, a.catalog)
	if in.Provider != "" {
		settings.Provider = in.Provider
	}

	logger := a.logger.With(zap.String("thread_id", in.ThreadID), zap.String("username", in.Username))
	if info, ok := activityInfo(ctx); ok {
		logger = logger.With(zap.String("workflow_id", info.WorkflowExecution.ID))
		stop := startHeartbeat(ctx, in.ThreadID)
		defer stop()
	}
	logger.Info("Running answer machine", zap.Bool("continue_existing", in.ContinueExisting))

	res := a.executor.Execute(ctx, answermachine.ExecuteRequest{
		ThreadID:         in.ThreadID,
		Username:         in.Username,
		PriorGaps:        in.PriorGaps,
		ContinueExisting: in.ContinueExisting,
		Settings:         settings,
	})
	if !res.Success {
		logger.Warn("Answer machine run failed", zap.String("run_id", res.RunID), zap.String("reason", res.ErrorReason))
	}
	return RunAnswerMachineResult{
		Success:     res.Success,
		ErrorReason: res.ErrorReason,
		RunID:       res.RunID,
		Iterations:  res.Iterations,
		FinalAnswer: res.FinalAnswer,
		StopReason:  string(res.StopReason),
	}, nil
}

// activityInfo returns the activity info when ctx belongs to a running activity
func activityInfo(ctx context.Context) (info activity.Info, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	info = activity.GetInfo(ctx)
	return info, info.WorkflowExecution.ID != ""
}

func startHeartbeat(ctx context.Context, threadID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, threadID)
			}
		}
	}()
	return func() { close(done) }
}
