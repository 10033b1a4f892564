package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/answer-machine/internal/activities"
	"github.com/Kocoro-lab/answer-machine/internal/answermachine"
	"github.com/Kocoro-lab/answer-machine/internal/constants"
)

const (
	defaultRunTimeout = 30 * time.Minute
	heartbeatTimeout  = 2 * time.Minute
)

// AnswerMachineInput starts or resumes the answer machine on a thread
type AnswerMachineInput struct {
	ThreadID         string                    `json:"thread_id"`
	Username         string                    `json:"username"`
	ContinueExisting bool                      `json:"continue_existing"`
	PriorGaps        answermachine.CarriedGaps `json:"prior_gaps"`
	Model            string                    `json:"model,omitempty"`
	Provider         string                    `json:"provider,omitempty"`
	// Timeout bounds the whole run; zero uses the default
	Timeout time.Duration `json:"timeout,omitempty"`
}

// AnswerMachineResult mirrors the orchestration outcome
type AnswerMachineResult struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"error_reason,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	Iterations  int    `json:"iterations"`
	FinalAnswer string `json:"final_answer,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// AnswerMachineWorkflow runs the answer machine activity exactly once.
// The orchestration has its own failure handling so the activity is never retried.
func AnswerMachineWorkflow(ctx workflow.Context, input AnswerMachineInput) (AnswerMachineResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting AnswerMachineWorkflow",
		"thread_id", input.ThreadID,
		"username", input.Username,
		"continue_existing", input.ContinueExisting,
	)

	timeout := input.Timeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    heartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var res activities.RunAnswerMachineResult
	err := workflow.ExecuteActivity(ctx, constants.RunAnswerMachineActivity, activities.RunAnswerMachineInput{
		ThreadID:         input.ThreadID,
		Username:         input.Username,
		ContinueExisting: input.ContinueExisting,
		PriorGaps:        input.PriorGaps,
		Model:            input.Model,
		Provider:         input.Provider,
	}).Get(ctx, &res)
	if err != nil {
		logger.Error("Answer machine activity failed", "error", err)
		return AnswerMachineResult{ErrorReason: err.Error()}, err
	}

	logger.Info("AnswerMachineWorkflow completed",
		"success", res.Success,
		"run_id", res.RunID,
		"iterations", res.Iterations,
	)
	return AnswerMachineResult{
		Success:     res.Success,
		ErrorReason: res.ErrorReason,
		RunID:       res.RunID,
		Iterations:  res.Iterations,
		FinalAnswer: res.FinalAnswer,
		StopReason:  res.StopReason,
	}, nil
}
