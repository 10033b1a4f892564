package workflows

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/Kocoro-lab/answer-machine/internal/constants"
)

// ErrAlreadyRunning is returned when the thread already has an active orchestration
var ErrAlreadyRunning = errors.New("answer machine already running for thread")

// Starter starts workflow executions
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// StartOptions returns the start options for a thread. A running execution with the same id
// rejects the start; a completed one may be started again.
func StartOptions(threadID, taskQueue string) client.StartWorkflowOptions {
	if taskQueue == "" {
		taskQueue = constants.DefaultTaskQueue
	}
	return client.StartWorkflowOptions{
		ID:                                       constants.WorkflowID(threadID),
		TaskQueue:                                taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowIDConflictPolicy:                 enumspb.WORKFLOW_ID_CONFLICT_POLICY_FAIL,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
}

// Start schedules the answer machine for a thread
func Start(ctx context.Context, c Starter, taskQueue string, input AnswerMachineInput) (client.WorkflowRun, error) {
	if input.ThreadID == "" {
		return nil, fmt.Errorf("thread id is required")
	}
	run, err := c.ExecuteWorkflow(ctx, StartOptions(input.ThreadID, taskQueue), constants.AnswerMachineWorkflow, input)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, input.ThreadID)
		}
		return nil, fmt.Errorf("failed to start answer machine workflow: %w", err)
	}
	return run, nil
}
