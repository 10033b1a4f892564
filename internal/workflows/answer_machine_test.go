package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"

	"github.com/Kocoro-lab/answer-machine/internal/activities"
	"github.com/Kocoro-lab/answer-machine/internal/constants"
)

func newEnv(t *testing.T, stub func(context.Context, activities.RunAnswerMachineInput) (activities.RunAnswerMachineResult, error)) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflowWithOptions(AnswerMachineWorkflow, workflow.RegisterOptions{Name: constants.AnswerMachineWorkflow})
	env.RegisterActivityWithOptions(stub, activity.RegisterOptions{Name: constants.RunAnswerMachineActivity})
	return env
}

func TestAnswerMachineWorkflowPassesThroughResult(t *testing.T) {
	var got activities.RunAnswerMachineInput
	env := newEnv(t, func(_ context.Context, in activities.RunAnswerMachineInput) (activities.RunAnswerMachineResult, error) {
		got = in
		return activities.RunAnswerMachineResult{Success: true, RunID: "run-1", Iterations: 2, FinalAnswer: "done"}, nil
	})

	env.ExecuteWorkflow(AnswerMachineWorkflow, AnswerMachineInput{ThreadID: "t1", Username: "alice", ContinueExisting: true, Model: "gpt-4o-mini"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out AnswerMachineResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.True(t, out.Success)
	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, 2, out.Iterations)
	assert.Equal(t, "t1", got.ThreadID)
	assert.True(t, got.ContinueExisting)
	assert.Equal(t, "gpt-4o-mini", got.Model)
}

func TestAnswerMachineWorkflowDoesNotRetry(t *testing.T) {
	attempts := 0
	env := newEnv(t, func(context.Context, activities.RunAnswerMachineInput) (activities.RunAnswerMachineResult, error) {
		attempts++
		return activities.RunAnswerMachineResult{}, errors.New("worker lost")
	})

	env.ExecuteWorkflow(AnswerMachineWorkflow, AnswerMachineInput{ThreadID: "t1", Username: "alice"})
	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())
	assert.Equal(t, 1, attempts)
}

func TestAnswerMachineWorkflowReportsRunFailure(t *testing.T) {
	env := newEnv(t, func(context.Context, activities.RunAnswerMachineInput) (activities.RunAnswerMachineResult, error) {
		return activities.RunAnswerMachineResult{ErrorReason: "thread not found"}, nil
	})

	env.ExecuteWorkflow(AnswerMachineWorkflow, AnswerMachineInput{ThreadID: "t1", Username: "alice"})
	require.NoError(t, env.GetWorkflowError())
	var out AnswerMachineResult
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.False(t, out.Success)
	assert.Equal(t, "thread not found", out.ErrorReason)
}

func TestStartOptions(t *testing.T) {
	opts := StartOptions("t1", "")
	assert.Equal(t, "answer-machine-t1", opts.ID)
	assert.Equal(t, constants.DefaultTaskQueue, opts.TaskQueue)
	assert.Equal(t, enumspb.WORKFLOW_ID_CONFLICT_POLICY_FAIL, opts.WorkflowIDConflictPolicy)
	assert.True(t, opts.WorkflowExecutionErrorWhenAlreadyStarted)
}

type fakeStarter struct {
	err  error
	opts client.StartWorkflowOptions
}

func (f *fakeStarter) ExecuteWorkflow(_ context.Context, options client.StartWorkflowOptions, _ interface{}, _ ...interface{}) (client.WorkflowRun, error) {
	f.opts = options
	return nil, f.err
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	s := &fakeStarter{err: serviceerror.NewWorkflowExecutionAlreadyStarted("running", "req", "run")}
	_, err := Start(context.Background(), s, "q", AnswerMachineInput{ThreadID: "t1", Username: "alice"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, "answer-machine-t1", s.opts.ID)

	_, err = Start(context.Background(), &fakeStarter{}, "q", AnswerMachineInput{})
	assert.Error(t, err)
}
