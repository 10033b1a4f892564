package constants

// Activity and workflow names used for registration and execution
const (
	RunAnswerMachineActivity = "RunAnswerMachine"

	AnswerMachineWorkflow = "AnswerMachineWorkflow"

	// DefaultTaskQueue is the queue answer machine workers poll
	DefaultTaskQueue = "answer-machine"
)

// WorkflowID returns the workflow id of a thread's orchestration; one active per thread
func WorkflowID(threadID string) string {
	return "answer-machine-" + threadID
}
