package registry

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/answer-machine/internal/activities"
	"github.com/Kocoro-lab/answer-machine/internal/constants"
	"github.com/Kocoro-lab/answer-machine/internal/workflows"
)

// Registry registers the answer machine workflow and activities on a worker
type Registry struct {
	activities *activities.Activities
	logger     *zap.Logger
}

// New creates a registry
func New(acts *activities.Activities, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{activities: acts, logger: logger}
}

// RegisterWorkflows registers workflows under their stable names
func (r *Registry) RegisterWorkflows(w worker.WorkflowRegistry) {
	w.RegisterWorkflowWithOptions(workflows.AnswerMachineWorkflow, workflow.RegisterOptions{
		Name: constants.AnswerMachineWorkflow,
	})
	r.logger.Info("Registered workflows", zap.String("workflow", constants.AnswerMachineWorkflow))
}

// RegisterActivities registers activities under their stable names
func (r *Registry) RegisterActivities(w worker.ActivityRegistry) {
	w.RegisterActivityWithOptions(r.activities.RunAnswerMachine, activity.RegisterOptions{
		Name: constants.RunAnswerMachineActivity,
	})
	r.logger.Info("Registered activities", zap.String("activity", constants.RunAnswerMachineActivity))
}

// Register registers everything on a worker
func (r *Registry) Register(w worker.Registry) {
	r.RegisterWorkflows(w)
	r.RegisterActivities(w)
}
