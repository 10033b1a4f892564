package answermachine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/answer-machine/internal/models"
)

// RunInitialization is the run an orchestration starts or resumes
type RunInitialization struct {
	RunID            string
	CurrentIteration int
	Resumed          bool
}

// RunManager decides whether a thread resumes its linked run or starts a new one
type RunManager struct {
	threads ThreadStore
	runs    RunStore
	logger  *zap.Logger
}

// NewRunManager creates a run manager
func NewRunManager(threads ThreadStore, runs RunStore, logger *zap.Logger) *RunManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunManager{threads: threads, runs: runs, logger: logger}
}

// Resolve resumes the thread's linked run when continueExisting is set and the run still
// exists; otherwise it creates a new run for the latest user message. Prior runs are kept.
func (m *RunManager) Resolve(ctx context.Context, threadID string, thread *models.Thread, username string, continueExisting bool) (RunInitialization, error) {
	if continueExisting && thread != nil && thread.ActiveRunID != "" {
		run, err := m.runs.GetRun(ctx, thread.ActiveRunID)
		switch {
		case err == nil:
			m.logger.Info("Resuming answer machine run",
				zap.String("thread_id", threadID),
				zap.String("run_id", run.ID),
				zap.Int("iteration", run.CurrentIteration),
			)
			return RunInitialization{RunID: run.ID, CurrentIteration: run.CurrentIteration, Resumed: true}, nil
		case errors.Is(err, models.ErrNotFound):
			m.logger.Info("Linked run is gone, starting fresh",
				zap.String("thread_id", threadID),
				zap.String("run_id", thread.ActiveRunID),
			)
		default:
			return RunInitialization{}, fmt.Errorf("failed to load linked run: %w", err)
		}
	}

	parent, err := m.threads.LatestUserMessage(ctx, threadID, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return RunInitialization{}, ErrNoUserMessage
		}
		return RunInitialization{}, fmt.Errorf("failed to find user message: %w", err)
	}

	if err := m.threads.SetActiveRun(ctx, threadID, username, ""); err != nil {
		return RunInitialization{}, fmt.Errorf("failed to clear active run: %w", err)
	}

	run := &models.Run{
		ThreadID:         threadID,
		ParentMessageID:  parent.ID,
		Username:         username,
		Status:           models.RunStatusPending,
		CurrentIteration: 1,
	}
	if err := m.runs.CreateRun(ctx, run); err != nil {
		return RunInitialization{}, err
	}
	if err := m.threads.SetActiveRun(ctx, threadID, username, run.ID); err != nil {
		return RunInitialization{}, fmt.Errorf("failed to link run: %w", err)
	}

	m.logger.Info("Created answer machine run",
		zap.String("thread_id", threadID),
		zap.String("run_id", run.ID),
		zap.String("parent_message_id", parent.ID),
	)
	return RunInitialization{RunID: run.ID, CurrentIteration: 1}, nil
}
