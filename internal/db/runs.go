package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Kocoro-lab/answer-machine/internal/models"
)

type runRow struct {
	ID               string     `db:"id"`
	ThreadID         string     `db:"thread_id"`
	ParentMessageID  string     `db:"parent_message_id"`
	Username         string     `db:"username"`
	Status           string     `db:"status"`
	CurrentIteration int        `db:"current_iteration"`
	FinalAnswer      string     `db:"final_answer"`
	PromptTokens     int        `db:"prompt_tokens"`
	CompletionTokens int        `db:"completion_tokens"`
	ReasoningTokens  int        `db:"reasoning_tokens"`
	TotalTokens      int        `db:"total_tokens"`
	CostUSD          float64    `db:"cost_usd"`
	ErrorReason      string     `db:"error_reason"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
	CompletedAt      *time.Time `db:"completed_at"`
}

func (r runRow) toModel(answers []string) *models.Run {
	return &models.Run{
		ID:                  r.ID,
		ThreadID:            r.ThreadID,
		ParentMessageID:     r.ParentMessageID,
		Username:            r.Username,
		Status:              models.RunStatus(r.Status),
		CurrentIteration:    r.CurrentIteration,
		IntermediateAnswers: answers,
		FinalAnswer:         r.FinalAnswer,
		Totals: models.TokenTotals{
			TokenUsage: models.TokenUsage{
				PromptTokens:     r.PromptTokens,
				CompletionTokens: r.CompletionTokens,
				ReasoningTokens:  r.ReasoningTokens,
				TotalTokens:      r.TotalTokens,
			},
			CostUSD: r.CostUSD,
		},
		ErrorReason: r.ErrorReason,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		CompletedAt: r.CompletedAt,
	}
}

// CreateRun inserts a pending run at iteration 1
func (c *Client) CreateRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CurrentIteration < 1 {
		run.CurrentIteration = 1
	}
	if run.Status == "" {
		run.Status = models.RunStatusPending
	}
	now := c.now()
	run.CreatedAt, run.UpdatedAt = now, now

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO answer_runs (
			id, thread_id, parent_message_id, username, status, current_iteration,
			final_answer, error_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, '', '', ?, ?)`,
		run.ID, run.ThreadID, run.ParentMessageID, run.Username, string(run.Status),
		run.CurrentIteration, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun loads a run with its intermediate answers in append order
func (c *Client) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	var row runRow
	err := c.db.GetContext(ctx, &row, `
		SELECT id, thread_id, parent_message_id, username, status, current_iteration,
		       final_answer, prompt_tokens, completion_tokens, reasoning_tokens, total_tokens,
		       cost_usd, error_reason, created_at, updated_at, completed_at
		FROM answer_runs WHERE id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var answers []string
	if err := c.db.SelectContext(ctx, &answers,
		`SELECT content FROM answer_intermediate_answers WHERE run_id = ? ORDER BY seq`, runID); err != nil {
		return nil, fmt.Errorf("failed to load intermediate answers: %w", err)
	}
	return row.toModel(answers), nil
}

// AppendIntermediateAnswer appends an answer produced by iteration to the run
func (c *Client) AppendIntermediateAnswer(ctx context.Context, runID string, iteration int, answer string) error {
	err := c.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var seq int
		if err := tx.GetContext(ctx, &seq, tx.Rebind(
			`SELECT COALESCE(MAX(seq), 0) FROM answer_intermediate_answers WHERE run_id = ?`), runID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO answer_intermediate_answers (run_id, seq, iteration, content, created_at)
			VALUES (?, ?, ?, ?, ?)`),
			runID, seq+1, iteration, answer, c.now(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to append intermediate answer: %w", err)
	}
	return nil
}

// SetCurrentIteration advances the run's iteration counter; it never moves backwards
func (c *Client) SetCurrentIteration(ctx context.Context, runID string, iteration int) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE answer_runs SET current_iteration = ?, updated_at = ?
		WHERE id = ? AND current_iteration <= ?`,
		iteration, c.now(), runID, iteration,
	)
	if err != nil {
		return fmt.Errorf("failed to set current iteration: %w", err)
	}
	if err := requireAffected(res); err != nil {
		if _, getErr := c.GetRun(ctx, runID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("iteration %d is behind the run: %w", iteration, models.ErrInvalidTransition)
	}
	return nil
}

// UpdateTotals stores aggregated token totals on the run
func (c *Client) UpdateTotals(ctx context.Context, runID string, t models.TokenTotals) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE answer_runs
		SET prompt_tokens = ?, completion_tokens = ?, reasoning_tokens = ?, total_tokens = ?,
		    cost_usd = ?, updated_at = ?
		WHERE id = ?`,
		t.PromptTokens, t.CompletionTokens, t.ReasoningTokens, t.TotalTokens, t.CostUSD, c.now(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run totals: %w", err)
	}
	return requireAffected(res)
}

// CompleteRun stores the final answer and marks the run answered
func (c *Client) CompleteRun(ctx context.Context, runID, finalAnswer string) error {
	now := c.now()
	res, err := c.db.ExecContext(ctx, `
		UPDATE answer_runs
		SET status = ?, final_answer = ?, error_reason = '', updated_at = ?, completed_at = ?
		WHERE id = ?`,
		string(models.RunStatusAnswered), finalAnswer, now, now, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return requireAffected(res)
}

// FailRun marks the run errored with a reason
func (c *Client) FailRun(ctx context.Context, runID, reason string) error {
	now := c.now()
	res, err := c.db.ExecContext(ctx, `
		UPDATE answer_runs
		SET status = ?, error_reason = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		string(models.RunStatusError), reason, now, now, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark run error: %w", err)
	}
	return requireAffected(res)
}
