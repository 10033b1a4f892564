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

const subQuestionColumns = `id, run_id, thread_id, parent_message_id, username, iteration, question,
	answer, context_ids, status, error_reason, created_at, updated_at`

type subQuestionRow struct {
	ID              string     `db:"id"`
	RunID           string     `db:"run_id"`
	ThreadID        string     `db:"thread_id"`
	ParentMessageID string     `db:"parent_message_id"`
	Username        string     `db:"username"`
	Iteration       int        `db:"iteration"`
	Question        string     `db:"question"`
	Answer          string     `db:"answer"`
	ContextIDs      StringList `db:"context_ids"`
	Status          string     `db:"status"`
	ErrorReason     string     `db:"error_reason"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func (r subQuestionRow) toModel() models.SubQuestion {
	return models.SubQuestion{
		ID:              r.ID,
		RunID:           r.RunID,
		ThreadID:        r.ThreadID,
		ParentMessageID: r.ParentMessageID,
		Username:        r.Username,
		Iteration:       r.Iteration,
		Question:        r.Question,
		Answer:          r.Answer,
		ContextIDs:      []string(r.ContextIDs),
		Status:          models.SubQuestionStatus(r.Status),
		ErrorReason:     r.ErrorReason,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// CreateSubQuestions inserts pending sub-questions in one transaction
func (c *Client) CreateSubQuestions(ctx context.Context, qs []*models.SubQuestion) error {
	if len(qs) == 0 {
		return nil
	}
	now := c.now()
	err := c.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
			INSERT INTO answer_sub_questions (`+subQuestionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, '', '[]', ?, '', ?, ?)`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, q := range qs {
			if q.ID == "" {
				q.ID = uuid.New().String()
			}
			q.Status = models.SubQuestionPending
			q.CreatedAt, q.UpdatedAt = now, now
			if _, err := stmt.ExecContext(ctx, q.ID, q.RunID, q.ThreadID, q.ParentMessageID, q.Username,
				q.Iteration, q.Question, string(q.Status), q.CreatedAt, q.UpdatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create sub-questions: %w", err)
	}
	return nil
}

// GetSubQuestion loads a sub-question owned by username
func (c *Client) GetSubQuestion(ctx context.Context, id, username string) (*models.SubQuestion, error) {
	var row subQuestionRow
	err := c.db.GetContext(ctx, &row,
		`SELECT `+subQuestionColumns+` FROM answer_sub_questions WHERE id = ? AND username = ?`,
		id, username,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sub-question: %w", err)
	}
	q := row.toModel()
	return &q, nil
}

// ListSubQuestions returns a run's sub-questions with the given status in creation order.
// An empty status lists all of them.
func (c *Client) ListSubQuestions(ctx context.Context, runID string, status models.SubQuestionStatus) ([]models.SubQuestion, error) {
	query := `SELECT ` + subQuestionColumns + ` FROM answer_sub_questions WHERE run_id = ?`
	args := []interface{}{runID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY iteration, created_at, id`

	var rows []subQuestionRow
	if err := c.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list sub-questions: %w", err)
	}
	out := make([]models.SubQuestion, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// CountSubQuestions returns the number of sub-questions per status for a run
func (c *Client) CountSubQuestions(ctx context.Context, runID string) (map[models.SubQuestionStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := c.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS n FROM answer_sub_questions WHERE run_id = ? GROUP BY status`, runID); err != nil {
		return nil, fmt.Errorf("failed to count sub-questions: %w", err)
	}
	out := make(map[models.SubQuestionStatus]int, len(rows))
	for _, r := range rows {
		out[models.SubQuestionStatus(r.Status)] = r.N
	}
	return out, nil
}

// MarkAnswered moves a pending sub-question to answered
func (c *Client) MarkAnswered(ctx context.Context, id, answer string, contextIDs []string) error {
	return c.transition(ctx, id, models.SubQuestionAnswered,
		`answer = ?, context_ids = ?`, answer, StringList(contextIDs))
}

// MarkSubQuestionError moves a pending sub-question to error
func (c *Client) MarkSubQuestionError(ctx context.Context, id, reason string) error {
	return c.transition(ctx, id, models.SubQuestionError, `error_reason = ?`, reason)
}

// MarkSkipped moves a pending sub-question to skipped
func (c *Client) MarkSkipped(ctx context.Context, id string) error {
	return c.transition(ctx, id, models.SubQuestionSkipped, "")
}

// transition applies a conditional update so only pending rows move
func (c *Client) transition(ctx context.Context, id string, to models.SubQuestionStatus, set string, args ...interface{}) error {
	if !models.SubQuestionPending.CanTransition(to) {
		return models.ErrInvalidTransition
	}
	if set != "" {
		set += ", "
	}
	args = append([]interface{}{string(to)}, args...)
	args = append(args, c.now(), id, string(models.SubQuestionPending))
	res, err := c.db.ExecContext(ctx,
		`UPDATE answer_sub_questions SET status = ?, `+set+`updated_at = ? WHERE id = ? AND status = ?`,
		args...)
	if err != nil {
		return fmt.Errorf("failed to update sub-question %s: %w", id, err)
	}
	if err := requireAffected(res); err == nil {
		return nil
	}

	var current string
	err = c.db.GetContext(ctx, &current, `SELECT status FROM answer_sub_questions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read sub-question status: %w", err)
	}
	return fmt.Errorf("sub-question %s is %s: %w", id, current, models.ErrInvalidTransition)
}
