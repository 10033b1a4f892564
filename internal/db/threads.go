package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Kocoro-lab/answer-machine/internal/models"
)

const threadColumns = `id, username, title, min_iterations, max_iterations, active_run_id, status, error_reason, created_at, updated_at`

// CreateThread inserts a thread, assigning an id when empty
func (c *Client) CreateThread(ctx context.Context, t *models.Thread) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := c.now()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO answer_threads (`+threadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Username, t.Title, t.MinIterations, t.MaxIterations, t.ActiveRunID,
		t.Status, t.ErrorReason, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}
	return nil
}

// GetThread loads a thread owned by username
func (c *Client) GetThread(ctx context.Context, threadID, username string) (*models.Thread, error) {
	var t models.Thread
	err := c.db.GetContext(ctx, &t,
		`SELECT `+threadColumns+` FROM answer_threads WHERE id = ? AND username = ?`,
		threadID, username,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return &t, nil
}

// SetActiveRun points the thread at a run; an empty runID clears the pointer
func (c *Client) SetActiveRun(ctx context.Context, threadID, username, runID string) error {
	return c.updateThread(ctx, `active_run_id = ?`, threadID, username, runID)
}

// SetThreadStatus records the outcome of the latest run on the thread
func (c *Client) SetThreadStatus(ctx context.Context, threadID, username, status, reason string) error {
	return c.updateThread(ctx, `status = ?, error_reason = ?`, threadID, username, status, reason)
}

func (c *Client) updateThread(ctx context.Context, set, threadID, username string, args ...interface{}) error {
	args = append(args, c.now(), threadID, username)
	res, err := c.db.ExecContext(ctx,
		`UPDATE answer_threads SET `+set+`, updated_at = ? WHERE id = ? AND username = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update thread: %w", err)
	}
	return requireAffected(res)
}

// AppendMessage adds a message to a thread
func (c *Client) AppendMessage(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = c.now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO thread_messages (id, thread_id, username, content, is_ai, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, m.Username, m.Content, m.IsAI, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// LatestUserMessage returns the most recent non-AI message of username in the thread
func (c *Client) LatestUserMessage(ctx context.Context, threadID, username string) (*models.Message, error) {
	var m models.Message
	err := c.db.GetContext(ctx, &m, `
		SELECT id, thread_id, username, content, is_ai, created_at
		FROM thread_messages
		WHERE thread_id = ? AND username = ? AND is_ai = ?
		ORDER BY created_at DESC
		LIMIT 1`,
		threadID, username, false,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest user message: %w", err)
	}
	return &m, nil
}

// GetMessage loads one message of username
func (c *Client) GetMessage(ctx context.Context, messageID, username string) (*models.Message, error) {
	var m models.Message
	err := c.db.GetContext(ctx, &m, `
		SELECT id, thread_id, username, content, is_ai, created_at
		FROM thread_messages WHERE id = ? AND username = ?`,
		messageID, username,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &m, nil
}

// RecentMessages returns the last limit messages of a thread in chronological order
func (c *Client) RecentMessages(ctx context.Context, threadID, username string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []models.Message
	err := c.db.SelectContext(ctx, &msgs, `
		SELECT id, thread_id, username, content, is_ai, created_at
		FROM thread_messages
		WHERE thread_id = ? AND username = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		threadID, username, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}
