package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Kocoro-lab/answer-machine/internal/models"
)

const contextColumns = `id, username, source_type, title, content, tags, due_at, event_at, updated_at`

type contextRow struct {
	ID         string     `db:"id"`
	Username   string     `db:"username"`
	SourceType string     `db:"source_type"`
	Title      string     `db:"title"`
	Content    string     `db:"content"`
	Tags       StringList `db:"tags"`
	DueAt      *time.Time `db:"due_at"`
	EventAt    *time.Time `db:"event_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

func (r contextRow) toModel() models.ContextItem {
	return models.ContextItem{
		ID:         r.ID,
		Username:   r.Username,
		SourceType: models.SourceType(r.SourceType),
		Title:      r.Title,
		Content:    r.Content,
		Tags:       []string(r.Tags),
		DueAt:      r.DueAt,
		EventAt:    r.EventAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func toModels(rows []contextRow) []models.ContextItem {
	out := make([]models.ContextItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out
}

// UpsertContextItem inserts or replaces a personal record used for retrieval
func (c *Client) UpsertContextItem(ctx context.Context, item *models.ContextItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = c.now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO context_items (`+contextColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			source_type = excluded.source_type,
			title = excluded.title,
			content = excluded.content,
			tags = excluded.tags,
			due_at = excluded.due_at,
			event_at = excluded.event_at,
			updated_at = excluded.updated_at`,
		item.ID, item.Username, string(item.SourceType), item.Title, item.Content,
		StringList(item.Tags), item.DueAt, item.EventAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert context item: %w", err)
	}
	return nil
}

// SearchContextCandidates returns username's items matching any keyword in title, body or tags.
// Ranking is left to the caller.
func (c *Client) SearchContextCandidates(ctx context.Context, username string, keywords []string, limit int) ([]models.ContextItem, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}

	clauses := make([]string, 0, len(keywords))
	args := []interface{}{username}
	for _, kw := range keywords {
		pattern := "%" + strings.ToLower(kw) + "%"
		clauses = append(clauses, `(LOWER(title) LIKE ? OR LOWER(content) LIKE ? OR LOWER(tags) LIKE ?)`)
		args = append(args, pattern, pattern, pattern)
	}
	args = append(args, limit)

	var rows []contextRow
	err := c.db.SelectContext(ctx, &rows, `
		SELECT `+contextColumns+` FROM context_items
		WHERE username = ? AND (`+strings.Join(clauses, " OR ")+`)
		ORDER BY updated_at DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search context items: %w", err)
	}
	return toModels(rows), nil
}

// GetContextItems loads username's items by id
func (c *Client) GetContextItems(ctx context.Context, username string, ids []string) ([]models.ContextItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`SELECT `+contextColumns+` FROM context_items WHERE username = ? AND id IN (?) ORDER BY updated_at DESC`,
		username, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build context query: %w", err)
	}
	var rows []contextRow
	if err := c.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get context items: %w", err)
	}
	return toModels(rows), nil
}
