package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Kocoro-lab/answer-machine/internal/models"
)

type tokenRow struct {
	ID               string    `db:"id"`
	RunID            string    `db:"run_id"`
	ThreadID         string    `db:"thread_id"`
	Username         string    `db:"username"`
	QueryType        string    `db:"query_type"`
	Model            string    `db:"model"`
	Provider         string    `db:"provider"`
	PromptTokens     int       `db:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens"`
	ReasoningTokens  int       `db:"reasoning_tokens"`
	TotalTokens      int       `db:"total_tokens"`
	CostUSD          float64   `db:"cost_usd"`
	CreatedAt        time.Time `db:"created_at"`
}

// InsertTokenRecord appends a token record
func (c *Client) InsertTokenRecord(ctx context.Context, rec *models.TokenRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = c.now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO answer_token_records (
			id, run_id, thread_id, username, query_type, model, provider,
			prompt_tokens, completion_tokens, reasoning_tokens, total_tokens, cost_usd, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.ThreadID, rec.Username, string(rec.QueryType), rec.Model, rec.Provider,
		rec.PromptTokens, rec.CompletionTokens, rec.ReasoningTokens, rec.TotalTokens, rec.CostUSD, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert token record: %w", err)
	}
	return nil
}

// ListTokenRecords returns every token record of a run
func (c *Client) ListTokenRecords(ctx context.Context, runID string) ([]models.TokenRecord, error) {
	var rows []tokenRow
	if err := c.db.SelectContext(ctx, &rows, `
		SELECT id, run_id, thread_id, username, query_type, model, provider,
		       prompt_tokens, completion_tokens, reasoning_tokens, total_tokens, cost_usd, created_at
		FROM answer_token_records WHERE run_id = ? ORDER BY created_at`, runID); err != nil {
		return nil, fmt.Errorf("failed to list token records: %w", err)
	}
	out := make([]models.TokenRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.TokenRecord{
			ID:        r.ID,
			RunID:     r.RunID,
			ThreadID:  r.ThreadID,
			Username:  r.Username,
			QueryType: models.QueryType(r.QueryType),
			Model:     r.Model,
			Provider:  r.Provider,
			TokenUsage: models.TokenUsage{
				PromptTokens:     r.PromptTokens,
				CompletionTokens: r.CompletionTokens,
				ReasoningTokens:  r.ReasoningTokens,
				TotalTokens:      r.TotalTokens,
			},
			CostUSD:   r.CostUSD,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}
