package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/answer-machine/internal/metrics"
	"github.com/Kocoro-lab/answer-machine/internal/models"
)

// Store persists token records
type Store interface {
	InsertTokenRecord(ctx context.Context, rec *models.TokenRecord) error
	ListTokenRecords(ctx context.Context, runID string) ([]models.TokenRecord, error)
}

// Pricer computes the cost of a usage
type Pricer interface {
	Cost(usage models.TokenUsage, model, provider string) float64
}

// Entry describes one LLM-consuming operation to record
type Entry struct {
	RunID     string
	ThreadID  string
	Username  string
	QueryType models.QueryType
	Model     string
	Provider  string
	Usage     models.TokenUsage
}

// TypeStats summarizes the records of one query type
type TypeStats struct {
	Count            int     `json:"count"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	ReasoningTokens  int     `json:"reasoning_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	AverageTokens    float64 `json:"average_tokens"`
	MaxTokens        int     `json:"max_tokens"`
}

// Accountant records token usage and aggregates it per run.
// Records are independent inserts so concurrent Record calls are safe.
type Accountant struct {
	store  Store
	pricer Pricer
	logger *zap.Logger
	now    func() time.Time
}

// NewAccountant creates an accountant
func NewAccountant(store Store, pricer Pricer, logger *zap.Logger) *Accountant {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accountant{store: store, pricer: pricer, logger: logger, now: time.Now}
}

// Record prices and appends one token record
func (a *Accountant) Record(ctx context.Context, e Entry) (*models.TokenRecord, error) {
	usage := Normalize(e.Usage)
	cost := 0.0
	if a.pricer != nil {
		cost = a.pricer.Cost(usage, e.Model, e.Provider)
	}
	rec := &models.TokenRecord{
		ID:         uuid.New().String(),
		RunID:      e.RunID,
		ThreadID:   e.ThreadID,
		Username:   e.Username,
		QueryType:  e.QueryType,
		Model:      e.Model,
		Provider:   e.Provider,
		TokenUsage: usage,
		CostUSD:    cost,
		CreatedAt:  a.now().UTC(),
	}
	if err := a.store.InsertTokenRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record %s tokens: %w", e.QueryType, err)
	}
	metrics.RecordTokens(string(e.QueryType), usage.TotalTokens, cost)
	a.logger.Debug("Recorded token usage",
		zap.String("run_id", e.RunID),
		zap.String("query_type", string(e.QueryType)),
		zap.Int("total_tokens", usage.TotalTokens),
		zap.Float64("cost_usd", cost),
	)
	return rec, nil
}

// Aggregate sums every token record of a run
func (a *Accountant) Aggregate(ctx context.Context, runID string) (models.TokenTotals, error) {
	recs, err := a.store.ListTokenRecords(ctx, runID)
	if err != nil {
		return models.TokenTotals{}, fmt.Errorf("failed to list token records: %w", err)
	}
	return Sum(recs), nil
}

// BreakdownByType groups a run's records by query type
func (a *Accountant) BreakdownByType(ctx context.Context, runID string) (map[models.QueryType]TypeStats, error) {
	recs, err := a.store.ListTokenRecords(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list token records: %w", err)
	}
	return Breakdown(recs), nil
}

// Sum totals a set of records
func Sum(recs []models.TokenRecord) models.TokenTotals {
	var t models.TokenTotals
	for _, r := range recs {
		t.TokenUsage = t.TokenUsage.Add(r.TokenUsage)
		t.CostUSD += r.CostUSD
	}
	return t
}

// Breakdown groups records by query type with count, sums, average and max total tokens
func Breakdown(recs []models.TokenRecord) map[models.QueryType]TypeStats {
	out := make(map[models.QueryType]TypeStats)
	for _, r := range recs {
		s := out[r.QueryType]
		s.Count++
		s.PromptTokens += r.PromptTokens
		s.CompletionTokens += r.CompletionTokens
		s.ReasoningTokens += r.ReasoningTokens
		s.TotalTokens += r.TotalTokens
		s.CostUSD += r.CostUSD
		if r.TotalTokens > s.MaxTokens {
			s.MaxTokens = r.TotalTokens
		}
		out[r.QueryType] = s
	}
	for k, s := range out {
		s.AverageTokens = float64(s.TotalTokens) / float64(s.Count)
		out[k] = s
	}
	return out
}
