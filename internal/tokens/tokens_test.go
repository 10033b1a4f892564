package tokens

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/answer-machine/internal/models"
	"github.com/Kocoro-lab/answer-machine/internal/pricing"
)

type memStore struct {
	mu   sync.Mutex
	recs []models.TokenRecord
	err  error
}

func (m *memStore) InsertTokenRecord(_ context.Context, rec *models.TokenRecord) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, *rec)
	return nil
}

func (m *memStore) ListTokenRecords(_ context.Context, runID string) ([]models.TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TokenRecord
	for _, r := range m.recs {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want models.TokenUsage
	}{
		{
			name: "openai with reported total",
			raw:  `{"usage":{"prompt_tokens":10,"completion_tokens":20,"total_tokens":35}}`,
			want: models.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 35},
		},
		{
			name: "openai without total",
			raw:  `{"usage":{"prompt_tokens":10,"completion_tokens":20,"reasoning_tokens":5}}`,
			want: models.TokenUsage{PromptTokens: 10, CompletionTokens: 20, ReasoningTokens: 5, TotalTokens: 35},
		},
		{
			name: "openai nested reasoning",
			raw:  `{"usage":{"prompt_tokens":3,"completion_tokens":4,"completion_tokens_details":{"reasoning_tokens":2}}}`,
			want: models.TokenUsage{PromptTokens: 3, CompletionTokens: 4, ReasoningTokens: 2, TotalTokens: 9},
		},
		{
			name: "ollama counts",
			raw:  `{"model":"llama3.1","prompt_eval_count":12,"eval_count":30,"done":true}`,
			want: models.TokenUsage{PromptTokens: 12, CompletionTokens: 30, TotalTokens: 42},
		},
		{
			name: "no usage",
			raw:  `{"choices":[]}`,
			want: models.TokenUsage{},
		},
		{
			name: "malformed",
			raw:  `{not json`,
			want: models.TokenUsage{},
		},
		{
			name: "empty",
			raw:  ``,
			want: models.TokenUsage{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract([]byte(tt.raw)))
		})
	}
}

func TestTotalEqualsSumUnlessReported(t *testing.T) {
	for p := 0; p < 5; p++ {
		for c := 0; c < 5; c++ {
			for r := 0; r < 5; r++ {
				u := Usage(p, c, r, 0)
				assert.Equal(t, p+c+r, u.TotalTokens)
			}
		}
	}
	assert.Equal(t, 100, Usage(1, 2, 3, 100).TotalTokens)
}

func TestEstimate(t *testing.T) {
	assert.Equal(t, 0, Estimate(""))
	assert.Equal(t, 1, Estimate("abc"))
	assert.Equal(t, 1, Estimate("abcd"))
	assert.Equal(t, 2, Estimate("abcde"))
}

func TestAccountantRecordAndAggregate(t *testing.T) {
	store := &memStore{}
	acct := NewAccountant(store, pricing.NewTable(), zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := acct.Record(ctx, Entry{RunID: "r1", QueryType: models.QueryTypeSubQuestionAnswer,
		Usage: models.TokenUsage{PromptTokens: 100, CompletionTokens: 50}})
	require.NoError(t, err)
	_, err = acct.Record(ctx, Entry{RunID: "r1", QueryType: models.QueryTypeSubQuestionAnswer,
		Usage: models.TokenUsage{PromptTokens: 300, CompletionTokens: 50, TotalTokens: 400}})
	require.NoError(t, err)
	_, err = acct.Record(ctx, Entry{RunID: "r1", QueryType: models.QueryTypeEvaluation,
		Usage: models.TokenUsage{PromptTokens: 10, CompletionTokens: 10}})
	require.NoError(t, err)
	_, err = acct.Record(ctx, Entry{RunID: "other", QueryType: models.QueryTypeEvaluation,
		Usage: models.TokenUsage{PromptTokens: 999}})
	require.NoError(t, err)

	totals, err := acct.Aggregate(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 410, totals.PromptTokens)
	assert.Equal(t, 110, totals.CompletionTokens)
	assert.Equal(t, 150+400+20, totals.TotalTokens)
	assert.Greater(t, totals.CostUSD, 0.0)

	breakdown, err := acct.BreakdownByType(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, breakdown, 2)
	sq := breakdown[models.QueryTypeSubQuestionAnswer]
	assert.Equal(t, 2, sq.Count)
	assert.Equal(t, 550, sq.TotalTokens)
	assert.Equal(t, 400, sq.MaxTokens)
	assert.InDelta(t, 275.0, sq.AverageTokens, 1e-9)
	assert.Equal(t, 1, breakdown[models.QueryTypeEvaluation].Count)
}

func TestAccountantRecordConcurrent(t *testing.T) {
	store := &memStore{}
	acct := NewAccountant(store, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = acct.Record(ctx, Entry{RunID: "r1", QueryType: models.QueryTypeSubQuestionAnswer,
				Usage: models.TokenUsage{PromptTokens: 1, CompletionTokens: 1}})
		}()
	}
	wg.Wait()

	totals, err := acct.Aggregate(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 40, totals.TotalTokens)
}

func TestAccountantRecordStoreError(t *testing.T) {
	acct := NewAccountant(&memStore{err: errors.New("db down")}, nil, zaptest.NewLogger(t))
	_, err := acct.Record(context.Background(), Entry{RunID: "r1", QueryType: models.QueryTypeFinalAnswer})
	assert.Error(t, err)
}
