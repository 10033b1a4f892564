package answermachine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/answer-machine/internal/models"
)

// answerN persists n answered sub-questions on runID
func answerN(t *testing.T, store *memStore, runID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		sq := &models.SubQuestion{
			RunID:     runID,
			Username:  "alice",
			Iteration: 1,
			Question:  fmt.Sprintf("What constraint number %d applies to the trip?", i+1),
		}
		require.NoError(t, store.CreateSubQuestions(ctx, []*models.SubQuestion{sq}))
		require.NoError(t, store.MarkAnswered(ctx, sq.ID, fmt.Sprintf("Constraint %d is the 1200 EUR budget ceiling for lodging.", i+1), nil))
	}
}

func TestListSynthesizerNothingAnswered(t *testing.T) {
	store := newMemStore()
	sq := &models.SubQuestion{RunID: "run-1", Username: "alice", Iteration: 1, Question: "Still pending?"}
	require.NoError(t, store.CreateSubQuestions(context.Background(), []*models.SubQuestion{sq}))

	res, err := NewListSynthesizer(store).Synthesize(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, NothingAnsweredYet, res.Answer)
	assert.Zero(t, res.Answered)
	assert.Equal(t, models.TokenUsage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}, res.Usage)
}

func TestListSynthesizerNumberedList(t *testing.T) {
	store := newMemStore()
	answerN(t, store, "run-1", 2)

	res, err := NewListSynthesizer(store).Synthesize(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Answered)
	assert.True(t, strings.HasPrefix(res.Answer, "1. Q: What constraint number 1"))
	assert.Contains(t, res.Answer, "2. Q: What constraint number 2")
	assert.Contains(t, res.Answer, "A: Constraint 2 is the 1200 EUR budget ceiling")
	assert.True(t, strings.HasSuffix(res.Answer, "Summary: 2 sub-questions have been answered so far."))
	assert.Equal(t, res.Usage.PromptTokens+res.Usage.CompletionTokens, res.Usage.TotalTokens)
}

func TestListSynthesizerUsageGrowsWithInput(t *testing.T) {
	store := newMemStore()
	answerN(t, store, "run-1", 1)
	answerN(t, store, "run-3", 3)
	answerN(t, store, "run-6", 6)
	synth := NewListSynthesizer(store)

	var prev int
	for _, runID := range []string{"run-1", "run-3", "run-6"} {
		res, err := synth.Synthesize(context.Background(), runID)
		require.NoError(t, err)
		assert.Greater(t, res.Usage.TotalTokens, prev, runID)
		assert.Greater(t, res.Usage.TotalTokens, nothingAnsweredUsage.TotalTokens, runID)
		prev = res.Usage.TotalTokens
	}
}

type failingSubQuestions struct{ *memStore }

func (failingSubQuestions) ListSubQuestions(context.Context, string, models.SubQuestionStatus) ([]models.SubQuestion, error) {
	return nil, errors.New("connection reset")
}

func TestListSynthesizerStoreError(t *testing.T) {
	_, err := NewListSynthesizer(failingSubQuestions{newMemStore()}).Synthesize(context.Background(), "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
