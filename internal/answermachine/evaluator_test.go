package answermachine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/answer-machine/internal/models"
)

const richAnswer = "1. Q: What is the budget?\nA: The trip budget is 1200 EUR.\n\n" +
	"2. Q: Which costs rose?\nA: Flights rose because of the holiday season.\n\n" +
	"3. Q: What should change?\nA: Consider booking earlier; the trend is clear.\n\n" +
	"Summary: 3 sub-questions have been answered so far."

func TestMeasureQuality(t *testing.T) {
	assert.Equal(t, QualitySignals{}, MeasureQuality("short"))
	assert.Equal(t, 3, MeasureQuality(richAnswer).Score())

	brief := MeasureQuality("I recommend the cheaper hotel.")
	assert.True(t, brief.Insightful)
	assert.False(t, brief.Substantial)
	assert.False(t, brief.Comprehensive)

	assert.False(t, MeasureQuality("a\n\nb\n\nc").Comprehensive, "two breaks are not enough")
	assert.True(t, MeasureQuality("a\n\nb\n\nc\n\nd").Comprehensive)
}

func TestIsSatisfactoryBounds(t *testing.T) {
	for score := 0; score <= 3; score++ {
		for iteration := 1; iteration < 3; iteration++ {
			assert.False(t, IsSatisfactory(iteration, score), "iteration %d score %d", iteration, score)
		}
		for iteration := 7; iteration <= 12; iteration++ {
			assert.True(t, IsSatisfactory(iteration, score), "iteration %d score %d", iteration, score)
		}
	}
	assert.True(t, IsSatisfactory(3, 2))
	assert.False(t, IsSatisfactory(6, 1))
}

func TestHeuristicEvaluator(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.CreateRun(context.Background(), &models.Run{ID: "run-1", CurrentIteration: 1}))
	ev := NewHeuristicEvaluator(store)

	t.Run("no answer yet", func(t *testing.T) {
		res, err := ev.Evaluate(context.Background(), "run-1", 2)
		require.NoError(t, err)
		assert.False(t, res.IsSatisfactory)
		assert.Equal(t, []string{GapTooBrief, GapNoInsight, GapNotComprehensive, GapNeedMoreDetail}, res.Gaps)
	})

	require.NoError(t, store.AppendIntermediateAnswer(context.Background(), "run-1", 1, richAnswer))

	t.Run("good answer too early", func(t *testing.T) {
		res, err := ev.Evaluate(context.Background(), "run-1", 2)
		require.NoError(t, err)
		assert.False(t, res.IsSatisfactory)
		assert.Equal(t, []string{GapNeedMoreDetail}, res.Gaps)
		assert.Equal(t, 3, res.Score)
	})

	t.Run("good answer at iteration three", func(t *testing.T) {
		res, err := ev.Evaluate(context.Background(), "run-1", 3)
		require.NoError(t, err)
		assert.True(t, res.IsSatisfactory)
		assert.Empty(t, res.Gaps)
		assert.True(t, strings.Contains(res.Reasoning, "3/3"))
	})

	t.Run("missing run", func(t *testing.T) {
		_, err := ev.Evaluate(context.Background(), "nope", 3)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestReevaluatingGapRecovererUsesPreviousIteration(t *testing.T) {
	rec := &recordingEvaluator{}
	r := NewReevaluatingGapRecoverer(rec)
	_, err := r.RecoverGaps(context.Background(), "run-1", 4)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, rec.iterations)
}

type recordingEvaluator struct {
	iterations []int
	result     EvaluationResult
}

func (r *recordingEvaluator) Evaluate(_ context.Context, _ string, iteration int) (EvaluationResult, error) {
	r.iterations = append(r.iterations, iteration)
	return r.result, nil
}
