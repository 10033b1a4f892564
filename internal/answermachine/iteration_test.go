package answermachine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/answer-machine/internal/models"
)

type emptyDecomposer struct{ calls int }

func (d *emptyDecomposer) Decompose(context.Context, DecomposeRequest) (DecomposeResult, error) {
	d.calls++
	return DecomposeResult{}, nil
}

type panickingDecomposer struct{}

func (panickingDecomposer) Decompose(context.Context, DecomposeRequest) (DecomposeResult, error) {
	panic("decomposer exploded")
}

func (h *harness) processor(t *testing.T, decomposer Decomposer, evaluator Evaluator) *IterationProcessor {
	if decomposer == nil {
		decomposer = NewTemplateDecomposer(h.store, h.store, zaptest.NewLogger(t))
	}
	if evaluator == nil {
		evaluator = NewHeuristicEvaluator(h.store)
	}
	return NewIterationProcessor(h.history, decomposer, h.answerer(t, 1), NewListSynthesizer(h.store),
		evaluator, nil, h.store, h.recorder, zaptest.NewLogger(t))
}

func iterationRequest(runID string, iteration, min, max int) IterationRequest {
	return IterationRequest{
		Scope:         Scope{RunID: runID, ThreadID: "t1", Username: "alice"},
		Iteration:     iteration,
		MinIterations: min,
		MaxIterations: max,
	}
}

func TestProcessEmptyConversation(t *testing.T) {
	h := newHarness(t)
	h.store.addThread("t1", "alice", 1, 1)
	require.NoError(t, h.store.CreateRun(context.Background(), &models.Run{ID: "run-1", ThreadID: "t1", Username: "alice", CurrentIteration: 1}))

	res := h.processor(t, nil, nil).Process(context.Background(), iterationRequest("run-1", 1, 1, 1))
	assert.False(t, res.ShouldContinue)
	assert.Equal(t, "No conversation found", res.ErrorReason)
}

func TestProcessNoQuestionsAtFirstIteration(t *testing.T) {
	h := newHarness(t)
	h.store.addThread("t1", "alice", 1, 3, "Plan Lisbon")
	runID := h.createRun(t, "t1")

	res := h.processor(t, &emptyDecomposer{}, nil).Process(context.Background(), iterationRequest(runID, 1, 1, 3))
	assert.False(t, res.ShouldContinue)
	assert.Empty(t, res.ErrorReason)
	assert.Equal(t, ReasonNoQuestions, res.StopReason)

	run, err := h.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.CurrentIteration)
	assert.Zero(t, h.caller.calls)
}

func TestProcessAdvancesIteration(t *testing.T) {
	h := newHarness(t)
	h.store.addThread("t1", "alice", 1, 3, "Plan Lisbon")
	runID := h.createRun(t, "t1")
	p := h.processor(t, nil, nil)

	res := p.Process(context.Background(), iterationRequest(runID, 1, 1, 3))
	require.Empty(t, res.ErrorReason)
	assert.True(t, res.ShouldContinue)
	assert.Equal(t, ReasonAddressGaps, res.StopReason)
	assert.True(t, res.NextGaps.Present)
	assert.Equal(t, []string{GapNeedMoreDetail}, res.NextGaps.Gaps)
	assert.Equal(t, len(seedQuestions), res.QuestionsGenerated)
	assert.Equal(t, len(seedQuestions), res.Answered)

	run, err := h.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, 2, run.CurrentIteration)
	require.Len(t, run.IntermediateAnswers, 1)
	assert.Contains(t, run.IntermediateAnswers[0], "1. Q: ")

	types := h.store.recordTypes(runID)
	assert.Equal(t, 1, types[models.QueryTypeQuestionGeneration])
	assert.Equal(t, len(seedQuestions), types[models.QueryTypeSubQuestionAnswer])
	assert.Equal(t, 1, types[models.QueryTypeIntermediateAnswer])
	assert.Equal(t, 1, types[models.QueryTypeEvaluation])

	req := iterationRequest(runID, 2, 1, 3)
	req.PriorGaps = res.NextGaps
	res = p.Process(context.Background(), req)
	require.Empty(t, res.ErrorReason)

	run, err = h.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, 3, run.CurrentIteration)
	assert.Len(t, run.IntermediateAnswers, 2)
	assert.Equal(t, []int{2, 3}, h.store.iterationWrites)
	assert.Equal(t, 2, h.store.recordTypes(runID)[models.QueryTypeEvaluation], "carried gaps need no re-evaluation")
}

func TestProcessRecoversGapsWhenNotCarried(t *testing.T) {
	h := newHarness(t)
	h.store.addThread("t1", "alice", 1, 3, "Plan Lisbon")
	runID := h.createRun(t, "t1")
	rec := &recordingEvaluator{result: EvaluationResult{Gaps: []string{"missing visa details"}}}

	res := h.processor(t, nil, rec).Process(context.Background(), iterationRequest(runID, 2, 1, 3))
	require.Empty(t, res.ErrorReason)
	assert.Equal(t, []int{1, 3}, rec.iterations)

	subs, err := h.store.ListSubQuestions(context.Background(), runID, "")
	require.NoError(t, err)
	require.NotEmpty(t, subs)
	assert.Contains(t, subs[0].Question, "missing visa details")
}

func TestProcessStopsAtMaximum(t *testing.T) {
	h := newHarness(t)
	h.store.addThread("t1", "alice", 1, 1, "Plan Lisbon")
	runID := h.createRun(t, "t1")
	rec := &recordingEvaluator{}

	res := h.processor(t, nil, rec).Process(context.Background(), iterationRequest(runID, 1, 1, 1))
	assert.False(t, res.ShouldContinue)
	assert.Empty(t, res.ErrorReason)
	assert.Equal(t, ReasonMaxReached, res.StopReason)
	assert.Empty(t, rec.iterations, "no evaluation once the maximum is reached")

	run, err := h.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, 2, run.CurrentIteration)
}

func TestProcessBeyondMaximumDoesNotAnswer(t *testing.T) {
	h := newHarness(t)
	h.store.addThread("t1", "alice", 1, 2, "Plan Lisbon")
	runID := h.createRun(t, "t1")

	req := iterationRequest(runID, 3, 1, 2)
	req.PriorGaps = Carry(nil)
	res := h.processor(t, nil, nil).Process(context.Background(), req)
	assert.False(t, res.ShouldContinue)
	assert.Equal(t, ReasonMaxReached, res.StopReason)
	assert.Zero(t, h.caller.calls)
}

func TestProcessRecoversPanics(t *testing.T) {
	h := newHarness(t)
	h.store.addThread("t1", "alice", 1, 3, "Plan Lisbon")
	runID := h.createRun(t, "t1")

	res := h.processor(t, panickingDecomposer{}, nil).Process(context.Background(), iterationRequest(runID, 1, 1, 3))
	assert.False(t, res.ShouldContinue)
	assert.Contains(t, res.ErrorReason, "decomposer exploded")
	assert.Equal(t, ReasonError, res.StopReason)
}

func TestProcessAnswersPendingFromEarlierIteration(t *testing.T) {
	h := newHarness(t)
	h.store.addThread("t1", "alice", 1, 3, "Plan Lisbon")
	runID := h.createRun(t, "t1")
	ctx := context.Background()
	leftover := h.seedQuestions(t, runID, "Which neighbourhood fits a 1200 EUR lodging budget?")
	require.NoError(t, h.store.SetCurrentIteration(ctx, runID, 2))

	req := iterationRequest(runID, 2, 1, 3)
	req.PriorGaps = Carry([]string{"missing visa details"})
	res := h.processor(t, nil, nil).Process(ctx, req)
	require.Empty(t, res.ErrorReason)
	require.Positive(t, res.QuestionsGenerated)
	assert.Equal(t, res.QuestionsGenerated+1, res.Answered)
	assert.Equal(t, map[models.SubQuestionStatus]int{models.SubQuestionAnswered: res.QuestionsGenerated + 1},
		h.store.subQuestionsByStatus(runID))

	sq, err := h.store.GetSubQuestion(ctx, leftover[0], "alice")
	require.NoError(t, err)
	assert.Equal(t, models.SubQuestionAnswered, sq.Status)
	assert.Equal(t, 1, sq.Iteration)
	assert.NotEmpty(t, sq.Answer)
}
