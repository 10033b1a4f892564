package answermachine

import (
	"context"
	"fmt"
	"strings"

	"github.com/Kocoro-lab/answer-machine/internal/metrics"
	"github.com/Kocoro-lab/answer-machine/internal/models"
	"github.com/Kocoro-lab/answer-machine/internal/tokens"
)

const (
	substantialLength   = 100
	comprehensiveBreaks = 2

	GapTooBrief         = "Answer is too brief to be substantial"
	GapNoInsight        = "Answer lacks analytical insight such as patterns, reasons or recommendations"
	GapNotComprehensive = "Answer is not comprehensive enough to cover multiple aspects"
	GapNeedMoreDetail   = "Need more detail on the original question"
)

var analyticalKeywords = []string{
	"analysis", "insight", "recommend", "suggest", "consider",
	"because", "therefore", "conclusion", "pattern", "trend",
}

// EvaluationResult is the ephemeral verdict on the latest intermediate answer
type EvaluationResult struct {
	IsSatisfactory bool
	Gaps           []string
	Reasoning      string
	Score          int
	Usage          models.TokenUsage
}

// Evaluator judges whether a run's intermediate answer is good enough
type Evaluator interface {
	Evaluate(ctx context.Context, runID string, iteration int) (EvaluationResult, error)
}

// QualitySignals are the binary checks the heuristic evaluator scores
type QualitySignals struct {
	Substantial   bool
	Insightful    bool
	Comprehensive bool
}

// Score counts the signals that hold
func (s QualitySignals) Score() int {
	n := 0
	for _, ok := range []bool{s.Substantial, s.Insightful, s.Comprehensive} {
		if ok {
			n++
		}
	}
	return n
}

// MeasureQuality computes the quality signals of an answer
func MeasureQuality(answer string) QualitySignals {
	lower := strings.ToLower(answer)
	insightful := false
	for _, kw := range analyticalKeywords {
		if strings.Contains(lower, kw) {
			insightful = true
			break
		}
	}
	return QualitySignals{
		Substantial:   len(answer) > substantialLength,
		Insightful:    insightful,
		Comprehensive: strings.Count(answer, "\n\n") > comprehensiveBreaks,
	}
}

// IsSatisfactory never accepts before iteration 3 and always accepts from iteration 7
func IsSatisfactory(iteration, score int) bool {
	return (iteration >= 3 && score >= 2) || iteration >= 7
}

// HeuristicEvaluator scores the latest intermediate answer of a run
type HeuristicEvaluator struct {
	runs RunStore
}

// NewHeuristicEvaluator creates an evaluator reading runs from the store
func NewHeuristicEvaluator(runs RunStore) *HeuristicEvaluator {
	return &HeuristicEvaluator{runs: runs}
}

// Evaluate scores the run's latest intermediate answer for the given iteration
func (e *HeuristicEvaluator) Evaluate(ctx context.Context, runID string, iteration int) (EvaluationResult, error) {
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("failed to load run for evaluation: %w", err)
	}
	answer := run.LatestIntermediateAnswer()
	signals := MeasureQuality(answer)
	score := signals.Score()
	metrics.EvaluationScore.Observe(float64(score))

	res := EvaluationResult{
		IsSatisfactory: IsSatisfactory(iteration, score),
		Score:          score,
		Usage:          tokens.Usage(tokens.Estimate(answer), 1, 0, 0),
	}
	if res.IsSatisfactory {
		res.Gaps = []string{}
		res.Reasoning = fmt.Sprintf("quality score %d/3 at iteration %d is sufficient", score, iteration)
		return res, nil
	}

	if !signals.Substantial {
		res.Gaps = append(res.Gaps, GapTooBrief)
	}
	if !signals.Insightful {
		res.Gaps = append(res.Gaps, GapNoInsight)
	}
	if !signals.Comprehensive {
		res.Gaps = append(res.Gaps, GapNotComprehensive)
	}
	res.Gaps = append(res.Gaps, GapNeedMoreDetail)
	res.Reasoning = fmt.Sprintf("quality score %d/3 at iteration %d is not sufficient", score, iteration)
	return res, nil
}
