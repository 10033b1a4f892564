package answermachine

import (
	"context"
	"fmt"
)

// CarriedGaps is the gap list handed from one iteration to the next.
// Present distinguishes "no gaps" from "nothing was carried" after a restart.
type CarriedGaps struct {
	Gaps    []string `json:"gaps"`
	Present bool     `json:"present"`
}

// Carry wraps a gap list as carried
func Carry(gaps []string) CarriedGaps {
	if gaps == nil {
		gaps = []string{}
	}
	return CarriedGaps{Gaps: gaps, Present: true}
}

// GapRecoverer rebuilds the gap list for an iteration when none was carried
type GapRecoverer interface {
	RecoverGaps(ctx context.Context, runID string, iteration int) (EvaluationResult, error)
}

// ReevaluatingGapRecoverer re-runs the evaluator against the previous iteration.
// Gaps could instead be persisted on the run record; this keeps the run schema unchanged.
type ReevaluatingGapRecoverer struct {
	evaluator Evaluator
}

// NewReevaluatingGapRecoverer creates a recoverer backed by an evaluator
func NewReevaluatingGapRecoverer(evaluator Evaluator) *ReevaluatingGapRecoverer {
	return &ReevaluatingGapRecoverer{evaluator: evaluator}
}

// RecoverGaps evaluates iteration-1
func (r *ReevaluatingGapRecoverer) RecoverGaps(ctx context.Context, runID string, iteration int) (EvaluationResult, error) {
	res, err := r.evaluator.Evaluate(ctx, runID, iteration-1)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("failed to recover gaps: %w", err)
	}
	return res, nil
}
