package answermachine

// IterationLimits are derived from the number of the iteration about to run,
// so iteration-1 iterations have completed.
type IterationLimits struct {
	HasReachedMin  bool
	HasReachedMax  bool
	ShouldContinue bool
}

// ComputeLimits derives the limits for iteration under the given bounds
func ComputeLimits(iteration, min, max int) IterationLimits {
	reachedMax := iteration > max
	return IterationLimits{
		HasReachedMin:  iteration > min,
		HasReachedMax:  reachedMax,
		ShouldContinue: !reachedMax,
	}
}

// DecisionReason names the row of the continuation table that matched
type DecisionReason string

const (
	ReasonMaxReached        DecisionReason = "max_iterations_reached"
	ReasonAddressGaps       DecisionReason = "address_gaps"
	ReasonMinNotReached     DecisionReason = "minimum_not_reached"
	ReasonSatisfied         DecisionReason = "satisfied"
	ReasonNothingActionable DecisionReason = "minimum_reached_nothing_actionable"
	ReasonForcedToMinimum   DecisionReason = "forced_toward_minimum"
)

// Decision is the outcome of the continuation rule
type Decision struct {
	Continue bool
	Reason   DecisionReason
}

// Decide applies the continuation table top to bottom; the first matching row wins.
//
// The last row continues even though the evaluation produced no gaps, which can
// repeat prior work for one extra iteration. It is kept as observed behavior.
func Decide(eval EvaluationResult, limits IterationLimits) Decision {
	switch {
	case limits.HasReachedMax:
		return Decision{Continue: false, Reason: ReasonMaxReached}
	case !eval.IsSatisfactory && len(eval.Gaps) > 0:
		return Decision{Continue: true, Reason: ReasonAddressGaps}
	case eval.IsSatisfactory && !limits.HasReachedMin:
		return Decision{Continue: true, Reason: ReasonMinNotReached}
	case eval.IsSatisfactory:
		return Decision{Continue: false, Reason: ReasonSatisfied}
	case limits.HasReachedMin:
		return Decision{Continue: false, Reason: ReasonNothingActionable}
	default:
		return Decision{Continue: true, Reason: ReasonForcedToMinimum}
	}
}
