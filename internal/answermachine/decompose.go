package answermachine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/answer-machine/internal/metrics"
	"github.com/Kocoro-lab/answer-machine/internal/models"
	"github.com/Kocoro-lab/answer-machine/internal/tokens"
)

const maxGapsConsumed = 2

var seedQuestions = []string{
	"What is the main topic or goal behind the user's latest message in this conversation?",
	"What specific facts, figures or details are needed to give the user a complete answer?",
	"What constraints, deadlines or personal preferences should shape the answer for the user?",
	"What relevant background exists in the user's notes, tasks or life events for this request?",
}

// DecomposeRequest asks for the sub-questions of one iteration
type DecomposeRequest struct {
	Scope
	Iteration int
	Gaps      []string
	// ContinuingForMin is set when the loop continues only to reach the minimum iteration count
	ContinuingForMin bool
	Transcript       string
}

// DecomposeResult lists the persisted questions and the usage charged to question_generation
type DecomposeResult struct {
	Questions []string
	Usage     models.TokenUsage
}

// Decomposer turns an iteration's gaps into persisted pending sub-questions
type Decomposer interface {
	Decompose(ctx context.Context, req DecomposeRequest) (DecomposeResult, error)
}

// TemplateDecomposer generates deterministic template questions
type TemplateDecomposer struct {
	runs   RunStore
	subs   SubQuestionStore
	logger *zap.Logger
}

// NewTemplateDecomposer creates a template decomposer
func NewTemplateDecomposer(runs RunStore, subs SubQuestionStore, logger *zap.Logger) *TemplateDecomposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateDecomposer{runs: runs, subs: subs, logger: logger}
}

// Candidates returns the unfiltered template questions for an iteration
func Candidates(iteration int, gaps []string) []string {
	if iteration <= 1 {
		return append([]string(nil), seedQuestions...)
	}
	if len(gaps) == 0 {
		return Fillers(iteration, MaxQuestions)
	}

	var out []string
	for i, gap := range gaps {
		if i == maxGapsConsumed {
			break
		}
		out = append(out, fmt.Sprintf("What additional information would address this gap: %s?", trimGap(gap)))
	}
	first := trimGap(gaps[0])
	out = append(out,
		fmt.Sprintf("Which sources in the user's notes, tasks or life events relate to: %s?", first),
		fmt.Sprintf("What examples or evidence from the user's records would strengthen the answer regarding: %s?", first),
	)
	return out
}

// Decompose generates, filters and persists the questions for an iteration.
// Failures are logged and yield an empty list.
func (d *TemplateDecomposer) Decompose(ctx context.Context, req DecomposeRequest) (DecomposeResult, error) {
	questions := PadQuestions(FilterQuestions(Candidates(req.Iteration, req.Gaps), req.Transcript), req.Iteration)
	if len(questions) == 0 {
		metrics.QuestionsGenerated.Observe(0)
		return DecomposeResult{}, nil
	}

	if err := d.persist(ctx, req, questions); err != nil {
		d.logger.Warn("Question decomposition failed",
			zap.String("run_id", req.RunID),
			zap.Int("iteration", req.Iteration),
			zap.Error(err),
		)
		metrics.QuestionsGenerated.Observe(0)
		return DecomposeResult{}, nil
	}

	metrics.QuestionsGenerated.Observe(float64(len(questions)))
	prompt := tokens.Estimate(req.Transcript + strings.Join(req.Gaps, "\n"))
	completion := tokens.Estimate(strings.Join(questions, "\n"))
	return DecomposeResult{
		Questions: questions,
		Usage:     tokens.Usage(prompt, completion, 0, 0),
	}, nil
}

func (d *TemplateDecomposer) persist(ctx context.Context, req DecomposeRequest, questions []string) error {
	run, err := d.runs.GetRun(ctx, req.RunID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	records := make([]*models.SubQuestion, 0, len(questions))
	for _, q := range questions {
		records = append(records, &models.SubQuestion{
			RunID:           run.ID,
			ThreadID:        req.ThreadID,
			ParentMessageID: run.ParentMessageID,
			Username:        req.Username,
			Iteration:       req.Iteration,
			Question:        q,
			Status:          models.SubQuestionPending,
		})
	}
	return d.subs.CreateSubQuestions(ctx, records)
}

func trimGap(gap string) string {
	return strings.TrimRight(strings.TrimSpace(gap), ".?!")
}
