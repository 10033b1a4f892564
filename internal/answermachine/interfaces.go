// Package answermachine runs the iterative question-decomposition loop that turns a
// user's chat message into sub-questions, answers them from personal context,
// synthesizes intermediate answers and writes a final answer back to the thread.
package answermachine

import (
	"context"

	"github.com/Kocoro-lab/answer-machine/internal/llm"
	"github.com/Kocoro-lab/answer-machine/internal/models"
	"github.com/Kocoro-lab/answer-machine/internal/retrieval"
	"github.com/Kocoro-lab/answer-machine/internal/tokens"
)

// ThreadStore reads and updates chat threads
type ThreadStore interface {
	GetThread(ctx context.Context, threadID, username string) (*models.Thread, error)
	LatestUserMessage(ctx context.Context, threadID, username string) (*models.Message, error)
	GetMessage(ctx context.Context, messageID, username string) (*models.Message, error)
	SetActiveRun(ctx context.Context, threadID, username, runID string) error
	SetThreadStatus(ctx context.Context, threadID, username, status, reason string) error
	AppendMessage(ctx context.Context, m *models.Message) error
}

// RunStore persists run records
type RunStore interface {
	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	AppendIntermediateAnswer(ctx context.Context, runID string, iteration int, answer string) error
	SetCurrentIteration(ctx context.Context, runID string, iteration int) error
	UpdateTotals(ctx context.Context, runID string, totals models.TokenTotals) error
	CompleteRun(ctx context.Context, runID, finalAnswer string) error
	FailRun(ctx context.Context, runID, reason string) error
}

// SubQuestionStore persists sub-questions and enforces their status transitions
type SubQuestionStore interface {
	CreateSubQuestions(ctx context.Context, qs []*models.SubQuestion) error
	GetSubQuestion(ctx context.Context, id, username string) (*models.SubQuestion, error)
	ListSubQuestions(ctx context.Context, runID string, status models.SubQuestionStatus) ([]models.SubQuestion, error)
	MarkAnswered(ctx context.Context, id, answer string, contextIDs []string) error
	MarkSubQuestionError(ctx context.Context, id, reason string) error
}

// ConversationProvider returns recent thread messages, oldest first
type ConversationProvider interface {
	GetMessages(ctx context.Context, threadID, username string) ([]models.Message, error)
}

// ConversationInvalidator is implemented by providers that cache history
type ConversationInvalidator interface {
	Invalidate(ctx context.Context, threadID, username string) error
}

// ContextSearcher returns ranked context items for keywords
type ContextSearcher interface {
	Search(ctx context.Context, keywords []string, username string) ([]models.ContextItem, error)
}

// ContentFetcher renders context items by id grouped by source type
type ContentFetcher interface {
	FetchByIDs(ctx context.Context, ids []string, username string) (retrieval.Blocks, error)
}

// KeywordGenerator derives search keywords from a question
type KeywordGenerator interface {
	Keywords(ctx context.Context, question string, settings llm.Settings) ([]string, error)
}

// LLMCaller performs one chat completion attempt
type LLMCaller interface {
	Call(ctx context.Context, req llm.Request) llm.Response
}

// TokenRecorder appends token records and aggregates them per run
type TokenRecorder interface {
	Record(ctx context.Context, e tokens.Entry) (*models.TokenRecord, error)
	Aggregate(ctx context.Context, runID string) (models.TokenTotals, error)
}

// Scope identifies the run an operation belongs to and carries the caller's model settings
type Scope struct {
	RunID    string
	ThreadID string
	Username string
	Settings llm.Settings
}

func (s Scope) entry(qt models.QueryType, usage models.TokenUsage) tokens.Entry {
	return tokens.Entry{
		RunID:     s.RunID,
		ThreadID:  s.ThreadID,
		Username:  s.Username,
		QueryType: qt,
		Model:     s.Settings.Model,
		Provider:  llm.ResolveProvider(s.Settings.Provider, s.Settings.Model, nil),
		Usage:     usage,
	}
}
