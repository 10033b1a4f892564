package models

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by stores when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition is returned when a status change would violate the sub-question lifecycle
	ErrInvalidTransition = errors.New("invalid status transition")
)

// RunStatus is the lifecycle status of an answer machine run
type RunStatus string

const (
	RunStatusPending  RunStatus = "pending"
	RunStatusAnswered RunStatus = "answered"
	RunStatusError    RunStatus = "error"
)

// IsTerminal reports whether no further transitions are expected
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusAnswered || s == RunStatusError
}

// SubQuestionStatus is the lifecycle status of a decomposed question
type SubQuestionStatus string

const (
	SubQuestionPending  SubQuestionStatus = "pending"
	SubQuestionAnswered SubQuestionStatus = "answered"
	SubQuestionError    SubQuestionStatus = "error"
	SubQuestionSkipped  SubQuestionStatus = "skipped"
)

// CanTransition reports whether a sub-question may move from one status to another.
// Only pending questions move; answered, skipped and error are final.
func (s SubQuestionStatus) CanTransition(to SubQuestionStatus) bool {
	if s != SubQuestionPending {
		return false
	}
	switch to {
	case SubQuestionAnswered, SubQuestionError, SubQuestionSkipped:
		return true
	}
	return false
}

// QueryType classifies the operation a token record was charged to
type QueryType string

const (
	QueryTypeQuestionGeneration QueryType = "question_generation"
	QueryTypeSubQuestionAnswer  QueryType = "sub_question_answer"
	QueryTypeIntermediateAnswer QueryType = "intermediate_answer"
	QueryTypeEvaluation         QueryType = "evaluation"
	QueryTypeFinalAnswer        QueryType = "final_answer"
)

// AllQueryTypes lists query types in pipeline order
var AllQueryTypes = []QueryType{
	QueryTypeQuestionGeneration,
	QueryTypeSubQuestionAnswer,
	QueryTypeIntermediateAnswer,
	QueryTypeEvaluation,
	QueryTypeFinalAnswer,
}

// SourceType identifies where a context item came from
type SourceType string

const (
	SourceTask      SourceType = "task"
	SourceNote      SourceType = "note"
	SourceLifeEvent SourceType = "life_event"
	SourceInfoVault SourceType = "info_vault"
)

// SourceOrder is the order context groups are rendered in
var SourceOrder = []SourceType{SourceTask, SourceNote, SourceLifeEvent, SourceInfoVault}

// TokenUsage is the token count of one LLM-consuming operation
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	ReasoningTokens  int `json:"reasoning_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum of two usages
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		ReasoningTokens:  u.ReasoningTokens + o.ReasoningTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// IsZero reports whether nothing was consumed
func (u TokenUsage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.ReasoningTokens == 0 && u.TotalTokens == 0
}

// TokenTotals are the aggregated counts and cost of a run
type TokenTotals struct {
	TokenUsage
	CostUSD float64 `json:"cost_usd"`
}

// Run is one execution of the answer machine for an originating user message
type Run struct {
	ID                  string      `json:"id"`
	ThreadID            string      `json:"thread_id"`
	ParentMessageID     string      `json:"parent_message_id"`
	Username            string      `json:"username"`
	Status              RunStatus   `json:"status"`
	CurrentIteration    int         `json:"current_iteration"`
	IntermediateAnswers []string    `json:"intermediate_answers"`
	FinalAnswer         string      `json:"final_answer"`
	Totals              TokenTotals `json:"totals"`
	ErrorReason         string      `json:"error_reason,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
	CompletedAt         *time.Time  `json:"completed_at,omitempty"`
}

// LatestIntermediateAnswer returns the most recent intermediate answer or ""
func (r *Run) LatestIntermediateAnswer() string {
	if r == nil || len(r.IntermediateAnswers) == 0 {
		return ""
	}
	return r.IntermediateAnswers[len(r.IntermediateAnswers)-1]
}

// SubQuestion is an atomic question produced by decomposition
type SubQuestion struct {
	ID              string            `json:"id"`
	RunID           string            `json:"run_id"`
	ThreadID        string            `json:"thread_id"`
	ParentMessageID string            `json:"parent_message_id"`
	Username        string            `json:"username"`
	Iteration       int               `json:"iteration"`
	Question        string            `json:"question"`
	Answer          string            `json:"answer"`
	ContextIDs      []string          `json:"context_ids"`
	Status          SubQuestionStatus `json:"status"`
	ErrorReason     string            `json:"error_reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// TokenRecord is an immutable log entry of one operation's token usage
type TokenRecord struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	ThreadID  string    `json:"thread_id"`
	Username  string    `json:"username"`
	QueryType QueryType `json:"query_type"`
	Model     string    `json:"model,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	TokenUsage
	CostUSD   float64   `json:"cost_usd"`
	CreatedAt time.Time `json:"created_at"`
}

// Thread is a chat conversation owned by a user
type Thread struct {
	ID            string    `db:"id" json:"id"`
	Username      string    `db:"username" json:"username"`
	Title         string    `db:"title" json:"title"`
	MinIterations int       `db:"min_iterations" json:"min_iterations"`
	MaxIterations int       `db:"max_iterations" json:"max_iterations"`
	ActiveRunID   string    `db:"active_run_id" json:"active_run_id,omitempty"`
	Status        string    `db:"status" json:"status"`
	ErrorReason   string    `db:"error_reason" json:"error_reason,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// IterationBounds returns the configured min/max iterations, defaulting unset values to 1
func (t *Thread) IterationBounds() (min, max int) {
	min, max = t.MinIterations, t.MaxIterations
	if min <= 0 {
		min = 1
	}
	if max <= 0 {
		max = 1
	}
	return min, max
}

// Message is one chat message in a thread
type Message struct {
	ID        string    `db:"id" json:"id"`
	ThreadID  string    `db:"thread_id" json:"thread_id"`
	Username  string    `db:"username" json:"username"`
	Content   string    `db:"content" json:"content"`
	IsAI      bool      `db:"is_ai" json:"is_ai"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ContextItem is a retrieved personal record used to ground an answer
type ContextItem struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	SourceType SourceType `json:"source_type"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	Tags       []string   `json:"tags"`
	DueAt      *time.Time `json:"due_at,omitempty"`
	EventAt    *time.Time `json:"event_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Score      float64    `json:"score,omitempty"`
}
