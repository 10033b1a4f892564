package answermachine

import "errors"

var (
	ErrThreadNotFound         = errors.New("thread not found")
	ErrNoUserMessage          = errors.New("no user message found in thread")
	ErrInvalidIterationBounds = errors.New("minIterations cannot be greater than maxIterations")
	ErrNoConversation         = errors.New("No conversation found")
	ErrSubQuestionNotFound    = errors.New("sub-question not found")
)
