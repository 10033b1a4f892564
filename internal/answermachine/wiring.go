package answermachine

import "go.uber.org/zap"

// Components are the collaborators the answer machine is assembled from
type Components struct {
	Threads       ThreadStore
	Runs          RunStore
	SubQuestions  SubQuestionStore
	Conversations ConversationProvider
	Keywords      KeywordGenerator
	Searcher      ContextSearcher
	Fetcher       ContentFetcher
	Caller        LLMCaller
	Recorder      TokenRecorder

	// Decomposer and Evaluator default to the template and heuristic strategies
	Decomposer Decomposer
	Evaluator  Evaluator

	AnswerConcurrency int
}

// New assembles an orchestrator with the default strategies
func New(c Components, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	decomposer := c.Decomposer
	if decomposer == nil {
		decomposer = NewTemplateDecomposer(c.Runs, c.SubQuestions, logger)
	}
	evaluator := c.Evaluator
	if evaluator == nil {
		evaluator = NewHeuristicEvaluator(c.Runs)
	}
	answerer := NewAnswerer(
		c.SubQuestions, c.Conversations, c.Keywords, c.Searcher, c.Caller, c.Recorder,
		AnswererConfig{Concurrency: c.AnswerConcurrency}, logger,
	)
	processor := NewIterationProcessor(
		c.Conversations, decomposer, answerer, NewListSynthesizer(c.SubQuestions),
		evaluator, NewReevaluatingGapRecoverer(evaluator), c.Runs, c.Recorder, logger,
	)
	generator := NewLLMFinalAnswerGenerator(c.Threads, c.Runs, c.SubQuestions, c.Fetcher, c.Caller, c.Recorder, logger)
	return NewOrchestrator(c.Threads, c.Runs, processor, generator, c.Recorder, c.Conversations, logger)
}
