package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_machine_runs_total",
			Help: "Total number of answer machine runs by outcome",
		},
		[]string{"status", "mode"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "answer_machine_run_duration_seconds",
			Help:    "Answer machine run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	IterationsPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "answer_machine_iterations_per_run",
			Help:    "Number of iterations executed per run",
			Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
		},
	)

	// Iteration metrics
	IterationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_machine_iterations_total",
			Help: "Total number of iterations by stop/continue reason",
		},
		[]string{"reason"},
	)

	QuestionsGenerated = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "answer_machine_questions_generated",
			Help:    "Sub-questions accepted per decomposition",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	SubQuestionsAnswered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_machine_sub_questions_total",
			Help: "Sub-question answer attempts by path (llm, fallback, error)",
		},
		[]string{"path"},
	)

	EvaluationScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "answer_machine_evaluation_score",
			Help:    "Quality score of intermediate answers",
			Buckets: []float64{0, 1, 2, 3},
		},
	)

	// Token metrics
	TokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_machine_tokens_total",
			Help: "Tokens recorded by query type",
		},
		[]string{"query_type"},
	)

	CostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_machine_cost_usd_total",
			Help: "Estimated USD cost by query type",
		},
		[]string{"query_type"},
	)

	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_machine_pricing_fallback_total",
			Help: "Number of times default pricing was used",
		},
		[]string{"reason"},
	)

	// LLM transport metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_machine_llm_requests_total",
			Help: "LLM calls by provider and status",
		},
		[]string{"provider", "status"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "answer_machine_llm_latency_seconds",
			Help:    "LLM call latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	// Retrieval metrics
	ContextItemsRetrieved = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "answer_machine_context_items",
			Help:    "Ranked context items kept per sub-question",
			Buckets: []float64{0, 1, 2, 5, 10},
		},
	)

	ConversationCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_machine_conversation_cache_total",
			Help: "Conversation cache lookups by result",
		},
		[]string{"result"},
	)
)

// RecordRun records the outcome of one run
func RecordRun(status, mode string, seconds float64, iterations int) {
	RunsTotal.WithLabelValues(status, mode).Inc()
	RunDuration.Observe(seconds)
	IterationsPerRun.Observe(float64(iterations))
}

// RecordTokens records usage and cost for a query type
func RecordTokens(queryType string, total int, cost float64) {
	TokensUsed.WithLabelValues(queryType).Add(float64(total))
	if cost > 0 {
		CostUSD.WithLabelValues(queryType).Add(cost)
	}
}
