// Package app assembles the answer machine from configuration. The worker and
// the amctl CLI share it so a local run behaves exactly like a workflow run.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/answer-machine/internal/answermachine"
	"github.com/Kocoro-lab/answer-machine/internal/config"
	"github.com/Kocoro-lab/answer-machine/internal/conversation"
	"github.com/Kocoro-lab/answer-machine/internal/db"
	"github.com/Kocoro-lab/answer-machine/internal/health"
	"github.com/Kocoro-lab/answer-machine/internal/interceptors"
	"github.com/Kocoro-lab/answer-machine/internal/llm"
	"github.com/Kocoro-lab/answer-machine/internal/pricing"
	"github.com/Kocoro-lab/answer-machine/internal/retrieval"
	"github.com/Kocoro-lab/answer-machine/internal/tokens"
)

// App holds the long-lived dependencies of one process
type App struct {
	Config       *config.Config
	DB           *db.Client
	Redis        *redis.Client
	Pricing      *pricing.Table
	Accountant   *tokens.Accountant
	LLM          *llm.Client
	Orchestrator *answermachine.Orchestrator
	logger       *zap.Logger
}

// Build opens storage and wires every component. Redis and the pricing file are
// optional: without them history is read from the store and default rates apply.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dbClient, err := db.NewClient(cfg.Database.DB(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := dbClient.Migrate(ctx); err != nil {
			dbClient.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = conversation.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable; conversation cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			rdb = nil
		}
	}

	table, err := pricing.Load(cfg.Pricing.Path)
	if err != nil {
		logger.Warn("Pricing file not loaded; using default rates", zap.String("path", cfg.Pricing.Path), zap.Error(err))
		table = pricing.NewTable()
	}

	llmCfg := cfg.LLM.Client()
	llmCfg.Transport = interceptors.NewWorkflowHTTPRoundTripper(http.DefaultTransport)
	llmCfg.Catalog = table
	llmClient := llm.NewClient(llmCfg, logger)

	accountant := tokens.NewAccountant(dbClient, table, logger)
	conversations := conversation.NewProvider(dbClient, rdb, conversation.Options{
		HistoryLimit: cfg.AnswerMachine.HistoryLimit,
		TTL:          cfg.AnswerMachine.HistoryTTL,
	}, logger)
	searcher := retrieval.NewSearcher(dbClient)

	orch := answermachine.New(answermachine.Components{
		Threads:           dbClient,
		Runs:              dbClient,
		SubQuestions:      dbClient,
		Conversations:     conversations,
		Keywords:          retrieval.NewLLMKeywordGenerator(llmClient, logger),
		Searcher:          searcher,
		Fetcher:           searcher,
		Caller:            llmClient,
		Recorder:          accountant,
		AnswerConcurrency: cfg.AnswerMachine.AnswerConcurrency,
	}, logger)

	return &App{
		Config:       cfg,
		DB:           dbClient,
		Redis:        rdb,
		Pricing:      table,
		Accountant:   accountant,
		LLM:          llmClient,
		Orchestrator: orch,
		logger:       logger,
	}, nil
}

// RegisterHealthChecks adds the storage checkers to a health manager
func (a *App) RegisterHealthChecks(m *health.Manager) error {
	if err := m.RegisterChecker(health.NewDatabaseHealthChecker(a.DB.Wrapper())); err != nil {
		return err
	}
	if a.Redis != nil {
		return m.RegisterChecker(health.NewRedisHealthChecker(a.Redis))
	}
	return nil
}

// Close releases storage handles
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn("Failed to close redis", zap.Error(err))
		}
	}
	if err := a.DB.Close(); err != nil {
		a.logger.Warn("Failed to close database", zap.Error(err))
	}
}
