package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/answer-machine/internal/activities"
	"github.com/Kocoro-lab/answer-machine/internal/app"
	"github.com/Kocoro-lab/answer-machine/internal/config"
	"github.com/Kocoro-lab/answer-machine/internal/health"
	"github.com/Kocoro-lab/answer-machine/internal/registry"
	"github.com/Kocoro-lab/answer-machine/internal/temporal"
	"github.com/Kocoro-lab/answer-machine/internal/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgPath := config.Path()
	conf, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, level, err := app.NewLogger(conf.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracing, err := tracing.Initialize(ctx, conf.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	// Admin endpoints come up first so health checks answer while dependencies start
	hm := health.NewManager(logger)
	mux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())
	admin := &http.Server{
		Addr:         ":" + strconv.Itoa(conf.Admin.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP server listening", zap.Int("port", conf.Admin.Port))
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	a, err := app.Build(ctx, conf, logger)
	if err != nil {
		logger.Fatal("Failed to build answer machine", zap.Error(err))
	}
	defer a.Close()
	if err := a.RegisterHealthChecks(hm); err != nil {
		logger.Warn("Failed to register health checks", zap.Error(err))
	}

	if conf.Pricing.Watch {
		if err := a.Pricing.Watch(ctx, logger); err != nil {
			logger.Warn("Pricing hot reload disabled", zap.Error(err))
		}
	}
	watcher := config.NewWatcher(cfgPath, conf, logger)
	watcher.OnChange(config.LevelUpdater(level, logger))
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Warn("Configuration hot reload disabled", zap.Error(err))
		}
	}()

	tClient, err := temporal.Dial(ctx, conf.Temporal, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer tClient.Close()
	if err := hm.RegisterChecker(health.NewTemporalHealthChecker(tClient)); err != nil {
		logger.Warn("Failed to register temporal health check", zap.Error(err))
	}

	acts := activities.NewActivities(a.Orchestrator, conf.LLM.Settings(), a.Pricing, logger)
	w := worker.New(tClient, conf.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     getEnvOrDefaultInt("WORKER_ACT", 10),
		MaxConcurrentWorkflowTaskExecutionSize: getEnvOrDefaultInt("WORKER_WF", 10),
	})
	registry.New(acts, logger).Register(w)
	if err := w.Start(); err != nil {
		logger.Fatal("Failed to start Temporal worker", zap.Error(err))
	}
	logger.Info("Answer machine worker started",
		zap.String("task_queue", conf.Temporal.TaskQueue),
		zap.String("namespace", conf.Temporal.Namespace),
		zap.Int("answer_concurrency", conf.AnswerMachine.AnswerConcurrency),
	)

	<-ctx.Done()
	logger.Info("Shutting down answer machine worker")
	w.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down admin server", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Failed to flush traces", zap.Error(err))
	}
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
