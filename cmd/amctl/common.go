package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/answer-machine/internal/app"
	"github.com/Kocoro-lab/answer-machine/internal/config"
	"github.com/Kocoro-lab/answer-machine/internal/db"
)

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// cliLogger logs to stderr at warn level unless the config asks for more
func cliLogger(cfg *config.Config) *zap.Logger {
	lc := cfg.Logging
	if lc.Level == "" || lc.Level == "info" {
		lc.Level = "warn"
	}
	logger, _, err := app.NewLogger(lc)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func buildApp(ctx context.Context, configPath string) (*app.App, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, cliLogger(cfg))
}

func openStore(configPath string) (*db.Client, *config.Config, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	client, err := db.NewClient(cfg.Database.DB(), cliLogger(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return client, cfg, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
