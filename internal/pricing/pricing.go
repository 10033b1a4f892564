package pricing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Kocoro-lab/answer-machine/internal/metrics"
	"github.com/Kocoro-lab/answer-machine/internal/models"
)

// Rate is a per-million-token price for each token class
type Rate struct {
	PromptPerMillion     float64 `yaml:"prompt_per_million"`
	CompletionPerMillion float64 `yaml:"completion_per_million"`
	ReasoningPerMillion  float64 `yaml:"reasoning_per_million"`
}

func (r Rate) isZero() bool {
	return r.PromptPerMillion == 0 && r.CompletionPerMillion == 0 && r.ReasoningPerMillion == 0
}

// config is the pricing section of config/pricing.yaml
type config struct {
	Pricing struct {
		Defaults Rate                       `yaml:"defaults"`
		Models   map[string]map[string]Rate `yaml:"models"` // provider -> model -> rate
	} `yaml:"pricing"`
}

// DefaultRate is used when no configuration is loaded
var DefaultRate = Rate{
	PromptPerMillion:     0.5,
	CompletionPerMillion: 1.5,
	ReasoningPerMillion:  1.5,
}

// Table holds per-provider per-model token rates
type Table struct {
	mu   sync.RWMutex
	path string
	cfg  config
}

// NewTable returns a table that knows only the default rate
func NewTable() *Table {
	t := &Table{}
	t.cfg.Pricing.Defaults = DefaultRate
	return t
}

// Load reads a pricing table from a YAML file
func Load(path string) (*Table, error) {
	t := &Table{path: path}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Parse builds a table from YAML bytes
func Parse(data []byte) (*Table, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	return &Table{cfg: cfg}, nil
}

func parse(data []byte) (config, error) {
	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse pricing config: %w", err)
	}
	if cfg.Pricing.Defaults.isZero() {
		cfg.Pricing.Defaults = DefaultRate
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validate(cfg config) error {
	check := func(name string, r Rate) error {
		if r.PromptPerMillion < 0 || r.CompletionPerMillion < 0 || r.ReasoningPerMillion < 0 {
			return fmt.Errorf("negative rate for %s", name)
		}
		return nil
	}
	if err := check("defaults", cfg.Pricing.Defaults); err != nil {
		return err
	}
	for provider, models := range cfg.Pricing.Models {
		for model, r := range models {
			if err := check(provider+":"+model, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reload re-reads the table from its file. The previous table is kept on error.
func (t *Table) Reload() error {
	if t.path == "" {
		return nil
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("failed to read pricing config %s: %w", t.path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
	return nil
}

// RateFor returns the rate for a model, searching every provider when provider is empty or unknown.
// The second result is false when the default rate was used.
func (t *Table) RateFor(model, provider string) (Rate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if model != "" {
		if r, ok := t.cfg.Pricing.Models[provider][model]; ok {
			return fillRate(r, t.cfg.Pricing.Defaults), true
		}
		for _, models := range t.cfg.Pricing.Models {
			if r, ok := models[model]; ok {
				return fillRate(r, t.cfg.Pricing.Defaults), true
			}
		}
	}
	return t.cfg.Pricing.Defaults, false
}

// fillRate takes missing classes from the defaults; reasoning falls back to the completion rate
func fillRate(r, d Rate) Rate {
	if r.PromptPerMillion == 0 {
		r.PromptPerMillion = d.PromptPerMillion
	}
	if r.CompletionPerMillion == 0 {
		r.CompletionPerMillion = d.CompletionPerMillion
	}
	if r.ReasoningPerMillion == 0 {
		r.ReasoningPerMillion = r.CompletionPerMillion
	}
	return r
}

// Cost returns the USD cost of usage as a linear per-class rate
func (t *Table) Cost(usage models.TokenUsage, model, provider string) float64 {
	r, found := t.RateFor(model, provider)
	if !found {
		reason := "unknown_model"
		if model == "" {
			reason = "missing_model"
		}
		metrics.PricingFallbacks.WithLabelValues(reason).Inc()
	}
	return perMillion(usage.PromptTokens, r.PromptPerMillion) +
		perMillion(usage.CompletionTokens, r.CompletionPerMillion) +
		perMillion(usage.ReasoningTokens, r.ReasoningPerMillion)
}

func perMillion(tokens int, rate float64) float64 {
	if tokens <= 0 {
		return 0
	}
	return float64(tokens) / 1_000_000.0 * rate
}

// ProviderForModel returns the configured provider of a model or ""
func (t *Table) ProviderForModel(model string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for provider, models := range t.cfg.Pricing.Models {
		if _, ok := models[model]; ok {
			return provider
		}
	}
	return ""
}

// Watch reloads the table whenever its file changes until ctx is done.
// The directory is watched so editors that replace the file are handled.
func (t *Table) Watch(ctx context.Context, logger *zap.Logger) error {
	if t.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create pricing watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", t.path, err)
	}

	target := filepath.Clean(t.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if err := t.Reload(); err != nil {
					logger.Warn("Failed to reload pricing", zap.String("path", t.path), zap.Error(err))
					continue
				}
				logger.Info("Reloaded pricing configuration", zap.String("path", t.path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Pricing watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
