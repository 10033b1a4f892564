package pricing

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/answer-machine/internal/models"
)

const sampleYAML = `
pricing:
  defaults:
    prompt_per_million: 1.0
    completion_per_million: 2.0
    reasoning_per_million: 3.0
  models:
    openai:
      gpt-4o-mini:
        prompt_per_million: 0.15
        completion_per_million: 0.6
    ollama:
      llama3.1:8b:
        prompt_per_million: 0.01
        completion_per_million: 0.01
        reasoning_per_million: 0.01
`

func TestCostUsesModelRate(t *testing.T) {
	table, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	usage := models.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000, ReasoningTokens: 1_000_000}
	// reasoning falls back to the completion rate when unset
	assert.InDelta(t, 0.15+0.6+0.6, table.Cost(usage, "gpt-4o-mini", "openai"), 1e-9)
	assert.InDelta(t, 0.03, table.Cost(usage, "llama3.1:8b", ""), 1e-9)
}

func TestCostFallsBackToDefaults(t *testing.T) {
	table, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	usage := models.TokenUsage{PromptTokens: 500_000, CompletionTokens: 250_000}
	assert.InDelta(t, 0.5+0.5, table.Cost(usage, "unknown", "openai"), 1e-9)
	assert.InDelta(t, 0.5+0.5, table.Cost(usage, "", ""), 1e-9)
}

func TestCostIsLinearAndIgnoresNegatives(t *testing.T) {
	table := NewTable()
	one := table.Cost(models.TokenUsage{PromptTokens: 1000}, "", "")
	ten := table.Cost(models.TokenUsage{PromptTokens: 10000}, "", "")
	assert.InDelta(t, one*10, ten, 1e-12)
	assert.Equal(t, 0.0, table.Cost(models.TokenUsage{PromptTokens: -50}, "", ""))
}

func TestParseRejectsNegativeRates(t *testing.T) {
	_, err := Parse([]byte(`
pricing:
  models:
    openai:
      gpt-4o:
        prompt_per_million: -1
`))
	assert.Error(t, err)
}

func TestProviderForModel(t *testing.T) {
	table, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "ollama", table.ProviderForModel("llama3.1:8b"))
	assert.Equal(t, "", table.ProviderForModel("nope"))
	assert.Equal(t, "ollama", models.DetectProvider("llama3.1:8b", table))
}

func TestReloadKeepsPreviousTableOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	table, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("pricing: [not a map"), 0o644))
	assert.Error(t, table.Reload())

	r, found := table.RateFor("gpt-4o-mini", "openai")
	assert.True(t, found)
	assert.InDelta(t, 0.15, r.PromptPerMillion, 1e-9)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	table, err := Load(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, table.Watch(ctx, zaptest.NewLogger(t)))

	updated := `
pricing:
  models:
    openai:
      gpt-4o-mini:
        prompt_per_million: 9.0
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	assert.Eventually(t, func() bool {
		r, _ := table.RateFor("gpt-4o-mini", "openai")
		return r.PromptPerMillion == 9.0
	}, 3*time.Second, 20*time.Millisecond)
}
