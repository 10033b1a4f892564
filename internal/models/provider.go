package models

import "strings"

// ProviderUnknown is reported for models no catalog entry or naming rule recognizes
const ProviderUnknown = "unknown"

// ProviderLookup resolves a provider from configuration, returning "" when the model is unknown
type ProviderLookup interface {
	ProviderForModel(model string) string
}

// DetectProvider determines the provider for a model name.
// A configured catalog entry wins; otherwise common naming conventions are matched.
// Llama models map to "ollama" (local deployment convention).
func DetectProvider(model string, lookup ProviderLookup) string {
	if model == "" {
		return ProviderUnknown
	}
	if lookup != nil {
		if p := lookup.ProviderForModel(model); p != "" {
			return p
		}
	}
	return detectProviderFromPattern(model)
}

func detectProviderFromPattern(model string) string {
	ml := strings.ToLower(model)

	switch {
	case strings.Contains(ml, "groq"):
		return "groq"
	case strings.Contains(ml, "gpt-") || strings.HasPrefix(ml, "o1") || strings.HasPrefix(ml, "o3") ||
		strings.Contains(ml, "turbo"):
		return "openai"
	case strings.Contains(ml, "claude"):
		return "anthropic"
	case strings.Contains(ml, "gemini"):
		return "google"
	case strings.Contains(ml, "deepseek"):
		return "deepseek"
	case strings.Contains(ml, "qwen"):
		return "qwen"
	case strings.Contains(ml, "grok"):
		return "xai"
	// mistral before llama since some names overlap
	case strings.Contains(ml, "mistral") || strings.Contains(ml, "mixtral"):
		return "mistral"
	case strings.Contains(ml, "llama") || strings.Contains(ml, "phi") || strings.Contains(ml, "gemma"):
		return "ollama"
	}
	return ProviderUnknown
}
