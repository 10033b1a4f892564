// Package llm calls chat-completion endpoints of OpenAI-compatible providers and Ollama.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kocoro-lab/answer-machine/internal/circuitbreaker"
	"github.com/Kocoro-lab/answer-machine/internal/metrics"
	"github.com/Kocoro-lab/answer-machine/internal/models"
	"github.com/Kocoro-lab/answer-machine/internal/ratecontrol"
	"github.com/Kocoro-lab/answer-machine/internal/tracing"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	defaultOllamaEndpoint = "http://localhost:11434"
	defaultOpenAIEndpoint = "https://api.openai.com/v1"
	maxErrorBody          = 512
)

// Message is one chat message sent to the model
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single chat completion call
type Request struct {
	Provider    string
	APIKey      string
	Endpoint    string
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Response carries the model text and the raw provider body for token extraction
type Response struct {
	Success bool
	Content string
	Raw     json.RawMessage
	Error   string
}

// Settings are the per-user model settings threaded through a run
type Settings struct {
	Provider    string  `json:"provider"`
	APIKey      string  `json:"-"`
	Endpoint    string  `json:"endpoint"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Request builds a call with these settings
func (s Settings) Request(messages ...Message) Request {
	return Request{
		Provider:    s.Provider,
		APIKey:      s.APIKey,
		Endpoint:    s.Endpoint,
		Model:       s.Model,
		Messages:    messages,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
	}
}

// WithModel switches the model. The provider follows the model when it can be detected,
// and a configured endpoint is only kept while the provider stays the same.
func (s Settings) WithModel(model string, catalog models.ProviderLookup) Settings {
	if model == "" {
		return s
	}
	s.Model = model
	detected := models.DetectProvider(model, catalog)
	if detected == models.ProviderUnknown || strings.EqualFold(detected, s.Provider) {
		return s
	}
	s.Provider = detected
	s.Endpoint = ""
	return s
}

// ResolveProvider returns provider when set, otherwise the provider detected from model.
// Unrecognized models go to the OpenAI-compatible API.
func ResolveProvider(provider, model string, catalog models.ProviderLookup) string {
	if p := strings.ToLower(strings.TrimSpace(provider)); p != "" {
		return p
	}
	if p := models.DetectProvider(model, catalog); p != models.ProviderUnknown {
		return p
	}
	return ProviderOpenAI
}

// Config controls the transport
type Config struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	// ProviderLimits paces calls per provider on top of the global limiter
	ProviderLimits ratecontrol.Config
	// Transport overrides the HTTP transport, e.g. to tag requests with workflow ids
	Transport http.RoundTripper
	// Catalog maps configured models to providers for requests without a provider
	Catalog models.ProviderLookup
}

// Client performs single-attempt LLM calls behind a rate limiter and circuit breaker
type Client struct {
	http      *circuitbreaker.HTTPWrapper
	limiter   *rate.Limiter
	providers *ratecontrol.Limiter
	catalog   models.ProviderLookup
	logger    *zap.Logger
}

// NewClient creates an LLM client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Client{
		http:      circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport}, "llm", circuitbreaker.LLMConfig(), logger),
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		providers: ratecontrol.New(cfg.ProviderLimits),
		catalog:   cfg.Catalog,
		logger:    logger,
	}
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Message *Message `json:"message"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Call performs one attempt. Failures are reported in the response, never as a panic or error.
func (c *Client) Call(ctx context.Context, req Request) Response {
	provider := ResolveProvider(req.Provider, req.Model, c.catalog)
	if req.Model == "" {
		return Response{Error: "model is required"}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Response{Error: fmt.Sprintf("rate limiter: %v", err)}
	}
	if err := c.providers.Wait(ctx, provider, estimateTokens(req)); err != nil {
		return Response{Error: fmt.Sprintf("rate limiter: %v", err)}
	}

	url, body, err := buildRequest(provider, req)
	if err != nil {
		return Response{Error: err.Error()}
	}

	start := time.Now()
	resp := c.do(ctx, provider, url, req.APIKey, body)
	metrics.LLMLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())

	status := "success"
	if !resp.Success {
		status = "error"
		c.logger.Warn("LLM call failed",
			zap.String("provider", provider),
			zap.String("model", req.Model),
			zap.String("error", resp.Error),
		)
	}
	metrics.LLMRequests.WithLabelValues(provider, status).Inc()
	return resp
}

func buildRequest(provider string, req Request) (string, []byte, error) {
	endpoint := strings.TrimRight(req.Endpoint, "/")
	var (
		url     string
		payload any
	)
	if provider == ProviderOllama {
		if endpoint == "" {
			endpoint = defaultOllamaEndpoint
		}
		url = endpoint
		if !strings.HasSuffix(url, "/api/chat") {
			url += "/api/chat"
		}
		opts := map[string]any{"temperature": req.Temperature}
		if req.MaxTokens > 0 {
			opts["num_predict"] = req.MaxTokens
		}
		payload = ollamaRequest{Model: req.Model, Messages: req.Messages, Stream: false, Options: opts}
	} else {
		if endpoint == "" {
			endpoint = defaultOpenAIEndpoint
		}
		url = endpoint
		if !strings.HasSuffix(url, "/chat/completions") {
			url += "/chat/completions"
		}
		payload = openAIRequest{Model: req.Model, Messages: req.Messages, Temperature: req.Temperature, MaxTokens: req.MaxTokens}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return url, body, nil
}

func (c *Client) do(ctx context.Context, provider, url, apiKey string, body []byte) Response {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{Error: fmt.Sprintf("failed to build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, httpReq)
	if apiKey != "" && provider != ProviderOllama {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{Error: fmt.Sprintf("request failed: %v", err)}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{Error: fmt.Sprintf("failed to read response: %v", err)}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		snippet := string(raw)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return Response{Raw: raw, Error: fmt.Sprintf("status %d: %s", httpResp.StatusCode, snippet)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{Raw: raw, Error: fmt.Sprintf("failed to decode response: %v", err)}
	}
	content := ""
	switch {
	case parsed.Message != nil:
		content = parsed.Message.Content
	case len(parsed.Choices) > 0:
		content = parsed.Choices[0].Message.Content
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Response{Raw: raw, Error: "empty completion"}
	}
	return Response{Success: true, Content: content, Raw: raw}
}

// estimateTokens approximates prompt plus completion size at four characters per token
func estimateTokens(req Request) int {
	chars := 0
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	return (chars+3)/4 + req.MaxTokens
}
