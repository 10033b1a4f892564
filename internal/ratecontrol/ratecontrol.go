// Package ratecontrol paces LLM calls per provider by requests and tokens per minute.
package ratecontrol

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit is a per-minute budget; zero fields are unlimited
type RateLimit struct {
	RPM int `mapstructure:"rpm" yaml:"rpm"`
	TPM int `mapstructure:"tpm" yaml:"tpm"`
}

// Config holds the default budget and per-provider overrides. Ceiling caps every
// provider, e.g. an account-wide quota shared by all models.
type Config struct {
	Default   RateLimit            `mapstructure:"default" yaml:"default"`
	Ceiling   RateLimit            `mapstructure:"ceiling" yaml:"ceiling"`
	Providers map[string]RateLimit `mapstructure:"providers" yaml:"providers"`
}

var builtInProviderLimits = map[string]RateLimit{
	"openai": {RPM: 500, TPM: 200000},
	"ollama": {},
}

// LimitForProvider resolves overrides first, then built-in limits, then the default,
// and bounds the result by the ceiling
func (c Config) LimitForProvider(provider string) RateLimit {
	return CombineLimits(c.providerLimit(normalize(provider)), c.Ceiling)
}

func (c Config) providerLimit(key string) RateLimit {
	if override, ok := c.Providers[key]; ok {
		return override
	}
	if limit, ok := builtInProviderLimits[key]; ok {
		return limit
	}
	return c.Default
}

// CombineLimits keeps the tighter positive bound of each field
func CombineLimits(a, b RateLimit) RateLimit {
	limit := RateLimit{}
	limit.RPM = minPositive(a.RPM, b.RPM)
	limit.TPM = minPositive(a.TPM, b.TPM)
	return limit
}

// DelayForRequest is the steady-state spacing a request of estimatedTokens needs under limit
func DelayForRequest(limit RateLimit, estimatedTokens int) time.Duration {
	if (limit.RPM <= 0 && limit.TPM <= 0) || estimatedTokens < 0 {
		return 0
	}
	var delayMs float64
	if limit.RPM > 0 {
		delayMs = math.Max(delayMs, 60000.0/float64(limit.RPM))
	}
	if limit.TPM > 0 && estimatedTokens > 0 {
		perToken := 60000.0 / float64(limit.TPM)
		delayMs = math.Max(delayMs, perToken*float64(estimatedTokens))
	}
	if delayMs <= 0 {
		return 0
	}
	if delayMs > 60000 {
		delayMs = 60000
	}
	return time.Duration(math.Ceil(delayMs)) * time.Millisecond
}

type bucket struct {
	limit    RateLimit
	requests *rate.Limiter
	tokens   *rate.Limiter
}

// Limiter holds one request bucket and one token bucket per provider
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
}

func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, buckets: make(map[string]*bucket)}
}

// Wait blocks until provider has budget for one request of estimatedTokens.
// A request larger than the per-minute token budget drains a full bucket and then
// waits out the excess at the steady-state rate.
func (l *Limiter) Wait(ctx context.Context, provider string, estimatedTokens int) error {
	b := l.bucketFor(provider)
	if b.requests != nil {
		if err := b.requests.Wait(ctx); err != nil {
			return fmt.Errorf("request budget: %w", err)
		}
	}
	if b.tokens == nil || estimatedTokens <= 0 {
		return nil
	}
	n := estimatedTokens
	if burst := b.tokens.Burst(); n > burst {
		n = burst
	}
	if err := b.tokens.WaitN(ctx, n); err != nil {
		return fmt.Errorf("token budget: %w", err)
	}
	excess := estimatedTokens - n
	if excess <= 0 {
		return nil
	}
	timer := time.NewTimer(DelayForRequest(RateLimit{TPM: b.limit.TPM}, excess))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("token budget: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Limit returns the effective limit for provider
func (l *Limiter) Limit(provider string) RateLimit {
	return l.cfg.LimitForProvider(provider)
}

func (l *Limiter) bucketFor(provider string) *bucket {
	key := normalize(provider)
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	limit := l.cfg.LimitForProvider(key)
	b := &bucket{limit: limit}
	if limit.RPM > 0 {
		b.requests = rate.NewLimiter(rate.Limit(float64(limit.RPM)/60.0), limit.RPM)
	}
	if limit.TPM > 0 {
		b.tokens = rate.NewLimiter(rate.Limit(float64(limit.TPM)/60.0), limit.TPM)
	}
	l.buckets[key] = b
	return b
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

func minPositive(a, b int) int {
	switch {
	case a <= 0 && b <= 0:
		return 0
	case a <= 0:
		return b
	case b <= 0:
		return a
	default:
		if a < b {
			return a
		}
		return b
	}
}
