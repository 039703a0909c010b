// Package ai provides the language-model gateway for the analysis engine:
// tiered Anthropic calls with retry, circuit breaking and usage accounting,
// resilient JSON parsing of model output, and batched embeddings.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/diligentiq/engine/internal/types"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Model constants for the three call tiers.
//
// The engine uses a tiered model strategy: the fast model handles
// compression and relationship enrichment, the balanced model handles
// per-document analysis, and the accurate model handles cross-document
// synthesis and dedup arbitration.
//
// Environment variable overrides:
// - DILIGENCE_MODEL_FAST
// - DILIGENCE_MODEL_BALANCED
// - DILIGENCE_MODEL_ACCURATE
const (
	ModelFast     = "claude-3-5-haiku-20241022"
	ModelBalanced = "claude-sonnet-4-5-20250929"
	ModelAccurate = "claude-opus-4-20250514"
)

// modelPricing maps model names to USD per million input/output tokens.
// Used for the run-level cost counters; close enough for budgeting.
var modelPricing = map[string]struct{ in, out float64 }{
	ModelFast:     {0.80, 4.00},
	ModelBalanced: {3.00, 15.00},
	ModelAccurate: {15.00, 75.00},
}

// TierModels maps the run's model tiers to concrete model names
type TierModels struct {
	Fast     string
	Balanced string
	Accurate string
}

// DefaultTierModels returns the tier mapping, honoring env overrides
func DefaultTierModels() TierModels {
	m := TierModels{Fast: ModelFast, Balanced: ModelBalanced, Accurate: ModelAccurate}
	if v := os.Getenv("DILIGENCE_MODEL_FAST"); v != "" {
		m.Fast = v
	}
	if v := os.Getenv("DILIGENCE_MODEL_BALANCED"); v != "" {
		m.Balanced = v
	}
	if v := os.Getenv("DILIGENCE_MODEL_ACCURATE"); v != "" {
		m.Accurate = v
	}
	return m
}

// ForTier resolves a model tier to its model name
func (m TierModels) ForTier(tier types.ModelTier) string {
	switch tier {
	case types.TierFast:
		return m.Fast
	case types.TierAccurate:
		return m.Accurate
	default:
		return m.Balanced
	}
}

// Usage accumulates token consumption and estimated cost across calls
type Usage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Calls        int     `json:"calls"`
}

// Add merges another usage record into this one
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CostUSD += other.CostUSD
	u.Calls += other.Calls
}

// Gateway issues tiered model calls with shared retry, circuit breaker,
// concurrency and rate limiting. Safe for concurrent use.
type Gateway struct {
	client  *anthropic.Client
	models  TierModels
	retry   RetryConfig
	breaker *CircuitBreaker
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	mu    sync.Mutex
	usage Usage
}

// Config holds gateway configuration
type Config struct {
	APIKey string      // Anthropic API key (if empty, reads ANTHROPIC_API_KEY)
	Models TierModels  // Tier-to-model mapping (zero value uses defaults)
	Retry  RetryConfig // Retry configuration (zero value uses defaults)

	// RequestsPerSecond caps the sustained external-call rate across all
	// workers (0 = no rate limiting).
	RequestsPerSecond float64
}

// NewGateway creates a new language-model gateway
func NewGateway(cfg *Config) (*Gateway, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	models := cfg.Models
	if models.Fast == "" {
		models = DefaultTierModels()
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	var breaker *CircuitBreaker
	if retry.CircuitBreakerEnabled {
		breaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}

	var sem *semaphore.Weighted
	if retry.MaxConcurrentCalls > 0 {
		sem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), retry.MaxConcurrentCalls+1)
	}

	return &Gateway{
		client:  &client,
		models:  models,
		retry:   retry,
		breaker: breaker,
		sem:     sem,
		limiter: limiter,
	}, nil
}

// Complete issues one model call at the given tier and returns the
// response text plus the usage it incurred. The operation label appears in
// retry logs and usage records.
func (g *Gateway) Complete(ctx context.Context, tier types.ModelTier, prompt, operation string, maxTokens int) (string, Usage, error) {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	model := g.models.ForTier(tier)
	start := time.Now()

	var response *anthropic.Message
	err := g.retryWithBackoff(ctx, operation, func(attemptCtx context.Context) error {
		if g.limiter != nil {
			if err := g.limiter.Wait(attemptCtx); err != nil {
				return fmt.Errorf("rate limiter wait: %w", err)
			}
		}
		resp, apiErr := g.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: int64(maxTokens),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("model call %s failed: %w", operation, err)
	}

	var text string
	for _, block := range response.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	usage := Usage{
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
		CostUSD:      estimateCost(model, response.Usage.InputTokens, response.Usage.OutputTokens),
		Calls:        1,
	}

	g.mu.Lock()
	g.usage.Add(usage)
	g.mu.Unlock()

	slog.Debug("model call completed",
		"operation", operation,
		"model", model,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"duration", time.Since(start))

	return text, usage, nil
}

// TotalUsage returns the accumulated usage across all calls
func (g *Gateway) TotalUsage() Usage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage
}

// HealthCheck reports whether the gateway can accept calls. An open
// circuit breaker means the upstream API is failing and calls would be
// rejected immediately.
func (g *Gateway) HealthCheck() error {
	if g.breaker != nil {
		state, failures, _ := g.breaker.GetMetrics()
		if state == CircuitOpen {
			return fmt.Errorf("model gateway unavailable: %w (failures=%d, retry in %v)",
				ErrCircuitOpen, failures, g.retry.OpenTimeout)
		}
	}
	return nil
}

// estimateCost derives a dollar estimate from the pricing table. Unknown
// models are priced at the balanced tier.
func estimateCost(model string, inputTokens, outputTokens int64) float64 {
	p, ok := modelPricing[model]
	if !ok {
		p = modelPricing[ModelBalanced]
	}
	return float64(inputTokens)/1e6*p.in + float64(outputTokens)/1e6*p.out
}
