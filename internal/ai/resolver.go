// Package ai implements the semantic resolver on the Anthropic Messages API.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/storydesk/storydesk/internal/resolution"
	"github.com/storydesk/storydesk/internal/types"
)

// ModelSonnet is the default resolver model
const ModelSonnet = "claude-sonnet-4-5-20250929"

// GetDefaultModel returns the resolver model, checking STORYDESK_MODEL first
func GetDefaultModel() string {
	if model := os.Getenv("STORYDESK_MODEL"); model != "" {
		return model
	}
	return ModelSonnet
}

var _ resolution.FeedbackResolver = (*Resolver)(nil)

// Config holds resolver configuration
type Config struct {
	APIKey    string // Anthropic API key (if empty, reads from ANTHROPIC_API_KEY env var)
	Model     string // Model to use (default: claude-sonnet-4-5-20250929)
	MaxTokens int    // Response budget (default: 1024)
	BaseURL   string // API endpoint override, for proxies and tests
	Retry     RetryConfig
	Logger    *slog.Logger
}

// Resolver asks a Claude model whether an ambiguous item is new, a duplicate or an update
type Resolver struct {
	client         *anthropic.Client
	model          string
	maxTokens      int
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted
	limiter        *rate.Limiter
	logger         *slog.Logger
}

// NewResolver creates a resolver. cfg.Retry is used as given; start from
// DefaultRetryConfig to change individual fields.
func NewResolver(cfg *Config) (*Resolver, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Retries belong to withRetry so the circuit breaker sees every failure
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	retry := cfg.Retry
	r := &Resolver{
		client:    &client,
		model:     model,
		maxTokens: maxTokens,
		retry:     retry,
		logger:    logger,
	}

	if retry.CircuitBreakerEnabled {
		r.circuitBreaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout, logger)
	}
	if retry.MaxConcurrentCalls > 0 {
		r.concurrencySem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}
	if retry.RequestsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(retry.RequestsPerSecond), 1)
	}

	logger.Debug("semantic resolver initialized",
		"model", model,
		"circuit_breaker", retry.CircuitBreakerEnabled,
		"max_concurrent", retry.MaxConcurrentCalls,
		"rps", retry.RequestsPerSecond)
	return r, nil
}

// Resolve implements resolution.SemanticResolver
func (r *Resolver) Resolve(ctx context.Context, candidate, matched *types.ContentItem) (*types.ResolverResponse, error) {
	return r.ask(ctx, "resolve", buildResolutionPrompt(candidate, matched), candidate.ID)
}

// ResolveWithFeedback implements resolution.FeedbackResolver
func (r *Resolver) ResolveWithFeedback(ctx context.Context, candidate, matched *types.ContentItem, feedback string) (*types.ResolverResponse, error) {
	return r.ask(ctx, "resolve_retry", buildFeedbackPrompt(candidate, matched, feedback), candidate.ID)
}

func (r *Resolver) ask(ctx context.Context, operation, prompt, itemID string) (*types.ResolverResponse, error) {
	text, err := r.callModel(ctx, operation, prompt, itemID)
	if err != nil {
		return nil, err
	}

	parsed := Parse[types.ResolverResponse](text, "resolver response")
	if !parsed.Success {
		return nil, fmt.Errorf("failed to parse resolver response: %s (response: %s)",
			parsed.Error, truncate(text, 200))
	}
	return &parsed.Data, nil
}

func (r *Resolver) callModel(ctx context.Context, operation, prompt, itemID string) (string, error) {
	start := time.Now()

	var response *anthropic.Message
	err := r.withRetry(ctx, operation, func(attemptCtx context.Context) error {
		resp, apiErr := r.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(r.model),
			MaxTokens: int64(r.maxTokens),
			System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
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
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	r.logger.Info("semantic resolver call",
		"operation", operation,
		"item", itemID,
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens,
		"duration", time.Since(start))
	return text.String(), nil
}
