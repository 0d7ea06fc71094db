package inference

import (
	"context"

	"github.com/wheelsup-data/flightschool-etl/internal/resilience"
	"github.com/wheelsup-data/flightschool-etl/pkg/anthropic"
)

// AnthropicProvider extracts fields via the Anthropic messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	system    []anthropic.SystemBlock
}

// NewAnthropicProvider creates the primary extraction provider. The system
// prompt is sent with a cache breakpoint so every chunk after the first
// reads it from the prompt cache.
func NewAnthropicProvider(client anthropic.Client, model string, maxTokens int64, systemPrompt string) *AnthropicProvider {
	return &AnthropicProvider{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		system:    anthropic.CachedSystem(systemPrompt),
	}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Extract implements Provider.
func (p *AnthropicProvider) Extract(ctx context.Context, chunkText string, strict bool) (*ProviderResult, error) {
	temp := 0.0
	resp, err := p.client.Complete(ctx, anthropic.Request{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		System:      p.system,
		Temperature: &temp,
		User:        buildUserPrompt(chunkText, strict),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		// API-level failures are retryable; the circuit breaker decides
		// when to stop trying.
		return nil, resilience.NewTransientError(err, 0)
	}

	resp.Usage.Log(p.model, "inference")
	return parseProviderOutput(p.Name(), resp.Text)
}
