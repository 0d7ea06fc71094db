package inference

import (
	"context"
	"errors"

	"github.com/wheelsup-data/flightschool-etl/internal/resilience"
	"github.com/wheelsup-data/flightschool-etl/pkg/perplexity"
)

// PerplexityProvider is the fallback extraction provider.
type PerplexityProvider struct {
	client    perplexity.Client
	model     string
	maxTokens int
	system    string
}

// NewPerplexityProvider creates the fallback provider.
func NewPerplexityProvider(client perplexity.Client, model string, maxTokens int, systemPrompt string) *PerplexityProvider {
	return &PerplexityProvider{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		system:    systemPrompt,
	}
}

// Name implements Provider.
func (p *PerplexityProvider) Name() string { return "perplexity" }

// Extract implements Provider.
func (p *PerplexityProvider) Extract(ctx context.Context, chunkText string, strict bool) (*ProviderResult, error) {
	temp := 0.0
	resp, err := p.client.Complete(ctx, perplexity.CompletionRequest{
		Model:       p.model,
		System:      p.system,
		User:        buildUserPrompt(chunkText, strict),
		MaxTokens:   p.maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return nil, classifyPerplexityErr(err)
	}

	return parseProviderOutput(p.Name(), resp.Text)
}

func classifyPerplexityErr(err error) error {
	var apiErr *perplexity.APIError
	if errors.As(err, &apiErr) {
		if resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return resilience.NewTransientError(err, apiErr.StatusCode)
		}
		return resilience.NewPermanentError(err, resilience.ReasonBadRequest)
	}
	return resilience.NewTransientError(err, 0)
}
