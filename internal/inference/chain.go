package inference

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wheelsup-data/flightschool-etl/internal/resilience"
)

// Chain tries providers in priority order, returning the first success.
// Each provider sits behind its own circuit breaker so a dead primary
// short-circuits straight to the fallback instead of eating a timeout per
// chunk.
type Chain struct {
	providers []Provider
	breakers  []*resilience.CircuitBreaker
	retry     resilience.RetryConfig
}

// NewChain creates a Chain over the given providers.
func NewChain(providers ...Provider) *Chain {
	breakers := make([]*resilience.CircuitBreaker, len(providers))
	for i := range providers {
		breakers[i] = resilience.NewCircuitBreaker(5, 60*time.Second)
	}
	return &Chain{
		providers: providers,
		breakers:  breakers,
		retry:     resilience.DefaultRetryConfig(),
	}
}

// Extract runs the chunk through the provider chain. Per provider: transient
// failures are retried with backoff, a malformed response gets exactly one
// stricter-prompt retry. When every provider fails the chain returns the
// last error; the caller records an abstention, not a failure.
func (c *Chain) Extract(ctx context.Context, chunkText string) (*ProviderResult, error) {
	log := zap.L().Named("inference")

	var lastErr error
	for i, p := range c.providers {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		res, err := c.tryProvider(ctx, i, p, chunkText)
		if err == nil {
			if i > 0 {
				log.Info("fallback provider succeeded", zap.String("provider", p.Name()))
			}
			return res, nil
		}
		lastErr = err
		log.Warn("provider failed, trying next",
			zap.String("provider", p.Name()),
			zap.Error(err),
		)
	}

	if lastErr == nil {
		lastErr = eris.New("inference: no providers configured")
	}
	return nil, eris.Wrap(lastErr, "inference: all providers failed")
}

func (c *Chain) tryProvider(ctx context.Context, idx int, p Provider, chunkText string) (*ProviderResult, error) {
	retryCfg := c.retry
	retryCfg.OnRetry = resilience.RetryLogger(p.Name(), "extract")

	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*ProviderResult, error) {
		var res *ProviderResult
		err := c.breakers[idx].Call(ctx, func(ctx context.Context) error {
			var callErr error
			res, callErr = p.Extract(ctx, chunkText, false)
			if resilience.PermanentReasonOf(callErr) == resilience.ReasonMalformedOutput {
				// One stricter-prompt attempt, then give up on this provider.
				res, callErr = p.Extract(ctx, chunkText, true)
			}
			return callErr
		})
		return res, err
	})
}
