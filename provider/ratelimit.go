package provider

import (
	"context"

	"golang.org/x/time/rate"
)

type rateLimitedRunner struct {
	inner   Runner
	limiter *rate.Limiter
}

// WithRateLimit wraps a Runner with a token-bucket limiter. Wait blocks
// until a token is available or the context is cancelled, so callers see
// backpressure as latency rather than errors.
func WithRateLimit(inner Runner, rps float64, burst int) Runner {
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedRunner{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *rateLimitedRunner) Run(ctx context.Context, req Request) (*Completion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Run(ctx, req)
}

func (r *rateLimitedRunner) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Stream(ctx, req)
}
