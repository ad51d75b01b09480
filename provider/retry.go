package provider

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/loomlabs/loom/types"
)

// RetryPolicy configures exponential backoff for Runner calls.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryPolicy suits most completion APIs.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     15 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func (p *RetryPolicy) normalize() {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 15 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d *= 0.5 + rand.Float64()*0.5
	}
	return time.Duration(d)
}

type retryRunner struct {
	inner  Runner
	policy RetryPolicy
	logger *zap.Logger
}

// WithRetry wraps a Runner with exponential backoff. Only errors marked
// retryable are retried; everything else surfaces immediately. Streams
// are retried only when establishing the stream fails, never mid-stream.
func WithRetry(inner Runner, policy RetryPolicy, logger *zap.Logger) Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy.normalize()
	return &retryRunner{
		inner:  inner,
		policy: policy,
		logger: logger.With(zap.String("component", "provider_retry")),
	}
}

func (r *retryRunner) Run(ctx context.Context, req Request) (*Completion, error) {
	var out *Completion
	err := r.do(ctx, func() error {
		var err error
		out, err = r.inner.Run(ctx, req)
		return err
	})
	return out, err
}

func (r *retryRunner) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	var out <-chan Chunk
	err := r.do(ctx, func() error {
		var err error
		out, err = r.inner.Stream(ctx, req)
		return err
	})
	return out, err
}

func (r *retryRunner) do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.policy.delay(attempt - 1)
			r.logger.Debug("retrying provider call",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !types.IsRetryable(lastErr) {
			return lastErr
		}
	}
	r.logger.Warn("provider call exhausted retries",
		zap.Int("max_retries", r.policy.MaxRetries),
		zap.Error(lastErr))
	return lastErr
}
