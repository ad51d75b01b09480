package provider_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomlabs/loom/provider"
	"github.com/loomlabs/loom/testutil"
	"github.com/loomlabs/loom/types"
)

func fastPolicy() provider.RetryPolicy {
	return provider.RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryRecoversFromRetryableErrors(t *testing.T) {
	transient := types.NewError(types.ErrCapabilityFailed, "upstream 503").WithRetryable(true)
	inner := testutil.NewScriptedRunner("ok").FailWith(transient, transient)

	r := provider.WithRetry(inner, fastPolicy(), nil)
	out, err := r.Run(context.Background(), provider.Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
	assert.Equal(t, 3, inner.Calls())
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := types.NewError(types.ErrCapabilityFailed, "bad request")
	inner := testutil.NewScriptedRunner("never").FailWith(permanent)

	r := provider.WithRetry(inner, fastPolicy(), nil)
	_, err := r.Run(context.Background(), provider.Request{})
	require.Error(t, err)
	assert.Equal(t, 1, inner.Calls(), "non-retryable errors must not be retried")
}

func TestRetryExhaustsBudget(t *testing.T) {
	transient := types.NewError(types.ErrCapabilityFailed, "flaky").WithRetryable(true)
	inner := testutil.NewScriptedRunner().FailWith(transient, transient, transient, transient, transient)

	r := provider.WithRetry(inner, fastPolicy(), nil)
	_, err := r.Run(context.Background(), provider.Request{})
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, 4, inner.Calls(), "initial attempt plus MaxRetries")
}

func TestRetryHonorsContextCancel(t *testing.T) {
	transient := types.NewError(types.ErrCapabilityFailed, "flaky").WithRetryable(true)
	inner := testutil.NewScriptedRunner().FailWith(transient, transient, transient)

	policy := fastPolicy()
	policy.InitialDelay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	r := provider.WithRetry(inner, policy, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx, provider.Request{})
		errc <- err
	}()
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop ignored cancellation")
	}
}

func TestRateLimitPreservesResults(t *testing.T) {
	inner := testutil.NewScriptedRunner("a", "b")
	r := provider.WithRateLimit(inner, 1000, 2)

	out, err := r.Run(context.Background(), provider.Request{})
	require.NoError(t, err)
	assert.Equal(t, "a", out.Text)

	ch, err := r.Stream(context.Background(), provider.Request{})
	require.NoError(t, err)
	text, err := testutil.Drain(ch)
	require.NoError(t, err)
	assert.Equal(t, "b", text)
}
