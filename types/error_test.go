package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrThreadNotFound, "no such thread")
	assert.Equal(t, "[THREAD_NOT_FOUND] no such thread", err.Error())

	cause := errors.New("socket closed")
	err = NewError(ErrPersistence, "save failed").WithCause(cause)
	assert.Contains(t, err.Error(), "socket closed")
	assert.ErrorIs(t, err, cause)
}

func TestRetryableFlag(t *testing.T) {
	err := NewError(ErrCapabilityFailed, "model timeout").WithRetryable(true)
	assert.True(t, IsRetryable(err))

	wrapped := fmt.Errorf("node execution: %w", err)
	assert.True(t, IsRetryable(wrapped), "retryable must survive wrapping")

	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestCodeOf(t *testing.T) {
	err := NewError(ErrRoutingFallback, "undeclared key").WithNode("classify_intent")
	require.Equal(t, ErrRoutingFallback, CodeOf(err))
	assert.True(t, IsCode(fmt.Errorf("wrap: %w", err), ErrRoutingFallback))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestMessageBatchRoundTrip(t *testing.T) {
	batch := []Message{
		NewUserMessage("build a weather agent"),
		NewAssistantMessage("package main ..."),
	}

	raw, err := MarshalBatch(batch)
	require.NoError(t, err)

	decoded, err := UnmarshalBatch(raw)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, RoleUser, decoded[0].Role)
	assert.Equal(t, batch[1].Content, decoded[1].Content)
}
