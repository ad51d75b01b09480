package conversation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/loomlabs/loom/checkpoint"
	"github.com/loomlabs/loom/conversation"
	"github.com/loomlabs/loom/engine"
	"github.com/loomlabs/loom/provider"
	"github.com/loomlabs/loom/testutil"
	"github.com/loomlabs/loom/types"
)

func newFixture(t *testing.T, runner provider.Runner) (*engine.Engine, checkpoint.Store) {
	t.Helper()
	docs := &testutil.ScriptedDocLister{Pages: []string{"getting-started", "api-reference"}}
	g, err := conversation.Build(runner, docs, nil)
	require.NoError(t, err)

	store := checkpoint.NewMemoryStore(nil)
	e, err := engine.New(g, store)
	require.NoError(t, err)
	return e, store
}

func wait(t *testing.T, run *engine.Run) (types.ThreadStatus, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return run.Wait(ctx)
}

// Scenario: a fresh invocation defines scope, streams one round of code
// and suspends at the human gate.
func TestInvokeSuspendsAtHumanGate(t *testing.T) {
	ctx := context.Background()
	runner := testutil.NewScriptedRunner("weather agent in Go", "package main // v1")
	runner.ChunkSize = 4
	e, store := newFixture(t, runner)

	run, err := e.Invoke(ctx, "T1", map[string]any{
		conversation.FieldLatestUserMessage: "Build a weather agent",
	})
	require.NoError(t, err)

	status, err := wait(t, run)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuspended, status)
	assert.Equal(t, "package main // v1", run.Text(conversation.NodeWriteCode))

	latest, err := store.Latest(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, conversation.NodeAwaitUser, latest.NodePointer)
	assert.True(t, latest.PendingInterrupt)
	assert.Equal(t, conversation.FieldLatestUserMessage, latest.Interrupt.Field)
	assert.Equal(t, "weather agent in Go", latest.State[conversation.FieldScope])

	// The scope prompt was grounded on the documentation inventory.
	assert.Contains(t, runner.Requests[0].Prompt, "getting-started")
	assert.Contains(t, runner.Requests[0].Prompt, "Build a weather agent")

	msgs, err := conversation.DecodeMessages(latest.State)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, "Build a weather agent", msgs[0].Content)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "package main // v1", msgs[1].Content)
}

// Scenario: resuming with a finishing message routes to the farewell
// node and completes the thread.
func TestResumeFinishesConversation(t *testing.T) {
	ctx := context.Background()
	runner := testutil.NewScriptedRunner(
		"weather agent in Go",
		"package main // v1",
		"finish_conversation",
		"Enjoy your weather agent!",
	)
	e, _ := newFixture(t, runner)

	run, err := e.Invoke(ctx, "T1", map[string]any{
		conversation.FieldLatestUserMessage: "Build a weather agent",
	})
	require.NoError(t, err)
	_, err = wait(t, run)
	require.NoError(t, err)

	resumed, err := e.Resume(ctx, "T1", "looks good, finish")
	require.NoError(t, err)
	status, err := wait(t, resumed)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, status)
	assert.Equal(t, "Enjoy your weather agent!", resumed.Text(conversation.NodeFarewell))

	final, err := e.History(ctx, "T1")
	require.NoError(t, err)
	last := final[len(final)-1]
	assert.Equal(t, "finish_conversation", last.State[conversation.FieldIntent])

	msgs, err := conversation.DecodeMessages(last.State)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, types.RoleUser, msgs[2].Role)
	assert.Equal(t, "looks good, finish", msgs[2].Content)
	assert.Equal(t, types.RoleAssistant, msgs[3].Role)

	_, err = e.Resume(ctx, "T1", "one more thing")
	assert.Equal(t, types.ErrThreadCompleted, types.CodeOf(err))
}

// Scenario: an unrecognized classification must continue coding, never
// finish the conversation.
func TestUnknownIntentContinuesCoding(t *testing.T) {
	ctx := context.Background()
	runner := testutil.NewScriptedRunner(
		"weather agent in Go",
		"package main // v1",
		"maybe",
		"package main // v2",
	)
	e, store := newFixture(t, runner)

	run, err := e.Invoke(ctx, "T1", map[string]any{
		conversation.FieldLatestUserMessage: "Build a weather agent",
	})
	require.NoError(t, err)
	_, err = wait(t, run)
	require.NoError(t, err)

	resumed, err := e.Resume(ctx, "T1", "hmm not sure")
	require.NoError(t, err)
	status, err := wait(t, resumed)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuspended, status, "another coding round, then back to the gate")
	assert.Equal(t, "package main // v2", resumed.Text(conversation.NodeWriteCode))
	assert.Empty(t, resumed.Text(conversation.NodeFarewell))

	latest, err := store.Latest(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "maybe", latest.State[conversation.FieldIntent])
}

// failingStream fails the first Stream call and delegates afterwards.
type failingStream struct {
	*testutil.ScriptedRunner
	failed bool
}

func (f *failingStream) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	if !f.failed {
		f.failed = true
		return nil, types.NewError(types.ErrCapabilityFailed, "model timeout").WithRetryable(true)
	}
	return f.ScriptedRunner.Stream(ctx, req)
}

// Scenario: a capability failure during the coder node leaves the
// checkpoint at its pre-node state, and a retry reaches the same next
// state as if the failure had not happened.
func TestCoderFailureIsRetriedFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	runner := &failingStream{
		ScriptedRunner: testutil.NewScriptedRunner("weather agent in Go", "package main // v1"),
	}
	e, store := newFixture(t, runner)

	run, err := e.Invoke(ctx, "T1", map[string]any{
		conversation.FieldLatestUserMessage: "Build a weather agent",
	})
	require.NoError(t, err)
	_, err = wait(t, run)
	require.Error(t, err)
	assert.Equal(t, types.ErrCapabilityFailed, types.CodeOf(err))
	assert.True(t, types.IsRetryable(err))

	latest, err := store.Latest(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, conversation.NodeWriteCode, latest.NodePointer, "pointer did not advance past the failed node")
	assert.False(t, latest.PendingInterrupt)

	retried, err := e.Retry(ctx, "T1")
	require.NoError(t, err)
	status, err := wait(t, retried)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuspended, status)
	assert.Equal(t, "package main // v1", retried.Text(conversation.NodeWriteCode))
}

// The transcript a subscriber sees for the coder node is byte-identical
// to the text committed into the checkpointed message log, for any
// completion text and chunking.
func TestStreamedTextEqualsCommittedText(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		code := rapid.StringMatching(`[ -~]{1,200}`).Draw(t, "code")
		chunkSize := rapid.IntRange(1, 16).Draw(t, "chunkSize")

		runner := testutil.NewScriptedRunner("scope", code)
		runner.ChunkSize = chunkSize
		docs := &testutil.ScriptedDocLister{Pages: []string{"p"}}
		g, err := conversation.Build(runner, docs, nil)
		if err != nil {
			t.Fatal(err)
		}
		store := checkpoint.NewMemoryStore(nil)
		e, err := engine.New(g, store)
		if err != nil {
			t.Fatal(err)
		}

		run, err := e.Invoke(ctx, "T", map[string]any{
			conversation.FieldLatestUserMessage: "build it",
		})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := run.Wait(ctx); err != nil {
			t.Fatal(err)
		}

		latest, err := store.Latest(ctx, "T")
		if err != nil {
			t.Fatal(err)
		}
		msgs, err := conversation.DecodeMessages(latest.State)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) == 0 {
			t.Fatal("no committed message")
		}
		committed := msgs[len(msgs)-1].Content
		if streamed := run.Text(conversation.NodeWriteCode); streamed != committed {
			t.Fatalf("streamed %q != committed %q", streamed, committed)
		}
	})
}
