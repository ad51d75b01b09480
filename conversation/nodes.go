package conversation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/loomlabs/loom/graph"
	"github.com/loomlabs/loom/provider"
	"github.com/loomlabs/loom/stream"
	"github.com/loomlabs/loom/types"
)

const (
	scopePromptFmt = `You are planning a software project.
Available documentation pages:
%s

User request:
%s

Write a short, concrete scope for the artifact to build.`

	codePromptFmt = `Project scope:
%s

Latest user feedback (may be empty on the first round):
%s

Continue building the artifact. Output code and a brief explanation.`

	intentPromptFmt = `The user said:
%s

Classify the intent as exactly one word:
%s if they want more changes,
%s if the conversation should end.`

	farewellPromptFmt = `The conversation is ending. Scope was:
%s

Write a short farewell summarizing what was built.`
)

// Nodes bundles the capability providers the conversation handlers
// consume. Runner is required; Docs may be nil when no documentation
// source is configured.
type Nodes struct {
	Runner provider.Runner
	Docs   provider.DocLister
	logger *zap.Logger
}

// NewNodes wires handlers around the given providers.
func NewNodes(runner provider.Runner, docs provider.DocLister, logger *zap.Logger) (*Nodes, error) {
	if runner == nil {
		return nil, types.NewError(types.ErrValidationFailed, "conversation nodes require a runner")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Nodes{
		Runner: runner,
		Docs:   docs,
		logger: logger.With(zap.String("component", "conversation")),
	}, nil
}

// DefineScope grounds the project scope on the documentation inventory
// and the user's opening request.
func (n *Nodes) DefineScope(ctx context.Context, st graph.State, out *stream.Sink) (*graph.Result, error) {
	var pages []string
	if n.Docs != nil {
		var err error
		pages, err = n.Docs.ListPages(ctx)
		if err != nil {
			return nil, types.NewError(types.ErrCapabilityFailed, "listing documentation pages").
				WithCause(err).WithRetryable(true)
		}
	}

	history, err := DecodeMessages(st)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(scopePromptFmt, strings.Join(pages, "\n"), userMessage(st))
	completion, err := n.Runner.Run(ctx, provider.Request{Prompt: prompt, History: history})
	if err != nil {
		return nil, capabilityError("defining scope", err)
	}

	n.logger.Debug("scope defined", zap.Int("pages", len(pages)))
	return &graph.Result{Updates: map[string]any{FieldScope: completion.Text}}, nil
}

// WriteCode streams a round of code generation. The streamed fragments
// and the text committed to the message log come from the same deltas,
// so the transcript and the checkpoint never diverge.
func (n *Nodes) WriteCode(ctx context.Context, st graph.State, out *stream.Sink) (*graph.Result, error) {
	scope, _ := st[FieldScope].(string)
	feedback := userMessage(st)

	history, err := DecodeMessages(st)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(codePromptFmt, scope, feedback)
	chunks, err := n.Runner.Stream(ctx, provider.Request{Prompt: prompt, History: history})
	if err != nil {
		return nil, capabilityError("starting code generation", err)
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, chunk.Err.WithNode(NodeWriteCode)
		}
		if chunk.Delta != "" {
			out.Write(NodeWriteCode, chunk.Delta)
			sb.WriteString(chunk.Delta)
		}
	}

	updates := map[string]any{
		FieldMessages:          []any{types.NewAssistantMessage(sb.String())},
		FieldLatestUserMessage: "",
	}
	if feedback != "" {
		updates[FieldMessages] = []any{
			types.NewUserMessage(feedback),
			types.NewAssistantMessage(sb.String()),
		}
	}
	return &graph.Result{Updates: updates}, nil
}

// AwaitUser is the human-in-the-loop gate. With no pending user input
// it suspends the thread; once a resume value has been merged it passes
// through unchanged.
func (n *Nodes) AwaitUser(ctx context.Context, st graph.State, out *stream.Sink) (*graph.Result, error) {
	if userMessage(st) == "" {
		return &graph.Result{Interrupt: &graph.Interrupt{
			Field:  FieldLatestUserMessage,
			Prompt: "awaiting user feedback",
		}}, nil
	}
	return &graph.Result{}, nil
}

// ClassifyIntent asks the model whether the user wants another round of
// coding or wants to stop. The raw classification is the route key; an
// answer outside the declared set falls back to continued coding at the
// edge, so an erratic classifier can never end a conversation by
// accident.
func (n *Nodes) ClassifyIntent(ctx context.Context, st graph.State, out *stream.Sink) (*graph.Result, error) {
	prompt := fmt.Sprintf(intentPromptFmt, userMessage(st), IntentContinue, IntentFinish)
	completion, err := n.Runner.Run(ctx, provider.Request{Prompt: prompt})
	if err != nil {
		return nil, capabilityError("classifying intent", err)
	}

	intent := strings.ToLower(strings.TrimSpace(completion.Text))
	n.logger.Debug("intent classified", zap.String("intent", intent))
	return &graph.Result{
		Route:   intent,
		Updates: map[string]any{FieldIntent: intent},
	}, nil
}

// Farewell streams a closing message and commits it to the log.
func (n *Nodes) Farewell(ctx context.Context, st graph.State, out *stream.Sink) (*graph.Result, error) {
	scope, _ := st[FieldScope].(string)
	history, err := DecodeMessages(st)
	if err != nil {
		return nil, err
	}

	chunks, err := n.Runner.Stream(ctx, provider.Request{
		Prompt:  fmt.Sprintf(farewellPromptFmt, scope),
		History: history,
	})
	if err != nil {
		return nil, capabilityError("starting farewell", err)
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, chunk.Err.WithNode(NodeFarewell)
		}
		if chunk.Delta != "" {
			out.Write(NodeFarewell, chunk.Delta)
			sb.WriteString(chunk.Delta)
		}
	}

	return &graph.Result{Updates: map[string]any{
		FieldMessages: []any{
			types.NewUserMessage(userMessage(st)),
			types.NewAssistantMessage(sb.String()),
		},
		FieldLatestUserMessage: "",
	}}, nil
}

func capabilityError(action string, err error) error {
	if typed, ok := err.(*types.Error); ok {
		return typed
	}
	return types.NewError(types.ErrCapabilityFailed, action).WithCause(err).WithRetryable(true)
}
