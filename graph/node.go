package graph

import (
	"context"

	"github.com/loomlabs/loom/stream"
)

// Reserved node names. START marks where execution enters the graph; END is
// the terminal marker an edge may point at. Neither can be registered as a
// real node.
const (
	START = "__start__"
	END   = "__end__"
)

// Interrupt is a suspension raised by a node. Execution freezes at the node
// boundary; the next resume merges the supplied value into Field and then
// re-enters the same node.
type Interrupt struct {
	// Field is the state field the resume value is merged into.
	Field string `json:"field"`
	// Prompt describes what input is being waited for.
	Prompt string `json:"prompt,omitempty"`
}

// Result is the outcome of one node execution. Suspension is an explicit
// tagged value rather than an error: a nil Interrupt means the node
// completed and the engine advances along the node's edge.
type Result struct {
	// Updates is the partial state update, merged per field policy.
	Updates map[string]any
	// Route is the routing key consumed by a conditional edge. Ignored for
	// nodes with a fixed edge.
	Route string
	// Interrupt, when non-nil, suspends the thread at this node. The
	// checkpoint freezes the state exactly as the node received it, so
	// Updates and Route are ignored on a suspending result.
	Interrupt *Interrupt
}

// Handler is a unit of work. It receives a snapshot of thread state and the
// invocation's stream sink, and returns either a partial update or an
// interrupt. Handlers must be safe to re-execute with identical inputs:
// a failed node is retried from the previous checkpoint.
type Handler func(ctx context.Context, st State, out *stream.Sink) (*Result, error)
