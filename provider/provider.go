package provider

import (
	"context"

	"github.com/loomlabs/loom/types"
)

// Request carries everything a Runner needs to produce a completion.
type Request struct {
	Prompt  string
	History []types.Message
}

// Completion is the result of a blocking Run call.
type Completion struct {
	Text string
}

// Chunk is one streamed increment of a completion. Exactly one of Delta
// or Err is meaningful; Final marks the last chunk of the stream.
type Chunk struct {
	Delta string
	Err   *types.Error
	Final bool
}

// Runner produces model completions. Stream returns a channel that is
// closed after the Final chunk (or an Err chunk) has been delivered.
type Runner interface {
	Run(ctx context.Context, req Request) (*Completion, error)
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// DocLister enumerates the documentation pages available as grounding
// context for scope definition.
type DocLister interface {
	ListPages(ctx context.Context) ([]string, error)
}
