package engine

import (
	"context"
	"sync"

	"github.com/loomlabs/loom/stream"
	"github.com/loomlabs/loom/types"
)

// Run is the handle for one in-flight execution of a thread. Output is
// observed through Stream; completion through Wait. A Run ends in one
// of three ways: the graph reaches its terminal node, a node suspends
// the thread, or a step fails.
type Run struct {
	threadID string
	sink     *stream.Sink

	done   chan struct{}
	mu     sync.Mutex
	status types.ThreadStatus
	err    error
}

func newRun(threadID string) *Run {
	return &Run{
		threadID: threadID,
		sink:     stream.NewSink(),
		done:     make(chan struct{}),
		status:   types.StatusInProgress,
	}
}

// ThreadID returns the thread this run executes.
func (r *Run) ThreadID() string { return r.threadID }

// Stream subscribes to the run's output. Every fragment written so far
// is replayed first, so subscribing late loses nothing. The channel
// closes when the run ends or ctx is cancelled.
func (r *Run) Stream(ctx context.Context) <-chan stream.Fragment {
	return r.sink.Subscribe(ctx)
}

// Text returns the committed output of one node, or the whole
// transcript when node is empty.
func (r *Run) Text(node string) string { return r.sink.Text(node) }

// Wait blocks until the run ends and reports the thread's resulting
// status. The error is non-nil only when a step failed.
func (r *Run) Wait(ctx context.Context) (types.ThreadStatus, error) {
	select {
	case <-ctx.Done():
		return types.StatusInProgress, ctx.Err()
	case <-r.done:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.err
}

// finish records the outcome, seals the transcript and releases waiters.
func (r *Run) finish(status types.ThreadStatus, err error) {
	r.mu.Lock()
	r.status = status
	r.err = err
	r.mu.Unlock()
	r.sink.Close()
	close(r.done)
}
