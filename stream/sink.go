package stream

import (
	"context"
	"strings"
	"sync"
)

// Fragment is a single piece of incremental node output.
type Fragment struct {
	// Node is the graph node that produced the fragment.
	Node string `json:"node"`
	// Text is the fragment payload. Concatenating all fragments a node
	// produces yields exactly the text committed for that node.
	Text string `json:"text"`
}

// Sink is an ordered, finite transcript of fragments for one invocation.
// Writes never block on consumers; subscribers replay the transcript from
// the beginning and receive every fragment in order.
type Sink struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frags  []Fragment
	closed bool
}

// NewSink creates an empty sink.
func NewSink() *Sink {
	s := &Sink{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Write appends a fragment to the transcript. Write on a closed sink is a
// no-op; the engine closes the sink only after the final checkpoint.
func (s *Sink) Write(node, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frags = append(s.frags, Fragment{Node: node, Text: text})
	s.cond.Broadcast()
}

// Close marks the transcript finished. Subscribers drain what remains and
// their channels are closed.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cond.Broadcast()
}

// Len returns the number of fragments written so far.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frags)
}

// Text returns the concatenation of fragments written by the given node.
// An empty node name concatenates the whole transcript.
func (s *Sink) Text(node string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, f := range s.frags {
		if node == "" || f.Node == node {
			b.WriteString(f.Text)
		}
	}
	return b.String()
}

// Subscribe returns a channel that yields the transcript from the start,
// live as new fragments arrive. The channel is closed when the sink closes
// and the transcript is drained, or when ctx is cancelled. Cancelling ctx
// is how a caller abandons the stream; the producer is unaffected.
func (s *Sink) Subscribe(ctx context.Context) <-chan Fragment {
	out := make(chan Fragment)
	done := make(chan struct{})

	go func() {
		defer close(out)
		defer close(done)
		next := 0
		for {
			s.mu.Lock()
			for next >= len(s.frags) && !s.closed {
				if ctx.Err() != nil {
					s.mu.Unlock()
					return
				}
				s.cond.Wait()
			}
			if next >= len(s.frags) && s.closed {
				s.mu.Unlock()
				return
			}
			f := s.frags[next]
			next++
			s.mu.Unlock()

			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Wake the subscriber goroutine when the context is cancelled so it
	// does not stay parked in cond.Wait.
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()

	return out
}
