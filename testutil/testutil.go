// Package testutil provides scripted capability implementations and
// helpers shared by tests across the module.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/loomlabs/loom/provider"
)

// ScriptedRunner replays canned completions in order and records every
// request it receives. When the script runs out it repeats the last
// entry, so loops in a workflow keep producing output.
type ScriptedRunner struct {
	mu       sync.Mutex
	script   []string
	errs     []error
	calls    int
	Requests []provider.Request

	// ChunkSize splits streamed completions into deltas of this many
	// bytes. Zero streams the whole completion as a single chunk.
	ChunkSize int
}

// NewScriptedRunner returns a runner that yields the given completions
// in order.
func NewScriptedRunner(script ...string) *ScriptedRunner {
	return &ScriptedRunner{script: script}
}

// FailWith queues errors returned before the script is consulted. Each
// error is returned once, in order.
func (r *ScriptedRunner) FailWith(errs ...error) *ScriptedRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, errs...)
	return r
}

// Calls reports how many Run/Stream invocations were made.
func (r *ScriptedRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *ScriptedRunner) next(req provider.Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.Requests = append(r.Requests, req)

	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return "", err
	}
	if len(r.script) == 0 {
		return "", nil
	}
	idx := r.calls - 1
	if idx >= len(r.script) {
		idx = len(r.script) - 1
	}
	return r.script[idx], nil
}

func (r *ScriptedRunner) Run(ctx context.Context, req provider.Request) (*provider.Completion, error) {
	text, err := r.next(req)
	if err != nil {
		return nil, err
	}
	return &provider.Completion{Text: text}, nil
}

func (r *ScriptedRunner) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	text, err := r.next(req)
	if err != nil {
		return nil, err
	}

	size := r.ChunkSize
	if size <= 0 {
		size = len(text)
	}
	ch := make(chan provider.Chunk)
	go func() {
		defer close(ch)
		for len(text) > 0 {
			n := size
			if n > len(text) {
				n = len(text)
			}
			select {
			case ch <- provider.Chunk{Delta: text[:n]}:
			case <-ctx.Done():
				return
			}
			text = text[n:]
		}
		select {
		case ch <- provider.Chunk{Final: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// ScriptedDocLister returns a fixed page inventory.
type ScriptedDocLister struct {
	Pages []string
	Err   error
}

func (l *ScriptedDocLister) ListPages(ctx context.Context) ([]string, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	return append([]string(nil), l.Pages...), nil
}

// Drain reads a chunk stream to completion and concatenates the deltas.
func Drain(ch <-chan provider.Chunk) (string, error) {
	var sb strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return sb.String(), chunk.Err
		}
		sb.WriteString(chunk.Delta)
	}
	return sb.String(), nil
}
