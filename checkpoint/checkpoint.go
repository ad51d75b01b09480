// Package checkpoint defines the durable per-thread execution log and its
// storage backends. A checkpoint is written after every node completes or
// suspends; the record with the highest sequence number is authoritative.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loomlabs/loom/graph"
	"github.com/loomlabs/loom/types"
)

// Checkpoint is an immutable snapshot of a thread's state and position.
type Checkpoint struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	// Seq increases strictly monotonically per thread, starting at 1.
	Seq uint64 `json:"seq"`
	// NodePointer is the node to execute next, or graph.END when the
	// thread completed. With PendingInterrupt set it names the suspended
	// node, which resume re-enters.
	NodePointer      string           `json:"node_pointer"`
	State            graph.State      `json:"state"`
	PendingInterrupt bool             `json:"pending_interrupt"`
	Interrupt        *graph.Interrupt `json:"interrupt,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// New creates a checkpoint record for the given thread position.
func New(threadID string, seq uint64, nodePointer string, st graph.State, intr *graph.Interrupt) *Checkpoint {
	return &Checkpoint{
		ID:               uuid.New().String(),
		ThreadID:         threadID,
		Seq:              seq,
		NodePointer:      nodePointer,
		State:            st,
		PendingInterrupt: intr != nil,
		Interrupt:        intr,
		CreatedAt:        time.Now().UTC(),
	}
}

// Status derives the externally visible thread status from the checkpoint.
func (c *Checkpoint) Status() types.ThreadStatus {
	switch {
	case c == nil:
		return types.StatusNotFound
	case c.PendingInterrupt:
		return types.StatusSuspended
	case c.NodePointer == graph.END:
		return types.StatusCompleted
	default:
		return types.StatusInProgress
	}
}

// Clone returns a deep copy decoupled from the store's internal record.
func (c *Checkpoint) Clone() (*Checkpoint, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	var out Checkpoint
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &out, nil
}

// ErrNotFound is returned by Latest when a thread has no checkpoints.
var ErrNotFound = types.NewError(types.ErrThreadNotFound, "no checkpoints for thread")

// Store is the durability boundary of the engine. Save must be atomic: a
// checkpoint becomes visible wholly or not at all. Once Save returns nil,
// a process restart can resume from exactly that record.
//
// Save enforces the per-thread sequence contract: the first checkpoint of a
// thread has Seq 1, and every subsequent Save must carry exactly
// latest.Seq+1. Anything else is a SEQUENCE_CONFLICT, which keeps a retried
// engine loop from forking authority after a partial failure.
type Store interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)
	History(ctx context.Context, threadID string) ([]*Checkpoint, error)
	// Delete discards a thread's entire log. Threads are never deleted
	// implicitly; this exists for explicit caller-driven teardown.
	Delete(ctx context.Context, threadID string) error
	Close() error
}

func seqConflict(threadID string, got, want uint64) error {
	return types.NewError(types.ErrSequenceConflict,
		fmt.Sprintf("thread %s: checkpoint seq %d, want %d", threadID, got, want))
}

func validate(cp *Checkpoint) error {
	if cp == nil {
		return types.NewError(types.ErrPersistence, "nil checkpoint")
	}
	if cp.ThreadID == "" {
		return types.NewError(types.ErrPersistence, "checkpoint without thread id")
	}
	if cp.Seq == 0 {
		return types.NewError(types.ErrPersistence, "checkpoint seq must start at 1")
	}
	if cp.NodePointer == "" {
		return types.NewError(types.ErrPersistence, "checkpoint without node pointer")
	}
	return nil
}
