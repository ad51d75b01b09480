package checkpoint

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/loomlabs/loom/types"
)

// MemoryStore keeps checkpoint logs in process memory. It satisfies the
// durability contract for single-process deployments; records are deep
// copied on save and load so callers never alias store internals.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]*Checkpoint
	logger  *zap.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		threads: make(map[string][]*Checkpoint),
		logger:  logger.With(zap.String("component", "checkpoint_memory")),
	}
}

func (s *MemoryStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}
	stored, err := cp.Clone()
	if err != nil {
		return types.NewError(types.ErrPersistence, "checkpoint not serializable").WithCause(err).WithRetryable(false)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.threads[cp.ThreadID]
	want := uint64(1)
	if n := len(log); n > 0 {
		want = log[n-1].Seq + 1
	}
	if cp.Seq != want {
		return seqConflict(cp.ThreadID, cp.Seq, want)
	}

	s.threads[cp.ThreadID] = append(log, stored)
	s.logger.Debug("checkpoint saved",
		zap.String("thread_id", cp.ThreadID),
		zap.Uint64("seq", cp.Seq),
		zap.String("node", cp.NodePointer),
	)
	return nil
}

func (s *MemoryStore) Latest(ctx context.Context, threadID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.threads[threadID]
	if len(log) == 0 {
		return nil, ErrNotFound
	}
	return log[len(log)-1].Clone()
}

func (s *MemoryStore) History(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.threads[threadID]
	out := make([]*Checkpoint, 0, len(log))
	for _, cp := range log {
		c, err := cp.Clone()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
