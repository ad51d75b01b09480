package checkpoint

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loomlabs/loom/graph"
	"github.com/loomlabs/loom/types"
)

// storeFactories builds each backend against the same conformance suite.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore(zap.NewNop())
		},
		"redis": func(t *testing.T) Store {
			mr, err := miniredis.Run()
			require.NoError(t, err)
			t.Cleanup(mr.Close)
			s, err := NewRedisStore(RedisConfig{Addr: mr.Addr()}, zap.NewNop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(SQLiteConfig{Path: t.TempDir() + "/cp.db"}, zap.NewNop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func mkcp(thread string, seq uint64, node string) *Checkpoint {
	return New(thread, seq, node, graph.State{"scope": "demo", "messages": []any{}}, nil)
}

func TestStoreConformance(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			t.Run("latest on empty thread", func(t *testing.T) {
				_, err := store.Latest(ctx, "missing")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("sequence contract", func(t *testing.T) {
				require.NoError(t, store.Save(ctx, mkcp("t1", 1, "a")))
				require.NoError(t, store.Save(ctx, mkcp("t1", 2, "b")))

				err := store.Save(ctx, mkcp("t1", 4, "c"))
				require.Error(t, err, "gaps must be rejected")
				assert.Equal(t, types.ErrSequenceConflict, types.CodeOf(err))

				err = store.Save(ctx, mkcp("t1", 2, "b"))
				require.Error(t, err, "replays must be rejected")
				assert.Equal(t, types.ErrSequenceConflict, types.CodeOf(err))

				err = store.Save(ctx, mkcp("t2", 2, "a"))
				require.Error(t, err, "first checkpoint of a thread has seq 1")
			})

			t.Run("latest is highest seq", func(t *testing.T) {
				cp, err := store.Latest(ctx, "t1")
				require.NoError(t, err)
				assert.Equal(t, uint64(2), cp.Seq)
				assert.Equal(t, "b", cp.NodePointer)
			})

			t.Run("threads are independent", func(t *testing.T) {
				require.NoError(t, store.Save(ctx, mkcp("other", 1, "a")))
				cp, err := store.Latest(ctx, "t1")
				require.NoError(t, err)
				assert.Equal(t, uint64(2), cp.Seq)
			})

			t.Run("history is ordered", func(t *testing.T) {
				hist, err := store.History(ctx, "t1")
				require.NoError(t, err)
				require.Len(t, hist, 2)
				assert.Equal(t, uint64(1), hist[0].Seq)
				assert.Equal(t, uint64(2), hist[1].Seq)
			})

			t.Run("interrupt round trip", func(t *testing.T) {
				cp := New("intr", 1, "await_user",
					graph.State{"messages": []any{"batch"}},
					&graph.Interrupt{Field: "latest_user_message", Prompt: "feedback?"})
				require.NoError(t, store.Save(ctx, cp))

				loaded, err := store.Latest(ctx, "intr")
				require.NoError(t, err)
				assert.True(t, loaded.PendingInterrupt)
				require.NotNil(t, loaded.Interrupt)
				assert.Equal(t, "latest_user_message", loaded.Interrupt.Field)
				assert.Equal(t, types.StatusSuspended, loaded.Status())
			})

			t.Run("delete discards the log", func(t *testing.T) {
				require.NoError(t, store.Delete(ctx, "t1"))
				_, err := store.Latest(ctx, "t1")
				assert.ErrorIs(t, err, ErrNotFound)

				// After delete the thread starts over at seq 1.
				assert.NoError(t, store.Save(ctx, mkcp("t1", 1, "a")))
			})
		})
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	cp := mkcp("iso", 1, "a")
	require.NoError(t, store.Save(ctx, cp))

	// Mutating the caller's copy after save must not affect the store.
	cp.State["scope"] = "mutated"

	loaded, err := store.Latest(ctx, "iso")
	require.NoError(t, err)
	assert.Equal(t, "demo", loaded.State["scope"])

	// Mutating a loaded copy must not affect later loads.
	loaded.State["scope"] = "mutated again"
	again, err := store.Latest(ctx, "iso")
	require.NoError(t, err)
	assert.Equal(t, "demo", again.State["scope"])
}

func TestCheckpointStatus(t *testing.T) {
	assert.Equal(t, types.StatusNotFound, (*Checkpoint)(nil).Status())
	assert.Equal(t, types.StatusInProgress, mkcp("t", 1, "a").Status())
	assert.Equal(t, types.StatusCompleted, mkcp("t", 1, graph.END).Status())

	susp := New("t", 1, "await_user", graph.State{}, &graph.Interrupt{Field: "f"})
	assert.Equal(t, types.StatusSuspended, susp.Status())
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/cp.db"

	s1, err := NewSQLiteStore(SQLiteConfig{Path: path}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s1.Save(ctx, mkcp("t1", 1, "a")))
	require.NoError(t, s1.Save(ctx, mkcp("t1", 2, "b")))
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(SQLiteConfig{Path: path}, zap.NewNop())
	require.NoError(t, err)
	defer s2.Close()

	cp, err := s2.Latest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cp.Seq, "highest surviving seq stays authoritative across restart")

	// The sequence continues where it left off, without reuse.
	require.NoError(t, s2.Save(ctx, mkcp("t1", 3, "c")))
	err = s2.Save(ctx, mkcp("t1", 3, "c"))
	assert.Error(t, err)
}
