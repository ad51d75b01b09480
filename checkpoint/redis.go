package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/loomlabs/loom/types"
)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RedisStore persists each thread's checkpoint log as a Redis list of JSON
// records. Suitable for multi-process deployments: the log survives engine
// restarts and the sequence contract is enforced with an optimistic
// WATCH transaction on the list key.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to connect to redis").WithCause(err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "loom:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: prefix + "cp:",
		logger:    logger.With(zap.String("component", "checkpoint_redis")),
	}, nil
}

func (s *RedisStore) key(threadID string) string {
	return s.keyPrefix + threadID
}

func (s *RedisStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return types.NewError(types.ErrPersistence, "checkpoint not serializable").WithCause(err)
	}

	key := s.key(cp.ThreadID)
	txn := func(tx *redis.Tx) error {
		want := uint64(1)
		last, err := tx.LIndex(ctx, key, -1).Result()
		switch {
		case err == nil:
			var prev Checkpoint
			if err := json.Unmarshal([]byte(last), &prev); err != nil {
				return types.NewError(types.ErrPersistence, "corrupt checkpoint record").WithCause(err)
			}
			want = prev.Seq + 1
		case errors.Is(err, redis.Nil):
			// Empty log, first checkpoint.
		default:
			return types.NewError(types.ErrPersistence, "failed to read checkpoint log").WithCause(err).WithRetryable(true)
		}

		if cp.Seq != want {
			return seqConflict(cp.ThreadID, cp.Seq, want)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, data)
			return nil
		})
		return err
	}

	if err := s.client.Watch(ctx, txn, key); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			// The log moved under us: per-thread serialization in the
			// engine makes this a caller contract violation, not a race
			// to retry.
			return seqConflict(cp.ThreadID, cp.Seq, 0)
		}
		if types.CodeOf(err) != "" {
			return err
		}
		return types.NewError(types.ErrPersistence, "checkpoint save failed").WithCause(err).WithRetryable(true)
	}

	s.logger.Debug("checkpoint saved",
		zap.String("thread_id", cp.ThreadID),
		zap.Uint64("seq", cp.Seq),
		zap.String("node", cp.NodePointer),
	)
	return nil
}

func (s *RedisStore) Latest(ctx context.Context, threadID string) (*Checkpoint, error) {
	last, err := s.client.LIndex(ctx, s.key(threadID), -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to load checkpoint").WithCause(err).WithRetryable(true)
	}
	var cp Checkpoint
	if err := json.Unmarshal([]byte(last), &cp); err != nil {
		return nil, types.NewError(types.ErrPersistence, "corrupt checkpoint record").WithCause(err)
	}
	return &cp, nil
}

func (s *RedisStore) History(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	raw, err := s.client.LRange(ctx, s.key(threadID), 0, -1).Result()
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to load checkpoint log").WithCause(err).WithRetryable(true)
	}
	out := make([]*Checkpoint, 0, len(raw))
	for i, item := range raw {
		var cp Checkpoint
		if err := json.Unmarshal([]byte(item), &cp); err != nil {
			return nil, types.NewError(types.ErrPersistence,
				fmt.Sprintf("corrupt checkpoint record at index %d", i)).WithCause(err)
		}
		out = append(out, &cp)
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, s.key(threadID)).Err(); err != nil {
		return types.NewError(types.ErrPersistence, "failed to delete checkpoint log").WithCause(err).WithRetryable(true)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
