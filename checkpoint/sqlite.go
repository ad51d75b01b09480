package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/loomlabs/loom/types"
)

// SQLiteConfig configures the SQLite-backed store.
type SQLiteConfig struct {
	// Path is the database file; ":memory:" keeps it in memory.
	Path string `yaml:"path"`
}

// checkpointRecord is the persisted row. The full checkpoint is stored as a
// JSON payload; thread_id and seq are lifted out for indexed lookup and a
// unique index guards the sequence contract at the database level.
type checkpointRecord struct {
	ID          string `gorm:"primaryKey;size:36"`
	ThreadID    string `gorm:"uniqueIndex:idx_thread_seq;size:191;not null"`
	Seq         uint64 `gorm:"uniqueIndex:idx_thread_seq;not null"`
	NodePointer string `gorm:"size:191;not null"`
	Payload     []byte `gorm:"not null"`
	CreatedAt   time.Time
}

func (checkpointRecord) TableName() string { return "loom_checkpoints" }

// SQLiteStore persists checkpoint logs in a single SQLite file via gorm.
// A crash-tolerant single-node deployment without extra infrastructure.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (and migrates) the database at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := cfg.Path
	if path == "" {
		path = "loom.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to open sqlite database").WithCause(err)
	}
	if err := db.AutoMigrate(&checkpointRecord{}); err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to migrate checkpoint table").WithCause(err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With(zap.String("component", "checkpoint_sqlite")),
	}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return types.NewError(types.ErrPersistence, "checkpoint not serializable").WithCause(err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq uint64
		row := tx.Model(&checkpointRecord{}).
			Where("thread_id = ?", cp.ThreadID).
			Select("COALESCE(MAX(seq), 0)").
			Row()
		if err := row.Scan(&maxSeq); err != nil {
			return types.NewError(types.ErrPersistence, "failed to read checkpoint log").WithCause(err).WithRetryable(true)
		}
		if cp.Seq != maxSeq+1 {
			return seqConflict(cp.ThreadID, cp.Seq, maxSeq+1)
		}
		rec := checkpointRecord{
			ID:          cp.ID,
			ThreadID:    cp.ThreadID,
			Seq:         cp.Seq,
			NodePointer: cp.NodePointer,
			Payload:     payload,
			CreatedAt:   cp.CreatedAt,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return types.NewError(types.ErrPersistence, "checkpoint save failed").WithCause(err).WithRetryable(true)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("checkpoint saved",
		zap.String("thread_id", cp.ThreadID),
		zap.Uint64("seq", cp.Seq),
		zap.String("node", cp.NodePointer),
	)
	return nil
}

func (s *SQLiteStore) Latest(ctx context.Context, threadID string) (*Checkpoint, error) {
	var rec checkpointRecord
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("seq DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to load checkpoint").WithCause(err).WithRetryable(true)
	}
	return decodeRecord(&rec)
}

func (s *SQLiteStore) History(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	var recs []checkpointRecord
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("seq ASC").
		Find(&recs).Error
	if err != nil {
		return nil, types.NewError(types.ErrPersistence, "failed to load checkpoint log").WithCause(err).WithRetryable(true)
	}
	out := make([]*Checkpoint, 0, len(recs))
	for i := range recs {
		cp, err := decodeRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Delete(&checkpointRecord{}).Error
	if err != nil {
		return types.NewError(types.ErrPersistence, "failed to delete checkpoint log").WithCause(err).WithRetryable(true)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func decodeRecord(rec *checkpointRecord) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(rec.Payload, &cp); err != nil {
		return nil, types.NewError(types.ErrPersistence, "corrupt checkpoint record").WithCause(err)
	}
	return &cp, nil
}
