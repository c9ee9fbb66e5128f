package scheduler

import (
	"context"

	"github.com/MrSnakeDoc/linktags/internal/commands"
	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/index"
	"github.com/MrSnakeDoc/linktags/internal/logger"
)

// Snapshotter is the durable copy read back on startup.
type Snapshotter interface {
	GetAllServices(ctx context.Context) ([]domain.SyncServiceConfig, error)
	GetAllBookmarks(ctx context.Context) (domain.Collection, error)
	GetHistory(ctx context.Context) (commands.HistoryRecord, bool, error)
}

// RedisSyncer syncs services and bookmarks from Redis to memory index on startup
type RedisSyncer struct {
	store  Snapshotter
	index  *index.MemoryIndex
	logger logger.Logger
}

// NewRedisSyncer creates a new Redis syncer
func NewRedisSyncer(
	store Snapshotter,
	idx *index.MemoryIndex,
	log logger.Logger,
) *RedisSyncer {
	return &RedisSyncer{
		store:  store,
		index:  idx,
		logger: log,
	}
}

// Sync loads services and bookmarks from Redis and updates memory index
func (rs *RedisSyncer) Sync(ctx context.Context) error {
	rs.logger.Info("syncing state from redis to memory")

	services, err := rs.store.GetAllServices(ctx)
	if err != nil {
		return err
	}

	bookmarks, err := rs.store.GetAllBookmarks(ctx)
	if err != nil {
		return err
	}

	if len(services) > 0 {
		rs.index.UpdateServices(services)
	}
	if err := rs.index.Replace(ctx, bookmarks); err != nil {
		return err
	}

	// The record is informational only: commands cannot be rebuilt from it,
	// so undo starts empty after a restart.
	record, ok, err := rs.store.GetHistory(ctx)
	if err != nil {
		rs.logger.Warn("failed to restore command history", logger.Error(err))
	} else if ok {
		_ = rs.index.SaveHistory(ctx, record)
	}

	rs.logger.Info("synced state from redis",
		logger.Int("services", len(services)),
		logger.Int("bookmarks", len(bookmarks)),
		logger.Bool("history", ok))

	return nil
}
