// Package store keeps the in-memory index authoritative and mirrors every
// write to a durable backend on a best-effort basis.
package store

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/linktags/internal/commands"
	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/index"
	"github.com/MrSnakeDoc/linktags/internal/logger"
)

// Backend is the durable copy, implemented by the Redis store.
type Backend interface {
	PersistBookmarks(ctx context.Context, pairs []domain.BookmarkKeyValuePair) error
	ReplaceBookmarks(ctx context.Context, bookmarks domain.Collection) error
	SaveHistory(ctx context.Context, record commands.HistoryRecord) error
	SaveService(ctx context.Context, service domain.SyncServiceConfig) error
	SaveServicesMany(ctx context.Context, services []domain.SyncServiceConfig) error
	DeleteService(ctx context.Context, id string) error
}

// Store serves reads from the memory index. Writes land in memory first
// and are then copied to the backend; backend failures are logged, not
// returned.
type Store struct {
	index   *index.MemoryIndex
	backend Backend
	logger  logger.Logger
}

// New creates a store. backend may be nil for a memory-only setup.
func New(idx *index.MemoryIndex, backend Backend, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{index: idx, backend: backend, logger: log}
}

// Index exposes the memory index.
func (s *Store) Index() *index.MemoryIndex { return s.index }

func (s *Store) mirror(op string, fn func(Backend) error) {
	if s.backend == nil {
		return
	}
	if err := fn(s.backend); err != nil {
		s.logger.Warn("failed to mirror write to backend",
			logger.String("op", op),
			logger.Error(err))
	}
}

// ResolveBookmarks returns copies of the entries for urls.
func (s *Store) ResolveBookmarks(ctx context.Context, urls []string) ([]domain.BookmarkKeyValuePair, error) {
	return s.index.ResolveBookmarks(ctx, urls)
}

// PersistBookmarks applies a batch. A nil entry deletes the URL.
func (s *Store) PersistBookmarks(ctx context.Context, pairs []domain.BookmarkKeyValuePair) error {
	if err := s.index.PersistBookmarks(ctx, pairs); err != nil {
		return err
	}
	s.mirror("persist_bookmarks", func(b Backend) error { return b.PersistBookmarks(ctx, pairs) })
	return nil
}

// Snapshot returns a copy of every bookmark.
func (s *Store) Snapshot(ctx context.Context) (domain.Collection, error) {
	return s.index.Snapshot(ctx)
}

// Replace swaps the whole collection.
func (s *Store) Replace(ctx context.Context, bookmarks domain.Collection) error {
	if err := s.index.Replace(ctx, bookmarks); err != nil {
		return err
	}
	s.mirror("replace_bookmarks", func(b Backend) error { return b.ReplaceBookmarks(ctx, bookmarks) })
	return nil
}

// ReplaceIfUnchanged swaps the whole collection unless a bookmark was
// written after rev.
func (s *Store) ReplaceIfUnchanged(ctx context.Context, bookmarks domain.Collection, rev uint64) error {
	if err := s.index.ReplaceIfUnchanged(ctx, bookmarks, rev); err != nil {
		return err
	}
	s.mirror("replace_bookmarks", func(b Backend) error { return b.ReplaceBookmarks(ctx, bookmarks) })
	return nil
}

// Revision returns the bookmark revision of the memory index.
func (s *Store) Revision() uint64 { return s.index.Revision() }

// SaveHistory stores the command history record.
func (s *Store) SaveHistory(ctx context.Context, record commands.HistoryRecord) error {
	if err := s.index.SaveHistory(ctx, record); err != nil {
		return err
	}
	s.mirror("save_history", func(b Backend) error { return b.SaveHistory(ctx, record) })
	return nil
}

// Get retrieves a service by ID.
func (s *Store) Get(ctx context.Context, id string) (domain.SyncServiceConfig, error) {
	return s.index.Get(ctx, id)
}

// List returns all services ordered by ID.
func (s *Store) List(ctx context.Context) ([]domain.SyncServiceConfig, error) {
	return s.index.List(ctx)
}

// Save adds or updates a single service.
func (s *Store) Save(ctx context.Context, cfg domain.SyncServiceConfig) error {
	if err := s.index.Save(ctx, cfg); err != nil {
		return err
	}
	s.mirror("save_service", func(b Backend) error { return b.SaveService(ctx, cfg) })
	return nil
}

// MarkSynced records a successful sync for one service.
func (s *Store) MarkSynced(ctx context.Context, id string, at int64, meta *domain.SyncMetadata) error {
	if err := s.index.MarkSynced(ctx, id, at, meta); err != nil {
		return err
	}
	s.mirror("mark_synced", func(b Backend) error {
		cfg, err := s.index.Get(ctx, id)
		if err != nil {
			return err
		}
		return b.SaveService(ctx, cfg)
	})
	return nil
}

// MarkDataChanged stamps every service with the time of a local edit.
func (s *Store) MarkDataChanged(ctx context.Context, at int64) error {
	if err := s.index.MarkDataChanged(ctx, at); err != nil {
		return err
	}
	s.mirror("mark_data_changed", func(b Backend) error {
		services, err := s.index.List(ctx)
		if err != nil {
			return err
		}
		return b.SaveServicesMany(ctx, services)
	})
	return nil
}

// UpdateServices replaces every service.
func (s *Store) UpdateServices(ctx context.Context, services []domain.SyncServiceConfig) {
	s.index.UpdateServices(services)
	s.mirror("save_services", func(b Backend) error { return b.SaveServicesMany(ctx, services) })
}

// DeleteService removes a service.
func (s *Store) DeleteService(ctx context.Context, id string) error {
	if err := s.index.DeleteService(ctx, id); err != nil {
		return err
	}
	s.mirror("delete_service", func(b Backend) error { return b.DeleteService(ctx, id) })
	return nil
}

// GetLastReload returns the time services were last replaced.
func (s *Store) GetLastReload() time.Time {
	return s.index.GetLastReload()
}
