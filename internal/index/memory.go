package index

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/MrSnakeDoc/linktags/internal/commands"
	"github.com/MrSnakeDoc/linktags/internal/domain"
)

// MemoryIndex provides in-memory storage for bookmarks, sync services and
// the command history. It acts as a fallback when Redis is unavailable.
type MemoryIndex struct {
	mu         sync.RWMutex
	bookmarks  domain.Collection                   // URL -> entry
	revision   uint64                              // bumped on every bookmark write
	services   map[string]domain.SyncServiceConfig // ID -> config
	history    *commands.HistoryRecord
	lastReload time.Time // Timestamp of last services reload
}

// NewMemoryIndex creates a new memory index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		bookmarks: make(domain.Collection),
		services:  make(map[string]domain.SyncServiceConfig),
	}
}

// ─────────────────────────────────────────────────────────────────
// Bookmark methods
// ─────────────────────────────────────────────────────────────────

// ResolveBookmarks returns copies of the entries for urls. Unknown URLs
// are omitted.
func (idx *MemoryIndex) ResolveBookmarks(_ context.Context, urls []string) ([]domain.BookmarkKeyValuePair, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	pairs := make([]domain.BookmarkKeyValuePair, 0, len(urls))
	for _, url := range urls {
		if e, ok := idx.bookmarks[url]; ok {
			pairs = append(pairs, domain.BookmarkKeyValuePair{URL: url, Entry: e.Clone()})
		}
	}
	return pairs, nil
}

// PersistBookmarks applies a batch. A nil entry deletes the URL.
func (idx *MemoryIndex) PersistBookmarks(_ context.Context, pairs []domain.BookmarkKeyValuePair) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, p := range pairs {
		if p.Entry == nil {
			delete(idx.bookmarks, p.URL)
			continue
		}
		idx.bookmarks[p.URL] = p.Entry.Clone()
	}
	idx.revision++
	return nil
}

// Snapshot returns a copy of every bookmark.
func (idx *MemoryIndex) Snapshot(_ context.Context) (domain.Collection, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.bookmarks.Clone(), nil
}

// Replace swaps the whole collection.
func (idx *MemoryIndex) Replace(_ context.Context, bookmarks domain.Collection) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.replaceLocked(bookmarks)
	return nil
}

// ReplaceIfUnchanged swaps the whole collection only if no bookmark was
// written since rev was read. Otherwise it returns domain.ErrStaleRevision.
func (idx *MemoryIndex) ReplaceIfUnchanged(_ context.Context, bookmarks domain.Collection, rev uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.revision != rev {
		return domain.ErrStaleRevision
	}
	idx.replaceLocked(bookmarks)
	return nil
}

func (idx *MemoryIndex) replaceLocked(bookmarks domain.Collection) {
	idx.bookmarks = bookmarks.Clone()
	if idx.bookmarks == nil {
		idx.bookmarks = make(domain.Collection)
	}
	idx.revision++
}

// Revision increases with every bookmark write.
func (idx *MemoryIndex) Revision() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.revision
}

// BookmarkCount returns the number of bookmarks in the index
func (idx *MemoryIndex) BookmarkCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.bookmarks)
}

// ─────────────────────────────────────────────────────────────────
// History methods
// ─────────────────────────────────────────────────────────────────

// SaveHistory stores the command history record.
func (idx *MemoryIndex) SaveHistory(_ context.Context, record commands.HistoryRecord) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	record.Entries = slices.Clone(record.Entries)
	idx.history = &record
	return nil
}

// History returns the last stored record.
func (idx *MemoryIndex) History() (commands.HistoryRecord, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.history == nil {
		return commands.HistoryRecord{}, false
	}
	return *idx.history, true
}

// ─────────────────────────────────────────────────────────────────
// Sync service methods
// ─────────────────────────────────────────────────────────────────

// UpdateServices replaces all services in the index
func (idx *MemoryIndex) UpdateServices(services []domain.SyncServiceConfig) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	// Clear and rebuild
	idx.services = make(map[string]domain.SyncServiceConfig, len(services))
	for _, svc := range services {
		idx.services[svc.ID] = cloneConfig(svc)
	}
	idx.lastReload = time.Now()
}

// Get retrieves a service by ID
func (idx *MemoryIndex) Get(_ context.Context, id string) (domain.SyncServiceConfig, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	svc, ok := idx.services[id]
	if !ok {
		return domain.SyncServiceConfig{}, domain.ErrServiceNotFound
	}
	return cloneConfig(svc), nil
}

// List returns all services ordered by ID
func (idx *MemoryIndex) List(_ context.Context) ([]domain.SyncServiceConfig, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	services := make([]domain.SyncServiceConfig, 0, len(idx.services))
	for _, svc := range idx.services {
		services = append(services, cloneConfig(svc))
	}
	sort.Slice(services, func(i, j int) bool { return services[i].ID < services[j].ID })
	return services, nil
}

// Save adds or updates a single service
func (idx *MemoryIndex) Save(_ context.Context, cfg domain.SyncServiceConfig) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.services[cfg.ID] = cloneConfig(cfg)
	return nil
}

// DeleteService removes a service. Unknown ids are ignored.
func (idx *MemoryIndex) DeleteService(_ context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.services, id)
	return nil
}

// MarkSynced records a successful sync for one service.
func (idx *MemoryIndex) MarkSynced(_ context.Context, id string, at int64, meta *domain.SyncMetadata) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	svc, ok := idx.services[id]
	if !ok {
		return domain.ErrServiceNotFound
	}
	svc.LastSyncTimestamp = at
	svc.LastSyncMeta = meta.Clone()
	idx.services[id] = svc
	return nil
}

// MarkDataChanged stamps every service with the time of a local edit.
func (idx *MemoryIndex) MarkDataChanged(_ context.Context, at int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for id, svc := range idx.services {
		svc.LastDataChangeTimestamp = at
		idx.services[id] = svc
	}
	return nil
}

// Count returns the number of services in the index
func (idx *MemoryIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.services)
}

// GetLastReload returns the timestamp of the last services reload
func (idx *MemoryIndex) GetLastReload() time.Time {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.lastReload
}

func cloneConfig(cfg domain.SyncServiceConfig) domain.SyncServiceConfig {
	cfg.LastSyncMeta = cfg.LastSyncMeta.Clone()
	return cfg
}
