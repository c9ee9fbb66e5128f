package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/logger"
	"github.com/MrSnakeDoc/linktags/internal/sources/servicesfile"
)

// ServiceStore receives the reloaded service configurations.
type ServiceStore interface {
	List(ctx context.Context) ([]domain.SyncServiceConfig, error)
	UpdateServices(ctx context.Context, services []domain.SyncServiceConfig)
}

// ServicesReloader handles reloading of the services file: on start, on
// a ticker, on manual trigger and when the file changes on disk.
type ServicesReloader struct {
	loader        *servicesfile.Loader
	mapper        *servicesfile.Mapper
	store         ServiceStore
	logger        logger.Logger
	interval      time.Duration
	now           func() time.Time
	stopCh        chan struct{}
	stopOnce      sync.Once
	manualTrigger chan struct{}
	watcher       *fsnotify.Watcher

	mu sync.Mutex // serializes Reload
}

// NewServicesReloader creates a new services reloader
func NewServicesReloader(
	serviceFile string,
	store ServiceStore,
	log logger.Logger,
	interval time.Duration,
	manualTrigger chan struct{},
) *ServicesReloader {
	return &ServicesReloader{
		loader:        servicesfile.NewLoader(serviceFile),
		mapper:        servicesfile.NewMapper(),
		store:         store,
		logger:        log,
		interval:      interval,
		now:           time.Now,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start loads the file and begins watching for changes
func (sr *ServicesReloader) Start(ctx context.Context) error {
	// Load immediately on start
	if err := sr.Reload(ctx); err != nil {
		return fmt.Errorf("initial reload failed: %w", err)
	}

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	watcher, err := sr.watch()
	if err != nil {
		sr.logger.Warn("services file watch disabled, falling back to periodic reload",
			logger.Error(err))
	} else {
		sr.watcher = watcher
		events, watchErrs = watcher.Events, watcher.Errors
	}

	ticker := time.NewTicker(sr.interval)
	go func() {
		defer ticker.Stop()
		if watcher != nil {
			defer func() { _ = watcher.Close() }()
		}
		for {
			select {
			case <-ticker.C:
				sr.reloadLogged(ctx)
			case <-sr.manualTrigger:
				sr.logger.Info("manual reload triggered")
				sr.reloadLogged(ctx)
			case ev := <-events:
				if sr.relevant(ev) {
					sr.logger.Info("services file changed", logger.String("op", ev.Op.String()))
					sr.reloadLogged(ctx)
				}
			case err := <-watchErrs:
				sr.logger.Warn("services file watcher error", logger.Error(err))
			case <-sr.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the reloader
func (sr *ServicesReloader) Stop() {
	sr.stopOnce.Do(func() { close(sr.stopCh) })
}

// Reload loads the services file and merges it into the store. Services
// missing from the file are disabled and stamped with RemovedAt.
func (sr *ServicesReloader) Reload(ctx context.Context) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	sr.logger.Info("reloading sync services", logger.String("file", sr.loader.Path()))

	file, err := sr.loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load services: %w", err)
	}

	loaded, err := sr.mapper.MapServices(file)
	if err != nil {
		return fmt.Errorf("failed to map services: %w", err)
	}

	existing, err := sr.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list services: %w", err)
	}
	current := make(map[string]domain.SyncServiceConfig, len(existing))
	for _, svc := range existing {
		current[svc.ID] = svc
	}

	merged := make([]domain.SyncServiceConfig, 0, len(loaded)+len(existing))
	seen := make(map[string]bool, len(loaded))
	for _, next := range loaded {
		seen[next.ID] = true
		svc, ok := current[next.ID]
		if !ok {
			merged = append(merged, next)
			continue
		}
		svc.ApplyEdit(next)
		merged = append(merged, svc)
	}

	removed := 0
	now := sr.now().UnixMilli()
	for _, svc := range existing {
		if seen[svc.ID] {
			continue
		}
		if svc.RemovedAt == 0 {
			svc.Enabled = false
			svc.RemovedAt = now
			removed++
		}
		merged = append(merged, svc)
	}

	if removed > 0 {
		sr.logger.Info("marking removed services as disabled",
			logger.Int("count", removed))
	}

	sr.store.UpdateServices(ctx, merged)

	sr.logger.Info("loaded sync services",
		logger.Int("count", len(loaded)))

	return nil
}

func (sr *ServicesReloader) reloadLogged(ctx context.Context) {
	if err := sr.Reload(ctx); err != nil {
		sr.logger.Error("failed to reload services", logger.Error(err))
	}
}

// watch observes the parent directory so editors that replace the file
// through a rename are still noticed.
func (sr *ServicesReloader) watch() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(sr.loader.Path())); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch services directory: %w", err)
	}
	return watcher, nil
}

func (sr *ServicesReloader) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != filepath.Clean(sr.loader.Path()) {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}
