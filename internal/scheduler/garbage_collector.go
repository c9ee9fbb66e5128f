package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/logger"
)

const (
	// DefaultGCThreshold is the duration after which removed services are deleted
	DefaultGCThreshold = 30 * 24 * time.Hour // 30 days
)

// ServiceRemover lists and deletes service configurations.
type ServiceRemover interface {
	List(ctx context.Context) ([]domain.SyncServiceConfig, error)
	DeleteService(ctx context.Context, id string) error
}

// GarbageCollector handles cleanup of services removed from the services
// file. Their sync state is kept for a while so that re-adding a service
// resumes from its last fingerprint.
type GarbageCollector struct {
	store     ServiceRemover
	logger    logger.Logger
	interval  time.Duration
	threshold time.Duration
	now       func() time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewGarbageCollector creates a new garbage collector
func NewGarbageCollector(
	store ServiceRemover,
	log logger.Logger,
	interval time.Duration,
	threshold time.Duration,
) *GarbageCollector {
	if threshold == 0 {
		threshold = DefaultGCThreshold
	}

	return &GarbageCollector{
		store:     store,
		logger:    log,
		interval:  interval,
		threshold: threshold,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic garbage collection process
func (gc *GarbageCollector) Start(ctx context.Context) error {
	// Run immediately on start
	if _, err := gc.Collect(ctx); err != nil {
		gc.logger.Warn("initial garbage collection failed",
			logger.Error(err))
	}

	// Start periodic collection
	ticker := time.NewTicker(gc.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := gc.Collect(ctx); err != nil {
					gc.logger.Error("garbage collection failed",
						logger.Error(err))
				}
			case <-gc.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the garbage collector
func (gc *GarbageCollector) Stop() {
	gc.stopOnce.Do(func() { close(gc.stopCh) })
}

// Collect deletes services removed for longer than the threshold and
// returns how many were deleted
func (gc *GarbageCollector) Collect(ctx context.Context) (int, error) {
	gc.logger.Debug("running garbage collection for removed services")

	services, err := gc.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list services: %w", err)
	}

	now := gc.now()
	deletedCount := 0
	for _, service := range services {
		// Only collect services removed from the file
		if service.RemovedAt == 0 {
			continue
		}

		removedFor := now.Sub(time.UnixMilli(service.RemovedAt))
		if removedFor < gc.threshold {
			continue
		}

		if err := gc.store.DeleteService(ctx, service.ID); err != nil {
			gc.logger.Warn("failed to delete service",
				logger.String("service_id", service.ID),
				logger.Error(err))
			continue
		}

		gc.logger.Info("garbage collected removed service",
			logger.String("service_id", service.ID),
			logger.String("removed_for", removedFor.String()))

		deletedCount++
	}

	if deletedCount > 0 {
		gc.logger.Info("garbage collection completed",
			logger.Int("services_deleted", deletedCount))
	} else {
		gc.logger.Debug("no services to garbage collect")
	}

	return deletedCount, nil
}
