package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/logger"
)

// Defaults for the leadership lock.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultStaleAfter        = 30 * time.Second
)

// LockStore holds the single leadership record shared by every instance.
type LockStore interface {
	GetLock(ctx context.Context) (*domain.LockRecord, error)
	PutLock(ctx context.Context, rec domain.LockRecord) error
	ReleaseLock(ctx context.Context, ownerID string) (bool, error)
}

// ServiceLister lists the configured sync services.
type ServiceLister interface {
	List(ctx context.Context) ([]domain.SyncServiceConfig, error)
}

// Enqueuer accepts a background sync request.
type Enqueuer interface {
	Enqueue(serviceID string) bool
}

// AutoSyncOptions configures AutoSync.
type AutoSyncOptions struct {
	Locks    LockStore
	Services ServiceLister
	Queue    Enqueuer
	Logger   logger.Logger
	Clock    func() time.Time

	// OwnerID identifies this instance. A random id is used when empty.
	OwnerID           string
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
}

// AutoSync elects one leader among the instances sharing a LockStore and
// lets the leader schedule syncs whose interval or change delay elapsed.
//
// Heartbeats are periodic writes, not a compare-and-swap, so two instances
// may both believe they lead for up to StaleAfter. A duplicate sync is
// harmless because uploads are conditional on the remote fingerprint.
type AutoSync struct {
	locks    LockStore
	services ServiceLister
	queue    Enqueuer
	logger   logger.Logger
	now      func() time.Time

	ownerID   string
	heartbeat time.Duration
	stale     time.Duration

	// opMu serializes lock protocol steps between the ticker and callers.
	opMu sync.Mutex

	mu      sync.Mutex
	running bool
	holds   bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewAutoSync creates a stopped scheduler.
func NewAutoSync(opts AutoSyncOptions) (*AutoSync, error) {
	if opts.Locks == nil || opts.Services == nil || opts.Queue == nil {
		return nil, errors.New("scheduler: lock store, service lister and queue are required")
	}
	a := &AutoSync{
		locks:     opts.Locks,
		services:  opts.Services,
		queue:     opts.Queue,
		logger:    opts.Logger,
		now:       opts.Clock,
		ownerID:   opts.OwnerID,
		heartbeat: opts.HeartbeatInterval,
		stale:     opts.StaleAfter,
	}
	if a.logger == nil {
		a.logger = logger.NewNop()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.ownerID == "" {
		a.ownerID = uuid.NewString()
	}
	if a.heartbeat <= 0 {
		a.heartbeat = DefaultHeartbeatInterval
	}
	if a.stale <= 0 {
		a.stale = DefaultStaleAfter
	}
	return a, nil
}

// OwnerID returns the id written into the lock record.
func (a *AutoSync) OwnerID() string { return a.ownerID }

// HoldsLock reports whether this instance believes it is the leader.
func (a *AutoSync) HoldsLock() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holds
}

// Start claims the lock if possible and begins the heartbeat loop.
// Calling Start on a running scheduler is a no-op.
func (a *AutoSync) Start(ctx context.Context) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.stopCh = make(chan struct{})
	stop := a.stopCh
	a.mu.Unlock()

	a.Tick(ctx)

	ticker := time.NewTicker(a.heartbeat)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.Tick(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	a.logger.Info("auto-sync started", logger.String("owner", a.ownerID))
}

// Stop halts the loop and releases the lock if still held.
func (a *AutoSync) Stop(ctx context.Context) {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.stopCh)
	a.mu.Unlock()

	a.wg.Wait()
	a.release(ctx)
	a.logger.Info("auto-sync stopped", logger.String("owner", a.ownerID))
}

// Tick runs one heartbeat. Without the lock it only tries to claim it.
// With the lock it refreshes the heartbeat and schedules eligible services.
func (a *AutoSync) Tick(ctx context.Context) {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	if !a.HoldsLock() {
		if !a.acquire(ctx) {
			return
		}
	} else if !a.refresh(ctx) {
		return
	}

	services, err := a.services.List(ctx)
	if err != nil {
		a.logger.Error("failed to list sync services", logger.Error(err))
		return
	}
	now := a.now()
	for _, cfg := range services {
		if ShouldSync(cfg, now) && a.queue.Enqueue(cfg.ID) {
			a.logger.Debug("auto-sync scheduled", logger.String("service", cfg.ID))
		}
	}
}

// OnVisibilityChange handles the page becoming visible or hidden. On
// visible it reclaims the lock if needed and schedules every enabled
// browser-extension service, whether or not this instance leads.
func (a *AutoSync) OnVisibilityChange(ctx context.Context, visible bool) {
	if !visible {
		return
	}

	a.opMu.Lock()
	if !a.HoldsLock() {
		a.acquire(ctx)
	}
	a.opMu.Unlock()

	services, err := a.services.List(ctx)
	if err != nil {
		a.logger.Error("failed to list sync services", logger.Error(err))
		return
	}
	for _, cfg := range services {
		if cfg.Type == domain.ServiceBrowserExtension && cfg.Enabled && cfg.AutoSyncEnabled {
			a.queue.Enqueue(cfg.ID)
		}
	}
}

// OnUnload releases the lock if held.
func (a *AutoSync) OnUnload(ctx context.Context) {
	a.release(ctx)
}

// acquire claims the lock when it is absent, stale or already ours.
// Callers hold opMu.
func (a *AutoSync) acquire(ctx context.Context) bool {
	rec, err := a.locks.GetLock(ctx)
	if err != nil {
		a.logger.Warn("failed to read auto-sync lock", logger.Error(err))
		return false
	}
	now := a.now()
	if rec != nil && rec.OwnerID != a.ownerID && !rec.Stale(now, a.stale) {
		return false
	}
	if err := a.locks.PutLock(ctx, domain.LockRecord{OwnerID: a.ownerID, Heartbeat: now.UnixMilli()}); err != nil {
		a.logger.Warn("failed to claim auto-sync lock", logger.Error(err))
		return false
	}
	a.setHolds(true)
	a.logger.Info("auto-sync lock acquired", logger.String("owner", a.ownerID))
	return true
}

// refresh rewrites the heartbeat unless another instance took over.
// Callers hold opMu.
func (a *AutoSync) refresh(ctx context.Context) bool {
	rec, err := a.locks.GetLock(ctx)
	if err != nil {
		a.logger.Warn("failed to read auto-sync lock", logger.Error(err))
		return false
	}
	if rec != nil && rec.OwnerID != a.ownerID {
		a.setHolds(false)
		a.logger.Info("auto-sync lock lost", logger.String("owner", rec.OwnerID))
		return false
	}
	if err := a.locks.PutLock(ctx, domain.LockRecord{OwnerID: a.ownerID, Heartbeat: a.now().UnixMilli()}); err != nil {
		a.logger.Warn("failed to refresh auto-sync heartbeat", logger.Error(err))
		return false
	}
	return true
}

func (a *AutoSync) release(ctx context.Context) {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	if !a.HoldsLock() {
		return
	}
	a.setHolds(false)
	released, err := a.locks.ReleaseLock(ctx, a.ownerID)
	if err != nil {
		a.logger.Warn("failed to release auto-sync lock", logger.Error(err))
		return
	}
	if released {
		a.logger.Info("auto-sync lock released", logger.String("owner", a.ownerID))
	}
}

func (a *AutoSync) setHolds(v bool) {
	a.mu.Lock()
	a.holds = v
	a.mu.Unlock()
}

// ShouldSync reports whether cfg is due at now. A service is due when it
// is enabled with auto-sync on and either
//
//	(a) its interval elapsed since the last sync, unless change-triggered
//	    sync is on and the last edit is still inside the delay window, or
//	(b) change-triggered sync is on and both the last edit and the last
//	    sync are older than the delay.
//
// A non-positive interval disables rule (a).
func ShouldSync(cfg domain.SyncServiceConfig, now time.Time) bool {
	if !cfg.Enabled || !cfg.AutoSyncEnabled {
		return false
	}

	nowMs := now.UnixMilli()
	sinceSync := time.Duration(nowMs-cfg.LastSyncTimestamp) * time.Millisecond
	sinceChange := time.Duration(nowMs-cfg.LastDataChangeTimestamp) * time.Millisecond
	delay := cfg.DelayOnChanges()

	if interval := cfg.Interval(); interval > 0 && sinceSync >= interval {
		settling := cfg.AutoSyncOnChanges && delay > 0 &&
			cfg.LastDataChangeTimestamp > 0 && sinceChange < delay
		if !settling {
			return true
		}
	}

	return cfg.AutoSyncOnChanges && cfg.LastDataChangeTimestamp > 0 &&
		sinceChange > delay && sinceSync > delay
}
