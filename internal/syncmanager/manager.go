// Package syncmanager runs one synchronization between the local bookmark
// collection and a configured backend, and queues syncs requested by the
// scheduler.
package syncmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/logger"
	"github.com/MrSnakeDoc/linktags/internal/syncadapter"
)

// Action is what a sync did.
type Action string

const (
	ActionNone     Action = "none"
	ActionUpload   Action = "upload"
	ActionDownload Action = "download"
	ActionMerge    Action = "merge"
)

// Defaults.
const (
	DefaultMaxAttempts   = 3
	DefaultRetryInterval = 250 * time.Millisecond
	DefaultQueueSize     = 32
)

// Result describes a finished sync.
type Result struct {
	ServiceID  string               `json:"serviceId"`
	Action     Action               `json:"action"`
	RemoteMeta *domain.SyncMetadata `json:"remoteMeta,omitempty"`
	SyncedAt   int64                `json:"syncedAt"`
	Attempts   int                  `json:"attempts"`
}

// Options configures a Manager.
type Options struct {
	Configs ConfigStore
	Local   LocalStore
	Factory Factory
	Merger  *Merger
	Logger  logger.Logger
	Clock   func() time.Time

	// MaxAttempts bounds retries after precondition failures.
	MaxAttempts   uint
	RetryInterval time.Duration
	QueueSize     int

	// OnResult observes every queued sync.
	OnResult func(serviceID string, res *Result, err error)
}

// Manager synchronizes services one at a time per service id.
type Manager struct {
	configs       ConfigStore
	local         LocalStore
	factory       Factory
	merger        *Merger
	logger        logger.Logger
	now           func() time.Time
	maxAttempts   uint
	retryInterval time.Duration
	onResult      func(string, *Result, error)

	group singleflight.Group

	queue   chan string
	mu      sync.Mutex
	queued  map[string]bool
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New validates opts and creates a Manager.
func New(opts Options) (*Manager, error) {
	if opts.Configs == nil || opts.Local == nil || opts.Factory == nil {
		return nil, errors.New("syncmanager: config store, local store and factory are required")
	}
	m := &Manager{
		configs:       opts.Configs,
		local:         opts.Local,
		factory:       opts.Factory,
		merger:        opts.Merger,
		logger:        opts.Logger,
		now:           opts.Clock,
		maxAttempts:   opts.MaxAttempts,
		retryInterval: opts.RetryInterval,
		onResult:      opts.OnResult,
		queued:        make(map[string]bool),
	}
	if m.merger == nil {
		m.merger = NewMerger()
	}
	if m.logger == nil {
		m.logger = logger.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.maxAttempts == 0 {
		m.maxAttempts = DefaultMaxAttempts
	}
	if m.retryInterval <= 0 {
		m.retryInterval = DefaultRetryInterval
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	m.queue = make(chan string, size)
	return m, nil
}

// Sync synchronizes one service. Concurrent calls for the same id share
// a single run.
func (m *Manager) Sync(ctx context.Context, serviceID string) (*Result, error) {
	v, err, shared := m.group.Do(serviceID, func() (any, error) {
		return m.sync(ctx, serviceID)
	})
	if shared {
		m.logger.Debug("joined running sync", logger.String("service", serviceID))
	}
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// SyncAll synchronizes every enabled service and combines the failures.
func (m *Manager) SyncAll(ctx context.Context) ([]*Result, error) {
	services, err := m.configs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	var (
		results []*Result
		errs    error
	)
	for _, cfg := range services {
		if !cfg.Enabled {
			continue
		}
		res, err := m.Sync(ctx, cfg.ID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// NotifyDataChanged records a local edit on every service.
func (m *Manager) NotifyDataChanged(ctx context.Context) error {
	return m.configs.MarkDataChanged(ctx, m.now().UnixMilli())
}

// AuthStatus initializes a throwaway adapter for the service and asks the
// backend for its authentication state. Only lookup failures are returned;
// a configuration the adapter rejects reads as AuthRequiresConfig.
func (m *Manager) AuthStatus(ctx context.Context, serviceID string) (domain.AuthStatus, error) {
	cfg, err := m.configs.Get(ctx, serviceID)
	if err != nil {
		return domain.AuthUnknown, err
	}
	adapter, err := m.factory(cfg)
	if err != nil {
		return domain.AuthRequiresConfig, nil
	}
	defer func() {
		if err := adapter.Destroy(); err != nil {
			m.logger.Debug("failed to destroy adapter", logger.String("service", serviceID), logger.Error(err))
		}
	}()

	if err := adapter.Init(ctx, cfg); err != nil {
		if errors.Is(err, syncadapter.ErrInvalidConfig) {
			return domain.AuthRequiresConfig, nil
		}
		m.logger.Warn("auth check could not initialize adapter", logger.String("service", serviceID), logger.Error(err))
		return domain.AuthError, nil
	}
	return adapter.GetAuthStatus(ctx), nil
}

func (m *Manager) sync(ctx context.Context, serviceID string) (res *Result, err error) {
	cfg, err := m.configs.Get(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrServiceDisabled, serviceID)
	}

	adapter, err := m.factory(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, adapter.Destroy())
	}()

	if err := adapter.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize %s: %w", serviceID, err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.retryInterval

	attempts := 0
	res, err = backoff.Retry(ctx, func() (*Result, error) {
		attempts++
		r, err := m.attempt(ctx, adapter, cfg)
		if err != nil && !syncadapter.IsConflict(err) {
			return nil, backoff.Permanent(err)
		}
		return r, err
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(m.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Warn("remote changed during sync, retrying",
				logger.String("service", serviceID),
				logger.Duration("in", next),
				logger.Error(err))
		}),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if err != nil {
		return nil, fmt.Errorf("sync %s failed after %d attempt(s): %w", serviceID, attempts, err)
	}

	res.Attempts = attempts
	m.logger.Info("sync finished",
		logger.String("service", serviceID),
		logger.String("action", string(res.Action)),
		logger.Int("attempts", attempts))
	return res, nil
}

// attempt runs one comparison and the transfer it calls for:
//
//	remote missing            -> upload
//	nothing changed           -> none
//	only local changed        -> upload
//	only remote changed       -> download
//	both changed              -> merge, then upload
func (m *Manager) attempt(ctx context.Context, adapter syncadapter.Adapter, cfg domain.SyncServiceConfig) (*Result, error) {
	startedAt := m.now().UnixMilli()
	// Read before anything is fetched so a command committed while the
	// download is in flight is detected when the result is stored.
	rev := m.local.Revision()

	remoteMeta, err := adapter.GetRemoteMetadata(ctx)
	if err != nil {
		return nil, err
	}

	localChanged := cfg.LastSyncTimestamp == 0 || cfg.LastDataChangeTimestamp > cfg.LastSyncTimestamp
	remoteChanged := remoteMeta != nil && !remoteMeta.Equal(cfg.LastSyncMeta)

	var (
		action Action
		meta   *domain.SyncMetadata
	)
	switch {
	case remoteMeta == nil:
		action = ActionUpload
		meta, err = m.push(ctx, adapter, nil, startedAt)

	case !localChanged && !remoteChanged:
		action = ActionNone
		meta = remoteMeta

	case !remoteChanged:
		action = ActionUpload
		meta, err = m.push(ctx, adapter, remoteMeta, startedAt)

	case !localChanged:
		meta, action, err = m.pull(ctx, adapter, cfg, false, rev, startedAt)

	default:
		meta, action, err = m.pull(ctx, adapter, cfg, true, rev, startedAt)
	}
	if err != nil {
		return nil, err
	}

	if err := m.configs.MarkSynced(ctx, cfg.ID, startedAt, meta); err != nil {
		return nil, fmt.Errorf("failed to record sync state: %w", err)
	}
	return &Result{ServiceID: cfg.ID, Action: action, RemoteMeta: meta, SyncedAt: startedAt}, nil
}

// push uploads the local collection.
func (m *Manager) push(ctx context.Context, adapter syncadapter.Adapter, expected *domain.SyncMetadata, at int64) (*domain.SyncMetadata, error) {
	local, err := m.local.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read local bookmarks: %w", err)
	}
	return m.upload(ctx, adapter, local, expected, at)
}

// pull downloads the remote collection. Without merge it replaces the
// local one, unless a local write happened since rev; the download is then
// merged like any other concurrent change. Merged results are stored and
// uploaded back.
func (m *Manager) pull(ctx context.Context, adapter syncadapter.Adapter, cfg domain.SyncServiceConfig, merge bool, rev uint64, at int64) (*domain.SyncMetadata, Action, error) {
	dl, err := adapter.Download(ctx)
	if err != nil {
		return nil, "", err
	}
	if !dl.Exists() {
		// Removed between the probe and the download.
		return nil, "", &syncadapter.PreconditionError{Detail: "remote disappeared during download"}
	}
	remote, err := DecodeDocument(*dl.Data)
	if err != nil {
		return nil, "", err
	}

	if !merge {
		err := m.local.ReplaceIfUnchanged(ctx, remote, rev)
		if err == nil {
			return dl.RemoteMeta, ActionDownload, nil
		}
		if !errors.Is(err, domain.ErrStaleRevision) {
			return nil, "", fmt.Errorf("failed to store downloaded bookmarks: %w", err)
		}
		m.logger.Info("local bookmarks changed during download, merging",
			logger.String("service", cfg.ID))
	}

	rev = m.local.Revision()
	local, err := m.local.Snapshot(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read local bookmarks: %w", err)
	}
	merged, err := m.merger.Merge(local, remote, cfg.MergeStrategy)
	if err != nil {
		return nil, "", err
	}
	if err := m.local.ReplaceIfUnchanged(ctx, merged, rev); err != nil {
		if errors.Is(err, domain.ErrStaleRevision) {
			return nil, "", &syncadapter.PreconditionError{Detail: "local bookmarks changed during merge"}
		}
		return nil, "", fmt.Errorf("failed to store merged bookmarks: %w", err)
	}
	meta, err := m.upload(ctx, adapter, merged, dl.RemoteMeta, at)
	if err != nil {
		return nil, "", err
	}
	return meta, ActionMerge, nil
}

func (m *Manager) upload(ctx context.Context, adapter syncadapter.Adapter, bookmarks domain.Collection, expected *domain.SyncMetadata, at int64) (*domain.SyncMetadata, error) {
	data, err := EncodeDocument(bookmarks, at)
	if err != nil {
		return nil, err
	}
	return adapter.Upload(ctx, data, expected)
}

// Start runs the queue worker. Calling Start on a running manager is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go m.worker(ctx, m.stopCh)
}

// Stop halts the worker and waits for the current sync to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()
	m.wg.Wait()
}

// Enqueue schedules a background sync. It reports false when the service
// is already queued, the queue is full or the worker is stopped.
func (m *Manager) Enqueue(serviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.queued[serviceID] {
		return false
	}
	select {
	case m.queue <- serviceID:
		m.queued[serviceID] = true
		return true
	default:
		m.logger.Warn("sync queue full", logger.String("service", serviceID))
		return false
	}
}

func (m *Manager) worker(ctx context.Context, stop <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			m.mu.Lock()
			if m.stopCh == stop {
				m.running = false
			}
			m.mu.Unlock()
			return
		case id := <-m.queue:
			m.mu.Lock()
			delete(m.queued, id)
			m.mu.Unlock()

			res, err := m.Sync(ctx, id)
			if err != nil {
				m.logger.Error("queued sync failed", logger.String("service", id), logger.Error(err))
			}
			if m.onResult != nil {
				m.onResult(id, res, err)
			}
		}
	}
}
