// Package syncadapter defines the contract every sync backend implements
// and the errors they share.
package syncadapter

import (
	"context"
	"sync"

	"github.com/MrSnakeDoc/linktags/internal/domain"
)

// Adapter moves the serialized bookmark collection to and from one backend.
//
// Init must be called exactly once before any other method. After Destroy
// every method fails with ErrDestroyed.
type Adapter interface {
	// Init validates and stores cfg and may probe the backend.
	Init(ctx context.Context, cfg domain.SyncServiceConfig) error

	// GetAuthStatus classifies the backend state. It never fails.
	GetAuthStatus(ctx context.Context) domain.AuthStatus

	// GetRemoteMetadata returns nil when the remote resource does not exist.
	GetRemoteMetadata(ctx context.Context) (*domain.SyncMetadata, error)

	// Download returns an empty result when the remote resource does not exist.
	Download(ctx context.Context) (DownloadResult, error)

	// Upload writes data. When expected is not nil the write only succeeds
	// if the remote still matches it; otherwise a *PreconditionError is
	// returned. The returned fingerprint comes from the backend.
	Upload(ctx context.Context, data string, expected *domain.SyncMetadata) (*domain.SyncMetadata, error)

	// Destroy releases transport resources.
	Destroy() error
}

// DownloadResult holds the remote payload. Data and RemoteMeta are both
// nil when the resource does not exist.
type DownloadResult struct {
	Data       *string
	RemoteMeta *domain.SyncMetadata
}

// Exists reports whether the remote resource was found.
func (r DownloadResult) Exists() bool { return r.Data != nil }

// Lifecycle tracks the init/destroy state shared by all adapters.
type Lifecycle struct {
	mu          sync.RWMutex
	initialized bool
	destroyed   bool
	cfg         domain.SyncServiceConfig
}

// Begin marks the adapter initialized with cfg.
func (l *Lifecycle) Begin(cfg domain.SyncServiceConfig) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed {
		return ErrDestroyed
	}
	if l.initialized {
		return ErrAlreadyInitialized
	}
	l.initialized = true
	l.cfg = cfg
	return nil
}

// Reset undoes Begin after a failed initialization.
func (l *Lifecycle) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.initialized = false
	l.cfg = domain.SyncServiceConfig{}
}

// Ready returns the stored config when the adapter is usable.
func (l *Lifecycle) Ready() (domain.SyncServiceConfig, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.destroyed {
		return domain.SyncServiceConfig{}, ErrDestroyed
	}
	if !l.initialized {
		return domain.SyncServiceConfig{}, ErrNotInitialized
	}
	return l.cfg, nil
}

// End marks the adapter destroyed. It reports false when already destroyed.
func (l *Lifecycle) End() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed {
		return false
	}
	l.destroyed = true
	return true
}

// Destroyed reports whether End was called.
func (l *Lifecycle) Destroyed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.destroyed
}
