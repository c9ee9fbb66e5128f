package syncmanager

import (
	"context"
	"errors"

	"github.com/MrSnakeDoc/linktags/internal/domain"
)

var (
	ErrServiceDisabled = errors.New("sync service disabled")
	ErrUnknownStrategy = errors.New("unknown merge strategy")
)

// LocalStore is the local bookmark collection.
type LocalStore interface {
	Snapshot(ctx context.Context) (domain.Collection, error)

	// Revision increases with every bookmark write.
	Revision() uint64

	// ReplaceIfUnchanged swaps the collection unless it was written after
	// rev, in which case it returns domain.ErrStaleRevision.
	ReplaceIfUnchanged(ctx context.Context, bookmarks domain.Collection, rev uint64) error
}

// ConfigStore owns the sync service configurations. Get returns
// domain.ErrServiceNotFound for unknown ids.
type ConfigStore interface {
	Get(ctx context.Context, id string) (domain.SyncServiceConfig, error)
	List(ctx context.Context) ([]domain.SyncServiceConfig, error)
	Save(ctx context.Context, cfg domain.SyncServiceConfig) error

	// MarkSynced records a successful synchronization.
	MarkSynced(ctx context.Context, id string, at int64, meta *domain.SyncMetadata) error

	// MarkDataChanged stamps every service with the time of a local edit.
	MarkDataChanged(ctx context.Context, at int64) error
}
