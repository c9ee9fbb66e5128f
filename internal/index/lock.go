package index

import (
	"context"
	"sync"

	"github.com/MrSnakeDoc/linktags/internal/domain"
)

// MemoryLockStore holds the leadership record for a single process.
type MemoryLockStore struct {
	mu  sync.Mutex
	rec *domain.LockRecord
}

// NewMemoryLockStore creates an empty lock store.
func NewMemoryLockStore() *MemoryLockStore {
	return &MemoryLockStore{}
}

// GetLock returns nil when no record exists.
func (s *MemoryLockStore) GetLock(_ context.Context) (*domain.LockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil, nil
	}
	rec := *s.rec
	return &rec, nil
}

// PutLock overwrites the record.
func (s *MemoryLockStore) PutLock(_ context.Context, rec domain.LockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = &rec
	return nil
}

// ReleaseLock removes the record only while ownerID still owns it.
func (s *MemoryLockStore) ReleaseLock(_ context.Context, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil || s.rec.OwnerID != ownerID {
		return false, nil
	}
	s.rec = nil
	return true, nil
}
