package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/linktags/internal/domain"
)

// releaseLock deletes the record only while ARGV[1] still owns it.
var releaseLock = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return 0
end
local rec = cjson.decode(raw)
if rec["ownerId"] ~= ARGV[1] then
	return 0
end
return redis.call("DEL", KEYS[1])
`)

// GetLock returns nil when no record exists
func (s *Store) GetLock(ctx context.Context) (*domain.LockRecord, error) {
	data, err := s.client.Get(ctx, KeyAutoSyncLock).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}

	var rec domain.LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock: %w", err)
	}
	return &rec, nil
}

// PutLock overwrites the record. The key expires after the lock TTL so a
// crashed leader does not leave a record behind forever.
func (s *Store) PutLock(ctx context.Context, rec domain.LockRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal lock: %w", err)
	}
	if err := s.client.Set(ctx, KeyAutoSyncLock, data, s.lockTTL).Err(); err != nil {
		return fmt.Errorf("failed to save lock: %w", err)
	}
	return nil
}

// ReleaseLock removes the record only while ownerID still owns it
func (s *Store) ReleaseLock(ctx context.Context, ownerID string) (bool, error) {
	n, err := releaseLock.Run(ctx, s.client, []string{KeyAutoSyncLock}, ownerID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}
	return n == 1, nil
}
