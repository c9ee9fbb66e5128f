package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/linktags/internal/commands"
)

// SaveHistory stores the command history record
func (s *Store) SaveHistory(ctx context.Context, record commands.HistoryRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := s.client.Set(ctx, KeyHistory, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// GetHistory retrieves the last stored record. ok is false when none exists.
func (s *Store) GetHistory(ctx context.Context) (record commands.HistoryRecord, ok bool, err error) {
	data, err := s.client.Get(ctx, KeyHistory).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return commands.HistoryRecord{}, false, nil
		}
		return commands.HistoryRecord{}, false, fmt.Errorf("failed to get history: %w", err)
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return commands.HistoryRecord{}, false, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return record, true, nil
}
