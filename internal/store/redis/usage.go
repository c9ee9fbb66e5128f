package redis

import (
	"context"
	"fmt"
)

// Stats counts what the store holds
type Stats struct {
	Bookmarks int64 `json:"bookmarks"`
	Services  int64 `json:"services"`
}

// GetStats retrieves the bookmark and service counts
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	pipe := s.client.Pipeline()
	bookmarks := pipe.HLen(ctx, KeyBookmarks)
	services := pipe.SCard(ctx, AllServicesKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to get stats: %w", err)
	}

	return Stats{
		Bookmarks: bookmarks.Val(),
		Services:  services.Val(),
	}, nil
}
