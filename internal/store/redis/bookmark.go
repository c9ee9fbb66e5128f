package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrSnakeDoc/linktags/internal/domain"
)

// ResolveBookmarks retrieves the entries for urls. Unknown URLs are omitted.
func (s *Store) ResolveBookmarks(ctx context.Context, urls []string) ([]domain.BookmarkKeyValuePair, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	values, err := s.client.HMGet(ctx, KeyBookmarks, urls...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmarks: %w", err)
	}

	pairs := make([]domain.BookmarkKeyValuePair, 0, len(urls))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		entry, err := decodeEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("bookmark %s: %w", urls[i], err)
		}
		pairs = append(pairs, domain.BookmarkKeyValuePair{URL: urls[i], Entry: entry})
	}

	return pairs, nil
}

// PersistBookmarks applies a batch in one pipeline. A nil entry deletes
// the URL.
func (s *Store) PersistBookmarks(ctx context.Context, pairs []domain.BookmarkKeyValuePair) error {
	if len(pairs) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, p := range pairs {
		if p.Entry == nil {
			pipe.HDel(ctx, KeyBookmarks, p.URL)
			continue
		}
		data, err := json.Marshal(p.Entry)
		if err != nil {
			return fmt.Errorf("failed to marshal bookmark %s: %w", p.URL, err)
		}
		pipe.HSet(ctx, KeyBookmarks, p.URL, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save bookmarks: %w", err)
	}

	return nil
}

// GetAllBookmarks retrieves the whole collection
func (s *Store) GetAllBookmarks(ctx context.Context) (domain.Collection, error) {
	all, err := s.client.HGetAll(ctx, KeyBookmarks).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmarks: %w", err)
	}

	bookmarks := make(domain.Collection, len(all))
	for url, raw := range all {
		entry, err := decodeEntry(raw)
		if err != nil {
			// Skip entries that couldn't be decoded
			continue
		}
		bookmarks[url] = entry
	}

	return bookmarks, nil
}

// ReplaceBookmarks swaps the whole collection atomically
func (s *Store) ReplaceBookmarks(ctx context.Context, bookmarks domain.Collection) error {
	fields := make([]any, 0, len(bookmarks)*2)
	for url, entry := range bookmarks {
		if entry == nil {
			continue
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal bookmark %s: %w", url, err)
		}
		fields = append(fields, url, data)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, KeyBookmarks)
	if len(fields) > 0 {
		pipe.HSet(ctx, KeyBookmarks, fields...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to replace bookmarks: %w", err)
	}

	return nil
}

func decodeEntry(raw string) (*domain.BookmarkEntry, error) {
	var entry domain.BookmarkEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bookmark: %w", err)
	}
	return &entry, nil
}
