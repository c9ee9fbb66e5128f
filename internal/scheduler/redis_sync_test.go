package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/MrSnakeDoc/linktags/internal/commands"
	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/index"
	"github.com/MrSnakeDoc/linktags/internal/logger"
)

type fakeSnapshot struct {
	services  []domain.SyncServiceConfig
	bookmarks domain.Collection
	history   *commands.HistoryRecord
	err       error
}

func (f fakeSnapshot) GetAllServices(context.Context) ([]domain.SyncServiceConfig, error) {
	return f.services, f.err
}

func (f fakeSnapshot) GetAllBookmarks(context.Context) (domain.Collection, error) {
	return f.bookmarks, f.err
}

func (f fakeSnapshot) GetHistory(context.Context) (commands.HistoryRecord, bool, error) {
	if f.history == nil {
		return commands.HistoryRecord{}, false, f.err
	}
	return *f.history, true, f.err
}

func TestRedisSyncer_Sync(t *testing.T) {
	memIndex := index.NewMemoryIndex()
	src := fakeSnapshot{
		services:  []domain.SyncServiceConfig{{ID: "nas", LastSyncTimestamp: 42}},
		bookmarks: domain.Collection{"https://a": {Tags: []string{"x"}}},
		history: &commands.HistoryRecord{
			Entries:      []commands.HistoryEntry{{Type: commands.TypeAdd, URLs: []string{"https://a"}}},
			CurrentIndex: 0,
			MaxSize:      50,
		},
	}

	if err := NewRedisSyncer(src, memIndex, logger.NewNop()).Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	nas, err := memIndex.Get(context.Background(), "nas")
	if err != nil || nas.LastSyncTimestamp != 42 {
		t.Errorf("service after sync = %+v, %v", nas, err)
	}
	if memIndex.BookmarkCount() != 1 {
		t.Errorf("BookmarkCount() = %d, want 1", memIndex.BookmarkCount())
	}
	if rec, ok := memIndex.History(); !ok || len(rec.Entries) != 1 || rec.MaxSize != 50 {
		t.Errorf("History() after sync = %+v, %v", rec, ok)
	}
}

func TestRedisSyncer_SyncError(t *testing.T) {
	memIndex := index.NewMemoryIndex()
	memIndex.UpdateServices([]domain.SyncServiceConfig{{ID: "keep"}})

	err := NewRedisSyncer(fakeSnapshot{err: errors.New("down")}, memIndex, logger.NewNop()).Sync(context.Background())
	if err == nil {
		t.Fatal("Sync() should fail when redis is unavailable")
	}
	if memIndex.Count() != 1 {
		t.Errorf("failed sync touched the index")
	}
}
