package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/logger"
)

// DefaultMaxHistorySize is used when ManagerOptions.MaxHistorySize is zero.
const DefaultMaxHistorySize = 50

var (
	ErrOperationInProgress = errors.New("another command operation is in progress")
	ErrInvalidHistorySize  = errors.New("max history size must be greater than zero")
	ErrMissingCollaborator = errors.New("resolver and persister are required")
)

// Resolver loads the current entries for urls. Unknown URLs are omitted.
type Resolver func(ctx context.Context, urls []string) ([]domain.BookmarkKeyValuePair, error)

// Persister writes a batch of entries. Pairs with a nil Entry are deletions.
// It must be atomic from the caller's point of view.
type Persister func(ctx context.Context, pairs []domain.BookmarkKeyValuePair) error

// HistoryPersister stores the command history record.
type HistoryPersister func(ctx context.Context, record HistoryRecord) error

// ManagerOptions wires the manager to its storage collaborators.
type ManagerOptions struct {
	Resolver         Resolver
	Persister        Persister
	HistoryPersister HistoryPersister // optional
	MaxHistorySize   int
	Logger           logger.Logger
}

// HistoryEntry describes one command in the history record.
type HistoryEntry struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	URLs        []string `json:"urls"`
	SourceTags  []string `json:"sourceTags,omitempty"`
	TargetTags  []string `json:"targetTags,omitempty"`
}

// HistoryRecord is the persisted view of the history.
type HistoryRecord struct {
	Entries      []HistoryEntry `json:"entries"`
	CurrentIndex int            `json:"currentIndex"`
	MaxSize      int            `json:"maxSize"`
}

// Manager runs commands one at a time and keeps a linear undo history.
//
// Only one of ExecuteCommand, ExecuteBatch, Undo, Redo or Clear runs at a
// time. A second caller fails fast with ErrOperationInProgress instead of
// queuing, because the resolve/mutate/persist sequence would otherwise read
// stale entries.
type Manager struct {
	resolve        Resolver
	persist        Persister
	persistHistory HistoryPersister
	log            logger.Logger

	busy atomic.Bool

	mu      sync.RWMutex
	history []Command
	current int // index of the last applied command, -1 when none
	maxSize int
}

// NewManager creates a manager.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Resolver == nil || opts.Persister == nil {
		return nil, ErrMissingCollaborator
	}
	if opts.MaxHistorySize < 0 {
		return nil, ErrInvalidHistorySize
	}
	maxSize := opts.MaxHistorySize
	if maxSize == 0 {
		maxSize = DefaultMaxHistorySize
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	return &Manager{
		resolve:        opts.Resolver,
		persist:        opts.Persister,
		persistHistory: opts.HistoryPersister,
		log:            log,
		current:        -1,
		maxSize:        maxSize,
	}, nil
}

func (m *Manager) acquire() error {
	if !m.busy.CompareAndSwap(false, true) {
		return ErrOperationInProgress
	}
	return nil
}

func (m *Manager) release() { m.busy.Store(false) }

// ExecuteCommand runs cmd, persists the result and records it in history.
func (m *Manager) ExecuteCommand(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	if cmd == nil {
		return nil, ErrNilCommand
	}
	if err := m.acquire(); err != nil {
		return nil, err
	}
	defer m.release()

	bookmarks, _ := m.load(ctx, cmd.TargetURLs())
	resolved := bookmarks.URLs()

	res, err := cmd.Execute(bookmarks)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s command: %w", cmd.Type(), err)
	}

	if err := m.persist(ctx, bookmarks.Pairs(resolved)); err != nil {
		return nil, fmt.Errorf("failed to persist bookmarks: %w", err)
	}

	m.log.Debug("command executed",
		logger.String("type", cmd.Type()),
		logger.Int("affected", res.AffectedCount),
		logger.Int("deleted", res.DeletedCount))

	m.commit(ctx, cmd)
	return res, nil
}

// ExecuteBatch runs every command against one working set and persists once.
// If a command fails nothing is persisted and history is unchanged.
func (m *Manager) ExecuteBatch(ctx context.Context, cmds []Command) ([]*ExecutionResult, error) {
	if len(cmds) == 0 {
		return nil, nil
	}
	if slices.Contains(cmds, nil) {
		return nil, ErrNilCommand
	}
	if err := m.acquire(); err != nil {
		return nil, err
	}
	defer m.release()

	working := make(domain.Collection)
	seen := make(map[string]struct{})
	var resolved []string
	results := make([]*ExecutionResult, 0, len(cmds))

	for i, cmd := range cmds {
		// Only resolve URLs the batch has not seen yet so later commands
		// observe the effect of earlier ones.
		var missing []string
		for _, url := range cmd.TargetURLs() {
			if _, ok := seen[url]; !ok {
				seen[url] = struct{}{}
				missing = append(missing, url)
			}
		}
		if len(missing) > 0 {
			loaded, _ := m.load(ctx, missing)
			for url, entry := range loaded {
				working[url] = entry
				resolved = append(resolved, url)
			}
		}

		res, err := cmd.Execute(working)
		if err != nil {
			return nil, fmt.Errorf("failed to execute batch command %d (%s): %w", i, cmd.Type(), err)
		}
		results = append(results, res)
	}

	if err := m.persist(ctx, working.Pairs(resolved)); err != nil {
		return nil, fmt.Errorf("failed to persist bookmarks: %w", err)
	}

	m.log.Debug("command batch executed", logger.Int("commands", len(cmds)))

	m.commit(ctx, cmds...)
	return results, nil
}

// Undo reverts the command at the current index.
// It returns false when there is nothing to undo.
func (m *Manager) Undo(ctx context.Context) (bool, error) {
	if err := m.acquire(); err != nil {
		return false, err
	}
	defer m.release()

	m.mu.RLock()
	idx := m.current
	var cmd Command
	if idx >= 0 {
		cmd = m.history[idx]
	}
	m.mu.RUnlock()
	if cmd == nil {
		return false, nil
	}

	bookmarks, ok := m.load(ctx, cmd.TargetURLs())
	if ok {
		resolved := bookmarks.URLs()
		if err := cmd.Undo(bookmarks); err != nil {
			return false, fmt.Errorf("failed to undo %s command: %w", cmd.Type(), err)
		}
		urls := mergeURLs(resolved, cmd.LastResult().ChangedURLs())
		if err := m.persist(ctx, bookmarks.Pairs(urls)); err != nil {
			return false, fmt.Errorf("failed to persist bookmarks: %w", err)
		}
	}

	m.mu.Lock()
	m.current = idx - 1
	record := m.recordLocked()
	m.mu.Unlock()

	m.log.Debug("command undone", logger.String("type", cmd.Type()), logger.Bool("applied", ok))
	m.saveHistory(ctx, record)
	return true, nil
}

// Redo re-applies the command after the current index.
// It returns false when there is nothing to redo.
func (m *Manager) Redo(ctx context.Context) (bool, error) {
	if err := m.acquire(); err != nil {
		return false, err
	}
	defer m.release()

	m.mu.RLock()
	idx := m.current + 1
	var cmd Command
	if idx < len(m.history) {
		cmd = m.history[idx]
	}
	m.mu.RUnlock()
	if cmd == nil {
		return false, nil
	}

	bookmarks, ok := m.load(ctx, cmd.TargetURLs())
	if ok {
		resolved := bookmarks.URLs()
		if _, err := cmd.Execute(bookmarks); err != nil {
			return false, fmt.Errorf("failed to redo %s command: %w", cmd.Type(), err)
		}
		if err := m.persist(ctx, bookmarks.Pairs(resolved)); err != nil {
			return false, fmt.Errorf("failed to persist bookmarks: %w", err)
		}
	}

	m.mu.Lock()
	m.current = idx
	record := m.recordLocked()
	m.mu.Unlock()

	m.log.Debug("command redone", logger.String("type", cmd.Type()), logger.Bool("applied", ok))
	m.saveHistory(ctx, record)
	return true, nil
}

// Clear drops the whole history.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.acquire(); err != nil {
		return err
	}
	defer m.release()

	m.mu.Lock()
	m.history = nil
	m.current = -1
	record := m.recordLocked()
	m.mu.Unlock()

	m.saveHistory(ctx, record)
	return nil
}

// SetMaxHistorySize changes the bound and drops the oldest commands when
// the history is already longer.
func (m *Manager) SetMaxHistorySize(ctx context.Context, size int) error {
	if size <= 0 {
		return ErrInvalidHistorySize
	}

	m.mu.Lock()
	m.maxSize = size
	trimmed := m.trimLocked()
	record := m.recordLocked()
	m.mu.Unlock()

	if trimmed {
		m.saveHistory(ctx, record)
	}
	return nil
}

func (m *Manager) CanUndo() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current >= 0
}

func (m *Manager) CanRedo() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current+1 < len(m.history)
}

// CommandHistory returns a copy of the history, oldest first.
func (m *Manager) CommandHistory() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.history)
}

func (m *Manager) CurrentIndex() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) MaxHistorySize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxSize
}

// Record returns the current history record.
func (m *Manager) Record() HistoryRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recordLocked()
}

// load resolves urls into a fresh collection. Resolver failures are not
// fatal: whatever was returned is used and ok reports false.
func (m *Manager) load(ctx context.Context, urls []string) (domain.Collection, bool) {
	if len(urls) == 0 {
		return make(domain.Collection), true
	}
	pairs, err := m.resolve(ctx, urls)
	if err != nil {
		m.log.Warn("failed to resolve bookmarks, continuing with partial data",
			logger.Int("urls", len(urls)),
			logger.Int("resolved", len(pairs)),
			logger.Error(err))
		return domain.CollectionFromPairs(pairs), false
	}
	return domain.CollectionFromPairs(pairs), true
}

// commit appends cmds after the current index, dropping any redo tail.
func (m *Manager) commit(ctx context.Context, cmds ...Command) {
	m.mu.Lock()
	m.history = append(m.history[:m.current+1], cmds...)
	m.current = len(m.history) - 1
	m.trimLocked()
	record := m.recordLocked()
	m.mu.Unlock()

	m.saveHistory(ctx, record)
}

func (m *Manager) trimLocked() bool {
	overflow := len(m.history) - m.maxSize
	if overflow <= 0 {
		return false
	}
	m.history = slices.Clone(m.history[overflow:])
	m.current -= overflow
	if m.current < -1 {
		m.current = -1
	}
	return true
}

func (m *Manager) recordLocked() HistoryRecord {
	entries := make([]HistoryEntry, 0, len(m.history))
	for _, cmd := range m.history {
		entries = append(entries, HistoryEntry{
			Type:        cmd.Type(),
			Description: cmd.Description(),
			URLs:        cmd.TargetURLs(),
			SourceTags:  cmd.SourceTags(),
			TargetTags:  cmd.TargetTags(),
		})
	}
	return HistoryRecord{Entries: entries, CurrentIndex: m.current, MaxSize: m.maxSize}
}

func (m *Manager) saveHistory(ctx context.Context, record HistoryRecord) {
	if m.persistHistory == nil {
		return
	}
	if err := m.persistHistory(ctx, record); err != nil {
		m.log.Warn("failed to persist command history", logger.Error(err))
	}
}

func mergeURLs(a, b []string) []string {
	out := slices.Clone(a)
	for _, url := range b {
		if !slices.Contains(out, url) {
			out = append(out, url)
		}
	}
	return out
}
