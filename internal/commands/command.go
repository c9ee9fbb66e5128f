// Package commands implements reversible tag edits over a bookmark
// collection and the manager that runs them with undo/redo history.
package commands

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/MrSnakeDoc/linktags/internal/domain"
)

// Command type tags.
const (
	TypeAdd       = "add"
	TypeRemove    = "remove"
	TypeRename    = "rename"
	TypeComposite = "composite"
)

var (
	ErrNotExecuted    = errors.New("command has not been executed")
	ErrNilCollection  = errors.New("bookmark collection is nil")
	ErrNilCommand     = errors.New("command is nil")
	ErrEmptyComposite = errors.New("composite command has no sub-commands")
)

// Command is a reversible mutation over a bookmark collection.
type Command interface {
	// Execute mutates bookmarks in place and records what it changed.
	Execute(bookmarks domain.Collection) (*ExecutionResult, error)
	// Undo restores every entry recorded by the last Execute.
	Undo(bookmarks domain.Collection) error

	Type() string
	Description() string
	TargetURLs() []string
	SourceTags() []string
	TargetTags() []string

	// LastResult is nil until the command has been executed.
	LastResult() *ExecutionResult
}

// ExecutionResult summarizes one Execute call.
type ExecutionResult struct {
	AffectedCount int
	DeletedCount  int
	// OriginalStates maps each changed URL to a deep copy of its entry
	// as it was right before the command ran.
	OriginalStates map[string]*domain.BookmarkEntry
}

func newResult() *ExecutionResult {
	return &ExecutionResult{OriginalStates: make(map[string]*domain.BookmarkEntry)}
}

// ChangedURLs returns the URLs recorded in OriginalStates, sorted.
func (r *ExecutionResult) ChangedURLs() []string {
	if r == nil {
		return nil
	}
	urls := make([]string, 0, len(r.OriginalStates))
	for url := range r.OriginalStates {
		urls = append(urls, url)
	}
	slices.Sort(urls)
	return urls
}

// Option customizes a command.
type Option func(*baseCommand)

// WithClock overrides the clock used to stamp Updated2.
func WithClock(now func() time.Time) Option {
	return func(b *baseCommand) {
		if now != nil {
			b.now = now
		}
	}
}

// baseCommand carries the state shared by the single-step commands.
type baseCommand struct {
	urls   []string
	now    func() time.Time
	result *ExecutionResult
}

func newBase(urls []string, opts []Option) baseCommand {
	b := baseCommand{
		urls: normalizeURLs(urls),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *baseCommand) TargetURLs() []string { return slices.Clone(b.urls) }

func (b *baseCommand) LastResult() *ExecutionResult { return b.result }

// apply runs transform over every target URL present in bookmarks.
// transform returns the new tag list and whether the precondition held.
func (b *baseCommand) apply(bookmarks domain.Collection, transform func(tags []string) ([]string, bool)) (*ExecutionResult, error) {
	if bookmarks == nil {
		return nil, ErrNilCollection
	}

	res := newResult()
	now := b.now().UnixMilli()

	for _, url := range b.urls {
		entry, ok := bookmarks[url]
		if !ok || entry == nil {
			continue
		}

		next, ok := transform(entry.Tags)
		if !ok {
			continue
		}
		next = domain.NormalizeTags(next)
		if slices.Equal(next, entry.Tags) {
			continue
		}

		res.OriginalStates[url] = entry.Clone()

		if len(next) == 0 {
			delete(bookmarks, url)
			res.DeletedCount++
			continue
		}

		entry.Tags = next
		entry.Meta.Updated2 = now
		res.AffectedCount++
	}

	b.result = res
	return res, nil
}

// restore writes back the snapshots of the last execution.
func (b *baseCommand) restore(bookmarks domain.Collection) error {
	if b.result == nil {
		return ErrNotExecuted
	}
	if bookmarks == nil {
		return ErrNilCollection
	}

	now := b.now().UnixMilli()
	for url, snapshot := range b.result.OriginalStates {
		entry := snapshot.Clone()
		entry.Meta.Updated2 = now
		bookmarks[url] = entry
	}
	return nil
}

func normalizeURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, url := range urls {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, url)
	}
	return out
}
