package commands

import (
	"fmt"
	"slices"
	"strings"

	"github.com/MrSnakeDoc/linktags/internal/domain"
)

// AddTagCommand appends tags to every target bookmark.
type AddTagCommand struct {
	baseCommand
	tags []string
}

// NewAddTagCommand creates a command adding tags to urls.
func NewAddTagCommand(urls, tags []string, opts ...Option) *AddTagCommand {
	return &AddTagCommand{
		baseCommand: newBase(urls, opts),
		tags:        domain.NormalizeTags(tags),
	}
}

// NewAddTagCommandFromText parses comma separated tags.
func NewAddTagCommandFromText(urls []string, text string, opts ...Option) *AddTagCommand {
	return NewAddTagCommand(urls, domain.SplitTags(text), opts...)
}

func (c *AddTagCommand) Type() string         { return TypeAdd }
func (c *AddTagCommand) SourceTags() []string { return nil }
func (c *AddTagCommand) TargetTags() []string { return slices.Clone(c.tags) }

func (c *AddTagCommand) Description() string {
	return fmt.Sprintf("add %s to %d bookmark(s)", strings.Join(c.tags, ", "), len(c.urls))
}

func (c *AddTagCommand) Execute(bookmarks domain.Collection) (*ExecutionResult, error) {
	return c.apply(bookmarks, func(tags []string) ([]string, bool) {
		next := make([]string, 0, len(tags)+len(c.tags))
		next = append(next, tags...)
		next = append(next, c.tags...)
		return next, true
	})
}

func (c *AddTagCommand) Undo(bookmarks domain.Collection) error { return c.restore(bookmarks) }

// RemoveTagCommand drops tags from every target bookmark.
// Bookmarks left without tags are deleted.
type RemoveTagCommand struct {
	baseCommand
	tags []string
}

// NewRemoveTagCommand creates a command removing tags from urls.
func NewRemoveTagCommand(urls, tags []string, opts ...Option) *RemoveTagCommand {
	return &RemoveTagCommand{
		baseCommand: newBase(urls, opts),
		tags:        domain.NormalizeTags(tags),
	}
}

// NewRemoveTagCommandFromText parses comma separated tags.
func NewRemoveTagCommandFromText(urls []string, text string, opts ...Option) *RemoveTagCommand {
	return NewRemoveTagCommand(urls, domain.SplitTags(text), opts...)
}

func (c *RemoveTagCommand) Type() string         { return TypeRemove }
func (c *RemoveTagCommand) SourceTags() []string { return slices.Clone(c.tags) }
func (c *RemoveTagCommand) TargetTags() []string { return nil }

func (c *RemoveTagCommand) Description() string {
	return fmt.Sprintf("remove %s from %d bookmark(s)", strings.Join(c.tags, ", "), len(c.urls))
}

func (c *RemoveTagCommand) Execute(bookmarks domain.Collection) (*ExecutionResult, error) {
	return c.apply(bookmarks, func(tags []string) ([]string, bool) {
		next := make([]string, 0, len(tags))
		for _, tag := range tags {
			if !slices.Contains(c.tags, tag) {
				next = append(next, tag)
			}
		}
		return next, true
	})
}

func (c *RemoveTagCommand) Undo(bookmarks domain.Collection) error { return c.restore(bookmarks) }

// RenameTagCommand replaces a set of source tags by target tags.
// A bookmark is touched only when it carries every source tag.
type RenameTagCommand struct {
	baseCommand
	sources []string
	targets []string
}

// NewRenameTagCommand creates a rename from sources to targets.
func NewRenameTagCommand(urls, sources, targets []string, opts ...Option) *RenameTagCommand {
	return &RenameTagCommand{
		baseCommand: newBase(urls, opts),
		sources:     domain.NormalizeTags(sources),
		targets:     domain.NormalizeTags(targets),
	}
}

// NewRenameTagCommandFromText parses both sides from comma separated text.
func NewRenameTagCommandFromText(urls []string, sources, targets string, opts ...Option) *RenameTagCommand {
	return NewRenameTagCommand(urls, domain.SplitTags(sources), domain.SplitTags(targets), opts...)
}

func (c *RenameTagCommand) Type() string         { return TypeRename }
func (c *RenameTagCommand) SourceTags() []string { return slices.Clone(c.sources) }
func (c *RenameTagCommand) TargetTags() []string { return slices.Clone(c.targets) }

func (c *RenameTagCommand) Description() string {
	return fmt.Sprintf("rename %s to %s on %d bookmark(s)",
		strings.Join(c.sources, ", "), strings.Join(c.targets, ", "), len(c.urls))
}

func (c *RenameTagCommand) Execute(bookmarks domain.Collection) (*ExecutionResult, error) {
	return c.apply(bookmarks, func(tags []string) ([]string, bool) {
		if len(c.sources) == 0 || !domain.ContainsAll(tags, c.sources) {
			return nil, false
		}
		return renameTags(tags, c.sources, c.targets), true
	})
}

func (c *RenameTagCommand) Undo(bookmarks domain.Collection) error { return c.restore(bookmarks) }

// renameTags puts targets where the first source tag was and drops the
// other sources. Duplicates are collapsed by the caller.
// Example: [example test common], test -> common => [example common common]
func renameTags(tags, sources, targets []string) []string {
	next := make([]string, 0, len(tags)+len(targets))
	inserted := false
	for _, tag := range tags {
		if !slices.Contains(sources, tag) {
			next = append(next, tag)
			continue
		}
		if !inserted {
			next = append(next, targets...)
			inserted = true
		}
	}
	return next
}
