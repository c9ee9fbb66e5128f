package commands

import (
	"fmt"
	"slices"

	"github.com/MrSnakeDoc/linktags/internal/domain"
)

// CompositeTagCommand runs several commands as one undo unit.
// A failing sub-command stops execution; earlier ones are not rolled back.
type CompositeTagCommand struct {
	label    string
	commands []Command
	result   *ExecutionResult
}

// NewCompositeTagCommand groups cmds under label.
func NewCompositeTagCommand(label string, cmds ...Command) *CompositeTagCommand {
	kept := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		if c != nil {
			kept = append(kept, c)
		}
	}
	return &CompositeTagCommand{label: label, commands: kept}
}

func (c *CompositeTagCommand) Type() string { return TypeComposite }

func (c *CompositeTagCommand) Description() string {
	if c.label != "" {
		return c.label
	}
	return fmt.Sprintf("%d combined tag edits", len(c.commands))
}

// Label returns the user supplied name of the composite.
func (c *CompositeTagCommand) Label() string { return c.label }

// Commands returns the sub-commands in execution order.
func (c *CompositeTagCommand) Commands() []Command { return slices.Clone(c.commands) }

func (c *CompositeTagCommand) TargetURLs() []string {
	return c.collect(Command.TargetURLs)
}

func (c *CompositeTagCommand) SourceTags() []string {
	return domain.NormalizeTags(c.collect(Command.SourceTags))
}

func (c *CompositeTagCommand) TargetTags() []string {
	return domain.NormalizeTags(c.collect(Command.TargetTags))
}

func (c *CompositeTagCommand) LastResult() *ExecutionResult { return c.result }

func (c *CompositeTagCommand) collect(get func(Command) []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, cmd := range c.commands {
		for _, v := range get(cmd) {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// Execute runs every sub-command in order and aggregates their results.
// For a URL touched by several sub-commands the earliest snapshot wins.
func (c *CompositeTagCommand) Execute(bookmarks domain.Collection) (*ExecutionResult, error) {
	if len(c.commands) == 0 {
		return nil, ErrEmptyComposite
	}
	if bookmarks == nil {
		return nil, ErrNilCollection
	}

	agg := newResult()
	for i, cmd := range c.commands {
		res, err := cmd.Execute(bookmarks)
		if err != nil {
			c.result = agg
			return nil, fmt.Errorf("sub-command %d (%s) failed: %w", i, cmd.Type(), err)
		}
		agg.AffectedCount += res.AffectedCount
		agg.DeletedCount += res.DeletedCount
		for url, snapshot := range res.OriginalStates {
			if _, ok := agg.OriginalStates[url]; !ok {
				agg.OriginalStates[url] = snapshot
			}
		}
	}

	c.result = agg
	return agg, nil
}

// Undo reverts the sub-commands in reverse order.
func (c *CompositeTagCommand) Undo(bookmarks domain.Collection) error {
	if c.result == nil {
		return ErrNotExecuted
	}
	for i := len(c.commands) - 1; i >= 0; i-- {
		if c.commands[i].LastResult() == nil {
			continue
		}
		if err := c.commands[i].Undo(bookmarks); err != nil {
			return fmt.Errorf("undo of sub-command %d (%s) failed: %w", i, c.commands[i].Type(), err)
		}
	}
	return nil
}
