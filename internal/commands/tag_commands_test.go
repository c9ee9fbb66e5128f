package commands

import (
	"reflect"
	"testing"
	"time"

	"github.com/MrSnakeDoc/linktags/internal/domain"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func clock() Option { return WithClock(func() time.Time { return fixedNow }) }

func entry(tags ...string) *domain.BookmarkEntry {
	return &domain.BookmarkEntry{
		Tags: tags,
		Meta: domain.BookmarkMeta{
			Title:   "page",
			Created: 1000,
			Updated: 2000,
			Extra:   map[string]any{"note": "keep me"},
		},
	}
}

func sampleCollection() domain.Collection {
	return domain.Collection{
		"https://a.example": entry("test", "organization", "common"),
		"https://b.example": entry("example", "test", "common"),
		"https://c.example": entry("solo"),
	}
}

// sameExceptUpdated2 compares two collections ignoring Updated2.
func sameExceptUpdated2(t *testing.T, want, got domain.Collection) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("collection size = %d, want %d", len(got), len(want))
	}
	for url, w := range want {
		g, ok := got[url]
		if !ok {
			t.Fatalf("missing %s after undo", url)
		}
		if !reflect.DeepEqual(w.Tags, g.Tags) {
			t.Errorf("%s tags = %v, want %v", url, g.Tags, w.Tags)
		}
		wm, gm := w.Meta, g.Meta
		wm.Updated2, gm.Updated2 = 0, 0
		if !reflect.DeepEqual(wm, gm) {
			t.Errorf("%s meta = %+v, want %+v", url, gm, wm)
		}
	}
}

func TestRenameRequiresAllSourceTags(t *testing.T) {
	bookmarks := sampleCollection()
	cmd := NewRenameTagCommand([]string{"https://a.example"}, []string{"test", "example"}, []string{"renamed"}, clock())

	res, err := cmd.Execute(bookmarks)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.AffectedCount != 0 || res.DeletedCount != 0 || len(res.OriginalStates) != 0 {
		t.Errorf("Execute() = %+v, want zero effect", res)
	}
	want := []string{"test", "organization", "common"}
	if got := bookmarks["https://a.example"].Tags; !reflect.DeepEqual(got, want) {
		t.Errorf("tags = %v, want %v", got, want)
	}
}

func TestRenameIntoExistingTagCollapses(t *testing.T) {
	bookmarks := sampleCollection()
	cmd := NewRenameTagCommand([]string{"https://b.example"}, []string{"test"}, []string{"common"}, clock())

	res, err := cmd.Execute(bookmarks)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := []string{"example", "common"}
	if got := bookmarks["https://b.example"].Tags; !reflect.DeepEqual(got, want) {
		t.Errorf("tags = %v, want %v", got, want)
	}
	if res.AffectedCount != 1 {
		t.Errorf("AffectedCount = %d, want 1", res.AffectedCount)
	}
	if got := bookmarks["https://b.example"].Meta.Updated2; got != fixedNow.UnixMilli() {
		t.Errorf("Updated2 = %d, want %d", got, fixedNow.UnixMilli())
	}
}

func TestRenameReplacesPositionally(t *testing.T) {
	tests := []struct {
		name    string
		tags    []string
		sources []string
		targets []string
		want    []string
	}{
		{"single", []string{"a", "b", "c"}, []string{"b"}, []string{"x"}, []string{"a", "x", "c"}},
		{"multi source", []string{"a", "b", "c", "d"}, []string{"b", "d"}, []string{"x"}, []string{"a", "x", "c"}},
		{"multi target", []string{"a", "b"}, []string{"a"}, []string{"x", "y"}, []string{"x", "y", "b"}},
		{"target already first", []string{"x", "a"}, []string{"a"}, []string{"x"}, []string{"x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bookmarks := domain.Collection{"u": entry(tt.tags...)}
			cmd := NewRenameTagCommand([]string{"u"}, tt.sources, tt.targets, clock())
			if _, err := cmd.Execute(bookmarks); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if got := bookmarks["u"].Tags; !reflect.DeepEqual(got, tt.want) {
				t.Errorf("tags = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRemoveDeletesEmptyBookmarks(t *testing.T) {
	bookmarks := sampleCollection()
	before := bookmarks.Clone()
	cmd := NewRemoveTagCommandFromText([]string{"https://c.example", "https://a.example", "https://missing"}, "solo, common", clock())

	res, err := cmd.Execute(bookmarks)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.DeletedCount != 1 || res.AffectedCount != 1 {
		t.Errorf("counts = affected %d deleted %d, want 1/1", res.AffectedCount, res.DeletedCount)
	}
	if _, ok := bookmarks["https://c.example"]; ok {
		t.Error("bookmark without tags should be deleted")
	}
	if res.AffectedCount+res.DeletedCount > len(cmd.TargetURLs()) {
		t.Error("counts exceed number of input URLs")
	}
	if _, ok := res.OriginalStates["https://missing"]; ok {
		t.Error("untouched URL must not appear in OriginalStates")
	}

	if err := cmd.Undo(bookmarks); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	sameExceptUpdated2(t, before, bookmarks)
}

func TestAddSkipsExistingTags(t *testing.T) {
	bookmarks := sampleCollection()
	cmd := NewAddTagCommandFromText([]string{"https://a.example", "https://b.example"}, "common，new , new", clock())

	if got := cmd.TargetTags(); !reflect.DeepEqual(got, []string{"common", "new"}) {
		t.Fatalf("TargetTags() = %v", got)
	}

	res, err := cmd.Execute(bookmarks)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.AffectedCount != 2 {
		t.Errorf("AffectedCount = %d, want 2", res.AffectedCount)
	}
	want := []string{"test", "organization", "common", "new"}
	if got := bookmarks["https://a.example"].Tags; !reflect.DeepEqual(got, want) {
		t.Errorf("tags = %v, want %v", got, want)
	}

	// Executing again changes nothing.
	res, err = cmd.Execute(bookmarks)
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if res.AffectedCount != 0 || len(res.OriginalStates) != 0 {
		t.Errorf("second Execute() = %+v, want zero effect", res)
	}
}

func TestExecuteThenUndoRestoresCollection(t *testing.T) {
	urls := []string{"https://a.example", "https://b.example", "https://c.example"}
	cmds := map[string]func() Command{
		"add":    func() Command { return NewAddTagCommand(urls, []string{"x"}, clock()) },
		"remove": func() Command { return NewRemoveTagCommand(urls, []string{"test", "solo"}, clock()) },
		"rename": func() Command { return NewRenameTagCommand(urls, []string{"test"}, []string{"common"}, clock()) },
		"composite": func() Command {
			return NewCompositeTagCommand("cleanup",
				NewRenameTagCommand(urls, []string{"test"}, []string{"t"}, clock()),
				NewRemoveTagCommand(urls, []string{"t", "solo"}, clock()),
				NewAddTagCommand(urls, []string{"done"}, clock()),
			)
		},
	}

	for name, build := range cmds {
		t.Run(name, func(t *testing.T) {
			bookmarks := sampleCollection()
			before := bookmarks.Clone()
			cmd := build()

			if _, err := cmd.Execute(bookmarks); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if err := cmd.Undo(bookmarks); err != nil {
				t.Fatalf("Undo() error = %v", err)
			}
			sameExceptUpdated2(t, before, bookmarks)
		})
	}
}

func TestUndoBeforeExecute(t *testing.T) {
	cmd := NewAddTagCommand([]string{"u"}, []string{"x"})
	if err := cmd.Undo(domain.Collection{}); err != ErrNotExecuted {
		t.Errorf("Undo() error = %v, want ErrNotExecuted", err)
	}
	if cmd.LastResult() != nil {
		t.Error("LastResult() should be nil before Execute")
	}
}

func TestCompositeAggregatesResults(t *testing.T) {
	bookmarks := sampleCollection()
	original := bookmarks["https://a.example"].Clone()

	composite := NewCompositeTagCommand("two steps",
		NewAddTagCommand([]string{"https://a.example"}, []string{"one"}, clock()),
		NewAddTagCommand([]string{"https://a.example"}, []string{"two"}, clock()),
	)
	res, err := composite.Execute(bookmarks)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.AffectedCount != 2 {
		t.Errorf("AffectedCount = %d, want 2", res.AffectedCount)
	}
	if got := res.OriginalStates["https://a.example"].Tags; !reflect.DeepEqual(got, original.Tags) {
		t.Errorf("snapshot tags = %v, want the state before the first sub-command %v", got, original.Tags)
	}
	if composite.Type() != TypeComposite || composite.Description() != "two steps" {
		t.Errorf("Type/Description = %s/%s", composite.Type(), composite.Description())
	}
	if got := composite.TargetTags(); !reflect.DeepEqual(got, []string{"one", "two"}) {
		t.Errorf("TargetTags() = %v", got)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	cmd := NewRenameTagCommand([]string{"u"}, []string{"a"}, []string{"b"})
	cmd.SourceTags()[0] = "mutated"
	cmd.TargetURLs()[0] = "mutated"
	if cmd.SourceTags()[0] != "a" || cmd.TargetURLs()[0] != "u" {
		t.Error("accessors must return defensive copies")
	}
}
