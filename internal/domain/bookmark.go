package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrStaleRevision is returned by conditional writes when the collection
// changed after it was read.
var ErrStaleRevision = errors.New("bookmarks changed since they were read")

// BookmarkEntry is the tagged state stored for a single URL.
type BookmarkEntry struct {
	// Tags keeps insertion order. No duplicates, no blank values.
	Tags []string `json:"tags"`

	Meta BookmarkMeta `json:"meta"`
}

// BookmarkMeta holds timestamps (epoch ms) and any extra fields
// written by other clients. Extra fields survive a round trip.
type BookmarkMeta struct {
	Title   string
	Created int64
	Updated int64

	// Updated2 is the time of the last command-driven mutation.
	// Updated may be bumped by other writers, Updated2 only by commands.
	Updated2 int64

	// Extra carries unknown meta keys verbatim.
	Extra map[string]any
}

var knownMetaKeys = []string{"title", "created", "updated", "updated2"}

// MarshalJSON flattens Extra next to the known keys.
func (m BookmarkMeta) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+4)
	for k, v := range m.Extra {
		if slices.Contains(knownMetaKeys, k) {
			continue
		}
		out[k] = v
	}
	if m.Title != "" {
		out["title"] = m.Title
	}
	out["created"] = m.Created
	out["updated"] = m.Updated
	if m.Updated2 != 0 {
		out["updated2"] = m.Updated2
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits known keys from Extra.
func (m *BookmarkMeta) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode bookmark meta: %w", err)
	}

	*m = BookmarkMeta{}
	for key, value := range raw {
		var err error
		switch key {
		case "title":
			err = json.Unmarshal(value, &m.Title)
		case "created":
			err = json.Unmarshal(value, &m.Created)
		case "updated":
			err = json.Unmarshal(value, &m.Updated)
		case "updated2":
			err = json.Unmarshal(value, &m.Updated2)
		default:
			var v any
			err = json.Unmarshal(value, &v)
			if err == nil {
				if m.Extra == nil {
					m.Extra = make(map[string]any)
				}
				m.Extra[key] = v
			}
		}
		if err != nil {
			return fmt.Errorf("failed to decode meta field %q: %w", key, err)
		}
	}
	return nil
}

// Clone returns a deep copy of the entry.
func (e *BookmarkEntry) Clone() *BookmarkEntry {
	if e == nil {
		return nil
	}
	c := &BookmarkEntry{
		Tags: slices.Clone(e.Tags),
		Meta: e.Meta,
	}
	if e.Meta.Extra != nil {
		c.Meta.Extra = cloneExtra(e.Meta.Extra)
	}
	return c
}

func cloneExtra(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

// cloneValue copies the container types produced by encoding/json.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneExtra(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// BookmarkKeyValuePair binds an entry to its URL.
// A nil Entry inside a persisted batch means the URL was deleted.
type BookmarkKeyValuePair struct {
	URL   string         `json:"url"`
	Entry *BookmarkEntry `json:"entry,omitempty"`
}

// Collection is the in-memory set of bookmarks a command mutates, keyed by URL.
type Collection map[string]*BookmarkEntry

// CollectionFromPairs builds a collection, skipping deleted or empty pairs.
func CollectionFromPairs(pairs []BookmarkKeyValuePair) Collection {
	c := make(Collection, len(pairs))
	for _, p := range pairs {
		if p.URL == "" || p.Entry == nil {
			continue
		}
		c[p.URL] = p.Entry
	}
	return c
}

// Pairs returns one pair per requested URL. URLs missing from the
// collection come back with a nil Entry.
func (c Collection) Pairs(urls []string) []BookmarkKeyValuePair {
	pairs := make([]BookmarkKeyValuePair, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, url := range urls {
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		pairs = append(pairs, BookmarkKeyValuePair{URL: url, Entry: c[url]})
	}
	return pairs
}

// Clone deep copies every entry.
func (c Collection) Clone() Collection {
	out := make(Collection, len(c))
	for url, entry := range c {
		out[url] = entry.Clone()
	}
	return out
}

// URLs returns the sorted keys of the collection.
func (c Collection) URLs() []string {
	return slices.Sorted(maps.Keys(c))
}
