package syncmanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/syncadapter"
)

func entryAt(updated int64, title string, tags ...string) *domain.BookmarkEntry {
	return &domain.BookmarkEntry{
		Tags: tags,
		Meta: domain.BookmarkMeta{Title: title, Created: updated, Updated: updated},
	}
}

func TestMergeTagStrategies(t *testing.T) {
	local := domain.Collection{
		"https://both":  entryAt(10, "", "a", "b"),
		"https://local": entryAt(10, "", "l"),
	}
	remote := domain.Collection{
		"https://both":   entryAt(20, "", "b", "c"),
		"https://remote": entryAt(10, "", "r"),
	}

	tests := []struct {
		name string
		tags string
		want []string
	}{
		{"default is union", "", []string{"a", "b", "c"}},
		{"union", domain.MergeUnion, []string{"a", "b", "c"}},
		{"local", domain.MergeLocal, []string{"a", "b"}},
		{"remote", domain.MergeRemote, []string{"b", "c"}},
		{"newer", domain.MergeNewer, []string{"b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewMerger().Merge(local, remote, domain.MergeStrategy{Tags: tt.tags})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got["https://both"].Tags)
			assert.Equal(t, []string{"l"}, got["https://local"].Tags)
			assert.Equal(t, []string{"r"}, got["https://remote"].Tags)
		})
	}
}

func TestMergeMeta(t *testing.T) {
	l := &domain.BookmarkEntry{Tags: []string{"a"}, Meta: domain.BookmarkMeta{
		Title: "old", Created: 5, Updated: 10, Extra: map[string]any{"color": "red", "pin": true},
	}}
	r := &domain.BookmarkEntry{Tags: []string{"a"}, Meta: domain.BookmarkMeta{
		Title: "new", Created: 7, Updated: 8, Updated2: 30, Extra: map[string]any{"color": "blue"},
	}}

	got, err := NewMerger().Merge(domain.Collection{"u": l}, domain.Collection{"u": r}, domain.MergeStrategy{})
	require.NoError(t, err)

	meta := got["u"].Meta
	assert.Equal(t, "new", meta.Title)
	assert.EqualValues(t, 5, meta.Created)
	assert.EqualValues(t, 10, meta.Updated)
	assert.EqualValues(t, 30, meta.Updated2)
	assert.Equal(t, map[string]any{"color": "blue", "pin": true}, meta.Extra)

	// Inputs stay untouched.
	assert.Equal(t, "red", l.Meta.Extra["color"])
}

func TestMergeMetaSides(t *testing.T) {
	l := entryAt(10, "local", "a")
	r := entryAt(20, "remote", "a")

	tests := []struct {
		meta string
		want string
	}{
		{domain.MergeLocal, "local"},
		{domain.MergeRemote, "remote"},
		{domain.MergeNewer, "remote"},
	}
	for _, tt := range tests {
		t.Run(tt.meta, func(t *testing.T) {
			got, err := NewMerger().Merge(domain.Collection{"u": l}, domain.Collection{"u": r}, domain.MergeStrategy{Meta: tt.meta})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got["u"].Meta.Title)
		})
	}
}

func TestMergeNewerTieGoesLocal(t *testing.T) {
	got, err := NewMerger().Merge(
		domain.Collection{"u": entryAt(10, "local", "l")},
		domain.Collection{"u": entryAt(10, "remote", "r")},
		domain.MergeStrategy{Tags: domain.MergeNewer, Meta: domain.MergeNewer},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"l"}, got["u"].Tags)
	assert.Equal(t, "local", got["u"].Meta.Title)
}

func TestMergeUnknownStrategy(t *testing.T) {
	_, err := NewMerger().Merge(nil, nil, domain.MergeStrategy{Tags: "shuffle"})
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	_, err = NewMerger().Merge(nil, nil, domain.MergeStrategy{Meta: "shuffle"})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestMergeCustomStrategy(t *testing.T) {
	m := NewMerger()
	m.RegisterTags("none", func(_, _ *domain.BookmarkEntry) []string { return nil })

	got, err := m.Merge(
		domain.Collection{"u": entryAt(1, "", "a"), "v": entryAt(1, "", "b")},
		domain.Collection{"u": entryAt(1, "", "a")},
		domain.MergeStrategy{Tags: "none"},
	)
	require.NoError(t, err)
	assert.NotContains(t, got, "u", "entries left without tags are dropped")
	assert.Contains(t, got, "v")
}

func TestDecodeDocument(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    map[string][]string
		wantErr bool
	}{
		{
			name: "envelope",
			data: `{"version":3,"exportedAt":1,"bookmarks":{"https://a":{"tags":["x"],"meta":{"created":1,"updated":1}}}}`,
			want: map[string][]string{"https://a": {"x"}},
		},
		{
			name: "bare collection",
			data: `{"https://a":{"tags":["x"," x ","y"],"meta":{"created":1,"updated":1}}}`,
			want: map[string][]string{"https://a": {"x", "y"}},
		},
		{
			name: "drops untagged entries",
			data: `{"bookmarks":{"https://a":{"tags":[],"meta":{}},"https://b":{"tags":["b"],"meta":{}}}}`,
			want: map[string][]string{"https://b": {"b"}},
		},
		{name: "empty payload", data: "  ", want: map[string][]string{}},
		{name: "future version", data: `{"version":99,"bookmarks":{}}`, wantErr: true},
		{name: "not json", data: `<xml/>`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeDocument(tt.data)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, syncadapter.ErrInvalidData)
				return
			}
			require.NoError(t, err)
			tags := make(map[string][]string, len(got))
			for url, e := range got {
				tags[url] = e.Tags
			}
			assert.Equal(t, tt.want, tags)
		})
	}
}

func TestEncodeDocumentKeepsExtraMeta(t *testing.T) {
	in := domain.Collection{"https://a": {
		Tags: []string{"x"},
		Meta: domain.BookmarkMeta{Created: 1, Updated: 2, Extra: map[string]any{"favicon": "f.ico"}},
	}}
	data, err := EncodeDocument(in, 42)
	require.NoError(t, err)
	assert.Contains(t, data, `"version":3`)
	assert.Contains(t, data, `"exportedAt":42`)

	out, err := DecodeDocument(data)
	require.NoError(t, err)
	assert.Equal(t, "f.ico", out["https://a"].Meta.Extra["favicon"])
}
