package syncmanager

import (
	"fmt"
	"sync"

	"github.com/MrSnakeDoc/linktags/internal/domain"
)

// TagMerger combines the tags of one URL present on both sides.
type TagMerger func(local, remote *domain.BookmarkEntry) []string

// MetaMerger combines the meta of one URL present on both sides.
type MetaMerger func(local, remote *domain.BookmarkEntry) domain.BookmarkMeta

// Merger holds the named strategies selectable through
// SyncServiceConfig.MergeStrategy.
type Merger struct {
	mu   sync.RWMutex
	tags map[string]TagMerger
	meta map[string]MetaMerger
}

// NewMerger returns a registry with the built-in strategies.
func NewMerger() *Merger {
	m := &Merger{
		tags: make(map[string]TagMerger),
		meta: make(map[string]MetaMerger),
	}
	m.RegisterTags(domain.MergeUnion, unionTags)
	m.RegisterTags(domain.MergeLocal, func(l, _ *domain.BookmarkEntry) []string { return cloneTags(l.Tags) })
	m.RegisterTags(domain.MergeRemote, func(_, r *domain.BookmarkEntry) []string { return cloneTags(r.Tags) })
	m.RegisterTags(domain.MergeNewer, func(l, r *domain.BookmarkEntry) []string { return cloneTags(newer(l, r).Tags) })

	m.RegisterMeta(domain.MergeMerge, mergeMeta)
	m.RegisterMeta(domain.MergeLocal, func(l, _ *domain.BookmarkEntry) domain.BookmarkMeta { return l.Clone().Meta })
	m.RegisterMeta(domain.MergeRemote, func(_, r *domain.BookmarkEntry) domain.BookmarkMeta { return r.Clone().Meta })
	m.RegisterMeta(domain.MergeNewer, func(l, r *domain.BookmarkEntry) domain.BookmarkMeta { return newer(l, r).Clone().Meta })
	return m
}

// RegisterTags adds or replaces a tag strategy.
func (m *Merger) RegisterTags(name string, fn TagMerger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[name] = fn
}

// RegisterMeta adds or replaces a meta strategy.
func (m *Merger) RegisterMeta(name string, fn MetaMerger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[name] = fn
}

// Merge combines two collections. URLs present on one side only are kept
// as they are. Empty strategy names fall back to union and merge.
func (m *Merger) Merge(local, remote domain.Collection, strategy domain.MergeStrategy) (domain.Collection, error) {
	tagsName, metaName := strategy.Tags, strategy.Meta
	if tagsName == "" {
		tagsName = domain.MergeUnion
	}
	if metaName == "" {
		metaName = domain.MergeMerge
	}

	m.mu.RLock()
	tagFn, okTags := m.tags[tagsName]
	metaFn, okMeta := m.meta[metaName]
	m.mu.RUnlock()
	if !okTags {
		return nil, fmt.Errorf("%w: tags %q", ErrUnknownStrategy, tagsName)
	}
	if !okMeta {
		return nil, fmt.Errorf("%w: meta %q", ErrUnknownStrategy, metaName)
	}

	out := make(domain.Collection, len(local)+len(remote))
	for url, l := range local {
		if l == nil {
			continue
		}
		r, ok := remote[url]
		if !ok || r == nil {
			out[url] = l.Clone()
			continue
		}
		tags := domain.NormalizeTags(tagFn(l, r))
		if len(tags) == 0 {
			continue
		}
		out[url] = &domain.BookmarkEntry{Tags: tags, Meta: metaFn(l, r)}
	}
	for url, r := range remote {
		if r == nil {
			continue
		}
		if l := local[url]; l == nil {
			out[url] = r.Clone()
		}
	}
	return out, nil
}

// unionTags keeps local order and appends remote-only tags.
func unionTags(l, r *domain.BookmarkEntry) []string {
	all := make([]string, 0, len(l.Tags)+len(r.Tags))
	all = append(all, l.Tags...)
	all = append(all, r.Tags...)
	return domain.NormalizeTags(all)
}

// mergeMeta takes the earliest creation time, the latest update times and
// the title and extra fields of the newer side over the older one.
func mergeMeta(l, r *domain.BookmarkEntry) domain.BookmarkMeta {
	older, recent := r, l
	if newer(l, r) == r {
		older, recent = l, r
	}

	out := older.Clone().Meta
	top := recent.Clone().Meta

	if top.Title != "" {
		out.Title = top.Title
	}
	out.Created = minNonZero(l.Meta.Created, r.Meta.Created)
	out.Updated = max(l.Meta.Updated, r.Meta.Updated)
	out.Updated2 = max(l.Meta.Updated2, r.Meta.Updated2)
	if len(top.Extra) > 0 && out.Extra == nil {
		out.Extra = make(map[string]any, len(top.Extra))
	}
	for k, v := range top.Extra {
		out.Extra[k] = v
	}
	return out
}

// newer picks the entry with the later modification time. Ties go local.
func newer(l, r *domain.BookmarkEntry) *domain.BookmarkEntry {
	if modified(r) > modified(l) {
		return r
	}
	return l
}

func modified(e *domain.BookmarkEntry) int64 {
	return max(e.Meta.Updated, e.Meta.Updated2)
}

func minNonZero(a, b int64) int64 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	default:
		return min(a, b)
	}
}

func cloneTags(tags []string) []string {
	return append([]string(nil), tags...)
}
