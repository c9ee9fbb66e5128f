package domain

import (
	"slices"
	"strings"
)

// SplitTags parses free text of comma separated tags.
// Both ASCII and full-width commas separate tags.
// Example: "go, news，go" -> ["go", "news"]
func SplitTags(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '，'
	})
	return NormalizeTags(parts)
}

// NormalizeTags trims every tag, drops blank ones and removes duplicates
// while keeping the first occurrence in place.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// ContainsAll reports whether every wanted tag is present in tags.
func ContainsAll(tags, wanted []string) bool {
	for _, w := range wanted {
		if !slices.Contains(tags, w) {
			return false
		}
	}
	return true
}
