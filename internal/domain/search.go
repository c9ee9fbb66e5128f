package domain

import (
	"net/url"
	"slices"
	"strings"
)

const (
	// Scoring weights
	ScoreExactMatch     = 100.0
	ScorePrefixMatch    = 75.0
	ScoreSubstringMatch = 50.0
	ScoreFuzzyMatch     = 25.0

	// Position bonus (earlier is better)
	ScorePositionBonus = 10.0

	// An exact tag hit outranks any title or URL match.
	ScoreExactTagBonus = 200.0
)

// Match is a bookmark selected by SearchBookmarks.
type Match struct {
	URL   string         `json:"url"`
	Entry *BookmarkEntry `json:"entry"`
	Score float64        `json:"score,omitempty"`
}

// ScoreBookmark rates how well query matches a bookmark's tags, title and
// URL host. The best field wins. Zero means no match.
func ScoreBookmark(query, rawURL string, e *BookmarkEntry) float64 {
	if e == nil {
		return 0.0
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return 0.0
	}

	best := 0.0
	for _, tag := range e.Tags {
		tag = strings.ToLower(tag)
		if tag == query {
			return ScoreExactMatch + ScoreExactTagBonus
		}
		best = max(best, scoreText(query, tag))
	}
	best = max(best, scoreText(query, strings.ToLower(e.Meta.Title)))
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		best = max(best, scoreText(query, strings.ToLower(strings.TrimPrefix(u.Host, "www."))))
	}
	return best
}

// scoreText matches a lower-cased query against a lower-cased field.
func scoreText(query, field string) float64 {
	if field == "" {
		return 0.0
	}

	// Exact match (highest score)
	if query == field {
		return ScoreExactMatch
	}

	// Prefix match
	if strings.HasPrefix(field, query) {
		return ScorePrefixMatch
	}

	// Substring match
	if index := strings.Index(field, query); index >= 0 {
		// Earlier substring matches get higher score
		substringBonus := ScorePositionBonus * (1.0 - float64(index)/float64(len(field)))
		return ScoreSubstringMatch + substringBonus
	}

	// Every query word appears somewhere in the field
	if words := strings.Fields(query); len(words) > 1 {
		allMatch := true
		for _, word := range words {
			if !strings.Contains(field, word) {
				allMatch = false
				break
			}
		}
		if allMatch {
			return ScoreFuzzyMatch
		}
	}

	if similarity := calculateSimilarity(query, field); similarity > 0.5 {
		return ScoreFuzzyMatch * similarity
	}
	return 0.0
}

// calculateSimilarity is the ratio of query characters found in s.
func calculateSimilarity(query, s string) float64 {
	if query == "" || s == "" {
		return 0.0
	}
	matches, total := 0, 0
	for _, c := range query {
		total++
		if strings.ContainsRune(s, c) {
			matches++
		}
	}
	return float64(matches) / float64(total)
}

// SearchBookmarks returns the bookmarks carrying every tag in tags and,
// when query is set, matching it. With a query results are ranked by
// score, otherwise by most recent update. limit <= 0 means no limit.
func SearchBookmarks(c Collection, query string, tags []string, limit int) []Match {
	tags = NormalizeTags(tags)
	query = strings.TrimSpace(query)

	matches := make([]Match, 0, len(c))
	for u, e := range c {
		if e == nil || !ContainsAll(e.Tags, tags) {
			continue
		}
		m := Match{URL: u, Entry: e}
		if query != "" {
			if m.Score = ScoreBookmark(query, u, e); m.Score == 0 {
				continue
			}
		}
		matches = append(matches, m)
	}

	slices.SortFunc(matches, func(a, b Match) int {
		switch {
		case a.Score != b.Score:
			if a.Score > b.Score {
				return -1
			}
			return 1
		case a.Entry.Meta.Updated != b.Entry.Meta.Updated:
			if a.Entry.Meta.Updated > b.Entry.Meta.Updated {
				return -1
			}
			return 1
		default:
			return strings.Compare(a.URL, b.URL)
		}
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
