package handlers

import (
	"net/http"
	"strconv"

	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/httpserver/deps"
)

type bookmarksResponse struct {
	Total   int            `json:"total"`
	Results []domain.Match `json:"results"`
}

// Bookmarks lists bookmarks filtered by ?tags=a,b (all required) and
// ranked by the optional ?q= query.
func Bookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 0
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		snapshot, err := d.Store.Snapshot(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		results := domain.SearchBookmarks(snapshot, q.Get("q"), domain.SplitTags(q.Get("tags")), limit)
		writeJSON(w, http.StatusOK, bookmarksResponse{Total: len(results), Results: results})
	}
}
