package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/linktags/internal/httpserver/deps"
)

type visibilityRequest struct {
	Visible bool `json:"visible"`
}

type lifecycleResponse struct {
	Owner  string `json:"owner"`
	Leader bool   `json:"leader"`
}

func leadership(d deps.Deps) lifecycleResponse {
	return lifecycleResponse{Owner: d.AutoSync.OwnerID(), Leader: d.AutoSync.HoldsLock()}
}

// Visibility forwards a page visibility change to the auto-sync scheduler.
func Visibility(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req visibilityRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		d.AutoSync.OnVisibilityChange(r.Context(), req.Visible)
		writeJSON(w, http.StatusOK, leadership(d))
	}
}

// Unload releases the auto-sync lock if this instance holds it.
func Unload(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.AutoSync.OnUnload(r.Context())
		writeJSON(w, http.StatusOK, leadership(d))
	}
}
