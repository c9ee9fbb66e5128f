package handlers

import (
	"context"
	"net/http"

	"github.com/MrSnakeDoc/linktags/internal/commands"
	"github.com/MrSnakeDoc/linktags/internal/httpserver/deps"
)

type historyResponse struct {
	commands.HistoryRecord
	CanUndo bool `json:"canUndo"`
	CanRedo bool `json:"canRedo"`
}

type stepResponse struct {
	Applied bool `json:"applied"`
	historyResponse
}

type maxSizeRequest struct {
	MaxSize int `json:"maxSize"`
}

func history(m *commands.Manager) historyResponse {
	return historyResponse{HistoryRecord: m.Record(), CanUndo: m.CanUndo(), CanRedo: m.CanRedo()}
}

// History returns the undo/redo history.
func History(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, history(d.Commands))
	}
}

// ClearHistory drops the history without touching bookmarks.
func ClearHistory(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Commands.Clear(r.Context()); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, history(d.Commands))
	}
}

// Undo reverts the last applied command.
func Undo(d deps.Deps) http.HandlerFunc {
	return step(d, (*commands.Manager).Undo)
}

// Redo re-applies the next command.
func Redo(d deps.Deps) http.HandlerFunc {
	return step(d, (*commands.Manager).Redo)
}

func step(d deps.Deps, fn func(*commands.Manager, context.Context) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		applied, err := fn(d.Commands, r.Context())
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, stepResponse{Applied: applied, historyResponse: history(d.Commands)})
	}
}

// SetMaxHistorySize changes the history bound.
func SetMaxHistorySize(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req maxSizeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := d.Commands.SetMaxHistorySize(r.Context(), req.MaxSize); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, history(d.Commands))
	}
}
