package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/linktags/internal/httpserver/deps"
	"github.com/MrSnakeDoc/linktags/internal/httpserver/handlers"
)

func init() { Register("tags", API, registerTags) }

func registerTags(r chi.Router, d deps.Deps) {
	r.Get("/api/bookmarks", handlers.Bookmarks(d))

	r.Post("/api/commands", handlers.ExecuteCommand(d))
	r.Post("/api/commands/batch", handlers.ExecuteBatch(d))

	r.Get("/api/history", handlers.History(d))
	r.Delete("/api/history", handlers.ClearHistory(d))
	r.Post("/api/history/undo", handlers.Undo(d))
	r.Post("/api/history/redo", handlers.Redo(d))
	r.Put("/api/history/max-size", handlers.SetMaxHistorySize(d))
}
