package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/linktags/internal/httpserver/deps"
	"github.com/MrSnakeDoc/linktags/internal/httpserver/handlers"
)

func init() { Register("admin", Admin, registerAdmin) }

func registerAdmin(r chi.Router, d deps.Deps) {
	r.Post("/reload", handlers.Reload(d))
	r.Get("/api/status", handlers.Status(d))
}
