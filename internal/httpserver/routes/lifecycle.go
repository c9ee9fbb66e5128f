package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/linktags/internal/httpserver/deps"
	"github.com/MrSnakeDoc/linktags/internal/httpserver/handlers"
)

func init() {
	Register("lifecycle", API, registerLifecycle)
	// The bridge is long-lived: no timeout. Origins are checked on upgrade.
	Register("bridge", Internal, func(r chi.Router, d deps.Deps) {
		r.Get("/api/bridge", handlers.Bridge(d))
	})
}

func registerLifecycle(r chi.Router, d deps.Deps) {
	r.Post("/api/lifecycle/visibility", handlers.Visibility(d))
	r.Post("/api/lifecycle/unload", handlers.Unload(d))
}
