package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/linktags/internal/httpserver/deps"
	"github.com/MrSnakeDoc/linktags/internal/httpserver/handlers"
)

func init() {
	Register("sync-config", API, func(r chi.Router, d deps.Deps) {
		r.Get("/api/sync/services", handlers.SyncServices(d))
	})
	Register("sync", Sync, registerSync)
}

// Sync and discovery run longer than the API timeout and carry their own
// deadlines.
func registerSync(r chi.Router, d deps.Deps) {
	r.Post("/api/sync", handlers.SyncAll(d))
	r.Post("/api/sync/{serviceID}", handlers.SyncService(d))
	r.Post("/api/sync/{serviceID}/queue", handlers.QueueSync(d))
	r.Get("/api/sync/{serviceID}/auth", handlers.SyncAuthStatus(d))
	r.Get("/api/extensions/discover", handlers.DiscoverExtensions(d))
}
