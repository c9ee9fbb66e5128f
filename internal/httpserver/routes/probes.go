package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/linktags/internal/httpserver/deps"
	"github.com/MrSnakeDoc/linktags/internal/httpserver/handlers"
)

func init() {
	Register("liveness", Public, func(r chi.Router, d deps.Deps) {
		r.Get("/healthz", handlers.Healthz(d))
	})
	Register("readiness", Internal, func(r chi.Router, d deps.Deps) {
		r.Get("/readyz", handlers.Readyz(d))
	})
}
