package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/buildhive/buildhive/internal/middleware"
	"github.com/buildhive/buildhive/internal/port/database"
)

// MountRoutes attaches all API routes to the router. Routes under /api/v1
// require a resolved user; /health and /ws do not.
func MountRoutes(r chi.Router, h *Handlers, store database.Store) {
	r.Get("/health", h.Health)
	r.Get("/ws", h.hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(store))

		r.Post("/projects/{projectID}/jobs", h.CreateJob)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", h.ListJobs)
			r.Get("/{jobID}", h.GetJob)
			r.Post("/{jobID}/approve", h.ApproveJob)
			r.Post("/{jobID}/continue", h.ContinueJob)
			r.Get("/{jobID}/stream", h.StreamJob)
		})

		r.Route("/credits", func(r chi.Router) {
			r.Get("/", h.GetCredits)
			r.Post("/add", h.AddCredits)
		})
	})
}
