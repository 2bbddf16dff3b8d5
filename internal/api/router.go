package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// NewRouter creates a chi router with all routes mounted. The health check is
// unauthenticated; everything under /api requires the Bearer token when one
// is configured.
func NewRouter(h *Handler, token string, logger zerolog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logger))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(api chi.Router) {
		api.Use(AuthMiddleware(token != "", token))

		api.Get("/reminders", h.ListReminders)
		api.Post("/reminders", h.CreateReminder)
		api.Get("/reminders/{id}", h.GetReminder)
		api.Put("/reminders/{id}", h.UpdateReminder)
		api.Post("/reminders/{id}/cancel", h.CancelReminder)
		api.Delete("/reminders/{id}", h.DeleteReminder)

		api.Post("/run", h.RunNow)
		api.Get("/runs", h.ListRuns)
	})

	return r
}
