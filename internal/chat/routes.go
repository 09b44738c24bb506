package chat

import (
	"github.com/go-chi/chi/v5"

	"github.com/Vovarama1992/pixode-support/internal/identity"
)

// RegisterRoutes mounts the widget and dashboard API. The caller's identity
// must already be in the request context (identity.Middleware).
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/{id}", h.GetSession)
		r.Get("/sessions/{id}/messages", h.ListMessages)
		r.Post("/sessions/{id}/messages", h.PostMessage)
		r.Get("/sessions/{id}/ws", h.SessionFeed)

		r.Route("/agent", func(r chi.Router) {
			r.Use(identity.RequireAgent)
			r.Get("/queue", h.Queue)
			r.Get("/worklist", h.Worklist)
			r.Post("/sessions/{id}/claim", h.Claim)
			r.Post("/sessions/{id}/close", h.Close)
			r.Get("/ws", h.SessionsFeed)
		})
	})
}
