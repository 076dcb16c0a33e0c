package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers position routes on the router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/positions", func(r chi.Router) {
		r.Get("/", h.HandleGetPositions)
	})
}
