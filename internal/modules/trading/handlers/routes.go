package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers trade history routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/trades", func(r chi.Router) {
		r.Get("/", h.HandleGetTrades)
	})
}
