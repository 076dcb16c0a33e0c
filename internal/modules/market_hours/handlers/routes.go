package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers market clock routes on the router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/market", func(r chi.Router) {
		r.Get("/status", h.HandleGetStatus)
		r.Get("/phase", h.HandleGetPhase)
	})
}
