package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all risk state routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/risk", func(r chi.Router) {
		r.Get("/status", h.HandleGetStatus)
		r.Post("/safe-mode/clear", h.HandleClearSafeMode)
	})
}
