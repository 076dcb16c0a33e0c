package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers universe routes on the router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/universe", h.HandleGetUniverse)
	r.Post("/build-watchlist", h.HandleBuildWatchlist)
}
