// Package handlers provides HTTP handlers for the trading universe.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkomnos/stealthtrader/internal/domain"
)

// rebuildWindow bounds a detached screener rebuild.
const rebuildWindow = 5 * time.Minute

// WatchlistSource reads the persistent symbol list.
type WatchlistSource interface {
	Symbols() []string
	Len() int
}

// WorkingSetSource reads the scanned subset of the watchlist.
type WorkingSetSource interface {
	WorkingSet() domain.WorkingSet
}

// Rebuilder triggers a watchlist refresh from the external screener.
type Rebuilder interface {
	Configured() bool
	Rebuild(ctx context.Context) (int, error)
}

// Handler handles universe HTTP requests
type Handler struct {
	watchlist  WatchlistSource
	workingSet WorkingSetSource
	builder    Rebuilder
	log        zerolog.Logger
}

// NewHandler creates a new universe handler
func NewHandler(watchlist WatchlistSource, workingSet WorkingSetSource, builder Rebuilder, log zerolog.Logger) *Handler {
	return &Handler{
		watchlist:  watchlist,
		workingSet: workingSet,
		builder:    builder,
		log:        log.With().Str("handler", "universe").Logger(),
	}
}

// HandleGetUniverse handles GET /api/universe
func (h *Handler) HandleGetUniverse(w http.ResponseWriter, r *http.Request) {
	workingSet := h.workingSet.WorkingSet()

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"watchlist": map[string]interface{}{
				"symbols": h.watchlist.Symbols(),
				"count":   h.watchlist.Len(),
			},
			"working_set": workingSet,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
	h.writeJSON(w, http.StatusOK, response)
}

// HandleBuildWatchlist handles POST /api/build-watchlist. The rebuild
// runs detached; the response only acknowledges the trigger.
func (h *Handler) HandleBuildWatchlist(w http.ResponseWriter, r *http.Request) {
	if !h.builder.Configured() {
		h.writeError(w, http.StatusServiceUnavailable, "watchlist builder not configured")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), rebuildWindow)
		defer cancel()
		count, err := h.builder.Rebuild(ctx)
		if err != nil {
			h.log.Error().Err(err).Msg("Watchlist rebuild failed")
			return
		}
		h.log.Info().Int("symbols", count).Msg("Watchlist rebuild finished")
	}()

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"status": "rebuild started",
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
	h.writeJSON(w, http.StatusAccepted, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": message,
	})
}
