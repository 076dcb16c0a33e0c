// Package handlers provides HTTP handlers for market clock queries.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/modules/market_hours"
)

// Handler handles market clock HTTP requests
type Handler struct {
	service *market_hours.Service
	clock   domain.Clock
	log     zerolog.Logger
}

// NewHandler creates a new market clock handler
func NewHandler(service *market_hours.Service, clock domain.Clock, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		clock:   clock,
		log:     log.With().Str("handler", "market_hours").Logger(),
	}
}

// HandleGetStatus handles GET /api/market/status
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	now := h.clock.Now()
	local := now.In(h.service.Location())

	data := map[string]interface{}{
		"phase":       h.service.PhaseAt(now),
		"local_time":  local.Format(time.RFC3339),
		"trading_day": h.service.IsTradingDay(now),
		"early_close": h.service.IsEarlyClose(now),
	}
	if name := h.service.HolidayName(now); name != "" {
		data["holiday"] = name
	}
	if closeAt, ok := h.service.SessionClose(now); ok {
		data["session_close"] = closeAt.Format(time.RFC3339)
	}
	if left, ok := h.service.TimeToClose(now); ok {
		data["minutes_to_close"] = int(left.Minutes())
	}
	nextPhase, at := h.service.NextTransition(now)
	data["next_phase"] = nextPhase
	data["next_transition"] = at.Format(time.RFC3339)

	response := map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
	h.writeJSON(w, http.StatusOK, response)
}

// HandleGetPhase handles GET /api/market/phase?at=RFC3339
func (h *Handler) HandleGetPhase(w http.ResponseWriter, r *http.Request) {
	at := h.clock.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "at must be an RFC3339 timestamp")
			return
		}
		at = parsed
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"at":    at.In(h.service.Location()).Format(time.RFC3339),
			"phase": h.service.PhaseAt(at),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
	h.writeJSON(w, http.StatusOK, response)
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
