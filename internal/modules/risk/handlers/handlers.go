// Package handlers provides HTTP handlers for risk state operations.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/modules/risk"
)

// AccountSource supplies the account snapshot used for drawdown math.
type AccountSource interface {
	AccountSnapshot(ctx context.Context) (*domain.AccountSnapshot, error)
}

// Handler handles risk state HTTP requests
type Handler struct {
	manager  *risk.Manager
	safeMode *risk.SafeMode
	accounts AccountSource
	log      zerolog.Logger
}

// NewHandler creates a new risk state handler
func NewHandler(manager *risk.Manager, safeMode *risk.SafeMode, accounts AccountSource, log zerolog.Logger) *Handler {
	return &Handler{
		manager:  manager,
		safeMode: safeMode,
		accounts: accounts,
		log:      log.With().Str("handler", "risk").Logger(),
	}
}

// HandleGetStatus handles GET /api/risk/status
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.accounts.AccountSnapshot(r.Context())
	if err != nil {
		// Gate state is still reportable without fresh account data.
		h.log.Warn().Err(err).Msg("Failed to get account snapshot for risk status")
		snapshot = nil
	}

	response := map[string]interface{}{
		"data": h.manager.Status(snapshot),
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
	h.writeJSON(w, http.StatusOK, response)
}

// HandleClearSafeMode handles POST /api/risk/safe-mode/clear
func (h *Handler) HandleClearSafeMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClearedBy string `json:"cleared_by"`
	}
	if r.Body != nil {
		// An empty or malformed body falls back to the default actor.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.ClearedBy == "" {
		req.ClearedBy = "operator"
	}

	wasActive := h.safeMode.Active()
	h.safeMode.Clear(req.ClearedBy)

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"safe_mode":  false,
			"was_active": wasActive,
			"cleared_by": req.ClearedBy,
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
