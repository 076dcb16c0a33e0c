package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkomnos/stealthtrader/internal/tokens"
)

// tokenHandler accepts operator-pushed access tokens, the manual
// fallback when the websocket feed is not running.
type tokenHandler struct {
	manager *tokens.Manager
	log     zerolog.Logger
}

func newTokenHandler(manager *tokens.Manager, log zerolog.Logger) *tokenHandler {
	return &tokenHandler{
		manager: manager,
		log:     log.With().Str("handler", "tokens").Logger(),
	}
}

type tokenRequest struct {
	AccessToken       string `json:"access_token"`
	AccessTokenSecret string `json:"access_token_secret"`
}

// handleSetTokens handles POST /api/tokens.
func (h *tokenHandler) handleSetTokens(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AccessToken == "" || req.AccessTokenSecret == "" {
		h.writeError(w, http.StatusBadRequest, "access_token and access_token_secret are required")
		return
	}

	if err := h.manager.SetTokens(req.AccessToken, req.AccessTokenSecret); err != nil {
		h.log.Error().Err(err).Msg("Failed to install tokens")
		h.writeError(w, http.StatusInternalServerError, "failed to install tokens")
		return
	}

	status := h.manager.Status()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data": map[string]interface{}{
			"env":   status.Env,
			"state": status.State,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *tokenHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
