// Package handlers provides HTTP handlers for trade history.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkomnos/stealthtrader/internal/domain"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// TradeSource supplies closed trades from the journal, newest first.
type TradeSource interface {
	History(limit int) ([]domain.TradeRecord, error)
	BySymbol(symbol string, limit int) ([]domain.TradeRecord, error)
}

// Handler handles trade history HTTP requests
type Handler struct {
	trades TradeSource
	log    zerolog.Logger
}

// NewHandler creates a new trade history handler
func NewHandler(trades TradeSource, log zerolog.Logger) *Handler {
	return &Handler{
		trades: trades,
		log:    log.With().Str("handler", "trades").Logger(),
	}
}

// HandleGetTrades handles GET /api/trades?limit=&symbol=
func (h *Handler) HandleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var (
		trades []domain.TradeRecord
		err    error
	)
	if symbol := strings.TrimSpace(r.URL.Query().Get("symbol")); symbol != "" {
		trades, err = h.trades.BySymbol(symbol, limit)
	} else {
		trades, err = h.trades.History(limit)
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load trade history")
		h.writeError(w, http.StatusInternalServerError, "failed to load trade history")
		return
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"trades": trades,
			"count":  len(trades),
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

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
