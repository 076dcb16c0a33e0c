// Package handlers provides HTTP handlers for the open position book.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tkomnos/stealthtrader/internal/domain"
)

// PositionSource exposes the monitor's open book.
type PositionSource interface {
	OpenPositions() []domain.Position
	OpenValue() decimal.Decimal
}

// Handler handles position HTTP requests
type Handler struct {
	positions PositionSource
	log       zerolog.Logger
}

// NewHandler creates a new position handler
func NewHandler(positions PositionSource, log zerolog.Logger) *Handler {
	return &Handler{
		positions: positions,
		log:       log.With().Str("handler", "positions").Logger(),
	}
}

// positionView augments the raw position with its unrealized return so
// dashboards do not have to recompute it.
type positionView struct {
	domain.Position
	UnrealizedPct decimal.Decimal `json:"unrealized_pct"`
}

func newPositionView(p domain.Position) positionView {
	return positionView{
		Position:      p,
		UnrealizedPct: p.ReturnPct(p.LastKnownPrice).Mul(decimal.NewFromInt(100)).Round(2),
	}
}

// HandleGetPositions handles GET /api/positions
func (h *Handler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	open := h.positions.OpenPositions()
	views := make([]positionView, 0, len(open))
	for i := range open {
		views = append(views, newPositionView(open[i]))
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"positions":  views,
			"count":      len(views),
			"open_value": h.positions.OpenValue(),
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
