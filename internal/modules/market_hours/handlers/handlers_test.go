package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/modules/market_hours"
)

// newHandler pins the clock to a regular Tuesday session, 11:00 Eastern.
func newHandler(t *testing.T) *Handler {
	t.Helper()
	clock := &domain.FixedClock{T: time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)}
	service, err := market_hours.NewService(clock, false)
	require.NoError(t, err)
	return NewHandler(service, clock, zerolog.Nop())
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var envelope struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func TestHandleGetStatus(t *testing.T) {
	handler := newHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/market/status", nil)
	rec := httptest.NewRecorder()
	handler.HandleGetStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)

	assert.Equal(t, "REGULAR", data["phase"])
	assert.Equal(t, true, data["trading_day"])
	assert.Equal(t, false, data["early_close"])
	assert.Equal(t, "2026-03-10T11:00:00-04:00", data["local_time"])
	assert.Equal(t, "2026-03-10T16:00:00-04:00", data["session_close"])
	assert.Equal(t, float64(300), data["minutes_to_close"])
	assert.Equal(t, "AFTER_HOURS", data["next_phase"])
	assert.Equal(t, "2026-03-10T16:00:00-04:00", data["next_transition"])
	assert.NotContains(t, data, "holiday")
}

func TestHandleGetPhaseDefaultsToNow(t *testing.T) {
	handler := newHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/market/phase", nil)
	rec := httptest.NewRecorder()
	handler.HandleGetPhase(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "REGULAR", data["phase"])
}

func TestHandleGetPhaseAtParam(t *testing.T) {
	handler := newHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/market/phase?at=2026-03-10T03:00:00-04:00", nil)
	rec := httptest.NewRecorder()
	handler.HandleGetPhase(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "CLOSED", data["phase"])
}

func TestHandleGetPhaseWeekend(t *testing.T) {
	handler := newHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/market/phase?at=2026-03-14T12:00:00-04:00", nil)
	rec := httptest.NewRecorder()
	handler.HandleGetPhase(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "CLOSED", data["phase"])
}

func TestHandleGetPhaseBadTimestamp(t *testing.T) {
	handler := newHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/market/phase?at=yesterday", nil)
	rec := httptest.NewRecorder()
	handler.HandleGetPhase(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
