package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkomnos/stealthtrader/internal/config"
	"github.com/tkomnos/stealthtrader/internal/database"
	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/events"
	"github.com/tkomnos/stealthtrader/internal/modules/risk"
	"github.com/tkomnos/stealthtrader/internal/modules/settings"
)

type mockBook struct{ count int }

func (m *mockBook) OpenCount() int             { return m.count }
func (m *mockBook) OpenValue() decimal.Decimal { return decimal.Zero }

type mockPnL struct{}

func (m *mockPnL) RealizedToday() decimal.Decimal { return decimal.Zero }
func (m *mockPnL) LifetimeRealizedPct() float64   { return 0 }
func (m *mockPnL) ConsecutiveWins() int           { return 0 }

type mockAccounts struct {
	snapshot *domain.AccountSnapshot
	err      error
}

func (m *mockAccounts) AccountSnapshot(ctx context.Context) (*domain.AccountSnapshot, error) {
	return m.snapshot, m.err
}

func newTestHandler(t *testing.T, accounts *mockAccounts) (*Handler, *risk.SafeMode) {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := settings.NewStore(db)
	require.NoError(t, store.InitSchema())

	cfg := &config.Config{
		Limits: config.LimitsConfig{MaxPositions: 5, MaxDailyLossPct: 5, MaxDrawdownPct: 10},
	}
	clock := &domain.FixedClock{T: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)}
	bus := events.NewBus(zerolog.Nop())

	safeMode, err := risk.NewSafeMode(store, bus, clock, 5, 10)
	require.NoError(t, err)

	manager := risk.NewManager(cfg, safeMode, &mockBook{count: 2}, &mockPnL{}, store)
	require.NoError(t, manager.Load())

	return NewHandler(manager, safeMode, accounts, zerolog.New(nil).Level(zerolog.Disabled)), safeMode
}

func TestHandleGetStatus(t *testing.T) {
	accounts := &mockAccounts{snapshot: &domain.AccountSnapshot{
		AvailableCash:     decimal.NewFromInt(9_000),
		TotalAccountValue: decimal.NewFromInt(9_500),
	}}
	handler, safeMode := newTestHandler(t, accounts)
	safeMode.Trip("manual halt")

	req := httptest.NewRequest(http.MethodGet, "/risk/status", nil)
	rec := httptest.NewRecorder()

	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Data risk.LimitsStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.True(t, response.Data.SafeMode)
	assert.Equal(t, "manual halt", response.Data.SafeModeReason)
	assert.Equal(t, 2, response.Data.OpenPositions)
	assert.Equal(t, 5, response.Data.MaxPositions)
}

func TestHandleGetStatusWithoutAccountData(t *testing.T) {
	handler, _ := newTestHandler(t, &mockAccounts{err: errors.New("broker unreachable")})

	req := httptest.NewRequest(http.MethodGet, "/risk/status", nil)
	rec := httptest.NewRecorder()

	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Data risk.LimitsStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.False(t, response.Data.SafeMode)
	assert.Zero(t, response.Data.DrawdownPct)
}

func TestHandleClearSafeMode(t *testing.T) {
	handler, safeMode := newTestHandler(t, &mockAccounts{})
	safeMode.Trip("drawdown breach")

	body := strings.NewReader(`{"cleared_by":"ops-dashboard"}`)
	req := httptest.NewRequest(http.MethodPost, "/risk/safe-mode/clear", body)
	rec := httptest.NewRecorder()

	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, safeMode.Active())

	var response struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, true, response.Data["was_active"])
	assert.Equal(t, "ops-dashboard", response.Data["cleared_by"])
}

func TestHandleClearSafeModeDefaultsActor(t *testing.T) {
	handler, safeMode := newTestHandler(t, &mockAccounts{})
	safeMode.Trip("manual halt")

	req := httptest.NewRequest(http.MethodPost, "/risk/safe-mode/clear", nil)
	rec := httptest.NewRecorder()

	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, safeMode.Active())

	var response struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "operator", response.Data["cleared_by"])
}
