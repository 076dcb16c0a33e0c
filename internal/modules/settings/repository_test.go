package settings

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkomnos/stealthtrader/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db)
	require.NoError(t, store.InitSchema())
	return store
}

func TestGetMissingKey(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.Get("peak_equity")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Set("safe_mode_reason", "daily loss limit"))
	value, ok, err := store.Get("safe_mode_reason")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "daily loss limit", value)

	// Overwrite wins.
	require.NoError(t, store.Set("safe_mode_reason", "drawdown limit"))
	value, _, err = store.Get("safe_mode_reason")
	require.NoError(t, err)
	assert.Equal(t, "drawdown limit", value)
}

func TestDecimalRoundTrip(t *testing.T) {
	store := newTestStore(t)

	peak := decimal.RequireFromString("10543.27")
	require.NoError(t, store.SetDecimal("peak_equity", peak))

	value, ok, err := store.GetDecimal("peak_equity")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, value.Equal(peak))
}

func TestDecimalMalformedIsAbsent(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Set("peak_equity", "not-a-number"))
	_, ok, err := store.GetDecimal("peak_equity")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBoolRoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetBool("safe_mode", true))
	value, ok, err := store.GetBool("safe_mode")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, value)

	require.NoError(t, store.SetBool("safe_mode", false))
	value, _, err = store.GetBool("safe_mode")
	require.NoError(t, err)
	assert.False(t, value)
}

func TestTimeRoundTrip(t *testing.T) {
	store := newTestStore(t)

	at := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	require.NoError(t, store.SetTime("last_auto_recovery", at))

	value, ok, err := store.GetTime("last_auto_recovery")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, value.Equal(at))
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Set("safe_mode", "true"))
	require.NoError(t, store.Delete("safe_mode"))

	_, ok, err := store.Get("safe_mode")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Delete("safe_mode"), "deleting a missing key is fine")
}
