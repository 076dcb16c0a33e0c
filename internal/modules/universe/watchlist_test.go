package universe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkomnos/stealthtrader/internal/events"
)

func TestWatchlistLoadMissingFileIsEmpty(t *testing.T) {
	wl := NewWatchlist(filepath.Join(t.TempDir(), "watchlist.csv"), 200)
	require.NoError(t, wl.Load())
	assert.Zero(t, wl.Len())
}

func TestWatchlistLoadParsesAndSanitizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.csv")
	content := "symbol\nAAPL\nmsft\nAAPL\nBRK.B\nTOOLONG\n\nnvda\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	wl := NewWatchlist(path, 200)
	require.NoError(t, wl.Load())

	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, wl.Symbols())
}

func TestWatchlistReplacePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.csv")
	wl := NewWatchlist(path, 200)

	require.NoError(t, wl.Replace([]string{"tsla", "AMD", "TSLA"}))
	assert.Equal(t, []string{"TSLA", "AMD"}, wl.Symbols())

	// A fresh instance reads the same list back.
	reloaded := NewWatchlist(path, 200)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, []string{"TSLA", "AMD"}, reloaded.Symbols())
}

func TestWatchlistReplaceRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.csv")
	wl := NewWatchlist(path, 200)
	require.NoError(t, wl.Replace([]string{"AAPL"}))

	assert.Error(t, wl.Replace(nil))
	assert.Error(t, wl.Replace([]string{"not-a-symbol", "123"}))
	assert.Equal(t, []string{"AAPL"}, wl.Symbols(), "failed replace must not clobber the list")
}

func TestWatchlistCapsSize(t *testing.T) {
	wl := NewWatchlist(filepath.Join(t.TempDir(), "watchlist.csv"), 2)
	require.NoError(t, wl.Replace([]string{"AAPL", "MSFT", "NVDA"}))
	assert.Equal(t, []string{"AAPL", "MSFT"}, wl.Symbols())
}

func TestBuilderRebuild(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":["AAPL","msft","bogus-1","NVDA"]}`))
	}))
	defer server.Close()

	wl := NewWatchlist(filepath.Join(t.TempDir(), "watchlist.csv"), 200)
	bus := events.NewBus(zerolog.Nop())
	var rebuilt int
	bus.Subscribe(events.WatchlistRebuilt, func(events.Event) { rebuilt++ })

	builder := NewBuilder(server.URL, wl, bus)
	count, err := builder.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, wl.Symbols())
	assert.Equal(t, 1, rebuilt)
}

func TestBuilderKeepsWatchlistOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	wl := NewWatchlist(filepath.Join(t.TempDir(), "watchlist.csv"), 200)
	require.NoError(t, wl.Replace([]string{"AAPL"}))

	builder := NewBuilder(server.URL, wl, events.NewBus(zerolog.Nop()))
	_, err := builder.Rebuild(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"AAPL"}, wl.Symbols())
}

func TestBuilderUnconfigured(t *testing.T) {
	wl := NewWatchlist(filepath.Join(t.TempDir(), "watchlist.csv"), 200)
	builder := NewBuilder("", wl, events.NewBus(zerolog.Nop()))

	assert.False(t, builder.Configured())
	_, err := builder.Rebuild(context.Background())
	assert.Error(t, err)
}
