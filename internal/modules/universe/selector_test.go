package universe

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/events"
)

type stubQuoter struct {
	quotes map[string]domain.Quote
	closes map[string][]float64
	err    error
	calls  int
}

func (q *stubQuoter) RefreshQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	q.calls++
	if q.err != nil {
		return nil, q.err
	}
	out := make(map[string]domain.Quote, len(symbols))
	for _, symbol := range symbols {
		if quote, ok := q.quotes[symbol]; ok {
			out[symbol] = quote
		}
	}
	return out, nil
}

func (q *stubQuoter) AverageVolumeFor(quote domain.Quote) int64 {
	return quote.AverageVolume
}

func (q *stubQuoter) Closes(symbol string) []float64 {
	return q.closes[symbol]
}

func quoteWith(symbol string, last, prevClose, bid, ask float64, volume, avgVolume int64) domain.Quote {
	return domain.Quote{
		Symbol:        symbol,
		Last:          decimal.NewFromFloat(last),
		PrevClose:     decimal.NewFromFloat(prevClose),
		Bid:           decimal.NewFromFloat(bid),
		Ask:           decimal.NewFromFloat(ask),
		Volume:        volume,
		AverageVolume: avgVolume,
	}
}

type selectorFixture struct {
	selector  *Selector
	quoter    *stubQuoter
	watchlist *Watchlist
	clock     *domain.FixedClock
	bus       *events.Bus
}

func newSelectorFixture(t *testing.T, symbols []string, size int) *selectorFixture {
	t.Helper()

	watchlist := NewWatchlist(filepath.Join(t.TempDir(), "watchlist.csv"), 200)
	if len(symbols) > 0 {
		require.NoError(t, watchlist.Replace(symbols))
	}

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	clock := &domain.FixedClock{T: time.Date(2026, 3, 10, 10, 0, 0, 0, loc)}

	quoter := &stubQuoter{quotes: map[string]domain.Quote{}, closes: map[string][]float64{}}
	bus := events.NewBus(zerolog.Nop())
	selector := NewSelector(quoter, watchlist, bus, clock, size, 1_000_000)

	return &selectorFixture{selector: selector, quoter: quoter, watchlist: watchlist, clock: clock, bus: bus}
}

func TestRebuildRanksActiveMoversFirst(t *testing.T) {
	fx := newSelectorFixture(t, []string{"AAPL", "MSFT", "XYZ"}, 50)
	fx.quoter.quotes = map[string]domain.Quote{
		// Triple its usual volume and up 5% on a tight market.
		"AAPL": quoteWith("AAPL", 105.00, 100.00, 104.99, 105.01, 150_000_000, 50_000_000),
		// Ordinary day, barely moving.
		"MSFT": quoteWith("MSFT", 400.10, 400.00, 400.08, 400.12, 10_000_000, 30_000_000),
		// Down hard on a wide market.
		"XYZ": quoteWith("XYZ", 10.80, 12.00, 10.70, 11.10, 2_000_000, 2_000_000),
	}

	set, err := fx.selector.Rebuild(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, set.Symbols, 3)
	assert.Equal(t, "AAPL", set.Symbols[0].Symbol)
	assert.Equal(t, "MSFT", set.Symbols[1].Symbol)
	assert.Equal(t, "XYZ", set.Symbols[2].Symbol)
	assert.Greater(t, set.Symbols[0].Score, set.Symbols[1].Score)
	assert.False(t, set.FromPrior)

	assert.Equal(t, set.Symbols, fx.selector.WorkingSet().Symbols)
}

func TestRebuildRSIBandDemotesOverboughtNames(t *testing.T) {
	fx := newSelectorFixture(t, []string{"CALM", "HOT"}, 50)
	same := func(symbol string) domain.Quote {
		return quoteWith(symbol, 50.00, 49.50, 49.99, 50.01, 5_000_000, 5_000_000)
	}
	fx.quoter.quotes = map[string]domain.Quote{"CALM": same("CALM"), "HOT": same("HOT")}

	// Twenty straight up bars pin HOT's RSI at the top of the range.
	hot := make([]float64, 20)
	for i := range hot {
		hot[i] = 45 + float64(i)*0.25
	}
	fx.quoter.closes["HOT"] = hot

	set, err := fx.selector.Rebuild(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, set.Symbols, 2)
	assert.Equal(t, "CALM", set.Symbols[0].Symbol)
	assert.Equal(t, "HOT", set.Symbols[1].Symbol)
}

func TestRebuildAppliesHardFilters(t *testing.T) {
	fx := newSelectorFixture(t, []string{"AAPL", "PNY", "TINY"}, 50)
	fx.quoter.quotes = map[string]domain.Quote{
		"AAPL": quoteWith("AAPL", 105.00, 100.00, 104.99, 105.01, 50_000_000, 50_000_000),
		// Sub-dollar names are out regardless of volume.
		"PNY": quoteWith("PNY", 0.45, 0.40, 0.44, 0.46, 90_000_000, 90_000_000),
		// $200k of daily dollar volume is below the floor.
		"TINY": quoteWith("TINY", 4.00, 4.00, 3.99, 4.01, 50_000, 50_000),
	}

	set, err := fx.selector.Rebuild(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, set.Symbols, 1)
	assert.Equal(t, "AAPL", set.Symbols[0].Symbol)
}

func TestRebuildCapsAtSize(t *testing.T) {
	symbols := make([]string, 10)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%c", 'A'+i)
	}
	fx := newSelectorFixture(t, symbols, 3)
	for _, symbol := range symbols {
		fx.quoter.quotes[symbol] = quoteWith(symbol, 50, 49.50, 49.99, 50.01, 5_000_000, 5_000_000)
	}

	set, err := fx.selector.Rebuild(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, set.Symbols, 3)
}

func TestRebuildPinsOpenPositions(t *testing.T) {
	fx := newSelectorFixture(t, []string{"SA", "SB", "SC", "SD", "SE"}, 3)
	for _, symbol := range []string{"SA", "SB", "SC", "SD", "SE", "HELD"} {
		fx.quoter.quotes[symbol] = quoteWith(symbol, 50, 49.50, 49.99, 50.01, 5_000_000, 5_000_000)
	}

	// HELD is not even on the watchlist but carries an open position.
	set, err := fx.selector.Rebuild(context.Background(), []string{"HELD"})
	require.NoError(t, err)

	require.Len(t, set.Symbols, 3)
	assert.Equal(t, "HELD", set.Symbols[0].Symbol)
}

func TestRebuildKeepsPriorOnFailure(t *testing.T) {
	fx := newSelectorFixture(t, []string{"AAPL", "MSFT"}, 50)
	fx.quoter.quotes = map[string]domain.Quote{
		"AAPL": quoteWith("AAPL", 105.00, 100.00, 104.99, 105.01, 50_000_000, 50_000_000),
		"MSFT": quoteWith("MSFT", 400.10, 400.00, 400.08, 400.12, 30_000_000, 30_000_000),
	}

	first, err := fx.selector.Rebuild(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, first.Symbols, 2)

	fx.quoter.err = errors.New("broker unavailable")
	second, err := fx.selector.Rebuild(context.Background(), nil)
	require.Error(t, err)

	assert.True(t, second.FromPrior)
	assert.Equal(t, first.Symbols, second.Symbols)
}

func TestRebuildKeepsPriorWhenMostUnscorable(t *testing.T) {
	fx := newSelectorFixture(t, []string{"SA", "SB", "SC", "SD"}, 50)
	for _, symbol := range []string{"SA", "SB", "SC", "SD"} {
		fx.quoter.quotes[symbol] = quoteWith(symbol, 50, 49.50, 49.99, 50.01, 5_000_000, 5_000_000)
	}

	var alerts int
	fx.bus.Subscribe(events.ErrorOccurred, func(events.Event) { alerts++ })

	first, err := fx.selector.Rebuild(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, first.Symbols, 4)

	// Only one of four symbols comes back with data.
	fx.quoter.quotes = map[string]domain.Quote{
		"SA": quoteWith("SA", 50, 49.50, 49.99, 50.01, 5_000_000, 5_000_000),
	}
	second, err := fx.selector.Rebuild(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDataUnavailable))
	assert.True(t, second.FromPrior)
	assert.Equal(t, first.Symbols, second.Symbols)
	assert.Equal(t, 1, alerts)
}

func TestRebuildEmptyWatchlist(t *testing.T) {
	fx := newSelectorFixture(t, nil, 50)

	_, err := fx.selector.Rebuild(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 0, fx.quoter.calls)
}
