package positions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkomnos/stealthtrader/internal/config"
	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/events"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeMarketData struct {
	quotes  map[string]domain.Quote
	err     error
	closes  map[string][]float64
	fiveMin map[string]int64
	avgVol  int64
	calls   [][]string
}

func (f *fakeMarketData) GetQuotes(_ context.Context, symbols []string) (map[string]domain.Quote, error) {
	f.calls = append(f.calls, append([]string(nil), symbols...))
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]domain.Quote, len(symbols))
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

func (f *fakeMarketData) Closes(symbol string) []float64 {
	return f.closes[symbol]
}

func (f *fakeMarketData) FiveMinuteVolume(symbol string) (int64, bool) {
	v, ok := f.fiveMin[symbol]
	return v, ok
}

func (f *fakeMarketData) AverageVolumeFor(domain.Quote) int64 {
	return f.avgVol
}

type fakeSession struct {
	remaining time.Duration
	known     bool
}

func (f *fakeSession) TimeToClose(time.Time) (time.Duration, bool) {
	return f.remaining, f.known
}

type closeCall struct {
	symbol string
	reason domain.ExitReason
	price  decimal.Decimal
}

type fakeCloser struct {
	clock    domain.Clock
	failures int
	calls    []closeCall
}

func (f *fakeCloser) Close(_ context.Context, p *domain.Position, reason domain.ExitReason, refPrice decimal.Decimal) error {
	f.calls = append(f.calls, closeCall{symbol: p.Symbol, reason: reason, price: refPrice})
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	p.ExitReason = reason
	p.ExitPrice = refPrice
	p.ExitTime = f.clock.Now()
	p.State = domain.PositionClosed
	p.CloseAttemptFailed = false
	return nil
}

type fakeTradeLog struct {
	records []domain.TradeRecord
	err     error
}

func (f *fakeTradeLog) Append(rec domain.TradeRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

type monitorFixture struct {
	monitor *Monitor
	data    *fakeMarketData
	session *fakeSession
	closer  *fakeCloser
	trades  *fakeTradeLog
	bus     *events.Bus
	clock   *domain.FixedClock
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	cfg := &config.Config{
		StrategyMode: config.ModeStandard,
		Limits:       config.LimitsConfig{MaxHoldMinutes: 240},
		Trailing: config.TrailingConfig{
			BreakevenActivationPct: 0.5,
			BreakevenOffsetPct:     0.2,
			TrailingActivationPct:  0.8,
			TrailingDistancePct:    0.8,
			StopLossPct:            3.0,
			TakeProfitPct:          5.0,
		},
	}
	clock := &domain.FixedClock{T: time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)}
	data := &fakeMarketData{
		quotes:  map[string]domain.Quote{},
		closes:  map[string][]float64{},
		fiveMin: map[string]int64{},
	}
	session := &fakeSession{remaining: 2 * time.Hour, known: true}
	closer := &fakeCloser{clock: clock}
	trades := &fakeTradeLog{}
	bus := events.NewBus(zerolog.Nop())

	m := NewMonitor(cfg, data, session, trades, bus, clock, Options{CloseRetryDelay: time.Millisecond})
	m.SetCloser(closer)
	return &monitorFixture{
		monitor: m,
		data:    data,
		session: session,
		closer:  closer,
		trades:  trades,
		bus:     bus,
		clock:   clock,
	}
}

// track opens a simulated 10-share position thirty minutes old, with
// the standard 3% stop and 5% target off the given entry.
func (f *monitorFixture) track(t *testing.T, symbol, entry string) *domain.Position {
	t.Helper()
	e := dec(entry)
	p := &domain.Position{
		Symbol:          symbol,
		EntryPrice:      e,
		Quantity:        dec("10"),
		EntryTime:       f.clock.Now().Add(-30 * time.Minute),
		StopPrice:       e.Mul(dec("0.97")).Round(2),
		TakeProfitPrice: e.Mul(dec("1.05")).Round(2),
		HighWater:       e,
		State:           domain.PositionInitial,
		StopKind:        domain.StopInitial,
		Simulated:       true,
		ClientTag:       "tag-" + symbol,
		LastKnownPrice:  e,
	}
	require.NoError(t, f.monitor.Track(p))
	return p
}

func (f *monitorFixture) quote(symbol, last string) {
	f.data.quotes[symbol] = domain.Quote{
		Symbol:     symbol,
		Last:       dec(last),
		CapturedAt: f.clock.Now(),
	}
}

func TestTrailingLifecycle(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	p := f.track(t, "AAPL", "100")

	f.quote("AAPL", "100.40")
	f.monitor.Tick(ctx)
	assert.Equal(t, domain.PositionInitial, p.State)
	assert.Equal(t, "97.00", p.StopPrice.StringFixed(2))

	f.quote("AAPL", "100.60")
	f.monitor.Tick(ctx)
	assert.Equal(t, domain.PositionBreakevenArmed, p.State)
	assert.Equal(t, "100.20", p.StopPrice.StringFixed(2))
	assert.Equal(t, domain.StopBreakeven, p.StopKind)

	// Arms trailing, but 101*0.992 is still below the breakeven stop.
	f.quote("AAPL", "101.00")
	f.monitor.Tick(ctx)
	assert.Equal(t, domain.PositionTrailing, p.State)
	assert.Equal(t, "100.20", p.StopPrice.StringFixed(2))
	assert.Equal(t, domain.StopBreakeven, p.StopKind)
	assert.Equal(t, "101.00", p.HighWater.StringFixed(2))

	f.quote("AAPL", "102.50")
	f.monitor.Tick(ctx)
	assert.Equal(t, "102.50", p.HighWater.StringFixed(2))
	assert.Equal(t, "101.68", p.StopPrice.StringFixed(2))
	assert.Equal(t, domain.StopTrailing, p.StopKind)

	// Pullback through the ratcheted stop closes the trade.
	f.quote("AAPL", "101.60")
	f.monitor.Tick(ctx)

	require.Len(t, f.closer.calls, 1)
	assert.Equal(t, "AAPL", f.closer.calls[0].symbol)
	assert.Equal(t, domain.ExitTrailingStop, f.closer.calls[0].reason)
	assert.Equal(t, "101.60", f.closer.calls[0].price.StringFixed(2))
	assert.Equal(t, 0, f.monitor.OpenCount())

	require.Len(t, f.trades.records, 1)
	rec := f.trades.records[0]
	assert.Equal(t, "AAPL", rec.Symbol)
	assert.Equal(t, domain.ExitTrailingStop, rec.ExitReason)
	assert.Equal(t, "16.00", rec.PnL.StringFixed(2))
	assert.Equal(t, "standard", rec.Strategy)
}

func TestBreakevenStopExit(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.track(t, "AAPL", "100")

	f.quote("AAPL", "100.60")
	f.monitor.Tick(ctx)

	f.quote("AAPL", "100.10")
	f.monitor.Tick(ctx)

	require.Len(t, f.closer.calls, 1)
	assert.Equal(t, domain.ExitBreakeven, f.closer.calls[0].reason)
	assert.Equal(t, "100.10", f.closer.calls[0].price.StringFixed(2))
}

func TestInitialStopHit(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	p := f.track(t, "AAPL", "100")

	f.quote("AAPL", "96.90")
	f.monitor.Tick(ctx)

	require.Len(t, f.closer.calls, 1)
	assert.Equal(t, domain.ExitStopHit, f.closer.calls[0].reason)
	assert.Equal(t, domain.PositionClosed, p.State)
	assert.Equal(t, 0, f.monitor.OpenCount())
}

func TestTakeProfitExit(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.track(t, "AAPL", "100")

	f.quote("AAPL", "105.00")
	f.monitor.Tick(ctx)

	require.Len(t, f.closer.calls, 1)
	assert.Equal(t, domain.ExitTakeProfit, f.closer.calls[0].reason)
}

func TestTakeProfitExtendedExit(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.track(t, "AAPL", "100")

	// Double the original 5% target distance in one move.
	f.quote("AAPL", "110.00")
	f.monitor.Tick(ctx)

	require.Len(t, f.closer.calls, 1)
	assert.Equal(t, domain.ExitTakeProfitExtended, f.closer.calls[0].reason)
}

func TestRSIExhaustionExit(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.track(t, "AAPL", "100")

	closes := make([]float64, 16)
	for i := range closes {
		closes[i] = 100 + 0.1*float64(i)
	}
	f.data.closes["AAPL"] = closes

	f.quote("AAPL", "101.50")
	f.monitor.Tick(ctx)

	require.Len(t, f.closer.calls, 1)
	assert.Equal(t, domain.ExitRSIExhaustion, f.closer.calls[0].reason)
}

func TestRSIExhaustionNeedsHistory(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.track(t, "AAPL", "100")
	f.data.closes["AAPL"] = []float64{100, 100.5, 101, 101.5}

	f.quote("AAPL", "101.50")
	f.monitor.Tick(ctx)

	assert.Empty(t, f.closer.calls)
	assert.Equal(t, 1, f.monitor.OpenCount())
}

func TestRSIExhaustionNeedsReturn(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.track(t, "AAPL", "100")

	closes := make([]float64, 16)
	for i := range closes {
		closes[i] = 100 + 0.1*float64(i)
	}
	f.data.closes["AAPL"] = closes

	// Up only 0.9%, below the 1% exhaustion floor.
	f.quote("AAPL", "100.90")
	f.monitor.Tick(ctx)

	assert.Empty(t, f.closer.calls)
}

func TestMaxHoldTimeExit(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.track(t, "AAPL", "100")

	f.clock.Advance(210 * time.Minute)
	f.quote("AAPL", "100.10")
	f.monitor.Tick(ctx)

	require.Len(t, f.closer.calls, 1)
	assert.Equal(t, domain.ExitTimeExit, f.closer.calls[0].reason)
}

func TestSessionCloseTimeExit(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.track(t, "AAPL", "100")

	f.session.remaining = 9 * time.Minute
	f.quote("AAPL", "100.10")
	f.monitor.Tick(ctx)

	require.Len(t, f.closer.calls, 1)
	assert.Equal(t, domain.ExitTimeExit, f.closer.calls[0].reason)
}

func TestVolumeReversalExit(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.track(t, "AAPL", "100")

	f.data.fiveMin["AAPL"] = 400_000
	f.data.avgVol = 7_800_000

	f.quote("AAPL", "99.60")
	f.monitor.Tick(ctx)

	require.Len(t, f.closer.calls, 1)
	assert.Equal(t, domain.ExitVolumeReversal, f.closer.calls[0].reason)
	assert.Equal(t, "99.60", f.closer.calls[0].price.StringFixed(2))
}

func TestVolumeReversalNeedsSurge(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.track(t, "AAPL", "100")

	// 2.5x the average slot, below the 3x surge threshold.
	f.data.fiveMin["AAPL"] = 250_000
	f.data.avgVol = 7_800_000

	f.quote("AAPL", "99.60")
	f.monitor.Tick(ctx)

	assert.Empty(t, f.closer.calls)
	assert.Equal(t, 1, f.monitor.OpenCount())
}

func TestMissingQuotesDataStarved(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	p := f.track(t, "AAPL", "100")

	f.monitor.Tick(ctx)
	f.monitor.Tick(ctx)
	assert.Empty(t, f.closer.calls)
	assert.Equal(t, 2, p.MissedQuotes)

	f.monitor.Tick(ctx)
	require.Len(t, f.closer.calls, 1)
	assert.Equal(t, domain.ExitDataStarved, f.closer.calls[0].reason)
	assert.Equal(t, "100.00", f.closer.calls[0].price.StringFixed(2))
	assert.Equal(t, 0, f.monitor.OpenCount())
}

func TestDataStarvedRequiresAge(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	p := f.track(t, "AAPL", "100")
	p.EntryTime = f.clock.Now().Add(-5 * time.Minute)

	f.monitor.Tick(ctx)
	f.monitor.Tick(ctx)
	f.monitor.Tick(ctx)

	assert.Empty(t, f.closer.calls)
	assert.Equal(t, 3, p.MissedQuotes)
	assert.Equal(t, 1, f.monitor.OpenCount())
}

func TestQuoteRecoveryResetsMisses(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	p := f.track(t, "AAPL", "100")

	f.monitor.Tick(ctx)
	f.monitor.Tick(ctx)
	assert.Equal(t, 2, p.MissedQuotes)

	f.quote("AAPL", "100.10")
	f.monitor.Tick(ctx)

	assert.Equal(t, 0, p.MissedQuotes)
	assert.Empty(t, f.closer.calls)
}

func TestStaleQuoteHoldsState(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	p := f.track(t, "AAPL", "100")

	f.data.quotes["AAPL"] = domain.Quote{
		Symbol: "AAPL",
		Last:   dec("100.70"),
		Stale:  true,
	}
	f.monitor.Tick(ctx)

	assert.Equal(t, domain.PositionInitial, p.State)
	assert.Equal(t, "97.00", p.StopPrice.StringFixed(2))
	assert.Equal(t, "100.00", p.LastKnownPrice.StringFixed(2))
	assert.Equal(t, 0, p.MissedQuotes)
}

func TestStaleQuoteBigMoveStillActs(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.track(t, "AAPL", "100")

	// A seven-point gap dwarfs twice the three-point stop distance.
	f.data.quotes["AAPL"] = domain.Quote{
		Symbol: "AAPL",
		Last:   dec("93.00"),
		Stale:  true,
	}
	f.monitor.Tick(ctx)

	require.Len(t, f.closer.calls, 1)
	assert.Equal(t, domain.ExitStopHit, f.closer.calls[0].reason)
	assert.Equal(t, "93.00", f.closer.calls[0].price.StringFixed(2))
}

func TestCloseFailureKeepsPositionOpen(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	p := f.track(t, "AAPL", "100")
	f.closer.failures = 2

	var errEvents []events.Event
	f.bus.Subscribe(events.ErrorOccurred, func(e events.Event) {
		errEvents = append(errEvents, e)
	})

	f.quote("AAPL", "96.00")
	f.monitor.Tick(ctx)

	assert.Len(t, f.closer.calls, 2)
	assert.True(t, p.CloseAttemptFailed)
	assert.Equal(t, 1, f.monitor.OpenCount())
	assert.Empty(t, f.trades.records)
	require.Len(t, errEvents, 1)
	assert.Equal(t, "positions", errEvents[0].Module)
	errContext, ok := errEvents[0].Data["context"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "AAPL", errContext["symbol"])

	// The next tick retries the same exit and succeeds.
	f.monitor.Tick(ctx)

	assert.Len(t, f.closer.calls, 3)
	assert.False(t, p.CloseAttemptFailed)
	assert.Equal(t, 0, f.monitor.OpenCount())
	require.Len(t, f.trades.records, 1)
}

func TestStuckCloseRetriesAfterTriggerFades(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.track(t, "AAPL", "100")
	f.closer.failures = 2

	f.quote("AAPL", "96.00")
	f.monitor.Tick(ctx)
	require.Len(t, f.closer.calls, 2)

	// Price pops back above the stop. The pending close must still go
	// out, at the fresh price, under the original reason.
	f.quote("AAPL", "100.50")
	f.monitor.Tick(ctx)

	require.Len(t, f.closer.calls, 3)
	assert.Equal(t, domain.ExitStopHit, f.closer.calls[2].reason)
	assert.Equal(t, "100.50", f.closer.calls[2].price.String())
	assert.Equal(t, 0, f.monitor.OpenCount())
}

func TestQuoteFetchFailureCountsMiss(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	p := f.track(t, "AAPL", "100")
	f.data.err = errors.New("budget exhausted")

	f.monitor.Tick(ctx)

	assert.Equal(t, 1, p.MissedQuotes)
	assert.Empty(t, f.closer.calls)
}

func TestTrackRejectsDuplicateSymbol(t *testing.T) {
	f := newMonitorFixture(t)
	f.track(t, "AAPL", "100")

	err := f.monitor.Track(&domain.Position{Symbol: "AAPL", EntryPrice: dec("101")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already tracked")
}

func TestBookAccounting(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.track(t, "AAPL", "100")
	f.track(t, "MSFT", "50")

	assert.Equal(t, 2, f.monitor.OpenCount())
	assert.Equal(t, []string{"AAPL", "MSFT"}, f.monitor.OpenSymbols())
	assert.Equal(t, "1500.00", f.monitor.OpenValue().StringFixed(2))

	f.quote("AAPL", "96.00")
	f.quote("MSFT", "50.10")
	f.monitor.Tick(ctx)

	assert.Equal(t, 1, f.monitor.OpenCount())
	assert.Equal(t, []string{"MSFT"}, f.monitor.OpenSymbols())
	assert.Equal(t, "500.00", f.monitor.OpenValue().StringFixed(2))
}

func TestCloseAll(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	f.track(t, "MSFT", "50")
	f.track(t, "AAPL", "100")

	f.monitor.CloseAll(ctx, domain.ExitShutdown)

	require.Len(t, f.closer.calls, 2)
	assert.Equal(t, "AAPL", f.closer.calls[0].symbol)
	assert.Equal(t, "100.00", f.closer.calls[0].price.StringFixed(2))
	assert.Equal(t, domain.ExitShutdown, f.closer.calls[0].reason)
	assert.Equal(t, "MSFT", f.closer.calls[1].symbol)
	assert.Equal(t, 0, f.monitor.OpenCount())
	assert.Len(t, f.trades.records, 2)
}
