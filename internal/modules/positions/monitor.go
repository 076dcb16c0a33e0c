// Package positions runs the stealth trailing stop engine. The monitor
// owns every open position: on each tick it ratchets stops off fresh
// quotes, walks the exit rules in strict precedence order and hands
// confirmed exits to the trade executor. Stops live engine-side only,
// the broker never sees a stop order.
package positions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	talib "github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tkomnos/stealthtrader/internal/config"
	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/events"
)

// Exit tuning that is not operator-configurable.
const (
	rsiPeriod          = 14
	rsiExhaustionLevel = 85.0
	extendedTargetMult = 2
	volumeSurgeMult    = 3

	// 390 regular-session minutes in five-minute slots.
	sessionFiveMinSlots = 78

	maxMissedQuotes   = 3
	dataStarvedMinAge = 10 * time.Minute
	closeGuardWindow  = 10 * time.Minute

	defaultCloseRetryDelay = 5 * time.Second
)

var (
	two = decimal.NewFromInt(2)

	// RSI exhaustion only fires on positions already up one percent.
	minExhaustionReturn = decimal.NewFromFloat(0.01)

	// Volume reversal needs price backed off the high water by 0.3%.
	reversalPullback = decimal.NewFromFloat(0.997)
)

// MarketData supplies quotes and the intraday series behind the RSI and
// volume exit rules.
type MarketData interface {
	GetQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error)
	Closes(symbol string) []float64
	FiveMinuteVolume(symbol string) (int64, bool)
	AverageVolumeFor(quote domain.Quote) int64
}

// SessionClock reports how long the current trading session has left.
type SessionClock interface {
	TimeToClose(t time.Time) (time.Duration, bool)
}

// Closer places the actual exit order and finalizes the position on
// success. Satisfied by the trading executor.
type Closer interface {
	Close(ctx context.Context, p *domain.Position, reason domain.ExitReason, refPrice decimal.Decimal) error
}

// TradeLog records finished trades.
type TradeLog interface {
	Append(rec domain.TradeRecord) error
}

// Options tunes monitor timing for tests.
type Options struct {
	CloseRetryDelay time.Duration
}

// Monitor is the canonical book of open positions.
type Monitor struct {
	data    MarketData
	session SessionClock
	journal TradeLog
	bus     *events.Bus
	clock   domain.Clock
	log     zerolog.Logger

	strategy   string
	maxHold    time.Duration
	retryDelay time.Duration

	// Precomputed from the trailing config, as fractions of entry.
	breakevenArm  decimal.Decimal
	breakevenStop decimal.Decimal
	trailingArm   decimal.Decimal
	trailingStop  decimal.Decimal
	stopFrac      decimal.Decimal

	closer Closer

	mu        sync.Mutex
	positions map[string]*domain.Position
	closing   map[string]bool
}

// NewMonitor builds the monitor. The closer arrives later via SetCloser
// because the executor is constructed with the monitor already in hand.
func NewMonitor(cfg *config.Config, data MarketData, session SessionClock, journal TradeLog, bus *events.Bus, clock domain.Clock, opts Options) *Monitor {
	if opts.CloseRetryDelay <= 0 {
		opts.CloseRetryDelay = defaultCloseRetryDelay
	}
	one := decimal.NewFromInt(1)
	return &Monitor{
		data:          data,
		session:       session,
		journal:       journal,
		bus:           bus,
		clock:         clock,
		log:           log.With().Str("module", "positions").Logger(),
		strategy:      cfg.StrategyMode,
		maxHold:       time.Duration(cfg.Limits.MaxHoldMinutes) * time.Minute,
		retryDelay:    opts.CloseRetryDelay,
		breakevenArm:  frac(cfg.Trailing.BreakevenActivationPct),
		breakevenStop: one.Add(frac(cfg.Trailing.BreakevenOffsetPct)),
		trailingArm:   frac(cfg.Trailing.TrailingActivationPct),
		trailingStop:  one.Sub(frac(cfg.Trailing.TrailingDistancePct)),
		stopFrac:      frac(cfg.Trailing.StopLossPct),
		positions:     make(map[string]*domain.Position),
		closing:       make(map[string]bool),
	}
}

// SetCloser wires in the exit executor once both sides are constructed.
func (m *Monitor) SetCloser(c Closer) {
	m.closer = c
}

// Track adopts a freshly opened position. One open position per symbol.
func (m *Monitor) Track(p *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.positions[p.Symbol]; ok && existing.Open() {
		return fmt.Errorf("position for %s is already tracked", p.Symbol)
	}
	m.positions[p.Symbol] = p
	m.log.Debug().Str("symbol", p.Symbol).Str("stop", p.StopPrice.String()).Msg("Position tracked")
	return nil
}

// OpenPositions returns copies of every open position, sorted by symbol.
func (m *Monitor) OpenPositions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		if p.Open() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// OpenSymbols lists symbols with an open position, sorted.
func (m *Monitor) OpenSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.positions))
	for symbol, p := range m.positions {
		if p.Open() {
			out = append(out, symbol)
		}
	}
	sort.Strings(out)
	return out
}

// OpenCount reports the number of open positions.
func (m *Monitor) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.positions {
		if p.Open() {
			n++
		}
	}
	return n
}

// OpenValue sums entry cost across open positions.
func (m *Monitor) OpenValue() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, p := range m.positions {
		if p.Open() {
			total = total.Add(p.Value())
		}
	}
	return total
}

// Tick runs one monitoring pass: one batched quote call for the whole
// book, then the stop state machine and exit rules per position.
func (m *Monitor) Tick(ctx context.Context) {
	symbols := m.OpenSymbols()
	if len(symbols) == 0 {
		return
	}

	quotes, err := m.data.GetQuotes(ctx, symbols)
	if err != nil {
		m.log.Warn().Err(err).Msg("Quote fetch failed, positions keep last state")
		quotes = map[string]domain.Quote{}
	}

	for _, d := range m.evaluate(quotes) {
		m.closeOut(ctx, d)
	}
}

type exitDecision struct {
	pos    *domain.Position
	reason domain.ExitReason
	price  decimal.Decimal
}

// evaluate advances every open position against this tick's quotes and
// collects exit decisions. State mutation happens here, under the lock;
// the close orders themselves go out afterwards without it.
func (m *Monitor) evaluate(quotes map[string]domain.Quote) []exitDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var out []exitDecision
	for symbol, p := range m.positions {
		if !p.Open() || m.closing[symbol] {
			continue
		}

		// A position stuck after a failed close is retried before
		// anything else. The recorded reason stands until the order
		// finally goes through.
		if p.CloseAttemptFailed {
			price := p.LastKnownPrice
			if quote, ok := quotes[symbol]; ok && quote.HasLast() {
				price = quote.Last
				p.LastKnownPrice = price
			}
			out = append(out, exitDecision{pos: p, reason: p.ExitReason, price: price})
			continue
		}

		quote, ok := quotes[symbol]
		if !ok || !quote.HasLast() {
			p.MissedQuotes++
			m.log.Warn().Str("symbol", symbol).Int("consecutive", p.MissedQuotes).Msg("No usable quote for open position")
			if p.MissedQuotes >= maxMissedQuotes && now.Sub(p.EntryTime) >= dataStarvedMinAge && p.LastKnownPrice.IsPositive() {
				out = append(out, exitDecision{pos: p, reason: domain.ExitDataStarved, price: p.LastKnownPrice})
			}
			continue
		}
		if quote.Stale && !m.staleMoveSignificant(p, quote.Last) {
			m.log.Debug().Str("symbol", symbol).Msg("Stale quote, holding position state")
			continue
		}

		p.MissedQuotes = 0
		price := quote.Last
		p.LastKnownPrice = price

		m.advance(p, price)
		if reason, exit := m.exitReason(p, quote, price, now); exit {
			out = append(out, exitDecision{pos: p, reason: reason, price: price})
		}
	}
	return out
}

// advance walks the stop state machine. A strong first tick can pass
// through breakeven straight into trailing.
func (m *Monitor) advance(p *domain.Position, price decimal.Decimal) {
	ret := p.ReturnPct(price)

	if p.State == domain.PositionInitial && ret.GreaterThanOrEqual(m.breakevenArm) {
		m.raiseStop(p, p.EntryPrice.Mul(m.breakevenStop), domain.StopBreakeven)
		p.State = domain.PositionBreakevenArmed
		m.log.Info().Str("symbol", p.Symbol).Str("stop", p.StopPrice.String()).Msg("Breakeven stop armed")
	}
	if p.State == domain.PositionBreakevenArmed && ret.GreaterThanOrEqual(m.trailingArm) {
		m.raiseStop(p, price.Mul(m.trailingStop), domain.StopTrailing)
		p.State = domain.PositionTrailing
		m.log.Info().Str("symbol", p.Symbol).Str("stop", p.StopPrice.String()).Msg("Trailing stop active")
	}
	if p.State == domain.PositionTrailing {
		if price.GreaterThan(p.HighWater) {
			p.HighWater = price
		}
		m.raiseStop(p, p.HighWater.Mul(m.trailingStop), domain.StopTrailing)
	}
}

// raiseStop ratchets the stop upward. Stops never move down, and the
// kind only changes when the candidate actually wins.
func (m *Monitor) raiseStop(p *domain.Position, candidate decimal.Decimal, kind domain.StopKind) {
	candidate = candidate.Round(2)
	if candidate.GreaterThan(p.StopPrice) {
		p.StopPrice = candidate
		p.StopKind = kind
	}
}

// exitReason checks the exit rules in precedence order: stop, target,
// RSI exhaustion, time, volume reversal. The first hit wins.
func (m *Monitor) exitReason(p *domain.Position, quote domain.Quote, price decimal.Decimal, now time.Time) (domain.ExitReason, bool) {
	if price.LessThanOrEqual(p.StopPrice) {
		switch p.StopKind {
		case domain.StopTrailing:
			return domain.ExitTrailingStop, true
		case domain.StopBreakeven:
			return domain.ExitBreakeven, true
		default:
			return domain.ExitStopHit, true
		}
	}
	if price.GreaterThanOrEqual(p.TakeProfitPrice) {
		if beyondExtendedTarget(p, price) {
			return domain.ExitTakeProfitExtended, true
		}
		return domain.ExitTakeProfit, true
	}
	if m.rsiExhausted(p, price) {
		return domain.ExitRSIExhaustion, true
	}
	if m.holdExpired(p, now) {
		return domain.ExitTimeExit, true
	}
	if m.volumeReversal(p, quote, price) {
		return domain.ExitVolumeReversal, true
	}
	return "", false
}

// beyondExtendedTarget reports a blow-through: price at or past double
// the original take-profit distance from entry.
func beyondExtendedTarget(p *domain.Position, price decimal.Decimal) bool {
	distance := p.TakeProfitPrice.Sub(p.EntryPrice)
	if !distance.IsPositive() {
		return false
	}
	return price.GreaterThanOrEqual(p.EntryPrice.Add(distance.Mul(decimal.NewFromInt(extendedTargetMult))))
}

// rsiExhausted exits overbought spikes before they roll over: intraday
// RSI(14) at 85 or above while the position is up at least one percent.
func (m *Monitor) rsiExhausted(p *domain.Position, price decimal.Decimal) bool {
	if p.ReturnPct(price).LessThan(minExhaustionReturn) {
		return false
	}
	closes := m.data.Closes(p.Symbol)
	if len(closes) < rsiPeriod+1 {
		return false
	}
	rsi := talib.Rsi(closes, rsiPeriod)
	return rsi[len(rsi)-1] >= rsiExhaustionLevel
}

// holdExpired is true past the maximum hold or inside the last minutes
// of the session. Positions never ride into the close.
func (m *Monitor) holdExpired(p *domain.Position, now time.Time) bool {
	if m.maxHold > 0 && now.Sub(p.EntryTime) >= m.maxHold {
		return true
	}
	if remaining, ok := m.session.TimeToClose(now); ok && remaining <= closeGuardWindow {
		return true
	}
	return false
}

// volumeReversal flags a distribution surge: five-minute volume at
// triple the average session slot while price has backed off the high.
func (m *Monitor) volumeReversal(p *domain.Position, quote domain.Quote, price decimal.Decimal) bool {
	if price.GreaterThan(p.HighWater.Mul(reversalPullback)) {
		return false
	}
	recent, ok := m.data.FiveMinuteVolume(p.Symbol)
	if !ok {
		return false
	}
	slot := m.data.AverageVolumeFor(quote) / sessionFiveMinSlots
	return slot > 0 && recent > volumeSurgeMult*slot
}

// staleMoveSignificant lets a stale quote through only when it implies
// a move larger than twice the initial stop distance. Anything smaller
// waits for fresh data.
func (m *Monitor) staleMoveSignificant(p *domain.Position, price decimal.Decimal) bool {
	if !p.LastKnownPrice.IsPositive() {
		return true
	}
	move := price.Sub(p.LastKnownPrice).Abs()
	return move.GreaterThan(p.EntryPrice.Mul(m.stopFrac).Mul(two))
}

// closeOut drives one exit through the executor, with a single quick
// retry. A position that still cannot close stays open and is retried
// on every following tick.
func (m *Monitor) closeOut(ctx context.Context, d exitDecision) {
	p := d.pos
	if !m.beginClose(p.Symbol) {
		return
	}
	defer m.endClose(p.Symbol)

	err := m.closer.Close(ctx, p, d.reason, d.price)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Close attempt failed, retrying")
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(m.retryDelay):
			err = m.closer.Close(ctx, p, d.reason, d.price)
		}
	}
	if err != nil {
		m.mu.Lock()
		p.CloseAttemptFailed = true
		p.ExitReason = d.reason
		m.mu.Unlock()
		m.log.Error().Err(err).Str("symbol", p.Symbol).Str("reason", string(d.reason)).Msg("Position stuck open after failed close")
		m.bus.EmitError("positions", err, map[string]interface{}{
			"symbol": p.Symbol,
			"reason": string(d.reason),
		})
		return
	}

	m.mu.Lock()
	delete(m.positions, p.Symbol)
	m.mu.Unlock()

	if err := m.journal.Append(domain.NewTradeRecord(p, m.strategy)); err != nil {
		m.log.Error().Err(err).Str("symbol", p.Symbol).Msg("Failed to append trade record")
	}
}

// beginClose marks a symbol as closing so overlapping exit paths, a
// tick racing a shutdown sweep for instance, cannot double-close it.
func (m *Monitor) beginClose(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok || !p.Open() || m.closing[symbol] {
		return false
	}
	m.closing[symbol] = true
	return true
}

func (m *Monitor) endClose(symbol string) {
	m.mu.Lock()
	delete(m.closing, symbol)
	m.mu.Unlock()
}

// CloseAll exits every open position at its last known price. Runs at
// shutdown when the operator wants a flat book overnight.
func (m *Monitor) CloseAll(ctx context.Context, reason domain.ExitReason) {
	m.mu.Lock()
	open := make([]*domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		if p.Open() {
			open = append(open, p)
		}
	}
	m.mu.Unlock()
	sort.Slice(open, func(i, j int) bool { return open[i].Symbol < open[j].Symbol })

	for _, p := range open {
		price := p.LastKnownPrice
		if !price.IsPositive() {
			price = p.EntryPrice
		}
		m.closeOut(ctx, exitDecision{pos: p, reason: reason, price: price})
	}
}

func frac(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Div(decimal.NewFromInt(100))
}
