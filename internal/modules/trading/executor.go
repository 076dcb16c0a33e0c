// Package trading turns approved signals into positions. The executor
// places real market orders in full_trading mode and synthesizes fills
// in signal_only mode; either way the result is a Position handed to
// the monitor and an entry line in the journal. The scanner drives one
// signal pass end to end.
package trading

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tkomnos/stealthtrader/internal/config"
	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/events"
	"github.com/tkomnos/stealthtrader/internal/modules/risk"
)

// Sentinel errors returned by Open and Close. Callers match with errors.Is.
var (
	ErrNotApproved   = errors.New("decision not approved")
	ErrDuplicateOpen = errors.New("open already issued for signal")
	ErrOrderRejected = errors.New("order rejected by broker")
	ErrFillTimeout   = errors.New("order not filled within fill window")
)

// Broker places market orders and reports their status.
// OrderByClientTag returns nil when no listed order carries the tag.
type Broker interface {
	PlaceMarketOrder(ctx context.Context, order domain.OrderRequest) (*domain.OrderResult, error)
	OrderStatus(ctx context.Context, orderID string) (*domain.OrderResult, error)
	OrderByClientTag(ctx context.Context, clientTag string) (*domain.OrderResult, error)
}

// Monitor takes ownership of positions the executor opens.
type Monitor interface {
	Track(p *domain.Position) error
}

// Journal receives the open notification for the append-only journal.
// Close records are appended by the monitor after the exit decision.
type Journal interface {
	RecordOpen(p *domain.Position)
}

// TokenSource reports the OAuth token lifecycle state. An expired or
// absent token forces simulated fills even in full_trading mode.
type TokenSource interface {
	State() domain.TokenState
}

// Options tune the fill polling loop. Zero values take the defaults.
type Options struct {
	FillWait time.Duration // how long a placed order may sit before we give up
	FillPoll time.Duration // order status poll interval
}

const (
	defaultFillWait = 30 * time.Second
	defaultFillPoll = 5 * time.Second

	clientTagLen = 20 // broker limit on clientOrderId length
)

// Executor opens and closes positions against the broker or, when real
// orders are unavailable, against synthetic fills.
type Executor struct {
	systemMode string
	trailing   config.TrailingConfig
	cooldown   time.Duration
	opts       Options

	broker  Broker
	monitor Monitor
	journal Journal
	tokens  TokenSource
	bus     *events.Bus
	clock   domain.Clock
	log     zerolog.Logger

	processID int

	mu        sync.Mutex
	issued    map[string]openState // per client tag, what this process knows
	cooldowns map[string]time.Time
}

// openState is what the executor knows about a client tag it has handed
// out. openUnknown means a placement was attempted but never confirmed,
// so the broker may or may not hold an order bearing the tag.
type openState int

const (
	openPending openState = iota + 1
	openUnknown
	openDone
)

// NewExecutor creates the trade executor.
func NewExecutor(cfg *config.Config, broker Broker, monitor Monitor, journal Journal,
	tokens TokenSource, bus *events.Bus, clock domain.Clock, opts Options) *Executor {
	if opts.FillWait <= 0 {
		opts.FillWait = defaultFillWait
	}
	if opts.FillPoll <= 0 {
		opts.FillPoll = defaultFillPoll
	}
	return &Executor{
		systemMode: cfg.SystemMode,
		trailing:   cfg.Trailing,
		cooldown:   time.Duration(cfg.Limits.PositionCooldownMin) * time.Minute,
		opts:       opts,
		broker:     broker,
		monitor:    monitor,
		journal:    journal,
		tokens:     tokens,
		bus:        bus,
		clock:      clock,
		log:        log.With().Str("module", "trading").Logger(),
		processID:  os.Getpid(),
		issued:     make(map[string]openState),
		cooldowns:  make(map[string]time.Time),
	}
}

// Open turns an approved decision into a tracked position. In
// full_trading mode with a usable token it places a market BUY and
// waits for the fill; otherwise it synthesizes a fill at the ask (or
// the last trade, or the signal's reference price). The stop and
// take-profit are recomputed from the actual fill price.
//
// Each signal carries exactly one client tag for the life of the
// process. A retry after an unconfirmed placement reuses the tag and
// first asks the broker whether the earlier attempt landed; a found
// order is adopted instead of placing a second one.
func (e *Executor) Open(ctx context.Context, signal domain.Signal, decision risk.Decision, quote domain.Quote) (*domain.Position, error) {
	if !decision.Approved {
		return nil, fmt.Errorf("%w: %s %s", ErrNotApproved, signal.Symbol, decision.Reason)
	}

	tag := e.clientTag(signal)
	e.mu.Lock()
	prior := e.issued[tag]
	if prior == openPending || prior == openDone {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s tag %s", ErrDuplicateOpen, signal.Symbol, tag)
	}
	e.issued[tag] = openPending
	e.mu.Unlock()

	settle := func(s openState) {
		e.mu.Lock()
		if s == 0 {
			delete(e.issued, tag)
		} else {
			e.issued[tag] = s
		}
		e.mu.Unlock()
	}

	simulated := e.simulated()

	qty := decision.Quantity
	var fillPrice decimal.Decimal
	var orderID string

	if simulated {
		fillPrice = syntheticFill(quote, signal.EntryReference)
		if !fillPrice.IsPositive() {
			settle(0)
			return nil, fmt.Errorf("no reference price to simulate fill for %s", signal.Symbol)
		}
	} else {
		var result *domain.OrderResult
		var err error
		if prior == openUnknown {
			result, err = e.adoptPriorOrder(ctx, tag, signal.Symbol)
		}
		if err == nil && result == nil {
			result, err = e.placeAndAwait(ctx, domain.OrderRequest{
				Symbol:    signal.Symbol,
				Side:      "BUY",
				Quantity:  decision.Quantity,
				ClientTag: tag,
			})
		}
		if err != nil {
			if errors.Is(err, ErrOrderRejected) {
				e.startCooldown(signal.Symbol)
				settle(0)
			} else {
				// The order may be live at the broker. The next retry
				// with this tag looks it up before placing again.
				settle(openUnknown)
			}
			return nil, err
		}
		qty = result.FilledQuantity
		fillPrice = result.AvgFillPrice
		orderID = result.OrderID
		if !fillPrice.IsPositive() {
			fillPrice = syntheticFill(quote, signal.EntryReference)
		}
	}

	stop, target := risk.ExitPrices(e.trailing, fillPrice, signal.ExpectedReturnPct)
	p := &domain.Position{
		Symbol:          signal.Symbol,
		EntryPrice:      fillPrice,
		Quantity:        qty,
		EntryTime:       e.clock.Now().UTC(),
		StopPrice:       stop,
		TakeProfitPrice: target,
		HighWater:       fillPrice,
		State:           domain.PositionInitial,
		StopKind:        domain.StopInitial,
		Simulated:       simulated,
		ClientTag:       tag,
		OrderID:         orderID,
		LastKnownPrice:  fillPrice,
	}

	if err := e.monitor.Track(p); err != nil {
		if simulated {
			settle(0)
		} else {
			// The fill is real; never re-buy under this tag.
			settle(openDone)
		}
		e.log.Error().Err(err).
			Str("symbol", p.Symbol).
			Str("order_id", orderID).
			Msg("Opened position could not be registered with monitor")
		e.bus.EmitError("trading", err, map[string]interface{}{
			"symbol":   p.Symbol,
			"order_id": orderID,
		})
		return nil, fmt.Errorf("failed to register position with monitor: %w", err)
	}
	settle(openDone)
	e.journal.RecordOpen(p)

	e.bus.Emit(events.TradeOpened, "trading", map[string]interface{}{
		"symbol":          p.Symbol,
		"quantity":        p.Quantity.String(),
		"entry_price":     p.EntryPrice.String(),
		"stop":            p.StopPrice.String(),
		"take_profit":     p.TakeProfitPrice.String(),
		"simulated":       p.Simulated,
		"confidence":      signal.Confidence,
		"expected_return": signal.ExpectedReturnPct,
	})

	e.log.Info().
		Str("symbol", p.Symbol).
		Str("quantity", p.Quantity.String()).
		Str("entry_price", p.EntryPrice.StringFixed(2)).
		Str("stop", p.StopPrice.StringFixed(2)).
		Str("take_profit", p.TakeProfitPrice.StringFixed(2)).
		Bool("simulated", p.Simulated).
		Msg("Position opened")

	return p, nil
}

// Close exits a position at market. Real positions always go through
// the broker regardless of the current system mode; simulated positions
// close synthetically at refPrice. A partial sell standing at the
// window end closes at the filled quantity and the residual is alerted.
// On success the position is mutated
// in place and a close alert is emitted. Appending the trade record to
// the journal is the caller's job.
func (e *Executor) Close(ctx context.Context, p *domain.Position, reason domain.ExitReason, refPrice decimal.Decimal) error {
	exitPrice := refPrice
	if !p.Simulated {
		result, err := e.placeAndAwait(ctx, domain.OrderRequest{
			Symbol:   p.Symbol,
			Side:     "SELL",
			Quantity: p.Quantity,
			// The same tag on every retry of this close, so the broker
			// can drop a duplicate sell if an earlier attempt landed
			// but the response was lost.
			ClientTag: closeTag(p.ClientTag),
		})
		if err != nil {
			return err
		}
		if result.AvgFillPrice.IsPositive() {
			exitPrice = result.AvgFillPrice
		}
		if result.FilledQuantity.IsPositive() && result.FilledQuantity.LessThan(p.Quantity) {
			residual := p.Quantity.Sub(result.FilledQuantity)
			e.log.Warn().
				Str("symbol", p.Symbol).
				Str("filled", result.FilledQuantity.String()).
				Str("residual", residual.String()).
				Msg("Sell filled partially inside the window, closing the filled quantity")
			e.bus.EmitError("trading",
				fmt.Errorf("partial sell left %s %s shares at the broker", residual, p.Symbol),
				map[string]interface{}{
					"symbol":   p.Symbol,
					"residual": residual.String(),
				})
			p.Quantity = result.FilledQuantity
		}
	}
	if !exitPrice.IsPositive() {
		return fmt.Errorf("no usable exit price for %s", p.Symbol)
	}

	p.ExitReason = reason
	p.ExitPrice = exitPrice
	p.ExitTime = e.clock.Now().UTC()
	p.State = domain.PositionClosed
	p.CloseAttemptFailed = false

	cost := p.Quantity.Mul(p.EntryPrice)
	pnl := p.Quantity.Mul(exitPrice).Sub(cost)
	pnlPct := decimal.Zero
	if cost.IsPositive() {
		pnlPct = pnl.Div(cost).Mul(decimal.NewFromInt(100))
	}
	durationMin := int64(p.ExitTime.Sub(p.EntryTime).Minutes())

	e.bus.Emit(events.TradeClosed, "trading", map[string]interface{}{
		"symbol":       p.Symbol,
		"exit_price":   exitPrice.String(),
		"pnl":          pnl.StringFixed(2),
		"pnl_pct":      pnlPct.StringFixed(2),
		"duration_min": durationMin,
		"exit_reason":  string(reason),
		"simulated":    p.Simulated,
	})

	e.log.Info().
		Str("symbol", p.Symbol).
		Str("exit_price", exitPrice.StringFixed(2)).
		Str("pnl", pnl.StringFixed(2)).
		Str("exit_reason", string(reason)).
		Int64("duration_min", durationMin).
		Bool("simulated", p.Simulated).
		Msg("Position closed")

	return nil
}

// InCooldown reports whether the symbol was recently rejected by the
// broker and must not be re-entered yet.
func (e *Executor) InCooldown(symbol string) bool {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.cooldowns[symbol]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(e.cooldowns, symbol)
		return false
	}
	return true
}

// adoptPriorOrder checks whether an earlier attempt with this tag
// reached the broker. A found order is awaited and adopted; nil with a
// nil error means nothing bears the tag and a fresh placement is safe.
func (e *Executor) adoptPriorOrder(ctx context.Context, tag, symbol string) (*domain.OrderResult, error) {
	prior, err := e.broker.OrderByClientTag(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to look up prior order for %s: %w", symbol, err)
	}
	if prior == nil {
		return nil, nil
	}
	if prior.Rejected {
		return nil, fmt.Errorf("%w: %s: %s", ErrOrderRejected, symbol, prior.RejectMessage)
	}
	e.log.Info().
		Str("symbol", symbol).
		Str("order_id", prior.OrderID).
		Str("client_tag", tag).
		Msg("Adopting order from an earlier open attempt")
	if prior.Status == domain.OrderStatusExecuted && prior.Filled() {
		return prior, nil
	}
	return e.awaitFill(ctx, symbol, prior)
}

func (e *Executor) placeAndAwait(ctx context.Context, order domain.OrderRequest) (*domain.OrderResult, error) {
	result, err := e.broker.PlaceMarketOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to place %s order for %s: %w", order.Side, order.Symbol, err)
	}
	if result.Rejected {
		return nil, fmt.Errorf("%w: %s: %s", ErrOrderRejected, order.Symbol, result.RejectMessage)
	}
	if result.Status == domain.OrderStatusExecuted && result.Filled() {
		return result, nil
	}
	return e.awaitFill(ctx, order.Symbol, result)
}

// awaitFill polls order status until the order fully fills or the fill
// window closes. A partial fill standing at the window end is accepted
// at its actual average price.
func (e *Executor) awaitFill(ctx context.Context, symbol string, placed *domain.OrderResult) (*domain.OrderResult, error) {
	deadline := time.NewTimer(e.opts.FillWait)
	defer deadline.Stop()
	ticker := time.NewTicker(e.opts.FillPoll)
	defer ticker.Stop()

	last := placed
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			if last.Filled() {
				e.log.Warn().
					Str("symbol", symbol).
					Str("order_id", placed.OrderID).
					Str("filled", last.FilledQuantity.String()).
					Msg("Accepting partial fill at window end")
				return last, nil
			}
			return nil, fmt.Errorf("%w: order %s for %s", ErrFillTimeout, placed.OrderID, symbol)
		case <-ticker.C:
			status, err := e.broker.OrderStatus(ctx, placed.OrderID)
			if err != nil {
				e.log.Warn().Err(err).Str("order_id", placed.OrderID).Msg("Order status poll failed")
				continue
			}
			last = status
			if status.Rejected {
				return nil, fmt.Errorf("%w: %s: %s", ErrOrderRejected, symbol, status.RejectMessage)
			}
			if status.Status == domain.OrderStatusExecuted && status.Filled() {
				return status, nil
			}
		}
	}
}

// simulated reports whether fills must be synthesized. signal_only mode
// always simulates; full_trading falls back to simulation when the
// active token cannot sign orders.
func (e *Executor) simulated() bool {
	if e.systemMode != config.SystemFullTrading {
		return true
	}
	switch e.tokens.State() {
	case domain.TokenExpired, domain.TokenAbsent:
		return true
	}
	return false
}

// startCooldown blocks re-entry for the configured interval after a
// broker rejection.
func (e *Executor) startCooldown(symbol string) {
	until := e.clock.Now().Add(e.cooldown)
	e.mu.Lock()
	e.cooldowns[symbol] = until
	e.mu.Unlock()
	e.log.Warn().
		Str("symbol", symbol).
		Time("until", until).
		Msg("Symbol in cooldown after broker rejection")
}

// clientTag derives the idempotency tag the broker dedupes on. The same
// signal always maps to the same tag within one process.
func (e *Executor) clientTag(signal domain.Signal) string {
	seed := fmt.Sprintf("%s|%d|%d", signal.Symbol, signal.CreatedAt.UnixNano(), e.processID)
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:clientTagLen]
}

// closeTag derives the sell-side tag from the open tag.
func closeTag(openTag string) string {
	sum := sha256.Sum256([]byte(openTag + "|close"))
	return hex.EncodeToString(sum[:])[:clientTagLen]
}

// syntheticFill picks the price a simulated order fills at: the ask
// when quoted, else the last trade, else the signal's reference price.
func syntheticFill(quote domain.Quote, reference decimal.Decimal) decimal.Decimal {
	if quote.Ask.IsPositive() {
		return quote.Ask
	}
	if quote.Last.IsPositive() {
		return quote.Last
	}
	return reference
}
