package notify

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tkomnos/stealthtrader/internal/config"
	"github.com/tkomnos/stealthtrader/internal/events"
)

// Notifier renders bus events into operator alerts and hands them to a
// sink. Bus handlers must never block, so delivery happens on a
// goroutine and anything beyond the rate limit is dropped.
type Notifier struct {
	sink    Sink
	limiter *rate.Limiter
	dropped atomic.Uint64
	log     zerolog.Logger
}

// NewNotifier builds a notifier throttled to cfg.PerMinute messages,
// with a burst of roughly ten seconds' worth.
func NewNotifier(cfg config.AlertsConfig, sink Sink) *Notifier {
	perMin := cfg.PerMinute
	if perMin <= 0 {
		perMin = 30
	}
	burst := perMin / 6
	if burst < 1 {
		burst = 1
	}
	return &Notifier{
		sink:    sink,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), burst),
		log:     log.With().Str("module", "notify").Logger(),
	}
}

// Dropped returns how many alerts the throttle has discarded.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}

// Subscribe registers the notifier for every event type that warrants
// an operator alert. Routine events (quote refreshes, signal scans) are
// deliberately not wired here.
func (n *Notifier) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.TradeOpened, n.handleTradeOpened)
	bus.Subscribe(events.TradeClosed, n.handleTradeClosed)
	bus.Subscribe(events.SafeModeTripped, n.handleSafeModeTripped)
	bus.Subscribe(events.SafeModeCleared, n.handleSafeModeCleared)
	bus.Subscribe(events.TokenWentExpired, n.handleTokenExpired)
	bus.Subscribe(events.BudgetExhausted, n.handleBudgetExhausted)
	bus.Subscribe(events.ErrorOccurred, n.handleError)
}

func (n *Notifier) handleTradeOpened(e events.Event) {
	header := fmt.Sprintf("📈 *OPEN* %s%s", field(e.Data, "symbol"), simulatedTag(e.Data))
	body := fmt.Sprintf("%s shares @ %s\nstop %s, target %s",
		field(e.Data, "quantity"),
		field(e.Data, "entry_price"),
		field(e.Data, "stop"),
		field(e.Data, "take_profit"))
	n.deliver(header + "\n" + body)
}

func (n *Notifier) handleTradeClosed(e events.Event) {
	header := fmt.Sprintf("📉 *CLOSE* %s %s%s",
		field(e.Data, "symbol"),
		field(e.Data, "exit_reason"),
		simulatedTag(e.Data))
	body := fmt.Sprintf("P/L %s (%s%%) after %s min",
		field(e.Data, "pnl"),
		field(e.Data, "pnl_pct"),
		field(e.Data, "duration_min"))
	n.deliver(header + "\n" + body)
}

func (n *Notifier) handleSafeModeTripped(e events.Event) {
	n.deliver(fmt.Sprintf("🛑 *SAFE MODE*\n%s", field(e.Data, "reason")))
}

func (n *Notifier) handleSafeModeCleared(e events.Event) {
	n.deliver(fmt.Sprintf("✅ *SAFE MODE* cleared by %s", field(e.Data, "cleared_by")))
}

func (n *Notifier) handleTokenExpired(e events.Event) {
	n.deliver(fmt.Sprintf("🔑 *TOKENS EXPIRED* (%s)\nReal ordering is disabled until re-authorization.",
		field(e.Data, "env")))
}

func (n *Notifier) handleBudgetExhausted(e events.Event) {
	n.deliver(fmt.Sprintf("⏳ *QUOTE BUDGET EXHAUSTED*\n%s of %s calls used today",
		field(e.Data, "used_today"),
		field(e.Data, "daily_limit")))
}

func (n *Notifier) handleError(e events.Event) {
	n.deliver(fmt.Sprintf("⚠️ *%s ERROR*\n%s",
		strings.ToUpper(e.Module),
		field(e.Data, "error")))
}

// deliver applies the throttle and sends asynchronously so the bus
// handler returns immediately.
func (n *Notifier) deliver(text string) {
	if !n.limiter.Allow() {
		n.dropped.Add(1)
		n.log.Debug().Uint64("dropped_total", n.dropped.Load()).Msg("Alert throttled")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := n.sink.Send(ctx, text); err != nil {
			n.log.Warn().Err(err).Msg("Failed to deliver alert")
		}
	}()
}

func field(data map[string]interface{}, key string) string {
	if v, ok := data[key]; ok {
		return fmt.Sprint(v)
	}
	return "?"
}

func simulatedTag(data map[string]interface{}) string {
	if v, ok := data["simulated"]; ok {
		if sim, ok := v.(bool); ok && sim {
			return " (simulated)"
		}
	}
	return ""
}
