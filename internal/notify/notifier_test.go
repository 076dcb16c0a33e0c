package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkomnos/stealthtrader/internal/config"
	"github.com/tkomnos/stealthtrader/internal/events"
)

type captureSink struct {
	mu   sync.Mutex
	sent []string
	ch   chan string
	err  error
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan string, 16)}
}

func (s *captureSink) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	s.sent = append(s.sent, text)
	s.mu.Unlock()
	s.ch <- text
	return s.err
}

func (s *captureSink) wait(t *testing.T) string {
	t.Helper()
	select {
	case text := <-s.ch:
		return text
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for alert delivery")
		return ""
	}
}

func newNotifierFixture(perMinute int) (*Notifier, *captureSink, *events.Bus) {
	sink := newCaptureSink()
	n := NewNotifier(config.AlertsConfig{PerMinute: perMinute}, sink)
	bus := events.NewBus(zerolog.Nop())
	n.Subscribe(bus)
	return n, sink, bus
}

func TestTradeOpenedAlert(t *testing.T) {
	_, sink, bus := newNotifierFixture(600)

	bus.Emit(events.TradeOpened, "trading", map[string]interface{}{
		"symbol":      "AAPL",
		"quantity":    "10",
		"entry_price": "25.42",
		"stop":        "24.66",
		"take_profit": "26.69",
		"simulated":   true,
	})

	text := sink.wait(t)
	assert.Contains(t, text, "*OPEN* AAPL (simulated)")
	assert.Contains(t, text, "10 shares @ 25.42")
	assert.Contains(t, text, "stop 24.66, target 26.69")
}

func TestTradeClosedAlert(t *testing.T) {
	_, sink, bus := newNotifierFixture(600)

	bus.Emit(events.TradeClosed, "trading", map[string]interface{}{
		"symbol":       "MSFT",
		"exit_price":   "101.60",
		"pnl":          "16.00",
		"pnl_pct":      "1.60",
		"duration_min": int64(90),
		"exit_reason":  "TRAILING_STOP",
		"simulated":    false,
	})

	text := sink.wait(t)
	assert.Contains(t, text, "*CLOSE* MSFT TRAILING_STOP")
	assert.Contains(t, text, "P/L 16.00 (1.60%) after 90 min")
	assert.NotContains(t, text, "simulated")
}

func TestSafeModeAlerts(t *testing.T) {
	_, sink, bus := newNotifierFixture(600)

	bus.Emit(events.SafeModeTripped, "risk", map[string]interface{}{
		"reason": "daily loss 2.10% breached limit 2.00%",
	})
	assert.Contains(t, sink.wait(t), "daily loss 2.10% breached limit 2.00%")

	bus.Emit(events.SafeModeCleared, "risk", map[string]interface{}{
		"cleared_by": "operator",
	})
	assert.Contains(t, sink.wait(t), "*SAFE MODE* cleared by operator")
}

func TestTokenExpiredAlert(t *testing.T) {
	_, sink, bus := newNotifierFixture(600)

	bus.Emit(events.TokenWentExpired, "tokens", map[string]interface{}{
		"env":    "live",
		"reason": "keepalive returned 401",
	})

	text := sink.wait(t)
	assert.Contains(t, text, "*TOKENS EXPIRED* (live)")
	assert.Contains(t, text, "Real ordering is disabled")
}

func TestBudgetExhaustedAlert(t *testing.T) {
	_, sink, bus := newNotifierFixture(600)

	bus.Emit(events.BudgetExhausted, "marketdata", map[string]interface{}{
		"used_today":     int64(1403),
		"used_last_hour": int64(204),
		"daily_limit":    int64(1400),
	})

	assert.Contains(t, sink.wait(t), "1403 of 1400 calls used today")
}

func TestErrorAlert(t *testing.T) {
	_, sink, bus := newNotifierFixture(600)

	bus.EmitError("positions", errors.New("close order rejected"), map[string]interface{}{
		"symbol": "AAPL",
	})

	text := sink.wait(t)
	assert.Contains(t, text, "*POSITIONS ERROR*")
	assert.Contains(t, text, "close order rejected")
}

func TestThrottleDropsOverflow(t *testing.T) {
	n, sink, bus := newNotifierFixture(1)

	for i := 0; i < 5; i++ {
		bus.Emit(events.SafeModeTripped, "risk", map[string]interface{}{
			"reason": "flood",
		})
	}

	sink.wait(t)
	assert.Equal(t, uint64(4), n.Dropped())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.sent, 1)
}

func TestDeliveryFailureOnlyLogged(t *testing.T) {
	_, sink, bus := newNotifierFixture(600)
	sink.err = errors.New("telegram unreachable")

	require.NotPanics(t, func() {
		bus.Emit(events.SafeModeTripped, "risk", map[string]interface{}{
			"reason": "drawdown",
		})
		sink.wait(t)
	})
}
