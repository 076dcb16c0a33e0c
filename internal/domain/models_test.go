package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidSymbol(t *testing.T) {
	tests := []struct {
		symbol string
		valid  bool
	}{
		{"A", true},
		{"AAPL", true},
		{"GOOGL", true},
		{"TOOLONG", false},
		{"aapl", false},
		{"BRK.B", false},
		{"", false},
		{"123", false},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidSymbol(tt.symbol))
		})
	}
}

func TestQuote_SpreadPct(t *testing.T) {
	q := &Quote{
		Bid: decimal.NewFromFloat(99.50),
		Ask: decimal.NewFromFloat(100.00),
	}
	assert.True(t, q.SpreadPct().Equal(decimal.NewFromFloat(0.5)))

	// Missing legs mean no spread information
	empty := &Quote{}
	assert.True(t, empty.SpreadPct().IsZero())

	// Crossed quotes report zero rather than a negative spread
	crossed := &Quote{Bid: decimal.NewFromInt(101), Ask: decimal.NewFromInt(100)}
	assert.True(t, crossed.SpreadPct().IsZero())
}

func TestPosition_ReturnPct(t *testing.T) {
	p := &Position{EntryPrice: decimal.NewFromInt(100)}

	ret := p.ReturnPct(decimal.NewFromFloat(100.5))
	assert.True(t, ret.Equal(decimal.NewFromFloat(0.005)), "got %s", ret)

	down := p.ReturnPct(decimal.NewFromInt(97))
	assert.True(t, down.Equal(decimal.NewFromFloat(-0.03)), "got %s", down)
}

func TestNewTradeRecord(t *testing.T) {
	entry := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	exit := entry.Add(95 * time.Minute)

	p := &Position{
		Symbol:     "AAPL",
		EntryPrice: decimal.NewFromInt(100),
		ExitPrice:  decimal.NewFromInt(103),
		Quantity:   decimal.NewFromInt(10),
		EntryTime:  entry,
		ExitTime:   exit,
		ExitReason: ExitTakeProfit,
		Simulated:  true,
	}

	rec := NewTradeRecord(p, "standard")

	assert.True(t, rec.PnL.Equal(decimal.NewFromInt(30)), "pnl %s", rec.PnL)
	assert.True(t, rec.PnLPct.Equal(decimal.NewFromInt(3)), "pnl pct %s", rec.PnLPct)
	assert.Equal(t, int64(95), rec.HoldMinutes)
	assert.Equal(t, ExitTakeProfit, rec.ExitReason)
	assert.True(t, rec.Simulated)
}

func TestTokenSet_Complete(t *testing.T) {
	ts := &TokenSet{ConsumerKey: "k", ConsumerSecret: "s", AccessToken: "t", AccessTokenSecret: "ts"}
	assert.True(t, ts.Complete())

	ts.AccessToken = ""
	assert.False(t, ts.Complete())
}

func TestTokenSet_StringHidesSecrets(t *testing.T) {
	ts := &TokenSet{Env: "live", AccessToken: "super-secret", AccessTokenSecret: "hidden"}
	s := ts.String()
	assert.NotContains(t, s, "super-secret")
	assert.NotContains(t, s, "hidden")
	assert.Contains(t, s, "live")
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	c := &FixedClock{T: start}
	assert.Equal(t, start, c.Now())
	c.Advance(2 * time.Minute)
	assert.Equal(t, start.Add(2*time.Minute), c.Now())
}
