// Package domain contains the core entities shared across modules.
// It has no dependencies on infrastructure packages.
package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// MarketPhase represents the current phase of the US equity trading day.
type MarketPhase string

const (
	PhaseClosed     MarketPhase = "CLOSED"
	PhasePreMarket  MarketPhase = "PRE_MARKET"
	PhaseRegular    MarketPhase = "REGULAR"
	PhaseAfterHours MarketPhase = "AFTER_HOURS"
)

// Agreement is the cross-validation consensus level across strategies.
type Agreement string

const (
	AgreementNone   Agreement = "NONE"
	AgreementLow    Agreement = "LOW"
	AgreementMedium Agreement = "MEDIUM"
	AgreementHigh   Agreement = "HIGH"
)

// PositionState is the stealth trailing stop state machine state.
type PositionState string

const (
	PositionInitial        PositionState = "INITIAL"
	PositionBreakevenArmed PositionState = "BREAKEVEN_ARMED"
	PositionTrailing       PositionState = "TRAILING"
	PositionClosed         PositionState = "CLOSED"
)

// StopKind records which rule last raised a position's stop price.
// It determines how a stop-triggered exit is reported.
type StopKind string

const (
	StopInitial   StopKind = "initial"
	StopBreakeven StopKind = "breakeven"
	StopTrailing  StopKind = "trailing"
)

// ExitReason classifies why a position was closed.
type ExitReason string

const (
	ExitStopHit            ExitReason = "STOP_HIT"
	ExitBreakeven          ExitReason = "BREAKEVEN"
	ExitTrailingStop       ExitReason = "TRAILING_STOP"
	ExitTakeProfit         ExitReason = "TAKE_PROFIT"
	ExitTakeProfitExtended ExitReason = "TAKE_PROFIT_EXTENDED"
	ExitRSIExhaustion      ExitReason = "RSI_EXHAUSTION"
	ExitTimeExit           ExitReason = "TIME_EXIT"
	ExitVolumeReversal     ExitReason = "VOLUME_REVERSAL"
	ExitDataStarved        ExitReason = "DATA_STARVED"
	ExitShutdown           ExitReason = "SHUTDOWN"
)

// TokenState is the OAuth access token lifecycle state.
type TokenState string

const (
	TokenAbsent  TokenState = "ABSENT"
	TokenValid   TokenState = "VALID"
	TokenIdle    TokenState = "IDLE"
	TokenExpired TokenState = "EXPIRED"
)

var symbolPattern = regexp.MustCompile(`^[A-Z]{1,5}$`)

// ValidSymbol reports whether s is a plausible US equity ticker.
func ValidSymbol(s string) bool {
	return symbolPattern.MatchString(s)
}

// Quote is a point-in-time market snapshot for one symbol.
// Zero-valued decimal fields mean the broker did not supply that leg.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Last          decimal.Decimal `json:"last"`
	Bid           decimal.Decimal `json:"bid"`
	Ask           decimal.Decimal `json:"ask"`
	DayHigh       decimal.Decimal `json:"day_high"`
	DayLow        decimal.Decimal `json:"day_low"`
	PrevClose     decimal.Decimal `json:"prev_close"`
	Volume        int64           `json:"volume"`
	AverageVolume int64           `json:"average_volume"` // 20-day average, 0 when unknown
	CapturedAt    time.Time       `json:"captured_at"`
	Stale         bool            `json:"stale,omitempty"` // served from cache past its freshness window
}

// HasLast reports whether the quote carries a usable last trade price.
func (q *Quote) HasLast() bool {
	return q.Last.IsPositive()
}

// SpreadPct returns (ask-bid)/ask as a percentage, or 0 when either leg is missing.
func (q *Quote) SpreadPct() decimal.Decimal {
	if !q.Bid.IsPositive() || !q.Ask.IsPositive() || q.Ask.LessThanOrEqual(q.Bid) {
		return decimal.Zero
	}
	return q.Ask.Sub(q.Bid).Div(q.Ask).Mul(decimal.NewFromInt(100))
}

// DollarVolume returns last price times day volume.
func (q *Quote) DollarVolume() decimal.Decimal {
	return q.Last.Mul(decimal.NewFromInt(q.Volume))
}

// AccountSnapshot is a cached view of broker account balances.
type AccountSnapshot struct {
	AvailableCash     decimal.Decimal `json:"available_cash"`
	TotalAccountValue decimal.Decimal `json:"total_account_value"`
	CapturedAt        time.Time       `json:"captured_at"`
}

// BrokerPosition is a position as reported by the broker, used to
// compute the value of engine-managed exposure.
type BrokerPosition struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	MarketValue decimal.Decimal `json:"market_value"`
}

// Signal is a buy recommendation produced by the signal generator.
type Signal struct {
	Symbol            string          `json:"symbol"`
	Side              string          `json:"side"` // always "BUY"
	Confidence        float64         `json:"confidence"`
	ExpectedReturnPct float64         `json:"expected_return_pct"`
	QualityScore      float64         `json:"quality_score"`
	Agreement         Agreement       `json:"agreement"`
	EntryReference    decimal.Decimal `json:"entry_reference"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Position is an open (or just-closed) engine-managed position.
// The monitor owns the canonical instance; everyone else sees copies.
type Position struct {
	Symbol     string          `json:"symbol"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryTime  time.Time       `json:"entry_time"`

	StopPrice       decimal.Decimal `json:"stop_price"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	HighWater       decimal.Decimal `json:"high_water"`
	State           PositionState   `json:"state"`
	StopKind        StopKind        `json:"stop_kind"`

	Simulated bool   `json:"simulated"`
	ClientTag string `json:"client_tag"`
	OrderID   string `json:"order_id,omitempty"`

	ExitReason ExitReason      `json:"exit_reason,omitempty"`
	ExitPrice  decimal.Decimal `json:"exit_price,omitempty"`
	ExitTime   time.Time       `json:"exit_time,omitempty"`

	MissedQuotes       int             `json:"missed_quotes"`
	LastKnownPrice     decimal.Decimal `json:"last_known_price"`
	CloseAttemptFailed bool            `json:"close_attempt_failed"`
}

// Value returns quantity times entry price.
func (p *Position) Value() decimal.Decimal {
	return p.Quantity.Mul(p.EntryPrice)
}

// ReturnPct returns the fractional return of price against entry (0.01 = +1%).
func (p *Position) ReturnPct(price decimal.Decimal) decimal.Decimal {
	if !p.EntryPrice.IsPositive() {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Div(p.EntryPrice)
}

// Open reports whether the position is still managed by the monitor.
func (p *Position) Open() bool {
	return p.State != PositionClosed
}

// TradeRecord is the immutable close-out record of a finished trade.
type TradeRecord struct {
	ID          int64           `json:"id,omitempty"`
	Symbol      string          `json:"symbol"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	Quantity    decimal.Decimal `json:"quantity"`
	PnL         decimal.Decimal `json:"pnl"`
	PnLPct      decimal.Decimal `json:"pnl_pct"`
	EntryTime   time.Time       `json:"entry_time"`
	ExitTime    time.Time       `json:"exit_time"`
	HoldMinutes int64           `json:"hold_minutes"`
	ExitReason  ExitReason      `json:"exit_reason"`
	Strategy    string          `json:"strategy"`
	Simulated   bool            `json:"simulated"`
	ClientTag   string          `json:"client_tag"`
}

// NewTradeRecord derives the close-out record from a closed position.
func NewTradeRecord(p *Position, strategy string) TradeRecord {
	cost := p.Quantity.Mul(p.EntryPrice)
	proceeds := p.Quantity.Mul(p.ExitPrice)
	pnl := proceeds.Sub(cost)
	pnlPct := decimal.Zero
	if cost.IsPositive() {
		pnlPct = pnl.Div(cost).Mul(decimal.NewFromInt(100))
	}
	return TradeRecord{
		Symbol:      p.Symbol,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   p.ExitPrice,
		Quantity:    p.Quantity,
		PnL:         pnl,
		PnLPct:      pnlPct,
		EntryTime:   p.EntryTime,
		ExitTime:    p.ExitTime,
		HoldMinutes: int64(p.ExitTime.Sub(p.EntryTime).Minutes()),
		ExitReason:  p.ExitReason,
		Strategy:    strategy,
		Simulated:   p.Simulated,
		ClientTag:   p.ClientTag,
	}
}

// OrderRequest describes a market order to place at the broker.
type OrderRequest struct {
	Symbol    string
	Side      string // BUY or SELL
	Quantity  decimal.Decimal
	ClientTag string
}

// Broker order statuses.
const (
	OrderStatusOpen      = "OPEN"
	OrderStatusExecuted  = "EXECUTED"
	OrderStatusPartial   = "PARTIAL"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRejected  = "REJECTED"
)

// OrderResult is the broker's answer to an order placement or lookup.
type OrderResult struct {
	OrderID        string
	Status         string
	FilledQuantity decimal.Decimal
	AvgFillPrice   decimal.Decimal
	Rejected       bool
	RejectMessage  string
}

// Filled reports whether the order has any executed quantity.
func (r *OrderResult) Filled() bool {
	return r.FilledQuantity.IsPositive()
}

// ScoredSymbol pairs a symbol with its selector score.
type ScoredSymbol struct {
	Symbol string  `json:"symbol"`
	Score  float64 `json:"score"`
}

// WorkingSet is the ranked subset of the watchlist scanned for entries.
type WorkingSet struct {
	Symbols   []ScoredSymbol `json:"symbols"`
	BuiltAt   time.Time      `json:"built_at"`
	FromPrior bool           `json:"from_prior,omitempty"` // refresh failed, previous set kept
}

// Members returns the symbols in rank order.
func (w *WorkingSet) Members() []string {
	out := make([]string, len(w.Symbols))
	for i, s := range w.Symbols {
		out[i] = s.Symbol
	}
	return out
}

// TokenSet is one environment's OAuth credential set.
type TokenSet struct {
	Env               string    `json:"env"` // live or sandbox
	ConsumerKey       string    `json:"-"`
	ConsumerSecret    string    `json:"-"`
	AccessToken       string    `json:"-"`
	AccessTokenSecret string    `json:"-"`
	IssuedAt          time.Time `json:"issued_at"`
	LastUsedAt        time.Time `json:"last_used_at"`
}

// Complete reports whether all four credential parts are present.
func (t *TokenSet) Complete() bool {
	return t.ConsumerKey != "" && t.ConsumerSecret != "" &&
		t.AccessToken != "" && t.AccessTokenSecret != ""
}

// String implements fmt.Stringer without leaking secrets.
func (t *TokenSet) String() string {
	return fmt.Sprintf("TokenSet{env=%s issued=%s lastUsed=%s}",
		t.Env, t.IssuedAt.Format(time.RFC3339), t.LastUsedAt.Format(time.RFC3339))
}
