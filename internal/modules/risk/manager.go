// Package risk decides whether a signal becomes an order and how large
// that order is. Every signal passes the hard gates first (safe mode,
// position count, daily loss, drawdown, cash) and only then gets sized.
// All money math is decimal; the same inputs always produce the same
// order.
package risk

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tkomnos/stealthtrader/internal/config"
	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/modules/settings"
)

const peakEquityKey = "peak_equity"

// RejectReason explains why a signal did not become an order.
type RejectReason string

const (
	RejectSafeMode         RejectReason = "SAFE_MODE"
	RejectPositionLimit    RejectReason = "POSITION_LIMIT"
	RejectDailyLossLimit   RejectReason = "DAILY_LOSS_LIMIT"
	RejectDrawdownLimit    RejectReason = "DRAWDOWN_LIMIT"
	RejectInsufficientCash RejectReason = "INSUFFICIENT_CASH"
	RejectMinSize          RejectReason = "MIN_SIZE"
)

// Decision is the outcome of evaluating one signal.
type Decision struct {
	Approved bool
	Reason   RejectReason
	Detail   string

	Quantity        decimal.Decimal
	PositionValue   decimal.Decimal
	StopPrice       decimal.Decimal
	TakeProfitPrice decimal.Decimal
}

// Book is the engine's view of its own open positions. Sizing headroom
// is measured against what the engine opened, not against everything
// sitting at the broker.
type Book interface {
	OpenCount() int
	OpenValue() decimal.Decimal
}

// PnLSource supplies realized performance for the loss gate and the
// profit-scaling tier.
type PnLSource interface {
	RealizedToday() decimal.Decimal
	LifetimeRealizedPct() float64
	ConsecutiveWins() int
}

// Manager applies the risk gates and the sizing formula.
type Manager struct {
	sizing   config.SizingConfig
	limits   config.LimitsConfig
	trailing config.TrailingConfig
	safeMode *SafeMode
	book     Book
	pnl      PnLSource
	store    *settings.Store
	log      zerolog.Logger

	mu   sync.Mutex
	peak decimal.Decimal
}

// NewManager creates the risk manager. Call Load before first use to
// restore the peak equity watermark and the safe-mode latch.
func NewManager(cfg *config.Config, safeMode *SafeMode, book Book, pnl PnLSource, store *settings.Store) *Manager {
	return &Manager{
		sizing:   cfg.Sizing,
		limits:   cfg.Limits,
		trailing: cfg.Trailing,
		safeMode: safeMode,
		book:     book,
		pnl:      pnl,
		store:    store,
		log:      log.With().Str("module", "risk").Logger(),
	}
}

// Load restores persisted state.
func (m *Manager) Load() error {
	if err := m.safeMode.Load(); err != nil {
		return err
	}
	peak, ok, err := m.store.GetDecimal(peakEquityKey)
	if err != nil {
		return fmt.Errorf("failed to load peak equity: %w", err)
	}
	if ok {
		m.mu.Lock()
		m.peak = peak
		m.mu.Unlock()
	}
	return nil
}

// Evaluate runs a signal through the gates and, if all pass, sizes the
// position. Gate order is fixed: the first breach wins.
func (m *Manager) Evaluate(signal domain.Signal, snapshot *domain.AccountSnapshot) Decision {
	peak := m.ratchetPeak(snapshot.TotalAccountValue)
	dailyLoss := m.dailyLossPct(peak)
	drawdown := drawdownPct(peak, snapshot.TotalAccountValue)

	if m.safeMode.Active() {
		m.safeMode.TryAutoRecover(dailyLoss, drawdown)
	}
	if m.safeMode.Active() {
		_, reason, _ := m.safeMode.Status()
		return m.reject(signal, RejectSafeMode, reason)
	}

	if open := m.book.OpenCount(); open >= m.limits.MaxPositions {
		return m.reject(signal, RejectPositionLimit,
			fmt.Sprintf("%d of %d positions open", open, m.limits.MaxPositions))
	}

	if dailyLoss >= m.limits.MaxDailyLossPct {
		detail := fmt.Sprintf("daily loss %.2f%% breached limit %.2f%%", dailyLoss, m.limits.MaxDailyLossPct)
		m.safeMode.Trip(detail)
		return m.reject(signal, RejectDailyLossLimit, detail)
	}

	if drawdown >= m.limits.MaxDrawdownPct {
		detail := fmt.Sprintf("drawdown %.2f%% breached limit %.2f%%", drawdown, m.limits.MaxDrawdownPct)
		m.safeMode.Trip(detail)
		return m.reject(signal, RejectDrawdownLimit, detail)
	}

	minValue := decimal.NewFromFloat(m.sizing.MinPositionValueUSD)
	if snapshot.AvailableCash.LessThan(minValue) {
		return m.reject(signal, RejectInsufficientCash,
			fmt.Sprintf("available cash $%s below minimum position $%s",
				snapshot.AvailableCash.StringFixed(2), minValue.StringFixed(0)))
	}

	return m.size(signal, snapshot)
}

// Reassess updates the peak watermark and gives the safe-mode latch a
// recovery chance. The monitor calls this on its tick so the latch can
// clear without waiting for the next signal.
func (m *Manager) Reassess(snapshot *domain.AccountSnapshot) {
	if snapshot == nil {
		return
	}
	peak := m.ratchetPeak(snapshot.TotalAccountValue)
	if m.safeMode.Active() {
		m.safeMode.TryAutoRecover(m.dailyLossPct(peak), drawdownPct(peak, snapshot.TotalAccountValue))
	}
}

// PeakEquity returns the high watermark used for loss and drawdown math.
func (m *Manager) PeakEquity() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// LimitsStatus is the gate state reported by the status endpoint.
type LimitsStatus struct {
	SafeMode       bool            `json:"safe_mode"`
	SafeModeReason string          `json:"safe_mode_reason,omitempty"`
	PeakEquity     decimal.Decimal `json:"peak_equity"`
	DailyLossPct   float64         `json:"daily_loss_pct"`
	DrawdownPct    float64         `json:"drawdown_pct"`
	OpenPositions  int             `json:"open_positions"`
	MaxPositions   int             `json:"max_positions"`
}

// Status reports the current gate state. A nil snapshot reports loss
// against the stored peak with zero drawdown.
func (m *Manager) Status(snapshot *domain.AccountSnapshot) LimitsStatus {
	peak := m.PeakEquity()
	st := LimitsStatus{
		PeakEquity:    peak,
		DailyLossPct:  m.dailyLossPct(peak),
		OpenPositions: m.book.OpenCount(),
		MaxPositions:  m.limits.MaxPositions,
	}
	st.SafeMode, st.SafeModeReason, _ = m.safeMode.Status()
	if snapshot != nil {
		st.DrawdownPct = drawdownPct(peak, snapshot.TotalAccountValue)
	}
	return st
}

func (m *Manager) size(signal domain.Signal, snapshot *domain.AccountSnapshot) Decision {
	cash := snapshot.AvailableCash
	tradingCash := cash.Mul(pct(m.sizing.TradingCashPct))
	base := cash.Mul(pct(m.sizing.BasePositionPct))

	confMult := m.confidenceMult(signal.Confidence)
	bonus := m.agreementBonus(signal)
	profit := profitScale(m.pnl.LifetimeRealizedPct())
	streak := m.pnl.ConsecutiveWins()

	raw := base.
		Mul(decimal.NewFromFloat(confMult)).
		Mul(decimal.NewFromFloat(1 + bonus)).
		Mul(decimal.NewFromFloat(profit)).
		Mul(decimal.NewFromFloat(m.sizing.WinStreakMult))

	ceiling := cash.Mul(pct(m.sizing.MaxPositionPct))
	headroom := tradingCash.Sub(m.book.OpenValue())
	value := decimal.Min(raw, ceiling, headroom)

	minValue := decimal.NewFromFloat(m.sizing.MinPositionValueUSD)
	if value.LessThan(minValue) {
		return m.reject(signal, RejectMinSize,
			fmt.Sprintf("sized $%s below minimum $%s", value.StringFixed(2), minValue.StringFixed(0)))
	}

	entry := signal.EntryReference
	if !entry.IsPositive() {
		return m.reject(signal, RejectMinSize, "no usable entry reference price")
	}

	qty := value.Div(entry)
	if m.sizing.FractionalShares {
		qty = qty.Truncate(4)
	} else {
		qty = qty.Floor()
	}
	if !qty.IsPositive() {
		return m.reject(signal, RejectMinSize,
			fmt.Sprintf("$%s buys zero shares at $%s", value.StringFixed(2), entry.StringFixed(2)))
	}

	stop, target := ExitPrices(m.trailing, entry, signal.ExpectedReturnPct)

	m.log.Info().
		Str("symbol", signal.Symbol).
		Str("value", value.StringFixed(2)).
		Str("quantity", qty.String()).
		Str("stop", stop.StringFixed(2)).
		Str("target", target.StringFixed(2)).
		Float64("confidence", signal.Confidence).
		Float64("conf_mult", confMult).
		Float64("agreement_bonus", bonus).
		Float64("profit_scale", profit).
		Int("win_streak", streak).
		Msg("Signal approved")

	return Decision{
		Approved:        true,
		Quantity:        qty,
		PositionValue:   value.Round(2),
		StopPrice:       stop,
		TakeProfitPrice: target,
	}
}

func (m *Manager) confidenceMult(confidence float64) float64 {
	s := m.sizing
	switch {
	case confidence >= s.UltraHighConfThreshold:
		return s.UltraHighConfMult
	case confidence >= s.HighConfThreshold:
		return s.HighConfMult
	case confidence >= s.MediumConfThreshold:
		return s.MediumConfMult
	default:
		return 1.0
	}
}

// agreementBonus maps strategy agreement to a size bonus. Full
// agreement at ultra-high confidence earns the max bonus tier.
func (m *Manager) agreementBonus(signal domain.Signal) float64 {
	switch signal.Agreement {
	case domain.AgreementHigh:
		if signal.Confidence >= m.sizing.UltraHighConfThreshold {
			return m.sizing.AgreementMaxBonus
		}
		return m.sizing.AgreementHighBonus
	case domain.AgreementMedium:
		return m.sizing.AgreementMediumBonus
	default:
		return 0
	}
}

func profitScale(lifetimePct float64) float64 {
	switch {
	case lifetimePct >= 200:
		return 1.8
	case lifetimePct >= 100:
		return 1.4
	case lifetimePct >= 50:
		return 1.2
	case lifetimePct >= 25:
		return 1.1
	default:
		return 1.0
	}
}

// dailyLossPct measures today's realized loss against peak equity, as a
// positive percentage. Profitable or flat days report zero.
func (m *Manager) dailyLossPct(peak decimal.Decimal) float64 {
	if !peak.IsPositive() {
		return 0
	}
	realized := m.pnl.RealizedToday()
	if !realized.IsNegative() {
		return 0
	}
	loss, _ := realized.Neg().Div(peak).Mul(decimal.NewFromInt(100)).Float64()
	return loss
}

func drawdownPct(peak, equity decimal.Decimal) float64 {
	if !peak.IsPositive() || equity.GreaterThanOrEqual(peak) {
		return 0
	}
	dd, _ := peak.Sub(equity).Div(peak).Mul(decimal.NewFromInt(100)).Float64()
	return dd
}

func (m *Manager) ratchetPeak(equity decimal.Decimal) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if equity.GreaterThan(m.peak) {
		m.peak = equity
		if err := m.store.SetDecimal(peakEquityKey, equity); err != nil {
			m.log.Warn().Err(err).Msg("Failed to persist peak equity")
		}
	}
	return m.peak
}

func (m *Manager) reject(signal domain.Signal, reason RejectReason, detail string) Decision {
	m.log.Info().
		Str("symbol", signal.Symbol).
		Str("reason", string(reason)).
		Str("detail", detail).
		Msg("Signal rejected")
	return Decision{Reason: reason, Detail: detail}
}

func pct(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Div(decimal.NewFromInt(100))
}
