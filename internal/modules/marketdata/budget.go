package marketdata

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/events"
)

// budgetResetHour is when the daily allowance rolls over, 04:00 Eastern,
// aligned with the start of pre-market.
const budgetResetHour = 4

// Budget meters broker API calls against a daily allowance with hourly
// smoothing: at most 1/6 of the daily budget may be spent in any
// trailing hour, so a hot morning cannot starve the close.
type Budget struct {
	clock      domain.Clock
	loc        *time.Location
	bus        *events.Bus
	dailyLimit int
	log        zerolog.Logger

	mu         sync.Mutex
	cycleStart time.Time
	usedToday  int
	calls      []time.Time // trailing hour of call stamps
	exhausted  bool        // one event per cycle
}

// BudgetStats is a point-in-time snapshot for the status endpoint.
type BudgetStats struct {
	UsedToday    int       `json:"used_today"`
	UsedLastHour int       `json:"used_last_hour"`
	DailyLimit   int       `json:"daily_limit"`
	HourlyLimit  int       `json:"hourly_limit"`
	CycleStart   time.Time `json:"cycle_start"`
}

// NewBudget creates a budget with the given daily limit.
func NewBudget(dailyLimit int, clock domain.Clock, bus *events.Bus) (*Budget, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("failed to load eastern timezone: %w", err)
	}
	return &Budget{
		clock:      clock,
		loc:        loc,
		bus:        bus,
		dailyLimit: dailyLimit,
		log:        log.With().Str("module", "marketdata").Str("component", "budget").Logger(),
	}, nil
}

// Take reserves one API call, or reports that the allowance is spent.
func (b *Budget) Take() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.rollCycle(now)
	b.pruneHour(now)

	hourlyLimit := b.hourlyLimit()
	if b.usedToday >= b.dailyLimit || len(b.calls) >= hourlyLimit {
		if !b.exhausted {
			b.exhausted = true
			b.log.Warn().
				Int("used_today", b.usedToday).
				Int("used_last_hour", len(b.calls)).
				Int("daily_limit", b.dailyLimit).
				Msg("API budget exhausted")
			b.bus.Emit(events.BudgetExhausted, "marketdata", map[string]interface{}{
				"used_today":     b.usedToday,
				"used_last_hour": len(b.calls),
				"daily_limit":    b.dailyLimit,
			})
		}
		return domain.ErrBudgetExhausted
	}

	b.usedToday++
	b.calls = append(b.calls, now)
	return nil
}

// Available returns how many calls remain before the daily limit.
func (b *Budget) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollCycle(b.clock.Now())
	remaining := b.dailyLimit - b.usedToday
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Stats returns a snapshot of the current cycle.
func (b *Budget) Stats() BudgetStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.rollCycle(now)
	b.pruneHour(now)

	return BudgetStats{
		UsedToday:    b.usedToday,
		UsedLastHour: len(b.calls),
		DailyLimit:   b.dailyLimit,
		HourlyLimit:  b.hourlyLimit(),
		CycleStart:   b.cycleStart,
	}
}

func (b *Budget) hourlyLimit() int {
	limit := b.dailyLimit / 6
	if limit < 1 {
		limit = 1
	}
	return limit
}

// rollCycle lazily resets counters when now has crossed 04:00 Eastern.
func (b *Budget) rollCycle(now time.Time) {
	local := now.In(b.loc)
	cycle := time.Date(local.Year(), local.Month(), local.Day(), budgetResetHour, 0, 0, 0, b.loc)
	if local.Before(cycle) {
		cycle = cycle.AddDate(0, 0, -1)
	}

	if b.cycleStart.IsZero() {
		b.cycleStart = cycle
		return
	}
	if cycle.After(b.cycleStart) {
		b.log.Info().
			Int("used_today", b.usedToday).
			Time("new_cycle", cycle).
			Msg("API budget cycle reset")
		b.cycleStart = cycle
		b.usedToday = 0
		b.calls = b.calls[:0]
		b.exhausted = false
	}
}

func (b *Budget) pruneHour(now time.Time) {
	cutoff := now.Add(-time.Hour)
	idx := 0
	for idx < len(b.calls) && !b.calls[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		b.calls = append(b.calls[:0], b.calls[idx:]...)
	}
}
