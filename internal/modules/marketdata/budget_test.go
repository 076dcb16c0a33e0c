package marketdata

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/events"
)

func budgetClock(t *testing.T) *domain.FixedClock {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return &domain.FixedClock{T: time.Date(2026, 3, 10, 10, 0, 0, 0, loc)}
}

func TestBudgetTakeWithinLimit(t *testing.T) {
	clock := budgetClock(t)
	budget, err := NewBudget(600, clock, events.NewBus(zerolog.Nop()))
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, budget.Take())
	}

	stats := budget.Stats()
	assert.Equal(t, 50, stats.UsedToday)
	assert.Equal(t, 50, stats.UsedLastHour)
	assert.Equal(t, 600, stats.DailyLimit)
	assert.Equal(t, 100, stats.HourlyLimit)
}

func TestBudgetHourlySmoothing(t *testing.T) {
	clock := budgetClock(t)
	budget, err := NewBudget(600, clock, events.NewBus(zerolog.Nop()))
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.NoError(t, budget.Take())
	}
	assert.True(t, errors.Is(budget.Take(), domain.ErrBudgetExhausted))

	// The trailing hour clears and calls flow again.
	clock.Advance(61 * time.Minute)
	assert.NoError(t, budget.Take())

	stats := budget.Stats()
	assert.Equal(t, 101, stats.UsedToday)
	assert.Equal(t, 1, stats.UsedLastHour)
}

func TestBudgetDailyLimit(t *testing.T) {
	clock := budgetClock(t)
	budget, err := NewBudget(12, clock, events.NewBus(zerolog.Nop()))
	require.NoError(t, err)

	// Hourly limit is 2, so spend in widely spaced pairs.
	for pair := 0; pair < 6; pair++ {
		require.NoError(t, budget.Take())
		require.NoError(t, budget.Take())
		clock.Advance(61 * time.Minute)
	}

	// 12 used in total; the hour is clear but the day is spent.
	assert.True(t, errors.Is(budget.Take(), domain.ErrBudgetExhausted))
}

func TestBudgetResetsAtFourEastern(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	clock := &domain.FixedClock{T: time.Date(2026, 3, 10, 3, 30, 0, 0, loc)}

	budget, err := NewBudget(6, clock, events.NewBus(zerolog.Nop()))
	require.NoError(t, err)

	require.NoError(t, budget.Take())
	assert.True(t, errors.Is(budget.Take(), domain.ErrBudgetExhausted), "hourly limit of 1 blocks the second call")

	// Crossing 04:00 opens a fresh cycle.
	clock.Advance(45 * time.Minute)
	assert.NoError(t, budget.Take())
	assert.Equal(t, 1, budget.Stats().UsedToday)
}

func TestBudgetExhaustionEventOncePerCycle(t *testing.T) {
	clock := budgetClock(t)
	bus := events.NewBus(zerolog.Nop())
	var emitted int
	bus.Subscribe(events.BudgetExhausted, func(events.Event) { emitted++ })

	budget, err := NewBudget(6, clock, bus)
	require.NoError(t, err)

	require.NoError(t, budget.Take())
	assert.Error(t, budget.Take())
	assert.Error(t, budget.Take())
	assert.Equal(t, 1, emitted, "repeat exhaustion should not re-emit")

	// Next cycle re-arms the event.
	clock.Advance(24 * time.Hour)
	require.NoError(t, budget.Take())
	assert.Error(t, budget.Take())
	assert.Equal(t, 2, emitted)
}
