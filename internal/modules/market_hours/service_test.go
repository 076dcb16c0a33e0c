package market_hours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkomnos/stealthtrader/internal/domain"
)

func newTestService(t *testing.T, at time.Time) *Service {
	t.Helper()
	svc, err := NewService(&domain.FixedClock{T: at}, false)
	require.NoError(t, err)
	return svc
}

func et(t *testing.T, year int, month time.Month, day, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func TestPhaseBoundariesOnRegularDay(t *testing.T) {
	svc := newTestService(t, time.Now())

	// Tuesday 2026-03-10.
	cases := []struct {
		hour, minute int
		want         domain.MarketPhase
	}{
		{3, 59, domain.PhaseClosed},
		{4, 0, domain.PhasePreMarket},
		{9, 29, domain.PhasePreMarket},
		{9, 30, domain.PhaseRegular},
		{12, 0, domain.PhaseRegular},
		{15, 59, domain.PhaseRegular},
		{16, 0, domain.PhaseAfterHours},
		{19, 59, domain.PhaseAfterHours},
		{20, 0, domain.PhaseClosed},
		{23, 30, domain.PhaseClosed},
	}
	for _, tc := range cases {
		at := et(t, 2026, time.March, 10, tc.hour, tc.minute)
		assert.Equal(t, tc.want, svc.PhaseAt(at), "at %02d:%02d", tc.hour, tc.minute)
	}
}

func TestEarlyCloseShortensSessions(t *testing.T) {
	svc := newTestService(t, time.Now())

	// Friday after Thanksgiving 2025, 13:00 close.
	day := func(hour, minute int) time.Time {
		return et(t, 2025, time.November, 28, hour, minute)
	}

	assert.Equal(t, domain.PhaseRegular, svc.PhaseAt(day(12, 59)))
	assert.Equal(t, domain.PhaseAfterHours, svc.PhaseAt(day(13, 0)))
	assert.Equal(t, domain.PhaseAfterHours, svc.PhaseAt(day(13, 5)))
	assert.Equal(t, domain.PhaseAfterHours, svc.PhaseAt(day(16, 59)))
	assert.Equal(t, domain.PhaseClosed, svc.PhaseAt(day(17, 0)))

	assert.True(t, svc.IsEarlyClose(day(10, 0)))
}

func TestHolidaysAreClosedAllDay(t *testing.T) {
	svc := newTestService(t, time.Now())

	thanksgiving := et(t, 2025, time.November, 27, 12, 0)
	assert.Equal(t, domain.PhaseClosed, svc.PhaseAt(thanksgiving))
	assert.False(t, svc.IsTradingDay(thanksgiving))
	assert.Equal(t, "Thanksgiving Day", svc.HolidayName(thanksgiving))

	juneteenth := et(t, 2026, time.June, 19, 10, 30)
	assert.Equal(t, domain.PhaseClosed, svc.PhaseAt(juneteenth))
}

func TestWeekendsAreClosed(t *testing.T) {
	svc := newTestService(t, time.Now())

	saturday := et(t, 2026, time.March, 14, 11, 0)
	sunday := et(t, 2026, time.March, 15, 11, 0)
	assert.Equal(t, domain.PhaseClosed, svc.PhaseAt(saturday))
	assert.Equal(t, domain.PhaseClosed, svc.PhaseAt(sunday))
	assert.False(t, svc.IsTradingDay(saturday))
}

func TestStaleCalendarFallsBackToWeekdays(t *testing.T) {
	svc := newTestService(t, time.Now())

	// A Wednesday beyond the calendar table.
	future := et(t, 2027, time.June, 16, 12, 0)
	assert.True(t, svc.IsTradingDay(future))
	assert.Equal(t, domain.PhaseRegular, svc.PhaseAt(future))
	assert.False(t, svc.IsEarlyClose(future))

	futureSaturday := et(t, 2027, time.June, 19, 12, 0)
	assert.False(t, svc.IsTradingDay(futureSaturday))
}

func TestPhaseIsTimezoneIndependent(t *testing.T) {
	svc := newTestService(t, time.Now())

	// 14:35 UTC on 2026-03-10 is 10:35 Eastern (DST).
	utc := time.Date(2026, time.March, 10, 14, 35, 0, 0, time.UTC)
	assert.Equal(t, domain.PhaseRegular, svc.PhaseAt(utc))
}

func TestForceOpenPinsRegular(t *testing.T) {
	svc, err := NewService(&domain.FixedClock{T: time.Now()}, true)
	require.NoError(t, err)

	sunday := et(t, 2026, time.March, 15, 3, 0)
	assert.Equal(t, domain.PhaseRegular, svc.PhaseAt(sunday))
}

func TestTimeToClose(t *testing.T) {
	svc := newTestService(t, time.Now())

	remaining, ok := svc.TimeToClose(et(t, 2026, time.March, 10, 15, 50))
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, remaining)

	_, ok = svc.TimeToClose(et(t, 2026, time.March, 10, 16, 30))
	assert.False(t, ok, "past the close there is nothing to count down")

	_, ok = svc.TimeToClose(et(t, 2026, time.March, 14, 12, 0))
	assert.False(t, ok, "saturday has no close")

	remaining, ok = svc.TimeToClose(et(t, 2025, time.November, 28, 12, 55))
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, remaining, "early close days count down to 13:00")
}

func TestSessionClose(t *testing.T) {
	svc := newTestService(t, time.Now())

	closeAt, ok := svc.SessionClose(et(t, 2026, time.March, 10, 10, 0))
	require.True(t, ok)
	assert.Equal(t, et(t, 2026, time.March, 10, 16, 0), closeAt)

	closeAt, ok = svc.SessionClose(et(t, 2025, time.December, 24, 10, 0))
	require.True(t, ok)
	assert.Equal(t, et(t, 2025, time.December, 24, 13, 0), closeAt)

	_, ok = svc.SessionClose(et(t, 2025, time.December, 25, 10, 0))
	assert.False(t, ok)
}

func TestNextTransition(t *testing.T) {
	svc := newTestService(t, time.Now())

	// Mid-session, the next boundary is the 16:00 close.
	phase, at := svc.NextTransition(et(t, 2026, time.March, 10, 14, 0))
	assert.Equal(t, domain.PhaseAfterHours, phase)
	assert.Equal(t, et(t, 2026, time.March, 10, 16, 0), at)

	// Friday evening rolls to Monday pre-market.
	phase, at = svc.NextTransition(et(t, 2026, time.March, 13, 21, 0))
	assert.Equal(t, domain.PhasePreMarket, phase)
	assert.Equal(t, et(t, 2026, time.March, 16, 4, 0), at)

	// The night before Thanksgiving skips to Friday's pre-market.
	phase, at = svc.NextTransition(et(t, 2025, time.November, 26, 21, 0))
	assert.Equal(t, domain.PhasePreMarket, phase)
	assert.Equal(t, et(t, 2025, time.November, 28, 4, 0), at)
}

func TestCurrentPhaseUsesInjectedClock(t *testing.T) {
	clock := &domain.FixedClock{T: et(t, 2026, time.March, 10, 10, 15)}
	svc, err := NewService(clock, false)
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseRegular, svc.CurrentPhase())

	clock.Advance(6 * time.Hour)
	assert.Equal(t, domain.PhaseAfterHours, svc.CurrentPhase())
}
