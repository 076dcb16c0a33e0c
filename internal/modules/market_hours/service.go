// Package market_hours answers one question from several angles: where
// are we in the US equity trading day. All boundaries are computed in
// Eastern time regardless of where the host runs.
package market_hours

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tkomnos/stealthtrader/internal/domain"
)

// Session boundaries in minutes from Eastern midnight.
const (
	preMarketOpenMinute  = 4 * 60    // 04:00
	regularOpenMinute    = 9*60 + 30 // 09:30
	regularCloseMinute   = 16 * 60   // 16:00
	earlyCloseMinute     = 13 * 60   // 13:00
	afterHoursEndMinute  = 20 * 60   // 20:00
	earlyAfterHoursEnd   = 17 * 60   // 17:00 on early close days
	nextSessionScanLimit = 366       // days to scan for the next session
)

// Service computes market phases from the closure calendar.
type Service struct {
	clock     domain.Clock
	loc       *time.Location
	forceOpen bool
	log       zerolog.Logger

	mu          sync.Mutex
	staleWarned map[string]bool // one warning per stale date
}

// NewService creates the market hours service. With forceOpen the phase
// is pinned to REGULAR so the pipeline can be exercised outside market
// hours; calendar math is unaffected.
func NewService(clock domain.Clock, forceOpen bool) (*Service, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("failed to load eastern timezone: %w", err)
	}
	return &Service{
		clock:       clock,
		loc:         loc,
		forceOpen:   forceOpen,
		log:         log.With().Str("module", "market_hours").Logger(),
		staleWarned: make(map[string]bool),
	}, nil
}

// Location returns the exchange timezone.
func (s *Service) Location() *time.Location {
	return s.loc
}

// CurrentPhase returns the phase for the injected clock's now.
func (s *Service) CurrentPhase() domain.MarketPhase {
	return s.PhaseAt(s.clock.Now())
}

// PhaseAt returns the market phase at an arbitrary instant.
func (s *Service) PhaseAt(t time.Time) domain.MarketPhase {
	if s.forceOpen {
		return domain.PhaseRegular
	}

	local := t.In(s.loc)
	if !s.IsTradingDay(local) {
		return domain.PhaseClosed
	}

	minute := local.Hour()*60 + local.Minute()
	closeMinute, afterHoursEnd := s.closeMinutes(local)

	switch {
	case minute < preMarketOpenMinute:
		return domain.PhaseClosed
	case minute < regularOpenMinute:
		return domain.PhasePreMarket
	case minute < closeMinute:
		return domain.PhaseRegular
	case minute < afterHoursEnd:
		return domain.PhaseAfterHours
	default:
		return domain.PhaseClosed
	}
}

// IsTradingDay reports whether t's Eastern date is a session day.
func (s *Service) IsTradingDay(t time.Time) bool {
	local := t.In(s.loc)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	if local.Year() > maxCalendarYear {
		s.warnStaleCalendar(local.Format("2006-01-02"))
		return true
	}

	_, holiday := marketHolidays[local.Format("2006-01-02")]
	return !holiday
}

// IsEarlyClose reports whether t's Eastern date closes at 13:00.
func (s *Service) IsEarlyClose(t time.Time) bool {
	local := t.In(s.loc)
	if local.Year() > maxCalendarYear {
		return false
	}
	return earlyCloses[local.Format("2006-01-02")]
}

// HolidayName returns the closure name for t's date, empty when none.
func (s *Service) HolidayName(t time.Time) string {
	return marketHolidays[t.In(s.loc).Format("2006-01-02")]
}

// SessionClose returns the regular session close for t's Eastern date.
// The second return is false when the date is not a trading day.
func (s *Service) SessionClose(t time.Time) (time.Time, bool) {
	local := t.In(s.loc)
	if !s.IsTradingDay(local) {
		return time.Time{}, false
	}
	closeMinute, _ := s.closeMinutes(local)
	return s.minuteOfDay(local, closeMinute), true
}

// TimeToClose returns how long until the regular session close. The
// second return is false outside trading days or after the close.
func (s *Service) TimeToClose(t time.Time) (time.Duration, bool) {
	closeAt, ok := s.SessionClose(t)
	if !ok {
		return 0, false
	}
	remaining := closeAt.Sub(t)
	if remaining < 0 {
		return 0, false
	}
	return remaining, true
}

// NextTransition returns the next phase change after t: the phase being
// entered and when. Scans up to a year ahead so a stale calendar cannot
// loop forever.
func (s *Service) NextTransition(t time.Time) (domain.MarketPhase, time.Time) {
	local := t.In(s.loc)

	if s.IsTradingDay(local) {
		closeMinute, afterHoursEnd := s.closeMinutes(local)
		boundaries := []struct {
			minute int
			phase  domain.MarketPhase
		}{
			{preMarketOpenMinute, domain.PhasePreMarket},
			{regularOpenMinute, domain.PhaseRegular},
			{closeMinute, domain.PhaseAfterHours},
			{afterHoursEnd, domain.PhaseClosed},
		}
		minute := local.Hour()*60 + local.Minute()
		for _, boundary := range boundaries {
			if minute < boundary.minute {
				return boundary.phase, s.minuteOfDay(local, boundary.minute)
			}
		}
	}

	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	for i := 0; i < nextSessionScanLimit; i++ {
		day = day.AddDate(0, 0, 1)
		if s.IsTradingDay(day) {
			return domain.PhasePreMarket, s.minuteOfDay(day, preMarketOpenMinute)
		}
	}
	return domain.PhaseClosed, time.Time{}
}

// closeMinutes returns the regular close and after-hours end minutes
// for the given local date.
func (s *Service) closeMinutes(local time.Time) (closeMinute, afterHoursEnd int) {
	if s.IsEarlyClose(local) {
		return earlyCloseMinute, earlyAfterHoursEnd
	}
	return regularCloseMinute, afterHoursEndMinute
}

func (s *Service) minuteOfDay(local time.Time, minute int) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), minute/60, minute%60, 0, 0, s.loc)
}

func (s *Service) warnStaleCalendar(date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleWarned[date] {
		return
	}
	s.staleWarned[date] = true
	s.log.Warn().
		Str("date", date).
		Int("calendar_until", maxCalendarYear).
		Msg("Closure calendar is stale, treating weekdays as trading days")
}
