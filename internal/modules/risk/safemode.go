package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/events"
	"github.com/tkomnos/stealthtrader/internal/modules/settings"
)

// Engine state keys for the latch.
const (
	safeModeKey         = "safe_mode"
	safeModeReasonKey   = "safe_mode_reason"
	safeModeTrippedKey  = "safe_mode_tripped_at"
	safeModeRecoveryKey = "safe_mode_last_auto_clear"
)

// SafeMode is the latched halt on new position opens. Once tripped it
// survives restarts and stays up until an operator clears it or the
// once-daily recovery rule fires. Open positions are unaffected; only
// new entries are blocked.
type SafeMode struct {
	store           *settings.Store
	bus             *events.Bus
	clock           domain.Clock
	loc             *time.Location
	maxDailyLossPct float64
	maxDrawdownPct  float64
	log             zerolog.Logger

	mu           sync.Mutex
	active       bool
	reason       string
	trippedAt    time.Time
	lastRecovery string // ET date of the last automatic clear
}

// NewSafeMode creates the latch. Call Load before first use to restore
// persisted state.
func NewSafeMode(store *settings.Store, bus *events.Bus, clock domain.Clock,
	maxDailyLossPct, maxDrawdownPct float64) (*SafeMode, error) {

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("failed to load eastern timezone: %w", err)
	}
	return &SafeMode{
		store:           store,
		bus:             bus,
		clock:           clock,
		loc:             loc,
		maxDailyLossPct: maxDailyLossPct,
		maxDrawdownPct:  maxDrawdownPct,
		log:             log.With().Str("module", "risk").Str("component", "safe_mode").Logger(),
	}, nil
}

// Load restores the latch from the engine state store.
func (s *SafeMode) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, ok, err := s.store.GetBool(safeModeKey)
	if err != nil {
		return fmt.Errorf("failed to load safe mode state: %w", err)
	}
	if !ok || !active {
		return nil
	}

	s.active = true
	s.reason, _, _ = s.store.Get(safeModeReasonKey)
	s.trippedAt, _, _ = s.store.GetTime(safeModeTrippedKey)
	if last, ok, _ := s.store.Get(safeModeRecoveryKey); ok {
		s.lastRecovery = last
	}
	s.log.Warn().Str("reason", s.reason).Time("tripped_at", s.trippedAt).
		Msg("Safe mode restored from previous run")
	return nil
}

// Active reports whether the latch is up.
func (s *SafeMode) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Status returns the latch state for the status endpoint.
func (s *SafeMode) Status() (active bool, reason string, trippedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.reason, s.trippedAt
}

// Trip raises the latch. Tripping an already-active latch keeps the
// original reason.
func (s *SafeMode) Trip(reason string) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.reason = reason
	s.trippedAt = s.clock.Now()
	s.mu.Unlock()

	s.persist(true, reason)
	s.log.Warn().Str("reason", reason).Msg("Safe mode tripped, new entries blocked")
	s.bus.Emit(events.SafeModeTripped, "risk", map[string]interface{}{
		"reason": reason,
	})
}

// Clear drops the latch on operator action.
func (s *SafeMode) Clear(clearedBy string) {
	if !s.clearInternal() {
		return
	}
	s.log.Info().Str("cleared_by", clearedBy).Msg("Safe mode cleared")
	s.bus.Emit(events.SafeModeCleared, "risk", map[string]interface{}{
		"cleared_by": clearedBy,
	})
}

// TryAutoRecover drops the latch when the day has recovered to inside
// half of both limits. It fires at most once per Eastern day so a
// churning session cannot flap the latch. Loss and drawdown are
// positive percentages.
func (s *SafeMode) TryAutoRecover(dailyLossPct, drawdownPct float64) bool {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false
	}
	today := s.clock.Now().In(s.loc).Format("2006-01-02")
	if s.lastRecovery == today {
		s.mu.Unlock()
		return false
	}
	if dailyLossPct >= s.maxDailyLossPct/2 || drawdownPct >= s.maxDrawdownPct/2 {
		s.mu.Unlock()
		return false
	}
	s.lastRecovery = today
	s.mu.Unlock()

	if err := s.store.Set(safeModeRecoveryKey, today); err != nil {
		s.log.Warn().Err(err).Msg("Failed to persist auto recovery date")
	}
	s.clearInternal()

	s.log.Info().
		Float64("daily_loss_pct", dailyLossPct).
		Float64("drawdown_pct", drawdownPct).
		Msg("Safe mode auto-recovered")
	s.bus.Emit(events.SafeModeCleared, "risk", map[string]interface{}{
		"cleared_by":     "auto_recovery",
		"daily_loss_pct": dailyLossPct,
		"drawdown_pct":   drawdownPct,
	})
	return true
}

func (s *SafeMode) clearInternal() bool {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false
	}
	s.active = false
	s.reason = ""
	s.trippedAt = time.Time{}
	s.mu.Unlock()

	s.persist(false, "")
	return true
}

func (s *SafeMode) persist(active bool, reason string) {
	if err := s.store.SetBool(safeModeKey, active); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist safe mode latch")
		return
	}
	if active {
		if err := s.store.Set(safeModeReasonKey, reason); err != nil {
			s.log.Warn().Err(err).Msg("Failed to persist safe mode reason")
		}
		if err := s.store.SetTime(safeModeTrippedKey, s.clock.Now()); err != nil {
			s.log.Warn().Err(err).Msg("Failed to persist safe mode trip time")
		}
		return
	}
	_ = s.store.Delete(safeModeReasonKey)
	_ = s.store.Delete(safeModeTrippedKey)
}
