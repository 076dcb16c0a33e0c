// Package tokens owns the OAuth access token lifecycle. E*TRADE tokens
// die at midnight Eastern and go idle after two hours without a signed
// call, so the manager tracks both clocks and reports a single state the
// rest of the engine can act on.
package tokens

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/events"
)

// idleThreshold is how long a token can sit unused before the broker
// considers it inactive and signatures start getting refused.
const idleThreshold = 2 * time.Hour

// Status is the externally visible token state, safe to serialize.
type Status struct {
	Env        string            `json:"env"`
	State      domain.TokenState `json:"state"`
	IssuedAt   *time.Time        `json:"issued_at,omitempty"`
	LastUsedAt *time.Time        `json:"last_used_at,omitempty"`
}

// Manager holds the active credential set and computes its lifecycle
// state on demand. It satisfies the broker client's credentials
// interface, so every signed call reports back here.
type Manager struct {
	env            string
	consumerKey    string
	consumerSecret string
	store          *Store
	bus            *events.Bus
	clock          domain.Clock
	eastern        *time.Location
	log            zerolog.Logger

	mu          sync.RWMutex
	set         *domain.TokenSet
	expired     bool // latched when the broker refuses the signature
	inactiveSet *domain.TokenSet
}

// NewManager wires a manager for one broker environment. Consumer key
// and secret come from the environment; access tokens arrive later via
// SetTokens, the token feed, or the persisted store.
func NewManager(env, consumerKey, consumerSecret string, store *Store, bus *events.Bus, clock domain.Clock) (*Manager, error) {
	eastern, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("failed to load eastern timezone: %w", err)
	}
	return &Manager{
		env:            env,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		store:          store,
		bus:            bus,
		clock:          clock,
		eastern:        eastern,
		log:            log.With().Str("component", "tokens").Str("env", env).Logger(),
	}, nil
}

// Load restores persisted tokens from the ledger for both broker
// environments. The inactive environment's set is only classified for
// the status surface; the active one becomes the signing credential.
// Active tokens issued before the most recent midnight Eastern are
// already dead and get discarded.
func (m *Manager) Load() error {
	m.loadInactive()

	set, err := m.store.Load(m.env)
	if err != nil {
		return err
	}
	if set == nil {
		m.log.Info().Msg("No persisted tokens, waiting for authorization")
		return nil
	}

	if set.IssuedAt.Before(m.lastMidnight()) {
		m.log.Info().
			Time("issued_at", set.IssuedAt).
			Msg("Persisted tokens expired at midnight, discarding")
		if err := m.store.Delete(m.env); err != nil {
			m.log.Warn().Err(err).Msg("Failed to delete expired tokens")
		}
		return nil
	}

	set.ConsumerKey = m.consumerKey
	set.ConsumerSecret = m.consumerSecret

	m.mu.Lock()
	m.set = set
	m.expired = false
	m.mu.Unlock()

	m.log.Info().
		Time("issued_at", set.IssuedAt).
		Str("state", string(m.State())).
		Msg("Restored persisted tokens")
	return nil
}

// loadInactive reads whatever the store holds for the environment not
// in use. The set is never used to sign, only reported.
func (m *Manager) loadInactive() {
	env := otherEnv(m.env)
	set, err := m.store.Load(env)
	if err != nil {
		m.log.Warn().Err(err).Str("inactive_env", env).
			Msg("Failed to load tokens for the inactive environment")
		return
	}

	m.mu.Lock()
	m.inactiveSet = set
	state := m.inactiveStateLocked()
	m.mu.Unlock()

	m.log.Info().
		Str("inactive_env", env).
		Str("state", string(state)).
		Msg("Classified inactive environment tokens")
}

// SetTokens installs a fresh operator-provided access token pair.
func (m *Manager) SetTokens(accessToken, accessSecret string) error {
	return m.setTokens(m.env, accessToken, accessSecret, m.clock.Now())
}

// SetTokensForEnv installs tokens pushed by the feed. Updates for the
// other environment are ignored so a shared feed can serve both.
func (m *Manager) SetTokensForEnv(env, accessToken, accessSecret string, issuedAt time.Time) error {
	if env != "" && env != m.env {
		m.log.Debug().Str("pushed_env", env).Msg("Ignoring tokens for inactive environment")
		return nil
	}
	if issuedAt.IsZero() {
		issuedAt = m.clock.Now()
	}
	return m.setTokens(m.env, accessToken, accessSecret, issuedAt)
}

func (m *Manager) setTokens(env, accessToken, accessSecret string, issuedAt time.Time) error {
	if accessToken == "" || accessSecret == "" {
		return fmt.Errorf("access token and secret are both required")
	}

	set := &domain.TokenSet{
		Env:               env,
		ConsumerKey:       m.consumerKey,
		ConsumerSecret:    m.consumerSecret,
		AccessToken:       accessToken,
		AccessTokenSecret: accessSecret,
		IssuedAt:          issuedAt,
		LastUsedAt:        issuedAt,
	}

	m.mu.Lock()
	m.set = set
	m.expired = false
	m.mu.Unlock()

	if err := m.store.Save(*set); err != nil {
		return err
	}

	m.log.Info().Time("issued_at", issuedAt).Msg("Access tokens installed")
	m.bus.Emit(events.TokenUpdated, "tokens", map[string]interface{}{
		"env":       env,
		"issued_at": issuedAt.Format(time.RFC3339),
	})
	return nil
}

// Clear drops the active tokens, both in memory and from the store.
func (m *Manager) Clear() error {
	m.mu.Lock()
	m.set = nil
	m.expired = false
	m.mu.Unlock()

	if err := m.store.Delete(m.env); err != nil {
		return err
	}
	m.log.Info().Msg("Tokens cleared")
	return nil
}

// State computes the current lifecycle state.
func (m *Manager) State() domain.TokenState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() domain.TokenState {
	if m.set == nil || m.set.AccessToken == "" {
		return domain.TokenAbsent
	}
	if m.expired || m.set.IssuedAt.Before(m.lastMidnight()) {
		return domain.TokenExpired
	}
	if m.clock.Now().Sub(m.set.LastUsedAt) >= idleThreshold {
		return domain.TokenIdle
	}
	return domain.TokenValid
}

// inactiveStateLocked classifies the inactive environment's set by the
// same clocks as the active one, minus the broker-rejection latch.
func (m *Manager) inactiveStateLocked() domain.TokenState {
	if m.inactiveSet == nil || m.inactiveSet.AccessToken == "" {
		return domain.TokenAbsent
	}
	if m.inactiveSet.IssuedAt.Before(m.lastMidnight()) {
		return domain.TokenExpired
	}
	if m.clock.Now().Sub(m.inactiveSet.LastUsedAt) >= idleThreshold {
		return domain.TokenIdle
	}
	return domain.TokenValid
}

// InactiveStatus reports the state of the environment not in use, for
// the status surface.
func (m *Manager) InactiveStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{Env: otherEnv(m.env), State: m.inactiveStateLocked()}
	if m.inactiveSet != nil {
		issued := m.inactiveSet.IssuedAt
		lastUsed := m.inactiveSet.LastUsedAt
		status.IssuedAt = &issued
		status.LastUsedAt = &lastUsed
	}
	return status
}

// Status returns a serializable snapshot for the status endpoint.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{Env: m.env, State: m.stateLocked()}
	if m.set != nil {
		issued := m.set.IssuedAt
		lastUsed := m.set.LastUsedAt
		status.IssuedAt = &issued
		status.LastUsedAt = &lastUsed
	}
	return status
}

// Credentials implements the broker client's provider interface. Idle
// tokens still sign; the keepalive job is responsible for renewing them
// before the broker starts refusing.
func (m *Manager) Credentials() (string, string, string, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.stateLocked() {
	case domain.TokenAbsent:
		return "", "", "", "", domain.ErrTokenAbsent
	case domain.TokenExpired:
		return "", "", "", "", domain.ErrTokenExpired
	}
	return m.consumerKey, m.consumerSecret, m.set.AccessToken, m.set.AccessTokenSecret, nil
}

// MarkUsed records a successful authenticated call and persists the
// stamp so idle tracking survives a restart.
func (m *Manager) MarkUsed() {
	now := m.clock.Now()

	m.mu.Lock()
	if m.set == nil {
		m.mu.Unlock()
		return
	}
	m.set.LastUsedAt = now
	m.mu.Unlock()

	if err := m.store.UpdateLastUsed(m.env, now); err != nil {
		m.log.Warn().Err(err).Msg("Failed to persist token usage stamp")
	}
}

// MarkRejected latches the expired state after the broker refuses the
// signature. Trading stalls until new tokens arrive.
func (m *Manager) MarkRejected() {
	m.mu.Lock()
	alreadyExpired := m.expired
	m.expired = true
	m.mu.Unlock()

	if alreadyExpired {
		return
	}

	m.log.Warn().Msg("Broker rejected token signature, marking expired")
	m.bus.Emit(events.TokenWentExpired, "tokens", map[string]interface{}{
		"env":    m.env,
		"reason": "broker_rejected",
	})
}

// otherEnv maps each broker environment to its counterpart.
func otherEnv(env string) string {
	if env == "live" {
		return "sandbox"
	}
	return "live"
}

// lastMidnight returns the most recent midnight Eastern.
func (m *Manager) lastMidnight() time.Time {
	now := m.clock.Now().In(m.eastern)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, m.eastern)
}
