package di

import (
	"fmt"
	"time"

	"github.com/tkomnos/stealthtrader/internal/clients/tokenfeed"
	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/tokens"
)

// tokenSink adapts the token manager to the feed listener's sink
// interface. Pushed updates carry the broker environment they belong
// to; the manager ignores environments it does not manage.
type tokenSink struct {
	manager *tokens.Manager
	clock   domain.Clock
}

// ApplyPushedTokens replaces the stored credential set with the pushed
// one. A missing or malformed issue timestamp falls back to now, which
// only shortens the token's life, never extends it.
func (s *tokenSink) ApplyPushedTokens(update tokenfeed.TokenUpdate) error {
	if update.AccessToken == "" || update.AccessSecret == "" {
		return fmt.Errorf("pushed token update for %q is incomplete", update.Env)
	}

	issuedAt := s.clock.Now()
	if update.IssuedAt != "" {
		parsed, err := time.Parse(time.RFC3339, update.IssuedAt)
		if err == nil {
			issuedAt = parsed
		}
	}

	return s.manager.SetTokensForEnv(update.Env, update.AccessToken, update.AccessSecret, issuedAt)
}
