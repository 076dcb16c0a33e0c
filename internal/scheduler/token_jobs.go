package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/events"
)

const keepaliveWindow = 60 * time.Second

// TokenRenewer extends the broker session's idle window.
type TokenRenewer interface {
	RenewAccessToken(ctx context.Context) error
}

// TokenKeepaliveJob renews the access token during pre-market and
// regular hours so the idle window never lapses mid-session. Transient
// failures retry on a doubling backoff; a rejected token is left to
// the expiry handling and not retried.
type TokenKeepaliveJob struct {
	log      zerolog.Logger
	phases   PhaseSource
	renewer  TokenRenewer
	bus      *events.Bus
	backoffs []time.Duration
}

// NewTokenKeepaliveJob creates the keepalive job.
func NewTokenKeepaliveJob(phases PhaseSource, renewer TokenRenewer, bus *events.Bus, log zerolog.Logger) *TokenKeepaliveJob {
	return &TokenKeepaliveJob{
		log:      log.With().Str("job", "token_keepalive").Logger(),
		phases:   phases,
		renewer:  renewer,
		bus:      bus,
		backoffs: []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second},
	}
}

// Name returns the job name.
func (j *TokenKeepaliveJob) Name() string {
	return "token_keepalive"
}

// Run renews the token, retrying transient failures.
func (j *TokenKeepaliveJob) Run() error {
	phase := j.phases.CurrentPhase()
	if phase != domain.PhasePreMarket && phase != domain.PhaseRegular {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), keepaliveWindow)
	defer cancel()

	var err error
	for attempt := 0; ; attempt++ {
		err = j.renewer.RenewAccessToken(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrTokenExpired) {
			// The rejection already flipped the token state and raised
			// its own alert. Renewing again cannot help until fresh
			// tokens arrive.
			return err
		}
		if attempt >= len(j.backoffs) || !domain.IsTransientBrokerError(err) {
			break
		}
		j.log.Warn().Err(err).Int("attempt", attempt+1).Msg("Keepalive failed, backing off")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(j.backoffs[attempt]):
		}
	}

	j.bus.EmitError("tokens", err, map[string]interface{}{
		"operation": "keepalive",
	})
	return fmt.Errorf("keepalive failed after retries: %w", err)
}
