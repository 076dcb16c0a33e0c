package di

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tkomnos/stealthtrader/internal/clients/tokenfeed"
	"github.com/tkomnos/stealthtrader/internal/config"
	"github.com/tkomnos/stealthtrader/internal/domain"
)

func tokenUpdate(env, token, secret, issuedAt string) tokenfeed.TokenUpdate {
	return tokenfeed.TokenUpdate{
		Env:          env,
		AccessToken:  token,
		AccessSecret: secret,
		IssuedAt:     issuedAt,
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("STRATEGY_MODE", "standard")
	t.Setenv("SYSTEM_MODE", "signal_only")
	t.Setenv("ETRADE_MODE", "sandbox")
	t.Setenv("BACKUP_ENABLED", "false")
	t.Setenv("TOKEN_FEED_URL", "")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestWireBuildsFullContainer(t *testing.T) {
	cfg := testConfig(t)

	c, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	require.NotNil(t, c.LedgerDB)
	require.NotNil(t, c.MarketHours)
	require.NotNil(t, c.TokenManager)
	require.NotNil(t, c.Broker)
	require.NotNil(t, c.MarketData)
	require.NotNil(t, c.Selector)
	require.NotNil(t, c.SignalGen)
	require.NotNil(t, c.RiskManager)
	require.NotNil(t, c.Monitor)
	require.NotNil(t, c.Executor)
	require.NotNil(t, c.Scanner)
	require.NotNil(t, c.Journal)
	require.NotNil(t, c.Notifier)
	require.NotNil(t, c.Scheduler)
	require.Nil(t, c.Backup, "backup must stay nil when disabled")
	require.Nil(t, c.TokenFeed, "token feed must stay nil without a URL")
}

func TestWireThenRegisterJobs(t *testing.T) {
	cfg := testConfig(t)

	c, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, RegisterJobs(context.Background(), c, cfg, zerolog.Nop()))
	require.False(t, c.Scheduler.Running())
}

func TestTokenSinkAppliesPushedTokens(t *testing.T) {
	cfg := testConfig(t)

	c, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	sink := &tokenSink{manager: c.TokenManager, clock: domain.NewClock()}

	issued := time.Now().Add(-time.Minute).Format(time.RFC3339)
	err = sink.ApplyPushedTokens(tokenUpdate("sandbox", "tok", "sec", issued))
	require.NoError(t, err)
	require.Equal(t, domain.TokenValid, c.TokenManager.State())

	// Updates for the other environment are ignored, not applied.
	err = sink.ApplyPushedTokens(tokenUpdate("live", "other", "other", ""))
	require.NoError(t, err)

	status := c.TokenManager.Status()
	require.Equal(t, "sandbox", status.Env)
	require.Equal(t, domain.TokenValid, status.State)
}

func TestTokenSinkRejectsIncompleteUpdate(t *testing.T) {
	cfg := testConfig(t)

	c, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	sink := &tokenSink{manager: c.TokenManager, clock: domain.NewClock()}
	err = sink.ApplyPushedTokens(tokenUpdate("sandbox", "", "sec", ""))
	require.Error(t, err)
}
