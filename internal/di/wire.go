package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tkomnos/stealthtrader/internal/clients/etrade"
	"github.com/tkomnos/stealthtrader/internal/clients/tokenfeed"
	"github.com/tkomnos/stealthtrader/internal/config"
	"github.com/tkomnos/stealthtrader/internal/database"
	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/events"
	"github.com/tkomnos/stealthtrader/internal/modules/journal"
	"github.com/tkomnos/stealthtrader/internal/modules/market_hours"
	"github.com/tkomnos/stealthtrader/internal/modules/marketdata"
	"github.com/tkomnos/stealthtrader/internal/modules/positions"
	"github.com/tkomnos/stealthtrader/internal/modules/risk"
	"github.com/tkomnos/stealthtrader/internal/modules/settings"
	"github.com/tkomnos/stealthtrader/internal/modules/signals"
	"github.com/tkomnos/stealthtrader/internal/modules/trading"
	"github.com/tkomnos/stealthtrader/internal/modules/universe"
	"github.com/tkomnos/stealthtrader/internal/notify"
	"github.com/tkomnos/stealthtrader/internal/reliability"
	"github.com/tkomnos/stealthtrader/internal/scheduler"
	"github.com/tkomnos/stealthtrader/internal/tokens"
)

// intradayRingSize is how many quote observations per symbol the
// in-memory history keeps. At the one-minute monitor cadence this
// covers roughly two hours, enough for RSI(14) and the five-minute
// volume window with headroom.
const intradayRingSize = 120

// Wire initializes all dependencies and returns a fully configured
// container. Order of operations:
// 1. Ledger database and its stores
// 2. Market clock, token manager and broker client
// 3. Data access, universe, signal, risk and trading services
// 4. Reliability services and the scheduler
//
// Persisted state (tokens, safe-mode latch, peak equity, trade ring)
// is restored here so the caller receives a ready engine.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{
		Clock: domain.NewClock(),
		Bus:   events.NewBus(log),
	}

	if err := wireStorage(c, cfg); err != nil {
		c.Close()
		return nil, err
	}
	if err := wireBroker(c, cfg); err != nil {
		c.Close()
		return nil, err
	}
	if err := wireEngine(c, cfg); err != nil {
		c.Close()
		return nil, err
	}
	if err := wireReliability(c, cfg, log); err != nil {
		c.Close()
		return nil, err
	}

	log.Info().
		Str("strategy_mode", cfg.StrategyMode).
		Str("system_mode", cfg.SystemMode).
		Str("broker_env", cfg.BrokerEnv).
		Msg("Dependency wiring completed")

	return c, nil
}

// wireStorage opens the ledger database and initializes every table.
func wireStorage(c *Container, cfg *config.Config) error {
	db, err := database.New(database.Config{
		Path:    cfg.LedgerPath(),
		Name:    "ledger",
		Profile: database.ProfileLedger,
	})
	if err != nil {
		return fmt.Errorf("failed to open ledger database: %w", err)
	}
	c.LedgerDB = db

	c.SettingsStore = settings.NewStore(db)
	c.TokenStore = tokens.NewStore(db)
	c.JournalRepo = journal.NewRepository(db)
	c.VolumeStore = marketdata.NewVolumeStore(db)

	for _, init := range []func() error{
		c.SettingsStore.InitSchema,
		c.TokenStore.InitSchema,
		c.JournalRepo.InitSchema,
		c.VolumeStore.InitSchema,
	} {
		if err := init(); err != nil {
			return fmt.Errorf("failed to initialize ledger schema: %w", err)
		}
	}
	return nil
}

// wireBroker builds the token manager, the signed broker client and,
// when configured, the websocket token feed.
func wireBroker(c *Container, cfg *config.Config) error {
	hours, err := market_hours.NewService(c.Clock, cfg.ForceAfterHours)
	if err != nil {
		return fmt.Errorf("failed to create market hours service: %w", err)
	}
	c.MarketHours = hours

	consumerKey, consumerSecret := cfg.ActiveConsumerKeys()
	manager, err := tokens.NewManager(cfg.BrokerEnv, consumerKey, consumerSecret, c.TokenStore, c.Bus, c.Clock)
	if err != nil {
		return fmt.Errorf("failed to create token manager: %w", err)
	}
	if err := manager.Load(); err != nil {
		return fmt.Errorf("failed to load broker tokens: %w", err)
	}
	c.TokenManager = manager

	c.Broker = etrade.NewClient(etrade.Config{
		Env:          cfg.BrokerEnv,
		AccountIDKey: cfg.Broker.AccountIDKey,
		Credentials:  manager,
	})

	if cfg.Broker.TokenFeedURL != "" {
		c.TokenFeed = tokenfeed.NewListener(cfg.Broker.TokenFeedURL, &tokenSink{manager: manager, clock: c.Clock})
	}
	return nil
}

// wireEngine builds the signal pipeline and the position lifecycle.
func wireEngine(c *Container, cfg *config.Config) error {
	budget, err := marketdata.NewBudget(cfg.Data.DailyAPIBudget, c.Clock, c.Bus)
	if err != nil {
		return fmt.Errorf("failed to create api budget: %w", err)
	}
	c.Budget = budget

	c.MarketData = marketdata.NewService(
		c.Broker, c.Broker, c.MarketHours, budget,
		marketdata.NewHistory(intradayRingSize), c.VolumeStore, c.Clock,
		marketdata.Options{
			BatchSize: cfg.Data.QuoteBatchSize,
			QuoteTTL:  secs(cfg.Data.QuoteTTLSec),
			IdleTTL:   secs(cfg.Data.IdleTTLSec),
		})

	c.Watchlist = universe.NewWatchlist(cfg.WatchlistPath(), cfg.Data.WatchlistMaxSymbols)
	if err := c.Watchlist.Load(); err != nil {
		return fmt.Errorf("failed to load watchlist: %w", err)
	}
	c.Selector = universe.NewSelector(c.MarketData, c.Watchlist, c.Bus, c.Clock,
		cfg.Data.WorkingSetSize, cfg.Data.MinDollarVolumeUSD)
	c.Builder = universe.NewBuilder(cfg.Broker.WatchlistBuilderURL, c.Watchlist, c.Bus)

	c.SignalGen = signals.NewGenerator(c.MarketData, c.Bus, c.Clock, cfg.Limits.MinSignalConfidence)

	c.Journal, err = journal.NewJournal(c.JournalRepo, cfg.DataDir, 0, c.Clock)
	if err != nil {
		return fmt.Errorf("failed to create trade journal: %w", err)
	}
	if err := c.Journal.Load(); err != nil {
		return fmt.Errorf("failed to load trade history: %w", err)
	}

	c.SafeMode, err = risk.NewSafeMode(c.SettingsStore, c.Bus, c.Clock,
		cfg.Limits.MaxDailyLossPct, cfg.Limits.MaxDrawdownPct)
	if err != nil {
		return fmt.Errorf("failed to create safe mode latch: %w", err)
	}

	c.Monitor = positions.NewMonitor(cfg, c.MarketData, c.MarketHours, c.Journal, c.Bus, c.Clock, positions.Options{})

	c.RiskManager = risk.NewManager(cfg, c.SafeMode, c.Monitor, c.Journal, c.SettingsStore)
	if err := c.RiskManager.Load(); err != nil {
		return fmt.Errorf("failed to load risk state: %w", err)
	}

	c.Executor = trading.NewExecutor(cfg, c.Broker, c.Monitor, c.Journal, c.TokenManager, c.Bus, c.Clock, trading.Options{})
	c.Monitor.SetCloser(c.Executor)

	c.Scanner = trading.NewScanner(c.Selector, c.MarketData, c.SignalGen, c.RiskManager, c.Monitor, c.Executor)

	sink := notify.NewTelegramSink(cfg.Alerts.TelegramBotToken, cfg.Alerts.TelegramChatID)
	c.Notifier = notify.NewNotifier(cfg.Alerts, sink)
	if sink.Configured() {
		c.Notifier.Subscribe(c.Bus)
	}
	return nil
}

// wireReliability builds the nightly services and the scheduler shell.
// Jobs are registered separately by RegisterJobs so tests can wire a
// container without a live cron loop.
func wireReliability(c *Container, cfg *config.Config, log zerolog.Logger) error {
	c.Maintenance = reliability.NewMaintenance(c.LedgerDB, cfg.DataDir, log)
	c.Scheduler = scheduler.New(c.MarketHours.Location())
	return nil
}
