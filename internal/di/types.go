// Package di provides dependency injection wiring and initialization.
package di

import (
	"sync"

	"github.com/tkomnos/stealthtrader/internal/clients/etrade"
	"github.com/tkomnos/stealthtrader/internal/clients/tokenfeed"
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

// Container holds every wired component. The engine owns exactly one
// of these; components reach each other only through the references
// handed out here, never through globals.
type Container struct {
	// Storage
	LedgerDB *database.DB

	// Shared infrastructure
	Clock domain.Clock
	Bus   *events.Bus

	// Stores - persistence layer on the ledger database
	SettingsStore *settings.Store
	TokenStore    *tokens.Store
	JournalRepo   *journal.Repository
	VolumeStore   *marketdata.VolumeStore

	// Clients - external API integrations
	Broker    *etrade.Client
	TokenFeed *tokenfeed.Listener // nil when no feed URL configured

	// Services - the trading engine proper
	MarketHours  *market_hours.Service
	TokenManager *tokens.Manager
	Budget       *marketdata.Budget
	MarketData   *marketdata.Service
	Watchlist    *universe.Watchlist
	Selector     *universe.Selector
	Builder      *universe.Builder
	SignalGen    *signals.Generator
	SafeMode     *risk.SafeMode
	RiskManager  *risk.Manager
	Journal      *journal.Journal
	Monitor      *positions.Monitor
	Executor     *trading.Executor
	Scanner      *trading.Scanner
	Notifier     *notify.Notifier

	// Reliability
	Maintenance *reliability.Maintenance
	Backup      *reliability.BackupService // nil when backups are disabled

	// Scheduling
	Scheduler *scheduler.Scheduler

	// tradingMu serializes the working-set refresh, the signal pass and
	// the monitor pass. At most one of the three runs at any instant.
	tradingMu sync.Mutex
}

// TradingMu returns the shared trading-section mutex.
func (c *Container) TradingMu() *sync.Mutex {
	return &c.tradingMu
}

// Close releases everything the container owns. Safe to call on a
// partially wired container.
func (c *Container) Close() {
	if c.TokenFeed != nil {
		_ = c.TokenFeed.Stop()
	}
	if c.LedgerDB != nil {
		_ = c.LedgerDB.Close()
	}
}
