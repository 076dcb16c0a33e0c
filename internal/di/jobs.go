package di

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkomnos/stealthtrader/internal/config"
	"github.com/tkomnos/stealthtrader/internal/reliability"
	"github.com/tkomnos/stealthtrader/internal/scheduler"
)

// RegisterJobs builds every scheduled job from the wired services and
// registers it with the scheduler. The scheduler is not started here;
// the caller decides when the trading day begins.
func RegisterJobs(ctx context.Context, c *Container, cfg *config.Config, log zerolog.Logger) error {
	mu := c.TradingMu()

	jobs := scheduler.Jobs{
		WatchlistBuild:    scheduler.NewWatchlistBuildJob(c.Builder, log),
		WorkingSetRefresh: scheduler.NewWorkingSetRefreshJob(c.MarketHours, c.Selector, c.Monitor, mu, log),
		SignalScan:        scheduler.NewSignalScanJob(c.MarketHours, c.Scanner, mu, log),
		MonitorTick:       scheduler.NewMonitorTickJob(c.MarketHours, c.Monitor, mu, log),
		FinalSweep:        scheduler.NewFinalSweepJob(c.MarketHours, c.Monitor, mu, log),
		TokenKeepalive:    scheduler.NewTokenKeepaliveJob(c.MarketHours, c.Broker, c.Bus, log),
		SafeModeRecovery:  scheduler.NewSafeModeRecoveryJob(c.SafeMode, c.MarketData, c.RiskManager, log),
		VolumeRollup:      scheduler.NewVolumeRollupJob(c.MarketData, log),
		Maintenance:       scheduler.NewMaintenanceJob(c.Maintenance),
	}

	if cfg.Backup.Enabled {
		store, err := reliability.NewS3Client(ctx, cfg.Backup, log)
		if err != nil {
			return fmt.Errorf("failed to create backup store: %w", err)
		}
		c.Backup = reliability.NewBackupService(store, cfg.DataDir, cfg.Backup.RetentionDays, log)
		jobs.Backup = scheduler.NewBackupJob(c.Backup)
	}

	if err := scheduler.Register(c.Scheduler, cfg.Data, jobs); err != nil {
		return fmt.Errorf("failed to register jobs: %w", err)
	}
	return nil
}

// secs converts a positive second count to a duration, leaving zero and
// negative values at zero so service defaults apply.
func secs(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
