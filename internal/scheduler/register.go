package scheduler

import (
	"fmt"

	"github.com/tkomnos/stealthtrader/internal/config"
)

// Fixed schedules, evaluated in Eastern Time. The sweep pairs cover
// both the normal 16:00 close and the 13:00 early close; the jobs
// themselves skip ticks with nothing to do.
const (
	specWatchlistBuild   = "0 0 7 * * 1-5"
	specFirstRegularTick = "0 31 9 * * 1-5"
	specSweepBeforeClose = "0 50 15 * * 1-5"
	specSweepAfterClose  = "0 5 16 * * 1-5"
	specEarlySweepBefore = "0 50 12 * * 1-5"
	specEarlySweepAfter  = "0 5 13 * * 1-5"
	specTokenKeepalive   = "@every 55m"
	specSafeModeRecovery = "0 45 9 * * 1-5"
	specVolumeRollup     = "0 30 16 * * 1-5"
	specMaintenance      = "0 30 1 * * *"
	specBackup           = "0 0 2 * * *"
)

// Jobs collects every job the trading day needs. Nil entries are
// skipped, backup stays nil when backups are disabled.
type Jobs struct {
	WatchlistBuild    Job
	WorkingSetRefresh Job
	SignalScan        Job
	MonitorTick       Job
	FinalSweep        Job
	TokenKeepalive    Job
	SafeModeRecovery  Job
	VolumeRollup      Job
	Maintenance       Job
	Backup            Job
}

// Register wires every job to its cadence. Interval cadences come from
// configuration, fixed times are Eastern.
func Register(s *Scheduler, data config.DataConfig, jobs Jobs) error {
	entries := []struct {
		schedule string
		job      Job
	}{
		{specWatchlistBuild, jobs.WatchlistBuild},
		{fmt.Sprintf("@every %ds", data.RefreshIntervalSec), jobs.WorkingSetRefresh},
		{specFirstRegularTick, jobs.WorkingSetRefresh},
		{fmt.Sprintf("@every %ds", data.ScanIntervalSec), jobs.SignalScan},
		{fmt.Sprintf("@every %ds", data.MonitorIntervalSec), jobs.MonitorTick},
		{specSweepBeforeClose, jobs.FinalSweep},
		{specSweepAfterClose, jobs.FinalSweep},
		{specEarlySweepBefore, jobs.FinalSweep},
		{specEarlySweepAfter, jobs.FinalSweep},
		{specTokenKeepalive, jobs.TokenKeepalive},
		{specSafeModeRecovery, jobs.SafeModeRecovery},
		{specVolumeRollup, jobs.VolumeRollup},
		{specMaintenance, jobs.Maintenance},
		{specBackup, jobs.Backup},
	}

	for _, e := range entries {
		if e.job == nil {
			continue
		}
		if err := s.AddJob(e.schedule, e.job); err != nil {
			return err
		}
	}
	return nil
}
