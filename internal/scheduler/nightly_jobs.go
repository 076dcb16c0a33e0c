package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkomnos/stealthtrader/internal/domain"
)

const (
	recoveryTimeout    = 30 * time.Second
	maintenanceTimeout = 5 * time.Minute
	backupTimeout      = 10 * time.Minute
)

// SnapshotSource fetches the live account snapshot.
type SnapshotSource interface {
	AccountSnapshot(ctx context.Context) (*domain.AccountSnapshot, error)
}

// SafeModeSource exposes the latch the recovery job checks.
type SafeModeSource interface {
	Active() bool
}

// Reassessor re-evaluates loss limits against fresh equity.
type Reassessor interface {
	Reassess(snapshot *domain.AccountSnapshot)
}

// SafeModeRecoveryJob gives safe mode its once-daily chance to clear
// itself when losses have healed to under half the limits.
type SafeModeRecoveryJob struct {
	log      zerolog.Logger
	safeMode SafeModeSource
	accounts SnapshotSource
	risk     Reassessor
}

// NewSafeModeRecoveryJob creates the recovery check job.
func NewSafeModeRecoveryJob(safeMode SafeModeSource, accounts SnapshotSource, risk Reassessor,
	log zerolog.Logger) *SafeModeRecoveryJob {
	return &SafeModeRecoveryJob{
		log:      log.With().Str("job", "safe_mode_recovery").Logger(),
		safeMode: safeMode,
		accounts: accounts,
		risk:     risk,
	}
}

// Name returns the job name.
func (j *SafeModeRecoveryJob) Name() string {
	return "safe_mode_recovery"
}

// Run attempts the recovery check. A snapshot is only fetched while
// the latch is actually set.
func (j *SafeModeRecoveryJob) Run() error {
	if !j.safeMode.Active() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), recoveryTimeout)
	defer cancel()

	snapshot, err := j.accounts.AccountSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch account snapshot for recovery check: %w", err)
	}
	j.risk.Reassess(snapshot)
	return nil
}

// VolumeRoller folds captured quotes into daily volume history.
type VolumeRoller interface {
	RollupDailyVolumes() error
}

// VolumeRollupJob runs after the close so the average-volume baseline
// includes today's session.
type VolumeRollupJob struct {
	log  zerolog.Logger
	data VolumeRoller
}

// NewVolumeRollupJob creates the rollup job.
func NewVolumeRollupJob(data VolumeRoller, log zerolog.Logger) *VolumeRollupJob {
	return &VolumeRollupJob{
		log:  log.With().Str("job", "volume_rollup").Logger(),
		data: data,
	}
}

// Name returns the job name.
func (j *VolumeRollupJob) Name() string {
	return "volume_rollup"
}

// Run executes the rollup.
func (j *VolumeRollupJob) Run() error {
	return j.data.RollupDailyVolumes()
}

// NightlyRunner is the shared shape of the reliability services.
type NightlyRunner interface {
	Run(ctx context.Context) error
}

// MaintenanceJob runs the nightly storage housekeeping pass.
type MaintenanceJob struct {
	svc NightlyRunner
}

// NewMaintenanceJob wraps the maintenance service as a job.
func NewMaintenanceJob(svc NightlyRunner) *MaintenanceJob {
	return &MaintenanceJob{svc: svc}
}

// Name returns the job name.
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance pass.
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()
	return j.svc.Run(ctx)
}

// BackupJob ships the data directory to object storage.
type BackupJob struct {
	svc NightlyRunner
}

// NewBackupJob wraps the backup service as a job.
func NewBackupJob(svc NightlyRunner) *BackupJob {
	return &BackupJob{svc: svc}
}

// Name returns the job name.
func (j *BackupJob) Name() string {
	return "backup"
}

// Run executes one backup.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()
	return j.svc.Run(ctx)
}
