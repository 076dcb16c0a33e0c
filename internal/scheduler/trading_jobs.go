package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkomnos/stealthtrader/internal/domain"
)

const (
	scanTimeout    = 2 * time.Minute
	monitorTimeout = 3 * time.Minute
)

// PhaseSource reports the current market phase.
type PhaseSource interface {
	CurrentPhase() domain.MarketPhase
}

// SignalRunner executes one full signal pass.
type SignalRunner interface {
	Run(ctx context.Context) error
}

// PositionTicker is the monitor surface the tick jobs drive.
type PositionTicker interface {
	Tick(ctx context.Context)
	OpenCount() int
}

// SignalScanJob runs the signal pass during regular hours. The shared
// trading mutex keeps it from overlapping the working-set refresh and
// the monitor pass; the running flag drops a tick that fires while the
// previous one is still queued.
type SignalScanJob struct {
	log     zerolog.Logger
	mu      *sync.Mutex
	running atomic.Bool
	phases  PhaseSource
	scanner SignalRunner
}

// NewSignalScanJob creates the signal pass job.
func NewSignalScanJob(phases PhaseSource, scanner SignalRunner, mu *sync.Mutex, log zerolog.Logger) *SignalScanJob {
	return &SignalScanJob{
		log:     log.With().Str("job", "signal_scan").Logger(),
		mu:      mu,
		phases:  phases,
		scanner: scanner,
	}
}

// Name returns the job name.
func (j *SignalScanJob) Name() string {
	return "signal_scan"
}

// Run executes one signal pass.
func (j *SignalScanJob) Run() error {
	if j.phases.CurrentPhase() != domain.PhaseRegular {
		return nil
	}
	if !j.running.CompareAndSwap(false, true) {
		j.log.Warn().Msg("Previous signal pass still running, skipping")
		return nil
	}
	defer j.running.Store(false)

	j.mu.Lock()
	defer j.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()
	return j.scanner.Run(ctx)
}

// MonitorTickJob walks open positions through the stop engine. The
// sweep variant also runs outside regular hours, so stragglers from a
// failed close still get another attempt after the bell.
type MonitorTickJob struct {
	log     zerolog.Logger
	name    string
	mu      *sync.Mutex
	running atomic.Bool
	phases  PhaseSource
	monitor PositionTicker
	sweep   bool
}

// NewMonitorTickJob creates the regular-hours monitor cadence.
func NewMonitorTickJob(phases PhaseSource, monitor PositionTicker, mu *sync.Mutex, log zerolog.Logger) *MonitorTickJob {
	return &MonitorTickJob{
		log:     log.With().Str("job", "position_monitor").Logger(),
		name:    "position_monitor",
		mu:      mu,
		phases:  phases,
		monitor: monitor,
	}
}

// NewFinalSweepJob creates the end-of-session sweep. It ticks in any
// phase, but only while something is still open.
func NewFinalSweepJob(phases PhaseSource, monitor PositionTicker, mu *sync.Mutex, log zerolog.Logger) *MonitorTickJob {
	return &MonitorTickJob{
		log:     log.With().Str("job", "final_sweep").Logger(),
		name:    "final_sweep",
		mu:      mu,
		phases:  phases,
		monitor: monitor,
		sweep:   true,
	}
}

// Name returns the job name.
func (j *MonitorTickJob) Name() string {
	return j.name
}

// Run executes one monitor pass.
func (j *MonitorTickJob) Run() error {
	if j.sweep {
		if j.monitor.OpenCount() == 0 {
			return nil
		}
	} else if j.phases.CurrentPhase() != domain.PhaseRegular {
		return nil
	}
	if !j.running.CompareAndSwap(false, true) {
		j.log.Warn().Msg("Previous monitor pass still running, skipping")
		return nil
	}
	defer j.running.Store(false)

	j.mu.Lock()
	defer j.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), monitorTimeout)
	defer cancel()
	j.monitor.Tick(ctx)
	return nil
}
