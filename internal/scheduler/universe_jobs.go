package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkomnos/stealthtrader/internal/domain"
)

const (
	refreshTimeout = 2 * time.Minute
	buildTimeout   = 5 * time.Minute
)

// WorkingSetRebuilder re-ranks the watchlist into the live working set.
type WorkingSetRebuilder interface {
	Rebuild(ctx context.Context, pinned []string) (domain.WorkingSet, error)
}

// OpenSymbolSource lists symbols that must stay in the working set.
type OpenSymbolSource interface {
	OpenSymbols() []string
}

// WatchlistRebuilder is the external watchlist builder client.
type WatchlistRebuilder interface {
	Configured() bool
	Rebuild(ctx context.Context) (int, error)
}

// WorkingSetRefreshJob re-ranks the working set on its hourly cadence
// and once at the first regular tick. Symbols with open positions are
// always retained.
type WorkingSetRefreshJob struct {
	log      zerolog.Logger
	mu       *sync.Mutex
	running  atomic.Bool
	phases   PhaseSource
	selector WorkingSetRebuilder
	book     OpenSymbolSource
}

// NewWorkingSetRefreshJob creates the working-set refresh job.
func NewWorkingSetRefreshJob(phases PhaseSource, selector WorkingSetRebuilder, book OpenSymbolSource,
	mu *sync.Mutex, log zerolog.Logger) *WorkingSetRefreshJob {
	return &WorkingSetRefreshJob{
		log:      log.With().Str("job", "working_set_refresh").Logger(),
		mu:       mu,
		phases:   phases,
		selector: selector,
		book:     book,
	}
}

// Name returns the job name.
func (j *WorkingSetRefreshJob) Name() string {
	return "working_set_refresh"
}

// Run executes one refresh.
func (j *WorkingSetRefreshJob) Run() error {
	if j.phases.CurrentPhase() != domain.PhaseRegular {
		return nil
	}
	if !j.running.CompareAndSwap(false, true) {
		j.log.Warn().Msg("Previous refresh still running, skipping")
		return nil
	}
	defer j.running.Store(false)

	j.mu.Lock()
	defer j.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if _, err := j.selector.Rebuild(ctx, j.book.OpenSymbols()); err != nil {
		return fmt.Errorf("failed to rebuild working set: %w", err)
	}
	return nil
}

// WatchlistBuildJob asks the external builder for a fresh candidate
// list each weekday morning. Phase-agnostic: it runs before the
// session opens.
type WatchlistBuildJob struct {
	log     zerolog.Logger
	builder WatchlistRebuilder
}

// NewWatchlistBuildJob creates the morning watchlist build job.
func NewWatchlistBuildJob(builder WatchlistRebuilder, log zerolog.Logger) *WatchlistBuildJob {
	return &WatchlistBuildJob{
		log:     log.With().Str("job", "watchlist_build").Logger(),
		builder: builder,
	}
}

// Name returns the job name.
func (j *WatchlistBuildJob) Name() string {
	return "watchlist_build"
}

// Run executes one build.
func (j *WatchlistBuildJob) Run() error {
	if !j.builder.Configured() {
		j.log.Debug().Msg("Watchlist builder not configured, skipping")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), buildTimeout)
	defer cancel()

	count, err := j.builder.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild watchlist: %w", err)
	}
	j.log.Info().Int("symbols", count).Msg("Watchlist rebuilt")
	return nil
}
