package universe

import (
	"context"
	"fmt"
	"sort"
	"sync"

	talib "github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/events"
)

// Scoring weights. Relative volume finds where today's action is, the
// RSI band keeps out both dead and already-spent names, momentum favors
// gainers, and wide spreads cost real money on market orders.
const (
	weightRelVolume = 0.30
	weightRSIFit    = 0.25
	weightMomentum  = 0.25
	weightSpread    = 0.20

	rsiBandLow  = 40.0
	rsiBandHigh = 70.0
)

// pennyFloor excludes sub-dollar names outright.
var pennyFloor = decimal.NewFromInt(1)

// Quoter is the slice of market data access the selector needs. Rebuild
// bypasses the quote cache so ranking always sees current data.
type Quoter interface {
	RefreshQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error)
	AverageVolumeFor(quote domain.Quote) int64
	Closes(symbol string) []float64
}

// Selector ranks the watchlist into the working set that scans actually
// touch. A rebuild that cannot score at least half the watchlist keeps
// the previous set.
type Selector struct {
	quoter          Quoter
	watchlist       *Watchlist
	bus             *events.Bus
	clock           domain.Clock
	size            int
	minDollarVolume float64
	log             zerolog.Logger

	mu      sync.RWMutex
	current domain.WorkingSet
}

// NewSelector creates a selector producing working sets of at most size
// symbols.
func NewSelector(quoter Quoter, watchlist *Watchlist, bus *events.Bus, clock domain.Clock,
	size int, minDollarVolume float64) *Selector {

	if size <= 0 {
		size = 50
	}
	return &Selector{
		quoter:          quoter,
		watchlist:       watchlist,
		bus:             bus,
		clock:           clock,
		size:            size,
		minDollarVolume: minDollarVolume,
		log:             log.With().Str("module", "universe").Str("component", "selector").Logger(),
	}
}

// WorkingSet returns the current ranked set.
func (s *Selector) WorkingSet() domain.WorkingSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Rebuild re-ranks the watchlist. Pinned symbols (open positions) are
// always included so their intraday history keeps accumulating. On
// failure the previous set is returned flagged FromPrior.
func (s *Selector) Rebuild(ctx context.Context, pinned []string) (domain.WorkingSet, error) {
	symbols := s.watchlist.Symbols()
	if len(symbols) == 0 && len(pinned) == 0 {
		return s.keepPrior(fmt.Errorf("watchlist is empty"))
	}

	quotes, err := s.quoter.RefreshQuotes(ctx, append(symbols, pinned...))
	if err != nil {
		return s.keepPrior(fmt.Errorf("failed to quote watchlist: %w", err))
	}

	scorable := 0
	for _, symbol := range symbols {
		if quote, ok := quotes[symbol]; ok && quote.HasLast() {
			scorable++
		}
	}
	if len(symbols) > 0 && scorable*2 < len(symbols) {
		err := fmt.Errorf("only %d of %d watchlist symbols scorable: %w",
			scorable, len(symbols), domain.ErrDataUnavailable)
		s.bus.EmitError("universe", err, map[string]interface{}{
			"scorable":  scorable,
			"watchlist": len(symbols),
		})
		return s.keepPrior(err)
	}

	scored := s.scoreCandidates(symbols, quotes)
	set := s.assemble(scored, pinned)
	set.BuiltAt = s.clock.Now()

	s.mu.Lock()
	s.current = set
	s.mu.Unlock()

	s.log.Info().
		Int("watchlist", len(symbols)).
		Int("scorable", scorable).
		Int("working_set", len(set.Symbols)).
		Msg("Working set rebuilt")

	s.bus.Emit(events.WorkingSetUpdated, "universe", map[string]interface{}{
		"size":      len(set.Symbols),
		"scorable":  scorable,
		"watchlist": len(symbols),
	})
	return set, nil
}

// scoreCandidates applies the hard filters and computes the composite
// ranking score for every scorable watchlist symbol.
func (s *Selector) scoreCandidates(symbols []string, quotes map[string]domain.Quote) []domain.ScoredSymbol {
	var scored []domain.ScoredSymbol
	for _, symbol := range symbols {
		quote, ok := quotes[symbol]
		if !ok || !quote.HasLast() {
			continue
		}
		if quote.Last.LessThan(pennyFloor) {
			continue
		}

		last, _ := quote.Last.Float64()
		avgVolume := s.quoter.AverageVolumeFor(quote)
		volume := avgVolume
		if volume == 0 {
			volume = quote.Volume
		}
		if float64(volume)*last < s.minDollarVolume {
			continue
		}

		score := weightRelVolume*relVolumeScore(quote.Volume, avgVolume) +
			weightRSIFit*s.rsiBandScore(symbol) +
			weightMomentum*momentumScore(quote) +
			weightSpread*spreadScore(quote)

		scored = append(scored, domain.ScoredSymbol{Symbol: symbol, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored
}

// relVolumeScore rewards names trading well above their 20-day average
// volume. Three times the average earns full marks.
func relVolumeScore(volume, avgVolume int64) float64 {
	if avgVolume <= 0 {
		return 0.5
	}
	return clamp01(float64(volume) / float64(avgVolume) / 3.0)
}

// rsiBandScore is 1 inside the 40-70 band and decays with distance
// outside it. Without enough intraday history it stays neutral.
func (s *Selector) rsiBandScore(symbol string) float64 {
	closes := s.quoter.Closes(symbol)
	if len(closes) < 15 {
		return 0.5
	}
	rsi := talib.Rsi(closes, 14)
	r := rsi[len(rsi)-1]

	switch {
	case r >= rsiBandLow && r <= rsiBandHigh:
		return 1.0
	case r < rsiBandLow:
		return clamp01(1.0 - (rsiBandLow-r)/30.0)
	default:
		return clamp01(1.0 - (r-rsiBandHigh)/30.0)
	}
}

// momentumScore maps the move against the prior close onto [0,1], with
// +5% or better earning full marks.
func momentumScore(quote domain.Quote) float64 {
	if !quote.PrevClose.IsPositive() {
		return 0.5
	}
	ret, _ := quote.Last.Sub(quote.PrevClose).Div(quote.PrevClose).Float64()
	return clamp01(0.5 + ret*10)
}

// spreadScore penalizes wide markets; a 1% spread or worse scores zero.
func spreadScore(quote domain.Quote) float64 {
	spread, _ := quote.SpreadPct().Float64()
	return clamp01(1.0 - spread)
}

// assemble builds the final set: pinned symbols first, then the best
// scored candidates up to the size cap.
func (s *Selector) assemble(scored []domain.ScoredSymbol, pinned []string) domain.WorkingSet {
	included := make(map[string]bool, s.size)
	var members []domain.ScoredSymbol

	scoreBySymbol := make(map[string]float64, len(scored))
	for _, entry := range scored {
		scoreBySymbol[entry.Symbol] = entry.Score
	}

	for _, symbol := range pinned {
		if included[symbol] {
			continue
		}
		included[symbol] = true
		members = append(members, domain.ScoredSymbol{Symbol: symbol, Score: scoreBySymbol[symbol]})
	}

	for _, entry := range scored {
		if len(members) >= s.size {
			break
		}
		if included[entry.Symbol] {
			continue
		}
		included[entry.Symbol] = true
		members = append(members, entry)
	}

	return domain.WorkingSet{Symbols: members}
}

// keepPrior returns the existing set flagged as carried over.
func (s *Selector) keepPrior(err error) (domain.WorkingSet, error) {
	s.mu.Lock()
	s.current.FromPrior = true
	prior := s.current
	s.mu.Unlock()

	s.log.Warn().Err(err).Msg("Working set rebuild failed, keeping previous set")
	return prior, err
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
