// Package signals is the final gate between strategy opinion and the
// risk manager. It turns cross-validated strategy verdicts into at most
// one Signal per symbol per round, or nothing at all; missing inputs
// are never an error here.
package signals

import (
	"math"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/events"
	"github.com/tkomnos/stealthtrader/internal/modules/strategies"
)

const (
	// Final quality gate and its component weights.
	minQualityScore  = 40.0
	qualityLiquidity = 40.0
	qualityVolBand   = 30.0
	qualityConfident = 30.0

	// A price already 1% past the reference entry is a chase, not an entry.
	staleMovePct = 0.01

	expectedReturnFloor = 2.0
	momentumWindow      = 30 // ~1h of 2-minute scans
)

// Agreement bonuses applied to the blended composite.
var agreementBonus = map[domain.Agreement]float64{
	domain.AgreementLow:    0,
	domain.AgreementMedium: 0.05,
	domain.AgreementHigh:   0.10,
}

// DataSource is the slice of market data access the generator needs.
type DataSource interface {
	Closes(symbol string) []float64
	AverageVolumeFor(quote domain.Quote) int64
	FiveMinuteVolume(symbol string) (int64, bool)
}

// Generator runs the strategy set over scan quotes and emits signals.
type Generator struct {
	data          DataSource
	bus           *events.Bus
	clock         domain.Clock
	minConfidence float64
	strategies    []strategies.Strategy
	log           zerolog.Logger

	mu         sync.Mutex
	todayCount int
	todayDate  string
}

// NewGenerator creates a generator with the standard three strategies.
func NewGenerator(data DataSource, bus *events.Bus, clock domain.Clock, minConfidence float64) *Generator {
	return &Generator{
		data:          data,
		bus:           bus,
		clock:         clock,
		minConfidence: minConfidence,
		strategies: []strategies.Strategy{
			strategies.NewTrendFollowing(),
			strategies.NewMeanReversion(),
			strategies.NewVolumeBreakout(),
		},
		log: log.With().Str("module", "signals").Logger(),
	}
}

// TodayCount returns how many signals were emitted today.
func (g *Generator) TodayCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.todayDate != g.clock.Now().Format("2006-01-02") {
		return 0
	}
	return g.todayCount
}

// Evaluate runs the pipeline for every quoted symbol and returns the
// signals that survive all gates, in input order.
func (g *Generator) Evaluate(symbols []string, quotes map[string]domain.Quote) []domain.Signal {
	var out []domain.Signal
	for _, symbol := range symbols {
		quote, ok := quotes[symbol]
		if !ok {
			continue
		}
		if signal := g.evaluateSymbol(symbol, quote); signal != nil {
			out = append(out, *signal)
		}
	}
	return out
}

func (g *Generator) evaluateSymbol(symbol string, quote domain.Quote) *domain.Signal {
	if !quote.HasLast() || quote.Stale {
		return nil
	}

	closes := g.data.Closes(symbol)
	snap := strategies.Snapshot{
		Quote:     quote,
		Closes:    closes,
		AvgVolume: g.data.AverageVolumeFor(quote),
	}
	if v, ok := g.data.FiveMinuteVolume(symbol); ok {
		snap.FiveMinVolume = v
		snap.HasFiveMin = true
	}

	verdicts := make([]strategies.Verdict, 0, len(g.strategies))
	for _, strategy := range g.strategies {
		verdicts = append(verdicts, strategy.Evaluate(snap))
	}

	consensus := strategies.CrossValidate(verdicts)
	if consensus.Vetoed {
		g.log.Debug().Str("symbol", symbol).Str("veto", consensus.VetoReason).Msg("Symbol vetoed")
		return nil
	}
	if consensus.Agreement == domain.AgreementNone {
		return nil
	}

	confidence := consensus.Composite * (1 + agreementBonus[consensus.Agreement])
	if confidence > 0.999 {
		confidence = 0.999
	}
	if confidence < g.minConfidence {
		g.log.Debug().
			Str("symbol", symbol).
			Float64("confidence", confidence).
			Float64("floor", g.minConfidence).
			Msg("Signal below confidence floor")
		return nil
	}

	expected := expectedReturn(consensus.ExpectedReturnPct, closes)
	quality := g.qualityScore(quote, closes, confidence)
	if quality < minQualityScore {
		g.log.Debug().
			Str("symbol", symbol).
			Float64("quality", quality).
			Msg("Signal below quality floor")
		return nil
	}

	// Stale signal guard: the strategies decided on the recorded
	// series; if price has already run past it, let this one go.
	if len(closes) > 0 {
		reference := closes[len(closes)-1]
		last, _ := quote.Last.Float64()
		if reference > 0 && last > reference*(1+staleMovePct) {
			g.log.Debug().Str("symbol", symbol).Msg("Price ran past reference entry")
			return nil
		}
	}

	signal := &domain.Signal{
		Symbol:            symbol,
		Side:              "BUY",
		Confidence:        confidence,
		ExpectedReturnPct: expected,
		QualityScore:      quality,
		Agreement:         consensus.Agreement,
		EntryReference:    quote.Last,
		CreatedAt:         g.clock.Now(),
	}

	g.recordEmitted()
	g.log.Info().
		Str("symbol", symbol).
		Float64("confidence", confidence).
		Float64("expected_return_pct", expected).
		Float64("quality", quality).
		Str("agreement", string(consensus.Agreement)).
		Msg("Signal generated")
	g.bus.Emit(events.SignalGenerated, "signals", map[string]interface{}{
		"symbol":     symbol,
		"confidence": confidence,
		"agreement":  string(consensus.Agreement),
		"quality":    quality,
	})
	return signal
}

// expectedReturn blends the strategy target with the recent momentum
// extrapolation, floored so take-profit distances stay meaningful.
func expectedReturn(strategyTarget float64, closes []float64) float64 {
	momentumTarget := 0.0
	if len(closes) > momentumWindow {
		base := closes[len(closes)-1-momentumWindow]
		last := closes[len(closes)-1]
		if base > 0 && last > base {
			momentumTarget = math.Min((last-base)/base*100, 5.0)
		}
	}

	blended := (strategyTarget + momentumTarget) / 2
	if blended < expectedReturnFloor {
		return expectedReturnFloor
	}
	return blended
}

// qualityScore grades a candidate 0..100 from dollar liquidity, how its
// intraday volatility sits against the tradeable band, and confidence.
func (g *Generator) qualityScore(quote domain.Quote, closes []float64, confidence float64) float64 {
	last, _ := quote.Last.Float64()
	volume := g.data.AverageVolumeFor(quote)
	if volume == 0 {
		volume = quote.Volume
	}

	liquidity := 0.0
	if dollarVolume := float64(volume) * last; dollarVolume > 0 {
		// $100k scores zero, $1B scores full.
		liquidity = clamp01((math.Log10(dollarVolume) - 5) / 4)
	}

	return qualityLiquidity*liquidity +
		qualityVolBand*volatilityBandFit(closes) +
		qualityConfident*confidence
}

// volatilityBandFit scores per-bar return volatility against the band
// the exit machinery handles well: 0.05% to 0.5% per scan. Dead-flat
// names cannot reach the stops; wild ones blow through them.
func volatilityBandFit(closes []float64) float64 {
	if len(closes) < 10 {
		return 0.5
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] > 0 {
			returns = append(returns, (closes[i]-closes[i-1])/closes[i-1]*100)
		}
	}
	if len(returns) < 2 {
		return 0.5
	}

	vol := stat.StdDev(returns, nil)
	switch {
	case math.IsNaN(vol):
		return 0.5
	case vol < 0.05:
		return clamp01(vol / 0.05)
	case vol <= 0.5:
		return 1.0
	default:
		return clamp01(1.0 - (vol-0.5)/0.5)
	}
}

func (g *Generator) recordEmitted() {
	g.mu.Lock()
	defer g.mu.Unlock()
	today := g.clock.Now().Format("2006-01-02")
	if g.todayDate != today {
		g.todayDate = today
		g.todayCount = 0
	}
	g.todayCount++
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
