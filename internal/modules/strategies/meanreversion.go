package strategies

import (
	"fmt"

	talib "github.com/markcheno/go-talib"
)

const (
	meanRevName   = "mean_reversion"
	rsiPeriod     = 14
	rsiOverbought = 70.0
	rsiEntryCeil  = 45.0
	nearLowPct    = 0.02
)

// MeanReversion buys washed-out symbols that sit near the session low
// with an RSI that has stopped falling. Its more important job is the
// overbought guard: an RSI at or above 70 votes AVOID, which vetoes the
// whole pipeline for that symbol.
type MeanReversion struct{}

func NewMeanReversion() *MeanReversion { return &MeanReversion{} }

func (s *MeanReversion) Name() string { return meanRevName }

func (s *MeanReversion) Evaluate(snap Snapshot) Verdict {
	closes := snap.Closes
	if len(closes) < rsiPeriod+2 {
		return neutral(meanRevName, "insufficient price history")
	}

	rsi := talib.Rsi(closes, rsiPeriod)
	cur := rsi[len(rsi)-1]
	prev := rsi[len(rsi)-2]
	last := closes[len(closes)-1]

	if cur >= rsiOverbought {
		return Verdict{
			Strategy:   meanRevName,
			Vote:       VoteAvoid,
			Confidence: clamp(0.60+(cur-rsiOverbought)/100, 0.60, 0.90),
			Reason:     fmt.Sprintf("overbought, RSI %.1f", cur),
		}
	}

	low, _ := snap.Quote.DayLow.Float64()
	if low <= 0 {
		return neutral(meanRevName, "no session low yet")
	}
	distFromLow := (last - low) / low

	if cur <= rsiEntryCeil && cur >= prev && distFromLow <= nearLowPct {
		conf := clamp(0.50+(rsiEntryCeil-cur)/100+(nearLowPct-distFromLow)*5, 0.50, 0.90)
		expected := reversionTarget(snap, last)
		return Verdict{
			Strategy:          meanRevName,
			Vote:              VoteBuy,
			Confidence:        conf,
			ExpectedReturnPct: expected,
			Reason:            fmt.Sprintf("oversold bounce, RSI %.1f off session low", cur),
		}
	}
	return neutral(meanRevName, "no reversion setup")
}

// reversionTarget estimates the bounce as a move halfway back to the
// session midpoint, floored so tiny ranges still clear the fee hurdle.
func reversionTarget(snap Snapshot, last float64) float64 {
	high, _ := snap.Quote.DayHigh.Float64()
	low, _ := snap.Quote.DayLow.Float64()
	if high <= 0 || low <= 0 || last <= 0 {
		return 0.5
	}
	mid := (high + low) / 2
	if mid <= last {
		return 0.5
	}
	return clamp((mid-last)/last*100/2, 0.5, 2.5)
}
