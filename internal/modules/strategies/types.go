// Package strategies holds the entry signal strategies and the
// cross-validator that turns their verdicts into a consensus. Every
// strategy sees the same snapshot and votes independently; none of them
// may talk to the broker or mutate shared state.
package strategies

import (
	"github.com/tkomnos/stealthtrader/internal/domain"
)

// Vote is a strategy's directional opinion on a symbol.
type Vote string

const (
	VoteBuy     Vote = "BUY"
	VoteNeutral Vote = "NEUTRAL"
	VoteAvoid   Vote = "AVOID"
)

// Snapshot is the per-symbol input handed to every strategy.
type Snapshot struct {
	Quote         domain.Quote
	Closes        []float64 // intraday closes, oldest first
	AvgVolume     int64     // 20-day average daily volume, 0 when unknown
	FiveMinVolume int64     // volume traded across the trailing 5 minutes
	HasFiveMin    bool
}

// Verdict is one strategy's vote with its conviction.
type Verdict struct {
	Strategy          string  `json:"strategy"`
	Vote              Vote    `json:"vote"`
	Confidence        float64 `json:"confidence"` // 0..1
	ExpectedReturnPct float64 `json:"expected_return_pct"`
	Reason            string  `json:"reason"`
}

// Strategy evaluates one symbol snapshot.
type Strategy interface {
	Name() string
	Evaluate(snap Snapshot) Verdict
}

func neutral(name, reason string) Verdict {
	return Verdict{Strategy: name, Vote: VoteNeutral, Reason: reason}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
