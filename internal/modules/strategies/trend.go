package strategies

import (
	"fmt"

	talib "github.com/markcheno/go-talib"
)

const (
	trendName    = "trend_following"
	emaFast      = 9
	emaSlow      = 21
	momentumBars = 5
)

// TrendFollowing buys symbols whose fast EMA runs above the slow EMA
// while price holds above the fast line. It votes AVOID when the fast
// line has crossed decisively below the slow one, so the other
// strategies cannot buy into a confirmed downtrend.
type TrendFollowing struct{}

func NewTrendFollowing() *TrendFollowing { return &TrendFollowing{} }

func (s *TrendFollowing) Name() string { return trendName }

func (s *TrendFollowing) Evaluate(snap Snapshot) Verdict {
	closes := snap.Closes
	if len(closes) < emaSlow+momentumBars {
		return neutral(trendName, "insufficient price history")
	}

	fast := talib.Ema(closes, emaFast)
	slow := talib.Ema(closes, emaSlow)
	last := closes[len(closes)-1]
	f := fast[len(fast)-1]
	sl := slow[len(slow)-1]
	if sl <= 0 {
		return neutral(trendName, "degenerate series")
	}

	separation := (f - sl) / sl
	base := closes[len(closes)-1-momentumBars]
	momentum := 0.0
	if base > 0 {
		momentum = (last - base) / base
	}

	switch {
	case separation > 0 && last > f && momentum > 0:
		conf := clamp(0.55+separation*40+momentum*10, 0.55, 0.95)
		expected := clamp(separation*200+momentum*100, 0.3, 3.0)
		return Verdict{
			Strategy:          trendName,
			Vote:              VoteBuy,
			Confidence:        conf,
			ExpectedReturnPct: expected,
			Reason:            fmt.Sprintf("uptrend, EMA separation %.2f%%", separation*100),
		}
	case separation < -0.002 && momentum < 0:
		return Verdict{
			Strategy:   trendName,
			Vote:       VoteAvoid,
			Confidence: clamp(0.60-separation*40, 0.60, 0.90),
			Reason:     "confirmed downtrend",
		}
	default:
		return neutral(trendName, "no trend edge")
	}
}
