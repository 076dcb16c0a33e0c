package strategies

import (
	"fmt"
)

const (
	volumeName     = "volume_breakout"
	surgeThreshold = 2.5
	// A regular session is 390 minutes, so a 5-minute slice of the
	// 20-day average daily volume is avg/78.
	fiveMinSlices = 78
	nearHighBand  = 0.995
	nearLowBand   = 1.005
)

// VolumeBreakout buys symbols printing an outsized 5-minute volume
// surge while price presses the session high. The same surge near the
// session low reads as distribution and votes AVOID.
type VolumeBreakout struct{}

func NewVolumeBreakout() *VolumeBreakout { return &VolumeBreakout{} }

func (s *VolumeBreakout) Name() string { return volumeName }

func (s *VolumeBreakout) Evaluate(snap Snapshot) Verdict {
	if !snap.HasFiveMin || snap.AvgVolume <= 0 {
		return neutral(volumeName, "no volume baseline")
	}

	pace := snap.AvgVolume / fiveMinSlices
	if pace <= 0 {
		return neutral(volumeName, "no volume baseline")
	}
	ratio := float64(snap.FiveMinVolume) / float64(pace)
	if ratio < surgeThreshold {
		return neutral(volumeName, "volume in line with average")
	}

	last, _ := snap.Quote.Last.Float64()
	high, _ := snap.Quote.DayHigh.Float64()
	low, _ := snap.Quote.DayLow.Float64()

	switch {
	case high > 0 && last >= high*nearHighBand:
		conf := clamp(0.55+(ratio-surgeThreshold)*0.08, 0.55, 0.95)
		return Verdict{
			Strategy:          volumeName,
			Vote:              VoteBuy,
			Confidence:        conf,
			ExpectedReturnPct: clamp(ratio*0.4, 0.5, 3.0),
			Reason:            fmt.Sprintf("%.1fx volume surge at session high", ratio),
		}
	case low > 0 && last <= low*nearLowBand:
		return Verdict{
			Strategy:   volumeName,
			Vote:       VoteAvoid,
			Confidence: clamp(0.60+(ratio-surgeThreshold)*0.08, 0.60, 0.90),
			Reason:     fmt.Sprintf("%.1fx volume surge at session low", ratio),
		}
	default:
		return neutral(volumeName, "surge without price confirmation")
	}
}
