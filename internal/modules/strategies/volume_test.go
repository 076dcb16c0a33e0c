package strategies

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/tkomnos/stealthtrader/internal/domain"
)

func volumeSnap(last, high, low float64, fiveMin int64) Snapshot {
	return Snapshot{
		Quote: domain.Quote{
			Symbol:  "NVDA",
			Last:    decimal.NewFromFloat(last),
			DayHigh: decimal.NewFromFloat(high),
			DayLow:  decimal.NewFromFloat(low),
		},
		AvgVolume:     780_000, // 5-minute pace of 10k shares
		FiveMinVolume: fiveMin,
		HasFiveMin:    true,
	}
}

func TestVolumeBuysSurgeAtSessionHigh(t *testing.T) {
	s := NewVolumeBreakout()

	v := s.Evaluate(volumeSnap(50.00, 50.10, 47.90, 30_000))

	assert.Equal(t, VoteBuy, v.Vote)
	assert.InDelta(t, 0.59, v.Confidence, 0.001)
	assert.Contains(t, v.Reason, "3.0x volume surge")
}

func TestVolumeAvoidsSurgeAtSessionLow(t *testing.T) {
	s := NewVolumeBreakout()

	v := s.Evaluate(volumeSnap(48.00, 50.10, 47.90, 30_000))

	assert.Equal(t, VoteAvoid, v.Vote)
	assert.GreaterOrEqual(t, v.Confidence, 0.60)
}

func TestVolumeNeutralMidRange(t *testing.T) {
	s := NewVolumeBreakout()

	v := s.Evaluate(volumeSnap(49.00, 50.10, 47.90, 30_000))

	assert.Equal(t, VoteNeutral, v.Vote)
	assert.Equal(t, "surge without price confirmation", v.Reason)
}

func TestVolumeNeutralWithoutSurge(t *testing.T) {
	s := NewVolumeBreakout()

	v := s.Evaluate(volumeSnap(50.00, 50.10, 47.90, 9_000))

	assert.Equal(t, VoteNeutral, v.Vote)
}

func TestVolumeNeutralWithoutBaseline(t *testing.T) {
	s := NewVolumeBreakout()

	snap := volumeSnap(50.00, 50.10, 47.90, 30_000)
	snap.HasFiveMin = false
	assert.Equal(t, VoteNeutral, s.Evaluate(snap).Vote)

	snap = volumeSnap(50.00, 50.10, 47.90, 30_000)
	snap.AvgVolume = 0
	assert.Equal(t, VoteNeutral, s.Evaluate(snap).Vote)
}
