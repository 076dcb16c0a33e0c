package strategies

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMeanReversionAvoidsOverbought(t *testing.T) {
	s := NewMeanReversion()

	// A one-way climb pins RSI at the top of its range.
	v := s.Evaluate(snapWithCloses(ramp(100, 1.0, 20)))

	assert.Equal(t, VoteAvoid, v.Vote)
	assert.GreaterOrEqual(t, v.Confidence, 0.60)
	assert.Contains(t, v.Reason, "overbought")
}

func TestMeanReversionBuysBounceOffSessionLow(t *testing.T) {
	s := NewMeanReversion()

	closes := ramp(100, -1.0, 17) // sells off to 84
	closes = append(closes, 84.5) // first uptick
	snap := snapWithCloses(closes)
	snap.Quote.DayHigh = decimal.NewFromInt(100)
	snap.Quote.DayLow = decimal.NewFromInt(84)

	v := s.Evaluate(snap)

	assert.Equal(t, VoteBuy, v.Vote)
	assert.GreaterOrEqual(t, v.Confidence, 0.50)
	assert.GreaterOrEqual(t, v.ExpectedReturnPct, 0.5)
	assert.LessOrEqual(t, v.ExpectedReturnPct, 2.5)
}

func TestMeanReversionNeutralWhenPriceRecovered(t *testing.T) {
	s := NewMeanReversion()

	closes := ramp(100, -1.0, 17)
	closes = append(closes, 88.0) // already 4.8% off the low
	snap := snapWithCloses(closes)
	snap.Quote.DayHigh = decimal.NewFromInt(100)
	snap.Quote.DayLow = decimal.NewFromInt(84)

	v := s.Evaluate(snap)

	assert.Equal(t, VoteNeutral, v.Vote)
}

func TestMeanReversionNeutralWithoutSessionLow(t *testing.T) {
	s := NewMeanReversion()

	closes := ramp(100, -1.0, 17)
	closes = append(closes, 84.5)
	snap := snapWithCloses(closes) // DayLow left zero

	v := s.Evaluate(snap)

	assert.Equal(t, VoteNeutral, v.Vote)
	assert.Equal(t, "no session low yet", v.Reason)
}

func TestMeanReversionNeutralOnShortHistory(t *testing.T) {
	s := NewMeanReversion()

	v := s.Evaluate(snapWithCloses(ramp(100, -1.0, 10)))

	assert.Equal(t, VoteNeutral, v.Vote)
	assert.Equal(t, "insufficient price history", v.Reason)
}
