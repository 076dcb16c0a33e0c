package strategies

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/tkomnos/stealthtrader/internal/domain"
)

// ramp builds a linear price series for indicator tests.
func ramp(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func snapWithCloses(closes []float64) Snapshot {
	last := closes[len(closes)-1]
	return Snapshot{
		Quote: domain.Quote{
			Symbol: "AAPL",
			Last:   decimal.NewFromFloat(last),
		},
		Closes: closes,
	}
}

func TestTrendBuysSteadyUptrend(t *testing.T) {
	s := NewTrendFollowing()

	v := s.Evaluate(snapWithCloses(ramp(100, 0.2, 30)))

	assert.Equal(t, VoteBuy, v.Vote)
	assert.GreaterOrEqual(t, v.Confidence, 0.55)
	assert.LessOrEqual(t, v.Confidence, 0.95)
	assert.Greater(t, v.ExpectedReturnPct, 0.0)
	assert.LessOrEqual(t, v.ExpectedReturnPct, 3.0)
}

func TestTrendAvoidsDowntrend(t *testing.T) {
	s := NewTrendFollowing()

	v := s.Evaluate(snapWithCloses(ramp(110, -0.3, 30)))

	assert.Equal(t, VoteAvoid, v.Vote)
	assert.GreaterOrEqual(t, v.Confidence, 0.60)
}

func TestTrendNeutralWithoutEdge(t *testing.T) {
	s := NewTrendFollowing()

	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 100
	}
	v := s.Evaluate(snapWithCloses(flat))

	assert.Equal(t, VoteNeutral, v.Vote)
}

func TestTrendNeutralOnShortHistory(t *testing.T) {
	s := NewTrendFollowing()

	v := s.Evaluate(snapWithCloses(ramp(100, 0.5, 10)))

	assert.Equal(t, VoteNeutral, v.Vote)
	assert.Equal(t, "insufficient price history", v.Reason)
}
