package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/tkomnos/stealthtrader/internal/config"
)

// ExitPrices derives the protective stop and the take-profit target for
// an entry price. The target honors the signal's expected return when it
// promises more than the configured take-profit. The executor calls this
// again after a fill so the exits track the actual fill price, not the
// quote the signal was sized against.
func ExitPrices(trailing config.TrailingConfig, entry decimal.Decimal, expectedReturnPct float64) (stop, target decimal.Decimal) {
	stop = entry.Mul(decimal.NewFromInt(1).Sub(pct(trailing.StopLossPct))).Round(2)
	targetPct := math.Max(trailing.TakeProfitPct, expectedReturnPct)
	target = entry.Mul(decimal.NewFromInt(1).Add(pct(targetPct))).Round(2)
	return stop, target
}
