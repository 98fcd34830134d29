package risk

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// HistoricalVaR computes one-step Value-at-Risk at the given confidence level
// by historical simulation: simple returns are derived from the price window,
// the loss quantile is taken, and the result is scaled by the exposure.
//
// prices must be in chronological order. Returns zero when the window is too
// short to simulate (fewer than 2 prices).
func HistoricalVaR(prices []float64, exposure decimal.Decimal, confidence float64) decimal.Decimal {
	if len(prices) < 2 {
		return decimal.Zero
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	if len(returns) == 0 {
		return decimal.Zero
	}

	sort.Float64s(returns)

	// Loss quantile sits at the (1-confidence) tail of the return
	// distribution. Index clamped to the available sample.
	idx := int(math.Floor(float64(len(returns)) * (1 - confidence)))
	if idx >= len(returns) {
		idx = len(returns) - 1
	}

	worst := returns[idx]
	if worst >= 0 {
		return decimal.Zero
	}

	loss := decimal.NewFromFloat(-worst)
	return exposure.Mul(loss).Round(8)
}
