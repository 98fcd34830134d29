package risk

import (
	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
)

// DefaultATRPeriod is the lookback used for stop-offset derivation.
const DefaultATRPeriod = 14

// ATR returns the latest Average True Range over the given period.
// highs, lows and closes must be the same length and chronological.
// Returns zero when the window is shorter than period+1.
func ATR(highs, lows, closes []float64, period int) decimal.Decimal {
	if period <= 0 {
		period = DefaultATRPeriod
	}
	if len(highs) <= period || len(highs) != len(lows) || len(highs) != len(closes) {
		return decimal.Zero
	}

	out := talib.Atr(highs, lows, closes, period)
	if len(out) == 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(out[len(out)-1]).Round(8)
}

// ATRFromTicks approximates ATR from a plain price series when no candle
// data is available: each sample acts as high, low and close of a one-tick
// bar, so the true range degrades to the absolute close-to-close move.
func ATRFromTicks(prices []float64, period int) decimal.Decimal {
	return ATR(prices, prices, prices, period)
}
