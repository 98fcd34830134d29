package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var errNoPair = errors.New("no data for pair")

func TestHistoricalVaR(t *testing.T) {
	exposure := decimal.NewFromInt(10000)

	t.Run("short window yields zero", func(t *testing.T) {
		assert.True(t, HistoricalVaR([]float64{100}, exposure, 0.95).IsZero())
		assert.True(t, HistoricalVaR(nil, exposure, 0.95).IsZero())
	})

	t.Run("uniform losses", func(t *testing.T) {
		// Every step loses 1%, so the tail quantile is a 1% loss.
		prices := []float64{100, 99, 98.01, 97.0299, 96.059601}
		got := HistoricalVaR(prices, exposure, 0.95)
		want := decimal.NewFromFloat(100)
		assert.True(t, got.Sub(want).Abs().LessThan(decimal.NewFromFloat(0.01)), "VaR = %s", got)
	})

	t.Run("all gains yield zero", func(t *testing.T) {
		prices := []float64{100, 101, 102, 103}
		assert.True(t, HistoricalVaR(prices, exposure, 0.95).IsZero())
	})

	t.Run("worst loss dominates at high confidence", func(t *testing.T) {
		prices := []float64{100, 101, 95, 96, 97}
		got := HistoricalVaR(prices, exposure, 0.99)
		// Worst return is 95/101-1, about -5.94%.
		assert.True(t, got.GreaterThan(decimal.NewFromInt(500)), "VaR = %s", got)
	})
}

func TestATRFromTicks(t *testing.T) {
	t.Run("short window yields zero", func(t *testing.T) {
		assert.True(t, ATRFromTicks([]float64{1, 2, 3}, DefaultATRPeriod).IsZero())
	})

	t.Run("steady oscillation", func(t *testing.T) {
		prices := make([]float64, 40)
		for i := range prices {
			prices[i] = 100
			if i%2 == 1 {
				prices[i] = 100.5
			}
		}
		atr := ATRFromTicks(prices, DefaultATRPeriod)
		// Every true range is 0.5 once the series settles.
		assert.True(t, atr.Sub(decimal.NewFromFloat(0.5)).Abs().LessThan(decimal.NewFromFloat(0.05)), "ATR = %s", atr)
	})
}

func TestPearsonCorrelation(t *testing.T) {
	base := make([]float64, 20)
	inverse := make([]float64, 20)
	for i := range base {
		move := float64(i%3) - 1 // -1, 0, +1 pattern
		base[i] = 100 + float64(i) + move
		inverse[i] = 300 - base[i]
	}

	t.Run("self correlation is one", func(t *testing.T) {
		corr, ok := PearsonCorrelation(base, base)
		assert.True(t, ok)
		assert.InDelta(t, 1.0, corr, 1e-9)
	})

	t.Run("mirror series is negative", func(t *testing.T) {
		corr, ok := PearsonCorrelation(base, inverse)
		assert.True(t, ok)
		assert.Less(t, corr, -0.9)
	})

	t.Run("insufficient overlap", func(t *testing.T) {
		_, ok := PearsonCorrelation(base[:4], base[:4])
		assert.False(t, ok)
	})

	t.Run("flat series has no correlation", func(t *testing.T) {
		flat := make([]float64, 20)
		for i := range flat {
			flat[i] = 100
		}
		_, ok := PearsonCorrelation(base, flat)
		assert.False(t, ok)
	})
}

type stubCorr map[[2]string]decimal.Decimal

func (s stubCorr) Correlation(_ context.Context, a, b string) (decimal.Decimal, error) {
	if c, ok := s[[2]string{a, b}]; ok {
		return c, nil
	}
	return decimal.Zero, errNoPair
}

func TestMaxPairwiseCorrelation(t *testing.T) {
	src := stubCorr{
		{"BTCUSDT", "ETHUSDT"}: decimal.NewFromFloat(0.85),
		{"BTCUSDT", "EURUSD"}:  decimal.NewFromFloat(-0.92),
	}

	got := MaxPairwiseCorrelation(context.Background(), src, "BTCUSDT",
		[]string{"BTCUSDT", "ETHUSDT", "EURUSD", "XAUUSD"})
	assert.True(t, got.Equal(decimal.NewFromFloat(0.92)), "max = %s", got)
}

func TestSnapshot_ChangedBeyondNoise(t *testing.T) {
	base := Snapshot{
		DrawdownPct:     decimal.NewFromFloat(2.0),
		VaR95:           decimal.NewFromInt(100),
		CorrelationRisk: decimal.NewFromFloat(0.5),
		ComputedAt:      time.Now(),
	}

	t.Run("first snapshot always publishes", func(t *testing.T) {
		assert.True(t, base.ChangedBeyondNoise(Snapshot{}))
	})

	t.Run("sub-threshold drift suppressed", func(t *testing.T) {
		next := base
		next.DrawdownPct = decimal.NewFromFloat(2.05)
		next.CorrelationRisk = decimal.NewFromFloat(0.55)
		assert.False(t, next.ChangedBeyondNoise(base))
	})

	t.Run("drawdown move publishes", func(t *testing.T) {
		next := base
		next.DrawdownPct = decimal.NewFromFloat(2.1)
		assert.True(t, next.ChangedBeyondNoise(base))
	})

	t.Run("correlation move publishes", func(t *testing.T) {
		next := base
		next.CorrelationRisk = decimal.NewFromFloat(0.65)
		assert.True(t, next.ChangedBeyondNoise(base))
	})

	t.Run("relative var move publishes", func(t *testing.T) {
		next := base
		next.VaR95 = decimal.NewFromFloat(100.2) // 0.2% relative move
		assert.True(t, next.ChangedBeyondNoise(base))
	})
}
