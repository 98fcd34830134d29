package risk

import (
	"context"
	"math"

	"github.com/shopspring/decimal"
)

// minCorrelationSamples is the fewest return pairs Pearson is computed over.
const minCorrelationSamples = 8

// CorrelationSource provides pairwise correlation data between symbols.
// Implemented by an external collaborator; the monitor only reads.
type CorrelationSource interface {
	// Correlation returns the correlation coefficient between two symbols,
	// in the range -1..+1.
	Correlation(ctx context.Context, a, b string) (decimal.Decimal, error)
}

// MaxPairwiseCorrelation returns the largest absolute correlation between
// symbol and any of the others. Lookup failures for individual pairs are
// skipped; correlation risk degrades to what could be measured.
func MaxPairwiseCorrelation(ctx context.Context, src CorrelationSource, symbol string, others []string) decimal.Decimal {
	max := decimal.Zero
	for _, other := range others {
		if other == symbol {
			continue
		}
		c, err := src.Correlation(ctx, symbol, other)
		if err != nil {
			continue
		}
		if abs := c.Abs(); abs.GreaterThan(max) {
			max = abs
		}
	}
	return max
}

// PearsonCorrelation computes the correlation coefficient between the return
// series of two aligned price windows. The windows are truncated to their
// common tail. Returns false when there is not enough overlapping data or a
// series has zero variance.
func PearsonCorrelation(pricesA, pricesB []float64) (float64, bool) {
	retA := simpleReturns(pricesA)
	retB := simpleReturns(pricesB)

	n := len(retA)
	if len(retB) < n {
		n = len(retB)
	}
	if n < minCorrelationSamples {
		return 0, false
	}
	retA = retA[len(retA)-n:]
	retB = retB[len(retB)-n:]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += retA[i]
		meanB += retB[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		dA := retA[i] - meanA
		dB := retB[i] - meanB
		cov += dA * dB
		varA += dA * dA
		varB += dB * dB
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varA*varB), true
}

func simpleReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, prices[i]/prices[i-1]-1)
	}
	return returns
}
