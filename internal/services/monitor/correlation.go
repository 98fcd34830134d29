package monitor

import (
	"context"

	"github.com/shopspring/decimal"

	"sentinel/internal/domain/risk"
	"sentinel/pkg/errors"
)

// windowCorrelation derives pairwise correlation from the monitor's own
// price windows. Used when no external correlation source is supplied.
type windowCorrelation struct {
	windows *windowSet
}

var _ risk.CorrelationSource = windowCorrelation{}

func (w windowCorrelation) Correlation(_ context.Context, a, b string) (decimal.Decimal, error) {
	corr, ok := risk.PearsonCorrelation(w.windows.values(a), w.windows.values(b))
	if !ok {
		return decimal.Zero, errors.Wrapf(errors.ErrNotFound, "insufficient overlap for %s/%s", a, b)
	}
	return decimal.NewFromFloat(corr), nil
}
