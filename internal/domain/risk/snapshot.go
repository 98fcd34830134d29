package risk

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Snapshot is a point-in-time risk assessment for a single position.
// The monitor fully replaces the previous snapshot on every recompute;
// no history is retained in the hot path.
type Snapshot struct {
	PositionID uuid.UUID `json:"position_id"`
	Symbol     string    `json:"symbol"`

	// DrawdownPct is the adverse move from entry, in percent of entry price.
	DrawdownPct decimal.Decimal `json:"drawdown_pct"`

	// VaR95 is the 95th-percentile one-step loss from historical simulation,
	// in account currency.
	VaR95 decimal.Decimal `json:"var_95"`

	// CorrelationRisk is the largest absolute pairwise correlation against
	// any other open position's symbol, 0..1.
	CorrelationRisk decimal.Decimal `json:"correlation_risk"`

	ComputedAt time.Time `json:"computed_at"`
}

// noiseThreshold is the minimum movement, in percentage points, that makes a
// recomputed snapshot worth publishing.
var noiseThreshold = decimal.NewFromFloat(0.1)

// ChangedBeyondNoise reports whether s differs from prev enough to publish.
// A zero prev (first snapshot) always counts as changed.
func (s Snapshot) ChangedBeyondNoise(prev Snapshot) bool {
	if prev.ComputedAt.IsZero() {
		return true
	}
	if s.DrawdownPct.Sub(prev.DrawdownPct).Abs().GreaterThanOrEqual(noiseThreshold) {
		return true
	}
	if s.CorrelationRisk.Sub(prev.CorrelationRisk).Abs().GreaterThanOrEqual(noiseThreshold) {
		return true
	}
	// VaR is in currency units; rescale to percent of itself to keep the
	// same 0.1 threshold semantics.
	if prev.VaR95.IsZero() {
		return !s.VaR95.IsZero()
	}
	relMove := s.VaR95.Sub(prev.VaR95).Abs().Div(prev.VaR95).Mul(decimal.NewFromInt(100))
	return relMove.GreaterThanOrEqual(noiseThreshold)
}
