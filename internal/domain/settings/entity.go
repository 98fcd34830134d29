package settings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AdaptiveSettings is the per-strategy risk configuration. It is read-only
// to this process; an external configuration collaborator mutates it.
type AdaptiveSettings struct {
	StrategyID uuid.UUID `db:"strategy_id"`

	MaxDrawdownPct  decimal.Decimal `db:"max_drawdown_pct"`
	RiskPerTradePct decimal.Decimal `db:"risk_per_trade_pct"`

	AutoSLEnabled   bool `db:"auto_sl_enabled"`
	AutoTPEnabled   bool `db:"auto_tp_enabled"`
	TrailingEnabled bool `db:"trailing_enabled"`

	// ReduceFactor is the fraction of volume kept when a conflicting
	// high-confidence signal triggers a reduce_volume proposal.
	ReduceFactor decimal.Decimal `db:"reduce_factor"`

	UpdatedAt time.Time `db:"updated_at"`
}

// Default returns conservative settings used when a strategy has no row.
func Default(strategyID uuid.UUID) AdaptiveSettings {
	return AdaptiveSettings{
		StrategyID:      strategyID,
		MaxDrawdownPct:  decimal.NewFromInt(5),
		RiskPerTradePct: decimal.NewFromInt(1),
		AutoSLEnabled:   true,
		AutoTPEnabled:   false,
		TrailingEnabled: false,
		ReduceFactor:    decimal.NewFromFloat(0.5),
		UpdatedAt:       time.Now().UTC(),
	}
}

// Repository loads settings from the configuration store.
type Repository interface {
	// GetByStrategy returns the settings row for a strategy.
	// Returns pkg/errors.ErrNotFound when the strategy has no row.
	GetByStrategy(ctx context.Context, strategyID uuid.UUID) (AdaptiveSettings, error)

	// List returns all settings rows, used by the refresh worker to warm
	// the cache.
	List(ctx context.Context) ([]AdaptiveSettings, error)
}
