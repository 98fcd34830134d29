package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sentinel/internal/domain/position"
)

// Gateway is the unified contract for the external trading venue. The
// executor is the only caller; it passes the proposal ID as idempotency key
// so a retried call cannot double-apply on the venue side.
type Gateway interface {
	// PlaceOrder opens a new position.
	PlaceOrder(ctx context.Context, req OrderRequest) (*position.Position, error)

	// ModifyPosition changes stop loss, take profit or volume on an open
	// position. Zero fields in the modification are left untouched.
	ModifyPosition(ctx context.Context, idempotencyKey string, positionID uuid.UUID, mod Modification) error

	// ClosePosition fully closes an open position at market.
	ClosePosition(ctx context.Context, idempotencyKey string, positionID uuid.UUID) error

	// GetPositions returns all positions currently open at the venue.
	GetPositions(ctx context.Context) ([]position.Position, error)
}

// OrderRequest describes a new position to open.
type OrderRequest struct {
	StrategyID uuid.UUID       `json:"strategy_id"`
	Symbol     string          `json:"symbol"`
	Side       position.Side   `json:"side"`
	Volume     decimal.Decimal `json:"volume"`
	StopLoss   decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit decimal.Decimal `json:"take_profit,omitempty"`
}

// Modification carries the mutable fields of an open position.
type Modification struct {
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
	Volume     *decimal.Decimal `json:"volume,omitempty"`
}

// Empty reports whether the modification changes nothing.
func (m Modification) Empty() bool {
	return m.StopLoss == nil && m.TakeProfit == nil && m.Volume == nil
}
