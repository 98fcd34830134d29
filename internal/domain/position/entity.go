package position

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Position represents an open trading exposure. The struct is value-copied
// across component boundaries; the state store holds the canonical record.
type Position struct {
	ID         uuid.UUID
	StrategyID uuid.UUID

	Symbol string
	Side   Side

	Volume     decimal.Decimal
	EntryPrice decimal.Decimal

	// Risk parameters; zero means unset
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal

	Status   Status
	OpenedAt time.Time
	ClosedAt *time.Time

	// Version is a compare-and-swap counter. Writers must submit the version
	// they read; the store rejects the write when it has moved since.
	Version int64
}

// Breakeven returns the price at which the position carries zero PnL.
func (p Position) Breakeven() decimal.Decimal {
	return p.EntryPrice
}

// DrawdownPct returns the adverse move from entry as a percentage of entry,
// adjusted for side. Favorable moves produce a negative value.
func (p Position) DrawdownPct(price decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	move := p.EntryPrice.Sub(price)
	if p.Side == Short {
		move = move.Neg()
	}
	return move.Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}

// Exposure returns the notional value of the position at entry.
func (p Position) Exposure() decimal.Decimal {
	return p.EntryPrice.Mul(p.Volume)
}

// Side defines long or short
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Valid checks if position side is valid
func (s Side) Valid() bool {
	return s == Long || s == Short
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// String returns string representation
func (s Side) String() string {
	return string(s)
}

// Status defines position lifecycle status
type Status string

const (
	Open   Status = "open"
	Closed Status = "closed"
)

// Valid checks if position status is valid
func (s Status) Valid() bool {
	return s == Open || s == Closed
}

// IsOpen returns true if position is open
func (s Status) IsOpen() bool {
	return s == Open
}
