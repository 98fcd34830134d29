package proposal

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Action is the kind of adjustment proposed for a position.
type Action string

const (
	ActionClose        Action = "close"
	ActionReduceVolume Action = "reduce_volume"
	ActionTightenSL    Action = "tighten_sl"
	ActionWidenTP      Action = "widen_tp"
	ActionNone         Action = "no_action"
)

// Valid checks if the action is part of the closed set.
func (a Action) Valid() bool {
	switch a {
	case ActionClose, ActionReduceVolume, ActionTightenSL, ActionWidenTP, ActionNone:
		return true
	}
	return false
}

// String returns string representation
func (a Action) String() string {
	return string(a)
}

// PreservationRank orders actions by how capital-preserving they are.
// Higher wins ties: close beats everything, no_action loses to everything.
func (a Action) PreservationRank() int {
	switch a {
	case ActionClose:
		return 4
	case ActionReduceVolume:
		return 3
	case ActionTightenSL:
		return 2
	case ActionWidenTP:
		return 1
	default:
		return 0
	}
}

// Status is the proposal lifecycle state. A proposal is terminal once
// applied or failed.
type Status string

const (
	StatusProposed Status = "proposed"
	StatusApplied  Status = "applied"
	StatusFailed   Status = "failed"
)

// Params carries the action-specific parameters. Zero decimals mean unset.
type Params struct {
	// StopLoss is the new stop price for tighten_sl.
	StopLoss decimal.Decimal `json:"stop_loss,omitzero"`
	// TakeProfit is the new take-profit price for widen_tp.
	TakeProfit decimal.Decimal `json:"take_profit,omitzero"`
	// VolumeFactor is the fraction of volume kept by reduce_volume.
	VolumeFactor decimal.Decimal `json:"volume_factor,omitzero"`
}

// Proposal is a proposed, not-yet-applied change to a position's risk
// parameters. The engine emits proposals; only the executor applies them.
type Proposal struct {
	ID         uuid.UUID `json:"proposal_id"`
	PositionID uuid.UUID `json:"position_id"`
	StrategyID uuid.UUID `json:"strategy_id"`
	Symbol     string    `json:"symbol"`

	Action     Action  `json:"action"`
	Params     Params  `json:"params"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`

	// PositionVersion is the version the engine evaluated against; the
	// executor re-checks it before applying.
	PositionVersion int64 `json:"position_version"`

	CreatedAt time.Time `json:"created_at"`
}

// New builds a proposal with a fresh ID.
func New(positionID, strategyID uuid.UUID, symbol string, action Action, params Params, rationale string, confidence float64, positionVersion int64) Proposal {
	return Proposal{
		ID:              uuid.New(),
		PositionID:      positionID,
		StrategyID:      strategyID,
		Symbol:          symbol,
		Action:          action,
		Params:          params,
		Rationale:       rationale,
		Confidence:      confidence,
		PositionVersion: positionVersion,
		CreatedAt:       time.Now().UTC(),
	}
}

// Actionable reports whether the proposal requires execution.
func (p Proposal) Actionable() bool {
	return p.Action != ActionNone && p.Action.Valid()
}
