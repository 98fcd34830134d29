package signals

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"sentinel/internal/domain/event"
	"sentinel/internal/domain/position"
	"sentinel/pkg/errors"
)

// WhaleAdapter translates large-transfer alerts from the whale flow
// producer. Confidence scales with transfer size relative to the
// producer-reported daily average.
type WhaleAdapter struct{}

// NewWhaleAdapter creates a whale flow adapter
func NewWhaleAdapter() *WhaleAdapter {
	return &WhaleAdapter{}
}

// Producer returns the producer name
func (*WhaleAdapter) Producer() string { return "whale" }

type whalePayload struct {
	Symbol    string          `json:"symbol"`
	Direction string          `json:"direction"` // inflow | outflow
	AmountUSD decimal.Decimal `json:"amount_usd"`
	DailyAvg  decimal.Decimal `json:"daily_avg_usd"`
}

// Translate decodes a whale alert into a signal. Exchange inflow is read as
// sell pressure, outflow as accumulation.
func (a *WhaleAdapter) Translate(raw []byte) (event.Signal, error) {
	var p whalePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return event.Signal{}, errors.Wrap(errors.ErrInvalidInput, err.Error())
	}
	if p.Symbol == "" || p.AmountUSD.LessThanOrEqual(decimal.Zero) {
		return event.Signal{}, errors.Wrap(errors.ErrInvalidInput, "whale payload missing symbol or amount")
	}

	var dir position.Side
	switch p.Direction {
	case "inflow":
		dir = position.Short
	case "outflow":
		dir = position.Long
	default:
		return event.Signal{}, errors.Wrapf(errors.ErrInvalidInput, "unknown whale direction %q", p.Direction)
	}

	confidence := 0.5
	if p.DailyAvg.GreaterThan(decimal.Zero) {
		ratio, _ := p.AmountUSD.Div(p.DailyAvg).Float64()
		confidence = min(0.5+ratio/10, 0.95)
	}

	return event.Signal{
		Producer:   a.Producer(),
		Symbol:     p.Symbol,
		Direction:  dir,
		Confidence: confidence,
		Rationale:  fmt.Sprintf("whale %s of %s USD on %s", p.Direction, p.AmountUSD, p.Symbol),
	}, nil
}
