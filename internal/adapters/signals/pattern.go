package signals

import (
	"encoding/json"
	"fmt"

	"sentinel/internal/domain/event"
	"sentinel/internal/domain/position"
	"sentinel/pkg/errors"
)

// PatternAdapter translates chart pattern detections. The producer already
// scores its own confidence; this adapter only validates and normalizes.
type PatternAdapter struct{}

// NewPatternAdapter creates a chart pattern adapter
func NewPatternAdapter() *PatternAdapter {
	return &PatternAdapter{}
}

// Producer returns the producer name
func (*PatternAdapter) Producer() string { return "pattern" }

type patternPayload struct {
	Symbol     string  `json:"symbol"`
	Pattern    string  `json:"pattern"`
	Bias       string  `json:"bias"` // bullish | bearish
	Confidence float64 `json:"confidence"`
}

// Translate decodes a pattern detection into a signal
func (a *PatternAdapter) Translate(raw []byte) (event.Signal, error) {
	var p patternPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return event.Signal{}, errors.Wrap(errors.ErrInvalidInput, err.Error())
	}
	if p.Symbol == "" || p.Pattern == "" {
		return event.Signal{}, errors.Wrap(errors.ErrInvalidInput, "pattern payload missing symbol or pattern")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return event.Signal{}, errors.Wrapf(errors.ErrInvalidInput, "confidence %f out of range", p.Confidence)
	}

	var dir position.Side
	switch p.Bias {
	case "bullish":
		dir = position.Long
	case "bearish":
		dir = position.Short
	default:
		return event.Signal{}, errors.Wrapf(errors.ErrInvalidInput, "unknown pattern bias %q", p.Bias)
	}

	return event.Signal{
		Producer:   a.Producer(),
		Symbol:     p.Symbol,
		Direction:  dir,
		Confidence: p.Confidence,
		Rationale:  fmt.Sprintf("%s pattern (%s) on %s", p.Pattern, p.Bias, p.Symbol),
	}, nil
}
