package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"sentinel/pkg/errors"
)

// wire is the journal representation of an envelope. The payload stays raw
// until the type tag routes it to a concrete variant.
type wire struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Time          time.Time       `json:"time"`
	Seq           uint64          `json:"seq"`
	CorrelationID uuid.UUID       `json:"correlation_id,omitzero"`
	Payload       json.RawMessage `json:"payload"`
}

// Marshal encodes an envelope for the journal.
func Marshal(e Envelope) ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	return json.Marshal(wire{
		ID:            e.ID,
		Type:          e.Type,
		Source:        e.Source,
		Time:          e.Time,
		Seq:           e.Seq,
		CorrelationID: e.CorrelationID,
		Payload:       payload,
	})
}

// Unmarshal decodes a journal record back into a typed envelope.
// Unknown type tags fail with ErrInvalidInput so replay surfaces schema
// drift instead of silently skipping records.
func Unmarshal(data []byte) (Envelope, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, errors.Wrap(err, "unmarshal envelope")
	}

	payload, err := decodePayload(w.Type, w.Payload)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		ID:            w.ID,
		Type:          w.Type,
		Source:        w.Source,
		Time:          w.Time,
		Seq:           w.Seq,
		CorrelationID: w.CorrelationID,
		Payload:       payload,
	}, nil
}

func decodePayload(topic string, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)

	switch {
	case topic == TopicPriceTick:
		p, err = decodeAs[PriceTick](raw)
	case topic == TopicRiskUpdated:
		p, err = decodeAs[RiskUpdated](raw)
	case topic == TopicRiskStale:
		p, err = decodeAs[RiskStale](raw)
	case topic == TopicAdjustmentProposed:
		p, err = decodeAs[AdjustmentProposed](raw)
	case topic == TopicAdjustmentApplied:
		p, err = decodeAs[AdjustmentApplied](raw)
	case topic == TopicAdjustmentFailed:
		p, err = decodeAs[AdjustmentFailed](raw)
	case topic == TopicAlertRaised:
		p, err = decodeAs[AlertRaised](raw)
	case topic == TopicBusOverflow:
		p, err = decodeAs[BusOverflow](raw)
	case topic == TopicPositionClosed:
		p, err = decodeAs[PositionClosed](raw)
	case topic == TopicPositionUpdated:
		p, err = decodeAs[PositionUpdated](raw)
	case topic == TopicCircuitOpen:
		p, err = decodeAs[CircuitOpen](raw)
	case IsSignal(topic):
		p, err = decodeAs[Signal](raw)
	default:
		return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown event type %q", topic)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "decode %s payload", topic)
	}
	return p, nil
}

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
