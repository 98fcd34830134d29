package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sentinel/internal/domain/position"
	"sentinel/internal/domain/proposal"
	"sentinel/internal/domain/risk"
)

// Topic constants. Signals are namespaced per producer under signal.*.
const (
	TopicPriceTick          = "price.tick"
	TopicRiskUpdated        = "risk.updated"
	TopicRiskStale          = "risk.stale"
	TopicAdjustmentProposed = "adjustment.proposed"
	TopicAdjustmentApplied  = "adjustment.applied"
	TopicAdjustmentFailed   = "adjustment.failed"
	TopicAlertRaised        = "alert.raised"
	TopicBusOverflow        = "bus.overflow"
	TopicPositionClosed     = "position.closed"
	TopicPositionUpdated    = "position.updated"
	TopicCircuitOpen        = "gateway.circuit_open"

	SignalPrefix = "signal."
)

// Payload is the closed set of event bodies. Consumers switch on the
// concrete type instead of probing attributes.
type Payload interface {
	// Topic returns the bus topic this payload is published under.
	Topic() string
}

// Envelope is the unit passed through the bus and the journal.
// Immutable once published; superseded, never mutated.
type Envelope struct {
	ID     uuid.UUID `json:"id"`
	Type   string    `json:"type"`
	Source string    `json:"source"`
	Time   time.Time `json:"time"`

	// Seq is a process-monotonic sequence number assigned by the bus at
	// publish, so replay ordering never depends on wall clocks.
	Seq uint64 `json:"seq"`

	// CorrelationID links derived events to their trigger; uuid.Nil when unset.
	CorrelationID uuid.UUID `json:"correlation_id,omitzero"`

	Payload Payload `json:"payload"`
}

// New builds an envelope around a payload with a fresh ID.
func New(source string, p Payload) Envelope {
	return Envelope{
		ID:      uuid.New(),
		Type:    p.Topic(),
		Source:  source,
		Time:    time.Now().UTC(),
		Payload: p,
	}
}

// NewCorrelated builds an envelope carrying the trigger's correlation ID.
func NewCorrelated(source string, correlationID uuid.UUID, p Payload) Envelope {
	e := New(source, p)
	e.CorrelationID = correlationID
	return e
}

// PriceTick is a market data sample for one symbol.
type PriceTick struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	At     time.Time       `json:"at"`
}

func (PriceTick) Topic() string { return TopicPriceTick }

// Mid returns the bid/ask midpoint.
func (t PriceTick) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// RiskUpdated carries a freshly computed snapshot for one position.
type RiskUpdated struct {
	Snapshot risk.Snapshot `json:"snapshot"`
}

func (RiskUpdated) Topic() string { return TopicRiskUpdated }

// RiskStale marks a position whose price data is too old to act on.
type RiskStale struct {
	PositionID uuid.UUID `json:"position_id"`
	Symbol     string    `json:"symbol"`
	LastTick   time.Time `json:"last_tick"`
}

func (RiskStale) Topic() string { return TopicRiskStale }

// Signal is a translated producer event (whale flow, chart pattern, ...).
type Signal struct {
	Producer   string        `json:"producer"`
	Symbol     string        `json:"symbol"`
	Direction  position.Side `json:"direction"`
	Confidence float64       `json:"confidence"`
	Rationale  string        `json:"rationale"`
}

func (s Signal) Topic() string { return SignalPrefix + s.Producer }

// AdjustmentProposed carries an engine decision awaiting execution.
type AdjustmentProposed struct {
	Proposal proposal.Proposal `json:"proposal"`
}

func (AdjustmentProposed) Topic() string { return TopicAdjustmentProposed }

// AdjustmentApplied reports a successfully executed proposal.
type AdjustmentApplied struct {
	ProposalID uuid.UUID       `json:"proposal_id"`
	PositionID uuid.UUID       `json:"position_id"`
	Action     proposal.Action `json:"action"`
}

func (AdjustmentApplied) Topic() string { return TopicAdjustmentApplied }

// AdjustmentFailed reports a terminally failed proposal.
type AdjustmentFailed struct {
	ProposalID uuid.UUID       `json:"proposal_id"`
	PositionID uuid.UUID       `json:"position_id"`
	Action     proposal.Action `json:"action"`
	Reason     string          `json:"reason"`
}

func (AdjustmentFailed) Topic() string { return TopicAdjustmentFailed }

// AlertRaised is a deduplicated, severity-tagged human-facing alert.
type AlertRaised struct {
	DedupKey   string    `json:"dedup_key"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	PositionID uuid.UUID `json:"position_id,omitzero"`
}

func (AlertRaised) Topic() string { return TopicAlertRaised }

// BusOverflow reports that a subscriber queue dropped its oldest event.
type BusOverflow struct {
	Subscriber string `json:"subscriber"`
	EventTopic string `json:"event_topic"`
	Dropped    uint64 `json:"dropped"`
}

func (BusOverflow) Topic() string { return TopicBusOverflow }

// PositionClosed is the terminal event for a position, emitted on behalf of
// the trading gateway.
type PositionClosed struct {
	PositionID uuid.UUID       `json:"position_id"`
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
}

func (PositionClosed) Topic() string { return TopicPositionClosed }

// PositionUpdated reports a gateway-confirmed change to a position's risk
// parameters, after the executor applied an adjustment.
type PositionUpdated struct {
	Position position.Position `json:"position"`
}

func (PositionUpdated) Topic() string { return TopicPositionUpdated }

// CircuitOpen reports the gateway circuit breaker opening.
type CircuitOpen struct {
	Until    time.Time `json:"until"`
	Failures int       `json:"failures"`
}

func (CircuitOpen) Topic() string { return TopicCircuitOpen }

// IsSignal reports whether a topic belongs to the signal.* namespace.
func IsSignal(topic string) bool {
	return strings.HasPrefix(topic, SignalPrefix)
}
