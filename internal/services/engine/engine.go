package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sentinel/internal/bus"
	"sentinel/internal/domain/event"
	"sentinel/internal/domain/position"
	"sentinel/internal/domain/proposal"
	"sentinel/internal/domain/risk"
	"sentinel/internal/domain/settings"
	"sentinel/internal/metrics"
	"sentinel/internal/state"
	"sentinel/pkg/errors"
	"sentinel/pkg/logger"
)

const source = "engine"

// WindowSource provides the recent price series used for ATR offsets.
type WindowSource interface {
	Window(symbol string) []float64
}

// Config holds engine tuning
type Config struct {
	SignalTTL         time.Duration
	MinSignalStrength float64
	InflightTimeout   time.Duration
}

// Engine evaluates risk snapshots and signals against the per-strategy
// settings and emits adjustment proposals. Rules are ordered by capital
// preservation; the first match wins.
type Engine struct {
	store    *state.Store
	bus      *bus.Bus
	settings *SettingsCache
	windows  WindowSource
	log      *logger.Logger

	minStrength float64
	signals     *signalCache
	inflightTTL time.Duration

	// inflight blocks a second proposal for a position until the executor
	// reports the first one applied or failed, or the entry ages out (the
	// outcome envelope can be lost to a queue drop). stale holds positions
	// flagged by risk.stale, cleared by the next risk.updated.
	mu       sync.Mutex
	inflight map[uuid.UUID]pendingProposal
	stale    map[uuid.UUID]struct{}

	subs []*bus.Subscription
}

// pendingProposal tracks one unsettled proposal for a position.
type pendingProposal struct {
	proposalID uuid.UUID
	since      time.Time
}

// New creates an optimization engine
func New(store *state.Store, b *bus.Bus, sc *SettingsCache, windows WindowSource, cfg Config) *Engine {
	if cfg.SignalTTL <= 0 {
		cfg.SignalTTL = 2 * time.Minute
	}
	if cfg.MinSignalStrength <= 0 {
		cfg.MinSignalStrength = 0.8
	}
	if cfg.InflightTimeout <= 0 {
		cfg.InflightTimeout = 30 * time.Second
	}

	return &Engine{
		store:       store,
		bus:         b,
		settings:    sc,
		windows:     windows,
		log:         logger.Get().With("component", "engine"),
		minStrength: cfg.MinSignalStrength,
		signals:     newSignalCache(cfg.SignalTTL),
		inflightTTL: cfg.InflightTimeout,
		inflight:    make(map[uuid.UUID]pendingProposal),
		stale:       make(map[uuid.UUID]struct{}),
	}
}

// Attach subscribes the engine to risk updates, signals and executor outcomes
func (e *Engine) Attach() {
	e.subs = []*bus.Subscription{
		e.bus.Subscribe("engine.risk", event.TopicRiskUpdated, e.onRiskUpdated),
		e.bus.Subscribe("engine.stale", event.TopicRiskStale, e.onStale),
		e.bus.Subscribe("engine.signals", event.SignalPrefix+"*", e.onSignal),
		e.bus.Subscribe("engine.applied", event.TopicAdjustmentApplied, e.onSettled),
		e.bus.Subscribe("engine.failed", event.TopicAdjustmentFailed, e.onSettled),
	}
}

// Detach removes all engine subscriptions
func (e *Engine) Detach() {
	for _, sub := range e.subs {
		e.bus.Unsubscribe(sub)
	}
	e.subs = nil
}

// Sweep drops expired signals and forgets unsettled proposals whose outcome
// never arrived, so those positions become eligible again.
func (e *Engine) Sweep(ctx context.Context) error {
	e.signals.sweep()

	cutoff := time.Now().Add(-e.inflightTTL)
	e.mu.Lock()
	for positionID, pending := range e.inflight {
		if pending.since.Before(cutoff) {
			delete(e.inflight, positionID)
			e.log.Warnf("Proposal %s for position %s never settled, unblocking", pending.proposalID, positionID)
		}
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) onRiskUpdated(ctx context.Context, env event.Envelope) {
	p, ok := env.Payload.(event.RiskUpdated)
	if !ok {
		return
	}

	// Fresh risk data ends any staleness episode for this position.
	e.mu.Lock()
	delete(e.stale, p.Snapshot.PositionID)
	e.mu.Unlock()

	e.evaluate(ctx, p.Snapshot.PositionID, env.ID)
}

// onStale freezes proposals for a position until risk data flows again
func (e *Engine) onStale(ctx context.Context, env event.Envelope) {
	p, ok := env.Payload.(event.RiskStale)
	if !ok {
		return
	}
	e.mu.Lock()
	e.stale[p.PositionID] = struct{}{}
	e.mu.Unlock()
}

func (e *Engine) onSignal(ctx context.Context, env event.Envelope) {
	s, ok := env.Payload.(event.Signal)
	if !ok {
		return
	}
	e.signals.put(s)

	for _, pos := range e.store.OpenPositionsBySymbol(s.Symbol) {
		e.evaluate(ctx, pos.ID, env.ID)
	}
}

// onSettled clears the inflight slot once the executor reports an outcome
func (e *Engine) onSettled(ctx context.Context, env event.Envelope) {
	var positionID, proposalID uuid.UUID
	switch p := env.Payload.(type) {
	case event.AdjustmentApplied:
		positionID, proposalID = p.PositionID, p.ProposalID
	case event.AdjustmentFailed:
		positionID, proposalID = p.PositionID, p.ProposalID
	default:
		return
	}

	e.mu.Lock()
	if e.inflight[positionID].proposalID == proposalID {
		delete(e.inflight, positionID)
	}
	e.mu.Unlock()
}

// evaluate runs the rule chain for one position and publishes the winning
// proposal. Stale positions and positions with an adjustment already in
// flight are skipped.
func (e *Engine) evaluate(ctx context.Context, positionID uuid.UUID, triggerID uuid.UUID) {
	e.mu.Lock()
	_, isStale := e.stale[positionID]
	pending, busy := e.inflight[positionID]
	if busy && time.Since(pending.since) > e.inflightTTL {
		// The outcome envelope was lost; do not hold the position hostage.
		delete(e.inflight, positionID)
		busy = false
	}
	e.mu.Unlock()
	if isStale || busy {
		return
	}

	pos, err := e.store.GetPosition(positionID)
	if err != nil || !pos.Status.IsOpen() {
		return
	}
	snap, err := e.store.GetSnapshot(positionID)
	if err != nil {
		return
	}
	tick, err := e.store.LastTick(pos.Symbol)
	if err != nil {
		return
	}

	cfg := e.settings.Get(pos.StrategyID)
	prop := e.decide(pos, snap, cfg, tick.Mid())

	metrics.ProposalsEmitted.WithLabelValues(prop.Action.String()).Inc()

	if !prop.Actionable() {
		return
	}

	e.mu.Lock()
	e.inflight[positionID] = pendingProposal{proposalID: prop.ID, since: time.Now()}
	e.mu.Unlock()

	e.log.Infow("Proposing adjustment",
		"position_id", pos.ID,
		"action", prop.Action,
		"rationale", prop.Rationale,
	)

	env := event.NewCorrelated(source, triggerID, event.AdjustmentProposed{Proposal: prop})
	if err := e.bus.Publish(env); err != nil {
		e.mu.Lock()
		delete(e.inflight, positionID)
		e.mu.Unlock()
		if !errors.Is(err, errors.ErrBusClosed) {
			e.log.Warnf("Failed to publish proposal for %s: %v", pos.ID, err)
		}
	}
}

// decide runs the rules in preservation order and returns the first match.
// When several rules fire on the same evaluation, the ordering below already
// agrees with Action.PreservationRank.
func (e *Engine) decide(pos position.Position, snap risk.Snapshot, cfg settings.AdaptiveSettings, mid decimal.Decimal) proposal.Proposal {
	ddCap := cfg.MaxDrawdownPct
	halfCap := ddCap.Div(decimal.NewFromInt(2))

	// Rule 1: drawdown breached the cap, close outright.
	if ddCap.GreaterThan(decimal.Zero) && snap.DrawdownPct.GreaterThanOrEqual(ddCap) {
		return proposal.New(pos.ID, pos.StrategyID, pos.Symbol, proposal.ActionClose,
			proposal.Params{},
			fmt.Sprintf("drawdown %s%% breached cap %s%%", snap.DrawdownPct.StringFixed(2), ddCap.StringFixed(2)),
			1.0, pos.Version)
	}

	// Rule 2: a strong signal against the position, cut exposure.
	if sig, ok := e.signals.strongest(pos.Symbol, pos.Side.Opposite(), e.minStrength); ok {
		return proposal.New(pos.ID, pos.StrategyID, pos.Symbol, proposal.ActionReduceVolume,
			proposal.Params{VolumeFactor: cfg.ReduceFactor},
			fmt.Sprintf("conflicting %s signal at %.2f: %s", sig.Producer, sig.Confidence, sig.Rationale),
			sig.Confidence, pos.Version)
	}

	// Rule 3: drawdown past half the cap, pull the stop in.
	if cfg.AutoSLEnabled && ddCap.GreaterThan(decimal.Zero) &&
		snap.DrawdownPct.GreaterThanOrEqual(halfCap) && snap.DrawdownPct.LessThan(ddCap) {
		if newSL, ok := e.tightenedStop(pos, mid); ok {
			ratio, _ := snap.DrawdownPct.Div(ddCap).Float64()
			return proposal.New(pos.ID, pos.StrategyID, pos.Symbol, proposal.ActionTightenSL,
				proposal.Params{StopLoss: newSL},
				fmt.Sprintf("drawdown %s%% past half of cap %s%%", snap.DrawdownPct.StringFixed(2), ddCap.StringFixed(2)),
				ratio, pos.Version)
		}
	}

	// Rule 4: a strong signal with the position, let the winner run. Never
	// extends the target while the stop distance already exceeds the
	// per-trade risk budget.
	if cfg.AutoTPEnabled && withinRiskBudget(pos, cfg.RiskPerTradePct) {
		if sig, ok := e.signals.strongest(pos.Symbol, pos.Side, e.minStrength); ok {
			if newTP, okTP := e.widenedTarget(pos, mid); okTP {
				return proposal.New(pos.ID, pos.StrategyID, pos.Symbol, proposal.ActionWidenTP,
					proposal.Params{TakeProfit: newTP},
					fmt.Sprintf("favorable %s signal at %.2f: %s", sig.Producer, sig.Confidence, sig.Rationale),
					sig.Confidence, pos.Version)
			}
		}
	}

	return proposal.New(pos.ID, pos.StrategyID, pos.Symbol, proposal.ActionNone,
		proposal.Params{}, "no rule matched", 0, pos.Version)
}

// tightenedStop derives the new stop as the more protective of breakeven and
// an ATR offset from the current price. Returns false when the candidate
// would not actually tighten the existing stop.
func (e *Engine) tightenedStop(pos position.Position, mid decimal.Decimal) (decimal.Decimal, bool) {
	atr := e.atr(pos.Symbol)
	if atr.IsZero() {
		return decimal.Zero, false
	}

	// The candidate is an ATR offset from the current price, pulled up to
	// breakeven when breakeven sits between the offset and the price.
	var newSL decimal.Decimal
	if pos.Side == position.Long {
		newSL = mid.Sub(atr)
		if be := pos.Breakeven(); be.LessThan(mid) && be.GreaterThan(newSL) {
			newSL = be
		}
		if !pos.StopLoss.IsZero() && newSL.LessThanOrEqual(pos.StopLoss) {
			return decimal.Zero, false
		}
		if newSL.GreaterThanOrEqual(mid) || newSL.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, false
		}
	} else {
		newSL = mid.Add(atr)
		if be := pos.Breakeven(); be.GreaterThan(mid) && be.LessThan(newSL) {
			newSL = be
		}
		if !pos.StopLoss.IsZero() && newSL.GreaterThanOrEqual(pos.StopLoss) {
			return decimal.Zero, false
		}
		if newSL.LessThanOrEqual(mid) {
			return decimal.Zero, false
		}
	}
	return newSL.Round(8), true
}

// widenedTarget extends the take profit by two ATRs from the current price.
// Returns false when that would not move the target outward.
func (e *Engine) widenedTarget(pos position.Position, mid decimal.Decimal) (decimal.Decimal, bool) {
	atr := e.atr(pos.Symbol)
	if atr.IsZero() {
		return decimal.Zero, false
	}
	offset := atr.Mul(decimal.NewFromInt(2))

	var newTP decimal.Decimal
	if pos.Side == position.Long {
		newTP = mid.Add(offset)
		if !pos.TakeProfit.IsZero() && newTP.LessThanOrEqual(pos.TakeProfit) {
			return decimal.Zero, false
		}
	} else {
		newTP = mid.Sub(offset)
		if newTP.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, false
		}
		if !pos.TakeProfit.IsZero() && newTP.GreaterThanOrEqual(pos.TakeProfit) {
			return decimal.Zero, false
		}
	}
	return newTP.Round(8), true
}

// withinRiskBudget reports whether the position's stop distance stays inside
// the per-trade risk budget. A position without a stop has unbounded risk
// and never qualifies.
func withinRiskBudget(pos position.Position, riskPerTradePct decimal.Decimal) bool {
	if pos.StopLoss.IsZero() || pos.EntryPrice.IsZero() || riskPerTradePct.LessThanOrEqual(decimal.Zero) {
		return false
	}
	stopRiskPct := pos.EntryPrice.Sub(pos.StopLoss).Abs().
		Div(pos.EntryPrice).Mul(decimal.NewFromInt(100))
	return stopRiskPct.LessThanOrEqual(riskPerTradePct)
}

func (e *Engine) atr(symbol string) decimal.Decimal {
	if e.windows == nil {
		return decimal.Zero
	}
	return risk.ATRFromTicks(e.windows.Window(symbol), risk.DefaultATRPeriod)
}
