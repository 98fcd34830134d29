package executor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"sentinel/internal/adapters/gateway"
	"sentinel/internal/bus"
	"sentinel/internal/domain/event"
	"sentinel/internal/domain/position"
	"sentinel/internal/domain/proposal"
	"sentinel/internal/metrics"
	"sentinel/internal/state"
	"sentinel/pkg/errors"
	"sentinel/pkg/logger"
)

const source = "executor"

// Config holds executor tuning
type Config struct {
	MaxRetries  int
	BackoffBase time.Duration
}

// Executor applies adjustment proposals against the trading gateway.
// Application is idempotent by proposal ID; transient gateway failures are
// retried with exponential backoff and feed the circuit breaker.
type Executor struct {
	store   *state.Store
	bus     *bus.Bus
	gw      gateway.Gateway
	idem    IdempotencyStore
	breaker *CircuitBreaker
	kill    KillSwitch
	log     *logger.Logger

	maxRetries  int
	backoffBase time.Duration

	sub *bus.Subscription

	// sleep is swapped in tests to skip real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an adaptive action executor. kill may be nil when no
// operator-controlled halt is configured.
func New(store *state.Store, b *bus.Bus, gw gateway.Gateway, idem IdempotencyStore, breaker *CircuitBreaker, kill KillSwitch, cfg Config) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}

	return &Executor{
		store:       store,
		bus:         b,
		gw:          gw,
		idem:        idem,
		breaker:     breaker,
		kill:        kill,
		log:         logger.Get().With("component", "executor"),
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		sleep:       sleepCtx,
	}
}

// Attach subscribes the executor to proposals
func (x *Executor) Attach() {
	x.sub = x.bus.Subscribe("executor", event.TopicAdjustmentProposed, x.onProposed)
}

// Detach removes the proposal subscription
func (x *Executor) Detach() {
	if x.sub != nil {
		x.bus.Unsubscribe(x.sub)
	}
}

func (x *Executor) onProposed(ctx context.Context, env event.Envelope) {
	p, ok := env.Payload.(event.AdjustmentProposed)
	if !ok {
		return
	}
	if err := x.Apply(ctx, p.Proposal); err != nil {
		x.log.Warnf("Proposal %s not applied: %v", p.Proposal.ID, err)
	}
}

// Apply executes one proposal end to end. A proposal already claimed by a
// previous delivery is skipped silently.
func (x *Executor) Apply(ctx context.Context, prop proposal.Proposal) error {
	if !prop.Actionable() {
		return nil
	}

	claimed, err := x.idem.Claim(ctx, prop.ID)
	if err != nil {
		return errors.Wrap(err, "idempotency claim failed")
	}
	if !claimed {
		x.log.Debugf("Proposal %s already applied, skipping", prop.ID)
		return nil
	}

	if x.kill != nil && x.kill.Engaged(ctx) {
		_ = x.idem.Release(ctx, prop.ID)
		x.fail(ctx, prop, "kill switch engaged")
		return errors.ErrKillSwitch
	}

	if !x.breaker.Allow() {
		// Nothing reached the gateway; free the claim so a redelivery can
		// retry after the circuit settles.
		_ = x.idem.Release(ctx, prop.ID)
		x.fail(ctx, prop, "gateway circuit open")
		return errors.ErrCircuitOpen
	}

	pos, err := x.store.GetPosition(prop.PositionID)
	if err != nil {
		_ = x.idem.Release(ctx, prop.ID)
		x.fail(ctx, prop, "position no longer tracked")
		return errors.Wrap(errors.ErrInvalidPosition, prop.PositionID.String())
	}
	if pos.Version != prop.PositionVersion {
		// The position moved since the engine evaluated it; the next risk
		// update will produce a fresh proposal.
		_ = x.idem.Release(ctx, prop.ID)
		x.fail(ctx, prop, "position changed since evaluation")
		return errors.Wrapf(errors.ErrConflict, "position %s moved from version %d", pos.ID, prop.PositionVersion)
	}

	if err := x.validate(prop); err != nil {
		_ = x.idem.Release(ctx, prop.ID)
		x.fail(ctx, prop, err.Error())
		return err
	}

	if err := x.callGateway(ctx, prop, pos); err != nil {
		x.fail(ctx, prop, err.Error())
		return err
	}
	x.breaker.RecordSuccess()

	if err := x.settle(ctx, prop, pos); err != nil {
		x.fail(ctx, prop, "state conflict while persisting adjustment")
		return err
	}

	metrics.AdjustmentsApplied.WithLabelValues(prop.Action.String()).Inc()
	x.log.Infow("Adjustment applied",
		"proposal_id", prop.ID,
		"position_id", prop.PositionID,
		"action", prop.Action,
	)

	return x.publish(event.NewCorrelated(source, prop.ID, event.AdjustmentApplied{
		ProposalID: prop.ID,
		PositionID: prop.PositionID,
		Action:     prop.Action,
	}))
}

// validate rejects proposals with unusable parameters before any network call
func (x *Executor) validate(prop proposal.Proposal) error {
	one := decimal.NewFromInt(1)
	switch prop.Action {
	case proposal.ActionReduceVolume:
		f := prop.Params.VolumeFactor
		if f.LessThanOrEqual(decimal.Zero) || f.GreaterThanOrEqual(one) {
			return errors.Wrapf(errors.ErrInvalidInput, "volume factor %s out of (0,1)", f)
		}
	case proposal.ActionTightenSL:
		if prop.Params.StopLoss.LessThanOrEqual(decimal.Zero) {
			return errors.Wrap(errors.ErrInvalidInput, "tighten_sl without a stop price")
		}
	case proposal.ActionWidenTP:
		if prop.Params.TakeProfit.LessThanOrEqual(decimal.Zero) {
			return errors.Wrap(errors.ErrInvalidInput, "widen_tp without a target price")
		}
	}
	return nil
}

// callGateway issues the venue call with retry on transient errors
func (x *Executor) callGateway(ctx context.Context, prop proposal.Proposal, pos position.Position) error {
	key := prop.ID.String()

	var lastErr error
	for attempt := 0; attempt <= x.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := x.backoffBase << (attempt - 1)
			if err := x.sleep(ctx, backoff); err != nil {
				return err
			}
		}

		lastErr = x.call(ctx, key, prop, pos)
		if lastErr == nil {
			return nil
		}
		if !errors.IsTransient(lastErr) {
			return lastErr
		}

		if x.breaker.RecordFailure() {
			until := x.breaker.OpenUntil()
			x.log.Warnw("Gateway circuit opened", "until", until)
			_ = x.publish(event.New(source, event.CircuitOpen{Until: until, Failures: x.breaker.FailureCount()}))
			return errors.Wrap(errors.ErrCircuitOpen, lastErr.Error())
		}

		x.log.Warnf("Gateway call failed (attempt %d/%d): %v", attempt+1, x.maxRetries+1, lastErr)
	}
	return lastErr
}

func (x *Executor) call(ctx context.Context, key string, prop proposal.Proposal, pos position.Position) error {
	switch prop.Action {
	case proposal.ActionClose:
		return x.gw.ClosePosition(ctx, key, pos.ID)
	case proposal.ActionReduceVolume:
		newVolume := pos.Volume.Mul(prop.Params.VolumeFactor)
		return x.gw.ModifyPosition(ctx, key, pos.ID, gateway.Modification{Volume: &newVolume})
	case proposal.ActionTightenSL:
		sl := prop.Params.StopLoss
		return x.gw.ModifyPosition(ctx, key, pos.ID, gateway.Modification{StopLoss: &sl})
	case proposal.ActionWidenTP:
		tp := prop.Params.TakeProfit
		return x.gw.ModifyPosition(ctx, key, pos.ID, gateway.Modification{TakeProfit: &tp})
	default:
		return errors.Wrapf(errors.ErrInvalidInput, "unexpected action %s", prop.Action)
	}
}

// settle folds the confirmed change back into the state store and announces
// it. The CAS write is retried once on conflict against a fresh read; the
// gateway already accepted the change, so losing the race to another writer
// must not lose the mutation.
func (x *Executor) settle(ctx context.Context, prop proposal.Proposal, pos position.Position) error {
	if prop.Action == proposal.ActionClose {
		price := x.lastPrice(pos.Symbol)
		x.store.RemovePosition(pos.ID)
		return x.publish(event.NewCorrelated(source, prop.ID, event.PositionClosed{
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Price:      price,
		}))
	}

	mutate := func(p position.Position) position.Position {
		switch prop.Action {
		case proposal.ActionReduceVolume:
			p.Volume = p.Volume.Mul(prop.Params.VolumeFactor)
		case proposal.ActionTightenSL:
			p.StopLoss = prop.Params.StopLoss
		case proposal.ActionWidenTP:
			p.TakeProfit = prop.Params.TakeProfit
		}
		return p
	}

	updated, err := x.store.UpsertPosition(mutate(pos))
	if errors.Is(err, errors.ErrConflict) {
		fresh, getErr := x.store.GetPosition(pos.ID)
		if getErr != nil {
			return getErr
		}
		updated, err = x.store.UpsertPosition(mutate(fresh))
	}
	if err != nil {
		return errors.Wrap(err, "failed to persist adjustment")
	}

	return x.publish(event.NewCorrelated(source, prop.ID, event.PositionUpdated{Position: updated}))
}

func (x *Executor) fail(ctx context.Context, prop proposal.Proposal, reason string) {
	metrics.AdjustmentsFailed.WithLabelValues(prop.Action.String()).Inc()
	_ = x.publish(event.NewCorrelated(source, prop.ID, event.AdjustmentFailed{
		ProposalID: prop.ID,
		PositionID: prop.PositionID,
		Action:     prop.Action,
		Reason:     reason,
	}))
}

func (x *Executor) publish(env event.Envelope) error {
	err := x.bus.Publish(env)
	if err != nil && !errors.Is(err, errors.ErrBusClosed) {
		x.log.Warnf("Failed to publish %s: %v", env.Type, err)
		return err
	}
	return nil
}

func (x *Executor) lastPrice(symbol string) decimal.Decimal {
	if tick, err := x.store.LastTick(symbol); err == nil {
		return tick.Mid()
	}
	return decimal.Zero
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
