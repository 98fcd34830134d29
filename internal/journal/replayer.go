package journal

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/adapters/kafka"
	"sentinel/internal/domain/event"
	"sentinel/internal/state"
	"sentinel/pkg/errors"
	"sentinel/pkg/logger"
)

// Replayer rebuilds the in-memory state store from the journal topic.
// Events are applied in log order; duplicates (the journal is at-least-once)
// are skipped by event ID.
type Replayer struct {
	consumer *kafka.Consumer
	store    *state.Store
	log      *logger.Logger

	seen map[uuid.UUID]struct{}
}

// NewReplayer creates a replayer over a journal consumer
func NewReplayer(consumer *kafka.Consumer, store *state.Store) *Replayer {
	return &Replayer{
		consumer: consumer,
		store:    store,
		log:      logger.Get().With("component", "journal_replayer"),
		seen:     make(map[uuid.UUID]struct{}),
	}
}

// Replay consumes the journal until it is drained, applying state-bearing
// events to the store. Drained means no message arrives within idleTimeout.
func (r *Replayer) Replay(ctx context.Context, idleTimeout time.Duration) (int, error) {
	applied := 0
	started := time.Now()

	for {
		readCtx, cancel := context.WithTimeout(ctx, idleTimeout)
		msg, err := r.consumer.ReadMessage(readCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				r.log.Infof("Replay complete: %d events applied in %s", applied, time.Since(started))
				return applied, nil
			}
			if ctx.Err() != nil {
				return applied, ctx.Err()
			}
			return applied, errors.Wrap(err, "failed to read journal")
		}

		e, err := event.Unmarshal(msg.Value)
		if err != nil {
			r.log.Warnf("Skipping undecodable journal record at offset %d: %v", msg.Offset, err)
			continue
		}

		if _, dup := r.seen[e.ID]; dup {
			continue
		}
		r.seen[e.ID] = struct{}{}

		if r.apply(e) {
			applied++
		}
	}
}

// apply folds one event into the store. Only state-bearing events matter;
// proposals, alerts and ticks are derived data and recompute naturally.
func (r *Replayer) apply(e event.Envelope) bool {
	switch p := e.Payload.(type) {
	case event.PositionUpdated:
		r.store.RestorePosition(p.Position)
		return true
	case event.PositionClosed:
		r.store.RemovePosition(p.PositionID)
		return true
	case event.RiskUpdated:
		r.store.UpsertSnapshot(p.Snapshot)
		return true
	default:
		return false
	}
}
