package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/bus"
	"sentinel/internal/domain/event"
	"sentinel/internal/domain/position"
	"sentinel/internal/state"
)

type fixture struct {
	store   *state.Store
	bus     *bus.Bus
	monitor *Monitor

	updated chan event.Envelope
	stale   chan event.Envelope
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		store:   state.New(),
		bus:     bus.New(64),
		updated: make(chan event.Envelope, 16),
		stale:   make(chan event.Envelope, 16),
	}
	f.monitor = New(f.store, f.bus, nil, cfg)

	f.bus.Subscribe("test.updated", event.TopicRiskUpdated, func(ctx context.Context, e event.Envelope) {
		f.updated <- e
	})
	f.bus.Subscribe("test.stale", event.TopicRiskStale, func(ctx context.Context, e event.Envelope) {
		f.stale <- e
	})

	require.NoError(t, f.bus.Start(context.Background()))
	t.Cleanup(func() { f.bus.DrainAndStop(time.Second) })
	return f
}

func (f *fixture) openPosition(t *testing.T, symbol string, entry float64) position.Position {
	t.Helper()
	pos, err := f.store.UpsertPosition(position.Position{
		ID:         uuid.New(),
		StrategyID: uuid.New(),
		Symbol:     symbol,
		Side:       position.Long,
		Volume:     decimal.NewFromInt(1),
		EntryPrice: decimal.NewFromFloat(entry),
		Status:     position.Open,
		OpenedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	return pos
}

func (f *fixture) tick(symbol string, bid, ask float64) {
	env := event.New("test", event.PriceTick{
		Symbol: symbol,
		Bid:    decimal.NewFromFloat(bid),
		Ask:    decimal.NewFromFloat(ask),
		At:     time.Now().UTC(),
	})
	f.monitor.onTick(context.Background(), env)
}

func waitEvent(t *testing.T, ch chan event.Envelope) event.Envelope {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return event.Envelope{}
	}
}

func expectNone(t *testing.T, ch chan event.Envelope) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected %s event", e.Type)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestMonitor_TickDrivesSnapshot(t *testing.T) {
	f := newFixture(t, Config{})
	pos := f.openPosition(t, "EURUSD", 1.10)

	f.tick("EURUSD", 1.0554, 1.0566) // mid 1.056, 4% drawdown

	e := waitEvent(t, f.updated)
	payload := e.Payload.(event.RiskUpdated)
	assert.Equal(t, pos.ID, payload.Snapshot.PositionID)
	assert.True(t, payload.Snapshot.DrawdownPct.Sub(decimal.NewFromInt(4)).Abs().LessThan(decimal.NewFromFloat(0.01)),
		"drawdown = %s", payload.Snapshot.DrawdownPct)

	snap, err := f.store.GetSnapshot(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.ID, snap.PositionID)
}

func TestMonitor_NoiseSuppression(t *testing.T) {
	f := newFixture(t, Config{})
	f.openPosition(t, "EURUSD", 1.10)

	f.tick("EURUSD", 1.0554, 1.0566)
	waitEvent(t, f.updated)

	// A sub-0.1pp wiggle updates the stored snapshot but stays quiet.
	f.tick("EURUSD", 1.0555, 1.0567)
	expectNone(t, f.updated)

	// A full point of drawdown clears the threshold again.
	f.tick("EURUSD", 1.0444, 1.0456)
	waitEvent(t, f.updated)
}

func TestMonitor_SnapshotAlwaysStored(t *testing.T) {
	f := newFixture(t, Config{})
	pos := f.openPosition(t, "EURUSD", 1.10)

	f.tick("EURUSD", 1.0554, 1.0566)
	waitEvent(t, f.updated)
	first, err := f.store.GetSnapshot(pos.ID)
	require.NoError(t, err)

	f.tick("EURUSD", 1.0555, 1.0567)
	expectNone(t, f.updated)
	second, err := f.store.GetSnapshot(pos.ID)
	require.NoError(t, err)

	assert.False(t, second.ComputedAt.Before(first.ComputedAt))
	assert.False(t, second.DrawdownPct.Equal(first.DrawdownPct))
}

func TestMonitor_StalenessEdgeTriggered(t *testing.T) {
	f := newFixture(t, Config{StaleAfter: 50 * time.Millisecond})
	pos := f.openPosition(t, "EURUSD", 1.10)

	// No tick at all: the first sweep flags, the second stays quiet.
	require.NoError(t, f.monitor.Sweep(context.Background()))
	e := waitEvent(t, f.stale)
	payload := e.Payload.(event.RiskStale)
	assert.Equal(t, pos.ID, payload.PositionID)
	assert.True(t, f.monitor.IsStale(pos.ID))

	require.NoError(t, f.monitor.Sweep(context.Background()))
	expectNone(t, f.stale)

	// Fresh data clears the flag; going quiet again re-raises.
	f.tick("EURUSD", 1.0999, 1.1001)
	assert.False(t, f.monitor.IsStale(pos.ID))

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, f.monitor.Sweep(context.Background()))
	waitEvent(t, f.stale)
}

func TestMonitor_SweepRecomputesFreshPositions(t *testing.T) {
	f := newFixture(t, Config{StaleAfter: time.Minute})
	f.openPosition(t, "EURUSD", 1.10)

	f.tick("EURUSD", 1.0554, 1.0566)
	waitEvent(t, f.updated)

	// Price moved between ticks only via the stored tick; a sweep with the
	// same tick stays under the noise threshold.
	require.NoError(t, f.monitor.Sweep(context.Background()))
	expectNone(t, f.updated)
	expectNone(t, f.stale)
}

func TestMonitor_CorrelatedRiskFromWindows(t *testing.T) {
	f := newFixture(t, Config{PriceWindow: 64})
	btc := f.openPosition(t, "BTCUSDT", 50000)
	f.openPosition(t, "ETHUSDT", 3000)

	// Feed two series at a fixed price ratio so their returns match exactly
	// and the window correlation sits near 1.
	for i := 0; i < 20; i++ {
		bid := 49000 + float64(i)*20 + float64(i%3)*10
		f.tick("BTCUSDT", bid, bid+2)
		f.tick("ETHUSDT", bid/16, (bid+2)/16)
	}

	drain(f.updated)
	snap, err := f.store.GetSnapshot(btc.ID)
	require.NoError(t, err)
	assert.True(t, snap.CorrelationRisk.GreaterThan(decimal.NewFromFloat(0.5)),
		"correlation = %s", snap.CorrelationRisk)
}

func drain(ch chan event.Envelope) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
