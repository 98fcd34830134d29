package signals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/bus"
	"sentinel/internal/domain/event"
	"sentinel/internal/domain/position"
	"sentinel/pkg/errors"
)

func newTestRegistry(t *testing.T) (*Registry, chan event.Signal) {
	t.Helper()

	b := bus.New(16)
	got := make(chan event.Signal, 8)
	b.Subscribe("test.signals", event.SignalPrefix+"*", func(ctx context.Context, e event.Envelope) {
		got <- e.Payload.(event.Signal)
	})
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { b.DrainAndStop(time.Second) })

	return NewRegistry(b), got
}

func waitSignal(t *testing.T, ch chan event.Signal) event.Signal {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
		return event.Signal{}
	}
}

func TestRegistry_DuplicateProducerRejected(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.NoError(t, r.Register(NewWhaleAdapter()))
	err := r.Register(NewWhaleAdapter())
	assert.ErrorIs(t, err, errors.ErrConflict)

	assert.Equal(t, []string{"whale"}, r.Producers())
}

func TestRegistry_UnknownProducerDroppedSilently(t *testing.T) {
	r, got := newTestRegistry(t)

	err := r.Ingest(context.Background(), "astrology", []byte(`{"symbol":"BTCUSDT"}`))
	assert.NoError(t, err, "operator wiring mistakes must not error the intake path")

	select {
	case s := <-got:
		t.Fatalf("unexpected signal from %s", s.Producer)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegistry_IngestPublishesTranslatedSignal(t *testing.T) {
	r, got := newTestRegistry(t)
	require.NoError(t, r.Register(NewWhaleAdapter()))

	raw := []byte(`{"symbol":"BTCUSDT","direction":"inflow","amount_usd":"5000000","daily_avg_usd":"1000000"}`)
	require.NoError(t, r.Ingest(context.Background(), "whale", raw))

	sig := waitSignal(t, got)
	assert.Equal(t, "whale", sig.Producer)
	assert.Equal(t, "BTCUSDT", sig.Symbol)
	assert.Equal(t, position.Short, sig.Direction, "exchange inflow reads as sell pressure")
	assert.InDelta(t, 0.95, sig.Confidence, 1e-9, "confidence capped at 0.95")
}

func TestRegistry_InvalidPayloadErrors(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Register(NewWhaleAdapter()))

	err := r.Ingest(context.Background(), "whale", []byte(`{"symbol":"","direction":"inflow"}`))
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestWhaleAdapter_Translate(t *testing.T) {
	a := NewWhaleAdapter()

	t.Run("outflow is accumulation", func(t *testing.T) {
		sig, err := a.Translate([]byte(`{"symbol":"ETHUSDT","direction":"outflow","amount_usd":"2000000","daily_avg_usd":"1000000"}`))
		require.NoError(t, err)
		assert.Equal(t, position.Long, sig.Direction)
		assert.InDelta(t, 0.7, sig.Confidence, 1e-9)
	})

	t.Run("missing daily average falls back to base confidence", func(t *testing.T) {
		sig, err := a.Translate([]byte(`{"symbol":"ETHUSDT","direction":"inflow","amount_usd":"2000000"}`))
		require.NoError(t, err)
		assert.InDelta(t, 0.5, sig.Confidence, 1e-9)
	})

	t.Run("unknown direction rejected", func(t *testing.T) {
		_, err := a.Translate([]byte(`{"symbol":"ETHUSDT","direction":"sideways","amount_usd":"1"}`))
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
	})
}

func TestPatternAdapter_Translate(t *testing.T) {
	a := NewPatternAdapter()

	t.Run("bearish pattern shorts", func(t *testing.T) {
		sig, err := a.Translate([]byte(`{"symbol":"EURUSD","pattern":"head_and_shoulders","bias":"bearish","confidence":0.83}`))
		require.NoError(t, err)
		assert.Equal(t, position.Short, sig.Direction)
		assert.Equal(t, 0.83, sig.Confidence)
	})

	t.Run("confidence out of range rejected", func(t *testing.T) {
		_, err := a.Translate([]byte(`{"symbol":"EURUSD","pattern":"flag","bias":"bullish","confidence":1.4}`))
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
	})

	t.Run("missing pattern rejected", func(t *testing.T) {
		_, err := a.Translate([]byte(`{"symbol":"EURUSD","bias":"bullish","confidence":0.9}`))
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
	})
}
