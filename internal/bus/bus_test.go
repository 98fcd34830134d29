package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/domain/event"
	"sentinel/pkg/errors"
)

func tick(symbol string) event.Envelope {
	return event.New("test", event.PriceTick{
		Symbol: symbol,
		Bid:    decimal.NewFromInt(100),
		Ask:    decimal.NewFromInt(101),
		At:     time.Now().UTC(),
	})
}

// collector gathers delivered envelopes on a channel so tests can wait
// without polling.
type collector struct {
	ch chan event.Envelope
}

func newCollector(size int) *collector {
	return &collector{ch: make(chan event.Envelope, size)}
}

func (c *collector) handle(ctx context.Context, e event.Envelope) {
	c.ch <- e
}

func (c *collector) next(t *testing.T) event.Envelope {
	t.Helper()
	select {
	case e := <-c.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return event.Envelope{}
	}
}

func (c *collector) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case e := <-c.ch:
		t.Fatalf("unexpected event %s", e.Type)
	case <-time.After(wait):
	}
}

func TestBus_FIFOWithinSubscriber(t *testing.T) {
	b := New(16)
	col := newCollector(16)
	b.Subscribe("collector", event.TopicPriceTick, col.handle)

	require.NoError(t, b.Start(context.Background()))
	defer b.DrainAndStop(time.Second)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(tick("EURUSD")))
	}

	var lastSeq uint64
	for i := 0; i < 5; i++ {
		e := col.next(t)
		assert.Greater(t, e.Seq, lastSeq, "sequence must be monotonic within a subscriber")
		lastSeq = e.Seq
	}
}

func TestBus_PatternMatching(t *testing.T) {
	cases := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"price.tick", "price.tick", true},
		{"price.tick", "price.tickle", false},
		{"signal.*", "signal.whale", true},
		{"signal.*", "signal.pattern", true},
		{"signal.*", "signals.whale", false},
		{"signal.*", "signal", false},
		{"*", "anything.at.all", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, match(tc.pattern, tc.topic), "match(%q, %q)", tc.pattern, tc.topic)
	}
}

func TestBus_WildcardDelivery(t *testing.T) {
	b := New(16)
	signals := newCollector(16)
	everything := newCollector(16)
	b.Subscribe("signals", "signal.*", signals.handle)
	b.Subscribe("everything", "*", everything.handle)

	require.NoError(t, b.Start(context.Background()))
	defer b.DrainAndStop(time.Second)

	require.NoError(t, b.Publish(event.New("test", event.Signal{Producer: "whale", Symbol: "BTCUSDT"})))
	require.NoError(t, b.Publish(tick("BTCUSDT")))

	assert.Equal(t, "signal.whale", signals.next(t).Type)
	signals.expectNone(t, 100*time.Millisecond)

	types := map[string]bool{}
	types[everything.next(t).Type] = true
	types[everything.next(t).Type] = true
	assert.True(t, types["signal.whale"])
	assert.True(t, types[event.TopicPriceTick])
}

func TestBus_OverflowDropsOldestAndReports(t *testing.T) {
	b := New(2)

	slow := newCollector(8)
	b.Subscribe("slow", event.TopicPriceTick, slow.handle)
	overflow := newCollector(8)
	b.Subscribe("overflow_watch", event.TopicBusOverflow, overflow.handle)

	// Queue fills before the bus starts dispatching, forcing an eviction.
	require.NoError(t, b.Publish(tick("A")))
	require.NoError(t, b.Publish(tick("B")))
	require.NoError(t, b.Publish(tick("C")))

	sub := findSub(b, "slow")
	require.NotNil(t, sub)
	assert.Equal(t, uint64(1), sub.Dropped())

	require.NoError(t, b.Start(context.Background()))
	defer b.DrainAndStop(time.Second)

	// Oldest (A) was evicted; B and C survive in order.
	first := slow.next(t).Payload.(event.PriceTick)
	second := slow.next(t).Payload.(event.PriceTick)
	assert.Equal(t, "B", first.Symbol)
	assert.Equal(t, "C", second.Symbol)

	of := overflow.next(t).Payload.(event.BusOverflow)
	assert.Equal(t, "slow", of.Subscriber)
	assert.Equal(t, event.TopicPriceTick, of.EventTopic)
	assert.Equal(t, uint64(1), of.Dropped)
}

func TestBus_OverflowEventNotSelfReported(t *testing.T) {
	b := New(1)

	// Subscriber that overflows on bus.overflow events themselves must not
	// trigger a recursive overflow storm.
	b.Subscribe("meta", event.TopicBusOverflow, func(ctx context.Context, e event.Envelope) {})
	b.Subscribe("victim", event.TopicPriceTick, func(ctx context.Context, e event.Envelope) {})

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(tick("X")))
	}
	// Flooding bus.overflow directly must terminate even when the meta
	// subscriber's own queue drops.
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(event.New("test", event.BusOverflow{Subscriber: "victim"})))
	}
}

func TestBus_PanicIsolation(t *testing.T) {
	b := New(16)

	var healthy atomic.Int32
	b.Subscribe("panicky", event.TopicPriceTick, func(ctx context.Context, e event.Envelope) {
		panic("boom")
	})
	done := make(chan struct{})
	b.Subscribe("healthy", event.TopicPriceTick, func(ctx context.Context, e event.Envelope) {
		if healthy.Add(1) == 3 {
			close(done)
		}
	})

	require.NoError(t, b.Start(context.Background()))
	defer b.DrainAndStop(time.Second)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(tick("EURUSD")))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("healthy subscriber starved by panicking peer")
	}
	assert.Equal(t, int32(3), healthy.Load())
}

func TestBus_DrainAndStop(t *testing.T) {
	b := New(64)

	var handled atomic.Int32
	b.Subscribe("worker", event.TopicPriceTick, func(ctx context.Context, e event.Envelope) {
		handled.Add(1)
	})

	require.NoError(t, b.Start(context.Background()))
	for i := 0; i < 20; i++ {
		require.NoError(t, b.Publish(tick("EURUSD")))
	}

	require.NoError(t, b.DrainAndStop(2*time.Second))
	assert.Equal(t, int32(20), handled.Load(), "all queued events must be worked off before stop")

	err := b.Publish(tick("EURUSD"))
	assert.ErrorIs(t, err, errors.ErrBusClosed)

	// A second stop is a no-op.
	assert.NoError(t, b.DrainAndStop(time.Second))
}

func TestBus_SubscribeAfterStart(t *testing.T) {
	b := New(16)
	require.NoError(t, b.Start(context.Background()))
	defer b.DrainAndStop(time.Second)

	col := newCollector(4)
	b.Subscribe("late", event.TopicPriceTick, col.handle)

	require.NoError(t, b.Publish(tick("GBPUSD")))
	assert.Equal(t, event.TopicPriceTick, col.next(t).Type)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New(16)
	col := newCollector(4)
	sub := b.Subscribe("gone", event.TopicPriceTick, col.handle)

	require.NoError(t, b.Start(context.Background()))
	defer b.DrainAndStop(time.Second)

	b.Unsubscribe(sub)
	require.NoError(t, b.Publish(tick("EURUSD")))
	col.expectNone(t, 100*time.Millisecond)
}

func findSub(b *Bus, name string) *Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.name == name {
			return sub
		}
	}
	return nil
}
