package bus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sentinel/internal/domain/event"
	"sentinel/internal/metrics"
	"sentinel/pkg/errors"
	"sentinel/pkg/logger"
)

// DefaultQueueDepth is the per-subscriber bounded queue size.
const DefaultQueueDepth = 1000

// Handler processes one envelope on the subscriber's own dispatch goroutine.
// Handlers may block on I/O; a slow handler only delays its own queue.
type Handler func(ctx context.Context, e event.Envelope)

// Subscription is a handle to one registered subscriber.
type Subscription struct {
	id      uint64
	name    string
	pattern string
	handler Handler

	queue   chan event.Envelope
	dropped atomic.Uint64
	closed  atomic.Bool
}

// Name returns the subscriber name used in logs and metrics.
func (s *Subscription) Name() string { return s.name }

// Dropped returns how many events this subscriber's queue has dropped.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Bus is an in-process typed publish/subscribe router with bounded
// per-subscriber queues. It is constructed explicitly and injected into
// every component; there is no global instance.
type Bus struct {
	depth int
	log   *logger.Logger

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64

	seq atomic.Uint64

	runCtx  context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// New creates a bus with the given per-subscriber queue depth.
func New(depth int) *Bus {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Bus{
		depth: depth,
		log:   logger.Get().With("component", "bus"),
		subs:  make(map[uint64]*Subscription),
	}
}

// Subscribe registers a handler for all topics matching pattern.
// Patterns are an exact topic, a "prefix.*" wildcard, or "*" for everything.
// Safe to call before or after Start.
func (b *Bus) Subscribe(name, pattern string, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		name:    name,
		pattern: pattern,
		handler: h,
		queue:   make(chan event.Envelope, b.depth),
	}
	b.subs[sub.id] = sub

	if b.started.Load() {
		b.wg.Add(1)
		go b.dispatch(sub)
	}

	b.log.Infow("Subscriber registered", "subscriber", name, "pattern", pattern)
	return sub
}

// Unsubscribe removes a subscription and stops its dispatch loop.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	if sub.closed.CompareAndSwap(false, true) {
		close(sub.queue)
	}
}

// Publish routes an envelope to every matching subscriber without blocking.
// When a subscriber's queue is full its oldest event is dropped and a
// bus.overflow event is emitted on the publisher's behalf.
func (b *Bus) Publish(e event.Envelope) error {
	if b.closed.Load() {
		return errors.ErrBusClosed
	}

	e.Seq = b.seq.Add(1)
	metrics.EventsPublished.WithLabelValues(e.Type).Inc()

	var overflows []event.Envelope

	b.mu.RLock()
	for _, sub := range b.subs {
		if !match(sub.pattern, e.Type) {
			continue
		}
		if b.enqueue(sub, e) {
			continue
		}
		// Overflow events are never re-reported; one storm is enough.
		if e.Type != event.TopicBusOverflow {
			overflows = append(overflows, event.New("bus", event.BusOverflow{
				Subscriber: sub.name,
				EventTopic: e.Type,
				Dropped:    sub.dropped.Load(),
			}))
		}
	}
	b.mu.RUnlock()

	for _, of := range overflows {
		if err := b.Publish(of); err != nil {
			break
		}
	}
	return nil
}

// enqueue attempts a non-blocking send, evicting the oldest queued event
// once when full. Reports whether the event landed without an eviction.
func (b *Bus) enqueue(sub *Subscription, e event.Envelope) bool {
	if sub.closed.Load() {
		return true
	}
	select {
	case sub.queue <- e:
		return true
	default:
	}

	// Queue full: drop the head so the newest event is never lost.
	select {
	case <-sub.queue:
	default:
	}
	sub.dropped.Add(1)
	metrics.EventsDropped.WithLabelValues(sub.name).Inc()
	b.log.Warnw("Subscriber queue overflow, dropped oldest event",
		"subscriber", sub.name,
		"topic", e.Type,
		"dropped_total", sub.dropped.Load(),
	)

	select {
	case sub.queue <- e:
	default:
		// Racing consumers emptied and refilled the queue; the event is
		// lost, which the overflow counter already accounts for.
	}
	return false
}

// Start launches one dispatch goroutine per subscription.
func (b *Bus) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return errors.Wrap(errors.ErrInternal, "bus already started")
	}
	b.runCtx, b.cancel = context.WithCancel(ctx)

	b.mu.RLock()
	for _, sub := range b.subs {
		b.wg.Add(1)
		go b.dispatch(sub)
	}
	count := len(b.subs)
	b.mu.RUnlock()

	b.log.Infow("Bus started", "subscribers", count, "queue_depth", b.depth)
	return nil
}

// DrainAndStop rejects new publishes, lets subscribers work off their
// queues, and stops. Queues still holding events after the timeout are
// abandoned.
func (b *Bus) DrainAndStop(timeout time.Duration) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	for _, sub := range b.subs {
		if sub.closed.CompareAndSwap(false, true) {
			close(sub.queue)
		}
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		b.log.Info("Bus drained")
	case <-time.After(timeout):
		err = errors.Wrapf(errors.ErrTimeout, "bus drain after %s", timeout)
		b.log.Warnw("Bus drain timed out", "timeout", timeout)
	}

	if b.cancel != nil {
		b.cancel()
	}
	return err
}

// dispatch delivers queued envelopes to one subscriber until its queue
// closes. FIFO order within the subscription is guaranteed by the single
// goroutine.
func (b *Bus) dispatch(sub *Subscription) {
	defer b.wg.Done()

	for {
		select {
		case e, ok := <-sub.queue:
			if !ok {
				return
			}
			b.handle(sub, e)
		case <-b.runCtx.Done():
			return
		}
	}
}

// handle invokes the handler, isolating panics so one broken subscriber
// never stalls the rest of the bus.
func (b *Bus) handle(sub *Subscription, e event.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.WithLabelValues(sub.name).Inc()
			b.log.Errorw("Subscriber handler panicked",
				"subscriber", sub.name,
				"topic", e.Type,
				"panic", r,
			)
		}
	}()
	sub.handler(b.runCtx, e)
}

// match reports whether a topic matches a subscription pattern.
func match(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(topic, prefix+".")
	}
	return pattern == topic
}
