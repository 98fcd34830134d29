package engine

import (
	"sync"
	"time"

	"sentinel/internal/domain/event"
	"sentinel/internal/domain/position"
)

// cachedSignal is a signal plus its arrival time for TTL expiry.
type cachedSignal struct {
	signal event.Signal
	at     time.Time
}

// signalCache holds the latest signal per (symbol, producer). Signals decay
// after the TTL; an old signal must not drive a new adjustment.
type signalCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	signals map[string]map[string]cachedSignal // symbol -> producer -> signal
}

func newSignalCache(ttl time.Duration) *signalCache {
	return &signalCache{
		ttl:     ttl,
		signals: make(map[string]map[string]cachedSignal),
	}
}

func (c *signalCache) put(s event.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bySymbol, ok := c.signals[s.Symbol]
	if !ok {
		bySymbol = make(map[string]cachedSignal)
		c.signals[s.Symbol] = bySymbol
	}
	bySymbol[s.Producer] = cachedSignal{signal: s, at: time.Now()}
}

// strongest returns the live signal with the highest confidence pointing in
// the given direction, or false when none qualifies.
func (c *signalCache) strongest(symbol string, direction position.Side, minConfidence float64) (event.Signal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best event.Signal
	found := false
	cutoff := time.Now().Add(-c.ttl)

	for _, cs := range c.signals[symbol] {
		if cs.at.Before(cutoff) {
			continue
		}
		s := cs.signal
		if s.Direction != direction || s.Confidence < minConfidence {
			continue
		}
		if !found || s.Confidence > best.Confidence {
			best = s
			found = true
		}
	}
	return best, found
}

// sweep drops expired signals. Called by the scheduler, not the hot path.
func (c *signalCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.ttl)
	for symbol, bySymbol := range c.signals {
		for producer, cs := range bySymbol {
			if cs.at.Before(cutoff) {
				delete(bySymbol, producer)
			}
		}
		if len(bySymbol) == 0 {
			delete(c.signals, symbol)
		}
	}
}
