package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/bus"
	"sentinel/internal/domain/event"
	"sentinel/internal/domain/risk"
	"sentinel/internal/metrics"
	"sentinel/internal/state"
	"sentinel/pkg/errors"
	"sentinel/pkg/logger"
)

const source = "monitor"

// Monitor recomputes per-position risk snapshots. Ticks drive recomputation
// for the affected symbol immediately; the interval sweep covers positions
// whose symbols have gone quiet and raises staleness.
type Monitor struct {
	store *state.Store
	bus   *bus.Bus
	corr  risk.CorrelationSource
	log   *logger.Logger

	staleAfter    time.Duration
	varConfidence float64

	windows *windowSet

	// staleFlagged tracks positions already reported stale, so risk.stale
	// fires on the transition rather than every sweep.
	mu           sync.Mutex
	staleFlagged map[uuid.UUID]struct{}

	sub *bus.Subscription
}

// Config holds monitor tuning
type Config struct {
	StaleAfter    time.Duration
	PriceWindow   int
	VaRConfidence float64
}

// New creates a position monitor
func New(store *state.Store, b *bus.Bus, corr risk.CorrelationSource, cfg Config) *Monitor {
	if cfg.PriceWindow <= 0 {
		cfg.PriceWindow = 256
	}
	if cfg.VaRConfidence <= 0 || cfg.VaRConfidence >= 1 {
		cfg.VaRConfidence = 0.95
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Second
	}

	m := &Monitor{
		store:         store,
		bus:           b,
		corr:          corr,
		log:           logger.Get().With("component", "monitor"),
		staleAfter:    cfg.StaleAfter,
		varConfidence: cfg.VaRConfidence,
		windows:       newWindowSet(cfg.PriceWindow),
		staleFlagged:  make(map[uuid.UUID]struct{}),
	}
	if m.corr == nil {
		m.corr = windowCorrelation{windows: m.windows}
	}
	return m
}

// Attach subscribes the monitor to price ticks
func (m *Monitor) Attach() {
	m.sub = m.bus.Subscribe("monitor", event.TopicPriceTick, m.onTick)
}

// Detach removes the tick subscription
func (m *Monitor) Detach() {
	if m.sub != nil {
		m.bus.Unsubscribe(m.sub)
	}
}

// Window returns the recent mid-price series for a symbol, oldest first.
func (m *Monitor) Window(symbol string) []float64 {
	return m.windows.values(symbol)
}

func (m *Monitor) onTick(ctx context.Context, e event.Envelope) {
	tick, ok := e.Payload.(event.PriceTick)
	if !ok {
		return
	}

	mid := tick.Mid()
	m.store.SetTick(state.Tick{Symbol: tick.Symbol, Bid: tick.Bid, Ask: tick.Ask, At: tick.At})
	midF, _ := mid.Float64()
	m.windows.push(tick.Symbol, midF)

	// Fresh data clears the stale edge for this symbol's positions.
	m.clearStale(tick.Symbol)

	for _, pos := range m.store.OpenPositionsBySymbol(tick.Symbol) {
		m.recompute(ctx, pos.ID, e.ID)
	}
}

// Sweep recomputes every open position and raises staleness transitions.
// The scheduler calls this on a fixed interval as a fallback for symbols
// without tick flow.
func (m *Monitor) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	staleCount := 0

	for _, pos := range m.store.ListOpenPositions() {
		tick, err := m.store.LastTick(pos.Symbol)
		if err != nil || now.Sub(tick.At) > m.staleAfter {
			staleCount++
			m.flagStale(ctx, pos.ID, pos.Symbol, tick.At)
			continue
		}
		m.recompute(ctx, pos.ID, uuid.Nil)
	}

	metrics.StalePositions.Set(float64(staleCount))
	return nil
}

// recompute builds a fresh snapshot for one position and publishes
// risk.updated when the change clears the noise threshold.
func (m *Monitor) recompute(ctx context.Context, positionID uuid.UUID, triggerID uuid.UUID) {
	pos, err := m.store.GetPosition(positionID)
	if err != nil {
		return
	}
	tick, err := m.store.LastTick(pos.Symbol)
	if err != nil {
		return
	}

	snap := risk.Snapshot{
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		DrawdownPct: pos.DrawdownPct(tick.Mid()),
		VaR95:       risk.HistoricalVaR(m.windows.values(pos.Symbol), pos.Exposure(), m.varConfidence),
		ComputedAt:  time.Now().UTC(),
	}
	if m.corr != nil {
		snap.CorrelationRisk = risk.MaxPairwiseCorrelation(ctx, m.corr, pos.Symbol, m.store.OpenSymbols())
	}

	prev, err := m.store.GetSnapshot(pos.ID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return
	}

	m.store.UpsertSnapshot(snap)
	metrics.SnapshotsComputed.Inc()

	if !snap.ChangedBeyondNoise(prev) {
		return
	}

	env := event.New(source, event.RiskUpdated{Snapshot: snap})
	if triggerID != uuid.Nil {
		env.CorrelationID = triggerID
	}
	if err := m.bus.Publish(env); err != nil && !errors.Is(err, errors.ErrBusClosed) {
		m.log.Warnf("Failed to publish risk update for %s: %v", pos.ID, err)
	}
}

func (m *Monitor) flagStale(ctx context.Context, positionID uuid.UUID, symbol string, lastTick time.Time) {
	m.mu.Lock()
	_, already := m.staleFlagged[positionID]
	if !already {
		m.staleFlagged[positionID] = struct{}{}
	}
	m.mu.Unlock()

	if already {
		return
	}

	m.log.Warnw("Position data stale", "position_id", positionID, "symbol", symbol, "last_tick", lastTick)
	err := m.bus.Publish(event.New(source, event.RiskStale{
		PositionID: positionID,
		Symbol:     symbol,
		LastTick:   lastTick,
	}))
	if err != nil && !errors.Is(err, errors.ErrBusClosed) {
		m.log.Warnf("Failed to publish staleness for %s: %v", positionID, err)
	}
}

func (m *Monitor) clearStale(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pos := range m.store.OpenPositionsBySymbol(symbol) {
		delete(m.staleFlagged, pos.ID)
	}
}

// IsStale reports whether a position is currently flagged stale.
func (m *Monitor) IsStale(positionID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.staleFlagged[positionID]
	return ok
}
