package state

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sentinel/internal/domain/position"
	"sentinel/internal/domain/risk"
	"sentinel/pkg/errors"
)

// Tick is the last known price sample for a symbol.
type Tick struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	At     time.Time
}

// Mid returns the bid/ask midpoint.
func (t Tick) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// Store is the single source of truth for current positions, risk snapshots
// and last-known prices. All reads return copies; position writes go through
// a compare-and-swap on the version counter, so concurrent writers fail with
// ErrConflict instead of silently clobbering each other.
type Store struct {
	mu        sync.RWMutex
	positions map[uuid.UUID]position.Position
	snapshots map[uuid.UUID]risk.Snapshot
	ticks     map[string]Tick
}

// New creates an empty store.
func New() *Store {
	return &Store{
		positions: make(map[uuid.UUID]position.Position),
		snapshots: make(map[uuid.UUID]risk.Snapshot),
		ticks:     make(map[string]Tick),
	}
}

// GetPosition returns a copy of the position, or ErrNotFound.
func (s *Store) GetPosition(id uuid.UUID) (position.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[id]
	if !ok {
		return position.Position{}, errors.ErrNotFound
	}
	return pos, nil
}

// UpsertPosition writes a position record. The submitted Version must match
// the stored one (zero for a new record); on success the stored version is
// bumped. A mismatch returns ErrConflict and leaves the record untouched.
func (s *Store) UpsertPosition(pos position.Position) (position.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.positions[pos.ID]
	if exists && current.Version != pos.Version {
		return position.Position{}, errors.Wrapf(errors.ErrConflict,
			"position %s at version %d, write submitted %d", pos.ID, current.Version, pos.Version)
	}

	pos.Version++
	s.positions[pos.ID] = pos
	return pos, nil
}

// RestorePosition writes a position record as-is, preserving its version.
// Only the journal replayer uses this; live writers go through
// UpsertPosition and its version check.
func (s *Store) RestorePosition(pos position.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.ID] = pos
}

// RemovePosition deletes a position and its snapshot. Used when a terminal
// position.closed event arrives.
func (s *Store) RemovePosition(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, id)
	delete(s.snapshots, id)
}

// GetSnapshot returns a copy of the latest risk snapshot, or ErrNotFound.
func (s *Store) GetSnapshot(positionID uuid.UUID) (risk.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[positionID]
	if !ok {
		return risk.Snapshot{}, errors.ErrNotFound
	}
	return snap, nil
}

// UpsertSnapshot fully replaces the previous snapshot for a position.
// Single writer (the monitor), so no version check.
func (s *Store) UpsertSnapshot(snap risk.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.PositionID] = snap
}

// ListOpenPositions returns copies of all open positions, ordered by
// opening time for deterministic iteration.
func (s *Store) ListOpenPositions() []position.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]position.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		if pos.Status.IsOpen() {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// OpenPositionsBySymbol returns copies of open positions for one symbol.
func (s *Store) OpenPositionsBySymbol(symbol string) []position.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []position.Position
	for _, pos := range s.positions {
		if pos.Status.IsOpen() && pos.Symbol == symbol {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// OpenSymbols returns the distinct symbols with at least one open position.
func (s *Store) OpenSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, pos := range s.positions {
		if pos.Status.IsOpen() {
			seen[pos.Symbol] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// SetTick records the last price sample for a symbol.
func (s *Store) SetTick(t Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks[t.Symbol] = t
}

// LastTick returns the last price sample for a symbol, or ErrNotFound.
func (s *Store) LastTick(symbol string) (Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.ticks[symbol]
	if !ok {
		return Tick{}, errors.ErrNotFound
	}
	return t, nil
}
