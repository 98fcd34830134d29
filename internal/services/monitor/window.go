package monitor

import "sync"

// priceWindow is a fixed-capacity ring of recent prices for one symbol.
type priceWindow struct {
	buf  []float64
	head int
	full bool
}

func newPriceWindow(capacity int) *priceWindow {
	return &priceWindow{buf: make([]float64, capacity)}
}

func (w *priceWindow) push(p float64) {
	w.buf[w.head] = p
	w.head = (w.head + 1) % len(w.buf)
	if w.head == 0 {
		w.full = true
	}
}

// values returns the window in chronological order.
func (w *priceWindow) values() []float64 {
	if !w.full {
		out := make([]float64, w.head)
		copy(out, w.buf[:w.head])
		return out
	}
	out := make([]float64, 0, len(w.buf))
	out = append(out, w.buf[w.head:]...)
	out = append(out, w.buf[:w.head]...)
	return out
}

// windowSet guards per-symbol windows for concurrent tick and sweep access.
type windowSet struct {
	mu       sync.RWMutex
	capacity int
	windows  map[string]*priceWindow
}

func newWindowSet(capacity int) *windowSet {
	return &windowSet{
		capacity: capacity,
		windows:  make(map[string]*priceWindow),
	}
}

func (s *windowSet) push(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[symbol]
	if !ok {
		w = newPriceWindow(s.capacity)
		s.windows[symbol] = w
	}
	w.push(price)
}

func (s *windowSet) values(symbol string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[symbol]
	if !ok {
		return nil
	}
	return w.values()
}
