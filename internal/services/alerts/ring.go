package alerts

import (
	"sync"

	"sentinel/internal/domain/alert"
)

// ring is a bounded alert history. Oldest entries fall off; the read API
// serves from here without touching the suppression state.
type ring struct {
	mu   sync.Mutex
	buf  []alert.Alert
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]alert.Alert, capacity)}
}

func (r *ring) push(a alert.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.head] = a
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// newest returns up to limit entries, most recent first.
func (r *ring) newest(limit int) []alert.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > r.size {
		limit = r.size
	}

	out := make([]alert.Alert, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.head - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
