package signals

import (
	"context"
	"sort"
	"sync"

	"sentinel/internal/bus"
	"sentinel/internal/domain/event"
	"sentinel/internal/metrics"
	"sentinel/pkg/errors"
	"sentinel/pkg/logger"
)

// Adapter translates one producer's raw payload into a normalized signal.
// Registration is explicit; payloads from unregistered producers are dropped.
type Adapter interface {
	// Producer returns the name used in the signal.<producer> topic.
	Producer() string

	// Translate decodes a raw payload. Implementations must validate
	// confidence and direction and return ErrInvalidInput on garbage.
	Translate(raw []byte) (event.Signal, error)
}

// Registry holds the registered producer adapters and feeds translated
// signals onto the bus.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	bus      *bus.Bus
	log      *logger.Logger
}

// NewRegistry creates an empty adapter registry
func NewRegistry(b *bus.Bus) *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		bus:      b,
		log:      logger.Get().With("component", "signal_registry"),
	}
}

// Register adds an adapter. Registering the same producer twice is an error.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Producer()
	if _, exists := r.adapters[name]; exists {
		return errors.Wrapf(errors.ErrConflict, "producer %q already registered", name)
	}
	r.adapters[name] = a
	r.log.Infof("Registered signal producer: %s", name)
	return nil
}

// Producers returns the registered producer names, sorted.
func (r *Registry) Producers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ingest translates a raw producer payload and publishes the signal.
// Unknown producers are counted and dropped, not treated as errors; an
// operator wiring mistake should not crash the intake path.
func (r *Registry) Ingest(ctx context.Context, producer string, raw []byte) error {
	r.mu.RLock()
	a, ok := r.adapters[producer]
	r.mu.RUnlock()

	if !ok {
		metrics.SignalsTranslated.WithLabelValues(producer, "unknown").Inc()
		r.log.Warnf("Dropping payload from unregistered producer %q", producer)
		return nil
	}

	sig, err := a.Translate(raw)
	if err != nil {
		metrics.SignalsTranslated.WithLabelValues(producer, "invalid").Inc()
		return errors.Wrapf(err, "producer %s", producer)
	}
	sig.Producer = producer

	if err := r.bus.Publish(event.New("signals", sig)); err != nil {
		return err
	}

	metrics.SignalsTranslated.WithLabelValues(producer, "ok").Inc()
	return nil
}
