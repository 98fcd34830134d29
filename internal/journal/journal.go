package journal

import (
	"context"

	"sentinel/internal/adapters/kafka"
	"sentinel/internal/bus"
	"sentinel/internal/domain/event"
	"sentinel/internal/metrics"
	"sentinel/pkg/logger"
)

// Journal mirrors every bus event onto a Kafka topic, keyed by event ID.
// The log is append-only; replay rebuilds in-memory state after a restart.
type Journal struct {
	producer *kafka.Producer
	topic    string
	log      *logger.Logger

	sub *bus.Subscription
}

// New creates a journal writing to the given topic
func New(producer *kafka.Producer, topic string) *Journal {
	return &Journal{
		producer: producer,
		topic:    topic,
		log:      logger.Get().With("component", "journal"),
	}
}

// Attach subscribes the journal to every event on the bus
func (j *Journal) Attach(b *bus.Bus) {
	j.sub = b.Subscribe("journal", "*", j.record)
}

// Detach removes the journal subscription
func (j *Journal) Detach(b *bus.Bus) {
	if j.sub != nil {
		b.Unsubscribe(j.sub)
	}
}

func (j *Journal) record(ctx context.Context, e event.Envelope) {
	data, err := event.Marshal(e)
	if err != nil {
		j.log.Errorf("Failed to encode event %s: %v", e.ID, err)
		return
	}

	if err := j.producer.PublishRaw(ctx, j.topic, e.ID.String(), data); err != nil {
		j.log.Errorf("Failed to journal event %s (%s): %v", e.ID, e.Type, err)
		return
	}

	metrics.JournalRecords.Inc()
}
