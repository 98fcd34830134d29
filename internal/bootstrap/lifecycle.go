package bootstrap

import (
	"context"
	"time"
)

const shutdownTimeout = 30 * time.Second

// Shutdown stops components in reverse dependency order. Inbound surfaces
// close first, then the bus drains so in-flight events reach the journal,
// then infrastructure connections close.
func (c *Container) Shutdown() {
	c.Log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// 1. Stop accepting API requests
	if err := c.API.Stop(ctx); err != nil {
		c.Log.Errorf("API shutdown: %v", err)
	}

	// 2. Stop background workers (no new sweeps or proposals)
	if err := c.Scheduler.Stop(); err != nil {
		c.Log.Errorf("Scheduler shutdown: %v", err)
	}

	// 3. Disconnect the market data feed (no new ticks)
	if err := c.Feed.Stop(); err != nil {
		c.Log.Errorf("Feed shutdown: %v", err)
	}

	// 4. Drain the bus so queued events are handled and journaled
	if err := c.Bus.DrainAndStop(c.Config.Bus.DrainTimeout); err != nil {
		c.Log.Errorf("Bus drain: %v", err)
	}

	// 5. Detach the journal and flush the producer
	c.Journal.Detach(c.Bus)
	if err := c.Producer.Close(); err != nil {
		c.Log.Errorf("Kafka producer close: %v", err)
	}

	// 6. Close infrastructure connections last
	if err := c.Redis.Close(); err != nil {
		c.Log.Errorf("Redis close: %v", err)
	}
	if err := c.PG.Close(); err != nil {
		c.Log.Errorf("Postgres close: %v", err)
	}

	c.Log.Info("Shutdown complete")
}
