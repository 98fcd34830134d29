package bootstrap

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"sentinel/internal/adapters/config"
	"sentinel/internal/adapters/gateway"
	"sentinel/internal/adapters/kafka"
	"sentinel/internal/adapters/marketdata"
	pgclient "sentinel/internal/adapters/postgres"
	redisclient "sentinel/internal/adapters/redis"
	"sentinel/internal/adapters/signals"
	"sentinel/internal/adapters/telegram"
	"sentinel/internal/api"
	"sentinel/internal/bus"
	"sentinel/internal/journal"
	"sentinel/internal/services/alerts"
	"sentinel/internal/services/engine"
	"sentinel/internal/services/executor"
	"sentinel/internal/services/monitor"
	"sentinel/internal/state"
	"sentinel/internal/workers"
	"sentinel/pkg/errors"
	"sentinel/pkg/logger"
)

// replayIdleTimeout bounds how long startup waits for the journal tail.
const replayIdleTimeout = 5 * time.Second

// Container holds all application dependencies in initialization order
type Container struct {
	Config *config.Config
	Log    *logger.Logger

	// Infrastructure
	PG       *pgclient.Client
	Redis    *redisclient.Client
	Producer *kafka.Producer

	// Core
	Bus   *bus.Bus
	Store *state.Store

	// Durability
	Journal *journal.Journal

	// Services
	Monitor  *monitor.Monitor
	Engine   *engine.Engine
	Settings *engine.SettingsCache
	Alerts   *alerts.Manager
	Executor *executor.Executor

	// External adapters
	Gateway  gateway.Gateway
	Feed     *marketdata.Feed
	Registry *signals.Registry

	// Application
	Scheduler *workers.Scheduler
	API       *api.Server
}

// Build wires every component. Nothing is started; Start does that in
// dependency order.
func Build(cfg *config.Config) (*Container, error) {
	log := logger.Get()
	c := &Container{Config: cfg, Log: log}

	// Infrastructure layer
	pg, err := pgclient.NewClient(cfg.Postgres)
	if err != nil {
		return nil, errors.Wrap(err, "postgres init failed")
	}
	c.PG = pg

	rds, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		return nil, errors.Wrap(err, "redis init failed")
	}
	c.Redis = rds

	c.Producer = kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})

	// Core
	c.Bus = bus.New(cfg.Bus.QueueDepth)
	c.Store = state.New()
	c.Journal = journal.New(c.Producer, cfg.Kafka.JournalTopic)

	// Services
	c.Monitor = monitor.New(c.Store, c.Bus, nil, monitor.Config{
		StaleAfter:    cfg.Monitor.StaleAfter,
		PriceWindow:   cfg.Monitor.PriceWindow,
		VaRConfidence: cfg.Monitor.VaRConfidence,
	})

	c.Settings = engine.NewSettingsCache(pgclient.NewSettingsRepository(pg.DB()))
	c.Engine = engine.New(c.Store, c.Bus, c.Settings, c.Monitor, engine.Config{
		SignalTTL:         cfg.Engine.SignalTTL,
		MinSignalStrength: cfg.Engine.MinSignalStrength,
		InflightTimeout:   cfg.Engine.InflightTimeout,
	})

	var notifiers []alerts.Notifier
	if cfg.Telegram.Enabled {
		tg, err := telegram.NewNotifier(cfg.Telegram)
		if err != nil {
			return nil, errors.Wrap(err, "telegram init failed")
		}
		notifiers = append(notifiers, tg)
	}
	c.Alerts = alerts.New(c.Bus, alerts.Config{
		SuppressionWindow:   cfg.Alerts.SuppressionWindow,
		EscalationStrikes:   cfg.Alerts.EscalationStrikes,
		HistoryLimit:        cfg.Alerts.HistoryLimit,
		CriticalDrawdownPct: decimal.NewFromFloat(cfg.Alerts.CriticalDrawdownPct),
	}, notifiers...)

	c.Gateway = gateway.NewHTTPGateway(cfg.Gateway)
	breaker := executor.NewCircuitBreaker(
		cfg.Executor.BreakerThreshold,
		cfg.Executor.BreakerWindow,
		cfg.Executor.BreakerCooldown,
	)
	c.Executor = executor.New(c.Store, c.Bus, c.Gateway,
		executor.NewRedisIdempotencyStore(rds, cfg.Executor.AppliedTTL),
		breaker,
		executor.NewRedisKillSwitch(rds),
		executor.Config{
			MaxRetries:  cfg.Executor.MaxRetries,
			BackoffBase: cfg.Executor.BackoffBase,
		})

	// External adapters
	c.Feed = marketdata.NewFeed(cfg.MarketData, c.Bus)
	c.Registry = signals.NewRegistry(c.Bus)
	if err := c.Registry.Register(signals.NewWhaleAdapter()); err != nil {
		return nil, err
	}
	if err := c.Registry.Register(signals.NewPatternAdapter()); err != nil {
		return nil, err
	}

	// Background workers
	c.Scheduler = workers.NewScheduler()
	c.Scheduler.RegisterWorker(workers.NewTaskWorker("monitor_sweep", cfg.Monitor.SweepInterval, c.Monitor.Sweep))
	c.Scheduler.RegisterWorker(workers.NewTaskWorker("settings_refresh", cfg.Workers.SettingsRefreshInterval, c.Settings.Refresh))
	c.Scheduler.RegisterWorker(workers.NewTaskWorker("alert_window_sweep", cfg.Workers.AlertSweepInterval, c.Alerts.SweepWindows))
	c.Scheduler.RegisterWorker(workers.NewTaskWorker("engine_sweep", cfg.Engine.SignalTTL, c.Engine.Sweep))

	c.API = api.NewServer(cfg.API.Addr, c.Store, c.Alerts, c.Scheduler, map[string]api.HealthChecker{
		"postgres": pg.Health,
		"redis":    rds.Health,
	})

	return c, nil
}

// Start brings the system up: replay the journal into the store, start the
// bus, attach subscribers, reconcile against the venue, then open the taps.
func (c *Container) Start(ctx context.Context) error {
	if err := c.replayJournal(ctx); err != nil {
		// A cold start with an empty or unreachable journal is survivable;
		// the venue reconcile below restores positions.
		c.Log.Warnf("Journal replay incomplete: %v", err)
	}

	if err := c.Bus.Start(ctx); err != nil {
		return err
	}

	c.Journal.Attach(c.Bus)
	c.Monitor.Attach()
	c.Engine.Attach()
	c.Alerts.Attach()
	c.Executor.Attach()

	if err := c.reconcilePositions(ctx); err != nil {
		c.Log.Warnf("Venue reconcile failed, continuing with replayed state: %v", err)
	}

	if err := c.Settings.Refresh(ctx); err != nil {
		c.Log.Warnf("Initial settings load failed, defaults in effect: %v", err)
	}

	if err := c.Feed.Start(ctx); err != nil {
		return err
	}
	if err := c.Scheduler.Start(ctx); err != nil {
		return err
	}
	c.API.Start()

	c.Log.Info("System started")
	return nil
}

// replayJournal rebuilds in-memory state from the durable event log
func (c *Container) replayJournal(ctx context.Context) error {
	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: c.Config.Kafka.Brokers,
		GroupID: c.Config.Kafka.GroupID + ".replay",
		Topic:   c.Config.Kafka.JournalTopic,
	})
	defer consumer.Close()

	applied, err := journal.NewReplayer(consumer, c.Store).Replay(ctx, replayIdleTimeout)
	if err != nil {
		return err
	}
	c.Log.Infof("Replayed %d state events from journal", applied)
	return nil
}

// reconcilePositions adopts venue positions the local state does not know.
// The venue wins for existence; local risk parameters win for versioning.
func (c *Container) reconcilePositions(ctx context.Context) error {
	venuePositions, err := c.Gateway.GetPositions(ctx)
	if err != nil {
		return err
	}

	adopted := 0
	for _, pos := range venuePositions {
		if _, err := c.Store.GetPosition(pos.ID); err == nil {
			continue
		}
		if _, err := c.Store.UpsertPosition(pos); err == nil {
			adopted++
		}
	}
	if adopted > 0 {
		c.Log.Infof("Adopted %d positions from venue", adopted)
	}
	return nil
}
