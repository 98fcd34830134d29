package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"sentinel/pkg/errors"
)

type Config struct {
	App           AppConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Telegram      TelegramConfig
	Gateway       GatewayConfig
	MarketData    MarketDataConfig
	Bus           BusConfig
	Monitor       MonitorConfig
	Engine        EngineConfig
	Alerts        AlertConfig
	Executor      ExecutorConfig
	API           APIConfig
	ErrorTracking ErrorTrackingConfig
	Workers       WorkerConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"sentinel"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"sentinel"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Database string `envconfig:"POSTGRES_DB" default:"sentinel"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"10"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Brokers      []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	GroupID      string   `envconfig:"KAFKA_GROUP_ID" default:"sentinel"`
	JournalTopic string   `envconfig:"KAFKA_JOURNAL_TOPIC" default:"events.journal"`
}

type TelegramConfig struct {
	Enabled  bool   `envconfig:"TELEGRAM_ENABLED" default:"false"`
	BotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	ChatID   int64  `envconfig:"TELEGRAM_CHAT_ID"`
}

type GatewayConfig struct {
	BaseURL        string        `envconfig:"GATEWAY_BASE_URL" default:"http://localhost:8090"`
	APIKey         string        `envconfig:"GATEWAY_API_KEY"`
	CallTimeout    time.Duration `envconfig:"GATEWAY_CALL_TIMEOUT" default:"3s"`
	RequestsPerSec float64       `envconfig:"GATEWAY_REQUESTS_PER_SEC" default:"10"`
	Burst          int           `envconfig:"GATEWAY_BURST" default:"5"`
}

type MarketDataConfig struct {
	WSURL   string   `envconfig:"MARKET_DATA_WS_URL" default:"ws://localhost:8091/ticks"`
	Symbols []string `envconfig:"MARKET_DATA_SYMBOLS" default:"EURUSD,GBPUSD,BTCUSDT"`
}

type BusConfig struct {
	QueueDepth   int           `envconfig:"BUS_QUEUE_DEPTH" default:"1000"`
	DrainTimeout time.Duration `envconfig:"BUS_DRAIN_TIMEOUT" default:"10s"`
}

type MonitorConfig struct {
	SweepInterval  time.Duration `envconfig:"MONITOR_SWEEP_INTERVAL" default:"2s"`
	StaleAfter     time.Duration `envconfig:"MONITOR_STALE_AFTER" default:"10s"`
	PriceWindow    int           `envconfig:"MONITOR_PRICE_WINDOW" default:"256"`
	VaRConfidence  float64       `envconfig:"MONITOR_VAR_CONFIDENCE" default:"0.95"`
}

type EngineConfig struct {
	SignalTTL         time.Duration `envconfig:"ENGINE_SIGNAL_TTL" default:"2m"`
	MinSignalStrength float64       `envconfig:"ENGINE_MIN_SIGNAL_STRENGTH" default:"0.8"`
	InflightTimeout   time.Duration `envconfig:"ENGINE_INFLIGHT_TIMEOUT" default:"30s"`
}

type AlertConfig struct {
	SuppressionWindow   time.Duration `envconfig:"ALERT_SUPPRESSION_WINDOW" default:"5m"`
	EscalationStrikes   int           `envconfig:"ALERT_ESCALATION_STRIKES" default:"3"`
	HistoryLimit        int           `envconfig:"ALERT_HISTORY_LIMIT" default:"512"`
	CriticalDrawdownPct float64       `envconfig:"ALERT_CRITICAL_DRAWDOWN_PCT" default:"5"`
}

type ExecutorConfig struct {
	MaxRetries       int           `envconfig:"EXECUTOR_MAX_RETRIES" default:"3"`
	BackoffBase      time.Duration `envconfig:"EXECUTOR_BACKOFF_BASE" default:"200ms"`
	BreakerThreshold int           `envconfig:"EXECUTOR_BREAKER_THRESHOLD" default:"5"`
	BreakerWindow    time.Duration `envconfig:"EXECUTOR_BREAKER_WINDOW" default:"60s"`
	BreakerCooldown  time.Duration `envconfig:"EXECUTOR_BREAKER_COOLDOWN" default:"30s"`
	AppliedTTL       time.Duration `envconfig:"EXECUTOR_APPLIED_TTL" default:"24h"`
}

type APIConfig struct {
	Addr string `envconfig:"API_ADDR" default:":8080"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// WorkerConfig contains intervals for the background workers.
type WorkerConfig struct {
	SettingsRefreshInterval time.Duration `envconfig:"WORKER_SETTINGS_REFRESH_INTERVAL" default:"30s"`
	AlertSweepInterval      time.Duration `envconfig:"WORKER_ALERT_SWEEP_INTERVAL" default:"1m"`
}

// Load reads configuration from environment variables.
// It first tries to load a .env file (useful for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}
