package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"watchtower/pkg/errors"
)

type Config struct {
	App           AppConfig
	Ledger        LedgerConfig
	Monitor       MonitorConfig
	Kafka         KafkaConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	HTTP          HTTPConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"watchtower"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
}

type LedgerConfig struct {
	RPCEndpoint string `envconfig:"LEDGER_RPC_ENDPOINT" required:"true"`
	WSEndpoint  string `envconfig:"LEDGER_WS_ENDPOINT"`

	// Contract addresses. LendingPool is mandatory; auction and
	// protection stages are skipped when their address is empty.
	LendingPool     string `envconfig:"LEDGER_LENDING_POOL" required:"true"`
	AuctionHouse    string `envconfig:"LEDGER_AUCTION_HOUSE"`
	ProtectionVault string `envconfig:"LEDGER_PROTECTION_VAULT"`

	CallTimeout    time.Duration `envconfig:"LEDGER_CALL_TIMEOUT" default:"10s"`
	RateLimit      float64       `envconfig:"LEDGER_RATE_LIMIT" default:"20"` // calls per second
	RetryAttempts  int           `envconfig:"LEDGER_RETRY_ATTEMPTS" default:"3"`
	BreakerTrips   int           `envconfig:"LEDGER_BREAKER_FAILURES" default:"5"`
	BreakerTimeout time.Duration `envconfig:"LEDGER_BREAKER_TIMEOUT" default:"30s"`
}

type MonitorConfig struct {
	LiquidationThreshold float64       `envconfig:"MONITOR_LIQUIDATION_THRESHOLD" default:"1.10"`
	WarningThreshold     float64       `envconfig:"MONITOR_WARNING_THRESHOLD" default:"1.25"`
	CheckInterval        time.Duration `envconfig:"MONITOR_CHECK_INTERVAL" default:"15s"`
	SweepConcurrency     int           `envconfig:"MONITOR_SWEEP_CONCURRENCY" default:"8"`
	AuctionDuration      time.Duration `envconfig:"MONITOR_AUCTION_DURATION" default:"1h"`
	AuctionGracePeriod   time.Duration `envconfig:"MONITOR_AUCTION_GRACE_PERIOD" default:"10m"`
}

// LiquidationDecimal returns the liquidation threshold as a decimal
func (c MonitorConfig) LiquidationDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.LiquidationThreshold)
}

// WarningDecimal returns the warning threshold as a decimal
func (c MonitorConfig) WarningDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.WarningThreshold)
}

type KafkaConfig struct {
	Brokers    []string `envconfig:"KAFKA_BROKERS" required:"true"`
	AuditTopic string   `envconfig:"KAFKA_AUDIT_TOPIC" default:"audit.trail"`
}

type ClickHouseConfig struct {
	Enabled  bool   `envconfig:"CLICKHOUSE_ENABLED" default:"false"`
	Host     string `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"watchtower"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" required:"true"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type HTTPConfig struct {
	ListenAddr string `envconfig:"HTTP_LISTEN_ADDR" default:":8080"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Load reads configuration from environment variables.
// It first tries to load .env file (useful for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the engine cannot safely run with
func (c *Config) Validate() error {
	if c.Monitor.LiquidationThreshold <= 0 {
		return errors.NewValidationError("MONITOR_LIQUIDATION_THRESHOLD", "must be positive", c.Monitor.LiquidationThreshold)
	}
	if c.Monitor.WarningThreshold <= c.Monitor.LiquidationThreshold {
		return errors.NewValidationError("MONITOR_WARNING_THRESHOLD", "must be greater than liquidation threshold", c.Monitor.WarningThreshold)
	}
	if c.Monitor.CheckInterval <= 0 {
		return errors.NewValidationError("MONITOR_CHECK_INTERVAL", "must be positive", c.Monitor.CheckInterval)
	}
	if c.Monitor.SweepConcurrency < 1 {
		return errors.NewValidationError("MONITOR_SWEEP_CONCURRENCY", "must be at least 1", c.Monitor.SweepConcurrency)
	}
	return nil
}
