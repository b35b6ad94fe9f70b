// Package config holds the service configuration, loaded from environment
// variables.
package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/shopforge/inventory/pkg/config"
)

type Config struct {
	Service   ServiceConfig
	HTTP      HTTPConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Inventory InventoryConfig
	Tracing   TracingConfig
}

type ServiceConfig struct {
	Name        string `env:"SERVICE_NAME" envDefault:"inventory-service"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

type PostgresConfig struct {
	Host            string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port            int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User            string        `env:"POSTGRES_USER" envDefault:"inventory"`
	Password        string        `env:"POSTGRES_PASSWORD" envDefault:"inventory"`
	DBName          string        `env:"POSTGRES_DB" envDefault:"inventory"`
	SSLMode         string        `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	MaxConns        int32         `env:"POSTGRES_MAX_CONNS" envDefault:"25"`
	MinConns        int32         `env:"POSTGRES_MIN_CONNS" envDefault:"5"`
	MaxConnLifetime time.Duration `env:"POSTGRES_MAX_CONN_LIFETIME" envDefault:"30m"`
	MaxConnIdleTime time.Duration `env:"POSTGRES_MAX_CONN_IDLE_TIME" envDefault:"5m"`
	// SlowQueryThreshold arms warning logs for queries running longer than
	// this; zero disables them.
	SlowQueryThreshold time.Duration `env:"POSTGRES_SLOW_QUERY_THRESHOLD" envDefault:"200ms"`
}

type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type KafkaConfig struct {
	Brokers        []string      `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	ConsumerGroup  string        `env:"KAFKA_CONSUMER_GROUP" envDefault:"inventory-service"`
	MaxDeliveries  int           `env:"KAFKA_MAX_DELIVERIES" envDefault:"3"`
	RetryBackoff   time.Duration `env:"KAFKA_RETRY_BACKOFF" envDefault:"1s"`
	IdempotencyTTL time.Duration `env:"KAFKA_IDEMPOTENCY_TTL" envDefault:"24h"`
}

type InventoryConfig struct {
	ReservationTTL time.Duration `env:"RESERVATION_TTL" envDefault:"30m"`
	LockWait       time.Duration `env:"LOCK_WAIT" envDefault:"3s"`
	LockTTL        time.Duration `env:"LOCK_TTL" envDefault:"5s"`
	// LockWatchdogEnabled controls the lease-renewal goroutine; tests can
	// switch it off to exercise lease expiry deterministically.
	LockWatchdogEnabled      bool          `env:"LOCK_WATCHDOG_ENABLED" envDefault:"true"`
	SweepLockWait            time.Duration `env:"SWEEP_LOCK_WAIT" envDefault:"1s"`
	SaveAttempts             int           `env:"SAVE_ATTEMPTS" envDefault:"3"`
	SaveRetryBase            time.Duration `env:"SAVE_RETRY_BASE" envDefault:"50ms"`
	SweepInterval            time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	SweepPageSize            int           `env:"SWEEP_PAGE_SIZE" envDefault:"100"`
	PublishTimeout           time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"5s"`
	DefaultLowStockThreshold int           `env:"LOW_STOCK_DEFAULT_THRESHOLD" envDefault:"0"`
}

type TracingConfig struct {
	Enabled      bool    `env:"TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint string  `env:"OTLP_ENDPOINT" envDefault:"localhost:4318"`
	SampleRate   float64 `env:"TRACING_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port %d", c.HTTP.Port)
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one Kafka broker is required")
	}
	if c.Inventory.LockTTL <= c.Inventory.LockWait/3 {
		// A lease much shorter than the wait makes the watchdog churn; the
		// defaults (wait 3s, ttl 5s) are the intended shape.
		return fmt.Errorf("lock TTL %s too short relative to lock wait %s", c.Inventory.LockTTL, c.Inventory.LockWait)
	}
	if c.Inventory.ReservationTTL < time.Minute {
		return fmt.Errorf("reservation TTL %s must be at least a minute", c.Inventory.ReservationTTL)
	}
	if c.Inventory.PublishTimeout <= 0 {
		return fmt.Errorf("publish timeout %s must be positive", c.Inventory.PublishTimeout)
	}
	if c.Inventory.DefaultLowStockThreshold < 0 {
		return fmt.Errorf("default low-stock threshold %d must not be negative", c.Inventory.DefaultLowStockThreshold)
	}
	return nil
}
