package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	OrderServiceName     = "order-service"
	InventoryServiceName = "inventory-service"
	ServiceVersion       = "0.1.0"
)

const (
	OrderEventsTopic = "order-events"
	DeadLetterTopic  = "order-events.DLT"
	RejectionsTopic  = "inventory-rejections"
	InventoryGroupID = "inventory-service-group"
	OrderGroupID     = "order-service-group"
	BatchTimeout     = 10 * time.Millisecond
	BatchSize        = 100
)

const (
	IdempotencyKeyPrefix = "order:idempotency:"
	ProcessedKeyPrefix   = "inventory:processed:"
)

const (
	LogsPath      = "/otlp/v1/logs"   // Grafana Cloud OTLP path
	TracesPath    = "/otlp/v1/traces" // Grafana Cloud OTLP path
	MetricsPath   = "/otlp/v1/metrics"
	ExportTimeout = 30 * time.Second
	MaxQueueSize  = 2048
)

const (
	LedgerPostgres = "postgres"
	LedgerDynamoDB = "dynamodb"

	DedupRedis  = "redis"
	DedupMemory = "memory"
)

type Config struct {
	KafkaBroker    string `env:"KAFKA_BROKER,notEmpty"`
	OtelEnabled    bool   `env:"OTEL_ENABLED" envDefault:"true"`
	OtelEndpoint   string `env:"OTEL_ENDPOINT"`
	OtelAuthHeader string `env:"OTEL_AUTH_HEADER"`

	PostgresDSN       string `env:"POSTGRES_DSN"`
	PostgresDSNSecret string `env:"POSTGRES_DSN_SECRET"`
	RedisURL          string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	AWS       AWSConfig `envPrefix:"AWS_"`
	Order     OrderConfig
	Inventory InventoryConfig
}

type AWSConfig struct {
	Region          string `env:"REGION" envDefault:"us-east-1"`
	Endpoint        string `env:"ENDPOINT"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
}

type OrderConfig struct {
	HTTPAddr              string        `env:"ORDER_HTTP_ADDR" envDefault:":8081"`
	IdempotencyTTL        time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"30m"`
	IdempotencyFailClosed bool          `env:"IDEMPOTENCY_FAIL_CLOSED" envDefault:"false"`
	ReconcileEnabled      bool          `env:"RECONCILE_ENABLED" envDefault:"true"`
	ReconcileInterval     time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	ReconcileMinAge       time.Duration `env:"RECONCILE_MIN_AGE" envDefault:"5m"`
	ReconcileMaxAge       time.Duration `env:"RECONCILE_MAX_AGE" envDefault:"1h"`
}

type InventoryConfig struct {
	HTTPAddr          string        `env:"INVENTORY_HTTP_ADDR" envDefault:":8082"`
	LedgerBackend     string        `env:"LEDGER_BACKEND" envDefault:"postgres"`
	DynamoTable       string        `env:"INVENTORY_DYNAMO_TABLE" envDefault:"inventory"`
	DedupBackend      string        `env:"DEDUP_BACKEND" envDefault:"redis"`
	DedupTTL          time.Duration `env:"DEDUP_TTL" envDefault:"24h"`
	DedupCapacity     int           `env:"DEDUP_CAPACITY" envDefault:"10000"`
	MaxAttempts       uint64        `env:"INVENTORY_MAX_ATTEMPTS" envDefault:"5"`
	ConsumerWorkers   int           `env:"INVENTORY_CONSUMER_WORKERS" envDefault:"1"`
	LowStockThreshold int           `env:"LOW_STOCK_THRESHOLD" envDefault:"10"`
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.OtelEnabled {
		if c.OtelEndpoint == "" {
			errs = append(errs, errors.New("OTEL_ENDPOINT environment variable is required"))
		}
		if c.OtelAuthHeader == "" {
			errs = append(errs, errors.New("OTEL_AUTH_HEADER environment variable is required"))
		}
	}

	if c.Order.ReconcileMinAge >= c.Order.ReconcileMaxAge {
		errs = append(errs, errors.New("RECONCILE_MIN_AGE must be lower than RECONCILE_MAX_AGE"))
	}

	switch c.Inventory.LedgerBackend {
	case LedgerPostgres, LedgerDynamoDB:
	default:
		errs = append(errs, fmt.Errorf("unsupported LEDGER_BACKEND %q", c.Inventory.LedgerBackend))
	}
	switch c.Inventory.DedupBackend {
	case DedupRedis, DedupMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported DEDUP_BACKEND %q", c.Inventory.DedupBackend))
	}

	// a resent event is only harmless while the dedup history outlives restarts
	if c.Order.ReconcileEnabled && c.Inventory.DedupBackend == DedupMemory {
		errs = append(errs, errors.New("DEDUP_BACKEND=memory requires RECONCILE_ENABLED=false"))
	}

	if c.Inventory.MaxAttempts == 0 {
		errs = append(errs, errors.New("INVENTORY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Inventory.ConsumerWorkers < 1 {
		errs = append(errs, errors.New("INVENTORY_CONSUMER_WORKERS must be at least 1"))
	}
	if c.Inventory.DedupCapacity < 1 {
		errs = append(errs, errors.New("DEDUP_CAPACITY must be at least 1"))
	}

	return errors.Join(errs...)
}

// RequirePostgres reports whether a DSN can be resolved, either directly or through Secrets Manager.
func (c *Config) RequirePostgres() error {
	if c.PostgresDSN == "" && c.PostgresDSNSecret == "" {
		return errors.New("POSTGRES_DSN or POSTGRES_DSN_SECRET environment variable is required")
	}
	return nil
}
