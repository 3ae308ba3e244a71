package app

import (
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/close"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/shared"
)

// Config holds runtime configuration for the server and worker.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development" validate:"oneof=development test staging production"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080" validate:"required"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"30s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`
	RateLimit         int           `envconfig:"APP_RATE_LIMIT" default:"120" validate:"gte=0"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty" validate:"oneof=pretty json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	PGDSN      string `envconfig:"PG_DSN" default:"postgres://gl:gl@localhost:5432/gl?sslmode=disable" validate:"required"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"10" validate:"gte=0"`

	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379" validate:"required"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0" validate:"gte=0"`
	LedgerCacheTTL time.Duration `envconfig:"LEDGER_CACHE_TTL" default:"10m" validate:"gte=0"`

	FiscalYearStartMonth        int    `envconfig:"FISCAL_YEAR_START_MONTH" default:"1" validate:"gte=1,lte=12"`
	ClosedChart                 bool   `envconfig:"CLOSED_CHART" default:"false"`
	AggregatePartitions         int    `envconfig:"AGGREGATE_PARTITIONS" default:"1" validate:"gte=1,lte=64"`
	AggregatePartitionThreshold int    `envconfig:"AGGREGATE_PARTITION_THRESHOLD" default:"50000" validate:"gte=0"`
	PolicyPath                  string `envconfig:"POLICY_PATH"`

	WorkerConcurrency int    `envconfig:"WORKER_CONCURRENCY" default:"4" validate:"gte=1"`
	CloseCron         string `envconfig:"CLOSE_CRON"`
	SystemActorID     int64  `envconfig:"SYSTEM_ACTOR_ID" default:"1" validate:"required"`
	IntegrityCron     string `envconfig:"INTEGRITY_CRON" default:"30 2 * * *"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, shared.NewConfigError("environment", err.Error())
	}
	if err := shared.ValidateStruct("environment", cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// CloseOptions projects the ledger settings onto close.Options.
func (c *Config) CloseOptions() close.Options {
	if c == nil {
		return close.Options{}
	}
	return close.Options{
		FiscalYearStartMonth: time.Month(c.FiscalYearStartMonth),
		ClosedChart:          c.ClosedChart,
		Partitions:           c.AggregatePartitions,
		PartitionThreshold:   c.AggregatePartitionThreshold,
	}
}
