package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	BusMemory = "memory"
	BusKafka  = "kafka"
)

type Config struct {
	Env      string  `yaml:"env" env:"ENV" env-default:"local"`
	Storage  string  `yaml:"storage" env:"STORAGE" env-default:"memory"`
	Bus      Bus     `yaml:"bus"`
	HTTP     HTTP    `yaml:"http"`
	Postgres PG      `yaml:"postgres"`
	Kafka    Kafka   `yaml:"kafka"`
	Redis    Redis   `yaml:"redis"`
	Saga     Saga    `yaml:"saga"`
	Retry    Retry   `yaml:"retry"`
	Outbox   Outbox  `yaml:"outbox"`
	Logger   Logger  `yaml:"logger"`
	Tracing  Tracing `yaml:"tracing"`
	Limiter  Limiter `yaml:"limiter"`
	Metrics  Metrics `yaml:"metrics"`
}

type Bus struct {
	Driver        string `yaml:"driver" env:"BUS_DRIVER" env-default:"memory"`
	MaxDeliveries int    `yaml:"max_deliveries" env-default:"10"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	Timeout time.Duration `yaml:"timeout" env-default:"4s"`
}

// PG holds one URL per private store. They may point at the same database.
type PG struct {
	EventsURL   string `yaml:"events_url" env:"EVENTS_DB_URL"`
	TicketsURL  string `yaml:"tickets_url" env:"TICKETS_DB_URL"`
	OrdersURL   string `yaml:"orders_url" env:"ORDERS_DB_URL"`
	Migrations  string `yaml:"migrations" env:"MIGRATIONS_DIR" env-default:"./services/ticketing/migrations"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"AUTO_MIGRATE" env-default:"true"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
}

type Redis struct {
	Enabled bool          `yaml:"enabled" env:"REDIS_ENABLED" env-default:"false"`
	Addr    string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	TTL     time.Duration `yaml:"ttl" env-default:"30s"`
}

type Saga struct {
	ReservationTimeout time.Duration `yaml:"reservation_timeout" env:"RESERVATION_TIMEOUT" env-default:"15m"`
	SweepInterval      time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL" env-default:"30s"`
}

type Retry struct {
	MaxAttempts     int           `yaml:"max_attempts" env-default:"5"`
	InitialInterval time.Duration `yaml:"initial_interval" env-default:"50ms"`
	MaxInterval     time.Duration `yaml:"max_interval" env-default:"2s"`
}

type Outbox struct {
	BatchSize int           `yaml:"batch_size" env-default:"50"`
	Interval  time.Duration `yaml:"interval" env-default:"500ms"`
}

type Logger struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Tracing struct {
	Enabled  bool   `yaml:"enabled" env:"TRACING_ENABLED" env-default:"false"`
	Endpoint string `yaml:"endpoint" env:"JAEGER_ENDPOINT" env-default:"localhost:4318"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED" env-default:"true"`
	Port    string `yaml:"port" env:"METRICS_PORT" env-default:":9091"`
}

type Limiter struct {
	Max        int           `yaml:"max" env-default:"100"`
	Expiration time.Duration `yaml:"expiration" env-default:"5s"`
}

// Load reads the YAML file at path and applies environment overrides.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/local.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}

	return cfg
}

func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.Postgres.EventsURL == "" || c.Postgres.TicketsURL == "" || c.Postgres.OrdersURL == "" {
			return errors.New("postgres storage needs events_url, tickets_url and orders_url")
		}
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}

	switch c.Bus.Driver {
	case BusMemory:
	case BusKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka bus needs at least one broker")
		}
	default:
		return fmt.Errorf("unknown bus driver %q", c.Bus.Driver)
	}

	if c.Saga.ReservationTimeout <= 0 {
		return errors.New("saga.reservation_timeout must be positive")
	}
	if c.Saga.SweepInterval <= 0 {
		return errors.New("saga.sweep_interval must be positive")
	}

	return nil
}

func (c *Config) LoggerConfig() LoggerConfig {
	return LoggerConfig{Level: c.Logger.Level, Env: c.Env}
}
