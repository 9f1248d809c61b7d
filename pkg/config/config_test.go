package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "env: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, BusMemory, cfg.Bus.Driver)
	assert.Equal(t, 10, cfg.Bus.MaxDeliveries)
	assert.Equal(t, 15*time.Minute, cfg.Saga.ReservationTimeout)
	assert.Equal(t, 30*time.Second, cfg.Saga.SweepInterval)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 4*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Postgres.AutoMigrate)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
env: test
saga:
  reservation_timeout: 5m
`)
	t.Setenv("RESERVATION_TIMEOUT", "90s")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Saga.ReservationTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Storage: StorageMemory,
			Bus:     Bus{Driver: BusMemory},
			Kafka:   Kafka{Brokers: []string{"localhost:9092"}},
			Saga:    Saga{ReservationTimeout: time.Minute, SweepInterval: time.Second},
		}
	}

	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{name: "memory", modify: func(c *Config) {}},
		{name: "unknown storage", modify: func(c *Config) { c.Storage = "sqlite" }, wantErr: true},
		{name: "postgres without urls", modify: func(c *Config) { c.Storage = StoragePostgres }, wantErr: true},
		{
			name: "postgres with urls",
			modify: func(c *Config) {
				c.Storage = StoragePostgres
				c.Postgres = PG{EventsURL: "postgres://e", TicketsURL: "postgres://t", OrdersURL: "postgres://o"}
			},
		},
		{name: "unknown bus", modify: func(c *Config) { c.Bus.Driver = "nats" }, wantErr: true},
		{
			name: "kafka without brokers",
			modify: func(c *Config) {
				c.Bus.Driver = BusKafka
				c.Kafka.Brokers = nil
			},
			wantErr: true,
		},
		{name: "zero timeout", modify: func(c *Config) { c.Saga.ReservationTimeout = 0 }, wantErr: true},
		{name: "zero sweep interval", modify: func(c *Config) { c.Saga.SweepInterval = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(&c)

			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(LoggerConfig{Level: "loud", Env: "local"})
	assert.Error(t, err)

	logger, err := NewLogger(LoggerConfig{Env: "prod"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
