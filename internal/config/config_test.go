package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, 30*time.Minute, cfg.ReservationTimeout)
	assert.Equal(t, 60*time.Second, cfg.SweepInterval)
	assert.Equal(t, 100, cfg.SweepBatchSize)
	assert.Equal(t, "stock.events", cfg.KafkaEventsTopicName)
	assert.Equal(t, "stock.state", cfg.KafkaStateTopicName)
	assert.Equal(t, int64(762408311), cfg.OutboxLockKey)
	assert.Equal(t, 500*time.Millisecond, cfg.OutboxPollInterval)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("RESERVATION_TIMEOUT_MIN", "5")
	t.Setenv("SWEEP_INTERVAL_SEC", "10")
	t.Setenv("OUTBOX_POLL_INTERVAL", "2s")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("ENVIRONMENT", "production")

	cfg := LoadConfig()

	assert.Equal(t, 5*time.Minute, cfg.ReservationTimeout)
	assert.Equal(t, 10*time.Second, cfg.SweepInterval)
	assert.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 25, cfg.DatabaseMaxConns)
}
