package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
	require.Equal(t, 25, cfg.OutboxBatchSize)
	require.Equal(t, 7*24*time.Hour, cfg.TokenTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", ":9999")
	t.Setenv("KAFKA_BROKERS", "broker-a:9092, broker-b:9092 ,")
	t.Setenv("OUTBOX_BATCH_SIZE", "100")
	t.Setenv("TOKEN_TTL", "30m")

	cfg := Load()

	require.Equal(t, ":9999", cfg.HTTPAddress)
	require.Equal(t, []string{"broker-a:9092", "broker-b:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 100, cfg.OutboxBatchSize)
	require.Equal(t, 30*time.Minute, cfg.TokenTTL)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("OUTBOX_BATCH_SIZE", "lots")
	t.Setenv("OUTBOX_POLL_INTERVAL", "soon")

	cfg := Load()

	require.Equal(t, 25, cfg.OutboxBatchSize)
	require.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
}
