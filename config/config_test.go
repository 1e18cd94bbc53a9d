package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "stomp", cfg.Feed.Transport)
	assert.Equal(t, "/topic/stock-prices", cfg.Feed.PriceTopic)
	assert.Equal(t, "/topic/ohlc-prices", cfg.Feed.CandleTopic)
	assert.Equal(t, 5*time.Second, cfg.Feed.ReconnectDelay())
	assert.Equal(t, 4*time.Second, cfg.Feed.Heartbeat())
	assert.Equal(t, 50, cfg.Buffer.PriceCapacity)
	assert.Equal(t, 100, cfg.Buffer.CandleCapacity)
	assert.Equal(t, "AAPL", cfg.Buffer.ActiveSymbol)
	assert.True(t, cfg.Feed.AutoConnect)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FEED_TRANSPORT", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("FEED_RECONNECT_DELAY_MS", "250")
	t.Setenv("BUFFER_CANDLE_CAPACITY", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.Feed.ReconnectDelay())
	assert.Equal(t, 2, cfg.Buffer.CandleCapacity)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		key, value, field string
	}{
		{"FEED_TRANSPORT", "carrier-pigeon", "FEED_TRANSPORT"},
		{"FEED_URL", "http://localhost:8082/ws", "FEED_URL"},
		{"FEED_URL", "ws://", "FEED_URL"},
		{"FEED_URL", "ws:///ws/websocket", "FEED_URL"},
		{"FEED_URL", "ws://bad host:80", "FEED_URL"},
		{"FEED_RECONNECT_DELAY_MS", "0", "FEED_RECONNECT_DELAY_MS"},
		{"FEED_CANDLE_TOPIC", "/topic/stock-prices", "FEED_CANDLE_TOPIC"},
		{"BUFFER_PRICE_CAPACITY", "-1", "BUFFER_PRICE_CAPACITY"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			var ce *ConfigError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tc.field, ce.Field)
		})
	}
}

func TestLoadParseError(t *testing.T) {
	t.Setenv("BUFFER_PRICE_CAPACITY", "many")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}
