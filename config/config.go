package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	App    AppConfig    `envPrefix:"APP_"`
	Feed   FeedConfig   `envPrefix:"FEED_"`
	Redis  RedisConfig  `envPrefix:"REDIS_"`
	Kafka  KafkaConfig  `envPrefix:"KAFKA_"`
	Buffer BufferConfig `envPrefix:"BUFFER_"`
}

// AppConfig covers process-level settings.
type AppConfig struct {
	Name     string `env:"NAME" envDefault:"marketdash"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
}

// FeedConfig selects the transport and the topics to subscribe to.
type FeedConfig struct {
	Transport        string `env:"TRANSPORT" envDefault:"stomp"` // stomp | redis | kafka
	URL              string `env:"URL" envDefault:"ws://localhost:8082/ws/websocket"`
	PriceTopic       string `env:"PRICE_TOPIC" envDefault:"/topic/stock-prices"`
	CandleTopic      string `env:"CANDLE_TOPIC" envDefault:"/topic/ohlc-prices"`
	ReconnectDelayMs int    `env:"RECONNECT_DELAY_MS" envDefault:"5000"`
	HeartbeatMs      int    `env:"HEARTBEAT_MS" envDefault:"4000"`
	EventBuffer      int    `env:"EVENT_BUFFER" envDefault:"1024"`
	AutoConnect      bool   `env:"AUTO_CONNECT" envDefault:"true"`
}

func (f FeedConfig) ReconnectDelay() time.Duration {
	return time.Duration(f.ReconnectDelayMs) * time.Millisecond
}

func (f FeedConfig) Heartbeat() time.Duration {
	return time.Duration(f.HeartbeatMs) * time.Millisecond
}

// RedisConfig is used when Feed.Transport is "redis".
type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// KafkaConfig is used when Feed.Transport is "kafka".
type KafkaConfig struct {
	Brokers []string `env:"BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	GroupID string   `env:"GROUP_ID" envDefault:"marketdash"`
}

// BufferConfig sizes the per-symbol rolling buffers.
type BufferConfig struct {
	PriceCapacity  int    `env:"PRICE_CAPACITY" envDefault:"50"`
	CandleCapacity int    `env:"CANDLE_CAPACITY" envDefault:"100"`
	ActiveSymbol   string `env:"ACTIVE_SYMBOL" envDefault:"AAPL"`
}

// ConfigError reports an invalid setting.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Load reads a .env file if present, parses the environment and validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	switch c.Feed.Transport {
	case "stomp":
		u, err := url.Parse(c.Feed.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return &ConfigError{Field: "FEED_URL", Reason: "must be a ws:// or wss:// URL"}
		}
		if u.Host == "" {
			return &ConfigError{Field: "FEED_URL", Reason: "missing host"}
		}
	case "redis":
		if c.Redis.Addr == "" {
			return &ConfigError{Field: "REDIS_ADDR", Reason: "required for redis transport"}
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Brokers[0] == "" {
			return &ConfigError{Field: "KAFKA_BROKERS", Reason: "required for kafka transport"}
		}
	default:
		return &ConfigError{Field: "FEED_TRANSPORT", Reason: fmt.Sprintf("unknown transport %q", c.Feed.Transport)}
	}

	if c.Feed.ReconnectDelayMs <= 0 {
		return &ConfigError{Field: "FEED_RECONNECT_DELAY_MS", Reason: "must be positive"}
	}
	if c.Feed.HeartbeatMs < 0 {
		return &ConfigError{Field: "FEED_HEARTBEAT_MS", Reason: "must not be negative"}
	}
	if c.Feed.EventBuffer <= 0 {
		return &ConfigError{Field: "FEED_EVENT_BUFFER", Reason: "must be positive"}
	}
	if c.Feed.PriceTopic == "" || c.Feed.CandleTopic == "" {
		return &ConfigError{Field: "FEED_PRICE_TOPIC", Reason: "topics must not be empty"}
	}
	if c.Feed.PriceTopic == c.Feed.CandleTopic {
		return &ConfigError{Field: "FEED_CANDLE_TOPIC", Reason: "must differ from FEED_PRICE_TOPIC"}
	}
	if c.Buffer.PriceCapacity <= 0 {
		return &ConfigError{Field: "BUFFER_PRICE_CAPACITY", Reason: "must be positive"}
	}
	if c.Buffer.CandleCapacity <= 0 {
		return &ConfigError{Field: "BUFFER_CANDLE_CAPACITY", Reason: "must be positive"}
	}
	return nil
}
