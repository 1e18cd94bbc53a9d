// Command feedsim is a demo market-data feed.
// Publishes simulated price and candle JSON so the dashboard can run without a
// real upstream aggregator.
//
// Sinks (FEEDSIM_SINK):
//
//	stomp  serve a STOMP-over-WebSocket broker on FEEDSIM_ADDR at /ws and /ws/websocket
//	redis  PUBLISH on REDIS_ADDR
//	kafka  produce to KAFKA_BROKERS (topics derived from the destinations)
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"marketdash/config"
	"marketdash/internal/feed/kafkafeed"
	"marketdash/internal/feed/redisps"
	"marketdash/internal/feed/stomp"
	"marketdash/internal/logger"
)

type simConfig struct {
	Sink        string   `env:"SINK" envDefault:"stomp"`
	Addr        string   `env:"ADDR" envDefault:":8082"`
	Symbols     []string `env:"SYMBOLS" envSeparator:"," envDefault:"AAPL,MSFT,GOOG,TSLA"`
	IntervalMs  int      `env:"INTERVAL_MS" envDefault:"1000"`
	Samples     int      `env:"SAMPLES" envDefault:"5"`
	CandleEvery int      `env:"CANDLE_EVERY" envDefault:"5"`
	HeartbeatMs int      `env:"HEARTBEAT_MS" envDefault:"4000"`
}

type fullConfig struct {
	Sim   simConfig          `envPrefix:"FEEDSIM_"`
	Feed  config.FeedConfig  `envPrefix:"FEED_"`
	Redis config.RedisConfig `envPrefix:"REDIS_"`
	Kafka config.KafkaConfig `envPrefix:"KAFKA_"`
}

// publisher delivers one payload to a destination.
type publisher interface {
	publish(ctx context.Context, destination, symbol string, payload []byte) error
}

type publishFunc func(ctx context.Context, destination, symbol string, payload []byte) error

func (f publishFunc) publish(ctx context.Context, destination, symbol string, payload []byte) error {
	return f(ctx, destination, symbol, payload)
}

func main() {
	_ = godotenv.Load()
	var cfg fullConfig
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "[feedsim] failed to parse config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Service: "feedsim", Level: "info"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "[feedsim] %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pub, shutdown, err := newSink(ctx, cfg, log)
	if err != nil {
		log.Fatalw("[feedsim] sink setup failed", "sink", cfg.Sim.Sink, "error", err)
	}
	defer shutdown()

	log.Infow("[feedsim] publishing",
		"sink", cfg.Sim.Sink, "symbols", cfg.Sim.Symbols, "interval_ms", cfg.Sim.IntervalMs,
		"price_topic", cfg.Feed.PriceTopic, "candle_topic", cfg.Feed.CandleTopic)
	runGenerator(ctx, cfg, pub, log)
	log.Info("[feedsim] stopped")
}

func newSink(ctx context.Context, cfg fullConfig, log *zap.SugaredLogger) (publisher, func(), error) {
	switch cfg.Sim.Sink {
	case "stomp":
		broker := stomp.NewBroker(time.Duration(cfg.Sim.HeartbeatMs)*time.Millisecond, log)
		mux := http.NewServeMux()
		// Spring exposes the raw WebSocket of a SockJS endpoint at /websocket.
		mux.Handle("/ws", broker)
		mux.Handle("/ws/websocket", broker)
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprintln(w, `{"status":"ok","service":"feedsim"}`)
		})
		srv := &http.Server{Addr: cfg.Sim.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Infow("[feedsim] broker listening", "addr", cfg.Sim.Addr, "url", "ws://localhost"+cfg.Sim.Addr+"/ws/websocket")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("[feedsim] server error", "error", err)
			}
		}()
		pub := publishFunc(func(_ context.Context, dest, _ string, payload []byte) error {
			broker.Publish(dest, payload)
			return nil
		})
		return pub, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}, nil

	case "redis":
		client := redisps.NewClient(redisps.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		p := redisps.NewPublisher(client)
		return publishFunc(func(ctx context.Context, dest, _ string, payload []byte) error {
			return p.Publish(ctx, dest, payload)
		}), func() { p.Close() }, nil

	case "kafka":
		p := kafkafeed.NewPublisher(cfg.Kafka.Brokers)
		return publishFunc(p.Publish), func() { p.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown sink %q (want stomp, redis or kafka)", cfg.Sim.Sink)
}

func runGenerator(ctx context.Context, cfg fullConfig, pub publisher, log *zap.SugaredLogger) {
	symbols := make([]string, 0, len(cfg.Sim.Symbols))
	for _, s := range cfg.Sim.Symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	interval := time.Duration(max(cfg.Sim.IntervalMs, 10)) * time.Millisecond
	gen := newGenerator(symbols, cfg.Sim.Samples, cfg.Sim.CandleEvery, time.Now().UnixNano())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := time.Now().UTC().Truncate(interval)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			end := now.UTC().Truncate(interval)
			if !end.After(start) {
				end = start.Add(interval)
			}
			prices, candles := gen.step(start, end)
			start = end

			for i := range prices {
				if err := pub.publish(ctx, cfg.Feed.PriceTopic, prices[i].Symbol, prices[i].JSON()); err != nil {
					log.Warnw("[feedsim] publish failed", "topic", cfg.Feed.PriceTopic, "error", err)
				}
			}
			for i := range candles {
				if err := pub.publish(ctx, cfg.Feed.CandleTopic, candles[i].Symbol, candles[i].JSON()); err != nil {
					log.Warnw("[feedsim] publish failed", "topic", cfg.Feed.CandleTopic, "error", err)
				}
			}
		}
	}
}
