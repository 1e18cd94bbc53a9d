package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketdash/config"
	"marketdash/internal/aggregator"
	"marketdash/internal/api"
	"marketdash/internal/feed"
	"marketdash/internal/feed/kafkafeed"
	"marketdash/internal/feed/redisps"
	"marketdash/internal/feed/stomp"
	"marketdash/internal/ingest"
	"marketdash/internal/logger"
	"marketdash/internal/metrics"
	"marketdash/internal/model"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[dashboard] %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Service: cfg.App.Name, Level: cfg.App.LogLevel, File: cfg.App.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "[dashboard] %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Infow("[dashboard] starting", "transport", cfg.Feed.Transport, "http", cfg.App.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatalw("[dashboard] exited with error", "error", err)
	}
	log.Info("[dashboard] shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.New(reg)

	// ---- Aggregator ----
	events := make(chan model.Event, cfg.Feed.EventBuffer)
	agg := aggregator.New(aggregator.Config{
		PriceCapacity:  cfg.Buffer.PriceCapacity,
		CandleCapacity: cfg.Buffer.CandleCapacity,
		ActiveSymbol:   cfg.Buffer.ActiveSymbol,
	})
	agg.OnEvicted = prom.Evicted
	agg.OnOrderingAnomaly = func(symbol string, kind model.Kind) {
		prom.Anomaly(symbol, kind)
		log.Debugw("[aggregator] out-of-order event appended", "symbol", symbol, "kind", kind.String())
	}

	// ---- Feed connection ----
	transport, closeTransport, err := newTransport(cfg, log)
	if err != nil {
		return err
	}
	defer closeTransport()

	mgr := feed.NewManager(transport, feed.ManagerConfig{ReconnectDelay: cfg.Feed.ReconnectDelay()}, log)
	health := metrics.NewHealthStatus(transport.Name())
	mgr.Observe(prom.State)
	mgr.Observe(health.SetState)
	mgr.OnReconnect = prom.Reconnects.Inc

	ing := ingest.New([]ingest.Route{
		{Topic: cfg.Feed.PriceTopic, Kind: model.KindPrice},
		{Topic: cfg.Feed.CandleTopic, Kind: model.KindCandle},
	}, events, log)
	ing.OnDecoded = prom.Event
	ing.OnDecodeError = prom.DecodeError
	ing.OnDropped = prom.DroppedEvents.Inc
	ing.Attach(mgr)

	// ---- HTTP ----
	router := api.NewRouter(api.Deps{
		Store:   agg,
		Conn:    mgr,
		Health:  health,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Log:     log,
		OnClear: prom.Clears.Inc,
	})
	srv := &http.Server{Addr: cfg.App.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		agg.Run(ctx, events)
		return nil
	})

	g.Go(func() error {
		if cfg.Feed.AutoConnect {
			mgr.Connect()
		}
		<-ctx.Done()
		mgr.Disconnect()
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				st := agg.Stats()
				prom.Symbols.Set(float64(st.Symbols))
				prom.QueueFill(len(events), cap(events))
				health.SetSymbols(st.Symbols)
				health.SetLastEventTime(agg.LastEventAt())
				log.Debugw("[dashboard] stats", "symbols", st.Symbols, "events", st.Events,
					"evictions", st.Evictions, "ingest", ing.Stats())
			}
		}
	})

	g.Go(func() error {
		log.Infow("[api] listening", "addr", cfg.App.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newTransport builds the configured feed transport and a cleanup func for
// any client it owns.
func newTransport(cfg *config.Config, log *zap.SugaredLogger) (feed.Transport, func(), error) {
	switch cfg.Feed.Transport {
	case "stomp":
		return stomp.New(cfg.Feed.URL, cfg.Feed.Heartbeat(), log), func() {}, nil
	case "redis":
		client := redisps.NewClient(redisps.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return redisps.New(client, cfg.Feed.Heartbeat(), log), func() { client.Close() }, nil
	case "kafka":
		return kafkafeed.New(kafkafeed.Config{
			Brokers:   cfg.Kafka.Brokers,
			GroupID:   cfg.Kafka.GroupID,
			Heartbeat: cfg.Feed.Heartbeat(),
		}, log), func() {}, nil
	default:
		return nil, nil, &config.ConfigError{Field: "FEED_TRANSPORT", Reason: "unknown transport " + cfg.Feed.Transport}
	}
}
