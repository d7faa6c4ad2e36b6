// Package main provides the lobby server binary: a WebSocket gateway plus
// the lobby coordinator, backed by an in-process store or by Redis when a
// REDIS_URL is configured.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/Oko-Tester/multiplayer-lobby-railway/internal/config"
	"github.com/Oko-Tester/multiplayer-lobby-railway/internal/gateway"
	"github.com/Oko-Tester/multiplayer-lobby-railway/internal/lobby"
	"github.com/Oko-Tester/multiplayer-lobby-railway/internal/observability"
	"github.com/Oko-Tester/multiplayer-lobby-railway/internal/server"
	"github.com/Oko-Tester/multiplayer-lobby-railway/internal/stats"
	"github.com/Oko-Tester/multiplayer-lobby-railway/internal/storage/redisstore"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	metrics := observability.NewMetrics(logger)
	lifecycle := server.NewLifecycle(logger)

	localBus := lobby.NewLocalBus(logger)

	var (
		store       lobby.Store
		bus         lobby.Bus
		registry    lobby.PeerRegistry
		storeHealth func(ctx context.Context) error
	)

	if cfg.Redis.Enabled() {
		client, err := redisstore.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Fatal("connecting to redis", zap.Error(err))
		}
		logger.Info("using redis-backed store and bus")

		redisBus := redisstore.NewBus(client, localBus, logger)
		store = redisstore.NewStore(client)
		bus = redisBus
		registry = redisBus
		storeHealth = func(ctx context.Context) error {
			return client.Health(ctx, 2*time.Second)
		}

		lifecycle.Add("redis-relay", redisBus)
		lifecycle.Add("redis-client", &server.FuncService{
			StartFn: func() error { return nil },
			StopFn:  func() { _ = client.Close() },
		})
	} else {
		logger.Info("no redis configured, using in-memory store and local bus")
		store = lobby.NewMemoryStore()
		bus = localBus
		registry = localBus
	}

	coordinator := lobby.NewCoordinator(store, bus, logger, metrics)

	gauge := &stats.ConnectionGauge{}
	reporter := stats.NewReporter(store, gauge, storeHealth)

	gw := gateway.NewServer(cfg.Server, coordinator, registry, reporter, gauge, logger)
	lifecycle.Add("gateway", gw)

	logger.Info("starting lobby server",
		zap.String("addr", cfg.Server.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("lobby server exited", zap.Error(err))
	}
}
