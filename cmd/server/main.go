package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/token-indexer/internal/api"
	"github.com/token-indexer/internal/chain"
	"github.com/token-indexer/internal/config"
	"github.com/token-indexer/internal/endpoint"
	"github.com/token-indexer/internal/indexer"
	"github.com/token-indexer/internal/interpreter"
	"github.com/token-indexer/internal/logging"
	"github.com/token-indexer/internal/notify"
	"github.com/token-indexer/internal/resolver"
	"github.com/token-indexer/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("failed to load configuration")
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	logger.Info("starting token indexer")

	// Storage
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to Postgres")
	}
	defer postgres.Close()

	redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to Redis")
	}
	defer redisCache.Close()

	cacheService := storage.NewCacheService(redisCache)

	pingers := map[string]api.Pinger{
		"postgres": postgres,
		"redis":    redisCache,
	}

	// Analytics mirror is optional; the indexer runs without it.
	var analytics *storage.AnalyticsRepository
	var statsService api.StatsService
	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Warn("ClickHouse unavailable, analytics mirror disabled")
		} else {
			defer clickhouse.Close()
			analytics = storage.NewAnalyticsRepository(clickhouse)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := analytics.EnsureSchema(ctx); err != nil {
				logger.WithError(err).Warn("failed to prepare analytics schema, mirror disabled")
				analytics = nil
			}
			cancel()
			if analytics != nil {
				statsService = analytics
				pingers["clickhouse"] = clickhouse
			}
		}
	}

	// Chain access
	reader, err := chain.NewEthereumReader(cfg.Chain.RPCPrimary, cfg.Chain.RPCSecondary, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to chain RPC")
	}
	defer reader.Close()

	// Repositories
	jobRepo := storage.NewJobRepository(postgres)
	tokenRepo := storage.NewTokenRepository(postgres)
	transferRepo := storage.NewTransferRepository(postgres)
	endpointRepo := storage.NewEndpointRepository(postgres)

	// Core services
	bus := notify.NewBus(logger)
	registry := resolver.New(logger)
	recency := indexer.NewRecencyChecker(cacheService, transferRepo, cfg.Cache.FreshnessWindow, logger)

	var mirror indexer.AnalyticsMirror
	if analytics != nil {
		mirror = analytics
	}
	processor := indexer.NewProcessor(transferRepo, tokenRepo, mirror, reader, bus, registry, logger)
	scanner := indexer.NewScanner(reader, processor, cfg.Scanner, logger)

	generator := endpoint.NewGenerator(endpointRepo, registry, reader, bus, logger)
	executor := endpoint.NewExecutor(
		postgres, endpointRepo, cacheService,
		cfg.Cache.HotTTL, cfg.Cache.WarmTTL, cfg.Cache.ColdTTL,
		logger,
	)

	var manager *indexer.Manager
	pool := indexer.NewPool(cfg.Worker.PoolSize, cfg.Worker.QueueSize, func(jobID string, recovered interface{}) {
		manager.HandlePanic(jobID, recovered)
	}, logger)
	manager = indexer.NewManager(
		interpreter.NewHeuristic(), registry, recency,
		jobRepo, tokenRepo, scanner, pool, bus, generator, logger,
	)

	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := generator.EnsureDefault(ctx); err != nil {
			logger.WithError(err).Warn("failed to register default endpoint")
		}
		cancel()
	}

	server := api.NewServer(
		&api.ServerConfig{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		manager, executor, endpointRepo, statsService, bus, pingers, logger,
	)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.WithField("signal", sig.String()).Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("server stopped unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown failed")
	}

	pool.Stop()
	bus.Close()

	logger.Info("token indexer stopped")
}
