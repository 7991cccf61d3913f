package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/city-engagement/internal/catalog"
	"github.com/city-engagement/internal/config"
	"github.com/city-engagement/internal/engine"
	"github.com/city-engagement/internal/handler"
	"github.com/city-engagement/internal/kafka"
	"github.com/city-engagement/internal/memory"
	"github.com/city-engagement/internal/postgres"
	"github.com/city-engagement/internal/redis"
	"github.com/city-engagement/internal/service"
	"github.com/city-engagement/internal/websocket"
	"github.com/city-engagement/internal/worker"
)

type profileBackend interface {
	service.ProfileStore
	worker.ProfileLister
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &level,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}
	level.Set(cfg.Log.SlogLevel())

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cat := catalog.Default()
	if cfg.Engine.CatalogPath != "" {
		cat, err = catalog.Load(cfg.Engine.CatalogPath)
		if err != nil {
			logger.Error("failed to load catalog", "path", cfg.Engine.CatalogPath, "error", err)
			os.Exit(1)
		}
	}
	logger.Info("catalog loaded", "version", cat.Version(), "badges", len(cat.Badges()))

	location, err := cfg.Engine.Location()
	if err != nil {
		logger.Error("invalid engine timezone", "error", err)
		os.Exit(1)
	}

	var checks []struct {
		name  string
		check handler.ReadinessCheck
	}
	addCheck := func(name string, check handler.ReadinessCheck) {
		checks = append(checks, struct {
			name  string
			check handler.ReadinessCheck
		}{name, check})
	}

	// Profile store
	var store profileBackend
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer repo.Close()

		if err := repo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		addCheck("postgres", repo.Ping)
		store = repo
		logger.Info("connected to PostgreSQL")
	default:
		logger.Warn("using in-memory profile store; profiles are lost on restart")
		store = memory.NewProfileStore()
	}

	// Ranking index
	var index service.RankIndex
	switch cfg.Storage.Index {
	case config.IndexRedis:
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		redisIndex, err := redis.NewRankIndex(&cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisIndex.Close()
		addCheck("redis", redisIndex.Ping)
		index = redisIndex
		logger.Info("connected to Redis")
	default:
		index = memory.NewRankIndex()
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize services
	boards, err := service.NewLeaderboardManager(index, &cfg.Leaderboard, location, cfg.Engine.StrictInvariants, logger)
	if err != nil {
		logger.Error("invalid leaderboard configuration", "error", err)
		os.Exit(1)
	}
	pipeline := engine.NewPipeline(cat, engine.Options{
		Location:           location,
		EnforceDailyLimits: cfg.Engine.EnforceDailyLimits,
	})
	engagementService := service.NewEngagementService(pipeline, store, boards, &cfg.Engine, logger)
	engagementService.SetHub(wsHub)

	// Reconcile the ranking index with stored profiles, at startup and periodically
	syncWorker := worker.NewSyncWorker(store, boards, &cfg.Sync, logger)
	if cfg.Sync.Enabled {
		if err := syncWorker.Start(ctx); err != nil {
			logger.Error("failed to start sync worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer for action ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		var err error
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, engagementService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(engagementService, wsHub, logger)
	for _, c := range checks {
		httpHandler.AddReadinessCheck(c.name, c.check)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting requests before the consumers so in-flight actions finish
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if err := syncWorker.Stop(); err != nil {
		logger.Error("failed to stop sync worker", "error", err)
	}

	wsHub.Stop()

	logger.Info("server stopped")
}
