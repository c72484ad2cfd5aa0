// Package main provides the API server entry point for the pair tracker.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pair-tracker/internal/adapter"
	"github.com/pair-tracker/internal/api"
	"github.com/pair-tracker/internal/circuitbreaker"
	"github.com/pair-tracker/internal/config"
	"github.com/pair-tracker/internal/logging"
	"github.com/pair-tracker/internal/ratelimit"
	"github.com/pair-tracker/internal/retry"
	"github.com/pair-tracker/internal/service"
	"github.com/pair-tracker/internal/storage"
)

func main() {
	fmt.Println("Pair Tracker API Server")
	log.Println("Server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":   cfg.Logging.Level,
		"format":  cfg.Logging.Format,
		"backend": cfg.Database.Backend,
		"pair":    cfg.Etherscan.PairAddress,
	}).Info("Structured logging initialized")

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelStartup()

	// Connect to the transfer store
	logger.Info("Connecting to databases...")
	store, err := openStore(startupCtx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open transfer store")
	}
	defer store.close()

	checks := map[string]api.HealthCheck{cfg.Database.Backend: store.ping}

	// Redis backs the price cache and the shared explorer budget; the API
	// still serves transfers without it.
	var quoteCache service.QuoteCache
	var budget *ratelimit.BudgetTracker
	redis, err := retry.Connect(startupCtx, "redis", func(ctx context.Context) (*storage.RedisCache, error) {
		return storage.NewRedisCache(ctx, &cfg.Database.Redis)
	})
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, prices will not be cached")
	} else {
		defer redis.Close()
		checks["redis"] = redis.Ping
		quoteCache = storage.NewCacheService(redis, cfg.Prices.TTL)

		if cfg.Etherscan.SharedBudget {
			budget, err = ratelimit.NewBudgetTracker(ratelimit.ConfigForRate(redis.Client(), "etherscan", cfg.Etherscan.EtherscanRPS()))
			if err != nil {
				logger.WithError(err).Warn("Shared explorer budget disabled")
				budget = nil
			}
		}
	}
	logger.Info("Database connections established")

	// Upstream clients
	breakers := circuitbreaker.NewManager()
	opts := []adapter.EtherscanOption{
		adapter.WithBreaker(breakers.GetOrCreate("etherscan", circuitbreaker.DefaultConfig("etherscan"))),
	}
	if budget != nil {
		// request-path lookups draw from the reserved pool
		opts = append(opts, adapter.WithThrottle(budget.Gate(ratelimit.PriorityHigh)))
		logger.Info("Explorer calls drawing from the shared budget")
	}
	explorer := adapter.NewEtherscanClient(&cfg.Etherscan, opts...)
	prices := adapter.NewPriceClient(&cfg.Prices, breakers)

	// Initialize services
	lookupService := service.NewLookupService(store.repo, explorer, service.LookupOptions{
		ProbeWindow: cfg.Lookup.ProbeWindow,
		PageSize:    explorer.PageSize(),
	})
	priceService := service.NewPriceService(prices, quoteCache)
	logger.Info("Services initialized")

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RateLimitRPS:    cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst:  cfg.RateLimit.Burst,
	}
	server := api.NewServer(serverConfig, lookupService, priceService, checks, breakers)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// transferStore is the configured backend plus its lifecycle hooks
type transferStore struct {
	repo  storage.TransferRepository
	ping  api.HealthCheck
	close func()
}

// openStore connects to the backend selected by STORAGE_BACKEND
func openStore(ctx context.Context, cfg *config.Config) (*transferStore, error) {
	switch cfg.Database.Backend {
	case config.BackendClickHouse:
		db, err := retry.Connect(ctx, "clickhouse", func(ctx context.Context) (*storage.ClickHouseDB, error) {
			return storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
		})
		if err != nil {
			return nil, err
		}
		if err := db.CheckSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &transferStore{
			repo: storage.NewClickHouseTransactionRepository(db),
			ping: db.Ping,
			close: func() {
				if err := db.Close(); err != nil {
					log.Printf("Error closing ClickHouse connection: %v", err)
				}
			},
		}, nil
	default:
		db, err := retry.Connect(ctx, "postgres", func(ctx context.Context) (*storage.PostgresDB, error) {
			return storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
		})
		if err != nil {
			return nil, err
		}
		if err := db.CheckSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return &transferStore{
			repo:  storage.NewTransactionRepository(db),
			ping:  db.Ping,
			close: db.Close,
		}, nil
	}
}
