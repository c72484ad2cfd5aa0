// Package main provides the live sync worker entry point for the pair tracker.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pair-tracker/internal/adapter"
	"github.com/pair-tracker/internal/circuitbreaker"
	"github.com/pair-tracker/internal/config"
	"github.com/pair-tracker/internal/logging"
	"github.com/pair-tracker/internal/queue"
	"github.com/pair-tracker/internal/ratelimit"
	"github.com/pair-tracker/internal/retry"
	"github.com/pair-tracker/internal/storage"
	"github.com/pair-tracker/internal/worker"
)

func main() {
	fmt.Println("Pair Tracker Live Sync Worker")
	log.Println("Worker starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))

	if !cfg.LiveSync.Enabled {
		log.Println("Live sync disabled (LIVE_SYNC_ENABLED=false), exiting")
		return
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelStartup()

	log.Println("Connecting to databases...")
	sink, closeSink, err := openSink(startupCtx, cfg)
	if err != nil {
		log.Fatalf("Failed to open transfer store: %v", err)
	}
	defer closeSink()

	opts := []adapter.EtherscanOption{
		adapter.WithBreaker(circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("etherscan"))),
	}

	// Background polling only gets the shared pool of the explorer budget so
	// request-path lookups in the API server keep their reserved calls.
	if cfg.Etherscan.SharedBudget {
		redis, err := retry.Connect(startupCtx, "redis", func(ctx context.Context) (*storage.RedisCache, error) {
			return storage.NewRedisCache(ctx, &cfg.Database.Redis)
		})
		if err != nil {
			log.Printf("WARNING: %v. Continuing with a local explorer throttle.", err)
		} else {
			defer redis.Close()
			tracker, err := ratelimit.NewBudgetTracker(ratelimit.ConfigForRate(redis.Client(), "etherscan", cfg.Etherscan.EtherscanRPS()))
			if err != nil {
				log.Printf("WARNING: Failed to create budget tracker: %v. Continuing with a local explorer throttle.", err)
			} else {
				opts = append(opts, adapter.WithThrottle(tracker.Gate(ratelimit.PriorityLow)))
				log.Println("Explorer calls drawing from the shared budget (low priority)")
			}
		}
	}

	explorer := adapter.NewEtherscanClient(&cfg.Etherscan, opts...)

	workerCfg := &worker.LiveSyncWorkerConfig{
		Explorer:     explorer,
		Sink:         sink,
		PollInterval: cfg.LiveSync.Interval,
		PageSize:     cfg.LiveSync.PageSize,
	}
	if cfg.Kafka.Enabled() {
		publisher, err := queue.NewTransferPublisher(&cfg.Kafka)
		if err != nil {
			log.Fatalf("Failed to create transfer publisher: %v", err)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Printf("Error closing transfer publisher: %v", err)
			}
		}()
		workerCfg.Publisher = publisher
		log.Printf("Publishing new transfers to Kafka topic %s", cfg.Kafka.Topic)
	}

	liveSync, err := worker.NewLiveSyncWorker(workerCfg)
	if err != nil {
		log.Fatalf("Failed to create live sync worker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := liveSync.Start(ctx); err != nil {
		log.Fatalf("Failed to start live sync worker: %v", err)
	}
	log.Println("Worker started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := liveSync.Stop(stopCtx); err != nil {
		log.Printf("Error stopping live sync worker: %v", err)
	}
	log.Println("Worker exited")
}

// openSink connects to the backend selected by STORAGE_BACKEND
func openSink(ctx context.Context, cfg *config.Config) (worker.TransferSink, func(), error) {
	if cfg.Database.Backend == config.BackendClickHouse {
		db, err := retry.Connect(ctx, "clickhouse", func(ctx context.Context) (*storage.ClickHouseDB, error) {
			return storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
		})
		if err != nil {
			return nil, nil, err
		}
		if err := db.CheckSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return storage.NewClickHouseTransactionRepository(db), func() { _ = db.Close() }, nil
	}

	db, err := retry.Connect(ctx, "postgres", func(ctx context.Context) (*storage.PostgresDB, error) {
		return storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
	})
	if err != nil {
		return nil, nil, err
	}
	if err := db.CheckSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return storage.NewTransactionRepository(db), db.Close, nil
}
