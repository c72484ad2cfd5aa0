// Command migrate applies the transactions schema to the configured backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pair-tracker/internal/config"
	"github.com/pair-tracker/internal/storage"
)

type options struct {
	action  string
	backend string
	dir     string
	steps   int
	version int
}

func main() {
	var opts options
	flag.StringVar(&opts.action, "action", "up", "up, down, version or force")
	flag.StringVar(&opts.backend, "db", "", "postgres or clickhouse (defaults to STORAGE_BACKEND)")
	flag.StringVar(&opts.dir, "dir", "migrations", "directory holding the postgres/ and clickhouse/ sets")
	flag.IntVar(&opts.steps, "steps", 1, "number of migrations to roll back with -action=down")
	flag.IntVar(&opts.version, "version", -1, "version to record with -action=force")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if opts.backend == "" {
		opts.backend = cfg.Database.Backend
	}

	dir := filepath.Join(opts.dir, opts.backend)
	if _, err := os.Stat(dir); err != nil {
		log.Fatalf("Migrations directory %s: %v", dir, err)
	}

	switch opts.backend {
	case config.BackendPostgres:
		err = migratePostgres(storage.PostgresURL(&cfg.Database.Postgres), dir, opts)
	case config.BackendClickHouse:
		err = migrateClickHouse(&cfg.Database.ClickHouse, dir, opts)
	default:
		err = fmt.Errorf("unknown backend %q", opts.backend)
	}
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

func migratePostgres(databaseURL, dir string, opts options) error {
	mg, err := storage.NewMigrator(databaseURL, dir)
	if err != nil {
		return err
	}
	defer func() {
		if err := mg.Close(); err != nil {
			log.Printf("Error closing migrator: %v", err)
		}
	}()

	switch opts.action {
	case "up":
		err = mg.Up()
	case "down":
		log.Printf("Rolling back %d Postgres migration(s)", opts.steps)
		err = mg.Down(opts.steps)
	case "force":
		if opts.version < 0 {
			return fmt.Errorf("-version is required with -action=force")
		}
		err = mg.Force(opts.version)
	case "version":
	default:
		return fmt.Errorf("unknown action %q", opts.action)
	}
	if err != nil {
		return err
	}

	version, dirty, err := mg.Version()
	if err != nil {
		return err
	}
	log.Printf("Postgres schema at version %d (dirty: %v)", version, dirty)
	return nil
}

// ClickHouse files are idempotent DDL with no version table, so only "up" applies.
func migrateClickHouse(cfg *config.ClickHouseConfig, dir string, opts options) error {
	if opts.action != "up" {
		return fmt.Errorf("action %q is not supported for clickhouse", opts.action)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := storage.NewClickHouseDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing ClickHouse connection: %v", err)
		}
	}()

	if err := storage.RunClickHouseMigrations(ctx, db, dir); err != nil {
		return err
	}
	if err := db.CheckSchema(ctx); err != nil {
		return err
	}
	log.Println("ClickHouse schema is up to date")
	return nil
}
