// Package storage provides database connections and the transfer repositories.
package storage

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pair-tracker/internal/config"
)

// ErrSchemaMissing means the connection works but migrations were never applied
var ErrSchemaMissing = fmt.Errorf("transactions table not found, run cmd/migrate first")

// PostgresDB wraps the pgxpool connection
type PostgresDB struct {
	pool *pgxpool.Pool
}

// PostgresURL builds a postgres:// URL, the form both pgx and golang-migrate accept
func PostgresURL(cfg *config.PostgresConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, cfg.Port),
		Path:     "/" + cfg.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// NewPostgresDB opens a pool sized from config and checks that it answers
func NewPostgresDB(ctx context.Context, cfg *config.PostgresConfig) (*PostgresDB, error) {
	return OpenPostgres(ctx, PostgresURL(cfg), cfg.MaxConnections)
}

// OpenPostgres opens a pool for an explicit connection URL. maxConns <= 0
// keeps the pgx default.
func OpenPostgres(ctx context.Context, connString string, maxConns int) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns) // #nosec G115 - bounded by config
	}
	// lookups are bursty; keep one warm connection for the first request
	poolConfig.MinConns = 1
	poolConfig.MaxConnIdleTime = 15 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// CheckSchema verifies that the transactions table exists
func (db *PostgresDB) CheckSchema(ctx context.Context) error {
	var table *string
	if err := db.pool.QueryRow(ctx, `SELECT to_regclass('transactions')::text`).Scan(&table); err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if table == nil {
		return ErrSchemaMissing
	}
	return nil
}

// Close closes the database connection pool
func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Pool returns the underlying connection pool
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks if the database is reachable
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}
