package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pair-tracker/internal/models"
)

// setupPostgres starts a Postgres container, applies the migrations and
// returns a repository bound to it
func setupPostgres(t *testing.T) *TransactionRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("pair_tracker"),
		postgres.WithUsername("tracker"),
		postgres.WithPassword("tracker"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrations := filepath.Join(findProjectRoot(t), "migrations", "postgres")
	migrator, err := NewMigrator(dsn, migrations)
	require.NoError(t, err)
	t.Cleanup(func() { _ = migrator.Close() })

	db, err := OpenPostgres(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	assert.ErrorIs(t, db.CheckSchema(ctx), ErrSchemaMissing)

	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Up(), "re-running an applied schema is a no-op")

	version, dirty, err := migrator.Version()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)
	require.NoError(t, db.CheckSchema(ctx))

	return NewTransactionRepository(db)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// findProjectRoot walks up from the working directory to go.mod
func findProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}

var baseTime = time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)

func row(hash string, logIndex int64, at time.Time, symbol, value string) *models.Transaction {
	return &models.Transaction{
		Hash:            hash,
		BlockNumber:     17_000_000 + uint64(at.Sub(baseTime)/time.Minute),
		LogIndex:        logIndex,
		Date:            at,
		From:            "0x88e6a0c2ddd26feeb64f039a2c41296fcb3f5640",
		To:              "0x000000000000000000000000000000000000dead",
		ContractAddress: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
		Value:           value,
		TokenName:       symbol,
		TokenSymbol:     symbol,
		TokenDecimal:    "18",
		Fee:             "3000000",
		Confirmations:   "10",
	}
}

func sampleRows() []*models.Transaction {
	return []*models.Transaction{
		row("0xAAA1", 1, baseTime, "WETH", "1000000000000000000"),
		row("0xaaa1", 2, baseTime, "USDC", "2000000"),
		row("0xbbb2", 5, baseTime.Add(30*time.Minute), "WETH", "500000000000000000"),
		row("0xccc3", 7, baseTime.Add(2*time.Hour), "USDC", "42"),
	}
}

func TestTransactionRepositoryBulkInsertIsIdempotent(t *testing.T) {
	repo := setupPostgres(t)
	ctx := testContext(t)

	inserted, err := repo.BulkInsert(ctx, sampleRows())
	require.NoError(t, err)
	assert.Equal(t, int64(4), inserted)

	inserted, err = repo.BulkInsert(ctx, sampleRows())
	require.NoError(t, err)
	assert.Zero(t, inserted)

	// duplicates inside one call collapse too
	dup := row("0xddd4", 0, baseTime.Add(3*time.Hour), "WETH", "1")
	inserted, err = repo.BulkInsert(ctx, []*models.Transaction{dup, dup})
	require.NoError(t, err)
	assert.Equal(t, int64(1), inserted)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestTransactionRepositoryReads(t *testing.T) {
	repo := setupPostgres(t)
	ctx := testContext(t)

	_, err := repo.BulkInsert(ctx, sampleRows())
	require.NoError(t, err)

	t.Run("find by hash is case insensitive", func(t *testing.T) {
		rows, err := repo.FindByHash(ctx, "0xAaA1")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(2), rows[0].LogIndex)
		assert.Equal(t, time.UTC, rows[0].Date.Location())
	})

	t.Run("find by hash miss", func(t *testing.T) {
		rows, err := repo.FindByHash(ctx, "0xffff")
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("find by date range", func(t *testing.T) {
		rows, err := repo.FindByDateRange(ctx, baseTime, baseTime.Add(time.Hour), "")
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "0xbbb2", rows[0].Hash)

		rows, err = repo.FindByDateRange(ctx, baseTime, baseTime.Add(3*time.Hour), "0xccc3")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "42", rows[0].Value)
	})

	t.Run("probe boundaries", func(t *testing.T) {
		bounds, err := repo.ProbeBoundaries(ctx, baseTime, baseTime.Add(2*time.Hour), time.Minute)
		require.NoError(t, err)
		require.True(t, bounds.Complete())
		assert.Equal(t, "0xaaa1", bounds.Start.Hash)
		assert.Equal(t, "0xccc3", bounds.End.Hash)

		bounds, err = repo.ProbeBoundaries(ctx, baseTime.Add(-time.Hour), baseTime.Add(2*time.Hour), time.Minute)
		require.NoError(t, err)
		assert.False(t, bounds.Complete())
		assert.Nil(t, bounds.Start)
		assert.NotNil(t, bounds.End)
	})

	t.Run("list page", func(t *testing.T) {
		rows, total, err := repo.ListPage(ctx, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
		require.Len(t, rows, 2)
		assert.Equal(t, "0xbbb2", rows[0].Hash)
	})
}

func TestTransactionRepositoryEmptyListPage(t *testing.T) {
	repo := setupPostgres(t)

	rows, total, err := repo.ListPage(testContext(t), 0, 50)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, rows)
}
