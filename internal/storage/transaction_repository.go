package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pair-tracker/internal/models"
)

const transactionColumns = `hash, block_number, log_index, date, from_address, to_address,
	contract_address, value, token_name, token_symbol, token_decimal, fee, confirmations`

// insertChunkSize bounds the number of statements queued in one pgx batch
const insertChunkSize = 1000

// TransactionRepository persists transfer rows in Postgres
type TransactionRepository struct {
	db *PostgresDB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *PostgresDB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

var _ TransferRepository = (*TransactionRepository)(nil)

// FindByHash retrieves all rows of a transaction hash
func (r *TransactionRepository) FindByHash(ctx context.Context, hash string) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE hash = $1
		ORDER BY date DESC, log_index DESC`

	rows, err := r.db.Pool().Query(ctx, query, strings.ToLower(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions by hash: %w", err)
	}
	result, err := collectTransactions(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan transactions by hash: %w", err)
	}
	return result, nil
}

// FindByDateRange retrieves rows inside [start, end], optionally narrowed to one hash
func (r *TransactionRepository) FindByDateRange(ctx context.Context, start, end time.Time, hash string) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE date >= $1 AND date <= $2`
	args := []any{start.UTC(), end.UTC()}

	if hash != "" {
		query += ` AND hash = $3`
		args = append(args, strings.ToLower(hash))
	}
	query += ` ORDER BY date DESC, log_index DESC`

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions by date range: %w", err)
	}
	result, err := collectTransactions(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan transactions by date range: %w", err)
	}
	return result, nil
}

// ProbeBoundaries looks for stored rows just inside each end of the range.
// Both probes run in one read-only snapshot.
func (r *TransactionRepository) ProbeBoundaries(ctx context.Context, start, end time.Time, window time.Duration) (*Boundaries, error) {
	startQuery := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE date >= $1 AND date <= $2
		ORDER BY date ASC, log_index ASC
		LIMIT 1`
	endQuery := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE date >= $1 AND date <= $2
		ORDER BY date DESC, log_index DESC
		LIMIT 1`

	bounds := &Boundaries{}
	err := r.readOnly(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(startQuery, start.UTC(), start.Add(window).UTC())
		batch.Queue(endQuery, end.Add(-window).UTC(), end.UTC())

		br := tx.SendBatch(ctx, batch)
		defer br.Close()

		var err error
		if bounds.Start, err = collectOptional(br); err != nil {
			return fmt.Errorf("start probe: %w", err)
		}
		if bounds.End, err = collectOptional(br); err != nil {
			return fmt.Errorf("end probe: %w", err)
		}
		return br.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to probe range boundaries: %w", err)
	}
	return bounds, nil
}

// ListPage retrieves one page of rows ordered by date desc with the total count
func (r *TransactionRepository) ListPage(ctx context.Context, skip, take int) ([]*models.Transaction, int64, error) {
	pageQuery := `SELECT ` + transactionColumns + `
		FROM transactions
		ORDER BY date DESC, log_index DESC
		OFFSET $1 LIMIT $2`

	var (
		result []*models.Transaction
		total  int64
	)
	err := r.readOnly(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(pageQuery, skip, take)
		batch.Queue(`SELECT count(*) FROM transactions`)

		br := tx.SendBatch(ctx, batch)
		defer br.Close()

		rows, err := br.Query()
		if err != nil {
			return err
		}
		if result, err = collectTransactions(rows); err != nil {
			return err
		}
		if err := br.QueryRow().Scan(&total); err != nil {
			return err
		}
		return br.Close()
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	return result, total, nil
}

// BulkInsert inserts rows, skipping events already stored
func (r *TransactionRepository) BulkInsert(ctx context.Context, rows []*models.Transaction) (int64, error) {
	rows = dedupeByKey(rows)
	if len(rows) == 0 {
		return 0, nil
	}

	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT ON CONSTRAINT transactions_event_key DO NOTHING`

	var inserted int64
	for chunkStart := 0; chunkStart < len(rows); chunkStart += insertChunkSize {
		chunkEnd := min(chunkStart+insertChunkSize, len(rows))

		batch := &pgx.Batch{}
		for _, row := range rows[chunkStart:chunkEnd] {
			batch.Queue(query,
				strings.ToLower(row.Hash),
				row.BlockNumber,
				row.LogIndex,
				row.Date.UTC(),
				strings.ToLower(row.From),
				strings.ToLower(row.To),
				strings.ToLower(row.ContractAddress),
				row.Value,
				row.TokenName,
				row.TokenSymbol,
				row.TokenDecimal,
				row.Fee,
				row.Confirmations,
			)
		}

		n, err := r.sendInsertBatch(ctx, batch)
		inserted += n
		if err != nil {
			return inserted, fmt.Errorf("failed to insert transactions: %w", err)
		}
	}
	return inserted, nil
}

func (r *TransactionRepository) sendInsertBatch(ctx context.Context, batch *pgx.Batch) (int64, error) {
	var inserted int64
	err := pgx.BeginFunc(ctx, r.db.Pool(), func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		defer br.Close()

		for i := 0; i < batch.Len(); i++ {
			tag, err := br.Exec()
			if err != nil {
				return err
			}
			inserted += tag.RowsAffected()
		}
		return br.Close()
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// Count returns the number of stored rows
func (r *TransactionRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.Pool().QueryRow(ctx, `SELECT count(*) FROM transactions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// readOnly runs fn inside a read-only repeatable-read transaction
func (r *TransactionRepository) readOnly(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, r.db.Pool(), pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, fn)
}

func collectTransactions(rows pgx.Rows) ([]*models.Transaction, error) {
	result, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[models.Transaction])
	if err != nil {
		return nil, err
	}
	for _, tx := range result {
		tx.Date = tx.Date.UTC()
	}
	return result, nil
}

// collectOptional reads the next batch result as at most one row
func collectOptional(br pgx.BatchResults) (*models.Transaction, error) {
	rows, err := br.Query()
	if err != nil {
		return nil, err
	}
	tx, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[models.Transaction])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tx.Date = tx.Date.UTC()
	return tx, nil
}
