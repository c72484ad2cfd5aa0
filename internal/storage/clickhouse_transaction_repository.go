package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/pair-tracker/internal/models"
)

// ClickHouseTransactionRepository persists transfer rows in ClickHouse.
// Reads use FINAL so rows collapsed by ReplacingMergeTree are never double counted.
type ClickHouseTransactionRepository struct {
	db *ClickHouseDB
}

// NewClickHouseTransactionRepository creates a new ClickHouse-backed repository
func NewClickHouseTransactionRepository(db *ClickHouseDB) *ClickHouseTransactionRepository {
	return &ClickHouseTransactionRepository{db: db}
}

var _ TransferRepository = (*ClickHouseTransactionRepository)(nil)

// FindByHash retrieves all rows of a transaction hash
func (r *ClickHouseTransactionRepository) FindByHash(ctx context.Context, hash string) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions FINAL
		WHERE hash = ?
		ORDER BY date DESC, log_index DESC`

	result, err := r.query(ctx, query, strings.ToLower(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions by hash: %w", err)
	}
	return result, nil
}

// FindByDateRange retrieves rows inside [start, end], optionally narrowed to one hash
func (r *ClickHouseTransactionRepository) FindByDateRange(ctx context.Context, start, end time.Time, hash string) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions FINAL
		WHERE date >= ? AND date <= ?`
	args := []any{start.UTC(), end.UTC()}

	if hash != "" {
		query += ` AND hash = ?`
		args = append(args, strings.ToLower(hash))
	}
	query += ` ORDER BY date DESC, log_index DESC`

	result, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions by date range: %w", err)
	}
	return result, nil
}

// ProbeBoundaries looks for stored rows just inside each end of the range.
// ClickHouse has no multi-statement snapshot, but rows are never updated or
// deleted, so two plain reads observe a monotonically growing set.
func (r *ClickHouseTransactionRepository) ProbeBoundaries(ctx context.Context, start, end time.Time, window time.Duration) (*Boundaries, error) {
	startQuery := `SELECT ` + transactionColumns + `
		FROM transactions FINAL
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC, log_index ASC
		LIMIT 1`
	endQuery := `SELECT ` + transactionColumns + `
		FROM transactions FINAL
		WHERE date >= ? AND date <= ?
		ORDER BY date DESC, log_index DESC
		LIMIT 1`

	startRows, err := r.query(ctx, startQuery, start.UTC(), start.Add(window).UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to probe range start: %w", err)
	}
	endRows, err := r.query(ctx, endQuery, end.Add(-window).UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to probe range end: %w", err)
	}

	bounds := &Boundaries{}
	if len(startRows) > 0 {
		bounds.Start = startRows[0]
	}
	if len(endRows) > 0 {
		bounds.End = endRows[0]
	}
	return bounds, nil
}

// ListPage retrieves one page of rows ordered by date desc with the total count
func (r *ClickHouseTransactionRepository) ListPage(ctx context.Context, skip, take int) ([]*models.Transaction, int64, error) {
	total, err := r.Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + transactionColumns + `
		FROM transactions FINAL
		ORDER BY date DESC, log_index DESC
		LIMIT ? OFFSET ?`

	result, err := r.query(ctx, query, take, skip)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	return result, total, nil
}

// BulkInsert inserts rows whose event key is not stored yet
func (r *ClickHouseTransactionRepository) BulkInsert(ctx context.Context, rows []*models.Transaction) (int64, error) {
	rows = dedupeByKey(rows)
	if len(rows) == 0 {
		return 0, nil
	}

	known, err := r.existingKeys(ctx, rows)
	if err != nil {
		return 0, err
	}

	fresh := make([]*models.Transaction, 0, len(rows))
	for _, row := range rows {
		if _, ok := known[row.EventKey()]; !ok {
			fresh = append(fresh, row)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `INSERT INTO transactions (`+transactionColumns+`)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, row := range fresh {
		err := batch.Append(
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
		if err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("failed to append transaction %s to batch: %w", row.Hash, err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send batch: %w", err)
	}
	return int64(len(fresh)), nil
}

// Count returns the number of stored rows
func (r *ClickHouseTransactionRepository) Count(ctx context.Context) (int64, error) {
	var count uint64
	if err := r.db.Conn().QueryRow(ctx, `SELECT count() FROM transactions FINAL`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return int64(count), nil // #nosec G115 - row counts fit in int64
}

func (r *ClickHouseTransactionRepository) existingKeys(ctx context.Context, rows []*models.Transaction) (map[string]struct{}, error) {
	hashSet := make(map[string]struct{}, len(rows))
	hashes := make([]string, 0, len(rows))
	for _, row := range rows {
		h := strings.ToLower(row.Hash)
		if _, ok := hashSet[h]; !ok {
			hashSet[h] = struct{}{}
			hashes = append(hashes, h)
		}
	}

	query := `SELECT ` + transactionColumns + `
		FROM transactions FINAL
		WHERE has(?, hash)`
	stored, err := r.query(ctx, query, hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing event keys: %w", err)
	}

	keys := make(map[string]struct{}, len(stored))
	for _, tx := range stored {
		keys[tx.EventKey()] = struct{}{}
	}
	return keys, nil
}

func (r *ClickHouseTransactionRepository) query(ctx context.Context, query string, args ...any) ([]*models.Transaction, error) {
	rows, err := r.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClickHouseRows(rows)
}

func scanClickHouseRows(rows driver.Rows) ([]*models.Transaction, error) {
	var result []*models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.ScanStruct(&tx); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Date = tx.Date.UTC()
		result = append(result, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if result == nil {
		result = []*models.Transaction{}
	}
	return result, nil
}
