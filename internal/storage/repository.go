package storage

import (
	"context"
	"time"

	"github.com/pair-tracker/internal/models"
)

// TransferRepository is the persistence contract of the lookup engine.
// Rows are only ever inserted; inserts are idempotent on the event key.
type TransferRepository interface {
	// FindByHash returns every stored row of a transaction hash, newest first
	FindByHash(ctx context.Context, hash string) ([]*models.Transaction, error)

	// FindByDateRange returns rows with start <= date <= end, newest first.
	// A non-empty hash narrows the result to that transaction.
	FindByDateRange(ctx context.Context, start, end time.Time, hash string) ([]*models.Transaction, error)

	// ProbeBoundaries reads, in one consistent snapshot, the earliest row in
	// [start, start+window] and the latest row in [end-window, end]
	ProbeBoundaries(ctx context.Context, start, end time.Time, window time.Duration) (*Boundaries, error)

	// ListPage returns one page ordered by date desc plus the total row count
	ListPage(ctx context.Context, skip, take int) ([]*models.Transaction, int64, error)

	// BulkInsert stores rows, silently skipping already known events, and
	// returns how many rows were new
	BulkInsert(ctx context.Context, rows []*models.Transaction) (int64, error)

	// Count returns the number of stored rows
	Count(ctx context.Context) (int64, error)
}

// Boundaries holds the rows found near each end of a date range. Either side
// is nil when the store has nothing there.
type Boundaries struct {
	Start *models.Transaction
	End   *models.Transaction
}

// Complete reports whether both ends of the range are already covered
func (b *Boundaries) Complete() bool {
	return b != nil && b.Start != nil && b.End != nil
}

// dedupeByKey drops rows whose event key repeats within one insert call
func dedupeByKey(rows []*models.Transaction) []*models.Transaction {
	seen := make(map[string]struct{}, len(rows))
	out := make([]*models.Transaction, 0, len(rows))
	for _, row := range rows {
		key := row.EventKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	return out
}
