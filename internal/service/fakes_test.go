package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pair-tracker/internal/adapter"
	"github.com/pair-tracker/internal/models"
	"github.com/pair-tracker/internal/storage"
	"github.com/pair-tracker/internal/types"
)

// fakeStore is an in-memory TransferRepository with the same dedup rules as
// the real ones
type fakeStore struct {
	mu   sync.Mutex
	rows map[string]*models.Transaction

	findByHashCalls atomic.Int32
	probeCalls      atomic.Int32
	err             error
}

func newFakeStore(rows ...*models.Transaction) *fakeStore {
	s := &fakeStore{rows: make(map[string]*models.Transaction)}
	for _, row := range rows {
		s.rows[row.EventKey()] = row
	}
	return s
}

var _ storage.TransferRepository = (*fakeStore)(nil)

func (s *fakeStore) sorted(keep func(*models.Transaction) bool) []*models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.Transaction{}
	for _, row := range s.rows {
		if keep(row) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].LogIndex > out[j].LogIndex
	})
	return out
}

func (s *fakeStore) FindByHash(_ context.Context, hash string) ([]*models.Transaction, error) {
	s.findByHashCalls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.sorted(func(r *models.Transaction) bool { return r.HasHash(hash) }), nil
}

func (s *fakeStore) FindByDateRange(_ context.Context, start, end time.Time, hash string) ([]*models.Transaction, error) {
	if s.err != nil {
		return nil, s.err
	}
	r := types.DateRange{Start: start, End: end}
	return s.sorted(func(row *models.Transaction) bool {
		return r.Contains(row.Date) && (hash == "" || row.HasHash(hash))
	}), nil
}

func (s *fakeStore) ProbeBoundaries(_ context.Context, start, end time.Time, window time.Duration) (*storage.Boundaries, error) {
	s.probeCalls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	head := s.sorted(func(row *models.Transaction) bool {
		return types.DateRange{Start: start, End: start.Add(window)}.Contains(row.Date)
	})
	tail := s.sorted(func(row *models.Transaction) bool {
		return types.DateRange{Start: end.Add(-window), End: end}.Contains(row.Date)
	})

	bounds := &storage.Boundaries{}
	if len(head) > 0 {
		bounds.Start = head[len(head)-1]
	}
	if len(tail) > 0 {
		bounds.End = tail[0]
	}
	return bounds, nil
}

func (s *fakeStore) ListPage(_ context.Context, skip, take int) ([]*models.Transaction, int64, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	all := s.sorted(func(*models.Transaction) bool { return true })
	if skip >= len(all) {
		return []*models.Transaction{}, int64(len(all)), nil
	}
	return all[skip:min(skip+take, len(all))], int64(len(all)), nil
}

func (s *fakeStore) BulkInsert(_ context.Context, rows []*models.Transaction) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted int64
	for _, row := range rows {
		key := row.EventKey()
		if _, ok := s.rows[key]; ok {
			continue
		}
		s.rows[key] = row
		inserted++
	}
	return inserted, nil
}

func (s *fakeStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

// skewedProbeStore reports fixed boundary rows regardless of the range
type skewedProbeStore struct {
	*fakeStore
	start, end *models.Transaction
}

func (s *skewedProbeStore) ProbeBoundaries(context.Context, time.Time, time.Time, time.Duration) (*storage.Boundaries, error) {
	return &storage.Boundaries{Start: s.start, End: s.end}, nil
}

// fakeExplorer answers from func fields and counts calls
type fakeExplorer struct {
	// byHashCtx takes precedence over byHash when set
	byHashCtx   func(ctx context.Context, hash string) adapter.BlockLookup
	byHash      func(hash string) adapter.BlockLookup
	byTimestamp func(t time.Time, closest types.Closest) adapter.BlockLookup
	transfers   func(q adapter.TransferQuery) adapter.TransferPage

	hashCalls      atomic.Int32
	timestampCalls atomic.Int32
	transferCalls  atomic.Int32
}

var _ adapter.Explorer = (*fakeExplorer)(nil)

func (e *fakeExplorer) ResolveBlockByHash(ctx context.Context, hash string) adapter.BlockLookup {
	e.hashCalls.Add(1)
	if e.byHashCtx != nil {
		return e.byHashCtx(ctx, hash)
	}
	if e.byHash == nil {
		return adapter.BlockLookup{Status: adapter.LookupDegraded}
	}
	return e.byHash(hash)
}

func (e *fakeExplorer) ResolveBlockByTimestamp(_ context.Context, t time.Time, closest types.Closest) adapter.BlockLookup {
	e.timestampCalls.Add(1)
	if e.byTimestamp == nil {
		return adapter.BlockLookup{Status: adapter.LookupDegraded}
	}
	return e.byTimestamp(t, closest)
}

func (e *fakeExplorer) FetchTransferEvents(_ context.Context, q adapter.TransferQuery) adapter.TransferPage {
	e.transferCalls.Add(1)
	if e.transfers == nil {
		return adapter.TransferPage{Status: adapter.LookupDegraded}
	}
	return e.transfers(q)
}

func (e *fakeExplorer) calls() int32 {
	return e.hashCalls.Load() + e.timestampCalls.Load() + e.transferCalls.Load()
}

const (
	hashA = "0x1111111111111111111111111111111111111111111111111111111111111111"
	hashB = "0x2222222222222222222222222222222222222222222222222222222222222222"
)

var t0 = time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)

// transfer builds an explorer record mined at t0+offset in block 17_000_000+blockOffset
func transfer(hash string, logIndex int, offset time.Duration, symbol, value string) types.TokenTransfer {
	return types.TokenTransfer{
		BlockNumber:     itoa(17_000_000 + int64(offset/time.Second)/12),
		TimeStamp:       itoa(t0.Add(offset).Unix()),
		Hash:            strings.ToUpper(hash[:4]) + hash[4:],
		LogIndex:        itoa(int64(logIndex)),
		From:            "0x88e6a0c2ddd26feeb64f039a2c41296fcb3f5640",
		To:              "0x000000000000000000000000000000000000beef",
		ContractAddress: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
		Value:           value,
		TokenName:       symbol,
		TokenSymbol:     symbol,
		TokenDecimal:    "18",
		GasPrice:        "20000000000",
		GasUsed:         "150000",
		Confirmations:   "12",
	}
}

func stored(hash string, logIndex int, offset time.Duration, symbol, value string) *models.Transaction {
	rec := transfer(hash, logIndex, offset, symbol, value)
	tx, _ := models.FromTokenTransfer(&rec)
	return tx
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
