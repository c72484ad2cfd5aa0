// Package service implements the transaction lookup engine and the price
// conversions served by the API.
package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pair-tracker/internal/adapter"
	"github.com/pair-tracker/internal/errors"
	"github.com/pair-tracker/internal/logging"
	"github.com/pair-tracker/internal/metrics"
	"github.com/pair-tracker/internal/models"
	"github.com/pair-tracker/internal/storage"
	"github.com/pair-tracker/internal/types"
)

// Result sources, also used as metrics labels
const (
	SourceStore    = "store"
	SourceExplorer = "explorer"
	sourceNotFound = "not_found"
)

// DefaultProbeWindow is how far inside each date bound the store is probed
const DefaultProbeWindow = time.Minute

var errUnresolved = stderrors.New("explorer could not resolve block")

// LookupResult is the outcome of one lookup
type LookupResult struct {
	Rows  []*models.Transaction
	Total int64
	// Paged is true when Rows already holds only the requested page
	// (unfiltered lookups). Otherwise Rows is the full result set.
	Paged  bool
	Source string
}

// LookupOptions tunes the lookup engine
type LookupOptions struct {
	ProbeWindow time.Duration
	// PageSize is the explorer page requested for a backfill
	PageSize int
}

// LookupService decides per request whether the store can answer it or the
// explorer must be backfilled into the store first.
type LookupService struct {
	repo        storage.TransferRepository
	explorer    adapter.Explorer
	probeWindow time.Duration
	pageSize    int
	flight      singleflight.Group
}

// NewLookupService creates a new lookup service
func NewLookupService(repo storage.TransferRepository, explorer adapter.Explorer, opts LookupOptions) *LookupService {
	if opts.ProbeWindow <= 0 {
		opts.ProbeWindow = DefaultProbeWindow
	}
	if opts.PageSize <= 0 || opts.PageSize > MaxTake {
		opts.PageSize = MaxTake
	}
	return &LookupService{
		repo:        repo,
		explorer:    explorer,
		probeWindow: opts.ProbeWindow,
		pageSize:    opts.PageSize,
	}
}

// Lookup validates the request, classifies it and runs the matching handler
func (s *LookupService) Lookup(ctx context.Context, req LookupRequest) (*LookupResult, error) {
	intent, err := ResolveIntent(req)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, intent)
}

// Execute runs the handler of an already resolved intent
func (s *LookupService) Execute(ctx context.Context, intent Intent) (*LookupResult, error) {
	switch in := intent.(type) {
	case UnfilteredIntent:
		return s.listPage(ctx, in)
	case HashIntent:
		return s.lookupHash(ctx, in)
	case DateRangeIntent:
		return s.lookupRange(ctx, in)
	case HashInRangeIntent:
		return s.lookupHashInRange(ctx, in)
	default:
		return nil, errors.NewInternalError(fmt.Sprintf("unsupported lookup intent %T", intent), nil)
	}
}

func (s *LookupService) listPage(ctx context.Context, in UnfilteredIntent) (*LookupResult, error) {
	rows, total, err := s.repo.ListPage(ctx, Skip(in.Page, in.Take), in.Take)
	if err != nil {
		return nil, errors.NewDatabaseError("list transactions", err)
	}
	if total == 0 {
		return nil, s.notFound(ctx, in, "store is empty")
	}
	// a page past the end is an empty success
	return s.found(in, &LookupResult{Rows: rows, Total: total, Paged: true, Source: SourceStore}), nil
}

func (s *LookupService) lookupHash(ctx context.Context, in HashIntent) (*LookupResult, error) {
	if !in.ForceRefresh {
		rows, err := s.repo.FindByHash(ctx, in.Hash)
		if err != nil {
			return nil, errors.NewDatabaseError("find transaction by hash", err)
		}
		if len(rows) > 0 {
			return s.found(in, storeResult(rows)), nil
		}
	}

	return s.coalesce(ctx, in, func(ctx context.Context) (*LookupResult, error) {
		block := s.explorer.ResolveBlockByHash(ctx, in.Hash)
		if block.Status != adapter.LookupFound {
			return nil, s.notFound(ctx, in, "hash block "+block.Status.String())
		}
		return s.backfillHash(ctx, in, in.Hash, block.Block)
	})
}

func (s *LookupService) lookupRange(ctx context.Context, in DateRangeIntent) (*LookupResult, error) {
	if !in.ForceRefresh {
		rows, err := s.fromStore(ctx, in.Range, "")
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return s.found(in, storeResult(rows)), nil
		}
	}

	return s.coalesce(ctx, in, func(ctx context.Context) (*LookupResult, error) {
		blocks, err := s.resolveBlocks(ctx, in.Range)
		if err != nil {
			return nil, s.notFound(ctx, in, "range bounds unresolved")
		}
		if blocks.From > blocks.To {
			// no block was mined inside the window
			return s.found(in, &LookupResult{Rows: []*models.Transaction{}, Source: SourceExplorer}), nil
		}

		page := s.explorer.FetchTransferEvents(ctx, s.transferQuery(blocks))
		if page.Status != adapter.LookupFound {
			return nil, s.notFound(ctx, in, "transfer page "+page.Status.String())
		}

		if len(page.Transfers) >= s.pageSize {
			// one page per backfill; older events of the range are not fetched
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"fromBlock": blocks.From,
				"toBlock":   blocks.To,
				"pageSize":  s.pageSize,
			}).Warn("Transfer page full, range backfill truncated to newest events")
		}

		rows := models.TransformTransfers(page.Transfers)
		if err := s.persist(ctx, rows); err != nil {
			return nil, err
		}
		return s.found(in, explorerResult(rows)), nil
	})
}

func (s *LookupService) lookupHashInRange(ctx context.Context, in HashInRangeIntent) (*LookupResult, error) {
	if !in.ForceRefresh {
		rows, err := s.fromStore(ctx, in.Range, in.Hash)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return s.found(in, storeResult(rows)), nil
		}
	}

	return s.coalesce(ctx, in, func(ctx context.Context) (*LookupResult, error) {
		var (
			hashBlock adapter.BlockLookup
			blocks    types.BlockRange
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			hashBlock = s.explorer.ResolveBlockByHash(gctx, in.Hash)
			if hashBlock.Status != adapter.LookupFound {
				return errUnresolved
			}
			return nil
		})
		g.Go(func() error {
			var err error
			blocks, err = s.resolveBlocks(gctx, in.Range)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, s.notFound(ctx, in, "hash or range bounds unresolved")
		}

		if !blocks.Contains(hashBlock.Block) {
			return nil, s.notFound(ctx, in, fmt.Sprintf("block %d outside [%d, %d]", hashBlock.Block, blocks.From, blocks.To))
		}
		return s.backfillHash(ctx, in, in.Hash, hashBlock.Block)
	})
}

// fromStore answers a range lookup from the store when rows exist near both
// bounds. It reads between the dates of those boundary rows.
func (s *LookupService) fromStore(ctx context.Context, r types.DateRange, hash string) ([]*models.Transaction, error) {
	bounds, err := s.repo.ProbeBoundaries(ctx, r.Start, r.End, s.probeWindow)
	if err != nil {
		return nil, errors.NewDatabaseError("probe range boundaries", err)
	}
	if !bounds.Complete() {
		return nil, nil
	}
	// a boundary row outside the request would widen the read past it
	if !r.Contains(bounds.Start.Date) || !r.Contains(bounds.End.Date) {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"start": bounds.Start.Date,
			"end":   bounds.End.Date,
		}).Warn("Boundary rows fall outside the requested range, ignoring store")
		return nil, nil
	}

	rows, err := s.repo.FindByDateRange(ctx, bounds.Start.Date, bounds.End.Date, hash)
	if err != nil {
		return nil, errors.NewDatabaseError("find transactions by date range", err)
	}
	return rows, nil
}

// resolveBlocks turns a date range into the block range mined inside it.
// Both bounds are resolved concurrently; the first failure cancels the other.
func (s *LookupService) resolveBlocks(ctx context.Context, r types.DateRange) (types.BlockRange, error) {
	var start, end adapter.BlockLookup

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start = s.explorer.ResolveBlockByTimestamp(gctx, r.Start, types.ClosestAfter)
		if start.Status != adapter.LookupFound {
			return errUnresolved
		}
		return nil
	})
	g.Go(func() error {
		end = s.explorer.ResolveBlockByTimestamp(gctx, r.End, types.ClosestBefore)
		if end.Status != adapter.LookupFound {
			return errUnresolved
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return types.BlockRange{}, err
	}
	return types.BlockRange{From: start.Block, To: end.Block}, nil
}

// backfillHash fetches the transfers of the hash's block, keeps the ones of
// the hash and persists them
func (s *LookupService) backfillHash(ctx context.Context, in Intent, hash string, block uint64) (*LookupResult, error) {
	page := s.explorer.FetchTransferEvents(ctx, s.transferQuery(types.BlockRange{From: block, To: block}))
	if page.Status != adapter.LookupFound {
		return nil, s.notFound(ctx, in, "transfer page "+page.Status.String())
	}

	rows := models.TransformTransfers(models.FilterTransfersByHash(page.Transfers, hash))
	if len(rows) == 0 {
		return nil, s.notFound(ctx, in, fmt.Sprintf("no confirmed transfers of hash in block %d", block))
	}
	if err := s.persist(ctx, rows); err != nil {
		return nil, err
	}
	return s.found(in, explorerResult(rows)), nil
}

func (s *LookupService) transferQuery(blocks types.BlockRange) adapter.TransferQuery {
	return adapter.TransferQuery{
		Page:   1,
		Offset: s.pageSize,
		Sort:   types.SortDesc,
		Blocks: &blocks,
	}
}

func (s *LookupService) persist(ctx context.Context, rows []*models.Transaction) error {
	if len(rows) == 0 {
		return nil
	}
	inserted, err := s.repo.BulkInsert(ctx, rows)
	if err != nil {
		return errors.NewDatabaseError("insert transactions", err)
	}
	metrics.RecordRowsInserted("request", inserted)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"fetched":  len(rows),
		"inserted": inserted,
	}).Debug("Backfilled transfers")
	return nil
}

// coalesce runs fn once per intent key across concurrent callers. A caller
// whose context ends stops waiting. The shared work keeps the leader's
// context values but not its cancellation, so one departed caller cannot
// turn the answer of the others into a not-found.
func (s *LookupService) coalesce(ctx context.Context, in Intent, fn func(context.Context) (*LookupResult, error)) (*LookupResult, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(in.flightKey(), func() (interface{}, error) {
		return fn(shared)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*LookupResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *LookupService) found(in Intent, res *LookupResult) *LookupResult {
	metrics.RecordLookup(in.Name(), res.Source)
	return res
}

func (s *LookupService) notFound(ctx context.Context, in Intent, reason string) error {
	metrics.RecordLookup(in.Name(), sourceNotFound)
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"intent": in.Name(),
		"reason": reason,
	}).Debug("Lookup exhausted store and explorer")

	return errors.NewTransactionNotFoundError(map[string]interface{}{
		"intent": in.Name(),
		"reason": reason,
	})
}

func storeResult(rows []*models.Transaction) *LookupResult {
	return &LookupResult{Rows: rows, Total: int64(len(rows)), Source: SourceStore}
}

func explorerResult(rows []*models.Transaction) *LookupResult {
	return &LookupResult{Rows: rows, Total: int64(len(rows)), Source: SourceExplorer}
}
