// Package worker runs background ingestion of the tracked pair's transfers.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pair-tracker/internal/adapter"
	"github.com/pair-tracker/internal/metrics"
	"github.com/pair-tracker/internal/models"
	"github.com/pair-tracker/internal/types"
)

const (
	defaultPollInterval = time.Minute
	defaultPageSize     = 100
)

// TransferSink is the part of the repository the worker writes to
type TransferSink interface {
	BulkInsert(ctx context.Context, rows []*models.Transaction) (int64, error)
}

// TransferPublisher forwards polled rows to an external feed
type TransferPublisher interface {
	PublishTransfers(ctx context.Context, rows []*models.Transaction) error
}

// SyncOutcome classifies one poll
type SyncOutcome string

const (
	OutcomeSuccess  SyncOutcome = "success"
	OutcomeDegraded SyncOutcome = "degraded"
	OutcomeError    SyncOutcome = "error"
)

// SyncResult describes one poll
type SyncResult struct {
	Outcome   SyncOutcome
	Fetched   int
	Inserted  int64
	Published bool
}

// LiveSyncWorker periodically ingests the newest page of transfer events so
// recent history is served from the store.
type LiveSyncWorker struct {
	explorer     adapter.Explorer
	sink         TransferSink
	publisher    TransferPublisher
	pollInterval time.Duration
	pageSize     int
	now          func() time.Time

	mu         sync.RWMutex
	running    bool
	lastResult *SyncResult
	lastPollAt time.Time
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// LiveSyncWorkerConfig holds configuration for a live sync worker
type LiveSyncWorkerConfig struct {
	Explorer     adapter.Explorer
	Sink         TransferSink
	PollInterval time.Duration
	PageSize     int
	// Publisher is optional; when set, polls that store new rows publish
	// the whole confirmed page.
	Publisher TransferPublisher
}

// NewLiveSyncWorker creates a new live sync worker
func NewLiveSyncWorker(cfg *LiveSyncWorkerConfig) (*LiveSyncWorker, error) {
	if cfg.Explorer == nil {
		return nil, fmt.Errorf("explorer cannot be nil")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("transfer sink cannot be nil")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &LiveSyncWorker{
		explorer:     cfg.Explorer,
		sink:         cfg.Sink,
		publisher:    cfg.Publisher,
		pollInterval: pollInterval,
		pageSize:     pageSize,
		now:          time.Now,
	}, nil
}

// Start runs one poll immediately and then one per interval until Stop or
// ctx cancellation.
func (w *LiveSyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("live sync worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	log.Printf("[LiveSyncWorker] Starting with poll interval %v and page size %d", w.pollInterval, w.pageSize)

	go w.pollLoop(ctx)
	return nil
}

// Stop gracefully stops the worker
func (w *LiveSyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("live sync worker is not running")
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	log.Printf("[LiveSyncWorker] Stopping")
	close(stopCh)

	select {
	case <-doneCh:
		log.Printf("[LiveSyncWorker] Stopped gracefully")
	case <-ctx.Done():
		log.Printf("[LiveSyncWorker] Stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

// IsRunning reports whether the poll loop is active
func (w *LiveSyncWorker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// LastResult returns the outcome of the latest poll, or nil before the first
func (w *LiveSyncWorker) LastResult() (*SyncResult, time.Time) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastResult, w.lastPollAt
}

func (w *LiveSyncWorker) pollLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[LiveSyncWorker] Context cancelled")
			return
		case <-w.stopCh:
			log.Printf("[LiveSyncWorker] Stop signal received")
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *LiveSyncWorker) poll(ctx context.Context) {
	result, err := w.RunOnce(ctx)
	if err != nil {
		log.Printf("[LiveSyncWorker] Poll error: %v", err)
	} else if result.Inserted > 0 {
		log.Printf("[LiveSyncWorker] Stored %d new transfers out of %d fetched", result.Inserted, result.Fetched)
	}
}

// RunOnce fetches the newest page of transfers and stores the unseen ones.
// A degraded explorer is not an error; the next tick tries again.
func (w *LiveSyncWorker) RunOnce(ctx context.Context) (*SyncResult, error) {
	page := w.explorer.FetchTransferEvents(ctx, adapter.TransferQuery{
		Page:   1,
		Offset: w.pageSize,
		Sort:   types.SortDesc,
	})

	result := &SyncResult{Fetched: len(page.Transfers)}
	if page.Status != adapter.LookupFound {
		result.Outcome = OutcomeDegraded
		w.record(result)
		return result, nil
	}

	rows := models.TransformTransfers(page.Transfers)
	inserted, err := w.sink.BulkInsert(ctx, rows)
	result.Inserted = inserted
	metrics.RecordRowsInserted("live", inserted)
	if err != nil {
		result.Outcome = OutcomeError
		w.record(result)
		return result, fmt.Errorf("failed to store live transfers: %w", err)
	}

	// the store is the source of truth; a feed outage only costs a log line
	if w.publisher != nil && inserted > 0 {
		if err := w.publisher.PublishTransfers(ctx, rows); err != nil {
			log.Printf("[LiveSyncWorker] Failed to publish %d transfers: %v", len(rows), err)
		} else {
			result.Published = true
		}
	}

	result.Outcome = OutcomeSuccess
	w.record(result)
	return result, nil
}

func (w *LiveSyncWorker) record(result *SyncResult) {
	at := w.now()
	metrics.RecordLiveSync(string(result.Outcome), at.Unix())

	w.mu.Lock()
	w.lastResult = result
	w.lastPollAt = at
	w.mu.Unlock()
}
