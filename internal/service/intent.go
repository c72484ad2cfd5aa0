package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/pair-tracker/internal/adapter"
	"github.com/pair-tracker/internal/errors"
	"github.com/pair-tracker/internal/types"
)

// LookupRequest carries the raw query parameters of a transaction lookup.
// Start and End are nil when the client did not send them.
type LookupRequest struct {
	Hash         string
	Start        *time.Time
	End          *time.Time
	ForceRefresh bool
	Page         int
	Take         int
}

// Intent is one of UnfilteredIntent, HashIntent, DateRangeIntent or
// HashInRangeIntent. Each intent has exactly one handler in LookupService.
type Intent interface {
	// Name is the metrics label of the intent
	Name() string
	flightKey() string
}

// UnfilteredIntent lists one page of the whole store
type UnfilteredIntent struct {
	Page int
	Take int
}

// HashIntent looks up every transfer of one transaction
type HashIntent struct {
	Hash         string
	ForceRefresh bool
}

// DateRangeIntent looks up every transfer inside a time window
type DateRangeIntent struct {
	Range        types.DateRange
	ForceRefresh bool
}

// HashInRangeIntent looks up one transaction, but only if it was mined inside the window
type HashInRangeIntent struct {
	Hash         string
	Range        types.DateRange
	ForceRefresh bool
}

func (UnfilteredIntent) Name() string  { return "unfiltered" }
func (HashIntent) Name() string        { return "hash" }
func (DateRangeIntent) Name() string   { return "date_range" }
func (HashInRangeIntent) Name() string { return "hash_in_range" }

func (i UnfilteredIntent) flightKey() string {
	return fmt.Sprintf("page:%d:%d", i.Page, i.Take)
}

func (i HashIntent) flightKey() string {
	return "hash:" + i.Hash
}

func (i DateRangeIntent) flightKey() string {
	return "range:" + rangeKey(i.Range)
}

func (i HashInRangeIntent) flightKey() string {
	return "hash-range:" + i.Hash + ":" + rangeKey(i.Range)
}

func rangeKey(r types.DateRange) string {
	return fmt.Sprintf("%d-%d", r.Start.UnixNano(), r.End.UnixNano())
}

// ResolveIntent validates a request and classifies it. It performs no I/O.
func ResolveIntent(req LookupRequest) (Intent, error) {
	if (req.Start == nil) != (req.End == nil) {
		return nil, errors.NewDateRangePairError()
	}

	hash := strings.ToLower(strings.TrimSpace(req.Hash))
	if hash != "" {
		if err := adapter.ValidateHash(hash); err != nil {
			return nil, errors.NewInvalidParameterError("id", "must be a 0x-prefixed 32-byte hex transaction hash")
		}
	}

	if req.Start == nil {
		if hash == "" {
			page, take := NormalizePage(req.Page, req.Take)
			return UnfilteredIntent{Page: page, Take: take}, nil
		}
		return HashIntent{Hash: hash, ForceRefresh: req.ForceRefresh}, nil
	}

	r := types.DateRange{Start: req.Start.UTC(), End: req.End.UTC()}
	if r.Start.After(r.End) {
		return nil, errors.NewInvalidParameterError("startDate", "must not be after endDate")
	}

	if hash == "" {
		return DateRangeIntent{Range: r, ForceRefresh: req.ForceRefresh}, nil
	}
	return HashInRangeIntent{Hash: hash, Range: r, ForceRefresh: req.ForceRefresh}, nil
}
