package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pair-tracker/internal/errors"
	"github.com/pair-tracker/internal/logging"
	"github.com/pair-tracker/internal/service"
)

// accepted date layouts, most specific first
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// transactionsQuery is the parsed query string of the transaction endpoints
type transactionsQuery struct {
	lookup     service.LookupRequest
	page       int
	take       int
	includeUSD bool
}

// TransactionsResponse is the paginated envelope, optionally with a USD view
type TransactionsResponse struct {
	*service.PaginatedResponse
	USD *service.USDSummary `json:"usd,omitempty"`
}

// handleGetTransactions handles GET /api/transaction(s)
func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	q, err := parseTransactionsQuery(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx := r.Context()
	res, err := s.lookupService.Lookup(ctx, q.lookup)
	if err != nil {
		respondError(w, r, err)
		return
	}

	rows := res.Rows
	if !res.Paged {
		rows = service.PageSlice(res.Rows, q.page, q.take)
	}
	totals := service.ComputeTotals(res.Rows)

	resp := TransactionsResponse{
		PaginatedResponse: service.Paginate(rows, res.Total, q.page, q.take, totals),
	}

	if q.includeUSD && s.priceService != nil {
		usd, err := s.priceService.Summarize(ctx, res.Rows, totals)
		if err != nil {
			logging.FromContext(ctx).WithError(err).Warn("USD summary unavailable")
		} else {
			resp.USD = usd
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// parseTransactionsQuery validates every parameter before any I/O happens
func parseTransactionsQuery(values url.Values) (*transactionsQuery, error) {
	startRaw := strings.TrimSpace(values.Get("startDate"))
	endRaw := strings.TrimSpace(values.Get("endDate"))
	if (startRaw == "") != (endRaw == "") {
		return nil, errors.NewDateRangePairError()
	}

	q := &transactionsQuery{page: 1, take: service.DefaultTake}
	var err error

	if raw := values.Get("page"); raw != "" {
		if q.page, err = strconv.Atoi(raw); err != nil || q.page < 1 {
			return nil, errors.NewInvalidParameterError("page", "must be a positive integer")
		}
	}
	if raw := values.Get("take"); raw != "" {
		if q.take, err = strconv.Atoi(raw); err != nil || q.take < 1 || q.take > service.MaxTake {
			return nil, errors.NewInvalidParameterError("take", fmt.Sprintf("must be an integer between 1 and %d", service.MaxTake))
		}
	}

	forceRefresh, err := parseBool(values, "forceRefresh")
	if err != nil {
		return nil, err
	}
	if q.includeUSD, err = parseBool(values, "includeUsd"); err != nil {
		return nil, err
	}

	q.lookup = service.LookupRequest{
		Hash:         strings.TrimSpace(values.Get("id")),
		ForceRefresh: forceRefresh,
		Page:         q.page,
		Take:         q.take,
	}

	if startRaw != "" {
		start, err := parseDate(startRaw)
		if err != nil {
			return nil, errors.NewInvalidParameterError("startDate", "must be an ISO-8601 date")
		}
		end, err := parseDate(endRaw)
		if err != nil {
			return nil, errors.NewInvalidParameterError("endDate", "must be an ISO-8601 date")
		}
		q.lookup.Start, q.lookup.End = &start, &end
	}

	// classify now so hash and range errors surface as 400 before the handler runs
	if _, err := service.ResolveIntent(q.lookup); err != nil {
		return nil, err
	}
	return q, nil
}

func parseBool(values url.Values, name string) (bool, error) {
	raw := values.Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.NewInvalidParameterError(name, "must be true or false")
	}
	return v, nil
}

// parseDate accepts RFC 3339 timestamps and plain dates. Values without a
// zone are read as UTC.
func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}
