package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pair-tracker/internal/errors"
	"github.com/pair-tracker/internal/models"
	"github.com/pair-tracker/internal/service"
)

const testHash = "0x3f1a1e5a6c2e0d9f0b7c6a5d4e3f2a1b0c9d8e7f6a5b4c3d2e1f0a9b8c7d6e5f"

func rows(n int) []*models.Transaction {
	out := make([]*models.Transaction, n)
	for i := range out {
		symbol, value := "WETH", "1000000000000000000"
		if i%2 == 1 {
			symbol, value = "USDC", "2000000"
		}
		out[i] = &models.Transaction{Hash: testHash, LogIndex: int64(i), TokenSymbol: symbol, Value: value}
	}
	return out
}

func TestGetTransactionsValidation(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantMsg string
	}{
		{name: "only start date", query: "?startDate=2023-05-01", wantMsg: errors.MessageDateRangePair},
		{name: "only end date", query: "?endDate=2023-05-01T00:00:00Z", wantMsg: errors.MessageDateRangePair},
		{name: "only malformed start date", query: "?startDate=yesterday", wantMsg: errors.MessageDateRangePair},
		{name: "malformed date", query: "?startDate=yesterday&endDate=2023-05-01", wantMsg: "invalid parameter 'startDate': must be an ISO-8601 date"},
		{name: "inverted range", query: "?startDate=2023-05-02&endDate=2023-05-01", wantMsg: "invalid parameter 'startDate': must not be after endDate"},
		{name: "zero page", query: "?page=0", wantMsg: "invalid parameter 'page': must be a positive integer"},
		{name: "non-numeric take", query: "?take=abc", wantMsg: "invalid parameter 'take': must be an integer between 1 and 10000"},
		{name: "oversized take", query: "?take=10001", wantMsg: "invalid parameter 'take': must be an integer between 1 and 10000"},
		{name: "bad force refresh", query: "?forceRefresh=maybe", wantMsg: "invalid parameter 'forceRefresh': must be true or false"},
		{name: "bad hash", query: "?id=0x1234", wantMsg: "invalid parameter 'id': must be a 0x-prefixed 32-byte hex transaction hash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := &mockLookupService{}
			s := createTestServer(lookup)

			w, body := doGet(t, s, "/api/transaction"+tt.query)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.wantMsg, body["message"])
			assert.Zero(t, lookup.calls, "validation must happen before any lookup")
		})
	}
}

func TestGetTransactionsNotFound(t *testing.T) {
	s := createTestServer(&mockLookupService{})

	w, body := doGet(t, s, "/api/transactions")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, map[string]interface{}{"message": "transaction not found"}, body)
}

func TestGetTransactionsInternalError(t *testing.T) {
	lookup := &mockLookupService{lookupFunc: func(context.Context, service.LookupRequest) (*service.LookupResult, error) {
		return nil, errors.NewDatabaseError("list transactions", context.DeadlineExceeded)
	}}
	s := createTestServer(lookup)

	w, body := doGet(t, s, "/api/transaction")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Something went wrong, please try again", body["message"])
}

func TestGetTransactionsUnfilteredPage(t *testing.T) {
	lookup := &mockLookupService{lookupFunc: func(_ context.Context, req service.LookupRequest) (*service.LookupResult, error) {
		return &service.LookupResult{Rows: rows(2), Total: 5, Paged: true, Source: service.SourceStore}, nil
	}}
	s := createTestServer(lookup)

	w, body := doGet(t, s, "/api/transaction?page=2&take=2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, lookup.last.Page)
	assert.Equal(t, 2, lookup.last.Take)

	assert.Len(t, body["data"], 2)
	assert.EqualValues(t, 2, body["take"])
	assert.EqualValues(t, 5, body["count"])
	assert.EqualValues(t, 2, body["currentPage"])
	assert.EqualValues(t, 3, body["nextPage"])
	assert.EqualValues(t, 1, body["prevPage"])
	assert.EqualValues(t, 3, body["lastPage"])
	assert.EqualValues(t, 1e18, body["totalETH"])
	assert.EqualValues(t, 2e6, body["totalUSDC"])
	assert.NotContains(t, body, "usd")
}

func TestGetTransactionsFilteredIsSliced(t *testing.T) {
	lookup := &mockLookupService{lookupFunc: func(_ context.Context, req service.LookupRequest) (*service.LookupResult, error) {
		return &service.LookupResult{Rows: rows(5), Total: 5, Source: service.SourceExplorer}, nil
	}}
	s := createTestServer(lookup)

	w, body := doGet(t, s, "/api/transaction?startDate=2023-05-01T00:00:00.000Z&endDate=2023-05-02&page=3&take=2&forceRefresh=true&includeUsd=true")
	require.Equal(t, http.StatusOK, w.Code)

	require.NotNil(t, lookup.last.Start)
	assert.Equal(t, time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC), *lookup.last.Start)
	assert.Equal(t, time.Date(2023, 5, 2, 0, 0, 0, 0, time.UTC), *lookup.last.End)
	assert.True(t, lookup.last.ForceRefresh)

	data := body["data"].([]interface{})
	require.Len(t, data, 1)
	assert.EqualValues(t, 4, data[0].(map[string]interface{})["logIndex"])
	assert.Nil(t, body["nextPage"])
	assert.EqualValues(t, 3, body["lastPage"])
	// totals cover the whole result set, not just the page
	assert.EqualValues(t, 3e18, body["totalETH"])
	assert.EqualValues(t, 4e6, body["totalUSDC"])
	assert.Equal(t, map[string]interface{}{"totalETH": "1.00", "totalUSDC": "2.00", "totalFees": "3.00"}, body["usd"])
}

func TestGetTransactionsByHash(t *testing.T) {
	lookup := &mockLookupService{lookupFunc: func(_ context.Context, req service.LookupRequest) (*service.LookupResult, error) {
		return &service.LookupResult{Rows: rows(1), Total: 1, Source: service.SourceStore}, nil
	}}
	s := createTestServer(lookup)

	w, body := doGet(t, s, "/api/transaction?id="+testHash)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testHash, lookup.last.Hash)
	assert.Nil(t, lookup.last.Start)
	assert.EqualValues(t, 1, body["count"])
}

func TestGetPrices(t *testing.T) {
	s := createTestServer(&mockLookupService{})

	w, body := doGet(t, s, "/api/prices")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"ETH": "2000", "WETH": "2000", "USDC": "1"}, body)
}

func TestGetPricesFailure(t *testing.T) {
	s := NewServer(&ServerConfig{}, &mockLookupService{}, &mockPriceService{
		pricesFunc: func(context.Context) (*service.Prices, error) {
			return nil, errors.NewProviderError("price feed", context.DeadlineExceeded)
		},
	}, nil, nil)

	w, body := doGet(t, s, "/api/prices")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, errors.MessageInternal, body["message"])
}
