package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/pair-tracker/internal/circuitbreaker"
	"github.com/pair-tracker/internal/config"
	"github.com/pair-tracker/internal/types"
)

const testHash = "0x3f1a1e5a6c2e0d9f0b7c6a5d4e3f2a1b0c9d8e7f6a5b4c3d2e1f0a9b8c7d6e5f"

// newTestClient starts a fake explorer that answers with handler and records
// the last query it saw.
func newTestClient(t *testing.T, handler func(q url.Values) (int, string)) (*EtherscanClient, *atomic.Value) {
	t.Helper()

	var last atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last.Store(r.URL.Query())
		code, body := handler(r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	cfg := &config.EtherscanConfig{
		BaseURL:     srv.URL + "/api",
		APIKey:      "test-key",
		PairAddress: config.DefaultPairAddress,
		PageSize:    10000,
		Timeout:     5 * time.Second,
	}
	client := NewEtherscanClient(cfg, WithThrottle(rate.NewLimiter(rate.Inf, 1)))
	return client, &last
}

func TestResolveBlockByHash(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		body       string
		wantStatus LookupStatus
		wantBlock  uint64
	}{
		{
			name:       "mined transaction",
			code:       http.StatusOK,
			body:       `{"jsonrpc":"2.0","id":1,"result":{"blockNumber":"0x10d4f6e","hash":"` + testHash + `"}}`,
			wantStatus: LookupFound,
			wantBlock:  0x10d4f6e,
		},
		{
			name:       "unknown transaction",
			code:       http.StatusOK,
			body:       `{"jsonrpc":"2.0","id":1,"result":null}`,
			wantStatus: LookupNotFound,
		},
		{
			name:       "pending transaction",
			code:       http.StatusOK,
			body:       `{"jsonrpc":"2.0","id":1,"result":{"blockNumber":null}}`,
			wantStatus: LookupNotFound,
		},
		{
			name:       "rate limited",
			code:       http.StatusOK,
			body:       `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`,
			wantStatus: LookupDegraded,
		},
		{
			name:       "rpc error",
			code:       http.StatusOK,
			body:       `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid argument 0"}}`,
			wantStatus: LookupDegraded,
		},
		{
			name:       "server error",
			code:       http.StatusBadGateway,
			body:       `bad gateway`,
			wantStatus: LookupDegraded,
		},
		{
			name:       "garbage body",
			code:       http.StatusOK,
			body:       `<html>`,
			wantStatus: LookupDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, last := newTestClient(t, func(url.Values) (int, string) { return tt.code, tt.body })

			got := client.ResolveBlockByHash(context.Background(), testHash)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantBlock, got.Block)

			q := last.Load().(url.Values)
			assert.Equal(t, "proxy", q.Get("module"))
			assert.Equal(t, "eth_getTransactionByHash", q.Get("action"))
			assert.Equal(t, testHash, q.Get("txhash"))
			assert.Equal(t, "test-key", q.Get("apikey"))
		})
	}
}

func TestResolveBlockByTimestamp(t *testing.T) {
	at := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		client, last := newTestClient(t, func(url.Values) (int, string) {
			return http.StatusOK, `{"status":"1","message":"OK","result":"17165000"}`
		})

		got := client.ResolveBlockByTimestamp(context.Background(), at, types.ClosestBefore)
		assert.Equal(t, LookupFound, got.Status)
		assert.Equal(t, uint64(17165000), got.Block)

		q := last.Load().(url.Values)
		assert.Equal(t, "block", q.Get("module"))
		assert.Equal(t, "getblocknobytime", q.Get("action"))
		assert.Equal(t, "1682942400", q.Get("timestamp"))
		assert.Equal(t, "before", q.Get("closest"))
	})

	t.Run("no closest block", func(t *testing.T) {
		client, _ := newTestClient(t, func(url.Values) (int, string) {
			return http.StatusOK, `{"status":"0","message":"NOTOK","result":"Error! No closest block found"}`
		})
		got := client.ResolveBlockByTimestamp(context.Background(), at, types.ClosestAfter)
		assert.Equal(t, LookupNotFound, got.Status)
	})

	t.Run("rate limited", func(t *testing.T) {
		client, _ := newTestClient(t, func(url.Values) (int, string) {
			return http.StatusOK, `{"status":"0","message":"NOTOK","result":"Max rate limit reached, please use API Key for higher rate limit"}`
		})
		got := client.ResolveBlockByTimestamp(context.Background(), at, types.ClosestAfter)
		assert.Equal(t, LookupDegraded, got.Status)
		assert.Zero(t, got.Block)
	})
}

func TestFetchTransferEvents(t *testing.T) {
	t.Run("page with block range", func(t *testing.T) {
		client, last := newTestClient(t, func(url.Values) (int, string) {
			return http.StatusOK, `{"status":"1","message":"OK","result":[
				{"blockNumber":"17165000","timeStamp":"1682942400","hash":"` + testHash + `","from":"0xa","to":"0xb",
				 "contractAddress":"0xc","value":"1500000000000000000","tokenName":"Wrapped Ether","tokenSymbol":"WETH",
				 "tokenDecimal":"18","gas":"300000","gasPrice":"20000000000","gasUsed":"150000","confirmations":"12"}]}`
		})

		page := client.FetchTransferEvents(context.Background(), TransferQuery{
			Page:   2,
			Offset: 100,
			Sort:   types.SortAsc,
			Blocks: &types.BlockRange{From: 10, To: 20},
		})
		require.Equal(t, LookupFound, page.Status)
		require.Len(t, page.Transfers, 1)
		assert.Equal(t, "WETH", page.Transfers[0].TokenSymbol)
		assert.Equal(t, "12", page.Transfers[0].Confirmations)

		q := last.Load().(url.Values)
		assert.Equal(t, "account", q.Get("module"))
		assert.Equal(t, "tokentx", q.Get("action"))
		assert.Equal(t, config.DefaultPairAddress, q.Get("address"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "100", q.Get("offset"))
		assert.Equal(t, "asc", q.Get("sort"))
		assert.Equal(t, "10", q.Get("startblock"))
		assert.Equal(t, "20", q.Get("endblock"))
	})

	t.Run("defaults without range", func(t *testing.T) {
		client, last := newTestClient(t, func(url.Values) (int, string) {
			return http.StatusOK, `{"status":"1","message":"OK","result":[]}`
		})

		page := client.FetchTransferEvents(context.Background(), TransferQuery{})
		assert.Equal(t, LookupFound, page.Status)

		q := last.Load().(url.Values)
		assert.Equal(t, "1", q.Get("page"))
		assert.Equal(t, "10000", q.Get("offset"))
		assert.Equal(t, "desc", q.Get("sort"))
		assert.Empty(t, q.Get("startblock"))
	})

	t.Run("no transactions found is an empty success", func(t *testing.T) {
		client, _ := newTestClient(t, func(url.Values) (int, string) {
			return http.StatusOK, `{"status":"0","message":"No transactions found","result":[]}`
		})

		page := client.FetchTransferEvents(context.Background(), TransferQuery{})
		assert.Equal(t, LookupFound, page.Status)
		assert.NotNil(t, page.Transfers)
		assert.Empty(t, page.Transfers)
	})

	t.Run("notok is degraded", func(t *testing.T) {
		client, _ := newTestClient(t, func(url.Values) (int, string) {
			return http.StatusOK, `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`
		})

		page := client.FetchTransferEvents(context.Background(), TransferQuery{})
		assert.Equal(t, LookupDegraded, page.Status)
		assert.Empty(t, page.Transfers)
	})
}

func TestEtherscanClientOpenBreakerSkipsUpstream(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(url.Values) (int, string) {
		calls.Add(1)
		return http.StatusInternalServerError, `oops`
	})
	cb := circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Name:                "etherscan",
		ConsecutiveFailures: 2,
		OpenTimeout:         time.Hour,
	})
	client.breaker = cb

	for i := 0; i < 4; i++ {
		got := client.ResolveBlockByHash(context.Background(), testHash)
		assert.Equal(t, LookupDegraded, got.Status)
	}
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, circuitbreaker.StateOpen, cb.GetState())
}

func TestEtherscanClientCancelledContextIsDegraded(t *testing.T) {
	client, _ := newTestClient(t, func(url.Values) (int, string) {
		return http.StatusOK, `{"status":"1","message":"OK","result":"1"}`
	})
	client.throttle = rate.NewLimiter(rate.Every(time.Hour), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := client.ResolveBlockByTimestamp(ctx, time.Now(), types.ClosestBefore)
	assert.Equal(t, LookupDegraded, got.Status)
}

func TestValidateHash(t *testing.T) {
	assert.NoError(t, ValidateHash(testHash))
	assert.ErrorIs(t, ValidateHash("0x1234"), ErrInvalidHash)
	assert.ErrorIs(t, ValidateHash("zz"+testHash[2:]), ErrInvalidHash)
	assert.ErrorIs(t, ValidateHash(testHash[:65]+"g"), ErrInvalidHash)
}
