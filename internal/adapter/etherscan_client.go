package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/time/rate"

	"github.com/pair-tracker/internal/circuitbreaker"
	"github.com/pair-tracker/internal/config"
	"github.com/pair-tracker/internal/metrics"
	"github.com/pair-tracker/internal/types"
)

// LookupStatus tells callers whether an explorer answer can be trusted.
type LookupStatus int

const (
	// LookupFound means the explorer answered and the payload is authoritative.
	LookupFound LookupStatus = iota
	// LookupNotFound means the explorer answered that the subject does not exist.
	LookupNotFound
	// LookupDegraded means the explorer could not answer (rate limit, NOTOK,
	// transport or decode failure). The payload is empty.
	LookupDegraded
)

func (s LookupStatus) String() string {
	switch s {
	case LookupFound:
		return "found"
	case LookupNotFound:
		return "not_found"
	case LookupDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// BlockLookup is the result of resolving a hash or an instant to a block.
type BlockLookup struct {
	Block  uint64
	Status LookupStatus
}

// TransferQuery selects one page of transfer events of the tracked pair.
type TransferQuery struct {
	Page   int
	Offset int
	Sort   types.SortOrder
	// Blocks restricts the listing to an inclusive block range when set.
	Blocks *types.BlockRange
}

// TransferPage is one page of raw transfer events.
type TransferPage struct {
	Transfers []types.TokenTransfer
	Status    LookupStatus
}

// Throttle paces outgoing explorer calls. *rate.Limiter satisfies it.
type Throttle interface {
	Wait(ctx context.Context) error
}

// explorer messages that are not failures
const (
	msgNoTransactions = "No transactions found"
	msgNoRecords      = "No records found"
	msgNotOK          = "NOTOK"
)

// EtherscanClient reads the tracked pair's transfer history from an
// Etherscan-compatible explorer. It never returns errors: every failure is
// logged and folded into LookupDegraded.
type EtherscanClient struct {
	apiKey      string
	baseURL     string
	pairAddress string
	pageSize    int
	client      *http.Client
	throttle    Throttle
	breaker     *circuitbreaker.CircuitBreaker
}

// EtherscanOption customizes an EtherscanClient
type EtherscanOption func(*EtherscanClient)

// WithThrottle replaces the local rate limiter, e.g. with a shared budget gate
func WithThrottle(t Throttle) EtherscanOption {
	return func(c *EtherscanClient) { c.throttle = t }
}

// WithBreaker guards calls with a circuit breaker
func WithBreaker(cb *circuitbreaker.CircuitBreaker) EtherscanOption {
	return func(c *EtherscanClient) { c.breaker = cb }
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) EtherscanOption {
	return func(c *EtherscanClient) { c.client = hc }
}

// NewEtherscanClient creates a new explorer client
func NewEtherscanClient(cfg *config.EtherscanConfig, opts ...EtherscanOption) *EtherscanClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 10000
	}

	c := &EtherscanClient{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		pairAddress: cfg.PairAddress,
		pageSize:    pageSize,
		client:      &http.Client{Timeout: timeout},
		throttle:    rate.NewLimiter(rate.Limit(cfg.EtherscanRPS()), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PageSize is the offset used for range backfills
func (c *EtherscanClient) PageSize() int {
	return c.pageSize
}

// envelope is the explorer response shape. Proxy actions answer in JSON-RPC
// form instead and only fill Result or Error.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ResolveBlockByHash finds the block a transaction was mined in.
// Unknown and pending transactions resolve to LookupNotFound.
func (c *EtherscanClient) ResolveBlockByHash(ctx context.Context, hash string) BlockLookup {
	start := time.Now()
	const action = "eth_getTransactionByHash"
	params := url.Values{}
	params.Set("module", "proxy")
	params.Set("action", action)
	params.Set("txhash", hash)

	env, ok := c.call(ctx, action, params)
	if !ok {
		return BlockLookup{Status: LookupDegraded}
	}
	if env.Message == msgNotOK {
		log.Printf("[Etherscan] %s %s NOTOK: %s", action, hash, truncate(env.Result, 200))
		return c.record(action, start, BlockLookup{Status: LookupDegraded})
	}
	if env.Error != nil {
		log.Printf("[Etherscan] %s %s rpc error %d: %s", action, hash, env.Error.Code, env.Error.Message)
		return c.record(action, start, BlockLookup{Status: LookupDegraded})
	}
	if isJSONNull(env.Result) {
		return c.record(action, start, BlockLookup{Status: LookupNotFound})
	}

	var tx struct {
		BlockNumber *string `json:"blockNumber"`
	}
	if err := json.Unmarshal(env.Result, &tx); err != nil {
		log.Printf("[Etherscan] %s %s: failed to parse result: %v", action, hash, err)
		return c.record(action, start, BlockLookup{Status: LookupDegraded})
	}
	if tx.BlockNumber == nil {
		// pending
		return c.record(action, start, BlockLookup{Status: LookupNotFound})
	}
	block, err := hexutil.DecodeUint64(*tx.BlockNumber)
	if err != nil {
		log.Printf("[Etherscan] %s %s: bad block number %q: %v", action, hash, *tx.BlockNumber, err)
		return c.record(action, start, BlockLookup{Status: LookupDegraded})
	}
	return c.record(action, start, BlockLookup{Block: block, Status: LookupFound})
}

// ResolveBlockByTimestamp finds the block closest to t on the given side.
func (c *EtherscanClient) ResolveBlockByTimestamp(ctx context.Context, t time.Time, closest types.Closest) BlockLookup {
	start := time.Now()
	const action = "getblocknobytime"
	params := url.Values{}
	params.Set("module", "block")
	params.Set("action", action)
	params.Set("timestamp", strconv.FormatInt(t.Unix(), 10))
	params.Set("closest", string(closest))

	env, ok := c.call(ctx, action, params)
	if !ok {
		return BlockLookup{Status: LookupDegraded}
	}

	var raw string
	if err := json.Unmarshal(env.Result, &raw); err != nil {
		log.Printf("[Etherscan] %s %d: failed to parse result: %v", action, t.Unix(), err)
		return c.record(action, start, BlockLookup{Status: LookupDegraded})
	}
	if env.Message == msgNotOK {
		if strings.Contains(raw, "No closest block") {
			return c.record(action, start, BlockLookup{Status: LookupNotFound})
		}
		log.Printf("[Etherscan] %s %d NOTOK: %s", action, t.Unix(), raw)
		return c.record(action, start, BlockLookup{Status: LookupDegraded})
	}

	block, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		log.Printf("[Etherscan] %s %d: bad block number %q", action, t.Unix(), raw)
		return c.record(action, start, BlockLookup{Status: LookupDegraded})
	}
	return c.record(action, start, BlockLookup{Block: block, Status: LookupFound})
}

// FetchTransferEvents lists ERC20 transfer events of the tracked pair.
// An empty listing is LookupFound with no transfers.
func (c *EtherscanClient) FetchTransferEvents(ctx context.Context, q TransferQuery) TransferPage {
	start := time.Now()
	const action = "tokentx"
	page, offset, sort := q.Page, q.Offset, q.Sort
	if page <= 0 {
		page = 1
	}
	if offset <= 0 {
		offset = c.pageSize
	}
	if sort == "" {
		sort = types.SortDesc
	}

	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", action)
	params.Set("address", c.pairAddress)
	params.Set("page", strconv.Itoa(page))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("sort", string(sort))
	if q.Blocks != nil {
		params.Set("startblock", strconv.FormatUint(q.Blocks.From, 10))
		params.Set("endblock", strconv.FormatUint(q.Blocks.To, 10))
	}

	env, ok := c.call(ctx, action, params)
	if !ok {
		return TransferPage{Status: LookupDegraded}
	}

	if env.Message == msgNotOK {
		log.Printf("[Etherscan] %s NOTOK: %s", action, truncate(env.Result, 200))
		return c.recordPage(action, start, TransferPage{Status: LookupDegraded})
	}
	if env.Status != "1" {
		if strings.HasPrefix(env.Message, msgNoTransactions) || strings.HasPrefix(env.Message, msgNoRecords) {
			return c.recordPage(action, start, TransferPage{Transfers: []types.TokenTransfer{}, Status: LookupFound})
		}
		log.Printf("[Etherscan] %s status=%s message=%s", action, env.Status, env.Message)
		return c.recordPage(action, start, TransferPage{Status: LookupDegraded})
	}

	var transfers []types.TokenTransfer
	if err := json.Unmarshal(env.Result, &transfers); err != nil {
		log.Printf("[Etherscan] %s: failed to parse transfers: %v", action, err)
		return c.recordPage(action, start, TransferPage{Status: LookupDegraded})
	}
	if transfers == nil {
		transfers = []types.TokenTransfer{}
	}
	return c.recordPage(action, start, TransferPage{Transfers: transfers, Status: LookupFound})
}

// call performs one throttled, breaker-guarded request and decodes the
// envelope. A false second value means the call was degraded and already
// recorded.
func (c *EtherscanClient) call(ctx context.Context, action string, params url.Values) (*envelope, bool) {
	start := time.Now()
	degraded := func(format string, args ...interface{}) (*envelope, bool) {
		log.Printf("[Etherscan] "+format, args...)
		metrics.RecordExplorerCall(action, LookupDegraded.String(), time.Since(start).Seconds())
		return nil, false
	}

	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}

	if err := c.throttle.Wait(ctx); err != nil {
		return degraded("%s throttle: %v", action, err)
	}

	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return degraded("%s skipped: %v", action, err)
		}
	}

	body, err := c.doRequest(ctx, c.baseURL+"?"+params.Encode())
	if err != nil {
		c.recordBreaker(false)
		return degraded("%s request failed: %v", action, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.recordBreaker(false)
		return degraded("%s: failed to parse response: %v", action, err)
	}

	// a NOTOK rate limit answer means the upstream is pushing back
	c.recordBreaker(env.Message != msgNotOK || !strings.Contains(strings.ToLower(string(env.Result)), "rate limit"))
	return &env, true
}

func (c *EtherscanClient) recordBreaker(success bool) {
	if c.breaker != nil {
		c.breaker.Record(success)
	}
}

// doRequest performs a single GET; non-200 statuses are errors
func (c *EtherscanClient) doRequest(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d - %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func (c *EtherscanClient) record(action string, start time.Time, r BlockLookup) BlockLookup {
	metrics.RecordExplorerCall(action, r.Status.String(), time.Since(start).Seconds())
	return r
}

func (c *EtherscanClient) recordPage(action string, start time.Time, p TransferPage) TransferPage {
	metrics.RecordExplorerCall(action, p.Status.String(), time.Since(start).Seconds())
	return p
}

func isJSONNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
