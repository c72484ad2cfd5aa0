package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pair-tracker/internal/circuitbreaker"
	"github.com/pair-tracker/internal/config"
	"github.com/pair-tracker/internal/metrics"
)

// PriceClient reads spot quotes from Binance (ETH/USDC) and CoinGecko (USDC/USD).
type PriceClient struct {
	binanceURL   string
	coingeckoURL string
	client       *http.Client
	breakers     *circuitbreaker.Manager
}

// NewPriceClient creates a new price feed client. breakers may be nil.
func NewPriceClient(cfg *config.PricesConfig, breakers *circuitbreaker.Manager) *PriceClient {
	return &PriceClient{
		binanceURL:   strings.TrimRight(cfg.BinanceURL, "/"),
		coingeckoURL: strings.TrimRight(cfg.CoinGeckoURL, "/"),
		client:       &http.Client{Timeout: 10 * time.Second},
		breakers:     breakers,
	}
}

// ETHUSDC returns the price of one ETH in USDC
func (c *PriceClient) ETHUSDC(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := c.getJSON(ctx, "binance", c.binanceURL+"/v3/ticker/price?symbol=ETHUSDC", &resp); err != nil {
		return decimal.Zero, err
	}

	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		metrics.RecordPriceFetch("binance", "bad_payload")
		return decimal.Zero, fmt.Errorf("binance: invalid price %q: %w", resp.Price, err)
	}
	return price, nil
}

// USDCUSD returns the price of one USDC in USD
func (c *PriceClient) USDCUSD(ctx context.Context) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("ids", "usd-coin")
	params.Set("vs_currencies", "usd")

	var resp map[string]map[string]json.Number
	if err := c.getJSON(ctx, "coingecko", c.coingeckoURL+"/simple/price?"+params.Encode(), &resp); err != nil {
		return decimal.Zero, err
	}

	raw, ok := resp["usd-coin"]["usd"]
	if !ok {
		metrics.RecordPriceFetch("coingecko", "bad_payload")
		return decimal.Zero, fmt.Errorf("coingecko: usd-coin quote missing")
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		metrics.RecordPriceFetch("coingecko", "bad_payload")
		return decimal.Zero, fmt.Errorf("coingecko: invalid price %q: %w", raw, err)
	}
	return price, nil
}

func (c *PriceClient) getJSON(ctx context.Context, source, rawURL string, out interface{}) error {
	fetch := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("%s: request failed: %w", source, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%s: failed to read response: %w", source, err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: HTTP error: %d - %s", source, resp.StatusCode, truncate(body, 200))
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%s: failed to parse response: %w", source, err)
		}
		return nil
	}

	var err error
	if c.breakers != nil {
		err = c.breakers.GetOrCreate(source, nil).Execute(fetch)
	} else {
		err = fetch()
	}

	if err != nil {
		metrics.RecordPriceFetch(source, "error")
		return err
	}
	metrics.RecordPriceFetch(source, "ok")
	return nil
}
