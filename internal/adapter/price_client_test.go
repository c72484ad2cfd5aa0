package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pair-tracker/internal/circuitbreaker"
	"github.com/pair-tracker/internal/config"
)

func newPriceServer(t *testing.T, code int, binance, coingecko string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/binance/v3/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ETHUSDC", r.URL.Query().Get("symbol"))
		w.WriteHeader(code)
		_, _ = w.Write([]byte(binance))
	})
	mux.HandleFunc("/coingecko/simple/price", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "usd-coin", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		w.WriteHeader(code)
		_, _ = w.Write([]byte(coingecko))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPriceClientQuotes(t *testing.T) {
	srv := newPriceServer(t, http.StatusOK,
		`{"symbol":"ETHUSDC","price":"1843.27000000"}`,
		`{"usd-coin":{"usd":0.999912}}`)

	client := NewPriceClient(&config.PricesConfig{
		BinanceURL:   srv.URL + "/binance",
		CoinGeckoURL: srv.URL + "/coingecko/",
	}, circuitbreaker.NewManager())

	eth, err := client.ETHUSDC(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1843.27", eth.String())

	usdc, err := client.USDCUSD(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.999912", usdc.String())
}

func TestPriceClientErrors(t *testing.T) {
	t.Run("http failure", func(t *testing.T) {
		srv := newPriceServer(t, http.StatusServiceUnavailable, `down`, `down`)
		client := NewPriceClient(&config.PricesConfig{BinanceURL: srv.URL + "/binance", CoinGeckoURL: srv.URL + "/coingecko"}, nil)

		_, err := client.ETHUSDC(context.Background())
		assert.Error(t, err)
		_, err = client.USDCUSD(context.Background())
		assert.Error(t, err)
	})

	t.Run("missing quote", func(t *testing.T) {
		srv := newPriceServer(t, http.StatusOK, `{"price":"abc"}`, `{"tether":{"usd":1}}`)
		client := NewPriceClient(&config.PricesConfig{BinanceURL: srv.URL + "/binance", CoinGeckoURL: srv.URL + "/coingecko"}, nil)

		_, err := client.ETHUSDC(context.Background())
		assert.ErrorContains(t, err, "invalid price")
		_, err = client.USDCUSD(context.Background())
		assert.ErrorContains(t, err, "missing")
	})
}
