package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/pair-tracker/internal/errors"
	"github.com/pair-tracker/internal/logging"
	"github.com/pair-tracker/internal/models"
	"github.com/pair-tracker/internal/storage"
	"github.com/pair-tracker/internal/types"
)

const (
	pairETHUSDC = "ETHUSDC"
	pairUSDCUSD = "USDCUSD"
)

// Token decimals used when no row of the token reports its own
const (
	defaultWETHDecimals = "18"
	defaultUSDCDecimals = "6"
)

var gweiPerETH = decimal.New(1, 9)

// QuoteSource fetches live spot prices
type QuoteSource interface {
	ETHUSDC(ctx context.Context) (decimal.Decimal, error)
	USDCUSD(ctx context.Context) (decimal.Decimal, error)
}

// QuoteCache stores quotes between fetches
type QuoteCache interface {
	GetQuote(ctx context.Context, pair string) (*storage.CachedQuote, bool, error)
	SetQuote(ctx context.Context, quote *storage.CachedQuote) error
}

// Prices are USD prices keyed the way transfer rows name their tokens
type Prices struct {
	ETH  decimal.Decimal `json:"ETH"`
	WETH decimal.Decimal `json:"WETH"`
	USDC decimal.Decimal `json:"USDC"`
}

// ForSymbol returns the USD price of a token symbol
func (p *Prices) ForSymbol(symbol string) (decimal.Decimal, bool) {
	switch types.TokenSymbol(symbol) {
	case types.SymbolWETH:
		return p.WETH, true
	case types.SymbolUSDC:
		return p.USDC, true
	case "ETH":
		return p.ETH, true
	default:
		return decimal.Zero, false
	}
}

// USDSummary is the fiat view of a result set, rounded to cents
type USDSummary struct {
	TotalETH  string `json:"totalETH"`
	TotalUSDC string `json:"totalUSDC"`
	TotalFees string `json:"totalFees"`
}

// PriceService serves spot prices with a read-through cache
type PriceService struct {
	source QuoteSource
	cache  QuoteCache
	now    func() time.Time
}

// NewPriceService creates a new price service. cache may be nil.
func NewPriceService(source QuoteSource, cache QuoteCache) *PriceService {
	return &PriceService{source: source, cache: cache, now: time.Now}
}

// Prices returns USD prices of ETH, WETH and USDC. ETH is quoted in USDC on
// Binance, so it is converted through the USDC/USD quote.
func (s *PriceService) Prices(ctx context.Context) (*Prices, error) {
	var ethUSDC, usdcUSD decimal.Decimal

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ethUSDC, err = s.quote(gctx, pairETHUSDC, "binance", s.source.ETHUSDC)
		return err
	})
	g.Go(func() error {
		var err error
		usdcUSD, err = s.quote(gctx, pairUSDCUSD, "coingecko", s.source.USDCUSD)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, errors.NewProviderError("price feed", err)
	}

	eth := ethUSDC.Mul(usdcUSD)
	return &Prices{ETH: eth, WETH: eth, USDC: usdcUSD}, nil
}

// Summarize converts raw totals and the fees of rows into USD
func (s *PriceService) Summarize(ctx context.Context, rows []*models.Transaction, totals Totals) (*USDSummary, error) {
	prices, err := s.Prices(ctx)
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx)
	fees := decimal.Zero
	for _, row := range rows {
		fee, err := FeeInUSD(row.Fee, prices.ETH)
		if err != nil {
			logger.WithError(err).WithField("hash", row.Hash).Debug("Skipping unparsable fee")
			continue
		}
		fees = fees.Add(fee)
	}

	eth, err := ValueInUSD(totals.ETH.String(), tokenDecimals(rows, types.SymbolWETH, defaultWETHDecimals), prices.WETH)
	if err != nil {
		return nil, fmt.Errorf("convert WETH total: %w", err)
	}
	usdc, err := ValueInUSD(totals.USDC.String(), tokenDecimals(rows, types.SymbolUSDC, defaultUSDCDecimals), prices.USDC)
	if err != nil {
		return nil, fmt.Errorf("convert USDC total: %w", err)
	}
	return &USDSummary{
		TotalETH:  eth.StringFixed(2),
		TotalUSDC: usdc.StringFixed(2),
		TotalFees: fees.StringFixed(2),
	}, nil
}

// tokenDecimals returns the decimals reported by the first row of symbol,
// or fallback when no row carries them
func tokenDecimals(rows []*models.Transaction, symbol types.TokenSymbol, fallback string) string {
	for _, row := range rows {
		if types.TokenSymbol(row.TokenSymbol) == symbol && row.TokenDecimal != "" {
			return row.TokenDecimal
		}
	}
	return fallback
}

func (s *PriceService) quote(ctx context.Context, pair, source string, fetch func(context.Context) (decimal.Decimal, error)) (decimal.Decimal, error) {
	logger := logging.FromContext(ctx).WithField("pair", pair)

	if s.cache != nil {
		cached, ok, err := s.cache.GetQuote(ctx, pair)
		if err != nil {
			logger.WithError(err).Warn("Quote cache read failed")
		} else if ok {
			return cached.Price, nil
		}
	}

	price, err := fetch(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	if s.cache != nil {
		err := s.cache.SetQuote(ctx, &storage.CachedQuote{
			Pair:     pair,
			Price:    price,
			Source:   source,
			CachedAt: s.now().UTC(),
		})
		if err != nil {
			logger.WithError(err).Warn("Quote cache write failed")
		}
	}
	return price, nil
}

// FeeInUSD converts a stored fee (gasUsed*gasPrice/1e9) into USD
func FeeInUSD(fee string, ethUSD decimal.Decimal) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(fee)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(ethUSD).Div(gweiPerETH), nil
}

// ValueInUSD converts a raw token amount with the given decimals into USD
func ValueInUSD(amount, tokenDecimal string, priceUSD decimal.Decimal) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, err
	}
	decimals, err := decimal.NewFromString(tokenDecimal)
	if err != nil {
		return decimal.Zero, err
	}
	return value.Mul(priceUSD).Shift(-int32(decimals.IntPart())), nil // #nosec G115 - token decimals are small
}
