package service

import (
	"github.com/shopspring/decimal"

	"github.com/pair-tracker/internal/models"
	"github.com/pair-tracker/internal/types"
)

// Totals holds raw value sums per tracked token, before decimal scaling
type Totals struct {
	ETH  decimal.Decimal
	USDC decimal.Decimal
}

// ComputeTotals sums the value of WETH and USDC rows. Values that do not
// parse as decimals are skipped.
func ComputeTotals(rows []*models.Transaction) Totals {
	totals := Totals{ETH: decimal.Zero, USDC: decimal.Zero}
	for _, row := range rows {
		value, err := decimal.NewFromString(row.Value)
		if err != nil {
			continue
		}
		switch types.TokenSymbol(row.TokenSymbol) {
		case types.SymbolWETH:
			totals.ETH = totals.ETH.Add(value)
		case types.SymbolUSDC:
			totals.USDC = totals.USDC.Add(value)
		}
	}
	return totals
}
