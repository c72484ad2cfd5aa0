package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/pair-tracker/internal/types"
	"github.com/shopspring/decimal"
)

// gweiScale converts gasUsed*gasPrice (wei) into the gwei-scaled unit the
// USD fee conversion expects.
var gweiScale = decimal.New(1, 9)

// TransformTransfers maps explorer transfer records into the stored shape.
// Records without at least one confirmation are dropped. Input order is kept.
func TransformTransfers(records []types.TokenTransfer) []*Transaction {
	result := make([]*Transaction, 0, len(records))
	for i := range records {
		tx, ok := FromTokenTransfer(&records[i])
		if !ok {
			continue
		}
		result = append(result, tx)
	}
	return result
}

// FromTokenTransfer converts a single explorer record. The second return value
// is false when the record is unconfirmed or its confirmation count is unreadable.
func FromTokenTransfer(rec *types.TokenTransfer) (*Transaction, bool) {
	confirmations, err := strconv.ParseInt(strings.TrimSpace(rec.Confirmations), 10, 64)
	if err != nil || confirmations <= 0 {
		return nil, false
	}

	timestamp, _ := strconv.ParseInt(rec.TimeStamp, 10, 64)
	blockNum, _ := strconv.ParseUint(rec.BlockNumber, 10, 64)

	logIndex := int64(-1)
	if rec.LogIndex != "" {
		if idx, err := strconv.ParseInt(rec.LogIndex, 10, 64); err == nil {
			logIndex = idx
		}
	}

	return &Transaction{
		Hash:            strings.ToLower(rec.Hash),
		BlockNumber:     blockNum,
		LogIndex:        logIndex,
		Date:            time.Unix(timestamp, 0).UTC(),
		From:            strings.ToLower(rec.From),
		To:              strings.ToLower(rec.To),
		ContractAddress: strings.ToLower(rec.ContractAddress),
		Value:           rec.Value,
		TokenName:       rec.TokenName,
		TokenSymbol:     rec.TokenSymbol,
		TokenDecimal:    rec.TokenDecimal,
		Fee:             ComputeFee(rec.GasUsed, rec.GasPrice),
		Confirmations:   rec.Confirmations,
	}, true
}

// ComputeFee returns gasUsed * gasPrice / 1e9 as a decimal string.
// Unparseable inputs count as zero.
func ComputeFee(gasUsed, gasPrice string) string {
	used, err := decimal.NewFromString(strings.TrimSpace(gasUsed))
	if err != nil {
		used = decimal.Zero
	}
	price, err := decimal.NewFromString(strings.TrimSpace(gasPrice))
	if err != nil {
		price = decimal.Zero
	}
	return used.Mul(price).Div(gweiScale).String()
}

// FilterTransfersByHash keeps only the explorer records that belong to hash
func FilterTransfersByHash(records []types.TokenTransfer, hash string) []types.TokenTransfer {
	filtered := make([]types.TokenTransfer, 0, len(records))
	for _, rec := range records {
		if strings.EqualFold(rec.Hash, hash) {
			filtered = append(filtered, rec)
		}
	}
	return filtered
}
