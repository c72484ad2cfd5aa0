package models

import (
	"strconv"
	"strings"
	"time"
)

// Transaction represents a stored transfer event of the tracked pair.
// One transaction hash can map to several rows, one per transfer log.
type Transaction struct {
	Hash            string    `json:"hash" db:"hash" ch:"hash"`
	BlockNumber     uint64    `json:"blockNumber" db:"block_number" ch:"block_number"`
	LogIndex        int64     `json:"logIndex" db:"log_index" ch:"log_index"` // -1 when the explorer did not report one
	Date            time.Time `json:"date" db:"date" ch:"date"`
	From            string    `json:"from" db:"from_address" ch:"from_address"`
	To              string    `json:"to" db:"to_address" ch:"to_address"`
	ContractAddress string    `json:"contractAddress" db:"contract_address" ch:"contract_address"`
	Value           string    `json:"value" db:"value" ch:"value"`
	TokenName       string    `json:"tokenName" db:"token_name" ch:"token_name"`
	TokenSymbol     string    `json:"tokenSymbol" db:"token_symbol" ch:"token_symbol"`
	TokenDecimal    string    `json:"tokenDecimal" db:"token_decimal" ch:"token_decimal"`
	Fee             string    `json:"fee" db:"fee" ch:"fee"`
	Confirmations   string    `json:"confirmations" db:"confirmations" ch:"confirmations"`
}

// EventKey returns the natural key used to deduplicate stored transfers
func (t *Transaction) EventKey() string {
	return strings.Join([]string{
		strings.ToLower(t.Hash),
		strconv.FormatInt(t.LogIndex, 10),
		strings.ToLower(t.ContractAddress),
		strings.ToLower(t.From),
		strings.ToLower(t.To),
		t.Value,
	}, "|")
}

// HasHash reports whether the row belongs to the given transaction hash
func (t *Transaction) HasHash(hash string) bool {
	return strings.EqualFold(t.Hash, hash)
}
