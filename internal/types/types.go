// Package types provides common type definitions for the pair tracker system.
package types

import "time"

// TokenSymbol identifies the tokens traded through the tracked pair
type TokenSymbol string

const (
	// SymbolWETH represents wrapped ether
	SymbolWETH TokenSymbol = "WETH"
	// SymbolUSDC represents USD Coin
	SymbolUSDC TokenSymbol = "USDC"
)

// Closest selects which side of a timestamp a block lookup should land on
type Closest string

const (
	// ClosestBefore resolves to the last block mined at or before the instant
	ClosestBefore Closest = "before"
	// ClosestAfter resolves to the first block mined at or after the instant
	ClosestAfter Closest = "after"
)

// SortOrder is the explorer sort direction for transfer listings
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// TokenTransfer represents an ERC20 transfer event as returned by the explorer.
// All numeric fields are decimal strings, exactly as the explorer sends them.
type TokenTransfer struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	Nonce           string `json:"nonce"`
	BlockHash       string `json:"blockHash"`
	LogIndex        string `json:"logIndex,omitempty"`
	From            string `json:"from"`
	ContractAddress string `json:"contractAddress"`
	To              string `json:"to"`
	Value           string `json:"value"`
	TokenName       string `json:"tokenName"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
	TransactionIdx  string `json:"transactionIndex"`
	Gas             string `json:"gas"`
	GasPrice        string `json:"gasPrice"`
	GasUsed         string `json:"gasUsed"`
	CumulativeGas   string `json:"cumulativeGasUsed"`
	Input           string `json:"input"`
	Confirmations   string `json:"confirmations"`
}

// DateRange is an optional inclusive time window. Both bounds are set or neither is.
type DateRange struct {
	Start time.Time `json:"startDate"`
	End   time.Time `json:"endDate"`
}

// Contains reports whether t falls inside the range, bounds included
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// BlockRange is an inclusive block number range
type BlockRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Contains reports whether block lies inside the range, bounds included
func (r BlockRange) Contains(block uint64) bool {
	return block >= r.From && block <= r.To
}
