// Package adapter provides the upstream data sources of the pair tracker:
// the block explorer and the price feeds.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pair-tracker/internal/types"
)

// Explorer defines the block explorer operations the lookup engine needs.
// Implementations classify every outcome with a LookupStatus instead of
// returning errors.
type Explorer interface {
	// ResolveBlockByHash returns the block that mined the transaction
	ResolveBlockByHash(ctx context.Context, hash string) BlockLookup

	// ResolveBlockByTimestamp returns the block closest to t on the requested side
	ResolveBlockByTimestamp(ctx context.Context, t time.Time, closest types.Closest) BlockLookup

	// FetchTransferEvents returns one page of the pair's transfer events
	FetchTransferEvents(ctx context.Context, q TransferQuery) TransferPage
}

var _ Explorer = (*EtherscanClient)(nil)

// ErrInvalidHash indicates a malformed transaction hash
var ErrInvalidHash = fmt.Errorf("invalid transaction hash")

// ValidateHash checks that hash is a 0x-prefixed 32-byte hex string
func ValidateHash(hash string) error {
	if len(hash) != 2+2*common.HashLength || !has0xPrefix(hash) || !isHex(hash[2:]) {
		return fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return nil
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
