package primitives

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ExternalBlock is the upstream representation of a block scheduled for
// import: the original header plus the full transactions.
type ExternalBlock struct {
	Header       *types.Header
	Transactions []*types.Transaction
}

// Number returns the external block number.
func (b *ExternalBlock) Number() uint64 {
	return b.Header.Number.Uint64()
}

// Hash returns the external block hash, derived from the upstream header.
func (b *ExternalBlock) Hash() common.Hash {
	return b.Header.Hash()
}

// ExternalReceipt is the upstream receipt representation used for
// re-execution verification.
type ExternalReceipt = types.Receipt

// ExternalTransaction is the upstream transaction representation.
type ExternalTransaction = types.Transaction
