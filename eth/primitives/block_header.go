package primitives

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// BlockHeader is the sealed header of a locally mined block.
type BlockHeader struct {
	Number           uint64
	Hash             common.Hash
	ParentHash       common.Hash
	StateRoot        common.Hash
	TransactionsRoot common.Hash
	ReceiptsRoot     common.Hash
	LogsBloom        types.Bloom
	GasUsed          uint64
	GasLimit         uint64
	Timestamp        uint64
	Miner            common.Address
}

// NewBlockHeader returns a header for the given number with empty roots.
func NewBlockHeader(number uint64) *BlockHeader {
	return &BlockHeader{
		Number:           number,
		StateRoot:        types.EmptyRootHash,
		TransactionsRoot: types.EmptyRootHash,
		ReceiptsRoot:     types.EmptyRootHash,
	}
}

// ComputeHash seals the header: it derives the header hash from every other
// field and stores it. The hash is the keccak of the RLP of the fields in
// canonical order.
func (h *BlockHeader) ComputeHash() common.Hash {
	encoded, err := rlp.EncodeToBytes([]interface{}{
		h.Number,
		h.ParentHash,
		h.StateRoot,
		h.TransactionsRoot,
		h.ReceiptsRoot,
		h.LogsBloom,
		h.GasUsed,
		h.GasLimit,
		h.Timestamp,
		h.Miner,
	})
	if err != nil {
		// all fields are fixed-shape RLP-encodable values
		panic(err)
	}
	h.Hash = crypto.Keccak256Hash(encoded)
	return h.Hash
}
