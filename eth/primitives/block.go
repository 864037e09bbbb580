package primitives

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Block is a locally mined block: a sealed header plus the ordered list of
// mined transactions.
type Block struct {
	Header       *BlockHeader
	Transactions []*TransactionMined
}

// NewBlock returns an empty block with the given number.
func NewBlock(number uint64) *Block {
	return &Block{Header: NewBlockHeader(number)}
}

// GenesisBlock returns the canonical empty block number zero.
func GenesisBlock() *Block {
	genesis := NewBlock(0)
	genesis.Header.ComputeHash()
	return genesis
}

// Number returns the block number.
func (b *Block) Number() uint64 {
	return b.Header.Number
}

// Hash returns the sealed header hash.
func (b *Block) Hash() common.Hash {
	return b.Header.Hash
}

// MinedLogs returns every log in the block with positional metadata applied,
// ordered by (transaction index, log index).
func (b *Block) MinedLogs() []*types.Log {
	var logs []*types.Log
	for _, tx := range b.Transactions {
		logs = append(logs, tx.MinedLogs(uint(len(logs)))...)
	}
	return logs
}

// blockJSON is the canonical Ethereum RPC block shape with full transactions.
type blockJSON struct {
	Number           hexutil.Uint64           `json:"number"`
	Hash             common.Hash         `json:"hash"`
	ParentHash       common.Hash         `json:"parentHash"`
	StateRoot        common.Hash         `json:"stateRoot"`
	TransactionsRoot common.Hash         `json:"transactionsRoot"`
	ReceiptsRoot     common.Hash         `json:"receiptsRoot"`
	LogsBloom        types.Bloom         `json:"logsBloom"`
	GasUsed          hexutil.Uint64           `json:"gasUsed"`
	GasLimit         hexutil.Uint64           `json:"gasLimit"`
	Timestamp        hexutil.Uint64           `json:"timestamp"`
	Miner            common.Address      `json:"miner"`
	Transactions     []*TransactionMined `json:"transactions"`
}

// MarshalJSON serializes the block in the canonical RPC shape with full
// transaction objects.
func (b *Block) MarshalJSON() ([]byte, error) {
	return json.Marshal(&blockJSON{
		Number:           hexutil.Uint64(b.Header.Number),
		Hash:             b.Header.Hash,
		ParentHash:       b.Header.ParentHash,
		StateRoot:        b.Header.StateRoot,
		TransactionsRoot: b.Header.TransactionsRoot,
		ReceiptsRoot:     b.Header.ReceiptsRoot,
		LogsBloom:        b.Header.LogsBloom,
		GasUsed:          hexutil.Uint64(b.Header.GasUsed),
		GasLimit:         hexutil.Uint64(b.Header.GasLimit),
		Timestamp:        hexutil.Uint64(b.Header.Timestamp),
		Miner:            b.Header.Miner,
		Transactions:     b.Transactions,
	})
}

// UnmarshalJSON rebuilds the block from the canonical RPC shape.
func (b *Block) UnmarshalJSON(data []byte) error {
	var in blockJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	b.Header = &BlockHeader{
		Number:           uint64(in.Number),
		Hash:             in.Hash,
		ParentHash:       in.ParentHash,
		StateRoot:        in.StateRoot,
		TransactionsRoot: in.TransactionsRoot,
		ReceiptsRoot:     in.ReceiptsRoot,
		LogsBloom:        in.LogsBloom,
		GasUsed:          uint64(in.GasUsed),
		GasLimit:         uint64(in.GasLimit),
		Timestamp:        uint64(in.Timestamp),
		Miner:            in.Miner,
	}
	b.Transactions = in.Transactions
	for _, tx := range b.Transactions {
		tx.BlockNumber = b.Header.Number
		tx.BlockHash = b.Header.Hash
	}
	return nil
}
