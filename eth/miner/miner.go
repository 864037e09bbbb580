package miner

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/maxcabrajac/stratus/eth/primitives"
	"github.com/maxcabrajac/stratus/eth/storage"
)

const blockGasLimit = 30_000_000

// Miner assembles blocks from executed transactions. It is stateless apart
// from its storage handle; callers serialize mining and commit with their own
// mutual exclusion.
type Miner struct {
	store *storage.StratusStorage

	// now returns the wall-clock unix timestamp; overridable in tests.
	now func() uint64
}

// NewMiner creates a miner over the given storage.
func NewMiner(store *storage.StratusStorage) *Miner {
	return &Miner{
		store: store,
		now:   func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// MineWithOneTransaction assembles the next block containing exactly the
// given transaction and its execution. The block number is allocated
// atomically from storage; the header is deterministic given the inputs and
// the storage tip, except for the monotonic timestamp.
func (m *Miner) MineWithOneTransaction(tx *primitives.TransactionInput, execution *primitives.Execution) (*primitives.Block, error) {
	number, parent, err := m.nextBlock()
	if err != nil {
		return nil, err
	}

	mined := &primitives.TransactionMined{
		Input:       tx,
		Execution:   execution,
		Index:       0,
		BlockNumber: number,
	}
	block := &primitives.Block{
		Header:       m.header(number, parent),
		Transactions: []*primitives.TransactionMined{mined},
	}

	logs := mined.MinedLogs(0)
	block.Header.GasUsed = execution.GasUsed
	block.Header.LogsBloom = types.BytesToBloom(types.LogsBloom(logs))
	block.Header.TransactionsRoot = crypto.Keccak256Hash(tx.Hash.Bytes())
	block.Header.ReceiptsRoot = types.DeriveSha(types.Receipts{receiptFromExecution(mined)}, trie.NewStackTrie(nil))
	block.Header.StateRoot = stateRootFrom(parent, block.Header.ReceiptsRoot)

	m.seal(block)
	return block, nil
}

// MineWithNoTransactions assembles the next empty block.
func (m *Miner) MineWithNoTransactions() (*primitives.Block, error) {
	number, parent, err := m.nextBlock()
	if err != nil {
		return nil, err
	}

	block := primitives.NewBlock(number)
	block.Header = m.header(number, parent)
	block.Header.StateRoot = stateRootFrom(parent, types.EmptyRootHash)

	m.seal(block)
	log.Debug("mined empty block", "number", number, "hash", block.Hash())
	return block, nil
}

// MineFromExternal assembles a block that preserves the identity of an
// imported external block: number, hash, parent, roots and timestamp all come
// from the upstream header, while the transactions carry the verified local
// re-executions.
func (m *Miner) MineFromExternal(external *primitives.ExternalBlock, executions []*primitives.ExternalTransactionExecution) (*primitives.Block, error) {
	header := &primitives.BlockHeader{
		Number:           external.Number(),
		Hash:             external.Hash(),
		ParentHash:       external.Header.ParentHash,
		StateRoot:        external.Header.Root,
		TransactionsRoot: external.Header.TxHash,
		ReceiptsRoot:     external.Header.ReceiptHash,
		LogsBloom:        external.Header.Bloom,
		GasUsed:          external.Header.GasUsed,
		GasLimit:         external.Header.GasLimit,
		Timestamp:        external.Header.Time,
		Miner:            external.Header.Coinbase,
	}

	block := &primitives.Block{Header: header}
	for i, executed := range executions {
		input, err := primitives.TransactionInputFromExternal(executed.Transaction, executed.Transaction.ChainId())
		if err != nil {
			return nil, err
		}
		block.Transactions = append(block.Transactions, &primitives.TransactionMined{
			Input:       input,
			Execution:   executed.Execution,
			Index:       uint(i),
			BlockNumber: header.Number,
			BlockHash:   header.Hash,
		})
	}
	return block, nil
}

func (m *Miner) nextBlock() (uint64, *primitives.Block, error) {
	number, err := m.store.IncrementBlockNumber()
	if err != nil {
		return 0, nil, err
	}
	parent, err := m.store.ReadBlock(primitives.SelectNumber(number - 1))
	if err != nil {
		return 0, nil, err
	}
	return number, parent, nil
}

func (m *Miner) header(number uint64, parent *primitives.Block) *primitives.BlockHeader {
	header := primitives.NewBlockHeader(number)
	header.GasLimit = blockGasLimit
	header.Timestamp = m.now()
	if parent != nil {
		header.ParentHash = parent.Hash()
		if header.Timestamp < parent.Header.Timestamp {
			header.Timestamp = parent.Header.Timestamp
		}
	}
	return header
}

func (m *Miner) seal(block *primitives.Block) {
	block.Header.ComputeHash()
	for _, tx := range block.Transactions {
		tx.BlockHash = block.Hash()
	}
}

// stateRootFrom chains the block's state identity off the parent root and the
// block's own receipts, which keeps roots deterministic without a state trie.
func stateRootFrom(parent *primitives.Block, receiptsRoot common.Hash) common.Hash {
	parentRoot := types.EmptyRootHash
	if parent != nil {
		parentRoot = parent.Header.StateRoot
	}
	return crypto.Keccak256Hash(parentRoot.Bytes(), receiptsRoot.Bytes())
}

func receiptFromExecution(tx *primitives.TransactionMined) *types.Receipt {
	execution := tx.Execution
	receipt := &types.Receipt{
		Status:            types.ReceiptStatusFailed,
		CumulativeGasUsed: execution.GasUsed,
		GasUsed:           execution.GasUsed,
		TxHash:            tx.Input.Hash,
		Logs:              execution.Logs,
	}
	if execution.IsSuccess() {
		receipt.Status = types.ReceiptStatusSuccessful
	}
	if execution.ContractAddress != nil {
		receipt.ContractAddress = *execution.ContractAddress
	}
	receipt.Bloom = types.BytesToBloom(types.LogsBloom(receipt.Logs))
	return receipt
}
