package miner

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/maxcabrajac/stratus/eth/primitives"
	"github.com/maxcabrajac/stratus/eth/storage"
)

func newTestMiner(t *testing.T) (*Miner, *storage.StratusStorage) {
	t.Helper()
	store := storage.NewStratusStorage(
		storage.NewInMemoryTemporaryStorage(),
		storage.NewInMemoryPermanentStorage(),
	)
	if err := store.EnableGenesis(primitives.GenesisBlock()); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	m := NewMiner(store)
	m.now = func() uint64 { return 1700000000 }
	return m, store
}

func testTransaction() (*primitives.TransactionInput, *primitives.Execution) {
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	tx := &primitives.TransactionInput{
		Hash:     common.HexToHash("0x01"),
		Signer:   common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		To:       &to,
		Nonce:    0,
		Value:    uint256.NewInt(1),
		GasLimit: 21000,
	}
	execution := &primitives.Execution{
		Result:  primitives.ResultSuccess,
		GasUsed: 21000,
		Logs: []*types.Log{
			{Address: to, Topics: []common.Hash{common.HexToHash("0xaa")}, Data: []byte{0x01}},
		},
	}
	return tx, execution
}

func TestMineWithOneTransaction(t *testing.T) {
	m, store := newTestMiner(t)
	tx, execution := testTransaction()

	block, err := m.MineWithOneTransaction(tx, execution)
	if err != nil {
		t.Fatalf("mine: %v", err)
	}

	if block.Number() != 1 {
		t.Fatalf("expected block 1, got %d", block.Number())
	}
	genesis, _ := store.ReadBlock(primitives.SelectNumber(0))
	if block.Header.ParentHash != genesis.Hash() {
		t.Fatalf("parent hash mismatch: %s", block.Header.ParentHash.Hex())
	}
	if len(block.Transactions) != 1 || block.Transactions[0].Index != 0 {
		t.Fatalf("unexpected transactions: %v", block.Transactions)
	}
	if block.Transactions[0].BlockHash != block.Hash() {
		t.Fatal("transaction not stamped with block hash")
	}
	if block.Header.GasUsed != execution.GasUsed {
		t.Fatalf("gas used = %d", block.Header.GasUsed)
	}
	if block.Header.Hash == (common.Hash{}) {
		t.Fatal("header not sealed")
	}

	logs := block.MinedLogs()
	if len(logs) != 1 || logs[0].BlockNumber != 1 || logs[0].TxHash != tx.Hash {
		t.Fatalf("mined logs not stamped: %+v", logs[0])
	}
	emptyBloom := types.Bloom{}
	if block.Header.LogsBloom == emptyBloom {
		t.Fatal("logs bloom not computed")
	}
}

func TestMiningIsDeterministic(t *testing.T) {
	tx, execution := testTransaction()

	mineOnce := func() *primitives.Block {
		m, _ := newTestMiner(t)
		block, err := m.MineWithOneTransaction(tx, execution)
		if err != nil {
			t.Fatalf("mine: %v", err)
		}
		return block
	}

	first := mineOnce()
	second := mineOnce()
	if first.Hash() != second.Hash() {
		t.Fatalf("same inputs and tip must seal the same header: %s vs %s", first.Hash().Hex(), second.Hash().Hex())
	}
}

func TestMineWithNoTransactions(t *testing.T) {
	m, store := newTestMiner(t)

	block, err := m.MineWithNoTransactions()
	if err != nil {
		t.Fatalf("mine: %v", err)
	}
	if block.Number() != 1 || len(block.Transactions) != 0 {
		t.Fatalf("unexpected empty block: number=%d txs=%d", block.Number(), len(block.Transactions))
	}
	if block.Header.TransactionsRoot != types.EmptyRootHash || block.Header.ReceiptsRoot != types.EmptyRootHash {
		t.Fatal("empty block must carry empty roots")
	}

	number, _ := store.ReadCurrentBlockNumber()
	if number != 1 {
		t.Fatalf("block number not allocated, tip=%d", number)
	}
}

func TestTimestampsAreMonotonic(t *testing.T) {
	m, store := newTestMiner(t)

	m.now = func() uint64 { return 2000 }
	first, err := m.MineWithNoTransactions()
	if err != nil {
		t.Fatalf("mine: %v", err)
	}
	if err := store.Commit(first); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Wall clock moved backwards; the next header must not.
	m.now = func() uint64 { return 1000 }
	second, err := m.MineWithNoTransactions()
	if err != nil {
		t.Fatalf("mine: %v", err)
	}
	if second.Header.Timestamp < first.Header.Timestamp {
		t.Fatalf("timestamp went backwards: %d < %d", second.Header.Timestamp, first.Header.Timestamp)
	}
}

func TestMineFromExternal(t *testing.T) {
	m, _ := newTestMiner(t)

	key, _ := crypto.GenerateKey()
	signer := types.LatestSignerForChainID(big.NewInt(2008))
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	tx := types.MustSignNewTx(key, signer, &types.LegacyTx{
		Nonce:    0,
		To:       &to,
		Value:    big.NewInt(5),
		Gas:      21000,
		GasPrice: big.NewInt(1),
	})

	header := &types.Header{
		Number:     big.NewInt(9),
		ParentHash: common.HexToHash("0x0123"),
		Root:       common.HexToHash("0x0456"),
		TxHash:     common.HexToHash("0x0789"),
		Time:       1600000000,
		GasUsed:    21000,
		GasLimit:   30_000_000,
		Coinbase:   common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"),
	}
	external := &primitives.ExternalBlock{Header: header, Transactions: []*types.Transaction{tx}}

	execution := &primitives.Execution{Result: primitives.ResultSuccess, GasUsed: 21000}
	block, err := m.MineFromExternal(external, []*primitives.ExternalTransactionExecution{
		{Transaction: tx, Execution: execution},
	})
	if err != nil {
		t.Fatalf("mine: %v", err)
	}

	if block.Number() != 9 || block.Hash() != header.Hash() {
		t.Fatalf("external identity not preserved: number=%d hash=%s", block.Number(), block.Hash().Hex())
	}
	if block.Header.Timestamp != header.Time || block.Header.Miner != header.Coinbase {
		t.Fatal("external header fields not copied")
	}
	if len(block.Transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(block.Transactions))
	}
	mined := block.Transactions[0]
	if mined.Input.Hash != tx.Hash() || mined.BlockHash != header.Hash() {
		t.Fatal("transaction not converted from external form")
	}
	sender, _ := types.Sender(signer, tx)
	if mined.Input.Signer != sender {
		t.Fatalf("signer not recovered: %s", mined.Input.Signer.Hex())
	}
}
