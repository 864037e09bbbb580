package storage

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/maxcabrajac/stratus/eth/primitives"
)

func minedBlock(number uint64, txHash common.Hash, changes ...*primitives.ExecutionAccountChanges) *primitives.Block {
	block := primitives.NewBlock(number)
	block.Header.ComputeHash()
	tx := &primitives.TransactionMined{
		Input:       &primitives.TransactionInput{Hash: txHash, Signer: addrA},
		Execution:   executionWith(changes...),
		Index:       0,
		BlockNumber: number,
		BlockHash:   block.Hash(),
	}
	block.Transactions = []*primitives.TransactionMined{tx}
	return block
}

func TestPermanentStoragePointInTimeReads(t *testing.T) {
	perm := NewInMemoryPermanentStorage()

	first := changesFor(addrA)
	first.Balance = primitives.Changed(uint256.NewInt(0), uint256.NewInt(100))
	first.Slots[slotOne] = primitives.Changed(common.Hash{}, common.HexToHash("0x10"))
	if err := perm.SaveBlock(minedBlock(1, common.HexToHash("0x0a"), first)); err != nil {
		t.Fatalf("save block 1: %v", err)
	}

	second := changesFor(addrA)
	second.Balance = primitives.Changed(uint256.NewInt(100), uint256.NewInt(250))
	second.Slots[slotOne] = primitives.Changed(common.HexToHash("0x10"), common.HexToHash("0x20"))
	if err := perm.SaveBlock(minedBlock(2, common.HexToHash("0x0b"), second)); err != nil {
		t.Fatalf("save block 2: %v", err)
	}

	// Invariant: the new value is visible at Past(block) and the original at
	// Past(block-1).
	slot, err := perm.ReadSlot(addrA, slotOne, primitives.Past(2))
	if err != nil || slot == nil {
		t.Fatalf("read slot past(2): %v %v", slot, err)
	}
	if slot.Value != common.HexToHash("0x20") {
		t.Fatalf("past(2) slot = %s", slot.Value.Hex())
	}
	slot, _ = perm.ReadSlot(addrA, slotOne, primitives.Past(1))
	if slot == nil || slot.Value != common.HexToHash("0x10") {
		t.Fatalf("past(1) slot = %v", slot)
	}
	slot, _ = perm.ReadSlot(addrA, slotOne, primitives.Past(0))
	if slot != nil {
		t.Fatalf("past(0) slot should be absent, got %s", slot.Value.Hex())
	}

	account, err := perm.ReadAccount(addrA, primitives.Past(1))
	if err != nil || account == nil {
		t.Fatalf("read account past(1): %v %v", account, err)
	}
	if account.Balance.Uint64() != 100 {
		t.Fatalf("past(1) balance = %s", account.Balance)
	}
	account, _ = perm.ReadAccount(addrA, primitives.Present())
	if account.Balance.Uint64() != 250 {
		t.Fatalf("present balance = %s", account.Balance)
	}

	// Point-in-time monotonicity: no write between 2 and 5 means identical
	// reads.
	slotAt2, _ := perm.ReadSlot(addrA, slotOne, primitives.Past(2))
	slotAt5, _ := perm.ReadSlot(addrA, slotOne, primitives.Past(5))
	if slotAt2.Value != slotAt5.Value {
		t.Fatalf("monotonicity violated: %s vs %s", slotAt2.Value.Hex(), slotAt5.Value.Hex())
	}
}

func TestPermanentStoragePersistsSlotIndexes(t *testing.T) {
	perm := NewInMemoryPermanentStorage()

	change := changesFor(addrA)
	change.Slots[slotOne] = primitives.Changed(common.Hash{}, common.HexToHash("0x10"))
	change.StaticSlotIndexes = primitives.Changed[mapset.Set[common.Hash]](nil, mapset.NewSet(slotOne))
	if err := perm.SaveBlock(minedBlock(1, common.HexToHash("0x0a"), change)); err != nil {
		t.Fatalf("save: %v", err)
	}

	account, _ := perm.ReadAccount(addrA, primitives.Present())
	if account == nil || account.StaticSlotIndexes == nil || !account.StaticSlotIndexes.Contains(slotOne) {
		t.Fatalf("slot indexes not persisted: %v", account)
	}
	account, _ = perm.ReadAccount(addrA, primitives.Past(0))
	if account != nil {
		t.Fatalf("past(0) read polluted: %v", account)
	}
}

func TestPermanentStorageSaveBlockConflict(t *testing.T) {
	perm := NewInMemoryPermanentStorage()

	first := changesFor(addrA)
	first.Slots[slotOne] = primitives.Changed(common.Hash{}, common.HexToHash("0x10"))
	if err := perm.SaveBlock(minedBlock(1, common.HexToHash("0x0a"), first)); err != nil {
		t.Fatalf("save block 1: %v", err)
	}

	// Declares a stale original for the slot.
	stale := changesFor(addrA)
	stale.Slots[slotOne] = primitives.Changed(common.Hash{}, common.HexToHash("0x30"))
	err := perm.SaveBlock(minedBlock(2, common.HexToHash("0x0b"), stale))
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// Nothing of the conflicting block was persisted.
	if block, _ := perm.ReadBlock(primitives.SelectNumber(2)); block != nil {
		t.Fatal("conflicting block was persisted")
	}
	if number, _ := perm.ReadMinedBlockNumber(); number != 1 {
		t.Fatalf("tip moved to %d", number)
	}
}

func TestPermanentStorageIntraBlockOriginals(t *testing.T) {
	perm := NewInMemoryPermanentStorage()

	// Two transactions in one block: the second's originals are the first's
	// modified values.
	block := primitives.NewBlock(1)
	block.Header.ComputeHash()

	first := changesFor(addrA)
	first.Slots[slotOne] = primitives.Changed(common.Hash{}, common.HexToHash("0x10"))
	second := changesFor(addrA)
	second.Slots[slotOne] = primitives.Changed(common.HexToHash("0x10"), common.HexToHash("0x20"))

	block.Transactions = []*primitives.TransactionMined{
		{Input: &primitives.TransactionInput{Hash: common.HexToHash("0x0a")}, Execution: executionWith(first), Index: 0, BlockNumber: 1, BlockHash: block.Hash()},
		{Input: &primitives.TransactionInput{Hash: common.HexToHash("0x0b")}, Execution: executionWith(second), Index: 1, BlockNumber: 1, BlockHash: block.Hash()},
	}

	if err := perm.SaveBlock(block); err != nil {
		t.Fatalf("save: %v", err)
	}
	slot, _ := perm.ReadSlot(addrA, slotOne, primitives.Present())
	if slot == nil || slot.Value != common.HexToHash("0x20") {
		t.Fatalf("expected last write to win, got %v", slot)
	}
}

func TestPermanentStorageBlockAndTransactionLookups(t *testing.T) {
	perm := NewInMemoryPermanentStorage()

	if err := perm.SaveBlock(primitives.GenesisBlock()); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	txHash := common.HexToHash("0x0a")
	block := minedBlock(1, txHash)
	if err := perm.SaveBlock(block); err != nil {
		t.Fatalf("save: %v", err)
	}

	byNumber, _ := perm.ReadBlock(primitives.SelectNumber(1))
	if byNumber == nil || byNumber.Hash() != block.Hash() {
		t.Fatalf("lookup by number failed: %v", byNumber)
	}
	byHash, _ := perm.ReadBlock(primitives.SelectHash(block.Hash()))
	if byHash == nil || byHash.Number() != 1 {
		t.Fatalf("lookup by hash failed: %v", byHash)
	}
	latest, _ := perm.ReadBlock(primitives.SelectLatest())
	if latest == nil || latest.Number() != 1 {
		t.Fatalf("latest lookup failed: %v", latest)
	}
	earliest, _ := perm.ReadBlock(primitives.SelectEarliest())
	if earliest == nil || earliest.Number() != 0 {
		t.Fatalf("earliest lookup failed: %v", earliest)
	}

	mined, _ := perm.ReadMinedTransaction(txHash)
	if mined == nil || mined.BlockNumber != 1 {
		t.Fatalf("mined transaction lookup failed: %v", mined)
	}
	if missing, _ := perm.ReadMinedTransaction(common.HexToHash("0xff")); missing != nil {
		t.Fatalf("expected miss, got %v", missing)
	}
}

func TestPermanentStorageSaveAccountsOnlyBeforeBlocks(t *testing.T) {
	perm := NewInMemoryPermanentStorage()

	if err := perm.SaveBlock(primitives.GenesisBlock()); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	accounts := []*primitives.Account{primitives.NewAccountWithBalance(addrA, uint256.NewInt(1000))}
	if err := perm.SaveAccounts(accounts); err != nil {
		t.Fatalf("genesis accounts must be accepted: %v", err)
	}

	account, _ := perm.ReadAccount(addrA, primitives.Present())
	if account == nil || account.Balance.Uint64() != 1000 {
		t.Fatalf("account not stored: %v", account)
	}

	if err := perm.SaveBlock(minedBlock(1, common.HexToHash("0x0a"))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := perm.SaveAccounts(accounts); err != ErrAccountsAlreadyCommitted {
		t.Fatalf("expected ErrAccountsAlreadyCommitted, got %v", err)
	}
}

func TestPermanentStorageResetAt(t *testing.T) {
	perm := NewInMemoryPermanentStorage()

	for number := uint64(1); number <= 3; number++ {
		change := changesFor(addrA)
		change.Nonce = primitives.Changed(number-1, number)
		if err := perm.SaveBlock(minedBlock(number, common.BytesToHash([]byte{byte(number)}), change)); err != nil {
			t.Fatalf("save %d: %v", number, err)
		}
	}

	if err := perm.ResetAt(1); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if number, _ := perm.ReadMinedBlockNumber(); number != 1 {
		t.Fatalf("tip = %d after reset", number)
	}
	if block, _ := perm.ReadBlock(primitives.SelectNumber(2)); block != nil {
		t.Fatal("block 2 survived reset")
	}
	account, _ := perm.ReadAccount(addrA, primitives.Present())
	if account == nil || account.Nonce != 1 {
		t.Fatalf("account state not truncated: %v", account)
	}
	if tx, _ := perm.ReadMinedTransaction(common.BytesToHash([]byte{2})); tx != nil {
		t.Fatal("transaction of truncated block survived")
	}
}

func TestPermanentStorageReadSlotsSample(t *testing.T) {
	perm := NewInMemoryPermanentStorage()

	for number := uint64(1); number <= 4; number++ {
		change := changesFor(addrA)
		change.Slots[slotOne] = primitives.Changed(common.Hash{}, common.BytesToHash([]byte{byte(number)}))
		// Each block declares the previous block's committed value as the
		// original, so no save conflicts.
		if number > 1 {
			change.Slots[slotOne] = primitives.Changed(common.BytesToHash([]byte{byte(number - 1)}), common.BytesToHash([]byte{byte(number)}))
		}
		if err := perm.SaveBlock(minedBlock(number, common.BytesToHash([]byte{0xf0, byte(number)}), change)); err != nil {
			t.Fatalf("save %d: %v", number, err)
		}
	}

	all, err := perm.ReadSlotsSample(1, 4, 0, 1)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected full population, got %d", len(all))
	}

	sampled, err := perm.ReadSlotsSample(1, 4, 2, 42)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(sampled) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(sampled))
	}

	again, _ := perm.ReadSlotsSample(1, 4, 2, 42)
	for i := range sampled {
		if sampled[i] != again[i] {
			t.Fatal("sampling is not deterministic for a fixed seed")
		}
	}
}
