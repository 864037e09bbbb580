package storage

import (
	"math/rand"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/maxcabrajac/stratus/eth/primitives"
)

// historyEntry is one committed value of an account field or slot, stamped
// with the block that produced it.
type historyEntry[T any] struct {
	block uint64
	value T
}

// history is the append-only sequence of committed values for one field,
// ordered by block number.
type history[T any] []historyEntry[T]

func (h history[T]) at(pointInTime primitives.PointInTime) (T, bool) {
	var zero T
	if len(h) == 0 {
		return zero, false
	}
	if pointInTime.IsPresent() {
		return h[len(h)-1].value, true
	}
	pastBlock, _ := pointInTime.PastBlock()
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].block <= pastBlock {
			return h[i].value, true
		}
	}
	return zero, false
}

func (h *history[T]) push(block uint64, value T) {
	entries := *h
	if len(entries) > 0 && entries[len(entries)-1].block == block {
		entries[len(entries)-1].value = value
		*h = entries
		return
	}
	*h = append(entries, historyEntry[T]{block: block, value: value})
}

func (h *history[T]) truncate(block uint64) {
	entries := *h
	for len(entries) > 0 && entries[len(entries)-1].block > block {
		entries = entries[:len(entries)-1]
	}
	*h = entries
}

type permanentAccount struct {
	nonce    history[uint64]
	balance  history[*uint256.Int]
	bytecode history[[]byte]
	slots    map[common.Hash]*history[common.Hash]

	staticSlotIndexes  history[mapset.Set[common.Hash]]
	mappingSlotIndexes history[mapset.Set[common.Hash]]
}

func newPermanentAccount() *permanentAccount {
	return &permanentAccount{slots: make(map[common.Hash]*history[common.Hash])}
}

// InMemoryPermanentStorage keeps committed state in memory with per-block
// history, which makes every past block queryable as a snapshot.
type InMemoryPermanentStorage struct {
	mu sync.RWMutex

	blockNumber    uint64
	blocksByNumber map[uint64]*primitives.Block
	blocksByHash   map[common.Hash]*primitives.Block
	blockOrder     []uint64
	transactions   map[common.Hash]*primitives.TransactionMined
	accounts       map[common.Address]*permanentAccount
}

// NewInMemoryPermanentStorage creates an empty committed-state store.
func NewInMemoryPermanentStorage() *InMemoryPermanentStorage {
	log.Info("creating inmemory permanent storage")
	return &InMemoryPermanentStorage{
		blocksByNumber: make(map[uint64]*primitives.Block),
		blocksByHash:   make(map[common.Hash]*primitives.Block),
		transactions:   make(map[common.Hash]*primitives.TransactionMined),
		accounts:       make(map[common.Address]*permanentAccount),
	}
}

// AllocateEvmThreadResources is a no-op: the in-memory store keeps no
// thread-local handles.
func (s *InMemoryPermanentStorage) AllocateEvmThreadResources() error {
	return nil
}

func (s *InMemoryPermanentStorage) ReadMinedBlockNumber() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockNumber, nil
}

func (s *InMemoryPermanentStorage) IncrementBlockNumber() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockNumber++
	return s.blockNumber, nil
}

func (s *InMemoryPermanentStorage) SetMinedBlockNumber(number uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockNumber = number
	return nil
}

// SaveBlock validates the block's declared original values against committed
// state, then applies every change atomically. A divergent original yields a
// ConflictError and nothing is persisted.
func (s *InMemoryPermanentStorage) SaveBlock(block *primitives.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conflicts := s.checkCommitConflicts(block); len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}

	number := block.Number()
	for _, tx := range block.Transactions {
		for _, change := range tx.Execution.ChangesToPersist() {
			account := s.account(change.Address)
			if change.Nonce.Set {
				account.nonce.push(number, change.Nonce.Modified)
			}
			if change.Balance.Set {
				account.balance.push(number, change.Balance.Modified.Clone())
			}
			if change.Bytecode.Set && change.Bytecode.Modified != nil {
				account.bytecode.push(number, append([]byte(nil), change.Bytecode.Modified...))
			}
			if change.StaticSlotIndexes.Set && change.StaticSlotIndexes.Modified != nil {
				account.staticSlotIndexes.push(number, change.StaticSlotIndexes.Modified.Clone())
			}
			if change.MappingSlotIndexes.Set && change.MappingSlotIndexes.Modified != nil {
				account.mappingSlotIndexes.push(number, change.MappingSlotIndexes.Modified.Clone())
			}
			for index, slot := range change.Slots {
				if !slot.Set {
					continue
				}
				slotHistory, ok := account.slots[index]
				if !ok {
					slotHistory = new(history[common.Hash])
					account.slots[index] = slotHistory
				}
				slotHistory.push(number, slot.Modified)
			}
		}
		s.transactions[tx.Input.Hash] = tx
	}

	s.blocksByNumber[number] = block
	s.blocksByHash[block.Hash()] = block
	s.blockOrder = append(s.blockOrder, number)
	if number > s.blockNumber || len(s.blockOrder) == 1 {
		s.blockNumber = number
	}
	return nil
}

func (s *InMemoryPermanentStorage) checkCommitConflicts(block *primitives.Block) primitives.ExecutionConflicts {
	var conflicts primitives.ExecutionConflicts

	// Originals declared by a later transaction may legitimately be values
	// written by an earlier transaction of the same block, so track the
	// in-block view while scanning.
	type pendingView struct {
		nonce   *uint64
		balance *uint256.Int
		slots   map[common.Hash]common.Hash
	}
	pending := make(map[common.Address]*pendingView)
	view := func(address common.Address) *pendingView {
		v, ok := pending[address]
		if !ok {
			v = &pendingView{slots: make(map[common.Hash]common.Hash)}
			pending[address] = v
		}
		return v
	}

	for _, tx := range block.Transactions {
		for _, change := range tx.Execution.ChangesToPersist() {
			account := s.accounts[change.Address]
			v := view(change.Address)

			if change.Nonce.Set {
				current := uint64(0)
				if v.nonce != nil {
					current = *v.nonce
				} else if account != nil {
					if nonce, ok := account.nonce.at(primitives.Present()); ok {
						current = nonce
					}
				}
				if current != change.Nonce.Original {
					conflicts = append(conflicts, primitives.ExecutionConflict{
						Address:  change.Address,
						Field:    primitives.ConflictNonce,
						Expected: uintString(change.Nonce.Original),
						Actual:   uintString(current),
					})
				}
				modified := change.Nonce.Modified
				v.nonce = &modified
			}

			if change.Balance.Set {
				current := uint256.NewInt(0)
				if v.balance != nil {
					current = v.balance
				} else if account != nil {
					if balance, ok := account.balance.at(primitives.Present()); ok {
						current = balance
					}
				}
				if !current.Eq(change.Balance.Original) {
					conflicts = append(conflicts, primitives.ExecutionConflict{
						Address:  change.Address,
						Field:    primitives.ConflictBalance,
						Expected: change.Balance.Original.Dec(),
						Actual:   current.Dec(),
					})
				}
				v.balance = change.Balance.Modified.Clone()
			}

			for index, slot := range change.Slots {
				if !slot.Set {
					continue
				}
				current := common.Hash{}
				if pendingValue, ok := v.slots[index]; ok {
					current = pendingValue
				} else if account != nil {
					if slotHistory, ok := account.slots[index]; ok {
						if value, ok := slotHistory.at(primitives.Present()); ok {
							current = value
						}
					}
				}
				if current != slot.Original {
					conflicts = append(conflicts, primitives.ExecutionConflict{
						Address:  change.Address,
						Field:    primitives.ConflictSlot,
						Slot:     index,
						Expected: slot.Original.Hex(),
						Actual:   current.Hex(),
					})
				}
				v.slots[index] = slot.Modified
			}
		}
	}

	return conflicts
}

func (s *InMemoryPermanentStorage) account(address common.Address) *permanentAccount {
	account, ok := s.accounts[address]
	if !ok {
		account = newPermanentAccount()
		s.accounts[address] = account
	}
	return account
}

func (s *InMemoryPermanentStorage) ReadBlock(selection primitives.BlockSelection) (*primitives.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readBlockLocked(selection), nil
}

func (s *InMemoryPermanentStorage) readBlockLocked(selection primitives.BlockSelection) *primitives.Block {
	switch {
	case selection.IsLatest():
		if len(s.blockOrder) == 0 {
			return nil
		}
		return s.blocksByNumber[s.blockOrder[len(s.blockOrder)-1]]
	case selection.IsEarliest():
		if len(s.blockOrder) == 0 {
			return nil
		}
		return s.blocksByNumber[s.blockOrder[0]]
	default:
		if number, ok := selection.Number(); ok {
			return s.blocksByNumber[number]
		}
		hash, _ := selection.Hash()
		return s.blocksByHash[hash]
	}
}

func (s *InMemoryPermanentStorage) ReadMinedTransaction(hash common.Hash) (*primitives.TransactionMined, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transactions[hash], nil
}

func (s *InMemoryPermanentStorage) ReadLogs(filter *primitives.LogFilter) ([]*types.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var logs []*types.Log
	for _, number := range s.blockOrder {
		block := s.blocksByNumber[number]
		if block.Number() < filter.FromBlock {
			continue
		}
		if filter.ToBlock != nil && block.Number() > *filter.ToBlock {
			continue
		}
		for _, minedLog := range block.MinedLogs() {
			if filter.Matches(minedLog) {
				logs = append(logs, minedLog)
			}
		}
	}
	return logs, nil
}

func (s *InMemoryPermanentStorage) SaveAccounts(accounts []*primitives.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, number := range s.blockOrder {
		if number > 0 || len(s.blocksByNumber[number].Transactions) > 0 {
			return ErrAccountsAlreadyCommitted
		}
	}

	for _, account := range accounts {
		stored := s.account(account.Address)
		stored.nonce.push(0, account.Nonce)
		stored.balance.push(0, account.Balance.Clone())
		if account.IsContract() {
			stored.bytecode.push(0, append([]byte(nil), account.Bytecode...))
		}
		if account.StaticSlotIndexes != nil {
			stored.staticSlotIndexes.push(0, account.StaticSlotIndexes.Clone())
		}
		if account.MappingSlotIndexes != nil {
			stored.mappingSlotIndexes.push(0, account.MappingSlotIndexes.Clone())
		}
	}
	return nil
}

func (s *InMemoryPermanentStorage) ReadAccount(address common.Address, pointInTime primitives.PointInTime) (*primitives.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.accounts[address]
	if !ok {
		return nil, nil
	}

	account := primitives.NewEmptyAccount(address)
	found := false
	if nonce, ok := stored.nonce.at(pointInTime); ok {
		account.Nonce = nonce
		found = true
	}
	if balance, ok := stored.balance.at(pointInTime); ok {
		account.Balance = balance.Clone()
		found = true
	}
	if bytecode, ok := stored.bytecode.at(pointInTime); ok {
		account.SetBytecode(bytecode)
		found = true
	}
	if indexes, ok := stored.staticSlotIndexes.at(pointInTime); ok {
		account.StaticSlotIndexes = indexes.Clone()
		found = true
	}
	if indexes, ok := stored.mappingSlotIndexes.at(pointInTime); ok {
		account.MappingSlotIndexes = indexes.Clone()
		found = true
	}
	if !found {
		return nil, nil
	}
	return account, nil
}

func (s *InMemoryPermanentStorage) ReadSlot(address common.Address, index common.Hash, pointInTime primitives.PointInTime) (*primitives.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readSlotLocked(address, index, pointInTime), nil
}

func (s *InMemoryPermanentStorage) readSlotLocked(address common.Address, index common.Hash, pointInTime primitives.PointInTime) *primitives.Slot {
	stored, ok := s.accounts[address]
	if !ok {
		return nil
	}
	slotHistory, ok := stored.slots[index]
	if !ok {
		return nil
	}
	value, ok := slotHistory.at(pointInTime)
	if !ok {
		return nil
	}
	return primitives.NewSlot(index, value)
}

func (s *InMemoryPermanentStorage) ReadSlots(address common.Address, indexes []common.Hash, pointInTime primitives.PointInTime) (map[common.Hash]common.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[common.Hash]common.Hash, len(indexes))
	for _, index := range indexes {
		if slot := s.readSlotLocked(address, index, pointInTime); slot != nil {
			out[index] = slot.Value
		}
	}
	return out, nil
}

// ReadSlotsSample returns a deterministic random sample of slot writes
// committed between the start and end blocks.
func (s *InMemoryPermanentStorage) ReadSlotsSample(start, end uint64, maxSamples, seed uint64) ([]primitives.SlotSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var population []primitives.SlotSample
	for _, number := range s.blockOrder {
		if number < start || number > end {
			continue
		}
		block := s.blocksByNumber[number]
		for _, tx := range block.Transactions {
			for _, change := range tx.Execution.ChangesToPersist() {
				for index, slot := range change.Slots {
					if !slot.Set {
						continue
					}
					population = append(population, primitives.SlotSample{
						Address:     change.Address,
						BlockNumber: number,
						Index:       index,
						Value:       slot.Modified,
					})
				}
			}
		}
	}

	if maxSamples == 0 || uint64(len(population)) <= maxSamples {
		return population, nil
	}

	rng := rand.New(rand.NewSource(int64(seed)))
	rng.Shuffle(len(population), func(i, j int) {
		population[i], population[j] = population[j], population[i]
	})
	return population[:maxSamples], nil
}

func (s *InMemoryPermanentStorage) ResetAt(number uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.blockOrder[:0]
	for _, blockNumber := range s.blockOrder {
		if blockNumber > number {
			block := s.blocksByNumber[blockNumber]
			delete(s.blocksByNumber, blockNumber)
			delete(s.blocksByHash, block.Hash())
			for _, tx := range block.Transactions {
				delete(s.transactions, tx.Input.Hash)
			}
			continue
		}
		kept = append(kept, blockNumber)
	}
	s.blockOrder = kept

	for address, account := range s.accounts {
		account.nonce.truncate(number)
		account.balance.truncate(number)
		account.bytecode.truncate(number)
		account.staticSlotIndexes.truncate(number)
		account.mappingSlotIndexes.truncate(number)
		for index, slotHistory := range account.slots {
			slotHistory.truncate(number)
			if len(*slotHistory) == 0 {
				delete(account.slots, index)
			}
		}
		if len(account.nonce) == 0 && len(account.balance) == 0 && len(account.bytecode) == 0 &&
			len(account.staticSlotIndexes) == 0 && len(account.mappingSlotIndexes) == 0 && len(account.slots) == 0 {
			delete(s.accounts, address)
		}
	}

	s.blockNumber = number
	return nil
}
