package storage

import (
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/maxcabrajac/stratus/eth/primitives"
)

func uintString(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// InMemoryTemporaryStorage is the overlay of pending account and slot
// mutations for the block currently being assembled. Merging is
// last-writer-wins per field; slot merges are keyed by slot index.
type InMemoryTemporaryStorage struct {
	mu sync.RWMutex

	externalBlock     *primitives.ExternalBlock
	executions        []*primitives.Execution
	accounts          map[common.Address]*temporaryAccount
	activeBlockNumber *uint64
}

type temporaryAccount struct {
	info  *primitives.Account
	slots map[common.Hash]*primitives.Slot
}

func newTemporaryAccount(address common.Address) *temporaryAccount {
	return &temporaryAccount{
		info:  primitives.NewEmptyAccount(address),
		slots: make(map[common.Hash]*primitives.Slot),
	}
}

// NewInMemoryTemporaryStorage creates an empty overlay.
func NewInMemoryTemporaryStorage() *InMemoryTemporaryStorage {
	log.Info("creating inmemory temporary storage")
	return &InMemoryTemporaryStorage{
		accounts: make(map[common.Address]*temporaryAccount),
	}
}

func (s *InMemoryTemporaryStorage) SetActiveBlockNumber(number uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeBlockNumber = &number
	return nil
}

func (s *InMemoryTemporaryStorage) ReadActiveBlockNumber() (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeBlockNumber == nil {
		return 0, false, nil
	}
	return *s.activeBlockNumber, true, nil
}

func (s *InMemoryTemporaryStorage) SaveAccountChanges(blockNumber uint64, execution *primitives.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Debug("saving execution to temporary storage", "block", blockNumber, "pending", len(s.executions))

	for _, change := range execution.ChangesToPersist() {
		account, ok := s.accounts[change.Address]
		if !ok {
			account = newTemporaryAccount(change.Address)
			s.accounts[change.Address] = account
		}

		if change.Nonce.Set {
			account.info.Nonce = change.Nonce.Modified
		}
		if change.Balance.Set {
			account.info.Balance = change.Balance.Modified.Clone()
		}
		if change.Bytecode.Set && change.Bytecode.Modified != nil {
			account.info.SetBytecode(change.Bytecode.Modified)
		}
		if change.StaticSlotIndexes.Set && change.StaticSlotIndexes.Modified != nil {
			account.info.StaticSlotIndexes = change.StaticSlotIndexes.Modified
		}
		if change.MappingSlotIndexes.Set && change.MappingSlotIndexes.Modified != nil {
			account.info.MappingSlotIndexes = change.MappingSlotIndexes.Modified
		}

		for index, slot := range change.Slots {
			if slot.Set {
				account.slots[index] = primitives.NewSlot(index, slot.Modified)
			}
		}
	}

	s.executions = append(s.executions, execution)
	return nil
}

func (s *InMemoryTemporaryStorage) ReadAccount(address common.Address) (*primitives.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[address]
	if !ok {
		return nil, nil
	}
	return account.info.Clone(), nil
}

func (s *InMemoryTemporaryStorage) ReadSlot(address common.Address, index common.Hash) (*primitives.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[address]
	if !ok {
		return nil, nil
	}
	slot, ok := account.slots[index]
	if !ok {
		return nil, nil
	}
	copied := *slot
	return &copied, nil
}

// CheckConflicts compares every original value declared by the execution
// against the overlay's current view. Only accounts present in the overlay
// participate; absent accounts cannot have been modified by a concurrent
// pending execution.
func (s *InMemoryTemporaryStorage) CheckConflicts(execution *primitives.Execution) (primitives.ExecutionConflicts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conflicts primitives.ExecutionConflicts
	for _, change := range execution.Changes {
		account, ok := s.accounts[change.Address]
		if !ok {
			continue
		}

		if change.Nonce.Set && account.info.Nonce != change.Nonce.Original {
			conflicts = append(conflicts, primitives.ExecutionConflict{
				Address:  change.Address,
				Field:    primitives.ConflictNonce,
				Expected: uintString(change.Nonce.Original),
				Actual:   uintString(account.info.Nonce),
			})
		}
		if change.Balance.Set && !account.info.Balance.Eq(change.Balance.Original) {
			conflicts = append(conflicts, primitives.ExecutionConflict{
				Address:  change.Address,
				Field:    primitives.ConflictBalance,
				Expected: change.Balance.Original.Dec(),
				Actual:   account.info.Balance.Dec(),
			})
		}
		for index, slot := range change.Slots {
			if !slot.Set {
				continue
			}
			current, ok := account.slots[index]
			if !ok {
				continue
			}
			if current.Value != slot.Original {
				conflicts = append(conflicts, primitives.ExecutionConflict{
					Address:  change.Address,
					Field:    primitives.ConflictSlot,
					Slot:     index,
					Expected: slot.Original.Hex(),
					Actual:   current.Value.Hex(),
				})
			}
		}
	}

	if len(conflicts) == 0 {
		return nil, nil
	}
	return conflicts, nil
}

func (s *InMemoryTemporaryStorage) SetExternalBlock(block *primitives.ExternalBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.externalBlock = block
	return nil
}

func (s *InMemoryTemporaryStorage) ReadExternalBlock() (*primitives.ExternalBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.externalBlock, nil
}

func (s *InMemoryTemporaryStorage) ReadExecutions() ([]*primitives.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*primitives.Execution, len(s.executions))
	copy(out, s.executions)
	return out, nil
}

// RemoveExecutionsBefore drops every pending execution with position lower
// than index, keeping the execution at index itself.
func (s *InMemoryTemporaryStorage) RemoveExecutionsBefore(index int) error {
	if index <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log.Debug("removing pending executions", "pending", len(s.executions), "index", index)
	if index > len(s.executions) {
		index = len(s.executions)
	}
	s.executions = append([]*primitives.Execution(nil), s.executions[index:]...)
	return nil
}

func (s *InMemoryTemporaryStorage) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.externalBlock = nil
	s.executions = nil
	s.accounts = make(map[common.Address]*temporaryAccount)
	s.activeBlockNumber = nil
	return nil
}
