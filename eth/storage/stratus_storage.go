package storage

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/maxcabrajac/stratus/eth/primitives"
)

var (
	readAccountTimer     = metrics.NewRegisteredTimer("storage/read_account", nil)
	readSlotTimer        = metrics.NewRegisteredTimer("storage/read_slot", nil)
	readBlockTimer       = metrics.NewRegisteredTimer("storage/read_block", nil)
	readLogsTimer        = metrics.NewRegisteredTimer("storage/read_logs", nil)
	commitTimer          = metrics.NewRegisteredTimer("storage/commit", nil)
	checkConflictsTimer  = metrics.NewRegisteredTimer("storage/check_conflicts", nil)
	saveChangesTimer     = metrics.NewRegisteredTimer("storage/save_account_changes", nil)
	commitConflictsMeter = metrics.NewRegisteredMeter("storage/commit_conflicts", nil)
)

// StratusStorage is the layered storage facade: a read-through view of the
// temporary overlay in front of the permanent store. The facade itself holds
// no locks; each substorage synchronizes internally.
type StratusStorage struct {
	temp TemporaryStorage
	perm PermanentStorage
}

// NewStratusStorage wires the two storage tiers together.
func NewStratusStorage(temp TemporaryStorage, perm PermanentStorage) *StratusStorage {
	return &StratusStorage{temp: temp, perm: perm}
}

// AllocateEvmThreadResources forwards the per-worker-thread allocation hook.
func (s *StratusStorage) AllocateEvmThreadResources() error {
	return s.perm.AllocateEvmThreadResources()
}

// ReadCurrentBlockNumber returns the highest committed block number.
func (s *StratusStorage) ReadCurrentBlockNumber() (uint64, error) {
	return s.perm.ReadMinedBlockNumber()
}

// IncrementBlockNumber atomically advances the block number, returning the
// new value.
func (s *StratusStorage) IncrementBlockNumber() (uint64, error) {
	return s.perm.IncrementBlockNumber()
}

// SetMinedBlockNumber moves the block number to a specific value.
func (s *StratusStorage) SetMinedBlockNumber(number uint64) error {
	return s.perm.SetMinedBlockNumber(number)
}

// ReadBlock retrieves a block from the permanent store.
func (s *StratusStorage) ReadBlock(selection primitives.BlockSelection) (*primitives.Block, error) {
	defer readBlockTimer.UpdateSince(time.Now())
	return s.perm.ReadBlock(selection)
}

// ReadAccount reads through the overlay and falls back to the permanent
// store; a full miss yields the default account with the queried address.
func (s *StratusStorage) ReadAccount(address common.Address, pointInTime primitives.PointInTime) (*primitives.Account, error) {
	defer readAccountTimer.UpdateSince(time.Now())

	if pointInTime.IsPresent() {
		account, err := s.temp.ReadAccount(address)
		if err != nil {
			return nil, err
		}
		if account != nil {
			return account, nil
		}
	}

	account, err := s.perm.ReadAccount(address, pointInTime)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}
	return primitives.NewEmptyAccount(address), nil
}

// ReadSlot reads through the overlay and falls back to the permanent store; a
// full miss yields the zero-valued slot at the queried index.
func (s *StratusStorage) ReadSlot(address common.Address, index common.Hash, pointInTime primitives.PointInTime) (*primitives.Slot, error) {
	defer readSlotTimer.UpdateSince(time.Now())

	if pointInTime.IsPresent() {
		slot, err := s.temp.ReadSlot(address, index)
		if err != nil {
			return nil, err
		}
		if slot != nil {
			return slot, nil
		}
	}

	slot, err := s.perm.ReadSlot(address, index, pointInTime)
	if err != nil {
		return nil, err
	}
	if slot != nil {
		return slot, nil
	}
	return primitives.NewEmptySlot(index), nil
}

// ReadSlots retrieves several committed slots at once.
func (s *StratusStorage) ReadSlots(address common.Address, indexes []common.Hash, pointInTime primitives.PointInTime) (map[common.Hash]common.Hash, error) {
	return s.perm.ReadSlots(address, indexes, pointInTime)
}

// ReadSlotsSample retrieves a random sample of committed slot writes.
func (s *StratusStorage) ReadSlotsSample(start, end uint64, maxSamples, seed uint64) ([]primitives.SlotSample, error) {
	return s.perm.ReadSlotsSample(start, end, maxSamples, seed)
}

// Commit persists the block to the permanent store and resets the temporary
// overlay regardless of the save outcome.
func (s *StratusStorage) Commit(block *primitives.Block) error {
	defer commitTimer.UpdateSince(time.Now())

	saveErr := s.perm.SaveBlock(block)
	if resetErr := s.temp.Reset(); resetErr != nil {
		if saveErr == nil {
			return resetErr
		}
	}
	if saveErr != nil && IsConflict(saveErr) {
		commitConflictsMeter.Mark(1)
	}
	return saveErr
}

// CheckConflicts compares the execution against the temporary overlay.
func (s *StratusStorage) CheckConflicts(execution *primitives.Execution) (primitives.ExecutionConflicts, error) {
	defer checkConflictsTimer.UpdateSince(time.Now())
	return s.temp.CheckConflicts(execution)
}

// SaveAccountChanges stores the execution's effects in the overlay so later
// transactions of the same block observe them.
func (s *StratusStorage) SaveAccountChanges(blockNumber uint64, execution *primitives.Execution) error {
	defer saveChangesTimer.UpdateSince(time.Now())
	return s.temp.SaveAccountChanges(blockNumber, execution)
}

// SetActiveBlockNumber marks the block currently being assembled.
func (s *StratusStorage) SetActiveBlockNumber(number uint64) error {
	return s.temp.SetActiveBlockNumber(number)
}

// ReadActiveBlockNumber returns the block currently being assembled, if any.
func (s *StratusStorage) ReadActiveBlockNumber() (uint64, bool, error) {
	return s.temp.ReadActiveBlockNumber()
}

// SetExternalBlock stages the external block being re-executed.
func (s *StratusStorage) SetExternalBlock(block *primitives.ExternalBlock) error {
	return s.temp.SetExternalBlock(block)
}

// ReadExternalBlock returns the external block being re-executed, if any.
func (s *StratusStorage) ReadExternalBlock() (*primitives.ExternalBlock, error) {
	return s.temp.ReadExternalBlock()
}

// ReadExecutions returns the pending executions of the active block.
func (s *StratusStorage) ReadExecutions() ([]*primitives.Execution, error) {
	return s.temp.ReadExecutions()
}

// RemoveExecutionsBefore trims pending executions below the given position.
func (s *StratusStorage) RemoveExecutionsBefore(index int) error {
	return s.temp.RemoveExecutionsBefore(index)
}

// ReadMinedTransaction retrieves a committed transaction by hash.
func (s *StratusStorage) ReadMinedTransaction(hash common.Hash) (*primitives.TransactionMined, error) {
	return s.perm.ReadMinedTransaction(hash)
}

// ReadLogs retrieves committed logs matching the filter.
func (s *StratusStorage) ReadLogs(filter *primitives.LogFilter) ([]*types.Log, error) {
	defer readLogsTimer.UpdateSince(time.Now())
	return s.perm.ReadLogs(filter)
}

// SaveAccounts persists genesis or test accounts.
func (s *StratusStorage) SaveAccounts(accounts []*primitives.Account) error {
	return s.perm.SaveAccounts(accounts)
}

// ResetTemp clears the temporary overlay.
func (s *StratusStorage) ResetTemp() error {
	return s.temp.Reset()
}

// ResetPerm truncates permanent state above the given block number.
func (s *StratusStorage) ResetPerm(number uint64) error {
	return s.perm.ResetAt(number)
}

// EnableGenesis commits the genesis block.
func (s *StratusStorage) EnableGenesis(genesis *primitives.Block) error {
	return s.perm.SaveBlock(genesis)
}

// TranslateToPointInTime resolves a block selection to a storage point in
// time. Numbers above the tip clamp to the tip; unknown hashes are an error.
func (s *StratusStorage) TranslateToPointInTime(selection primitives.BlockSelection) (primitives.PointInTime, error) {
	if selection.IsLatest() {
		return primitives.Present(), nil
	}

	if number, ok := selection.Number(); ok {
		current, err := s.perm.ReadMinedBlockNumber()
		if err != nil {
			return primitives.Present(), err
		}
		if number <= current {
			return primitives.Past(number), nil
		}
		return primitives.Past(current), nil
	}

	block, err := s.ReadBlock(selection)
	if err != nil {
		return primitives.Present(), err
	}
	if block == nil {
		return primitives.Present(), fmt.Errorf("%w: cannot translate %s to a point in time", ErrBlockNotFound, selection)
	}
	return primitives.Past(block.Number()), nil
}
