package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/maxcabrajac/stratus/eth/primitives"
)

// ErrBlockNotFound is returned when a block selection cannot be resolved.
var ErrBlockNotFound = errors.New("block not found")

// ErrAccountsAlreadyCommitted is returned by SaveAccounts once any block other
// than a transaction-less genesis block has been committed; initial accounts
// are genesis-time only.
var ErrAccountsAlreadyCommitted = errors.New("cannot save initial accounts after blocks have been committed")

// ConflictError is returned by commit when a block's declared original values
// diverge from the committed state, indicating a lost update.
type ConflictError struct {
	Conflicts primitives.ExecutionConflicts
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("storage conflict: %s", e.Conflicts)
}

// IsConflict reports whether the error is (or wraps) a commit conflict.
func IsConflict(err error) bool {
	var conflictErr *ConflictError
	return errors.As(err, &conflictErr)
}

// TemporaryStorage is the in-memory overlay holding the pending effects of
// the block currently being assembled. Reads return only the overlay view,
// never falling through to committed state.
type TemporaryStorage interface {
	SetActiveBlockNumber(number uint64) error
	ReadActiveBlockNumber() (uint64, bool, error)

	// SaveAccountChanges merges the execution's changes into the per-address
	// accumulators and appends the execution to the pending list for the
	// block.
	SaveAccountChanges(blockNumber uint64, execution *primitives.Execution) error

	ReadAccount(address common.Address) (*primitives.Account, error)
	ReadSlot(address common.Address, index common.Hash) (*primitives.Slot, error)

	// CheckConflicts compares the execution's original values against the
	// overlay. A nil result means no conflict.
	CheckConflicts(execution *primitives.Execution) (primitives.ExecutionConflicts, error)

	SetExternalBlock(block *primitives.ExternalBlock) error
	ReadExternalBlock() (*primitives.ExternalBlock, error)
	ReadExecutions() ([]*primitives.Execution, error)
	RemoveExecutionsBefore(index int) error

	Reset() error
}

// PermanentStorage is the durable, point-in-time queryable committed state.
// Implementations must be safe for concurrent use and present an atomic
// SaveBlock.
type PermanentStorage interface {
	// AllocateEvmThreadResources is called once per EVM worker thread, for
	// implementations that keep thread-local handles.
	AllocateEvmThreadResources() error

	ReadMinedBlockNumber() (uint64, error)
	IncrementBlockNumber() (uint64, error)
	SetMinedBlockNumber(number uint64) error

	// SaveBlock atomically persists every account, slot, transaction and log
	// of the block. After it returns, the block state is queryable at
	// Past(block number) and, when the block is the new tip, at Present.
	SaveBlock(block *primitives.Block) error

	ReadBlock(selection primitives.BlockSelection) (*primitives.Block, error)
	ReadMinedTransaction(hash common.Hash) (*primitives.TransactionMined, error)
	ReadLogs(filter *primitives.LogFilter) ([]*types.Log, error)

	// SaveAccounts persists genesis or test accounts; valid only while no
	// block other than a transaction-less genesis block has been committed.
	SaveAccounts(accounts []*primitives.Account) error

	ReadAccount(address common.Address, pointInTime primitives.PointInTime) (*primitives.Account, error)
	ReadSlot(address common.Address, index common.Hash, pointInTime primitives.PointInTime) (*primitives.Slot, error)
	ReadSlots(address common.Address, indexes []common.Hash, pointInTime primitives.PointInTime) (map[common.Hash]common.Hash, error)
	ReadSlotsSample(start, end uint64, maxSamples, seed uint64) ([]primitives.SlotSample, error)

	// ResetAt truncates all state with block number greater than the given
	// number.
	ResetAt(number uint64) error
}
