package primitives

import (
	"bytes"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// ExecutionResult classifies the outcome of an EVM invocation. Reverts and
// halts are successful executions from the engine's perspective; they simply
// carry a non-ok result kind.
type ExecutionResult string

const (
	ResultSuccess  ExecutionResult = "success"
	ResultReverted ExecutionResult = "reverted"
	ResultHalted   ExecutionResult = "halted"
)

// ValueChange records the transition of a single account field during an
// execution. Original is the value visible in storage at the point the
// execution started; Modified is the value produced by the execution. Set
// distinguishes an untouched field from one modified to its zero value.
type ValueChange[T any] struct {
	Set      bool
	Original T
	Modified T
}

// Changed builds a set value change.
func Changed[T any](original, modified T) ValueChange[T] {
	return ValueChange[T]{Set: true, Original: original, Modified: modified}
}

// ExecutionAccountChanges accumulates every field and slot modification an
// execution produced for one account.
type ExecutionAccountChanges struct {
	Address common.Address
	Created bool

	Nonce    ValueChange[uint64]
	Balance  ValueChange[*uint256.Int]
	Bytecode ValueChange[[]byte]

	Slots map[common.Hash]ValueChange[common.Hash]

	// Slot indexes the execution touched, split by storage layout area. The
	// modified set is the account's full updated index set, so merging is a
	// plain overwrite like the other fields.
	StaticSlotIndexes  ValueChange[mapset.Set[common.Hash]]
	MappingSlotIndexes ValueChange[mapset.Set[common.Hash]]
}

// NewExecutionAccountChanges returns an empty change set for the address.
func NewExecutionAccountChanges(address common.Address) *ExecutionAccountChanges {
	return &ExecutionAccountChanges{
		Address: address,
		Slots:   make(map[common.Hash]ValueChange[common.Hash]),
	}
}

// Execution is the result of a single EVM invocation: outcome, return data,
// gas, emitted logs and the state deltas to persist.
type Execution struct {
	Result          ExecutionResult
	Output          []byte
	Logs            []*types.Log
	GasUsed         uint64
	ContractAddress *common.Address
	Changes         []*ExecutionAccountChanges
}

// IsSuccess reports whether the invocation completed without revert or halt.
func (e *Execution) IsSuccess() bool {
	return e.Result == ResultSuccess
}

// ChangesToPersist returns the state deltas that should reach storage. Failed
// executions persist nothing.
func (e *Execution) ChangesToPersist() []*ExecutionAccountChanges {
	if !e.IsSuccess() {
		return nil
	}
	return e.Changes
}

// CompareWithReceipt verifies that a re-execution matches the receipt produced
// by the external node that originally executed the transaction. Status,
// contract address (for creations), gas used and the ordered log list must all
// be equal.
func (e *Execution) CompareWithReceipt(receipt *types.Receipt) error {
	externalSuccess := receipt.Status == types.ReceiptStatusSuccessful
	if e.IsSuccess() != externalSuccess {
		return fmt.Errorf("receipt mismatch: status local=%s external=%d", e.Result, receipt.Status)
	}

	if receipt.ContractAddress != (common.Address{}) {
		if e.ContractAddress == nil || *e.ContractAddress != receipt.ContractAddress {
			return fmt.Errorf("receipt mismatch: contract address local=%v external=%s", e.ContractAddress, receipt.ContractAddress.Hex())
		}
	}

	if e.GasUsed != receipt.GasUsed {
		return fmt.Errorf("receipt mismatch: gas used local=%d external=%d", e.GasUsed, receipt.GasUsed)
	}

	if len(e.Logs) != len(receipt.Logs) {
		return fmt.Errorf("receipt mismatch: log count local=%d external=%d", len(e.Logs), len(receipt.Logs))
	}
	for i, local := range e.Logs {
		external := receipt.Logs[i]
		if local.Address != external.Address {
			return fmt.Errorf("receipt mismatch: log %d address local=%s external=%s", i, local.Address.Hex(), external.Address.Hex())
		}
		if len(local.Topics) != len(external.Topics) {
			return fmt.Errorf("receipt mismatch: log %d topic count local=%d external=%d", i, len(local.Topics), len(external.Topics))
		}
		for j, topic := range local.Topics {
			if topic != external.Topics[j] {
				return fmt.Errorf("receipt mismatch: log %d topic %d local=%s external=%s", i, j, topic.Hex(), external.Topics[j].Hex())
			}
		}
		if !bytes.Equal(local.Data, external.Data) {
			return fmt.Errorf("receipt mismatch: log %d data", i)
		}
	}

	return nil
}

// ExternalTransactionExecution ties an imported transaction to its external
// receipt and the local re-execution that was verified against it.
type ExternalTransactionExecution struct {
	Transaction *types.Transaction
	Receipt     *types.Receipt
	Execution   *Execution
}
