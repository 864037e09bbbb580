package evm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/maxcabrajac/stratus/eth/primitives"
)

// callGasCap is the gas ceiling applied to read-only calls, which carry no
// gas limit of their own.
const callGasCap = 50_000_000

// Evm executes a single transaction or call against state visible at the
// input's point in time. Implementations hold internal mutable state and must
// have exactly one owner; the worker pool guarantees that.
type Evm interface {
	Execute(input *EvmInput) (*primitives.Execution, error)
}

// EvmInput is the normalized EVM entry point shared by live transactions,
// read-only calls and re-executed external transactions.
type EvmInput struct {
	Caller   common.Address
	Contract *common.Address // nil deploys a new contract
	Data     []byte
	Value    *uint256.Int
	GasLimit uint64
	GasPrice *uint256.Int

	// Nonce is the caller nonce declared by the transaction. It is nil for
	// read-only calls, which take the nonce from state.
	Nonce *uint64

	// PointInTime selects the state the execution reads.
	PointInTime primitives.PointInTime

	// Block environment. Zero values mean "the block currently being
	// assembled": number tip+1, wall-clock timestamp.
	BlockNumber    uint64
	BlockTimestamp uint64
}

// InputFromTransaction normalizes a live transaction for execution against
// the present state. The transaction executes from its declared sender when
// one is present, falling back to the recovered signer.
func InputFromTransaction(tx *primitives.TransactionInput) *EvmInput {
	nonce := tx.Nonce
	return &EvmInput{
		Caller:      tx.Sender(),
		Contract:    tx.To,
		Data:        tx.Input,
		Value:       tx.Value,
		GasLimit:    tx.GasLimit,
		GasPrice:    tx.GasPrice,
		Nonce:       &nonce,
		PointInTime: primitives.Present(),
	}
}

// InputFromCall normalizes a read-only invocation at the given point in time.
// Calls without an explicit sender execute from the zero address.
func InputFromCall(call *primitives.CallInput, pointInTime primitives.PointInTime) *EvmInput {
	caller := common.Address{}
	if call.From != nil {
		caller = *call.From
	}
	contract := call.To
	return &EvmInput{
		Caller:      caller,
		Contract:    &contract,
		Data:        call.Data,
		Value:       uint256.NewInt(0),
		GasLimit:    callGasCap,
		PointInTime: pointInTime,
	}
}

// InputFromExternalTransaction normalizes a transaction being re-executed
// during import, pinning the block environment to the external header so
// block-dependent opcodes reproduce the upstream execution.
func InputFromExternalTransaction(block *primitives.ExternalBlock, tx *primitives.TransactionInput) *EvmInput {
	input := InputFromTransaction(tx)
	input.BlockNumber = block.Number()
	input.BlockTimestamp = block.Header.Time
	return input
}
