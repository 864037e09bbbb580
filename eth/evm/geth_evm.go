package evm

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/maxcabrajac/stratus/eth/primitives"
	"github.com/maxcabrajac/stratus/eth/storage"
)

const (
	blockGasLimit = 30_000_000
	codeCacheSize = 2048
)

// GethEvm runs transactions on the go-ethereum interpreter against a state
// session backed by the layered storage. One instance must be owned by
// exactly one worker.
type GethEvm struct {
	store       *storage.StratusStorage
	chainConfig *params.ChainConfig
	vmConfig    vm.Config
	codeCache   *lru.Cache[common.Hash, []byte]
}

// NewGethEvm builds an interpreter-backed EVM for the given chain id.
func NewGethEvm(store *storage.StratusStorage, chainID *big.Int) *GethEvm {
	chainConfig := *params.TestChainConfig
	chainConfig.ChainID = new(big.Int).Set(chainID)

	codeCache, _ := lru.New[common.Hash, []byte](codeCacheSize)
	return &GethEvm{
		store:       store,
		chainConfig: &chainConfig,
		codeCache:   codeCache,
	}
}

// Execute runs the input to completion and translates the interpreter outcome
// into an Execution. Reverts and halts are successful executions carrying a
// non-ok result kind; only infrastructure failures return an error.
func (e *GethEvm) Execute(input *EvmInput) (*primitives.Execution, error) {
	blockNumber := input.BlockNumber
	if blockNumber == 0 {
		tip, err := e.store.ReadCurrentBlockNumber()
		if err != nil {
			return nil, err
		}
		blockNumber = tip + 1
	}
	timestamp := input.BlockTimestamp
	if timestamp == 0 {
		timestamp = uint64(time.Now().Unix())
	}

	session := newStateSession(e.store, input.PointInTime, e.codeCache)

	gasPrice := new(big.Int)
	if input.GasPrice != nil {
		gasPrice = input.GasPrice.ToBig()
	}
	random := common.Hash{}
	blockContext := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     e.blockHash,
		Coinbase:    common.Address{},
		BlockNumber: new(big.Int).SetUint64(blockNumber),
		Time:        timestamp,
		Difficulty:  new(big.Int),
		BaseFee:     new(big.Int),
		GasLimit:    blockGasLimit,
		Random:      &random,
	}
	txContext := vm.TxContext{Origin: input.Caller, GasPrice: gasPrice}
	machine := vm.NewEVM(blockContext, txContext, session, e.chainConfig, e.vmConfig)

	rules := e.chainConfig.Rules(blockContext.BlockNumber, true, timestamp)
	session.Prepare(rules, input.Caller, blockContext.Coinbase, input.Contract, vm.ActivePrecompiles(rules), nil)

	isCreate := input.Contract == nil
	intrinsicGas, err := core.IntrinsicGas(input.Data, nil, isCreate, rules.IsHomestead, rules.IsIstanbul, rules.IsShanghai)
	if err != nil {
		return nil, err
	}
	if input.GasLimit < intrinsicGas {
		return nil, fmt.Errorf("intrinsic gas too low: have %d, want %d", input.GasLimit, intrinsicGas)
	}
	gas := input.GasLimit - intrinsicGas

	value := new(big.Int)
	if input.Value != nil {
		value = input.Value.ToBig()
	}

	var (
		output   []byte
		leftover uint64
		vmErr    error
		created  common.Address
	)
	if isCreate {
		if input.Nonce != nil {
			session.SetNonce(input.Caller, *input.Nonce)
		}
		output, created, leftover, vmErr = machine.Create(vm.AccountRef(input.Caller), input.Data, gas, value)
	} else {
		if input.Nonce != nil {
			session.SetNonce(input.Caller, *input.Nonce+1)
		}
		output, leftover, vmErr = machine.Call(vm.AccountRef(input.Caller), *input.Contract, input.Data, gas, value)
	}

	execution := &primitives.Execution{
		Output:  output,
		GasUsed: input.GasLimit - leftover,
	}
	switch {
	case vmErr == nil:
		execution.Result = primitives.ResultSuccess
		execution.Logs = session.Logs()
		execution.Changes = session.Changes()
		if isCreate {
			createdCopy := created
			execution.ContractAddress = &createdCopy
		}
	case errors.Is(vmErr, vm.ErrExecutionReverted):
		execution.Result = primitives.ResultReverted
	default:
		execution.Result = primitives.ResultHalted
	}
	return execution, nil
}

func (e *GethEvm) blockHash(number uint64) common.Hash {
	block, err := e.store.ReadBlock(primitives.SelectNumber(number))
	if err != nil || block == nil {
		return common.Hash{}
	}
	return block.Hash()
}
