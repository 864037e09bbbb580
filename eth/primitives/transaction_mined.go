package primitives

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// TransactionMined is a transaction that made it into a block, together with
// its execution result and its position inside the block.
type TransactionMined struct {
	Input       *TransactionInput
	Execution   *Execution
	Index       uint
	BlockNumber uint64
	BlockHash   common.Hash
}

// MinedLogs returns the execution's logs stamped with the block and
// transaction positional metadata. logIndexOffset is the number of logs
// emitted by earlier transactions in the same block.
func (t *TransactionMined) MinedLogs(logIndexOffset uint) []*types.Log {
	if t.Execution == nil {
		return nil
	}
	mined := make([]*types.Log, len(t.Execution.Logs))
	for i, log := range t.Execution.Logs {
		stamped := *log
		stamped.BlockNumber = t.BlockNumber
		stamped.BlockHash = t.BlockHash
		stamped.TxHash = t.Input.Hash
		stamped.TxIndex = t.Index
		stamped.Index = logIndexOffset + uint(i)
		mined[i] = &stamped
	}
	return mined
}

// transactionMinedJSON is the canonical Ethereum RPC transaction shape.
type transactionMinedJSON struct {
	Hash             common.Hash     `json:"hash"`
	From             common.Address  `json:"from"`
	To               *common.Address `json:"to"`
	Nonce            hexutil.Uint64  `json:"nonce"`
	Value            *hexutil.Big    `json:"value"`
	Input            hexutil.Bytes   `json:"input"`
	Gas              hexutil.Uint64  `json:"gas"`
	GasPrice         *hexutil.Big    `json:"gasPrice"`
	V                *hexutil.Big    `json:"v"`
	R                *hexutil.Big    `json:"r"`
	S                *hexutil.Big    `json:"s"`
	BlockHash        common.Hash     `json:"blockHash"`
	BlockNumber      hexutil.Uint64  `json:"blockNumber"`
	TransactionIndex hexutil.Uint64  `json:"transactionIndex"`
}

// MarshalJSON serializes the mined transaction in the canonical RPC shape.
// Execution results travel through receipts, not through the block body.
func (t *TransactionMined) MarshalJSON() ([]byte, error) {
	out := &transactionMinedJSON{
		Hash:             t.Input.Hash,
		From:             t.Input.Sender(),
		To:               t.Input.To,
		Nonce:            hexutil.Uint64(t.Input.Nonce),
		Value:            uint256ToHexBig(t.Input.Value),
		Input:            t.Input.Input,
		Gas:              hexutil.Uint64(t.Input.GasLimit),
		GasPrice:         uint256ToHexBig(t.Input.GasPrice),
		V:                bigToHexBig(t.Input.V),
		R:                bigToHexBig(t.Input.R),
		S:                bigToHexBig(t.Input.S),
		BlockHash:        t.BlockHash,
		BlockNumber:      hexutil.Uint64(t.BlockNumber),
		TransactionIndex: hexutil.Uint64(t.Index),
	}
	return json.Marshal(out)
}

// UnmarshalJSON rebuilds the transaction input and positional metadata from
// the canonical RPC shape.
func (t *TransactionMined) UnmarshalJSON(data []byte) error {
	var in transactionMinedJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	t.Input = &TransactionInput{
		Hash:     in.Hash,
		Signer:   in.From,
		To:       in.To,
		Nonce:    uint64(in.Nonce),
		Value:    hexBigToUint256(in.Value),
		Input:    in.Input,
		GasLimit: uint64(in.Gas),
		GasPrice: hexBigToUint256(in.GasPrice),
		V:        hexBigToBig(in.V),
		R:        hexBigToBig(in.R),
		S:        hexBigToBig(in.S),
	}
	t.Index = uint(in.TransactionIndex)
	t.BlockNumber = uint64(in.BlockNumber)
	t.BlockHash = in.BlockHash
	return nil
}

func uint256ToHexBig(value *uint256.Int) *hexutil.Big {
	if value == nil {
		return nil
	}
	return (*hexutil.Big)(value.ToBig())
}

func hexBigToUint256(value *hexutil.Big) *uint256.Int {
	if value == nil {
		return nil
	}
	out, _ := uint256.FromBig((*big.Int)(value))
	return out
}

func bigToHexBig(value *big.Int) *hexutil.Big {
	if value == nil {
		return nil
	}
	return (*hexutil.Big)(value)
}

func hexBigToBig(value *hexutil.Big) *big.Int {
	if value == nil {
		return nil
	}
	return (*big.Int)(value)
}
