package primitives

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// TransactionInput is a signed transaction submitted for execution. Signer is
// the address recovered from the signature; From is the optional declared
// sender. Transactions converted from external blocks leave From nil.
type TransactionInput struct {
	Hash     common.Hash
	Signer   common.Address
	From     *common.Address
	To       *common.Address
	Nonce    uint64
	Value    *uint256.Int
	Input    []byte
	GasLimit uint64
	GasPrice *uint256.Int

	V *big.Int
	R *big.Int
	S *big.Int
}

// IsContractCreation reports whether the transaction deploys a new contract.
func (t *TransactionInput) IsContractCreation() bool {
	return t.To == nil
}

// Sender returns the address the transaction executes from: the declared
// sender when one is present, the recovered signer otherwise.
func (t *TransactionInput) Sender() common.Address {
	if t.From != nil {
		return *t.From
	}
	return t.Signer
}

// TransactionInputFromExternal converts an upstream transaction into the
// engine's input representation, recovering the signer for the given chain.
func TransactionInputFromExternal(tx *types.Transaction, chainID *big.Int) (*TransactionInput, error) {
	signer, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover transaction signer: %w", err)
	}

	value, overflow := uint256.FromBig(tx.Value())
	if overflow {
		return nil, fmt.Errorf("transaction value overflows 256 bits")
	}
	gasPrice, overflow := uint256.FromBig(tx.GasPrice())
	if overflow {
		return nil, fmt.Errorf("transaction gas price overflows 256 bits")
	}

	v, r, s := tx.RawSignatureValues()
	return &TransactionInput{
		Hash:     tx.Hash(),
		Signer:   signer,
		To:       tx.To(),
		Nonce:    tx.Nonce(),
		Value:    value,
		Input:    tx.Data(),
		GasLimit: tx.Gas(),
		GasPrice: gasPrice,
		V:        v,
		R:        r,
		S:        s,
	}, nil
}

// CallInput is a read-only invocation of a deployed contract.
type CallInput struct {
	From *common.Address
	To   common.Address
	Data []byte
}
