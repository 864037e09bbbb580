package primitives

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Account is the full state of an Ethereum account as seen by the execution
// engine: basic info plus the indexes of storage slots known to belong to it.
type Account struct {
	Address  common.Address
	Nonce    uint64
	Balance  *uint256.Int
	Bytecode []byte
	CodeHash common.Hash

	// Slot indexes discovered during execution, used by storage backends that
	// precompute slot access patterns.
	StaticSlotIndexes  mapset.Set[common.Hash]
	MappingSlotIndexes mapset.Set[common.Hash]
}

// NewEmptyAccount returns an account with zero nonce, zero balance and no code.
func NewEmptyAccount(address common.Address) *Account {
	return &Account{
		Address:  address,
		Balance:  uint256.NewInt(0),
		CodeHash: types.EmptyCodeHash,
	}
}

// NewAccountWithBalance returns a codeless account holding the given balance.
func NewAccountWithBalance(address common.Address, balance *uint256.Int) *Account {
	account := NewEmptyAccount(address)
	account.Balance = balance.Clone()
	return account
}

// IsContract reports whether the account has bytecode associated with it.
func (a *Account) IsContract() bool {
	return len(a.Bytecode) > 0
}

// SetBytecode stores the bytecode and recomputes the code hash.
func (a *Account) SetBytecode(code []byte) {
	if len(code) == 0 {
		a.Bytecode = nil
		a.CodeHash = types.EmptyCodeHash
		return
	}
	a.Bytecode = append([]byte(nil), code...)
	a.CodeHash = crypto.Keccak256Hash(code)
}

// IsEmpty reports whether the account is empty per EIP-161 (zero nonce, zero
// balance, no code).
func (a *Account) IsEmpty() bool {
	return a.Nonce == 0 && (a.Balance == nil || a.Balance.IsZero()) && len(a.Bytecode) == 0
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	clone := *a
	if a.Balance != nil {
		clone.Balance = a.Balance.Clone()
	}
	if a.Bytecode != nil {
		clone.Bytecode = append([]byte(nil), a.Bytecode...)
	}
	if a.StaticSlotIndexes != nil {
		clone.StaticSlotIndexes = a.StaticSlotIndexes.Clone()
	}
	if a.MappingSlotIndexes != nil {
		clone.MappingSlotIndexes = a.MappingSlotIndexes.Clone()
	}
	return &clone
}
