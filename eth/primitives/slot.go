package primitives

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Slot is a single storage cell of a contract account.
type Slot struct {
	Index common.Hash
	Value common.Hash
}

// NewSlot builds a slot from its index and value.
func NewSlot(index, value common.Hash) *Slot {
	return &Slot{Index: index, Value: value}
}

// NewEmptySlot returns the zero-valued slot at the given index.
func NewEmptySlot(index common.Hash) *Slot {
	return &Slot{Index: index}
}

// IsZero reports whether the slot holds the zero value.
func (s *Slot) IsZero() bool {
	return s.Value == (common.Hash{})
}

func (s *Slot) String() string {
	return fmt.Sprintf("%s=%s", s.Index.Hex(), s.Value.Hex())
}

// SlotSample is a storage cell captured at a specific block, returned by
// storage sampling queries.
type SlotSample struct {
	Address     common.Address
	BlockNumber uint64
	Index       common.Hash
	Value       common.Hash
}
