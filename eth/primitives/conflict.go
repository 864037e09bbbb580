package primitives

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ConflictField names the account field whose original value diverged from
// storage.
type ConflictField string

const (
	ConflictNonce   ConflictField = "nonce"
	ConflictBalance ConflictField = "balance"
	ConflictSlot    ConflictField = "slot"
)

// ExecutionConflict is a single detected divergence between an execution's
// declared original value and the value currently visible in storage.
type ExecutionConflict struct {
	Address  common.Address
	Field    ConflictField
	Slot     common.Hash // meaningful only when Field is ConflictSlot
	Expected string
	Actual   string
}

func (c ExecutionConflict) String() string {
	if c.Field == ConflictSlot {
		return fmt.Sprintf("%s %s[%s] expected=%s actual=%s", c.Address.Hex(), c.Field, c.Slot.Hex(), c.Expected, c.Actual)
	}
	return fmt.Sprintf("%s %s expected=%s actual=%s", c.Address.Hex(), c.Field, c.Expected, c.Actual)
}

// ExecutionConflicts is the non-empty set of conflicts detected for one
// execution. A nil slice means no conflict.
type ExecutionConflicts []ExecutionConflict

func (c ExecutionConflicts) String() string {
	parts := make([]string, len(c))
	for i, conflict := range c {
		parts[i] = conflict.String()
	}
	return strings.Join(parts, "; ")
}
