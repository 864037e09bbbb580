package primitives

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type blockSelectionKind int

const (
	selectLatest blockSelectionKind = iota
	selectEarliest
	selectNumber
	selectHash
)

// BlockSelection identifies a block by position (latest, earliest), number or
// hash, following the JSON-RPC block parameter semantics.
type BlockSelection struct {
	kind   blockSelectionKind
	number uint64
	hash   common.Hash
}

// SelectLatest selects the most recently committed block.
func SelectLatest() BlockSelection {
	return BlockSelection{kind: selectLatest}
}

// SelectEarliest selects the first block in storage.
func SelectEarliest() BlockSelection {
	return BlockSelection{kind: selectEarliest}
}

// SelectNumber selects the block with the given number.
func SelectNumber(number uint64) BlockSelection {
	return BlockSelection{kind: selectNumber, number: number}
}

// SelectHash selects the block with the given hash.
func SelectHash(hash common.Hash) BlockSelection {
	return BlockSelection{kind: selectHash, hash: hash}
}

// IsLatest reports whether the selection targets the tip.
func (s BlockSelection) IsLatest() bool { return s.kind == selectLatest }

// IsEarliest reports whether the selection targets the first block.
func (s BlockSelection) IsEarliest() bool { return s.kind == selectEarliest }

// Number returns the selected block number and whether the selection is
// number-based.
func (s BlockSelection) Number() (uint64, bool) {
	return s.number, s.kind == selectNumber
}

// Hash returns the selected block hash and whether the selection is
// hash-based.
func (s BlockSelection) Hash() (common.Hash, bool) {
	return s.hash, s.kind == selectHash
}

func (s BlockSelection) String() string {
	switch s.kind {
	case selectEarliest:
		return "earliest"
	case selectNumber:
		return fmt.Sprintf("number(%d)", s.number)
	case selectHash:
		return fmt.Sprintf("hash(%s)", s.hash.Hex())
	default:
		return "latest"
	}
}
