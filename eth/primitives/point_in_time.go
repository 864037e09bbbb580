package primitives

import "fmt"

// PointInTime is a logical read timestamp for state queries: either the
// current tip (present) or the committed snapshot at the end of a past block.
//
// The zero value reads the present state.
type PointInTime struct {
	past  bool
	block uint64
}

// Present reads the current tip.
func Present() PointInTime {
	return PointInTime{}
}

// Past reads the committed snapshot as of the end of the given block.
func Past(block uint64) PointInTime {
	return PointInTime{past: true, block: block}
}

// IsPresent reports whether the point in time is the current tip.
func (p PointInTime) IsPresent() bool {
	return !p.past
}

// PastBlock returns the past block number and whether the point in time is a
// past snapshot.
func (p PointInTime) PastBlock() (uint64, bool) {
	return p.block, p.past
}

func (p PointInTime) String() string {
	if p.past {
		return fmt.Sprintf("past(%d)", p.block)
	}
	return "present"
}
