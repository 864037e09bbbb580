package primitives

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogMined is an EVM log enriched with its block and transaction position.
// The canonical go-ethereum log type already carries the positional fields,
// so mined logs are logs whose positional fields have been stamped by the
// miner.
type LogMined = types.Log

// LogFilter selects mined logs by block range, emitting address and topics,
// following the eth_getLogs matching rules: addresses are OR-ed, topic
// positions are AND-ed and the alternatives within one position are OR-ed.
type LogFilter struct {
	FromBlock uint64
	ToBlock   *uint64
	Addresses []common.Address
	Topics    [][]common.Hash
}

// Matches reports whether the mined log satisfies the filter.
func (f *LogFilter) Matches(log *types.Log) bool {
	if log.BlockNumber < f.FromBlock {
		return false
	}
	if f.ToBlock != nil && log.BlockNumber > *f.ToBlock {
		return false
	}

	if len(f.Addresses) > 0 {
		found := false
		for _, address := range f.Addresses {
			if address == log.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.Topics) > len(log.Topics) {
		return false
	}
	for position, alternatives := range f.Topics {
		if len(alternatives) == 0 {
			continue // wildcard
		}
		matched := false
		for _, topic := range alternatives {
			if log.Topics[position] == topic {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}
