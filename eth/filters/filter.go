// Package filters implements the poll-based filter registry behind
// eth_newFilter / eth_getFilterChanges and the log matching used by
// eth_getLogs.
package filters

import (
	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/types"
)

// Criteria selects logs by block range, emitting address and topics.
// A nil FromBlock starts the range at block 0; a nil ToBlock ends it at
// the latest block. Topic matching follows the standard
// position-wise semantics: nil position matches anything, a non-empty
// position matches any of its alternatives.
type Criteria struct {
	FromBlock *uint64
	ToBlock   *uint64
	BlockHash *[32]byte
	Addresses []types.Address
	Topics    [][][32]byte
}

// Matches reports whether a single log satisfies the criteria's address
// and topic constraints (range constraints are applied by the caller).
func (c *Criteria) Matches(l *ctypes.Log) bool {
	if len(c.Addresses) > 0 {
		found := false
		for _, addr := range c.Addresses {
			if addr == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.Topics) > len(l.Topics) {
		return false
	}
	for i, alternatives := range c.Topics {
		if len(alternatives) == 0 {
			continue // wildcard position
		}
		match := false
		for _, topic := range alternatives {
			if topic == l.Topics[i] {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

// BlockLogs runs the criteria over one block's receipts.
func (c *Criteria) BlockLogs(block *ctypes.Block) []*ctypes.Log {
	var out []*ctypes.Log
	for _, receipt := range block.Receipts {
		for _, l := range receipt.Logs {
			if c.Matches(l) {
				out = append(out, l)
			}
		}
	}
	return out
}
