package types

import (
	"github.com/shuttlelabs/shuttle/types"
)

// Log is an EVM event log entry. Topics keep go-ethereum's
// 32-byte common.Hash representation since log topics are opaque 32-byte
// values regardless of address width.
type Log struct {
	Address     types.Address
	Topics      [][32]byte
	Data        []byte
	BlockNumber uint64
	TxHash      [32]byte
	BlockHash   [32]byte
	TxIndex     uint
	Index       uint
	Removed     bool
}
