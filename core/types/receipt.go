package types

import (
	"github.com/shuttlelabs/shuttle/types"
)

// Status is the post-execution outcome tag carried in a Receipt.
type Status uint8

const (
	StatusFailed Status = iota
	StatusSuccess
)

// Receipt is produced for every mined transaction. The
// RevertReason/Output fields are populated whenever an interpreter outcome
// carries them, so debug_traceTransaction and eth_getTransactionReceipt
// callers can surface the failure detail without re-executing the
// transaction.
type Receipt struct {
	TxHash            [32]byte
	From              types.Address
	Status            Status
	CumulativeGasUsed uint64
	GasUsed           uint64
	Logs              []*Log
	ContractAddress   *types.Address // set only for a successful KindCreate
	Output            []byte
	RevertReason      string
	BlockNumber       uint64
	BlockHash         [32]byte
	TxIndex           uint
}

func (r *Receipt) Succeeded() bool { return r.Status == StatusSuccess }
