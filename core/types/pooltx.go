package types

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/shuttlelabs/shuttle/types"
)

// Priority selects how the pool orders transactions that are all
// simultaneously ready.
type Priority uint8

const (
	// PriorityFifo orders ready transactions by arrival sequence.
	PriorityFifo Priority = iota
	// PriorityFees orders ready transactions by descending gas price,
	// falling back to arrival sequence for ties.
	PriorityFees
)

// PoolTransaction wraps a pending Transaction with the bookkeeping the
// pool's dependency graph needs: a single "provides"
// marker for the transaction's own (sender, nonce), and the "requires"
// marker for the transaction immediately before it in the sender's nonce
// sequence, if any.
type PoolTransaction struct {
	Pending  *Transaction
	Sender   types.Address
	Seq      uint64 // arrival sequence number, used for Fifo order and tie-break
	Requires mapset.Set[types.Marker]
	Provides mapset.Set[types.Marker]
}

// NewPoolTransaction builds a PoolTransaction and derives its requires/
// provides marker sets from the sender and nonce.
func NewPoolTransaction(tx *Transaction, sender types.Address, seq uint64) *PoolTransaction {
	provides := mapset.NewThreadUnsafeSet(types.NewMarker(sender, tx.Nonce))
	requires := mapset.NewThreadUnsafeSet[types.Marker]()
	if tx.Nonce > 0 {
		requires.Add(types.NewMarker(sender, tx.Nonce-1))
	}
	return &PoolTransaction{
		Pending:  tx,
		Sender:   sender,
		Seq:      seq,
		Requires: requires,
		Provides: provides,
	}
}

// NewPoolTransactionAt derives the requires set against the sender's
// current on-chain nonce.
func NewPoolTransactionAt(tx *Transaction, sender types.Address, seq uint64, onChainNonce uint64) *PoolTransaction {
	p := NewPoolTransaction(tx, sender, seq)
	if tx.Nonce <= onChainNonce {
		p.Requires = mapset.NewThreadUnsafeSet[types.Marker]()
	}
	return p
}

// Marker is the (sender, nonce) identity of this pool transaction.
func (p *PoolTransaction) Marker() types.Marker {
	return types.NewMarker(p.Sender, p.Pending.Nonce)
}

// Less orders two ready pool transactions under the given priority.
// Ties (equal gas price under PriorityFees) fall back to arrival order,
// keeping the ordering a total order regardless of priority mode.
func (p *PoolTransaction) Less(other *PoolTransaction, order Priority) bool {
	if order == PriorityFees {
		cmp := p.Pending.GasPrice.Cmp(other.Pending.GasPrice)
		if cmp != 0 {
			return cmp > 0
		}
	}
	return p.Seq < other.Seq
}
