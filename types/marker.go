package types

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Marker identifies a (sender, nonce) pair used to express pool
// transaction dependencies.
type Marker struct {
	Sender Address
	Nonce  uint64
}

func NewMarker(sender Address, nonce uint64) Marker {
	return Marker{Sender: sender, Nonce: nonce}
}

func (m Marker) String() string {
	return fmt.Sprintf("%s#%d", m.Sender.Hex(), m.Nonce)
}

// NonceFromU256 truncates a U256 nonce to the uint64 space the pool indexes
// markers by. Accounts are never expected to reach 2^64 transactions.
func NonceFromU256(n *uint256.Int) uint64 {
	return n.Uint64()
}
