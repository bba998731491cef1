// Package types defines the chain data model: accounts, legacy
// transactions, blocks, receipts and pool transactions.
package types

import (
	"github.com/holiman/uint256"
)

// Account is the per-address record in World State. Storage
// is kept as a plain map; copy-on-write into a Snapshot/overlay is the
// state package's responsibility, not Account's.
type Account struct {
	Balance *uint256.Int
	Nonce   uint64
	Code    []byte
	Storage map[[32]byte][32]byte
}

// NewAccount returns an empty, freshly observed account.
func NewAccount() *Account {
	return &Account{
		Balance: uint256.NewInt(0),
		Storage: make(map[[32]byte][32]byte),
	}
}

// Clone deep-copies the account so callers can mutate the copy without
// affecting committed state (used by the journal and by eth_call state
// overrides).
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := &Account{
		Balance: new(uint256.Int).Set(a.Balance),
		Nonce:   a.Nonce,
		Storage: make(map[[32]byte][32]byte, len(a.Storage)),
	}
	if a.Code != nil {
		clone.Code = append([]byte(nil), a.Code...)
	}
	for k, v := range a.Storage {
		clone.Storage[k] = v
	}
	return clone
}

func (a *Account) IsEmptyCode() bool {
	return len(a.Code) == 0
}
