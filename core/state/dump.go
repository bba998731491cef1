package state

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/types"
)

// dumpVersion is the envelope version written by Dump. Load accepts this
// version only; fields appended in future versions ride in the RLP tail
// and are ignored.
const dumpVersion = 1

// Tip carries the non-fork settings needed to reproduce the chain tip
// alongside the account tables.
type Tip struct {
	BlockNumber uint64
	Timestamp   uint64
}

type dumpSlot struct {
	Key   [32]byte
	Value [32]byte
}

type dumpAccount struct {
	Address types.Address
	Balance *big.Int
	Nonce   uint64
	Code    []byte
	Slots   []dumpSlot
}

type dumpEnvelope struct {
	Version  uint64
	Accounts []dumpAccount
	Tip      Tip
	Rest     []rlp.RawValue `rlp:"tail"`
}

// Dump serializes the committed overlay (never the fork underneath it)
// into the stable binary envelope anvil_dumpState returns.
func (s *StateDB) Dump(tip Tip) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env := dumpEnvelope{Version: dumpVersion, Tip: tip}
	for addr, acc := range s.accounts {
		da := dumpAccount{
			Address: addr,
			Balance: acc.Balance.ToBig(),
			Nonce:   acc.Nonce,
			Code:    acc.Code,
		}
		for k, v := range acc.Storage {
			da.Slots = append(da.Slots, dumpSlot{Key: k, Value: v})
		}
		sort.Slice(da.Slots, func(i, j int) bool {
			return bytes.Compare(da.Slots[i].Key[:], da.Slots[j].Key[:]) < 0
		})
		env.Accounts = append(env.Accounts, da)
	}
	sort.Slice(env.Accounts, func(i, j int) bool {
		return bytes.Compare(env.Accounts[i].Address[:], env.Accounts[j].Address[:]) < 0
	})
	return rlp.EncodeToBytes(&env)
}

// Load merges a dumped envelope on top of the current overlay,
// overwriting conflicting accounts and slots. The returned
// Tip lets the backend fast-forward its chain tip.
func (s *StateDB) Load(blob []byte) (Tip, error) {
	var env dumpEnvelope
	if err := rlp.DecodeBytes(blob, &env); err != nil {
		return Tip{}, fmt.Errorf("state: decode dump: %w", err)
	}
	if env.Version != dumpVersion {
		return Tip{}, fmt.Errorf("state: unsupported dump version %d", env.Version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, da := range env.Accounts {
		acc, ok := s.accounts[da.Address]
		if !ok {
			acc = ctypes.NewAccount()
			s.accounts[da.Address] = acc
		}
		acc.Balance = uint256.MustFromBig(da.Balance)
		acc.Nonce = da.Nonce
		acc.Code = append([]byte(nil), da.Code...)
		for _, slot := range da.Slots {
			acc.Storage[slot.Key] = slot.Value
		}
	}
	return env.Tip, nil
}
