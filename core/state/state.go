// Package state implements the node's world state: the authoritative
// account/storage/code store, a write journal so in-flight transaction
// execution can be discarded without touching committed state, a
// fork-backed lazy read path, dump/load serialization and account
// inclusion proofs.
package state

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/types"
)

// DatabaseRef is the read-only fallback consulted for accounts the local
// overlay has never seen.
// A nil account with a nil error means "does not exist remotely either".
type DatabaseRef interface {
	GetAccount(addr types.Address) (*ctypes.Account, error)
	GetStorage(addr types.Address, key [32]byte) ([32]byte, error)
	GetCode(addr types.Address) ([]byte, error)
}

// StateDB is the mutable world state. Reads that miss the local overlay
// are served from the fallback and materialized locally, making every
// fork entry copy-on-write: once observed, the account lives in the
// overlay and all writes stay local.
type StateDB struct {
	mu       sync.RWMutex
	accounts map[types.Address]*ctypes.Account
	fallback DatabaseRef

	// journal holds accounts cloned at first write during an in-flight
	// transaction; nil outside execution.
	journal map[types.Address]*ctypes.Account

	logger log.Logger
}

func New(fallback DatabaseRef) *StateDB {
	return &StateDB{
		accounts: make(map[types.Address]*ctypes.Account),
		fallback: fallback,
		logger:   log.New("component", "state"),
	}
}

// getOrLoad returns the overlay account, materializing it from the
// fallback on first observation. Returns nil if the account exists
// nowhere. Caller must hold mu for writing.
func (s *StateDB) getOrLoad(addr types.Address) (*ctypes.Account, error) {
	if acc, ok := s.accounts[addr]; ok {
		return acc, nil
	}
	if s.fallback == nil {
		return nil, nil
	}
	remote, err := s.fallback.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if remote == nil {
		return nil, nil
	}
	acc := remote.Clone()
	s.accounts[addr] = acc
	s.logger.Debug("materialized fork account", "addr", addr)
	return acc, nil
}

// read returns the account visible to the current execution context:
// journal first, then overlay (loading from fallback as needed).
func (s *StateDB) read(addr types.Address) (*ctypes.Account, error) {
	if s.journal != nil {
		if acc, ok := s.journal[addr]; ok {
			return acc, nil
		}
	}
	return s.getOrLoad(addr)
}

// write returns the mutable account for addr, creating it on first
// observation. Inside a transaction the returned account is a journal
// clone; committed state is untouched until CommitTx.
func (s *StateDB) write(addr types.Address) (*ctypes.Account, error) {
	if s.journal != nil {
		if acc, ok := s.journal[addr]; ok {
			return acc, nil
		}
		base, err := s.getOrLoad(addr)
		if err != nil {
			return nil, err
		}
		clone := base.Clone() // Clone(nil) yields a fresh empty account
		s.journal[addr] = clone
		return clone, nil
	}
	acc, err := s.getOrLoad(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = ctypes.NewAccount()
		s.accounts[addr] = acc
	}
	return acc, nil
}

// GetAccount returns a copy of the account, or an empty account if it
// does not exist. The copy is safe to hand across the RPC boundary.
func (s *StateDB) GetAccount(addr types.Address) (*ctypes.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.read(addr)
	if err != nil {
		return nil, err
	}
	return acc.Clone(), nil
}

// Exists reports whether the account has ever been observed.
func (s *StateDB) Exists(addr types.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.read(addr)
	return err == nil && acc != nil
}

func (s *StateDB) GetBalance(addr types.Address) (*uint256.Int, error) {
	acc, err := s.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}

func (s *StateDB) GetNonce(addr types.Address) (uint64, error) {
	acc, err := s.GetAccount(addr)
	if err != nil {
		return 0, err
	}
	return acc.Nonce, nil
}

func (s *StateDB) GetCode(addr types.Address) ([]byte, error) {
	acc, err := s.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.Code, nil
}

func (s *StateDB) GetStorage(addr types.Address, key [32]byte) ([32]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.read(addr)
	if err != nil {
		return [32]byte{}, err
	}
	if acc == nil {
		return [32]byte{}, nil
	}
	if v, ok := acc.Storage[key]; ok {
		return v, nil
	}
	// Materialized fork accounts fetch individual slots lazily.
	if s.fallback != nil && s.journal == nil {
		if _, local := s.accounts[addr]; local {
			v, err := s.fallback.GetStorage(addr, key)
			if err != nil {
				return [32]byte{}, err
			}
			acc.Storage[key] = v
			return v, nil
		}
	}
	return [32]byte{}, nil
}

// Unconditional overrides.

func (s *StateDB) SetBalance(addr types.Address, balance *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.write(addr)
	if err != nil {
		return err
	}
	acc.Balance = new(uint256.Int).Set(balance)
	return nil
}

func (s *StateDB) SetNonce(addr types.Address, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.write(addr)
	if err != nil {
		return err
	}
	acc.Nonce = nonce
	return nil
}

func (s *StateDB) SetCode(addr types.Address, code []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.write(addr)
	if err != nil {
		return err
	}
	acc.Code = append([]byte(nil), code...)
	return nil
}

func (s *StateDB) SetStorage(addr types.Address, key, value [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.write(addr)
	if err != nil {
		return err
	}
	acc.Storage[key] = value
	return nil
}

// AddBalance credits addr, creating the account if needed.
func (s *StateDB) AddBalance(addr types.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.write(addr)
	if err != nil {
		return err
	}
	acc.Balance = new(uint256.Int).Add(acc.Balance, amount)
	return nil
}

// SubBalance debits addr; the caller has already checked sufficiency.
func (s *StateDB) SubBalance(addr types.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.write(addr)
	if err != nil {
		return err
	}
	acc.Balance = new(uint256.Int).Sub(acc.Balance, amount)
	return nil
}

// IncNonce bumps the sender nonce by exactly one.
func (s *StateDB) IncNonce(addr types.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.write(addr)
	if err != nil {
		return err
	}
	acc.Nonce++
	return nil
}

// BeginTx opens the write journal. Until CommitTx or DiscardTx, every
// write lands on journal clones and committed state stays untouched.
func (s *StateDB) BeginTx() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = make(map[types.Address]*ctypes.Account)
}

// CommitTx folds the journal into committed state atomically.
func (s *StateDB) CommitTx() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, acc := range s.journal {
		s.accounts[addr] = acc
	}
	s.journal = nil
}

// DiscardTx drops every pending write.
func (s *StateDB) DiscardTx() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = nil
}

// Copy deep-copies the committed overlay, sharing the fallback. An open
// journal is not carried over; snapshot capture happens between
// transactions.
func (s *StateDB) Copy() *StateDB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := New(s.fallback)
	for addr, acc := range s.accounts {
		cp.accounts[addr] = acc.Clone()
	}
	return cp
}

// Restore replaces the committed overlay with the one captured in other.
func (s *StateDB) Restore(other *StateDB) {
	other.mu.RLock()
	snapshot := make(map[types.Address]*ctypes.Account, len(other.accounts))
	for addr, acc := range other.accounts {
		snapshot[addr] = acc.Clone()
	}
	other.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = snapshot
	s.journal = nil
}

// Reset drops the entire overlay (anvil_reset).
func (s *StateDB) Reset(fallback DatabaseRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = make(map[types.Address]*ctypes.Account)
	s.fallback = fallback
	s.journal = nil
}

// Addresses returns every locally observed address in stable order.
func (s *StateDB) Addresses() []types.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Address, 0, len(s.accounts))
	for addr := range s.accounts {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Hex() < out[j].Hex()
	})
	return out
}
