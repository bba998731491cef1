package state

import (
	"bytes"
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/types"
)

// The state root is a binary Merkle tree over the sorted account leaves;
// each account's storage root is a second tree over its sorted slots.
// Proofs are the sibling path from leaf to root.

// StorageProof is the per-slot inclusion proof inside an AccountProof.
type StorageProof struct {
	Key   common.Hash     `json:"key"`
	Value common.Hash     `json:"value"`
	Proof []hexutil.Bytes `json:"proof"`
}

// AccountProof is the eth_getProof response shape.
type AccountProof struct {
	Address      types.Address   `json:"address"`
	Balance      *uint256.Int    `json:"balance"`
	Nonce        uint64          `json:"nonce"`
	CodeHash     common.Hash     `json:"codeHash"`
	StorageHash  common.Hash     `json:"storageHash"`
	AccountProof []hexutil.Bytes `json:"accountProof"`
	StorageProof []StorageProof  `json:"storageProof"`
}

type accountLeaf struct {
	Balance  []byte
	Nonce    uint64
	CodeHash [32]byte
	Storage  [32]byte
}

func storageRoot(acc *ctypes.Account) ([32]byte, map[[32]byte]merklePath) {
	keys := make([][32]byte, 0, len(acc.Storage))
	for k := range acc.Storage {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	leaves := make([][32]byte, len(keys))
	for i, k := range keys {
		v := acc.Storage[k]
		leaves[i] = crypto.Keccak256Hash(k[:], v[:])
	}
	root, paths := merkleFold(leaves)
	byKey := make(map[[32]byte]merklePath, len(keys))
	for i, k := range keys {
		byKey[k] = paths[i]
	}
	return root, byKey
}

func accountLeafHash(addr types.Address, acc *ctypes.Account, storage [32]byte) [32]byte {
	leaf := accountLeaf{
		Balance:  acc.Balance.Bytes(),
		Nonce:    acc.Nonce,
		CodeHash: crypto.Keccak256Hash(acc.Code),
		Storage:  storage,
	}
	enc, _ := rlp.EncodeToBytes(&leaf)
	return crypto.Keccak256Hash(addr.Bytes(), enc)
}

// Root computes the current state root over the committed overlay.
func (s *StateDB) Root() [32]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	root, _, _ := s.rootLocked()
	return root
}

func (s *StateDB) rootLocked() ([32]byte, []types.Address, []merklePath) {
	addrs := make([]types.Address, 0, len(s.accounts))
	for addr := range s.accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
	leaves := make([][32]byte, len(addrs))
	for i, addr := range addrs {
		sroot, _ := storageRoot(s.accounts[addr])
		leaves[i] = accountLeafHash(addr, s.accounts[addr], sroot)
	}
	root, paths := merkleFold(leaves)
	return root, addrs, paths
}

// ProveAccount builds the inclusion proof for addr and the requested
// storage keys against the current state root.
func (s *StateDB) ProveAccount(addr types.Address, keys [][32]byte) (*AccountProof, error) {
	s.mu.Lock()
	acc, err := s.read(addr)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, errors.New("state: cannot prove unknown account")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, addrs, paths := s.rootLocked()
	idx := -1
	for i, a := range addrs {
		if a == addr {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, errors.New("state: account missing from root computation")
	}
	committed := s.accounts[addr]
	sroot, slotPaths := storageRoot(committed)
	proof := &AccountProof{
		Address:      addr,
		Balance:      new(uint256.Int).Set(committed.Balance),
		Nonce:        committed.Nonce,
		CodeHash:     crypto.Keccak256Hash(committed.Code),
		StorageHash:  common.Hash(sroot),
		AccountProof: paths[idx].hexSiblings(),
	}
	for _, key := range keys {
		sp := StorageProof{Key: common.Hash(key), Value: common.Hash(committed.Storage[key])}
		if path, ok := slotPaths[key]; ok {
			sp.Proof = path.hexSiblings()
		}
		proof.StorageProof = append(proof.StorageProof, sp)
	}
	return proof, nil
}

// merklePath is the sibling hash sequence from a leaf up to the root.
type merklePath [][32]byte

func (p merklePath) hexSiblings() []hexutil.Bytes {
	out := make([]hexutil.Bytes, len(p))
	for i, h := range p {
		out[i] = append(hexutil.Bytes(nil), h[:]...)
	}
	return out
}

// merkleFold reduces leaves pairwise to a root, recording each leaf's
// sibling path. An odd node at any level is paired with itself; the
// empty tree hashes to the zero root.
func merkleFold(leaves [][32]byte) ([32]byte, []merklePath) {
	if len(leaves) == 0 {
		return [32]byte{}, nil
	}
	paths := make([]merklePath, len(leaves))
	// index of each original leaf within the current level
	pos := make([]int, len(leaves))
	for i := range pos {
		pos[i] = i
	}
	level := append([][32]byte(nil), leaves...)
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			j := i + 1
			if j == len(level) {
				j = i
			}
			next = append(next, crypto.Keccak256Hash(level[i][:], level[j][:]))
		}
		for leaf, p := range pos {
			sib := p ^ 1
			if sib >= len(level) {
				sib = p
			}
			paths[leaf] = append(paths[leaf], level[sib])
			pos[leaf] = p / 2
		}
		level = next
	}
	return level[0], paths
}
