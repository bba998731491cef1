// Package sign provides the signing capability boundary of the node: the
// Signer interface the RPC layer depends on, a deterministic in-memory
// development signer, sender recovery for raw transactions, and EIP-712
// v4 typed-data signing. Curve arithmetic and keccak come from
// go-ethereum/crypto and are treated as opaque.
package sign

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/types"
)

// ErrNoSigner is returned when no managed key matches the requested
// account.
var ErrNoSigner = errors.New("no signer available for address")

// Signer is the capability handed to the RPC layer.
type Signer interface {
	// Accounts lists the addresses this signer can sign for.
	Accounts() []types.Address
	// SignMessage signs an EIP-191 personal message.
	SignMessage(addr types.Address, msg []byte) ([]byte, error)
	// SignTransaction fills in tx.Sig using the key for addr.
	SignTransaction(tx *ctypes.Transaction, addr types.Address) error
	// SignTypedData signs an EIP-712 v4 typed-data payload.
	SignTypedData(addr types.Address, typed apitypes.TypedData) ([]byte, error)
}

// DevSigner holds a fixed set of unlocked in-memory keys, the local
// node's equivalent of a keystore. Keys derive deterministically from a
// seed string so test accounts are stable across restarts.
type DevSigner struct {
	order []types.Address
	keys  map[types.Address]*ecdsa.PrivateKey
}

// NewDevSigner derives n accounts from seed. Derivation is
// keccak(seed + "/" + decimal index), which keeps the accounts reproducible without
// pulling in a full BIP-32/39 wallet stack.
func NewDevSigner(seed string, n int) (*DevSigner, error) {
	s := &DevSigner{keys: make(map[types.Address]*ecdsa.PrivateKey, n)}
	for i := 0; i < n; i++ {
		material := crypto.Keccak256([]byte(fmt.Sprintf("%s/%d", seed, i)))
		key, err := crypto.ToECDSA(material)
		if err != nil {
			return nil, fmt.Errorf("sign: derive account %d: %w", i, err)
		}
		addr := types.FromCore20(crypto.PubkeyToAddress(key.PublicKey))
		s.order = append(s.order, addr)
		s.keys[addr] = key
	}
	return s, nil
}

// Add registers an externally supplied key.
func (s *DevSigner) Add(key *ecdsa.PrivateKey) types.Address {
	addr := types.FromCore20(crypto.PubkeyToAddress(key.PublicKey))
	if _, ok := s.keys[addr]; !ok {
		s.order = append(s.order, addr)
	}
	s.keys[addr] = key
	return addr
}

func (s *DevSigner) Accounts() []types.Address {
	out := make([]types.Address, len(s.order))
	copy(out, s.order)
	return out
}

func (s *DevSigner) key(addr types.Address) (*ecdsa.PrivateKey, error) {
	key, ok := s.keys[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSigner, addr)
	}
	return key, nil
}

// SignMessage hashes msg with the EIP-191 personal-message prefix and
// signs the digest. The returned 65-byte signature uses v in {27, 28}.
func (s *DevSigner) SignMessage(addr types.Address, msg []byte) ([]byte, error) {
	key, err := s.key(addr)
	if err != nil {
		return nil, err
	}
	digest := TextHash(msg)
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// SignTransaction signs the EIP-155 payload when tx carries a network id
// and the pre-155 payload otherwise, then attaches the (v, r, s) triple.
func (s *DevSigner) SignTransaction(tx *ctypes.Transaction, addr types.Address) error {
	key, err := s.key(addr)
	if err != nil {
		return err
	}
	digest := tx.SigHash()
	raw, err := crypto.Sign(digest[:], key)
	if err != nil {
		return err
	}
	sig := &ctypes.Signature{}
	copy(sig.R[:], raw[:32])
	copy(sig.S[:], raw[32:64])
	if tx.NetworkID != nil {
		sig.V = uint64(raw[64]) + *tx.NetworkID*2 + 35
	} else {
		sig.V = uint64(raw[64]) + 27
	}
	tx.Sig = sig
	return nil
}

// SignTypedData implements eth_signTypedData_v4. Only the v4 digest
// (domain separator || struct hash) is supported; v1/v3 payloads fail
// hashing inside apitypes and surface as errors.
func (s *DevSigner) SignTypedData(addr types.Address, typed apitypes.TypedData) ([]byte, error) {
	key, err := s.key(addr)
	if err != nil {
		return nil, err
	}
	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("sign: hash typed data: %w", err)
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// TextHash returns the EIP-191 digest of msg.
func TextHash(msg []byte) []byte {
	return crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))), msg)
}

// RecoverSender recovers the signing address of a signed transaction.
// Bypass-signed (impersonated) transactions carry no recoverable key and
// must be resolved by the caller from its impersonation registry before
// reaching this point.
func RecoverSender(tx *ctypes.Transaction) (types.Address, error) {
	if tx.Sig == nil {
		return types.Address{}, errors.New("sign: transaction is unsigned")
	}
	if tx.Sig.IsBypass() {
		return types.Address{}, errors.New("sign: bypass signature carries no recoverable sender")
	}
	var recid uint64
	switch {
	case tx.Sig.V >= 35:
		recid = (tx.Sig.V - 35) % 2
	case tx.Sig.V == 27 || tx.Sig.V == 28:
		recid = tx.Sig.V - 27
	default:
		return types.Address{}, fmt.Errorf("sign: invalid signature v value %d", tx.Sig.V)
	}
	digest := tx.SigHash()
	raw := make([]byte, 65)
	copy(raw[:32], tx.Sig.R[:])
	copy(raw[32:64], tx.Sig.S[:])
	raw[64] = byte(recid)
	pub, err := crypto.SigToPub(digest[:], raw)
	if err != nil {
		return types.Address{}, fmt.Errorf("sign: recover sender: %w", err)
	}
	return types.FromCore20(crypto.PubkeyToAddress(*pub)), nil
}
