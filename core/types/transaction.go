package types

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/shuttlelabs/shuttle/types"
)

// ErrFailedToDecodeTransaction is returned when raw bytes don't decode as
// a legacy transaction - including well-formed EIP-1559/access-list
// transactions, which this node does not support.
var ErrFailedToDecodeTransaction = errors.New("failed to decode signed transaction")

// Kind tags whether a transaction calls an existing account or creates a
// new one.
type Kind uint8

const (
	KindCall Kind = iota
	KindCreate
)

// Signature is a legacy (v, r, s) ECDSA signature. V carries the full
// replay-protection value (chainId*2+35 for EIP-155, 27/28 otherwise) so
// it cannot be a single byte. A well-known sentinel value (see
// BypassSignature) marks an impersonated transaction.
type Signature struct {
	V uint64
	R [32]byte
	S [32]byte
}

// BypassSignature is the sentinel signature carried by impersonated
// transactions. No ordinary signing process can produce v==0xFF with an
// all-zero r/s, which is what lets the validator recognize it without a
// side channel.
var BypassSignature = Signature{V: 0xFF}

func (s Signature) IsBypass() bool { return s == BypassSignature }

// Transaction is a legacy Ethereum-style transaction.
type Transaction struct {
	Nonce     uint64
	GasPrice  *uint256.Int
	GasLimit  uint64
	Kind      Kind
	To        *types.Address // nil iff Kind == KindCreate
	Value     *uint256.Int
	Data      []byte
	NetworkID *uint64
	Sig       *Signature // nil until signed or marked as bypass
}

// rlpTransaction mirrors the wire shape of a legacy transaction for
// RLP round-tripping; go-ethereum/rlp is consumed as an opaque codec.
type rlpTransaction struct {
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	To       []byte // empty iff contract creation
	Value    *big.Int
	Data     []byte
	V        *big.Int
	R        *big.Int
	S        *big.Int
}

// EncodeRLP serializes the transaction in its signed wire form.
func (tx *Transaction) EncodeRLP() ([]byte, error) {
	if tx.Sig == nil {
		return nil, errors.New("types: cannot encode unsigned transaction")
	}
	w := rlpTransaction{
		Nonce:    tx.Nonce,
		GasPrice: tx.GasPrice.ToBig(),
		GasLimit: tx.GasLimit,
		Value:    tx.Value.ToBig(),
		Data:     tx.Data,
		V:        new(big.Int).SetUint64(tx.Sig.V),
		R:        new(big.Int).SetBytes(tx.Sig.R[:]),
		S:        new(big.Int).SetBytes(tx.Sig.S[:]),
	}
	if tx.To != nil {
		w.To = tx.To.Bytes()
	}
	return rlp.EncodeToBytes(&w)
}

// DecodeRawTransaction parses raw signed RLP bytes into a Transaction, as
// accepted by eth_sendRawTransaction. Any shape that isn't the legacy
// 9-field encoding (including a well-formed typed transaction envelope)
// is rejected with ErrFailedToDecodeTransaction.
func DecodeRawTransaction(raw []byte) (*Transaction, error) {
	if len(raw) == 0 {
		return nil, errors.New("types: empty raw transaction data")
	}
	// A typed-transaction envelope's first byte is 0x01-0x7f; legacy RLP
	// lists always start at 0xc0 or above.
	if raw[0] < 0xc0 {
		return nil, ErrFailedToDecodeTransaction
	}
	var w rlpTransaction
	if err := rlp.DecodeBytes(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToDecodeTransaction, err)
	}
	tx := &Transaction{
		Nonce:    w.Nonce,
		GasPrice: uint256.MustFromBig(w.GasPrice),
		GasLimit: w.GasLimit,
		Value:    uint256.MustFromBig(w.Value),
		Data:     w.Data,
		Kind:     KindCreate,
	}
	if len(w.To) > 0 {
		tx.Kind = KindCall
		addr := types.BytesToAddress(w.To)
		tx.To = &addr
	}
	var sig Signature
	sig.V = w.V.Uint64()
	copy(sig.R[32-len(w.R.Bytes()):], w.R.Bytes())
	copy(sig.S[32-len(w.S.Bytes()):], w.S.Bytes())
	tx.Sig = &sig
	if sig.V >= 35 {
		chainID := (sig.V - 35) / 2
		tx.NetworkID = &chainID
	}
	return tx, nil
}

// Hash returns keccak256 of the signed RLP encoding, the identity
// eth_sendRawTransaction reports back to the caller.
func (tx *Transaction) Hash() ([32]byte, error) {
	raw, err := tx.EncodeRLP()
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.Keccak256Hash(raw), nil
}

// rlpSigHash155 is the 9-field EIP-155 signing payload: the six
// transaction fields followed by (chainId, 0, 0).
type rlpSigHash155 struct {
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	To       []byte
	Value    *big.Int
	Data     []byte
	ChainID  uint64
	Zero1    uint
	Zero2    uint
}

type rlpSigHashLegacy struct {
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	To       []byte
	Value    *big.Int
	Data     []byte
}

// SigHash returns the digest a signer commits to. With a network id the
// replay-protected 9-field payload is hashed, otherwise the pre-EIP-155
// 6-field one.
func (tx *Transaction) SigHash() [32]byte {
	var to []byte
	if tx.To != nil {
		to = tx.To.Bytes()
	}
	var raw []byte
	if tx.NetworkID != nil {
		raw, _ = rlp.EncodeToBytes(&rlpSigHash155{
			Nonce:    tx.Nonce,
			GasPrice: tx.GasPrice.ToBig(),
			GasLimit: tx.GasLimit,
			To:       to,
			Value:    tx.Value.ToBig(),
			Data:     tx.Data,
			ChainID:  *tx.NetworkID,
		})
	} else {
		raw, _ = rlp.EncodeToBytes(&rlpSigHashLegacy{
			Nonce:    tx.Nonce,
			GasPrice: tx.GasPrice.ToBig(),
			GasLimit: tx.GasLimit,
			To:       to,
			Value:    tx.Value.ToBig(),
			Data:     tx.Data,
		})
	}
	return crypto.Keccak256Hash(raw)
}

// Cost returns value + gasLimit*gasPrice, the amount pre-validation checks
// against sender balance.
func (tx *Transaction) Cost() *uint256.Int {
	cost := new(uint256.Int).Mul(tx.GasPrice, new(uint256.Int).SetUint64(tx.GasLimit))
	return cost.Add(cost, tx.Value)
}
