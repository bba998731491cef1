// Package types holds the primitive value types shared across the node
// engine: the extended-chain Address format and pool dependency markers.
package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AddressLength is the width of the extended-chain account identifier: a
// network prefix byte, a 20-byte body, and a trailing checksum byte.
const AddressLength = 22

// Address is a 22-byte account identifier, as opposed to the 20-byte
// address go-ethereum's common.Address uses. Collaborators that only understand classic 20-byte addresses
// (crypto, hashing) are handed the Core20 projection.
type Address [AddressLength]byte

// BytesToAddress right-aligns b into an Address, truncating from the left
// if b is longer than AddressLength.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// FromCore20 builds an extended-chain Address from a classic 20-byte
// address, using prefix 0x00 and a zero checksum byte. Used when wrapping
// addresses produced by collaborators that only know 20-byte addresses
// (e.g. a recovered secp256k1 signer).
func FromCore20(addr common.Address) Address {
	var a Address
	copy(a[1:21], addr[:])
	return a
}

// Core20 extracts the 20-byte body, dropping the network prefix and
// checksum bytes, for handing to crypto/hashing collaborators.
func (a Address) Core20() common.Address {
	var out common.Address
	copy(out[:], a[1:21])
	return out
}

// Bytes returns a copy of the raw 22 bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// IsZero reports whether every byte is zero.
func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string {
	return a.Hex()
}

// HexToAddress parses a hex string (with or without 0x prefix) into an
// Address, left-padding with zero bytes if shorter than AddressLength.
func HexToAddress(s string) Address {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}
	}
	return BytesToAddress(b)
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Address) UnmarshalText(input []byte) error {
	s := strings.TrimPrefix(string(input), "0x")
	s = strings.TrimPrefix(s, "0X")
	if len(s) != AddressLength*2 {
		return fmt.Errorf("types: invalid address length %d, want %d hex chars", len(s), AddressLength*2)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("types: invalid address hex: %w", err)
	}
	copy(a[:], b)
	return nil
}
