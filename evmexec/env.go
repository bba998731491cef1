// Package evmexec adapts the node engine to an EVM interpreter: it
// builds the (cfg, block, tx) execution environment, applies full
// transaction semantics around the interpreter invocation, and
// implements gas estimation by binary search. Bytecode execution itself
// is behind the Interpreter interface and consumed as a library.
package evmexec

import (
	"bytes"
	"context"

	"github.com/holiman/uint256"

	"github.com/shuttlelabs/shuttle/core/state"
	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/params/forks"
	"github.com/shuttlelabs/shuttle/types"
)

// CfgEnv is the chain-level execution config.
type CfgEnv struct {
	NetworkID      uint64
	MemoryLimit    uint64
	DisableEIP3607 bool
	SpecID         forks.Fork
}

// DefaultCfg returns the config newly started chains execute under.
// EIP-3607 stays disabled so impersonated contract accounts can send
// transactions.
func DefaultCfg(networkID uint64) CfgEnv {
	return CfgEnv{
		NetworkID:      networkID,
		MemoryLimit:    1 << 27,
		DisableEIP3607: true,
		SpecID:         forks.Latest,
	}
}

// BlockEnv is the per-block execution context.
type BlockEnv struct {
	Number     uint64
	Timestamp  int64
	Coinbase   types.Address
	Difficulty *uint256.Int
	PrevRandao [32]byte
	BaseFee    *uint256.Int
	GasLimit   uint64
}

// TxEnv is the per-transaction execution context.
type TxEnv struct {
	Caller    types.Address
	GasPrice  *uint256.Int
	GasLimit  uint64
	NetworkID *uint64
	Value     *uint256.Int
	Data      []byte
	Kind      ctypes.Kind
	To        *types.Address
}

// Env is the full environment handed to the interpreter.
type Env struct {
	Cfg   CfgEnv
	Block BlockEnv
	Tx    TxEnv
}

// OutcomeKind tags an execution result.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRevert
	OutcomeOutOfGas
	OutcomeOutOfFund
	OutcomeOther
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRevert:
		return "revert"
	case OutcomeOutOfGas:
		return "out of gas"
	case OutcomeOutOfFund:
		return "out of funds"
	default:
		return "error"
	}
}

// Outcome is the interpreter's verdict for one execution.
type Outcome struct {
	Kind            OutcomeKind
	Output          []byte
	GasUsed         uint64
	Logs            []*ctypes.Log
	ContractAddress *types.Address
	Code            int // set for OutcomeOther
}

// revertSelector is the 4-byte selector of Error(string).
var revertSelector = []byte{0x08, 0xc3, 0x79, 0xa0}

// RevertReason decodes a solidity Error(string) payload from the output,
// returning "" when the output is not a string revert.
func (o *Outcome) RevertReason() string {
	return DecodeRevertReason(o.Output)
}

// DecodeRevertReason extracts the UTF-8 reason from an ABI-encoded
// Error(string) payload.
func DecodeRevertReason(output []byte) string {
	if len(output) < 4+32+32 || !bytes.Equal(output[:4], revertSelector) {
		return ""
	}
	body := output[4:]
	offset := new(uint256.Int).SetBytes(body[:32]).Uint64()
	if offset+32 > uint64(len(body)) {
		return ""
	}
	strLen := new(uint256.Int).SetBytes(body[offset : offset+32]).Uint64()
	start := offset + 32
	if start+strLen > uint64(len(body)) {
		return ""
	}
	return string(body[start : start+strLen])
}

// Interpreter executes the call or create body of a transaction against
// an open state journal. The gas purchase, nonce bump and fee transfers
// around it are the Adapter's job. This is the out-of-scope library
// boundary: swap in a full bytecode interpreter here to
// execute arbitrary contracts.
type Interpreter interface {
	Run(ctx context.Context, env Env, st *state.StateDB) (Outcome, error)
}
