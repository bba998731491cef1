package evmexec

import (
	"context"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/shuttlelabs/shuttle/core/state"
	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/params"
	"github.com/shuttlelabs/shuttle/types"
)

// codeDepositGas is charged per byte of code stored by a create.
const codeDepositGas uint64 = 200

// SimpleInterpreter implements the transfer, account-creation and gas
// bookkeeping semantics the node engine needs without a bytecode
// stepper: calls move value and succeed, creates store the payload as
// the account code. Contract bytecode execution is a pluggable concern;
// any full interpreter can replace this one behind the Interpreter
// interface.
type SimpleInterpreter struct{}

func NewSimpleInterpreter() *SimpleInterpreter { return &SimpleInterpreter{} }

// IntrinsicGas returns the gas consumed before any execution happens:
// the per-kind base charge plus calldata costs.
func IntrinsicGas(kind ctypes.Kind, data []byte) uint64 {
	gas := params.MinTransactionGas
	if kind == ctypes.KindCreate {
		gas = params.MinCreateGas
	}
	for _, b := range data {
		if b == 0 {
			gas += params.TxDataZeroGas
		} else {
			gas += params.TxDataNonZeroGas
		}
	}
	return gas
}

// CreateAddress derives the address of a contract created by sender at
// the given nonce, following the classic keccak(rlp(sender, nonce))
// scheme over the 20-byte projection.
func CreateAddress(sender types.Address, nonce uint64) types.Address {
	enc, _ := rlp.EncodeToBytes([]interface{}{sender.Core20(), nonce})
	hash := crypto.Keccak256(enc)
	var core20 [20]byte
	copy(core20[:], hash[12:])
	return types.FromCore20(core20)
}

// Run executes the body of the transaction in env against the open
// journal of st. Value has not moved yet; gas purchase and nonce were
// already handled by the adapter.
func (si *SimpleInterpreter) Run(ctx context.Context, env Env, st *state.StateDB) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	gasUsed := IntrinsicGas(env.Tx.Kind, env.Tx.Data)

	if env.Tx.GasLimit < gasUsed {
		return Outcome{Kind: OutcomeOutOfGas, GasUsed: env.Tx.GasLimit}, nil
	}

	balance, err := st.GetBalance(env.Tx.Caller)
	if err != nil {
		return Outcome{}, err
	}
	if balance.Cmp(env.Tx.Value) < 0 {
		return Outcome{Kind: OutcomeOutOfFund, GasUsed: gasUsed}, nil
	}

	switch env.Tx.Kind {
	case ctypes.KindCreate:
		nonce, err := st.GetNonce(env.Tx.Caller)
		if err != nil {
			return Outcome{}, err
		}
		// The adapter bumped the nonce before Run; the create address
		// derives from the pre-bump value.
		addr := CreateAddress(env.Tx.Caller, nonce-1)
		gasUsed += codeDepositGas * uint64(len(env.Tx.Data))
		if env.Tx.GasLimit < gasUsed {
			return Outcome{Kind: OutcomeOutOfGas, GasUsed: env.Tx.GasLimit}, nil
		}
		if err := st.SetCode(addr, env.Tx.Data); err != nil {
			return Outcome{}, err
		}
		if err := moveValue(st, env.Tx.Caller, addr, env.Tx.Value); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: OutcomeSuccess, GasUsed: gasUsed, ContractAddress: &addr}, nil

	default:
		if err := moveValue(st, env.Tx.Caller, *env.Tx.To, env.Tx.Value); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: OutcomeSuccess, GasUsed: gasUsed}, nil
	}
}

// moveValue debits from and credits to. A zero-value move still runs so
// the recipient account is observed and created.
func moveValue(st *state.StateDB, from, to types.Address, value *uint256.Int) error {
	if err := st.SubBalance(from, value); err != nil {
		return err
	}
	return st.AddBalance(to, value)
}
