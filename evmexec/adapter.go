package evmexec

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/shuttlelabs/shuttle/core/state"
	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/types"
)

// CallRequest is the executable subset of an RPC transaction request, as
// accepted by eth_call / eth_estimateGas / eth_sendTransaction.
type CallRequest struct {
	From     *types.Address
	To       *types.Address
	Gas      *uint64
	GasPrice *uint256.Int
	Value    *uint256.Int
	Data     []byte
}

func (r *CallRequest) kind() ctypes.Kind {
	if r.To == nil {
		return ctypes.KindCreate
	}
	return ctypes.KindCall
}

// OverrideAccount is one entry of the eth_call state-override set.
type OverrideAccount struct {
	Balance   *uint256.Int
	Nonce     *uint64
	Code      []byte
	State     map[[32]byte][32]byte // replaces the loaded storage
	StateDiff map[[32]byte][32]byte // overlays individual slots
}

// StateOverride maps addresses to their per-call overrides.
type StateOverride map[types.Address]OverrideAccount

// Adapter builds execution environments and drives the interpreter with
// full transaction semantics: gas purchase, nonce bump, fee transfer to
// the coinbase and journal commit/discard.
type Adapter struct {
	interp Interpreter
	cfg    CfgEnv
	logger log.Logger
}

func NewAdapter(interp Interpreter, cfg CfgEnv) *Adapter {
	return &Adapter{interp: interp, cfg: cfg, logger: log.New("component", "executor")}
}

// Cfg returns the chain-level execution config.
func (a *Adapter) Cfg() CfgEnv { return a.cfg }

// SetNetworkID updates the network id used for new environments
// (anvil_reset against a different fork).
func (a *Adapter) SetNetworkID(id uint64) { a.cfg.NetworkID = id }

// Prevalidate runs the checks performed before a transaction enters the
// pool and again before mining: nonce not below on-chain, gas price
// floor, block cap, balance covering value + gas*price, intrinsic gas floor.
func (a *Adapter) Prevalidate(st *state.StateDB, tx *ctypes.Transaction, sender types.Address, blockGasLimit uint64, minGasPrice *uint256.Int) error {
	acc, err := st.GetAccount(sender)
	if err != nil {
		return err
	}
	if tx.Nonce < acc.Nonce {
		return fmt.Errorf("%w: on-chain %d, transaction %d", ErrNonceTooLow, acc.Nonce, tx.Nonce)
	}
	if minGasPrice != nil && tx.GasPrice.Cmp(minGasPrice) < 0 {
		return ErrGasPriceTooLow
	}
	if tx.GasLimit > blockGasLimit {
		return ErrGasTooHigh
	}
	if acc.Balance.Cmp(tx.Cost()) < 0 {
		return ErrInsufficientFunds
	}
	if intrinsic := IntrinsicGas(tx.Kind, tx.Data); tx.GasLimit < intrinsic {
		return &BasicOutOfGasError{Limit: tx.GasLimit}
	}
	return nil
}

// ApplyResult is the committed effect of one mined transaction.
type ApplyResult struct {
	Outcome Outcome
	GasUsed uint64
}

// Apply executes tx against st with full semantics and commits the
// result: the gas fee and nonce bump land even when the body reverts,
// while reverted body writes are discarded.
func (a *Adapter) Apply(ctx context.Context, st *state.StateDB, block BlockEnv, tx *ctypes.Transaction, sender types.Address) (*ApplyResult, error) {
	env := Env{
		Cfg:   a.cfg,
		Block: block,
		Tx: TxEnv{
			Caller:    sender,
			GasPrice:  tx.GasPrice,
			GasLimit:  tx.GasLimit,
			NetworkID: tx.NetworkID,
			Value:     tx.Value,
			Data:      tx.Data,
			Kind:      tx.Kind,
			To:        tx.To,
		},
	}

	st.BeginTx()
	outcome, err := a.run(ctx, env, st)
	if err != nil {
		st.DiscardTx()
		return nil, err
	}
	if outcome.Kind == OutcomeSuccess {
		st.CommitTx()
	} else if outcome.Kind == OutcomeOutOfFund && outcome.GasUsed == 0 {
		// The sender could not even purchase gas; nothing lands.
		st.DiscardTx()
	} else {
		// Body effects are rolled back; the fee and nonce still land.
		st.DiscardTx()
		st.BeginTx()
		if _, err := a.chargeAndBump(st, env, outcome.GasUsed); err != nil {
			st.DiscardTx()
			return nil, err
		}
		st.CommitTx()
	}
	return &ApplyResult{Outcome: outcome, GasUsed: outcome.GasUsed}, nil
}

// run purchases gas, bumps the nonce, invokes the interpreter and
// settles the fee inside the currently open journal.
func (a *Adapter) run(ctx context.Context, env Env, st *state.StateDB) (Outcome, error) {
	gasCost := new(uint256.Int).Mul(env.Tx.GasPrice, new(uint256.Int).SetUint64(env.Tx.GasLimit))
	balance, err := st.GetBalance(env.Tx.Caller)
	if err != nil {
		return Outcome{}, err
	}
	need := new(uint256.Int).Add(gasCost, env.Tx.Value)
	if balance.Cmp(need) < 0 {
		return Outcome{Kind: OutcomeOutOfFund}, nil
	}
	if err := st.SubBalance(env.Tx.Caller, gasCost); err != nil {
		return Outcome{}, err
	}
	if err := st.IncNonce(env.Tx.Caller); err != nil {
		return Outcome{}, err
	}

	outcome, err := a.interp.Run(ctx, env, st)
	if err != nil {
		return Outcome{}, err
	}
	if outcome.GasUsed > env.Tx.GasLimit {
		outcome.GasUsed = env.Tx.GasLimit
	}
	if err := a.settleGas(st, env, outcome.GasUsed); err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// settleGas refunds the unused remainder and credits the coinbase.
func (a *Adapter) settleGas(st *state.StateDB, env Env, gasUsed uint64) error {
	refund := new(uint256.Int).Mul(env.Tx.GasPrice, new(uint256.Int).SetUint64(env.Tx.GasLimit-gasUsed))
	if err := st.AddBalance(env.Tx.Caller, refund); err != nil {
		return err
	}
	fee := new(uint256.Int).Mul(env.Tx.GasPrice, new(uint256.Int).SetUint64(gasUsed))
	return st.AddBalance(env.Block.Coinbase, fee)
}

// chargeAndBump applies only the fee and nonce effects of a failed body.
func (a *Adapter) chargeAndBump(st *state.StateDB, env Env, gasUsed uint64) (Outcome, error) {
	fee := new(uint256.Int).Mul(env.Tx.GasPrice, new(uint256.Int).SetUint64(gasUsed))
	balance, err := st.GetBalance(env.Tx.Caller)
	if err != nil {
		return Outcome{}, err
	}
	if balance.Cmp(fee) < 0 {
		fee = balance
	}
	if err := st.SubBalance(env.Tx.Caller, fee); err != nil {
		return Outcome{}, err
	}
	if err := st.IncNonce(env.Tx.Caller); err != nil {
		return Outcome{}, err
	}
	if err := st.AddBalance(env.Block.Coinbase, fee); err != nil {
		return Outcome{}, err
	}
	return Outcome{}, nil
}

// Call runs the request without committing state: the
// interpreter sees a copy of st with overrides applied, and nothing is
// written back.
func (a *Adapter) Call(ctx context.Context, st *state.StateDB, block BlockEnv, req CallRequest, overrides StateOverride) (Outcome, error) {
	scratch := st.Copy()
	if err := applyOverrides(scratch, overrides); err != nil {
		return Outcome{}, err
	}
	env := a.callEnv(block, req)
	scratch.BeginTx()
	defer scratch.DiscardTx()
	return a.interp.Run(ctx, env, scratch)
}

// TraceFrame is the structured trace produced by call_with_tracing.
type TraceFrame struct {
	Type         string        `json:"type"`
	From         types.Address `json:"from"`
	To           types.Address `json:"to"`
	Value        *uint256.Int  `json:"value,omitempty"`
	Gas          uint64        `json:"gas"`
	GasUsed      uint64        `json:"gasUsed"`
	Input        []byte        `json:"input"`
	Output       []byte        `json:"output,omitempty"`
	Error        string        `json:"error,omitempty"`
	RevertReason string        `json:"revertReason,omitempty"`
	Calls        []*TraceFrame `json:"calls,omitempty"`
}

// CallWithTracing runs like Call and additionally produces the top-level
// trace frame of the execution.
func (a *Adapter) CallWithTracing(ctx context.Context, st *state.StateDB, block BlockEnv, req CallRequest, overrides StateOverride) (Outcome, *TraceFrame, error) {
	outcome, err := a.Call(ctx, st, block, req, overrides)
	if err != nil {
		return Outcome{}, nil, err
	}
	frame := &TraceFrame{
		Type:    "CALL",
		Gas:     a.callEnv(block, req).Tx.GasLimit,
		GasUsed: outcome.GasUsed,
		Input:   req.Data,
		Output:  outcome.Output,
		Value:   req.Value,
	}
	if req.From != nil {
		frame.From = *req.From
	}
	if req.To != nil {
		frame.To = *req.To
	} else {
		frame.Type = "CREATE"
		if outcome.ContractAddress != nil {
			frame.To = *outcome.ContractAddress
		}
	}
	if outcome.Kind != OutcomeSuccess {
		frame.Error = outcome.Kind.String()
		frame.RevertReason = outcome.RevertReason()
	}
	return outcome, frame, nil
}

// callEnv normalizes a CallRequest into a full Env, defaulting missing
// fields the way a node defaults an eth_call.
func (a *Adapter) callEnv(block BlockEnv, req CallRequest) Env {
	tx := TxEnv{
		GasPrice: uint256.NewInt(0),
		GasLimit: block.GasLimit,
		Value:    uint256.NewInt(0),
		Data:     req.Data,
		Kind:     req.kind(),
		To:       req.To,
	}
	if req.From != nil {
		tx.Caller = *req.From
	}
	if req.Gas != nil {
		tx.GasLimit = *req.Gas
	}
	if req.GasPrice != nil {
		tx.GasPrice = req.GasPrice
	}
	if req.Value != nil {
		tx.Value = req.Value
	}
	return Env{Cfg: a.cfg, Block: block, Tx: tx}
}

func applyOverrides(st *state.StateDB, overrides StateOverride) error {
	for addr, o := range overrides {
		if o.Balance != nil {
			if err := st.SetBalance(addr, o.Balance); err != nil {
				return err
			}
		}
		if o.Nonce != nil {
			if err := st.SetNonce(addr, *o.Nonce); err != nil {
				return err
			}
		}
		if o.Code != nil {
			if err := st.SetCode(addr, o.Code); err != nil {
				return err
			}
		}
		if o.State != nil {
			// Full replacement: zero every slot the account already holds,
			// then write the given ones. Slots of a forked account that were
			// never loaded are still read from the fork.
			acc, err := st.GetAccount(addr)
			if err != nil {
				return err
			}
			for k := range acc.Storage {
				if err := st.SetStorage(addr, k, [32]byte{}); err != nil {
					return err
				}
			}
			for k, v := range o.State {
				if err := st.SetStorage(addr, k, v); err != nil {
					return err
				}
			}
		}
		for k, v := range o.StateDiff {
			if err := st.SetStorage(addr, k, v); err != nil {
				return err
			}
		}
	}
	return nil
}
