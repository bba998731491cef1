package evmexec

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/shuttlelabs/shuttle/core/state"
	"github.com/shuttlelabs/shuttle/params"
)

// baseByKind is the lower search bound: the plain-transfer floor for
// calls, the creation floor for creates or unknown kinds.
func baseByKind(req CallRequest) uint64 {
	if req.To != nil {
		return params.MinTransactionGas
	}
	return params.MinCreateGas
}

// EstimateGas finds the smallest gas limit at which the request
// succeeds, by executing at a high bound and binary searching downwards.
func (a *Adapter) EstimateGas(ctx context.Context, st *state.StateDB, block BlockEnv, req CallRequest) (uint64, error) {
	// Step 1: a bare transfer to a codeless account costs exactly the
	// baseline, no search needed.
	if len(req.Data) == 0 && req.To != nil {
		code, err := st.GetCode(*req.To)
		if err != nil {
			return 0, err
		}
		if len(code) == 0 {
			return params.MinTransactionGas, nil
		}
	}

	explicit := req.Gas != nil || req.GasPrice != nil

	// Step 2: cap the upper bound by the request, the block, and what
	// the sender can actually pay for.
	highest := block.GasLimit
	if req.Gas != nil && *req.Gas < highest {
		highest = *req.Gas
	}
	if req.From != nil && req.GasPrice != nil && !req.GasPrice.IsZero() {
		balance, err := st.GetBalance(*req.From)
		if err != nil {
			return 0, err
		}
		available := new(uint256.Int).Set(balance)
		if req.Value != nil {
			if available.Cmp(req.Value) < 0 {
				return 0, ErrInsufficientFunds
			}
			available.Sub(available, req.Value)
		}
		allowance := new(uint256.Int).Div(available, req.GasPrice)
		if allowance.IsUint64() && allowance.Uint64() < highest {
			highest = allowance.Uint64()
		}
	}

	// Step 3: execute at the upper bound to classify feasibility.
	outcome, err := a.Call(ctx, st, block, withGas(req, highest), nil)
	if err != nil {
		return 0, err
	}
	switch outcome.Kind {
	case OutcomeSuccess:
	case OutcomeOutOfGas:
		// Gas demand exceeds the allowance-derived bound. When the caller
		// pinned gas or gas price, rerun unconstrained to tell "limit too
		// low" apart from "always reverts".
		if explicit {
			return a.rerunAtBlockLimit(ctx, st, block, req, highest)
		}
		return 0, ErrGasTooHigh
	case OutcomeRevert:
		if explicit {
			return a.rerunAtBlockLimit(ctx, st, block, req, highest)
		}
		return 0, &RevertError{Output: outcome.Output}
	case OutcomeOutOfFund:
		return 0, ErrInsufficientFunds
	default:
		return 0, &EvmError{Code: outcome.Code}
	}

	// Step 4: binary search for the smallest sufficient limit, seeding
	// the midpoint near triple the measured usage. low sits one below
	// the per-kind floor so the floor itself is still probed.
	low, high := baseByKind(req)-1, highest
	mid := outcome.GasUsed * 3
	if mid > (high+low)/2 {
		mid = (high + low) / 2
	}
	for high-low > 1 {
		if mid <= low || mid > high {
			mid = (high + low) / 2
		}
		probe, err := a.Call(ctx, st, block, withGas(req, mid), nil)
		if err != nil {
			return 0, err
		}
		if probe.Kind == OutcomeSuccess {
			high = mid
		} else {
			low = mid
		}
		mid = (high + low) / 2
	}
	return high, nil
}

// rerunAtBlockLimit distinguishes "the explicit limit was too small"
// from "the call fails regardless" by executing at the block cap.
func (a *Adapter) rerunAtBlockLimit(ctx context.Context, st *state.StateDB, block BlockEnv, req CallRequest, limit uint64) (uint64, error) {
	retry := req
	retry.Gas = nil
	retry.GasPrice = nil
	outcome, err := a.Call(ctx, st, block, withGas(retry, block.GasLimit), nil)
	if err != nil {
		return 0, err
	}
	switch outcome.Kind {
	case OutcomeSuccess:
		return 0, &BasicOutOfGasError{Limit: limit}
	case OutcomeRevert:
		return 0, &RevertError{Output: outcome.Output}
	case OutcomeOutOfFund:
		return 0, ErrInsufficientFunds
	default:
		return 0, &EvmError{Code: outcome.Code}
	}
}

func withGas(req CallRequest, gas uint64) CallRequest {
	req.Gas = &gas
	return req
}
