package rpcapi

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/evmexec"
	"github.com/shuttlelabs/shuttle/rpcerr"
)

// Filter methods of the eth namespace, backed by the registry.

// GetLogs runs a one-shot log query over the local chain.
func (api *EthereumAPI) GetLogs(ctx context.Context, crit FilterCriteria) ([]map[string]interface{}, error) {
	best := api.b.BestBlockNumber()
	engine := crit.toEngine(best)
	if engine.BlockHash != nil {
		block, ok := api.b.GetBlockByHash(*engine.BlockHash)
		if !ok {
			return nil, rpcerr.BlockNotFound()
		}
		return marshalLogs(engine.BlockLogs(block)), nil
	}
	from := uint64(0)
	if engine.FromBlock != nil {
		from = *engine.FromBlock
	}
	to := best
	if engine.ToBlock != nil && *engine.ToBlock < to {
		to = *engine.ToBlock
	}
	return marshalLogs(api.b.LogsInRange(from, to, engine)), nil
}

// NewFilter installs a logs filter and returns its id.
func (api *EthereumAPI) NewFilter(crit FilterCriteria) rpc.ID {
	return api.b.Filters().NewLogFilter(crit.toEngine(api.b.BestBlockNumber()))
}

// NewBlockFilter installs a new-block filter.
func (api *EthereumAPI) NewBlockFilter() rpc.ID {
	return api.b.Filters().NewBlockFilter()
}

// NewPendingTransactionFilter installs a ready-transaction filter.
func (api *EthereumAPI) NewPendingTransactionFilter() rpc.ID {
	return api.b.Filters().NewPendingTxFilter()
}

// GetFilterChanges returns and clears the accumulated delta.
func (api *EthereumAPI) GetFilterChanges(id rpc.ID) (interface{}, error) {
	delta, ok := api.b.Filters().Changes(id)
	if !ok {
		return nil, rpcerr.InvalidParams("filter not found")
	}
	switch v := delta.(type) {
	case []*ctypes.Log:
		return marshalLogs(v), nil
	case [][32]byte:
		hashes := make([]common.Hash, len(v))
		for i, h := range v {
			hashes[i] = common.Hash(h)
		}
		return hashes, nil
	default:
		return nil, rpcerr.New("unexpected filter payload")
	}
}

// GetFilterLogs re-runs a logs filter over its full range.
func (api *EthereumAPI) GetFilterLogs(id rpc.ID) ([]map[string]interface{}, error) {
	logs, ok := api.b.Filters().Logs(id)
	if !ok {
		return nil, rpcerr.InvalidParams("filter not found")
	}
	return marshalLogs(logs), nil
}

// UninstallFilter removes a filter, reporting whether it existed.
func (api *EthereumAPI) UninstallFilter(id rpc.ID) bool {
	return api.b.Filters().Uninstall(id)
}

// shapeCallOutcome maps an eth_call outcome onto its RPC result or
// structured error.
func shapeCallOutcome(outcome evmexec.Outcome) ([]byte, error) {
	switch outcome.Kind {
	case evmexec.OutcomeSuccess:
		return outcome.Output, nil
	case evmexec.OutcomeRevert:
		return nil, rpcerr.Revert(outcome.RevertReason(), outcome.Output)
	case evmexec.OutcomeOutOfGas:
		return nil, rpcerr.Transaction(&evmexec.BasicOutOfGasError{Limit: outcome.GasUsed})
	case evmexec.OutcomeOutOfFund:
		return nil, rpcerr.Transaction(evmexec.ErrInsufficientFunds)
	default:
		return nil, rpcerr.Shape(&evmexec.EvmError{Code: outcome.Code})
	}
}

// shapeEstimateError maps estimator failures onto structured RPC errors.
func shapeEstimateError(err error) error {
	var revert *evmexec.RevertError
	if errors.As(err, &revert) {
		return rpcerr.Revert(evmexec.DecodeRevertReason(revert.Output), revert.Output)
	}
	var oog *evmexec.BasicOutOfGasError
	if errors.As(err, &oog) {
		return rpcerr.Transaction(oog)
	}
	if errors.Is(err, evmexec.ErrGasTooHigh) || errors.Is(err, evmexec.ErrInsufficientFunds) {
		return rpcerr.Transaction(err)
	}
	return rpcerr.Shape(err)
}
