package rpcapi

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/shuttlelabs/shuttle/backend"
	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/evmexec"
	"github.com/shuttlelabs/shuttle/rpcerr"
)

// TraceConfig is the options object of debug_traceTransaction /
// debug_traceCall. Only the default (struct-logger) tracer is served;
// naming any other tracer is rejected.
type TraceConfig struct {
	Tracer *string `json:"tracer"`
}

func (cfg *TraceConfig) validate(method string) error {
	if cfg != nil && cfg.Tracer != nil && *cfg.Tracer != "" {
		return rpcerr.Unimplemented(method + " with non-default tracer")
	}
	return nil
}

// structLogResult is the default-tracer response shape.
type structLogResult struct {
	Gas         uint64        `json:"gas"`
	Failed      bool          `json:"failed"`
	ReturnValue string        `json:"returnValue"`
	StructLogs  []interface{} `json:"structLogs"`
}

// DebugAPI serves the debug_* namespace.
type DebugAPI struct {
	b *backend.Backend
}

func NewDebugAPI(b *backend.Backend) *DebugAPI { return &DebugAPI{b: b} }

// TraceTransaction rebuilds the default-tracer result from the stored
// receipt of a mined transaction.
func (api *DebugAPI) TraceTransaction(ctx context.Context, hash common.Hash, cfg *TraceConfig) (interface{}, error) {
	if err := cfg.validate("debug_traceTransaction"); err != nil {
		return nil, err
	}
	_, receipt, ok := api.b.GetTransaction([32]byte(hash))
	if !ok {
		return nil, rpcerr.New("transaction not found")
	}
	return &structLogResult{
		Gas:         receipt.GasUsed,
		Failed:      !receipt.Succeeded(),
		ReturnValue: hexutil.Encode(receipt.Output),
		StructLogs:  []interface{}{},
	}, nil
}

// TraceCall executes the request without committing and returns the
// default-tracer result.
func (api *DebugAPI) TraceCall(ctx context.Context, args TransactionArgs, blockNr *rpc.BlockNumber, cfg *TraceConfig) (interface{}, error) {
	if err := cfg.validate("debug_traceCall"); err != nil {
		return nil, err
	}
	outcome, frame, err := api.b.CallWithTracing(ctx, args.callRequest(), nil)
	if err != nil {
		return nil, rpcerr.Shape(err)
	}
	return &structLogResult{
		Gas:         frame.GasUsed,
		Failed:      outcome.Kind != evmexec.OutcomeSuccess,
		ReturnValue: hexutil.Encode(outcome.Output),
		StructLogs:  []interface{}{},
	}, nil
}

// TraceAPI serves the parity-style trace_* namespace.
type TraceAPI struct {
	b *backend.Backend
}

func NewTraceAPI(b *backend.Backend) *TraceAPI { return &TraceAPI{b: b} }

// parityTrace is one flattened trace entry.
type parityTrace struct {
	Action              map[string]interface{} `json:"action"`
	Result              map[string]interface{} `json:"result,omitempty"`
	Error               string                 `json:"error,omitempty"`
	Subtraces           int                    `json:"subtraces"`
	TraceAddress        []int                  `json:"traceAddress"`
	TransactionHash     common.Hash            `json:"transactionHash"`
	TransactionPosition uint                   `json:"transactionPosition"`
	BlockNumber         uint64                 `json:"blockNumber"`
	BlockHash           common.Hash            `json:"blockHash"`
	Type                string                 `json:"type"`
}

func traceFromReceipt(tx *ctypes.Transaction, receipt *ctypes.Receipt) *parityTrace {
	action := map[string]interface{}{
		"from":  receipt.From,
		"gas":   hexutil.Uint64(tx.GasLimit),
		"value": (*hexutil.Big)(tx.Value.ToBig()),
		"input": hexutil.Bytes(tx.Data),
	}
	typ := "call"
	if tx.Kind == ctypes.KindCreate {
		typ = "create"
	} else {
		action["to"] = *tx.To
	}
	out := &parityTrace{
		Action:              action,
		TraceAddress:        []int{},
		TransactionHash:     common.Hash(receipt.TxHash),
		TransactionPosition: receipt.TxIndex,
		BlockNumber:         receipt.BlockNumber,
		BlockHash:           common.Hash(receipt.BlockHash),
		Type:                typ,
	}
	if receipt.Succeeded() {
		out.Result = map[string]interface{}{
			"gasUsed": hexutil.Uint64(receipt.GasUsed),
			"output":  hexutil.Bytes(receipt.Output),
		}
		if receipt.ContractAddress != nil {
			out.Result["address"] = *receipt.ContractAddress
		}
	} else {
		out.Error = "Reverted"
	}
	return out
}

// Transaction returns the flattened trace of one mined transaction.
func (api *TraceAPI) Transaction(ctx context.Context, hash common.Hash) ([]*parityTrace, error) {
	tx, receipt, ok := api.b.GetTransaction([32]byte(hash))
	if !ok {
		return nil, rpcerr.New("transaction not found")
	}
	return []*parityTrace{traceFromReceipt(tx, receipt)}, nil
}

// Block returns the flattened traces of every transaction in a block.
func (api *TraceAPI) Block(ctx context.Context, blockNr rpc.BlockNumber) ([]*parityTrace, error) {
	block, ok := api.b.GetBlockByNumber(api.b.ResolveBlockNumber(blockTag(&blockNr)))
	if !ok {
		return nil, rpcerr.BlockNotFound()
	}
	out := make([]*parityTrace, 0, len(block.Txs))
	for i, tx := range block.Txs {
		out = append(out, traceFromReceipt(tx, block.Receipts[i]))
	}
	return out, nil
}
