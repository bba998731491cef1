// Package rpcapi exposes the node engine over JSON-RPC: one service
// struct per namespace, registered with go-ethereum/rpc which handles
// wire framing, method reflection and parameter decoding. This file
// holds the JSON argument and result shapes and their conversions to the engine's typed forms.
package rpcapi

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/shuttlelabs/shuttle/backend"
	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/eth/filters"
	"github.com/shuttlelabs/shuttle/evmexec"
	"github.com/shuttlelabs/shuttle/types"
)

// TransactionArgs mirrors the request object of eth_sendTransaction /
// eth_call / eth_estimateGas.
type TransactionArgs struct {
	From     *types.Address  `json:"from"`
	To       *types.Address  `json:"to"`
	Gas      *hexutil.Uint64 `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Nonce    *hexutil.Uint64 `json:"nonce"`
	Data     *hexutil.Bytes  `json:"data"`
	Input    *hexutil.Bytes  `json:"input"`
}

func (a *TransactionArgs) data() []byte {
	if a.Input != nil {
		return *a.Input
	}
	if a.Data != nil {
		return *a.Data
	}
	return nil
}

func (a *TransactionArgs) sendArgs() (backend.SendTxArgs, error) {
	if a.From == nil {
		return backend.SendTxArgs{}, errors.New("missing 'from' field")
	}
	out := backend.SendTxArgs{
		From: *a.From,
		To:   a.To,
		Data: a.data(),
	}
	if a.Gas != nil {
		g := uint64(*a.Gas)
		out.Gas = &g
	}
	if a.GasPrice != nil {
		out.GasPrice = uint256.MustFromBig(a.GasPrice.ToInt())
	}
	if a.Value != nil {
		out.Value = uint256.MustFromBig(a.Value.ToInt())
	}
	if a.Nonce != nil {
		n := uint64(*a.Nonce)
		out.Nonce = &n
	}
	return out, nil
}

func (a *TransactionArgs) callRequest() evmexec.CallRequest {
	out := evmexec.CallRequest{
		From: a.From,
		To:   a.To,
		Data: a.data(),
	}
	if a.Gas != nil {
		g := uint64(*a.Gas)
		out.Gas = &g
	}
	if a.GasPrice != nil {
		out.GasPrice = uint256.MustFromBig(a.GasPrice.ToInt())
	}
	if a.Value != nil {
		out.Value = uint256.MustFromBig(a.Value.ToInt())
	}
	return out
}

// OverrideAccount and StateOverride mirror the optional third parameter
// of eth_call.
type OverrideAccount struct {
	Balance   *hexutil.Big                `json:"balance"`
	Nonce     *hexutil.Uint64             `json:"nonce"`
	Code      *hexutil.Bytes              `json:"code"`
	State     map[common.Hash]common.Hash `json:"state"`
	StateDiff map[common.Hash]common.Hash `json:"stateDiff"`
}

type StateOverride map[types.Address]OverrideAccount

func (so StateOverride) toExec() evmexec.StateOverride {
	if len(so) == 0 {
		return nil
	}
	out := make(evmexec.StateOverride, len(so))
	for addr, o := range so {
		eo := evmexec.OverrideAccount{}
		if o.Balance != nil {
			eo.Balance = uint256.MustFromBig(o.Balance.ToInt())
		}
		if o.Nonce != nil {
			n := uint64(*o.Nonce)
			eo.Nonce = &n
		}
		if o.Code != nil {
			eo.Code = *o.Code
		}
		if o.State != nil {
			eo.State = hashMap(o.State)
		}
		if o.StateDiff != nil {
			eo.StateDiff = hashMap(o.StateDiff)
		}
		out[addr] = eo
	}
	return out
}

func hashMap(in map[common.Hash]common.Hash) map[[32]byte][32]byte {
	out := make(map[[32]byte][32]byte, len(in))
	for k, v := range in {
		out[[32]byte(k)] = [32]byte(v)
	}
	return out
}

// blockTag converts an rpc block-number tag into the engine's optional
// height (nil = latest; "earliest" = 0).
func blockTag(n *rpc.BlockNumber) *uint64 {
	if n == nil {
		return nil
	}
	switch *n {
	case rpc.LatestBlockNumber, rpc.PendingBlockNumber, rpc.SafeBlockNumber, rpc.FinalizedBlockNumber:
		return nil
	case rpc.EarliestBlockNumber:
		zero := uint64(0)
		return &zero
	default:
		v := uint64(n.Int64())
		return &v
	}
}

// FilterCriteria is the JSON filter object of eth_newFilter /
// eth_getLogs. Address accepts a single address or an array; each topic
// position accepts null, a single topic or an array of alternatives.
type FilterCriteria struct {
	FromBlock *rpc.BlockNumber
	ToBlock   *rpc.BlockNumber
	Addresses []types.Address
	Topics    [][][32]byte
	BlockHash *common.Hash
}

func (c *FilterCriteria) UnmarshalJSON(data []byte) error {
	var raw struct {
		FromBlock *rpc.BlockNumber `json:"fromBlock"`
		ToBlock   *rpc.BlockNumber `json:"toBlock"`
		Address   interface{}      `json:"address"`
		Topics    []interface{}    `json:"topics"`
		BlockHash *common.Hash     `json:"blockHash"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.FromBlock = raw.FromBlock
	c.ToBlock = raw.ToBlock
	c.BlockHash = raw.BlockHash

	switch addr := raw.Address.(type) {
	case nil:
	case string:
		var a types.Address
		if err := a.UnmarshalText([]byte(addr)); err != nil {
			return fmt.Errorf("invalid address: %w", err)
		}
		c.Addresses = []types.Address{a}
	case []interface{}:
		for _, item := range addr {
			s, ok := item.(string)
			if !ok {
				return errors.New("invalid address array entry")
			}
			var a types.Address
			if err := a.UnmarshalText([]byte(s)); err != nil {
				return fmt.Errorf("invalid address: %w", err)
			}
			c.Addresses = append(c.Addresses, a)
		}
	default:
		return errors.New("invalid address field")
	}

	for _, position := range raw.Topics {
		switch topic := position.(type) {
		case nil:
			c.Topics = append(c.Topics, nil)
		case string:
			h, err := parseTopic(topic)
			if err != nil {
				return err
			}
			c.Topics = append(c.Topics, [][32]byte{h})
		case []interface{}:
			var alternatives [][32]byte
			for _, alt := range topic {
				s, ok := alt.(string)
				if !ok {
					return errors.New("invalid topic array entry")
				}
				h, err := parseTopic(s)
				if err != nil {
					return err
				}
				alternatives = append(alternatives, h)
			}
			c.Topics = append(c.Topics, alternatives)
		default:
			return errors.New("invalid topic field")
		}
	}
	return nil
}

// parseSlot decodes a storage key, tolerating short hex quantities by
// left-padding to the slot width.
func parseSlot(s string) ([32]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(trimmed)%2 == 1 {
		trimmed = "0" + trimmed
	}
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return [32]byte{}, err
	}
	if len(b) > 32 {
		return [32]byte{}, fmt.Errorf("slot %q exceeds 32 bytes", s)
	}
	var out [32]byte
	copy(out[32-len(b):], b)
	return out, nil
}

func parseTopic(s string) ([32]byte, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != 32 {
		return [32]byte{}, fmt.Errorf("invalid topic %q", s)
	}
	var h [32]byte
	copy(h[:], b)
	return h, nil
}

// toEngine resolves the rpc tags into concrete heights for the filter
// registry.
func (c *FilterCriteria) toEngine(best uint64) filters.Criteria {
	out := filters.Criteria{
		Addresses: c.Addresses,
		Topics:    c.Topics,
	}
	if c.BlockHash != nil {
		h := [32]byte(*c.BlockHash)
		out.BlockHash = &h
	}
	if t := blockTag(c.FromBlock); t != nil {
		out.FromBlock = t
	} else if c.FromBlock != nil {
		out.FromBlock = &best
	}
	if t := blockTag(c.ToBlock); t != nil {
		out.ToBlock = t
	}
	return out
}

// EvmMineOptions is the polymorphic parameter of evm_mine /
// anvil_mine_detailed: either a bare timestamp or an options object.
type EvmMineOptions struct {
	Timestamp *uint64
	Blocks    *uint64
}

func (o *EvmMineOptions) UnmarshalJSON(data []byte) error {
	var ts hexutil.Uint64
	if err := json.Unmarshal(data, &ts); err == nil {
		v := uint64(ts)
		o.Timestamp = &v
		return nil
	}
	var plain uint64
	if err := json.Unmarshal(data, &plain); err == nil {
		o.Timestamp = &plain
		return nil
	}
	var obj struct {
		Timestamp *uint64 `json:"timestamp"`
		Blocks    *uint64 `json:"blocks"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.New("invalid mine options")
	}
	o.Timestamp = obj.Timestamp
	o.Blocks = obj.Blocks
	return nil
}

// Forking is the optional parameter of anvil_reset.
type Forking struct {
	JSONRPCURL  string `json:"jsonRpcUrl"`
	BlockNumber uint64 `json:"blockNumber"`
}

// NodeInfo is the anvil_nodeInfo response shape.
type NodeInfo struct {
	CurrentBlockNumber    hexutil.Uint64 `json:"currentBlockNumber"`
	CurrentBlockTimestamp uint64         `json:"currentBlockTimestamp"`
	CurrentBlockHash      common.Hash    `json:"currentBlockHash"`
	HardFork              string         `json:"hardFork"`
	InstanceID            string         `json:"instanceId"`
	ForkConfig            *Forking       `json:"forkConfig,omitempty"`
	Environment           NodeEnv        `json:"environment"`
}

// NodeEnv carries the engine settings inside NodeInfo.
type NodeEnv struct {
	ChainID   hexutil.Uint64 `json:"chainId"`
	GasLimit  hexutil.Uint64 `json:"gasLimit"`
	GasPrice  *hexutil.Big   `json:"gasPrice"`
	BaseFee   *hexutil.Big   `json:"baseFee"`
	Coinbase  types.Address  `json:"coinbase"`
	StartTime uint64         `json:"startTime"`
}

// Result marshalling.

func marshalLog(l *ctypes.Log) map[string]interface{} {
	topics := make([]common.Hash, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = common.Hash(t)
	}
	return map[string]interface{}{
		"address":          l.Address,
		"topics":           topics,
		"data":             hexutil.Bytes(l.Data),
		"blockNumber":      hexutil.Uint64(l.BlockNumber),
		"transactionHash":  common.Hash(l.TxHash),
		"transactionIndex": hexutil.Uint64(l.TxIndex),
		"blockHash":        common.Hash(l.BlockHash),
		"logIndex":         hexutil.Uint64(l.Index),
		"removed":          l.Removed,
	}
}

func marshalLogs(logs []*ctypes.Log) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(logs))
	for _, l := range logs {
		out = append(out, marshalLog(l))
	}
	return out
}

func marshalTx(tx *ctypes.Transaction, receipt *ctypes.Receipt, sender *types.Address) map[string]interface{} {
	if sender == nil && receipt != nil {
		sender = &receipt.From
	}
	hash, _ := tx.Hash()
	out := map[string]interface{}{
		"hash":     common.Hash(hash),
		"nonce":    hexutil.Uint64(tx.Nonce),
		"gasPrice": (*hexutil.Big)(tx.GasPrice.ToBig()),
		"gas":      hexutil.Uint64(tx.GasLimit),
		"value":    (*hexutil.Big)(tx.Value.ToBig()),
		"input":    hexutil.Bytes(tx.Data),
		"type":     hexutil.Uint64(0),
	}
	if tx.To != nil {
		out["to"] = *tx.To
	} else {
		out["to"] = nil
	}
	if sender != nil {
		out["from"] = *sender
	}
	if tx.Sig != nil {
		out["v"] = (*hexutil.Big)(new(uint256.Int).SetUint64(tx.Sig.V).ToBig())
		out["r"] = (*hexutil.Big)(new(uint256.Int).SetBytes(tx.Sig.R[:]).ToBig())
		out["s"] = (*hexutil.Big)(new(uint256.Int).SetBytes(tx.Sig.S[:]).ToBig())
	}
	if receipt != nil {
		out["blockHash"] = common.Hash(receipt.BlockHash)
		out["blockNumber"] = hexutil.Uint64(receipt.BlockNumber)
		out["transactionIndex"] = hexutil.Uint64(receipt.TxIndex)
	} else {
		out["blockHash"] = nil
		out["blockNumber"] = nil
		out["transactionIndex"] = nil
	}
	return out
}

func marshalReceipt(receipt *ctypes.Receipt, tx *ctypes.Transaction, sender *types.Address) map[string]interface{} {
	out := map[string]interface{}{
		"transactionHash":   common.Hash(receipt.TxHash),
		"transactionIndex":  hexutil.Uint64(receipt.TxIndex),
		"blockHash":         common.Hash(receipt.BlockHash),
		"blockNumber":       hexutil.Uint64(receipt.BlockNumber),
		"cumulativeGasUsed": hexutil.Uint64(receipt.CumulativeGasUsed),
		"gasUsed":           hexutil.Uint64(receipt.GasUsed),
		"logs":              marshalLogs(receipt.Logs),
		"status":            hexutil.Uint64(receipt.Status),
		"logsBloom":         hexutil.Bytes(make([]byte, 256)),
		"type":              hexutil.Uint64(0),
	}
	if receipt.ContractAddress != nil {
		out["contractAddress"] = *receipt.ContractAddress
	} else {
		out["contractAddress"] = nil
	}
	if tx != nil {
		if tx.To != nil {
			out["to"] = *tx.To
		} else {
			out["to"] = nil
		}
	}
	if sender != nil {
		out["from"] = *sender
	}
	if receipt.RevertReason != "" {
		out["revertReason"] = receipt.RevertReason
	}
	return out
}

func marshalHeader(h *ctypes.Header) map[string]interface{} {
	return map[string]interface{}{
		"number":           hexutil.Uint64(h.Number),
		"hash":             common.Hash(h.Hash),
		"parentHash":       common.Hash(h.ParentHash),
		"timestamp":        hexutil.Uint64(h.Timestamp),
		"gasLimit":         hexutil.Uint64(h.GasLimit),
		"gasUsed":          hexutil.Uint64(h.GasUsed),
		"miner":            h.Miner,
		"stateRoot":        common.Hash(h.StateRoot),
		"transactionsRoot": common.Hash(h.TxRoot),
		"receiptsRoot":     common.Hash(h.ReceiptRoot),
		"difficulty":       (*hexutil.Big)(new(uint256.Int).ToBig()),
		"totalDifficulty":  (*hexutil.Big)(new(uint256.Int).ToBig()),
		"extraData":        hexutil.Bytes{},
		"logsBloom":        hexutil.Bytes(make([]byte, 256)),
		"mixHash":          common.Hash{},
		"nonce":            hexutil.Bytes(make([]byte, 8)),
		"sha3Uncles":       common.Hash{},
		"uncles":           []common.Hash{},
		"size":             hexutil.Uint64(0),
	}
}

func marshalBlock(block *ctypes.Block, fullTx bool) map[string]interface{} {
	out := marshalHeader(block.Header)
	if fullTx {
		txs := make([]map[string]interface{}, 0, len(block.Txs))
		for i, tx := range block.Txs {
			txs = append(txs, marshalTx(tx, block.Receipts[i], nil))
		}
		out["transactions"] = txs
	} else {
		hashes := make([]common.Hash, 0, len(block.Txs))
		for _, tx := range block.Txs {
			hash, _ := tx.Hash()
			hashes = append(hashes, common.Hash(hash))
		}
		out["transactions"] = hashes
	}
	return out
}
