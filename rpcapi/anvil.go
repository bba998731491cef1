package rpcapi

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/shuttlelabs/shuttle/backend"
	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/miner"
	"github.com/shuttlelabs/shuttle/params/forks"
	"github.com/shuttlelabs/shuttle/rpcerr"
	"github.com/shuttlelabs/shuttle/types"
)

// AnvilAPI serves the cheat methods. Registering the same service under
// both the anvil and hardhat namespaces yields the familiar alias pairs
// (anvil_impersonateAccount / hardhat_impersonateAccount, ...).
type AnvilAPI struct {
	b *backend.Backend
}

func NewAnvilAPI(b *backend.Backend) *AnvilAPI { return &AnvilAPI{b: b} }

// ImpersonateAccount lets addr send transactions without a key.
func (api *AnvilAPI) ImpersonateAccount(addr types.Address) {
	api.b.Cheats().Impersonate(addr)
}

// StopImpersonatingAccount undoes ImpersonateAccount.
func (api *AnvilAPI) StopImpersonatingAccount(addr types.Address) {
	api.b.Cheats().StopImpersonating(addr)
}

// AutoImpersonateAccount treats every sender as impersonated while
// enabled.
func (api *AnvilAPI) AutoImpersonateAccount(enabled bool) {
	api.b.Cheats().SetAutoImpersonate(enabled)
}

// GetAutomine reports whether the miner runs in automatic mode.
func (api *AnvilAPI) GetAutomine() bool {
	return api.b.Miner().Mode().Kind == miner.ModeAuto
}

// Mine produces the given number of blocks (default one), spacing
// timestamps by interval seconds.
func (api *AnvilAPI) Mine(ctx context.Context, blocks, interval *hexutil.Uint64) error {
	count := uint64(1)
	if blocks != nil {
		count = uint64(*blocks)
	}
	var ivl *uint64
	if interval != nil {
		v := uint64(*interval)
		ivl = &v
	}
	_, err := api.b.Mine(ctx, count, ivl)
	return rpcerr.Shape(err)
}

// Mine_detailed mines like evm_mine but returns the produced blocks with
// full transactions, including per-transaction revert reason and output
// as auxiliary fields.
func (api *AnvilAPI) Mine_detailed(ctx context.Context, opts *EvmMineOptions) ([]map[string]interface{}, error) {
	blocks, err := api.mineWithOptions(ctx, opts)
	if err != nil {
		return nil, rpcerr.Shape(err)
	}
	out := make([]map[string]interface{}, 0, len(blocks))
	for _, block := range blocks {
		marshalled := marshalBlock(block, true)
		txs := marshalled["transactions"].([]map[string]interface{})
		for i, receipt := range block.Receipts {
			if receipt.RevertReason != "" {
				txs[i]["revertReason"] = receipt.RevertReason
			}
			if len(receipt.Output) > 0 {
				txs[i]["output"] = hexutil.Bytes(receipt.Output)
			}
		}
		out = append(out, marshalled)
	}
	return out, nil
}

func (api *AnvilAPI) mineWithOptions(ctx context.Context, opts *EvmMineOptions) ([]*ctypes.Block, error) {
	count := uint64(1)
	var ts *uint64
	if opts != nil {
		if opts.Blocks != nil {
			count = *opts.Blocks
		}
		ts = opts.Timestamp
	}
	return api.b.MineWithTimestamp(ctx, ts, count)
}

// DropTransaction removes a pooled transaction, returning its hash when
// it existed.
func (api *AnvilAPI) DropTransaction(hash common.Hash) *common.Hash {
	if ptx := api.b.Pool().Drop([32]byte(hash)); ptx != nil {
		h := hash
		return &h
	}
	return nil
}

// Reset rewinds to a fresh genesis, optionally retargeting the fork.
func (api *AnvilAPI) Reset(ctx context.Context, forking *Forking) error {
	url, block := "", uint64(0)
	if forking != nil {
		url, block = forking.JSONRPCURL, forking.BlockNumber
	}
	return rpcerr.Shape(api.b.Reset(ctx, url, block))
}

// SetRpcUrl swaps the fork endpoint in place.
func (api *AnvilAPI) SetRpcUrl(ctx context.Context, url string) error {
	return rpcerr.Shape(api.b.SetRpcUrl(ctx, url))
}

// SetBalance overrides an account balance.
func (api *AnvilAPI) SetBalance(addr types.Address, balance *hexutil.Big) error {
	return rpcerr.Shape(api.b.SetBalance(addr, uint256.MustFromBig(balance.ToInt())))
}

// SetCode overrides an account's code.
func (api *AnvilAPI) SetCode(addr types.Address, code hexutil.Bytes) error {
	return rpcerr.Shape(api.b.SetCode(addr, code))
}

// SetNonce overrides an account nonce.
func (api *AnvilAPI) SetNonce(addr types.Address, nonce hexutil.Uint64) error {
	return rpcerr.Shape(api.b.SetNonce(addr, uint64(nonce)))
}

// SetStorageAt overrides one storage slot.
func (api *AnvilAPI) SetStorageAt(addr types.Address, slot, value common.Hash) (bool, error) {
	if err := api.b.SetStorageAt(addr, [32]byte(slot), [32]byte(value)); err != nil {
		return false, rpcerr.Shape(err)
	}
	return true, nil
}

// SetCoinbase changes the block reward recipient.
func (api *AnvilAPI) SetCoinbase(addr types.Address) {
	api.b.SetCoinbase(addr)
}

// SetLoggingEnabled sets the cheat controller's logging flag.
func (api *AnvilAPI) SetLoggingEnabled(enabled bool) {
	api.b.Cheats().SetLoggingEnabled(enabled)
}

// SetMinGasPrice changes the pre-validation gas price floor.
func (api *AnvilAPI) SetMinGasPrice(price *hexutil.Big) {
	api.b.SetMinGasPrice(uint256.MustFromBig(price.ToInt()))
}

// SetBlock re-labels the chain tip at the given height.
func (api *AnvilAPI) SetBlock(n hexutil.Uint64) {
	api.b.SetBlockNumber(uint64(n))
}

// SetBlockTimestampInterval spaces every future block timestamp by the
// given seconds.
func (api *AnvilAPI) SetBlockTimestampInterval(seconds uint64) {
	api.b.Clock().SetBlockTimestampInterval(seconds)
}

// RemoveBlockTimestampInterval undoes SetBlockTimestampInterval,
// reporting whether an interval was active.
func (api *AnvilAPI) RemoveBlockTimestampInterval() bool {
	return api.b.Clock().RemoveBlockTimestampInterval()
}

// DumpState serializes the world state into the stable envelope.
func (api *AnvilAPI) DumpState() (hexutil.Bytes, error) {
	blob, err := api.b.DumpState()
	if err != nil {
		return nil, rpcerr.Shape(err)
	}
	return blob, nil
}

// LoadState merges a dumped envelope over the current state.
func (api *AnvilAPI) LoadState(blob hexutil.Bytes) (bool, error) {
	ok, err := api.b.LoadState(blob)
	if err != nil {
		return false, rpcerr.Shape(err)
	}
	return ok, nil
}

// NodeInfo reports the engine's identity and settings.
func (api *AnvilAPI) NodeInfo() NodeInfo {
	head := api.b.BestHeader()
	info := NodeInfo{
		CurrentBlockNumber:    hexutil.Uint64(head.Number),
		CurrentBlockTimestamp: uint64(head.Timestamp),
		CurrentBlockHash:      common.Hash(head.Hash),
		HardFork:              forks.Latest.String(),
		InstanceID:            api.b.InstanceID().String(),
		Environment: NodeEnv{
			ChainID:   hexutil.Uint64(api.b.ChainID()),
			GasLimit:  hexutil.Uint64(api.b.BlockGasLimit()),
			GasPrice:  (*hexutil.Big)(api.b.GasPriceFloor().ToBig()),
			Coinbase:  api.b.Coinbase(),
			StartTime: uint64(api.b.StartTime().Unix()),
		},
	}
	if fc := api.b.ForkClient(); fc != nil {
		info.ForkConfig = &Forking{JSONRPCURL: fc.URL(), BlockNumber: fc.Pin()}
	}
	return info
}

// EnableTraces is reserved.
func (api *AnvilAPI) EnableTraces() error {
	return rpcerr.Unimplemented("anvil_enableTraces")
}

// EvmAPI serves the evm_* namespace.
type EvmAPI struct {
	b *backend.Backend
}

func NewEvmAPI(b *backend.Backend) *EvmAPI { return &EvmAPI{b: b} }

// SetAutomine switches between automatic and manual mining.
func (api *EvmAPI) SetAutomine(enabled bool) {
	if enabled {
		api.b.Miner().SetMode(miner.Mode{Kind: miner.ModeAuto})
	} else {
		api.b.Miner().SetMode(miner.Mode{Kind: miner.ModeNone})
	}
}

// SetIntervalMining mines every seconds regardless of pool contents;
// zero disables automatic mining.
func (api *EvmAPI) SetIntervalMining(seconds uint64) {
	if seconds == 0 {
		api.b.Miner().SetMode(miner.Mode{Kind: miner.ModeNone})
		return
	}
	api.b.Miner().SetMode(miner.Mode{
		Kind:     miner.ModeInterval,
		Interval: time.Duration(seconds) * time.Second,
	})
}

// Snapshot captures the whole engine state.
func (api *EvmAPI) Snapshot() hexutil.Uint64 {
	return hexutil.Uint64(api.b.Snapshot())
}

// Revert restores a snapshot, reporting whether the id existed.
func (api *EvmAPI) Revert(id hexutil.Uint64) bool {
	return api.b.RevertSnapshot(uint64(id))
}

// IncreaseTime shifts logical time forward, returning the total offset
// in seconds.
func (api *EvmAPI) IncreaseTime(seconds hexutil.Uint64) int64 {
	return api.b.Clock().IncreaseTime(time.Duration(seconds) * time.Second)
}

// SetTime pins logical time, returning the seconds jumped.
func (api *EvmAPI) SetTime(timestamp hexutil.Uint64) int64 {
	return api.b.Clock().SetTime(int64(timestamp))
}

// SetNextBlockTimestamp fixes the next block's timestamp only.
func (api *EvmAPI) SetNextBlockTimestamp(timestamp hexutil.Uint64) {
	api.b.Clock().SetNextBlockTimestamp(int64(timestamp))
}

// SetBlockGasLimit changes the per-block gas cap.
func (api *EvmAPI) SetBlockGasLimit(limit hexutil.Uint64) bool {
	api.b.SetBlockGasLimit(uint64(limit))
	return true
}

// SetAccountNonce aliases anvil_setNonce.
func (api *EvmAPI) SetAccountNonce(addr types.Address, nonce hexutil.Uint64) error {
	return rpcerr.Shape(api.b.SetNonce(addr, uint64(nonce)))
}

// Mine produces one block (or per opts) and returns "0x0" like the
// reference implementations.
func (api *EvmAPI) Mine(ctx context.Context, opts *EvmMineOptions) (string, error) {
	count := uint64(1)
	var ts *uint64
	if opts != nil {
		if opts.Blocks != nil {
			count = *opts.Blocks
		}
		ts = opts.Timestamp
	}
	if _, err := api.b.MineWithTimestamp(ctx, ts, count); err != nil {
		return "", rpcerr.Shape(err)
	}
	return "0x0", nil
}
