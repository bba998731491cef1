package rpcapi

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/shuttlelabs/shuttle/backend"
	"github.com/shuttlelabs/shuttle/rpcerr"
	"github.com/shuttlelabs/shuttle/types"
)

// EthereumAPI serves the eth_* namespace.
type EthereumAPI struct {
	b *backend.Backend
}

func NewEthereumAPI(b *backend.Backend) *EthereumAPI {
	return &EthereumAPI{b: b}
}

// ChainId returns the EIP-155 replay domain.
func (api *EthereumAPI) ChainId() hexutil.Uint64 {
	return hexutil.Uint64(api.b.ChainID())
}

// NetworkId serves eth_networkId; net_version aliases it.
func (api *EthereumAPI) NetworkId() hexutil.Uint64 {
	return hexutil.Uint64(api.b.ChainID())
}

// Syncing always reports false: the node is its own chain tip.
func (api *EthereumAPI) Syncing() bool { return false }

// Coinbase returns the block reward recipient.
func (api *EthereumAPI) Coinbase() types.Address { return api.b.Coinbase() }

// Accounts lists the unlocked dev accounts.
func (api *EthereumAPI) Accounts() []types.Address { return api.b.Signer().Accounts() }

// BlockNumber returns the chain tip height.
func (api *EthereumAPI) BlockNumber() hexutil.Uint64 {
	return hexutil.Uint64(api.b.BestBlockNumber())
}

// GasPrice returns the configured gas price floor.
func (api *EthereumAPI) GasPrice() *hexutil.Big {
	return (*hexutil.Big)(api.b.GasPriceFloor().ToBig())
}

// GetBalance returns the balance at the given block tag, delegating
// pre-fork heights to the remote.
func (api *EthereumAPI) GetBalance(ctx context.Context, addr types.Address, blockNr *rpc.BlockNumber) (*hexutil.Big, error) {
	balance, err := api.b.BalanceAt(ctx, addr, blockTag(blockNr))
	if err != nil {
		return nil, rpcerr.Shape(err)
	}
	return (*hexutil.Big)(balance.ToBig()), nil
}

// GetTransactionCount returns the nonce at the given block tag.
func (api *EthereumAPI) GetTransactionCount(ctx context.Context, addr types.Address, blockNr *rpc.BlockNumber) (hexutil.Uint64, error) {
	nonce, err := api.b.NonceAt(ctx, addr, blockTag(blockNr))
	if err != nil {
		return 0, rpcerr.Shape(err)
	}
	return hexutil.Uint64(nonce), nil
}

// GetCode returns the account code at the given block tag.
func (api *EthereumAPI) GetCode(ctx context.Context, addr types.Address, blockNr *rpc.BlockNumber) (hexutil.Bytes, error) {
	code, err := api.b.CodeAt(ctx, addr, blockTag(blockNr))
	if err != nil {
		return nil, rpcerr.Shape(err)
	}
	return code, nil
}

// GetStorageAt returns one storage slot at the given block tag. The
// slot accepts any hex quantity, padded to 32 bytes.
func (api *EthereumAPI) GetStorageAt(ctx context.Context, addr types.Address, slot string, blockNr *rpc.BlockNumber) (hexutil.Bytes, error) {
	key, err := parseSlot(slot)
	if err != nil {
		return nil, rpcerr.InvalidParams("invalid storage slot: %v", err)
	}
	value, err := api.b.StorageAt(ctx, addr, key, blockTag(blockNr))
	if err != nil {
		return nil, rpcerr.Shape(err)
	}
	return value[:], nil
}

// GetProof returns an account inclusion proof; heights at or below the
// fork pin pass the remote proof through verbatim.
func (api *EthereumAPI) GetProof(ctx context.Context, addr types.Address, storageKeys []string, blockNr *rpc.BlockNumber) (interface{}, error) {
	num := api.b.ResolveBlockNumber(blockTag(blockNr))
	if api.b.PredatesForkInclusive(num) {
		raw, err := api.b.ForkClient().ProofAt(ctx, addr, storageKeys, num)
		if err != nil {
			return nil, rpcerr.Shape(err)
		}
		return raw, nil
	}
	keys := make([][32]byte, 0, len(storageKeys))
	for _, s := range storageKeys {
		k, err := parseTopic(s)
		if err != nil {
			return nil, rpcerr.InvalidParams("invalid storage key: %v", err)
		}
		keys = append(keys, k)
	}
	proof, err := api.b.ProveAccount(addr, keys)
	if err != nil {
		return nil, rpcerr.Shape(err)
	}
	return proof, nil
}

// GetBlockByNumber returns the block at the given height, with full
// transaction objects when fullTx is set.
func (api *EthereumAPI) GetBlockByNumber(ctx context.Context, blockNr rpc.BlockNumber, fullTx bool) (interface{}, error) {
	num := api.b.ResolveBlockNumber(blockTag(&blockNr))
	if api.b.PredatesFork(num) {
		raw, err := api.b.ForkClient().BlockByNumber(ctx, num, fullTx)
		if err != nil {
			return nil, rpcerr.Shape(err)
		}
		return raw, nil
	}
	block, ok := api.b.GetBlockByNumber(num)
	if !ok {
		return nil, nil
	}
	return marshalBlock(block, fullTx), nil
}

// GetBlockByHash returns the block with the given hash.
func (api *EthereumAPI) GetBlockByHash(ctx context.Context, hash common.Hash, fullTx bool) (interface{}, error) {
	if block, ok := api.b.GetBlockByHash([32]byte(hash)); ok {
		return marshalBlock(block, fullTx), nil
	}
	if fc := api.b.ForkClient(); fc != nil {
		raw, err := fc.BlockByHash(ctx, [32]byte(hash), fullTx)
		if err != nil {
			return nil, rpcerr.Shape(err)
		}
		return raw, nil
	}
	return nil, nil
}

// GetBlockTransactionCountByHash returns the transaction count of the
// block with the given hash.
func (api *EthereumAPI) GetBlockTransactionCountByHash(ctx context.Context, hash common.Hash) (*hexutil.Uint64, error) {
	block, ok := api.b.GetBlockByHash([32]byte(hash))
	if !ok {
		return nil, nil
	}
	n := hexutil.Uint64(len(block.Txs))
	return &n, nil
}

// GetBlockTransactionCountByNumber returns the transaction count at the
// given height.
func (api *EthereumAPI) GetBlockTransactionCountByNumber(ctx context.Context, blockNr rpc.BlockNumber) (*hexutil.Uint64, error) {
	block, ok := api.b.GetBlockByNumber(api.b.ResolveBlockNumber(blockTag(&blockNr)))
	if !ok {
		return nil, nil
	}
	n := hexutil.Uint64(len(block.Txs))
	return &n, nil
}

// GetUncleCountByBlockHash: locally produced blocks never have uncles.
func (api *EthereumAPI) GetUncleCountByBlockHash(ctx context.Context, hash common.Hash) hexutil.Uint64 {
	return 0
}

// GetUncleCountByBlockNumber delegates pre-pin heights to the fork.
func (api *EthereumAPI) GetUncleCountByBlockNumber(ctx context.Context, blockNr rpc.BlockNumber) (hexutil.Uint64, error) {
	num := api.b.ResolveBlockNumber(blockTag(&blockNr))
	if api.b.PredatesForkInclusive(num) {
		count, err := api.b.ForkClient().UncleCountAt(ctx, num)
		if err != nil {
			return 0, rpcerr.Shape(err)
		}
		return hexutil.Uint64(count), nil
	}
	return 0, nil
}

// GetUncleByBlockHashAndIndex is always null outside a fork.
func (api *EthereumAPI) GetUncleByBlockHashAndIndex(ctx context.Context, hash common.Hash, index hexutil.Uint) interface{} {
	return nil
}

// GetUncleByBlockNumberAndIndex is always null outside a fork.
func (api *EthereumAPI) GetUncleByBlockNumberAndIndex(ctx context.Context, blockNr rpc.BlockNumber, index hexutil.Uint) interface{} {
	return nil
}

// GetTransactionByHash looks up mined, then pooled, then remote
// transactions.
func (api *EthereumAPI) GetTransactionByHash(ctx context.Context, hash common.Hash) (interface{}, error) {
	if tx, receipt, ok := api.b.GetTransaction([32]byte(hash)); ok {
		return marshalTx(tx, receipt, nil), nil
	}
	if ptx := api.b.PendingTransaction([32]byte(hash)); ptx != nil {
		return marshalTx(ptx.Pending, nil, &ptx.Sender), nil
	}
	if fc := api.b.ForkClient(); fc != nil {
		raw, err := fc.TransactionByHash(ctx, [32]byte(hash))
		if err != nil {
			return nil, rpcerr.Shape(err)
		}
		return raw, nil
	}
	return nil, nil
}

// GetTransactionByBlockHashAndIndex returns the indexed transaction of a
// local block.
func (api *EthereumAPI) GetTransactionByBlockHashAndIndex(ctx context.Context, hash common.Hash, index hexutil.Uint) interface{} {
	block, ok := api.b.GetBlockByHash([32]byte(hash))
	if !ok || int(index) >= len(block.Txs) {
		return nil
	}
	return marshalTx(block.Txs[index], block.Receipts[index], nil)
}

// GetTransactionByBlockNumberAndIndex returns the indexed transaction at
// a height.
func (api *EthereumAPI) GetTransactionByBlockNumberAndIndex(ctx context.Context, blockNr rpc.BlockNumber, index hexutil.Uint) interface{} {
	block, ok := api.b.GetBlockByNumber(api.b.ResolveBlockNumber(blockTag(&blockNr)))
	if !ok || int(index) >= len(block.Txs) {
		return nil
	}
	return marshalTx(block.Txs[index], block.Receipts[index], nil)
}

// GetTransactionReceipt returns the receipt of a mined transaction.
func (api *EthereumAPI) GetTransactionReceipt(ctx context.Context, hash common.Hash) (interface{}, error) {
	if tx, receipt, ok := api.b.GetTransaction([32]byte(hash)); ok {
		return marshalReceipt(receipt, tx, &receipt.From), nil
	}
	if fc := api.b.ForkClient(); fc != nil {
		raw, err := fc.ReceiptByHash(ctx, [32]byte(hash))
		if err != nil {
			return nil, rpcerr.Shape(err)
		}
		return raw, nil
	}
	return nil, nil
}

// SendTransaction builds, signs and pools a transaction from the node's
// managed or impersonated accounts.
func (api *EthereumAPI) SendTransaction(ctx context.Context, args TransactionArgs) (common.Hash, error) {
	send, err := args.sendArgs()
	if err != nil {
		return common.Hash{}, rpcerr.InvalidParams("%v", err)
	}
	hash, err := api.b.SendTransaction(send)
	if err != nil {
		return common.Hash{}, rpcerr.Shape(err)
	}
	return common.Hash(hash), nil
}

// SendRawTransaction decodes and pools signed RLP bytes.
func (api *EthereumAPI) SendRawTransaction(ctx context.Context, input hexutil.Bytes) (common.Hash, error) {
	hash, err := api.b.SendRawTransaction(input)
	if err != nil {
		return common.Hash{}, rpcerr.Shape(err)
	}
	return common.Hash(hash), nil
}

// SendUnsignedTransaction pools a transaction without signature
// verification.
func (api *EthereumAPI) SendUnsignedTransaction(ctx context.Context, args TransactionArgs) (common.Hash, error) {
	send, err := args.sendArgs()
	if err != nil {
		return common.Hash{}, rpcerr.InvalidParams("%v", err)
	}
	hash, err := api.b.SendUnsignedTransaction(send)
	if err != nil {
		return common.Hash{}, rpcerr.Shape(err)
	}
	return common.Hash(hash), nil
}

// SignTransaction returns the signed RLP encoding without pooling.
func (api *EthereumAPI) SignTransaction(ctx context.Context, args TransactionArgs) (hexutil.Bytes, error) {
	send, err := args.sendArgs()
	if err != nil {
		return nil, rpcerr.InvalidParams("%v", err)
	}
	raw, err := api.b.SignTransaction(send)
	if err != nil {
		return nil, rpcerr.Shape(err)
	}
	return raw, nil
}

// Sign produces an EIP-191 personal signature.
func (api *EthereumAPI) Sign(addr types.Address, data hexutil.Bytes) (hexutil.Bytes, error) {
	sig, err := api.b.Signer().SignMessage(addr, data)
	if err != nil {
		return nil, rpcerr.Shape(err)
	}
	return sig, nil
}

// SignTypedData_v4 signs an EIP-712 v4 payload; v1/v3 are not
// implemented.
func (api *EthereumAPI) SignTypedData_v4(addr types.Address, typed apitypes.TypedData) (hexutil.Bytes, error) {
	sig, err := api.b.Signer().SignTypedData(addr, typed)
	if err != nil {
		return nil, rpcerr.Shape(err)
	}
	return sig, nil
}

// Call executes without committing; pre-fork heights delegate to the
// remote endpoint.
func (api *EthereumAPI) Call(ctx context.Context, args TransactionArgs, blockNr *rpc.BlockNumber, overrides *StateOverride) (hexutil.Bytes, error) {
	num := api.b.ResolveBlockNumber(blockTag(blockNr))
	if api.b.PredatesFork(num) {
		return api.b.ForkClient().CallAt(ctx, args, num)
	}
	var so StateOverride
	if overrides != nil {
		so = *overrides
	}
	outcome, err := api.b.Call(ctx, args.callRequest(), so.toExec())
	if err != nil {
		return nil, rpcerr.Shape(err)
	}
	return shapeCallOutcome(outcome)
}

// EstimateGas runs the binary-search estimator.
func (api *EthereumAPI) EstimateGas(ctx context.Context, args TransactionArgs, blockNr *rpc.BlockNumber) (hexutil.Uint64, error) {
	num := api.b.ResolveBlockNumber(blockTag(blockNr))
	if api.b.PredatesFork(num) {
		gas, err := api.b.ForkClient().EstimateGasAt(ctx, args, num)
		if err != nil {
			return 0, rpcerr.Shape(err)
		}
		return hexutil.Uint64(gas), nil
	}
	gas, err := api.b.EstimateGas(ctx, args.callRequest())
	if err != nil {
		return 0, shapeEstimateError(err)
	}
	return hexutil.Uint64(gas), nil
}

// GetWork is proof-of-work machinery this node does not implement.
func (api *EthereumAPI) GetWork() (interface{}, error) {
	return nil, rpcerr.Unimplemented("eth_getWork")
}

func (api *EthereumAPI) SubmitWork(nonce hexutil.Bytes, hash, digest common.Hash) (bool, error) {
	return false, rpcerr.Unimplemented("eth_submitWork")
}

func (api *EthereumAPI) SubmitHashrate(rate hexutil.Uint64, id common.Hash) (bool, error) {
	return false, rpcerr.Unimplemented("eth_submitHashrate")
}
