package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/shuttlelabs/shuttle/core/state"
	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/evmexec"
	"github.com/shuttlelabs/shuttle/sign"
	"github.com/shuttlelabs/shuttle/types"
)

// ErrNoSignerAvailable is surfaced when eth_sendTransaction names a
// sender the node neither manages nor impersonates.
var ErrNoSignerAvailable = errors.New("no signer available")

// SendTxArgs is the typed form of an eth_sendTransaction request.
type SendTxArgs struct {
	From     types.Address
	To       *types.Address
	Gas      *uint64
	GasPrice *uint256.Int
	Value    *uint256.Int
	Data     []byte
	Nonce    *uint64
}

// buildTransaction fills defaults: next pool-aware nonce, the configured
// gas price floor, the block gas cap, and the node's chain id.
func (b *Backend) buildTransaction(args SendTxArgs) (*ctypes.Transaction, error) {
	tx := &ctypes.Transaction{
		GasPrice: b.MinGasPrice(),
		GasLimit: b.BlockGasLimit(),
		Value:    uint256.NewInt(0),
		Data:     args.Data,
		Kind:     ctypes.KindCreate,
	}
	if args.To != nil {
		tx.Kind = ctypes.KindCall
		tx.To = args.To
	}
	if args.Gas != nil {
		tx.GasLimit = *args.Gas
	}
	if args.GasPrice != nil {
		tx.GasPrice = args.GasPrice
	}
	if args.Value != nil {
		tx.Value = args.Value
	}
	if args.Nonce != nil {
		tx.Nonce = *args.Nonce
	} else {
		onChain, err := b.st.GetNonce(args.From)
		if err != nil {
			return nil, err
		}
		tx.Nonce = b.pool.NextNonce(args.From, onChain)
	}
	chainID := b.ChainID()
	tx.NetworkID = &chainID
	return tx, nil
}

// SendTransaction signs (or bypass-marks) and pools a transaction built
// from args. Impersonated senders get the sentinel signature; otherwise
// a managed key must exist.
func (b *Backend) SendTransaction(args SendTxArgs) ([32]byte, error) {
	tx, err := b.buildTransaction(args)
	if err != nil {
		return [32]byte{}, err
	}
	if b.cheats.IsImpersonated(args.From) {
		sig := ctypes.BypassSignature
		tx.Sig = &sig
	} else if err := b.signer.SignTransaction(tx, args.From); err != nil {
		if errors.Is(err, sign.ErrNoSigner) {
			return [32]byte{}, ErrNoSignerAvailable
		}
		return [32]byte{}, err
	}
	return b.addToPool(tx, args.From)
}

// SendUnsignedTransaction pools a transaction without any signature
// check, as if the sender were impersonated.
func (b *Backend) SendUnsignedTransaction(args SendTxArgs) ([32]byte, error) {
	tx, err := b.buildTransaction(args)
	if err != nil {
		return [32]byte{}, err
	}
	sig := ctypes.BypassSignature
	tx.Sig = &sig
	return b.addToPool(tx, args.From)
}

// SendRawTransaction decodes signed RLP bytes, recovers the sender and
// pools the transaction.
func (b *Backend) SendRawTransaction(raw []byte) ([32]byte, error) {
	if len(raw) == 0 {
		return [32]byte{}, errors.New("empty raw transaction data")
	}
	tx, err := ctypes.DecodeRawTransaction(raw)
	if err != nil {
		return [32]byte{}, err
	}
	if tx.NetworkID != nil && *tx.NetworkID != b.ChainID() {
		return [32]byte{}, fmt.Errorf("%w: wrong chain id %d", ctypes.ErrFailedToDecodeTransaction, *tx.NetworkID)
	}
	sender, err := sign.RecoverSender(tx)
	if err != nil {
		return [32]byte{}, err
	}
	return b.addToPool(tx, sender)
}

// addToPool pre-validates and inserts, deriving the requires/provides
// markers against the current on-chain nonce.
func (b *Backend) addToPool(tx *ctypes.Transaction, sender types.Address) ([32]byte, error) {
	if err := b.exec.Prevalidate(b.st, tx, sender, b.BlockGasLimit(), b.MinGasPrice()); err != nil {
		return [32]byte{}, err
	}
	onChain, err := b.st.GetNonce(sender)
	if err != nil {
		return [32]byte{}, err
	}
	ptx := ctypes.NewPoolTransactionAt(tx, sender, b.pool.NextSeq(), onChain)
	hash, err := b.pool.Add(ptx)
	if err != nil {
		return [32]byte{}, err
	}
	b.logger.Info("transaction pooled", "hash", hash, "from", sender, "nonce", tx.Nonce)
	return hash, nil
}

// SignTransaction builds and signs without pooling, returning the signed
// RLP bytes (eth_signTransaction).
func (b *Backend) SignTransaction(args SendTxArgs) ([]byte, error) {
	tx, err := b.buildTransaction(args)
	if err != nil {
		return nil, err
	}
	if err := b.signer.SignTransaction(tx, args.From); err != nil {
		if errors.Is(err, sign.ErrNoSigner) {
			return nil, ErrNoSignerAvailable
		}
		return nil, err
	}
	return tx.EncodeRLP()
}

// blockEnvAt builds the execution environment for read-only calls
// against the current tip.
func (b *Backend) blockEnvAt() evmexec.BlockEnv {
	head := b.BestHeader()
	return evmexec.BlockEnv{
		Number:    head.Number + 1,
		Timestamp: b.clk.NowUnix(),
		Coinbase:  b.Coinbase(),
		GasLimit:  b.BlockGasLimit(),
	}
}

// Call executes req without committing state (eth_call).
func (b *Backend) Call(ctx context.Context, req evmexec.CallRequest, overrides evmexec.StateOverride) (evmexec.Outcome, error) {
	return b.exec.Call(ctx, b.st, b.blockEnvAt(), req, overrides)
}

// CallWithTracing executes req and returns the trace frame
// (debug_traceCall).
func (b *Backend) CallWithTracing(ctx context.Context, req evmexec.CallRequest, overrides evmexec.StateOverride) (evmexec.Outcome, *evmexec.TraceFrame, error) {
	return b.exec.CallWithTracing(ctx, b.st, b.blockEnvAt(), req, overrides)
}

// EstimateGas runs the binary-search estimator (eth_estimateGas).
func (b *Backend) EstimateGas(ctx context.Context, req evmexec.CallRequest) (uint64, error) {
	return b.exec.EstimateGas(ctx, b.st, b.blockEnvAt(), req)
}

// Mine produces count blocks back to back; a non-nil interval spaces
// their timestamps (anvil_mine).
func (b *Backend) Mine(ctx context.Context, count uint64, interval *uint64) ([]*ctypes.Block, error) {
	if count == 0 {
		count = 1
	}
	blocks := make([]*ctypes.Block, 0, count)
	for i := uint64(0); i < count; i++ {
		if interval != nil && i > 0 {
			b.clk.IncreaseTime(secondsToDuration(*interval))
			if next := blocks[i-1].Header.Timestamp + int64(*interval); b.clk.NowUnix() < next {
				b.clk.SetNextBlockTimestamp(next)
			}
		}
		block, err := b.worker.MineOne(ctx)
		if err != nil {
			return blocks, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// MineWithTimestamp sets the next block timestamp before mining once
// (evm_mine with a timestamp argument).
func (b *Backend) MineWithTimestamp(ctx context.Context, ts *uint64, count uint64) ([]*ctypes.Block, error) {
	if ts != nil {
		b.clk.SetNextBlockTimestamp(int64(*ts))
	}
	return b.Mine(ctx, count, nil)
}

// DumpState serializes the world state and chain tip (anvil_dumpState).
func (b *Backend) DumpState() ([]byte, error) {
	head := b.BestHeader()
	return b.st.Dump(state.Tip{BlockNumber: head.Number, Timestamp: uint64(head.Timestamp)})
}

// LoadState merges a dumped blob over the current state, fast-forwarding
// the chain tip when the blob's tip is ahead (anvil_loadState).
func (b *Backend) LoadState(blob []byte) (bool, error) {
	tip, err := b.st.Load(blob)
	if err != nil {
		return false, err
	}
	if tip.BlockNumber > b.BestBlockNumber() {
		b.SetBlockNumber(tip.BlockNumber)
	}
	return true, nil
}

// Runtime setters behind the cheat RPCs. Each mutates the single Config
// record under the backend lock.

func (b *Backend) SetCoinbase(addr types.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config.Coinbase = addr
}

func (b *Backend) SetBlockGasLimit(limit uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config.GasLimit = limit
}

func (b *Backend) SetMinGasPrice(price *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config.GasPrice = price.Uint64()
}

// SetBlockNumber re-labels the chain tip at the given height by sealing
// a synthetic empty block there (anvil_setBlock); subsequent blocks
// continue from it.
func (b *Backend) SetBlockNumber(n uint64) {
	parent := b.BestHeader()
	header := &ctypes.Header{
		Number:     n,
		ParentHash: parent.Hash,
		Timestamp:  b.clk.Next(),
		GasLimit:   b.BlockGasLimit(),
		Miner:      b.Coinbase(),
		StateRoot:  b.st.Root(),
	}
	header.Seal()
	b.CommitBlock(ctypes.NewBlock(header, nil, nil))
}

// State setters (anvil_setBalance and friends) delegate to the world
// state; they never invoke the executor.

func (b *Backend) SetBalance(addr types.Address, balance *uint256.Int) error {
	return b.st.SetBalance(addr, balance)
}

func (b *Backend) SetNonce(addr types.Address, nonce uint64) error {
	return b.st.SetNonce(addr, nonce)
}

func (b *Backend) SetCode(addr types.Address, code []byte) error {
	return b.st.SetCode(addr, code)
}

func (b *Backend) SetStorageAt(addr types.Address, slot, value [32]byte) error {
	return b.st.SetStorage(addr, slot, value)
}

func secondsToDuration(s uint64) time.Duration {
	return time.Duration(s) * time.Second
}
