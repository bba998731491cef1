// Package miner drives block production: the Worker assembles and
// executes one block at a time from the pool's ready set, and the Miner
// schedules Worker runs according to the configured MiningMode.
package miner

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/shuttlelabs/shuttle/clock"
	"github.com/shuttlelabs/shuttle/core/state"
	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/evmexec"
	"github.com/shuttlelabs/shuttle/txpool"
	"github.com/shuttlelabs/shuttle/types"
)

// Chain is the backend surface the worker mines against. Commit must
// index the block, notify subscribers and feed the mined hashes back to
// the pool; the worker holds no reference back to the backend beyond
// this handle.
type Chain interface {
	BestHeader() *ctypes.Header
	WorldState() *state.StateDB
	BlockGasLimit() uint64
	Coinbase() types.Address
	MinGasPrice() *uint256.Int
	CommitBlock(block *ctypes.Block)
}

// Worker assembles blocks. A mutex serializes MineOne so explicit mining
// RPCs and the scheduler never interleave mid-block.
type Worker struct {
	mu    sync.Mutex
	pool  *txpool.Pool
	exec  *evmexec.Adapter
	clock *clock.Clock
	chain Chain

	logger log.Logger
}

func NewWorker(pool *txpool.Pool, exec *evmexec.Adapter, clk *clock.Clock, chain Chain) *Worker {
	return &Worker{
		pool:   pool,
		exec:   exec,
		clock:  clk,
		chain:  chain,
		logger: log.New("component", "miner"),
	}
}

// MineOne produces and commits exactly one block from the current ready
// set. An empty ready set still mines an empty block (evm_mine always
// advances the chain).
func (w *Worker) MineOne(ctx context.Context) (*ctypes.Block, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ready := w.pool.Ready()
	parent := w.chain.BestHeader()
	env := evmexec.BlockEnv{
		Number:    parent.Number + 1,
		Timestamp: w.clock.Next(),
		Coinbase:  w.chain.Coinbase(),
		GasLimit:  w.chain.BlockGasLimit(),
		BaseFee:   nil,
	}
	st := w.chain.WorldState()

	var (
		txs        []*ctypes.Transaction
		receipts   []*ctypes.Receipt
		cumulative uint64
		dropped    [][32]byte
	)
	for _, ptx := range ready {
		tx := ptx.Pending
		hash, err := tx.Hash()
		if err != nil {
			w.logger.Error("unhashable pooled transaction", "err", err)
			continue
		}
		if cumulative+tx.GasLimit > env.GasLimit {
			// Does not fit this block; stays pooled for the next one.
			continue
		}
		if nonce, err := st.GetNonce(ptx.Sender); err != nil || tx.Nonce > nonce {
			// A nonce gap at execution time; the transaction stays
			// pooled for a later block.
			continue
		}
		if err := w.exec.Prevalidate(st, tx, ptx.Sender, env.GasLimit, w.chain.MinGasPrice()); err != nil {
			if errors.Is(err, evmexec.ErrNonceTooLow) {
				// Permanently unsatisfiable; evict instead of retrying
				// forever.
				dropped = append(dropped, hash)
				w.logger.Debug("evicting stale transaction", "hash", hash, "err", err)
			} else {
				w.logger.Debug("skipping transaction", "hash", hash, "err", err)
			}
			continue
		}
		res, err := w.exec.Apply(ctx, st, env, tx, ptx.Sender)
		if err != nil {
			// Executor-internal error aborts just this transaction.
			w.logger.Warn("transaction execution aborted", "hash", hash, "err", err)
			dropped = append(dropped, hash)
			continue
		}
		cumulative += res.GasUsed
		receipt := &ctypes.Receipt{
			TxHash:            hash,
			From:              ptx.Sender,
			Status:            ctypes.StatusFailed,
			CumulativeGasUsed: cumulative,
			GasUsed:           res.GasUsed,
			Logs:              res.Outcome.Logs,
			ContractAddress:   res.Outcome.ContractAddress,
			Output:            res.Outcome.Output,
			BlockNumber:       env.Number,
			TxIndex:           uint(len(txs)),
		}
		if res.Outcome.Kind == evmexec.OutcomeSuccess {
			receipt.Status = ctypes.StatusSuccess
		} else {
			receipt.RevertReason = res.Outcome.RevertReason()
		}
		txs = append(txs, tx)
		receipts = append(receipts, receipt)
	}

	header := &ctypes.Header{
		Number:      env.Number,
		ParentHash:  parent.Hash,
		Timestamp:   env.Timestamp,
		GasLimit:    env.GasLimit,
		GasUsed:     cumulative,
		Miner:       env.Coinbase,
		StateRoot:   st.Root(),
		TxRoot:      txListRoot(txs),
		ReceiptRoot: receiptListRoot(receipts),
	}
	header.Seal()
	for _, r := range receipts {
		r.BlockHash = header.Hash
	}
	for _, r := range receipts {
		for _, l := range r.Logs {
			l.BlockHash = header.Hash
			l.BlockNumber = header.Number
		}
	}
	block := ctypes.NewBlock(header, txs, receipts)

	// Evictions first so a dependent queued behind a stale transaction
	// does not briefly look ready.
	for _, hash := range dropped {
		w.pool.Drop(hash)
	}
	w.chain.CommitBlock(block)
	w.logger.Info("mined block", "number", header.Number, "txs", len(txs), "gasUsed", cumulative)
	return block, nil
}

// txListRoot and receiptListRoot commit the header to its body. A flat
// keccak over the ordered hashes stands in for the trie roots a
// consensus-bearing chain would need.
func txListRoot(txs []*ctypes.Transaction) [32]byte {
	var buf []byte
	for _, tx := range txs {
		h, err := tx.Hash()
		if err != nil {
			continue
		}
		buf = append(buf, h[:]...)
	}
	return crypto.Keccak256Hash(buf)
}

func receiptListRoot(receipts []*ctypes.Receipt) [32]byte {
	var buf []byte
	for _, r := range receipts {
		buf = append(buf, r.TxHash[:]...)
		buf = append(buf, byte(r.Status))
	}
	return crypto.Keccak256Hash(buf)
}
