package miner

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/shuttlelabs/shuttle/clock"
	"github.com/shuttlelabs/shuttle/core/state"
	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/evmexec"
	"github.com/shuttlelabs/shuttle/txpool"
	"github.com/shuttlelabs/shuttle/types"
)

var (
	alice = types.HexToAddress("0xcb77aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bob   = types.HexToAddress("0xcb77bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

// fakeChain is the minimal Chain a worker needs.
type fakeChain struct {
	st       *state.StateDB
	best     *ctypes.Header
	commits  []*ctypes.Block
	pool     *txpool.Pool
	gasLimit uint64
}

func (f *fakeChain) BestHeader() *ctypes.Header { return f.best }
func (f *fakeChain) WorldState() *state.StateDB { return f.st }
func (f *fakeChain) BlockGasLimit() uint64      { return f.gasLimit }
func (f *fakeChain) Coinbase() types.Address    { return types.Address{} }
func (f *fakeChain) MinGasPrice() *uint256.Int  { return uint256.NewInt(0) }

func (f *fakeChain) CommitBlock(block *ctypes.Block) {
	f.commits = append(f.commits, block)
	f.best = block.Header
	included := make([][32]byte, 0, len(block.Receipts))
	for _, r := range block.Receipts {
		included = append(included, r.TxHash)
	}
	f.pool.OnMinedBlock(included)
}

func newHarness(t *testing.T) (*Worker, *fakeChain, *txpool.Pool) {
	t.Helper()
	st := state.New(nil)
	require.NoError(t, st.SetBalance(alice, uint256.NewInt(0).Mul(uint256.NewInt(100), uint256.NewInt(1e18))))
	pool := txpool.New(ctypes.PriorityFifo)
	genesis := &ctypes.Header{Number: 0, GasLimit: 30_000_000}
	genesis.Seal()
	chain := &fakeChain{st: st, best: genesis, pool: pool, gasLimit: 30_000_000}
	exec := evmexec.NewAdapter(evmexec.NewSimpleInterpreter(), evmexec.DefaultCfg(1))
	worker := NewWorker(pool, exec, clock.NewAt(time.Unix(1_700_000_000, 0)), chain)
	return worker, chain, pool
}

func pooled(t *testing.T, pool *txpool.Pool, nonce, onChain uint64) [32]byte {
	t.Helper()
	to := bob
	sig := ctypes.Signature{V: 27, R: [32]byte{byte(nonce) + 1}, S: [32]byte{1}}
	tx := &ctypes.Transaction{
		Nonce:    nonce,
		GasPrice: uint256.NewInt(1),
		GasLimit: 21000,
		Kind:     ctypes.KindCall,
		To:       &to,
		Value:    uint256.NewInt(7),
		Sig:      &sig,
	}
	hash, err := pool.Add(ctypes.NewPoolTransactionAt(tx, alice, pool.NextSeq(), onChain))
	require.NoError(t, err)
	return hash
}

func TestMineOneEmptyBlock(t *testing.T) {
	worker, chain, _ := newHarness(t)
	block, err := worker.MineOne(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), block.Number())
	require.Empty(t, block.Txs)
	require.Equal(t, chain.best, block.Header)
	require.Len(t, chain.commits, 1)
}

func TestMineOneIncludesReadyChain(t *testing.T) {
	worker, _, pool := newHarness(t)
	pooled(t, pool, 0, 0)
	pooled(t, pool, 1, 0)

	block, err := worker.MineOne(context.Background())
	require.NoError(t, err)
	require.Len(t, block.Txs, 2)
	require.Equal(t, uint64(0), block.Txs[0].Nonce)
	require.Equal(t, uint64(1), block.Txs[1].Nonce)
	require.Equal(t, uint64(42000), block.Header.GasUsed)
	require.Zero(t, pool.Len())
}

func TestMineOneEvictsStaleNonce(t *testing.T) {
	worker, chain, pool := newHarness(t)
	pooled(t, pool, 3, 3) // admitted while the chain nonce was 3...
	require.NoError(t, chain.st.SetNonce(alice, 5))

	block, err := worker.MineOne(context.Background())
	require.NoError(t, err)
	require.Empty(t, block.Txs)
	// Permanently unsatisfiable transactions are evicted, not retried.
	require.Zero(t, pool.Len())
}

func TestMineOneTimestampsAdvance(t *testing.T) {
	worker, _, _ := newHarness(t)
	b1, err := worker.MineOne(context.Background())
	require.NoError(t, err)
	b2, err := worker.MineOne(context.Background())
	require.NoError(t, err)
	require.Greater(t, b2.Header.Timestamp, b1.Header.Timestamp)
	require.Equal(t, b1.Hash(), b2.Header.ParentHash)
}

func TestModeSwitch(t *testing.T) {
	worker, _, pool := newHarness(t)
	m := NewMiner(worker, pool, Mode{Kind: ModeNone})
	m.Start()
	defer m.Stop()

	require.Equal(t, ModeNone, m.Mode().Kind)
	m.SetMode(Mode{Kind: ModeAuto})
	require.Equal(t, ModeAuto, m.Mode().Kind)
	m.SetMode(Mode{Kind: ModeInterval, Interval: time.Hour})
	require.Equal(t, time.Hour, m.Mode().Interval)
}
