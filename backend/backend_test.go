package backend

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/shuttlelabs/shuttle/evmexec"
	"github.com/shuttlelabs/shuttle/types"
)

var (
	whale    = types.HexToAddress("0xcb77aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	receiver = types.HexToAddress("0xcb77bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func ether(n uint64) *uint256.Int {
	out := uint256.NewInt(n)
	return out.Mul(out, uint256.NewInt(1_000_000_000_000_000_000))
}

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	cfg := Defaults
	cfg.NoMining = true
	b, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func balanceOf(t *testing.T, b *Backend, addr types.Address) *uint256.Int {
	t.Helper()
	balance, err := b.BalanceAt(context.Background(), addr, nil)
	require.NoError(t, err)
	return balance
}

func TestGenesisAccountsFunded(t *testing.T) {
	b := newTestBackend(t)
	accounts := b.Signer().Accounts()
	require.Len(t, accounts, Defaults.Accounts)
	for _, addr := range accounts {
		require.Equal(t, ether(10000), balanceOf(t, b, addr))
	}
	require.Equal(t, uint64(0), b.BestBlockNumber())
}

func TestImpersonationScenario(t *testing.T) {
	b := newTestBackend(t)

	// Sending from an unmanaged account fails without impersonation.
	_, err := b.SendTransaction(SendTxArgs{From: whale, To: &receiver, Value: ether(1)})
	require.ErrorIs(t, err, ErrNoSignerAvailable)

	b.Cheats().Impersonate(whale)
	require.NoError(t, b.SetBalance(whale, ether(100)))
	hash, err := b.SendTransaction(SendTxArgs{From: whale, To: &receiver, Value: ether(1)})
	require.NoError(t, err)

	_, err = b.Mine(context.Background(), 1, nil)
	require.NoError(t, err)

	require.Equal(t, ether(1), balanceOf(t, b, receiver))
	_, receipt, ok := b.GetTransaction(hash)
	require.True(t, ok)
	require.True(t, receipt.Succeeded())
	require.Equal(t, whale, receipt.From)
}

func TestNonceGapMinedInOrder(t *testing.T) {
	b := newTestBackend(t)
	from := b.Signer().Accounts()[0]
	gas := uint64(21000)

	// Submit 2, 1, 0 against on-chain nonce 0.
	for _, nonce := range []uint64{2, 1, 0} {
		n := nonce
		_, err := b.SendTransaction(SendTxArgs{
			From:  from,
			To:    &receiver,
			Value: ether(1),
			Gas:   &gas,
			Nonce: &n,
		})
		require.NoError(t, err)
	}

	blocks, err := b.Mine(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	block := blocks[0]
	require.Len(t, block.Txs, 3)
	for i, tx := range block.Txs {
		require.Equal(t, uint64(i), tx.Nonce)
	}
	require.Equal(t, ether(3), balanceOf(t, b, receiver))

	// Gas accounting invariant: receipts sum to the header total, under
	// the cap.
	var sum uint64
	for _, receipt := range block.Receipts {
		sum += receipt.GasUsed
	}
	require.Equal(t, block.Header.GasUsed, sum)
	require.LessOrEqual(t, block.Header.GasUsed, block.Header.GasLimit)

	nonce, err := b.NonceAt(context.Background(), from, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(3), nonce)
}

func TestSnapshotRevertLaw(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.SetBalance(whale, ether(5)))
	heightBefore := b.BestBlockNumber()

	id := b.Snapshot()

	require.NoError(t, b.SetBalance(whale, uint256.NewInt(0)))
	_, err := b.Mine(context.Background(), 2, nil)
	require.NoError(t, err)
	require.Equal(t, heightBefore+2, b.BestBlockNumber())

	require.True(t, b.RevertSnapshot(id))
	require.Equal(t, ether(5), balanceOf(t, b, whale))
	require.Equal(t, heightBefore, b.BestBlockNumber())

	// A snapshot is consumed by its revert.
	require.False(t, b.RevertSnapshot(id))
}

func TestSnapshotRevertDiscardsYounger(t *testing.T) {
	b := newTestBackend(t)
	id1 := b.Snapshot()
	id2 := b.Snapshot()
	require.Greater(t, id2, id1)

	require.True(t, b.RevertSnapshot(id1))
	require.False(t, b.RevertSnapshot(id2))
}

func TestDumpLoadRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.SetBalance(whale, ether(9)))
	require.NoError(t, b.SetCode(whale, []byte{0xca, 0xfe}))
	require.NoError(t, b.SetStorageAt(whale, [32]byte{1}, [32]byte{2}))

	blob, err := b.DumpState()
	require.NoError(t, err)

	require.NoError(t, b.SetBalance(whale, uint256.NewInt(0)))
	ok, err := b.LoadState(blob)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, ether(9), balanceOf(t, b, whale))
	code, err := b.CodeAt(context.Background(), whale, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0xca, 0xfe}, code)
	slot, err := b.StorageAt(context.Background(), whale, [32]byte{1}, nil)
	require.NoError(t, err)
	require.Equal(t, [32]byte{2}, slot)
}

func TestEstimateGasTransfer(t *testing.T) {
	b := newTestBackend(t)
	from := b.Signer().Accounts()[0]
	gas, err := b.EstimateGas(context.Background(), evmexec.CallRequest{
		From:  &from,
		To:    &receiver,
		Value: uint256.NewInt(1),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(21000), gas)
}

func TestCallDoesNotCommit(t *testing.T) {
	b := newTestBackend(t)
	from := b.Signer().Accounts()[0]
	before := balanceOf(t, b, from)

	outcome, err := b.Call(context.Background(), evmexec.CallRequest{
		From:  &from,
		To:    &receiver,
		Value: ether(1),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, evmexec.OutcomeSuccess, outcome.Kind)

	require.Equal(t, before, balanceOf(t, b, from))
	require.True(t, balanceOf(t, b, receiver).IsZero())
}

func TestCallWithOverrides(t *testing.T) {
	b := newTestBackend(t)
	outcome, err := b.Call(context.Background(), evmexec.CallRequest{
		From:  &whale,
		To:    &receiver,
		Value: ether(1),
	}, evmexec.StateOverride{
		whale: {Balance: ether(50)},
	})
	require.NoError(t, err)
	require.Equal(t, evmexec.OutcomeSuccess, outcome.Kind)
}

func TestSendRawTransactionRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	from := b.Signer().Accounts()[0]
	gas := uint64(21000)
	raw, err := b.SignTransaction(SendTxArgs{
		From:  from,
		To:    &receiver,
		Value: ether(1),
		Gas:   &gas,
	})
	require.NoError(t, err)

	hash, err := b.SendRawTransaction(raw)
	require.NoError(t, err)

	_, err = b.Mine(context.Background(), 1, nil)
	require.NoError(t, err)
	_, receipt, ok := b.GetTransaction(hash)
	require.True(t, ok)
	require.True(t, receipt.Succeeded())
	require.Equal(t, from, receipt.From)
	require.Equal(t, ether(1), balanceOf(t, b, receiver))
}

func TestSendRawRejectsEmptyAndGarbage(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.SendRawTransaction(nil)
	require.Error(t, err)
	_, err = b.SendRawTransaction([]byte{0x02, 0x01})
	require.Error(t, err)
}

func TestMineIntervalSpacing(t *testing.T) {
	b := newTestBackend(t)
	interval := uint64(13)
	blocks, err := b.Mine(context.Background(), 3, &interval)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	for i := 1; i < len(blocks); i++ {
		require.GreaterOrEqual(t, blocks[i].Header.Timestamp-blocks[i-1].Header.Timestamp, int64(13))
	}
}

func TestMineWithTimestamp(t *testing.T) {
	b := newTestBackend(t)
	ts := uint64(9_999_999_999)
	blocks, err := b.MineWithTimestamp(context.Background(), &ts, 1)
	require.NoError(t, err)
	require.Equal(t, int64(ts), blocks[0].Header.Timestamp)
}

func TestBlockFilterDeltaEndToEnd(t *testing.T) {
	b := newTestBackend(t)
	id := b.Filters().NewBlockFilter()

	_, err := b.Mine(context.Background(), 2, nil)
	require.NoError(t, err)

	var hashes [][32]byte
	require.Eventually(t, func() bool {
		delta, ok := b.Filters().Changes(id)
		require.True(t, ok)
		hashes = append(hashes, delta.([][32]byte)...)
		return len(hashes) == 2
	}, time.Second, 5*time.Millisecond)

	delta, ok := b.Filters().Changes(id)
	require.True(t, ok)
	require.Empty(t, delta.([][32]byte))
}

func TestSetters(t *testing.T) {
	b := newTestBackend(t)

	b.SetCoinbase(whale)
	require.Equal(t, whale, b.Coinbase())

	b.SetBlockGasLimit(1_000_000)
	require.Equal(t, uint64(1_000_000), b.BlockGasLimit())

	b.SetMinGasPrice(uint256.NewInt(5))
	require.Equal(t, uint256.NewInt(5), b.MinGasPrice())

	require.NoError(t, b.SetNonce(whale, 42))
	nonce, err := b.NonceAt(context.Background(), whale, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(42), nonce)
}

func TestSetBlockNumber(t *testing.T) {
	b := newTestBackend(t)
	b.SetBlockNumber(500)
	require.Equal(t, uint64(500), b.BestBlockNumber())

	blocks, err := b.Mine(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(501), blocks[0].Number())
}

func TestChainQueries(t *testing.T) {
	b := newTestBackend(t)
	blocks, err := b.Mine(context.Background(), 1, nil)
	require.NoError(t, err)
	mined := blocks[0]

	byNum, ok := b.GetBlockByNumber(mined.Number())
	require.True(t, ok)
	require.Equal(t, mined.Hash(), byNum.Hash())

	byHash, ok := b.GetBlockByHash(mined.Hash())
	require.True(t, ok)
	require.Equal(t, mined.Number(), byHash.Number())

	_, ok = b.GetBlockByNumber(9999)
	require.False(t, ok)
}

func TestResetWipesChain(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.SetBalance(whale, ether(3)))
	_, err := b.Mine(context.Background(), 2, nil)
	require.NoError(t, err)

	require.NoError(t, b.Reset(context.Background(), "", 0))
	require.Equal(t, uint64(0), b.BestBlockNumber())
	require.True(t, balanceOf(t, b, whale).IsZero())
	// Dev accounts are re-funded.
	require.Equal(t, ether(10000), balanceOf(t, b, b.Signer().Accounts()[0]))
}

func TestInsufficientFundsRejectedAtAdmission(t *testing.T) {
	b := newTestBackend(t)
	from := b.Signer().Accounts()[0]
	gas := uint64(21000)

	// A transfer larger than the sender's funds fails pre-validation at
	// pool admission already.
	_, err := b.SendTransaction(SendTxArgs{
		From:  from,
		To:    &receiver,
		Value: ether(1_000_000),
		Gas:   &gas,
	})
	require.ErrorIs(t, err, evmexec.ErrInsufficientFunds)
}
