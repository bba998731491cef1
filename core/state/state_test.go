package state

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/types"
)

var (
	addrA = types.HexToAddress("0xcb77aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	addrB = types.HexToAddress("0xcb77bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func TestSettersAndReads(t *testing.T) {
	st := New(nil)
	require.NoError(t, st.SetBalance(addrA, uint256.NewInt(100)))
	require.NoError(t, st.SetNonce(addrA, 5))
	require.NoError(t, st.SetCode(addrA, []byte{0x60, 0x00}))
	require.NoError(t, st.SetStorage(addrA, [32]byte{1}, [32]byte{9}))

	balance, err := st.GetBalance(addrA)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(100), balance)

	nonce, err := st.GetNonce(addrA)
	require.NoError(t, err)
	require.Equal(t, uint64(5), nonce)

	code, err := st.GetCode(addrA)
	require.NoError(t, err)
	require.Equal(t, []byte{0x60, 0x00}, code)

	slot, err := st.GetStorage(addrA, [32]byte{1})
	require.NoError(t, err)
	require.Equal(t, [32]byte{9}, slot)

	// Unknown accounts read as empty, not as errors.
	balance, err = st.GetBalance(addrB)
	require.NoError(t, err)
	require.True(t, balance.IsZero())
}

func TestJournalDiscard(t *testing.T) {
	st := New(nil)
	require.NoError(t, st.SetBalance(addrA, uint256.NewInt(100)))

	st.BeginTx()
	require.NoError(t, st.SetBalance(addrA, uint256.NewInt(1)))
	require.NoError(t, st.IncNonce(addrA))
	// In-flight execution sees the journal...
	balance, err := st.GetBalance(addrA)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(1), balance)

	st.DiscardTx()
	// ...but a discard leaves committed state untouched.
	balance, err = st.GetBalance(addrA)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(100), balance)
	nonce, err := st.GetNonce(addrA)
	require.NoError(t, err)
	require.Equal(t, uint64(0), nonce)
}

func TestJournalCommit(t *testing.T) {
	st := New(nil)
	require.NoError(t, st.SetBalance(addrA, uint256.NewInt(100)))

	st.BeginTx()
	require.NoError(t, st.SubBalance(addrA, uint256.NewInt(40)))
	require.NoError(t, st.AddBalance(addrB, uint256.NewInt(40)))
	st.CommitTx()

	balance, _ := st.GetBalance(addrA)
	require.Equal(t, uint256.NewInt(60), balance)
	balance, _ = st.GetBalance(addrB)
	require.Equal(t, uint256.NewInt(40), balance)
}

func TestCopyRestore(t *testing.T) {
	st := New(nil)
	require.NoError(t, st.SetBalance(addrA, uint256.NewInt(100)))
	require.NoError(t, st.SetStorage(addrA, [32]byte{1}, [32]byte{2}))
	snap := st.Copy()

	require.NoError(t, st.SetBalance(addrA, uint256.NewInt(0)))
	require.NoError(t, st.SetStorage(addrA, [32]byte{1}, [32]byte{7}))
	require.NoError(t, st.SetBalance(addrB, uint256.NewInt(5)))

	st.Restore(snap)
	balance, _ := st.GetBalance(addrA)
	require.Equal(t, uint256.NewInt(100), balance)
	slot, _ := st.GetStorage(addrA, [32]byte{1})
	require.Equal(t, [32]byte{2}, slot)
	require.False(t, st.Exists(addrB))
}

func TestCopyIsDeep(t *testing.T) {
	st := New(nil)
	require.NoError(t, st.SetBalance(addrA, uint256.NewInt(100)))
	snap := st.Copy()
	require.NoError(t, st.SetBalance(addrA, uint256.NewInt(1)))

	balance, _ := snap.GetBalance(addrA)
	require.Equal(t, uint256.NewInt(100), balance)
}

func TestDumpLoadRoundTrip(t *testing.T) {
	st := New(nil)
	require.NoError(t, st.SetBalance(addrA, uint256.NewInt(123)))
	require.NoError(t, st.SetNonce(addrA, 9))
	require.NoError(t, st.SetCode(addrA, []byte{0xfe}))
	require.NoError(t, st.SetStorage(addrA, [32]byte{3}, [32]byte{4}))
	require.NoError(t, st.SetBalance(addrB, uint256.NewInt(55)))

	blob, err := st.Dump(Tip{BlockNumber: 12, Timestamp: 3400})
	require.NoError(t, err)

	fresh := New(nil)
	tip, err := fresh.Load(blob)
	require.NoError(t, err)
	require.Equal(t, Tip{BlockNumber: 12, Timestamp: 3400}, tip)

	balance, _ := fresh.GetBalance(addrA)
	require.Equal(t, uint256.NewInt(123), balance)
	nonce, _ := fresh.GetNonce(addrA)
	require.Equal(t, uint64(9), nonce)
	code, _ := fresh.GetCode(addrA)
	require.Equal(t, []byte{0xfe}, code)
	slot, _ := fresh.GetStorage(addrA, [32]byte{3})
	require.Equal(t, [32]byte{4}, slot)
	balance, _ = fresh.GetBalance(addrB)
	require.Equal(t, uint256.NewInt(55), balance)
}

func TestLoadMergesOverExisting(t *testing.T) {
	st := New(nil)
	require.NoError(t, st.SetBalance(addrA, uint256.NewInt(1)))
	blob, err := st.Dump(Tip{})
	require.NoError(t, err)

	target := New(nil)
	require.NoError(t, target.SetBalance(addrA, uint256.NewInt(999)))
	require.NoError(t, target.SetBalance(addrB, uint256.NewInt(7)))
	_, err = target.Load(blob)
	require.NoError(t, err)

	// Conflicts overwritten, non-conflicting accounts preserved.
	balance, _ := target.GetBalance(addrA)
	require.Equal(t, uint256.NewInt(1), balance)
	balance, _ = target.GetBalance(addrB)
	require.Equal(t, uint256.NewInt(7), balance)
}

func TestLoadRejectsGarbage(t *testing.T) {
	st := New(nil)
	_, err := st.Load([]byte{0xde, 0xad})
	require.Error(t, err)
}

func TestRootChangesWithState(t *testing.T) {
	st := New(nil)
	require.NoError(t, st.SetBalance(addrA, uint256.NewInt(1)))
	before := st.Root()
	require.NoError(t, st.SetBalance(addrA, uint256.NewInt(2)))
	require.NotEqual(t, before, st.Root())
	require.NoError(t, st.SetBalance(addrA, uint256.NewInt(1)))
	require.Equal(t, before, st.Root())
}

func TestProveAccount(t *testing.T) {
	st := New(nil)
	require.NoError(t, st.SetBalance(addrA, uint256.NewInt(77)))
	require.NoError(t, st.SetStorage(addrA, [32]byte{1}, [32]byte{2}))
	require.NoError(t, st.SetBalance(addrB, uint256.NewInt(88)))

	proof, err := st.ProveAccount(addrA, [][32]byte{{1}, {9}})
	require.NoError(t, err)
	require.Equal(t, addrA, proof.Address)
	require.Equal(t, uint256.NewInt(77), proof.Balance)
	require.Len(t, proof.StorageProof, 2)
	require.Equal(t, common.Hash{2}, proof.StorageProof[0].Value)
	// The unset slot proves an empty value.
	require.Equal(t, common.Hash{}, proof.StorageProof[1].Value)
	require.NotEmpty(t, proof.AccountProof)

	_, err = st.ProveAccount(types.HexToAddress("0xcb77cccccccccccccccccccccccccccccccccccccccc"), nil)
	require.Error(t, err)
}

type fakeRef struct {
	accounts map[types.Address]*ctypes.Account
	calls    int
}

func (f *fakeRef) GetAccount(addr types.Address) (*ctypes.Account, error) {
	f.calls++
	return f.accounts[addr], nil
}

func (f *fakeRef) GetStorage(addr types.Address, key [32]byte) ([32]byte, error) {
	return [32]byte{}, nil
}

func (f *fakeRef) GetCode(addr types.Address) ([]byte, error) { return nil, nil }

func TestFallbackMaterialization(t *testing.T) {
	remote := ctypes.NewAccount()
	remote.Balance = uint256.NewInt(500)
	remote.Nonce = 3
	ref := &fakeRef{accounts: map[types.Address]*ctypes.Account{addrA: remote}}
	st := New(ref)

	balance, err := st.GetBalance(addrA)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(500), balance)
	// Second read is served from the overlay.
	_, err = st.GetBalance(addrA)
	require.NoError(t, err)
	require.Equal(t, 1, ref.calls)

	// Local writes are copy-on-write over the materialized account.
	require.NoError(t, st.SetBalance(addrA, uint256.NewInt(1)))
	require.Equal(t, uint256.NewInt(500), remote.Balance)
}
