package sign

import (
	"testing"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/types"
)

func devSigner(t *testing.T) *DevSigner {
	t.Helper()
	s, err := NewDevSigner("test seed", 3)
	require.NoError(t, err)
	return s
}

func TestDerivationIsDeterministic(t *testing.T) {
	a := devSigner(t)
	b := devSigner(t)
	require.Equal(t, a.Accounts(), b.Accounts())
	require.Len(t, a.Accounts(), 3)

	other, err := NewDevSigner("another seed", 3)
	require.NoError(t, err)
	require.NotEqual(t, a.Accounts()[0], other.Accounts()[0])
}

func TestSignTransactionRecoverRoundTrip(t *testing.T) {
	s := devSigner(t)
	from := s.Accounts()[0]
	to := types.HexToAddress("0xcb77bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	chainID := uint64(31337)
	tx := &ctypes.Transaction{
		Nonce:     0,
		GasPrice:  uint256.NewInt(1),
		GasLimit:  21000,
		Kind:      ctypes.KindCall,
		To:        &to,
		Value:     uint256.NewInt(1),
		NetworkID: &chainID,
	}
	require.NoError(t, s.SignTransaction(tx, from))
	require.NotNil(t, tx.Sig)
	require.False(t, tx.Sig.IsBypass())
	// EIP-155 v encodes the chain id.
	require.GreaterOrEqual(t, tx.Sig.V, chainID*2+35)

	recovered, err := RecoverSender(tx)
	require.NoError(t, err)
	require.Equal(t, from.Core20(), recovered.Core20())
}

func TestSignTransactionUnknownAccount(t *testing.T) {
	s := devSigner(t)
	stranger := types.HexToAddress("0xcb77cccccccccccccccccccccccccccccccccccccccc")
	tx := &ctypes.Transaction{GasPrice: uint256.NewInt(1), Value: uint256.NewInt(0)}
	require.ErrorIs(t, s.SignTransaction(tx, stranger), ErrNoSigner)
}

func TestRecoverRejectsBypass(t *testing.T) {
	sig := ctypes.BypassSignature
	tx := &ctypes.Transaction{GasPrice: uint256.NewInt(1), Value: uint256.NewInt(0), Sig: &sig}
	_, err := RecoverSender(tx)
	require.Error(t, err)
}

func TestSignMessage(t *testing.T) {
	s := devSigner(t)
	sig, err := s.SignMessage(s.Accounts()[0], []byte("hello"))
	require.NoError(t, err)
	require.Len(t, sig, 65)
	require.Contains(t, []byte{27, 28}, sig[64])
}

func TestSignTypedDataV4(t *testing.T) {
	s := devSigner(t)
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
			},
			"Person": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "wallet", Type: "address"},
			},
		},
		PrimaryType: "Person",
		Domain: apitypes.TypedDataDomain{
			Name:    "Shuttle Test",
			Version: "1",
		},
		Message: apitypes.TypedDataMessage{
			"name":   "Alice",
			"wallet": "0x0000000000000000000000000000000000000001",
		},
	}
	sig, err := s.SignTypedData(s.Accounts()[0], typed)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	// A second signer over the same payload agrees; the digest is
	// deterministic.
	sig2, err := devSigner(t).SignTypedData(s.Accounts()[0], typed)
	require.NoError(t, err)
	require.Equal(t, sig, sig2)
}
