package rpcapi

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"github.com/shuttlelabs/shuttle/backend"
	"github.com/shuttlelabs/shuttle/params"
)

func testNode(t *testing.T) (*rpc.Server, *backend.Backend) {
	t.Helper()
	cfg := backend.Defaults
	cfg.NoMining = true
	b, err := backend.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(b.Close)

	srv := rpc.NewServer()
	require.NoError(t, Register(srv, b))
	t.Cleanup(srv.Stop)
	return srv, b
}

func TestRegisterAndDispatch(t *testing.T) {
	srv, _ := testNode(t)
	client := rpc.DialInProc(srv)
	defer client.Close()

	var version string
	require.NoError(t, client.Call(&version, "web3_clientVersion"))
	require.Equal(t, params.ClientVersion, version)

	var chainID string
	require.NoError(t, client.Call(&chainID, "eth_chainId"))
	require.Equal(t, "0x7a69", chainID)

	var netVersion string
	require.NoError(t, client.Call(&netVersion, "net_version"))
	require.Equal(t, "31337", netVersion)

	var listening bool
	require.NoError(t, client.Call(&listening, "net_listening"))
	require.True(t, listening)
}

func TestAliasNamespaces(t *testing.T) {
	srv, b := testNode(t)
	client := rpc.DialInProc(srv)
	defer client.Close()

	addr := b.Signer().Accounts()[0]
	// The same service answers under both prefixes.
	require.NoError(t, client.Call(nil, "anvil_impersonateAccount", addr))
	require.True(t, b.Cheats().IsImpersonated(addr))
	require.NoError(t, client.Call(nil, "hardhat_stopImpersonatingAccount", addr))
	require.False(t, b.Cheats().IsImpersonated(addr))
}

func TestEvmMineOverRPC(t *testing.T) {
	srv, b := testNode(t)
	client := rpc.DialInProc(srv)
	defer client.Close()

	var result string
	require.NoError(t, client.Call(&result, "evm_mine"))
	require.Equal(t, "0x0", result)
	require.Equal(t, uint64(1), b.BestBlockNumber())
}

func TestUnimplementedMethodsReturnStructuredErrors(t *testing.T) {
	srv, _ := testNode(t)
	client := rpc.DialInProc(srv)
	defer client.Close()

	var out interface{}
	err := client.Call(&out, "eth_getWork")
	require.Error(t, err)
	var rpcErr rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, -32601, rpcErr.ErrorCode())
}

func TestSnapshotRevertOverRPC(t *testing.T) {
	srv, b := testNode(t)
	client := rpc.DialInProc(srv)
	defer client.Close()

	var id string
	require.NoError(t, client.Call(&id, "evm_snapshot"))
	require.Equal(t, "0x0", id)

	_, err := b.Mine(context.Background(), 1, nil)
	require.NoError(t, err)

	var ok bool
	require.NoError(t, client.Call(&ok, "evm_revert", id))
	require.True(t, ok)
	require.Equal(t, uint64(0), b.BestBlockNumber())

	require.NoError(t, client.Call(&ok, "evm_revert", id))
	require.False(t, ok)
}
