package rpcapi

import (
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/shuttlelabs/shuttle/backend"
)

// Register wires every namespace service onto the rpc server, one
// registration per namespace. The anvil service registers twice so the
// hardhat_* aliases resolve, and the subscription service shares the
// eth namespace with the regular methods.
func Register(srv *rpc.Server, b *backend.Backend) error {
	anvil := NewAnvilAPI(b)
	services := []struct {
		namespace string
		service   interface{}
	}{
		{"web3", &Web3API{}},
		{"net", NewNetAPI(b)},
		{"eth", NewEthereumAPI(b)},
		{"eth", NewSubscriptionAPI(b)},
		{"txpool", NewTxPoolAPI(b)},
		{"debug", NewDebugAPI(b)},
		{"trace", NewTraceAPI(b)},
		{"anvil", anvil},
		{"hardhat", anvil},
		{"evm", NewEvmAPI(b)},
	}
	for _, s := range services {
		if err := srv.RegisterName(s.namespace, s.service); err != nil {
			return err
		}
	}
	return nil
}
