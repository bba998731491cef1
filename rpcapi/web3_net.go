package rpcapi

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/shuttlelabs/shuttle/backend"
	"github.com/shuttlelabs/shuttle/params"
)

// Web3API serves the web3_* namespace.
type Web3API struct{}

// ClientVersion reports "anvil/v{major}.{minor}.{patch}".
func (api *Web3API) ClientVersion() string { return params.ClientVersion }

// Sha3 hashes the input with keccak-256.
func (api *Web3API) Sha3(input hexutil.Bytes) hexutil.Bytes {
	return crypto.Keccak256(input)
}

// NetAPI serves the net_* namespace.
type NetAPI struct {
	b *backend.Backend
}

func NewNetAPI(b *backend.Backend) *NetAPI { return &NetAPI{b: b} }

// Version is the decimal network id (net_version, aliasing
// eth_networkId).
func (api *NetAPI) Version() string {
	return fmt.Sprintf("%d", api.b.ChainID())
}

// Listening is always true; there is no p2p stack to stop listening.
func (api *NetAPI) Listening() bool { return true }

// PeerCount is always zero.
func (api *NetAPI) PeerCount() hexutil.Uint { return 0 }
