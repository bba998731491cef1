// Package params holds protocol constants shared by the executor, pool
// and miner. Values match the mainline execution-layer parameters for
// legacy transactions; fee-market (EIP-1559) parameters are deliberately
// absent since only legacy transactions are supported.
package params

const (
	// MinTransactionGas is the intrinsic gas of a plain call/transfer.
	MinTransactionGas uint64 = 21000
	// MinCreateGas is the intrinsic gas of a contract creation.
	MinCreateGas uint64 = 53000

	// TxDataZeroGas and TxDataNonZeroGas are the per-byte intrinsic gas
	// charges for transaction calldata.
	TxDataZeroGas    uint64 = 4
	TxDataNonZeroGas uint64 = 16

	// DefaultGasLimit is the block gas cap newly started chains use.
	DefaultGasLimit uint64 = 30_000_000

	// DefaultGasPrice is the gas price floor suggested by eth_gasPrice
	// and enforced during pre-validation when no floor is configured.
	DefaultGasPrice uint64 = 1_000_000_000 // 1 gwei

	// DefaultChainID is the network id newly started chains use.
	DefaultChainID uint64 = 31337
)

// Version components of the client version string reported by
// web3_clientVersion ("anvil/v{major}.{minor}.{patch}").
const (
	VersionMajor = 0
	VersionMinor = 2
	VersionPatch = 0
)

// ClientVersion is the string returned by web3_clientVersion.
const ClientVersion = "anvil/v0.2.0"
