// Package backend ties the node engine together: world state, fork
// client, transaction pool, executor, miner, filters, snapshots and
// cheats, behind the surface the RPC layer calls into. Global mutable
// node settings live in a single Config record owned by the Backend and
// changed only through explicit setters.
package backend

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"

	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/params"
	"github.com/shuttlelabs/shuttle/types"
)

// Config collects every node-level setting. Fields use TOML-friendly
// scalar types so a config file can populate the struct directly.
type Config struct {
	// ChainID doubles as the network id and the EIP-155 replay domain.
	ChainID uint64 `toml:"chain-id"`

	// GasLimit is the per-block gas cap.
	GasLimit uint64 `toml:"gas-limit"`

	// GasPrice is the floor enforced during pre-validation and suggested
	// by eth_gasPrice, in wei.
	GasPrice uint64 `toml:"gas-price"`

	// Accounts is how many funded dev accounts to derive from Mnemonic.
	Accounts int `toml:"accounts"`

	// Mnemonic seeds the deterministic dev account derivation.
	Mnemonic string `toml:"mnemonic"`

	// GenesisBalanceEth funds every dev account at genesis, in ether.
	GenesisBalanceEth uint64 `toml:"balance"`

	// ForkURL enables forking when non-empty; ForkBlock pins the height
	// (0 pins to the remote head at startup).
	ForkURL   string `toml:"fork-url"`
	ForkBlock uint64 `toml:"fork-block"`

	// BlockTimeSeconds > 0 selects interval mining; NoMining disables
	// automatic mining entirely. With both zero/false the node automines
	// on ready transactions.
	BlockTimeSeconds uint64 `toml:"block-time"`
	NoMining         bool   `toml:"no-mining"`

	// OrderFees selects gas-price priority ordering in the pool instead
	// of first-in-first-out.
	OrderFees bool `toml:"order-fees"`

	// FilterTimeout evicts unpolled filters; zero picks the default.
	FilterTimeout time.Duration `toml:"-"`

	// Coinbase receives block rewards/fees; mutable at runtime through
	// anvil_setCoinbase.
	Coinbase types.Address `toml:"-"`
}

// Defaults is the configuration newly started nodes run with.
var Defaults = Config{
	ChainID:           params.DefaultChainID,
	GasLimit:          params.DefaultGasLimit,
	GasPrice:          params.DefaultGasPrice,
	Accounts:          10,
	Mnemonic:          "test test test test test test test test test test test junk",
	GenesisBalanceEth: 10000,
}

// LoadConfig reads a TOML file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := Defaults
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("backend: load config %s: %w", path, err)
	}
	return cfg, nil
}

// minGasPrice returns the configured floor as a U256.
func (c *Config) minGasPrice() *uint256.Int {
	return uint256.NewInt(c.GasPrice)
}

// genesisBalance returns the per-account genesis funding in wei.
func (c *Config) genesisBalance() *uint256.Int {
	eth := uint256.NewInt(c.GenesisBalanceEth)
	return eth.Mul(eth, uint256.NewInt(1_000_000_000_000_000_000))
}

// order maps the flag onto the pool's priority mode.
func (c *Config) order() ctypes.Priority {
	if c.OrderFees {
		return ctypes.PriorityFees
	}
	return ctypes.PriorityFifo
}
