package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/shuttlelabs/shuttle/cheat"
	"github.com/shuttlelabs/shuttle/clock"
	"github.com/shuttlelabs/shuttle/core/state"
	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/eth/filters"
	"github.com/shuttlelabs/shuttle/evmexec"
	"github.com/shuttlelabs/shuttle/fork"
	"github.com/shuttlelabs/shuttle/miner"
	"github.com/shuttlelabs/shuttle/sign"
	"github.com/shuttlelabs/shuttle/snapshot"
	"github.com/shuttlelabs/shuttle/txpool"
	"github.com/shuttlelabs/shuttle/types"
)

// txLocation indexes a mined transaction inside the chain.
type txLocation struct {
	blockHash [32]byte
	index     uint
}

// capture is the full engine snapshot stored per evm_snapshot id.
type capture struct {
	state  *state.StateDB
	clock  clock.Snapshot
	pool   txpool.Snapshot
	blocks []*ctypes.Block
	config Config
}

// Backend is the node engine. The RPC namespaces hold one *Backend and
// call nothing else.
type Backend struct {
	mu     sync.RWMutex
	config Config

	clk        *clock.Clock
	st         *state.StateDB
	pool       *txpool.Pool
	exec       *evmexec.Adapter
	forkClient *fork.Client
	cheats     *cheat.Controller
	signer     *sign.DevSigner
	snaps      *snapshot.Manager[capture]
	filterReg  *filters.Registry
	worker     *miner.Worker
	miner      *miner.Miner

	blocks      []*ctypes.Block
	blockByHash map[[32]byte]*ctypes.Block
	txIndex     map[[32]byte]txLocation

	newBlockFeed event.Feed
	instanceID   uuid.UUID
	startTime    time.Time

	logger log.Logger
}

// New assembles a node from cfg, dialing the fork endpoint when one is
// configured, funding the dev accounts and starting the mining loop and
// filter registry.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	b := &Backend{
		config:      cfg,
		clk:         clock.New(),
		cheats:      cheat.NewController(),
		snaps:       snapshot.NewManager[capture](),
		blockByHash: make(map[[32]byte]*ctypes.Block),
		txIndex:     make(map[[32]byte]txLocation),
		instanceID:  uuid.New(),
		startTime:   time.Now(),
		logger:      log.New("component", "backend"),
	}

	var err error
	if b.signer, err = sign.NewDevSigner(cfg.Mnemonic, cfg.Accounts); err != nil {
		return nil, err
	}
	if cfg.ForkURL != "" {
		b.forkClient, err = fork.Dial(ctx, fork.Config{URL: cfg.ForkURL, BlockNumber: cfg.ForkBlock})
		if err != nil {
			return nil, err
		}
	}
	b.st = state.New(b.forkClientRef())
	b.pool = txpool.New(cfg.order())
	b.exec = evmexec.NewAdapter(evmexec.NewSimpleInterpreter(), evmexec.DefaultCfg(cfg.ChainID))

	if err := b.fundGenesisAccounts(); err != nil {
		return nil, err
	}
	b.appendGenesisBlock()

	b.worker = miner.NewWorker(b.pool, b.exec, b.clk, b)
	b.miner = miner.NewMiner(b.worker, b.pool, b.miningMode())
	b.miner.Start()
	b.filterReg = filters.NewRegistry(b, cfg.FilterTimeout)

	b.logger.Info("node started",
		"chainId", cfg.ChainID, "accounts", cfg.Accounts,
		"forking", cfg.ForkURL != "", "instance", b.instanceID)
	return b, nil
}

// Close stops the mining loop and the filter registry.
func (b *Backend) Close() {
	b.miner.Stop()
	b.filterReg.Stop()
}

func (b *Backend) forkClientRef() state.DatabaseRef {
	if b.forkClient == nil {
		return nil
	}
	return b.forkClient
}

func (b *Backend) miningMode() miner.Mode {
	switch {
	case b.config.NoMining:
		return miner.Mode{Kind: miner.ModeNone}
	case b.config.BlockTimeSeconds > 0:
		return miner.Mode{Kind: miner.ModeInterval, Interval: time.Duration(b.config.BlockTimeSeconds) * time.Second}
	default:
		return miner.Mode{Kind: miner.ModeAuto}
	}
}

func (b *Backend) fundGenesisAccounts() error {
	balance := b.config.genesisBalance()
	for _, addr := range b.signer.Accounts() {
		if err := b.st.SetBalance(addr, balance); err != nil {
			return err
		}
	}
	return nil
}

// appendGenesisBlock seeds the chain container. When forking, the local
// chain continues from the pin: the genesis header carries the pin
// height so the first mined block lands at pin+1.
func (b *Backend) appendGenesisBlock() {
	number := uint64(0)
	if b.forkClient != nil {
		number = b.forkClient.Pin()
	}
	header := &ctypes.Header{
		Number:    number,
		Timestamp: b.clk.Next(),
		GasLimit:  b.config.GasLimit,
		Miner:     b.config.Coinbase,
		StateRoot: b.st.Root(),
	}
	header.Seal()
	genesis := ctypes.NewBlock(header, nil, nil)
	b.blocks = []*ctypes.Block{genesis}
	b.blockByHash[genesis.Hash()] = genesis
}

// miner.Chain implementation.

// BestHeader returns the chain tip.
func (b *Backend) BestHeader() *ctypes.Header {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.blocks[len(b.blocks)-1].Header
}

// WorldState exposes the live state to the worker.
func (b *Backend) WorldState() *state.StateDB { return b.st }

func (b *Backend) BlockGasLimit() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config.GasLimit
}

func (b *Backend) Coinbase() types.Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config.Coinbase
}

func (b *Backend) MinGasPrice() *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config.minGasPrice()
}

// CommitBlock appends a mined block, indexes its transactions, feeds the
// pool and fans the notification out to filters and subscribers.
// New-block notifications go out in commit order.
func (b *Backend) CommitBlock(block *ctypes.Block) {
	b.mu.Lock()
	b.blocks = append(b.blocks, block)
	b.blockByHash[block.Hash()] = block
	included := make([][32]byte, 0, len(block.Receipts))
	for _, receipt := range block.Receipts {
		b.txIndex[receipt.TxHash] = txLocation{blockHash: block.Hash(), index: receipt.TxIndex}
		included = append(included, receipt.TxHash)
	}
	b.mu.Unlock()

	b.pool.OnMinedBlock(included)
	b.newBlockFeed.Send(block)
}

// filters.Backend implementation.

func (b *Backend) SubscribeNewBlock(ch chan *ctypes.Block) event.Subscription {
	return b.newBlockFeed.Subscribe(ch)
}

func (b *Backend) SubscribeReadyTx(ch chan [32]byte) event.Subscription {
	return b.pool.SubscribeReady(ch)
}

func (b *Backend) BestBlockNumber() uint64 {
	return b.BestHeader().Number
}

// LogsInRange scans locally mined blocks in [from, to] against crit.
func (b *Backend) LogsInRange(from, to uint64, crit filters.Criteria) []*ctypes.Log {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*ctypes.Log
	for _, block := range b.blocks {
		n := block.Number()
		if n < from || n > to {
			continue
		}
		out = append(out, crit.BlockLogs(block)...)
	}
	return out
}

// Component accessors for the RPC layer.

func (b *Backend) Pool() *txpool.Pool         { return b.pool }
func (b *Backend) Filters() *filters.Registry { return b.filterReg }
func (b *Backend) Cheats() *cheat.Controller  { return b.cheats }
func (b *Backend) Signer() sign.Signer        { return b.signer }
func (b *Backend) Clock() *clock.Clock        { return b.clk }
func (b *Backend) Miner() *miner.Miner        { return b.miner }
func (b *Backend) ForkClient() *fork.Client   { return b.forkClient }
func (b *Backend) InstanceID() uuid.UUID      { return b.instanceID }
func (b *Backend) StartTime() time.Time       { return b.startTime }

// Uptime is how long the node has been running.
func (b *Backend) Uptime() time.Duration { return time.Since(b.startTime) }

func (b *Backend) ChainID() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config.ChainID
}

// GasPriceFloor is the suggestion returned by eth_gasPrice.
func (b *Backend) GasPriceFloor() *uint256.Int { return b.MinGasPrice() }

// Snapshot captures the whole engine and returns the snapshot id.
func (b *Backend) Snapshot() uint64 {
	b.mu.RLock()
	blocks := make([]*ctypes.Block, len(b.blocks))
	copy(blocks, b.blocks)
	cfg := b.config
	b.mu.RUnlock()

	snap := capture{
		state:  b.st.Copy(),
		clock:  b.clk.Snapshot(),
		pool:   b.pool.Snapshot(),
		blocks: blocks,
		config: cfg,
	}
	id := b.snaps.Add(snap)
	b.logger.Info("captured snapshot", "id", id, "height", blocks[len(blocks)-1].Number())
	return id
}

// RevertSnapshot restores the capture for id, discarding it and every
// younger snapshot. Returns false when id is unknown.
func (b *Backend) RevertSnapshot(id uint64) bool {
	snap, ok := b.snaps.Revert(id)
	if !ok {
		return false
	}
	b.st.Restore(snap.state)
	b.clk.Restore(snap.clock)
	b.pool.Restore(snap.pool)

	b.mu.Lock()
	b.config = snap.config
	b.blocks = snap.blocks
	b.rebuildIndexesLocked()
	b.mu.Unlock()
	b.logger.Info("reverted to snapshot", "id", id, "height", snap.blocks[len(snap.blocks)-1].Number())
	return true
}

func (b *Backend) rebuildIndexesLocked() {
	b.blockByHash = make(map[[32]byte]*ctypes.Block, len(b.blocks))
	b.txIndex = make(map[[32]byte]txLocation)
	for _, block := range b.blocks {
		b.blockByHash[block.Hash()] = block
		for _, receipt := range block.Receipts {
			b.txIndex[receipt.TxHash] = txLocation{blockHash: block.Hash(), index: receipt.TxIndex}
		}
	}
}

// Reset wipes the chain back to a fresh genesis, optionally retargeting
// the fork (anvil_reset).
func (b *Backend) Reset(ctx context.Context, forkURL string, forkBlock uint64) error {
	b.mu.Lock()
	if forkURL != "" {
		b.config.ForkURL = forkURL
	}
	if forkBlock != 0 {
		b.config.ForkBlock = forkBlock
	}
	cfg := b.config
	b.mu.Unlock()

	var newFork *fork.Client
	if cfg.ForkURL != "" {
		var err error
		newFork, err = fork.Dial(ctx, fork.Config{URL: cfg.ForkURL, BlockNumber: cfg.ForkBlock})
		if err != nil {
			return fmt.Errorf("backend: reset fork: %w", err)
		}
	}

	b.mu.Lock()
	b.forkClient = newFork
	b.mu.Unlock()

	b.st.Reset(b.forkClientRef())
	b.pool.Clear()
	b.snaps.Clear()
	if err := b.fundGenesisAccounts(); err != nil {
		return err
	}

	b.mu.Lock()
	b.blockByHash = make(map[[32]byte]*ctypes.Block)
	b.txIndex = make(map[[32]byte]txLocation)
	b.appendGenesisBlock()
	b.mu.Unlock()
	b.logger.Info("chain reset", "forking", cfg.ForkURL != "")
	return nil
}

// SetRpcUrl swaps the fork endpoint without resetting local state
// (anvil_setRpcUrl).
func (b *Backend) SetRpcUrl(ctx context.Context, url string) error {
	newFork, err := fork.Dial(ctx, fork.Config{URL: url})
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.config.ForkURL = url
	b.forkClient = newFork
	b.mu.Unlock()
	return nil
}
