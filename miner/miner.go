package miner

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
)

// readyDebounce is how long Auto mode waits after the first ready signal
// before producing the block, batching a burst of submissions into one
// block.
const readyDebounce = 1000 * time.Millisecond

// ModeKind enumerates the MiningMode state machine.
type ModeKind int

const (
	// ModeNone never mines automatically; only explicit evm_mine /
	// anvil_mine calls produce blocks.
	ModeNone ModeKind = iota
	// ModeAuto mines shortly after the pool signals a ready transaction.
	ModeAuto
	// ModeInterval mines on a fixed cadence regardless of pool contents.
	ModeInterval
)

// Mode is the miner's scheduling configuration.
type Mode struct {
	Kind     ModeKind
	Interval time.Duration // used by ModeInterval
}

// ReadySource is the pool surface the scheduler listens on.
type ReadySource interface {
	SubscribeReady(ch chan<- [32]byte) event.Subscription
}

// Miner runs the scheduling loop around a Worker. Mode changes take
// effect immediately; the loop always drains ready notifications so the
// pool's feed never backs up, even in ModeNone.
type Miner struct {
	worker *Worker

	mu   sync.Mutex
	mode Mode

	readyCh  chan [32]byte
	readySub event.Subscription
	modeCh   chan Mode
	quit     chan struct{}
	done     chan struct{}

	logger log.Logger
}

func NewMiner(worker *Worker, pool ReadySource, mode Mode) *Miner {
	m := &Miner{
		worker:  worker,
		mode:    mode,
		readyCh: make(chan [32]byte, 128),
		modeCh:  make(chan Mode, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  log.New("component", "miner-loop"),
	}
	m.readySub = pool.SubscribeReady(m.readyCh)
	return m
}

// Start launches the scheduling loop.
func (m *Miner) Start() {
	go m.loop()
}

// Stop terminates the loop and unsubscribes from the pool.
func (m *Miner) Stop() {
	close(m.quit)
	<-m.done
	m.readySub.Unsubscribe()
}

// Mode returns the current scheduling mode.
func (m *Miner) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// SetMode reconfigures scheduling (evm_setAutomine /
// evm_setIntervalMining).
func (m *Miner) SetMode(mode Mode) {
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()
	// Collapse a pending unprocessed change; only the latest one counts.
	select {
	case <-m.modeCh:
	default:
	}
	m.modeCh <- mode
	m.logger.Debug("mining mode changed", "kind", mode.Kind, "interval", mode.Interval)
}

func (m *Miner) loop() {
	defer close(m.done)

	var (
		ticker    *time.Ticker
		tickC     <-chan time.Time
		debounceC <-chan time.Time
	)
	reconfigure := func(mode Mode) {
		if ticker != nil {
			ticker.Stop()
			ticker, tickC = nil, nil
		}
		if mode.Kind != ModeAuto {
			debounceC = nil
		}
		if mode.Kind == ModeInterval && mode.Interval > 0 {
			ticker = time.NewTicker(mode.Interval)
			tickC = ticker.C
		}
	}
	reconfigure(m.Mode())

	for {
		select {
		case <-m.quit:
			if ticker != nil {
				ticker.Stop()
			}
			return
		case mode := <-m.modeCh:
			reconfigure(mode)
		case <-m.readyCh:
			if m.Mode().Kind == ModeAuto && debounceC == nil {
				debounceC = time.After(readyDebounce)
			}
		case <-debounceC:
			debounceC = nil
			if _, err := m.worker.MineOne(context.Background()); err != nil {
				m.logger.Error("auto mine failed", "err", err)
			}
		case <-tickC:
			if _, err := m.worker.MineOne(context.Background()); err != nil {
				m.logger.Error("interval mine failed", "err", err)
			}
		case <-m.readySub.Err():
			return
		}
	}
}
