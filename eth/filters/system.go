package filters

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	ctypes "github.com/shuttlelabs/shuttle/core/types"
)

// DefaultTimeout evicts filters that have not been polled for this long.
const DefaultTimeout = 5 * time.Minute

// Backend is the chain surface the registry consumes: block and
// ready-transaction broadcast streams plus historic log retrieval for
// filter prefetch and eth_getFilterLogs.
type Backend interface {
	SubscribeNewBlock(ch chan *ctypes.Block) event.Subscription
	SubscribeReadyTx(ch chan [32]byte) event.Subscription
	BestBlockNumber() uint64
	LogsInRange(from, to uint64, crit Criteria) []*ctypes.Log
}

type kind int

const (
	logsKind kind = iota
	blocksKind
	pendingTxKind
)

// filter is one installed filter. Its accumulation buffers have their
// own mutex so polls never contend with registry installs.
type filter struct {
	kind kind
	crit Criteria

	mu         sync.Mutex
	logs       []*ctypes.Log
	hashes     [][32]byte
	lastPolled time.Time
}

func (f *filter) pushLogs(logs []*ctypes.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, logs...)
}

func (f *filter) pushHash(h [32]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashes = append(f.hashes, h)
}

// Registry stores filters by opaque id and feeds them from the chain's
// broadcast streams. One goroutine multiplexes delivery and TTL
// eviction.
type Registry struct {
	backend Backend
	timeout time.Duration

	mu      sync.Mutex
	filters map[rpc.ID]*filter

	blockCh  chan *ctypes.Block
	txCh     chan [32]byte
	blockSub event.Subscription
	txSub    event.Subscription
	quit     chan struct{}

	logger log.Logger
}

func NewRegistry(backend Backend, timeout time.Duration) *Registry {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	r := &Registry{
		backend: backend,
		timeout: timeout,
		filters: make(map[rpc.ID]*filter),
		blockCh: make(chan *ctypes.Block, 16),
		txCh:    make(chan [32]byte, 128),
		quit:    make(chan struct{}),
		logger:  log.New("component", "filters"),
	}
	r.blockSub = backend.SubscribeNewBlock(r.blockCh)
	r.txSub = backend.SubscribeReadyTx(r.txCh)
	go r.loop()
	return r
}

func (r *Registry) Stop() {
	close(r.quit)
	r.blockSub.Unsubscribe()
	r.txSub.Unsubscribe()
}

func (r *Registry) loop() {
	evict := time.NewTicker(r.timeout / 2)
	defer evict.Stop()
	for {
		select {
		case <-r.quit:
			return
		case block := <-r.blockCh:
			r.deliverBlock(block)
		case hash := <-r.txCh:
			r.deliverPendingTx(hash)
		case <-evict.C:
			r.evictStale()
		case <-r.blockSub.Err():
			return
		}
	}
}

func (r *Registry) deliverBlock(block *ctypes.Block) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.filters {
		switch f.kind {
		case blocksKind:
			f.pushHash(block.Hash())
		case logsKind:
			if matched := f.crit.BlockLogs(block); len(matched) > 0 {
				f.pushLogs(matched)
			}
		}
	}
}

func (r *Registry) deliverPendingTx(hash [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.filters {
		if f.kind == pendingTxKind {
			f.pushHash(hash)
		}
	}
}

func (r *Registry) evictStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id, f := range r.filters {
		f.mu.Lock()
		stale := now.Sub(f.lastPolled) > r.timeout
		f.mu.Unlock()
		if stale {
			delete(r.filters, id)
			r.logger.Debug("evicted stale filter", "id", id)
		}
	}
}

func (r *Registry) install(f *filter) rpc.ID {
	id := rpc.NewID()
	f.lastPolled = time.Now()
	r.mu.Lock()
	r.filters[id] = f
	r.mu.Unlock()
	return id
}

// NewLogFilter installs a logs filter. A historic from_block triggers a
// one-time prefetch of matching logs before live delivery starts.
func (r *Registry) NewLogFilter(crit Criteria) rpc.ID {
	f := &filter{kind: logsKind, crit: crit}
	if crit.FromBlock != nil {
		best := r.backend.BestBlockNumber()
		if *crit.FromBlock <= best {
			to := best
			if crit.ToBlock != nil && *crit.ToBlock < to {
				to = *crit.ToBlock
			}
			f.logs = r.backend.LogsInRange(*crit.FromBlock, to, crit)
		}
	}
	return r.install(f)
}

// NewBlockFilter installs a filter collecting new block hashes.
func (r *Registry) NewBlockFilter() rpc.ID {
	return r.install(&filter{kind: blocksKind})
}

// NewPendingTxFilter installs a filter collecting the hashes of
// transactions entering the ready set.
func (r *Registry) NewPendingTxFilter() rpc.ID {
	return r.install(&filter{kind: pendingTxKind})
}

// Changes atomically swaps out and returns the accumulated delta. The
// boolean is false for an unknown id. Logs filters return []*types.Log,
// the other kinds [][32]byte.
func (r *Registry) Changes(id rpc.ID) (interface{}, bool) {
	r.mu.Lock()
	f, ok := r.filters[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPolled = time.Now()
	if f.kind == logsKind {
		out := f.logs
		f.logs = nil
		if out == nil {
			out = []*ctypes.Log{}
		}
		return out, true
	}
	out := f.hashes
	f.hashes = nil
	if out == nil {
		out = [][32]byte{}
	}
	return out, true
}

// Logs re-runs a logs filter over its full range, for eth_getFilterLogs.
// Returns false for an unknown or non-logs filter id.
func (r *Registry) Logs(id rpc.ID) ([]*ctypes.Log, bool) {
	r.mu.Lock()
	f, ok := r.filters[id]
	r.mu.Unlock()
	if !ok || f.kind != logsKind {
		return nil, false
	}
	f.mu.Lock()
	f.lastPolled = time.Now()
	crit := f.crit
	f.mu.Unlock()

	from := uint64(0)
	if crit.FromBlock != nil {
		from = *crit.FromBlock
	}
	to := r.backend.BestBlockNumber()
	if crit.ToBlock != nil && *crit.ToBlock < to {
		to = *crit.ToBlock
	}
	return r.backend.LogsInRange(from, to, crit), true
}

// Uninstall removes the filter, reporting whether it existed.
func (r *Registry) Uninstall(id rpc.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.filters[id]
	delete(r.filters, id)
	return ok
}
