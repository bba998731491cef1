// Package txpool implements the pending-transaction pool: a
// priority-ordered set with (sender, nonce) marker dependencies, ready
// promotion, replacement rules and ready-listener notification for the
// miner.
package txpool

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	ctypes "github.com/shuttlelabs/shuttle/core/types"
	"github.com/shuttlelabs/shuttle/types"
)

var (
	// ErrAlreadyImported rejects a duplicate of a pooled transaction.
	ErrAlreadyImported = errors.New("txpool: transaction already imported")
	// ErrReplacementUnderpriced rejects a (sender, nonce) conflict that
	// does not outbid the existing entry.
	ErrReplacementUnderpriced = errors.New("txpool: replacement transaction underpriced")
)

type entry struct {
	ptx   *ctypes.PoolTransaction
	hash  [32]byte
	ready bool
}

// Pool holds transactions waiting to be mined. All fields are guarded by
// a single mutex; operations are at worst linear in the
// pool size.
type Pool struct {
	mu    sync.Mutex
	order ctypes.Priority
	seq   uint64

	all      map[[32]byte]*entry
	byMarker map[types.Marker]*entry
	// satisfied holds every marker currently provided by a ready entry
	// or permanently by a mined transaction.
	satisfied map[types.Marker]satisfiedBy

	readyFeed event.Feed
	logger    log.Logger
}

type satisfiedBy uint8

const (
	byReadyEntry satisfiedBy = iota
	byChain
)

func New(order ctypes.Priority) *Pool {
	return &Pool{
		order:     order,
		all:       make(map[[32]byte]*entry),
		byMarker:  make(map[types.Marker]*entry),
		satisfied: make(map[types.Marker]satisfiedBy),
		logger:    log.New("component", "txpool"),
	}
}

// Order returns the configured priority mode.
func (p *Pool) Order() ctypes.Priority {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order
}

// NextSeq allocates the arrival sequence number for a new
// PoolTransaction.
func (p *Pool) NextSeq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	return p.seq
}

// Add inserts ptx, applying the replacement rule: a (sender, nonce)
// conflict is rejected unless the newcomer ranks strictly higher under
// the pool's priority order. Returns the transaction hash.
func (p *Pool) Add(ptx *ctypes.PoolTransaction) ([32]byte, error) {
	hash, err := ptx.Pending.Hash()
	if err != nil {
		return [32]byte{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.all[hash]; ok {
		return hash, ErrAlreadyImported
	}
	marker := ptx.Marker()
	if existing, ok := p.byMarker[marker]; ok {
		if !ptx.Less(existing.ptx, p.order) {
			return hash, ErrReplacementUnderpriced
		}
		p.removeLocked(existing, false)
		p.logger.Debug("replaced pooled transaction", "marker", marker, "old", existing.hash, "new", hash)
	}

	e := &entry{ptx: ptx, hash: hash}
	p.all[hash] = e
	p.byMarker[marker] = e
	if p.requiresSatisfiedLocked(ptx) {
		p.promoteLocked(e)
	} else {
		p.logger.Debug("queued future transaction", "marker", marker)
	}
	return hash, nil
}

func (p *Pool) requiresSatisfiedLocked(ptx *ctypes.PoolTransaction) bool {
	ok := true
	ptx.Requires.Each(func(m types.Marker) bool {
		if _, hit := p.satisfied[m]; !hit {
			ok = false
			return true
		}
		return false
	})
	return ok
}

// promoteLocked marks e ready, publishes its markers and cascades to any
// queued dependents that just became satisfiable.
func (p *Pool) promoteLocked(e *entry) {
	e.ready = true
	e.ptx.Provides.Each(func(m types.Marker) bool {
		if p.satisfied[m] != byChain {
			p.satisfied[m] = byReadyEntry
		}
		return false
	})
	p.readyFeed.Send(e.hash)
	p.logger.Debug("transaction ready", "hash", e.hash, "marker", e.ptx.Marker())

	for _, other := range p.byMarker {
		if !other.ready && p.requiresSatisfiedLocked(other.ptx) {
			p.promoteLocked(other)
		}
	}
}

// removeLocked detaches e. When demote is set, markers provided only by
// e are withdrawn and ready dependents fall back to queued.
func (p *Pool) removeLocked(e *entry, demote bool) {
	delete(p.all, e.hash)
	delete(p.byMarker, e.ptx.Marker())
	if !e.ready || !demote {
		if e.ready {
			// Keep chain-satisfied markers; withdraw only entry-provided ones.
			e.ptx.Provides.Each(func(m types.Marker) bool {
				if p.satisfied[m] == byReadyEntry {
					delete(p.satisfied, m)
				}
				return false
			})
		}
		return
	}
	e.ptx.Provides.Each(func(m types.Marker) bool {
		if p.satisfied[m] == byReadyEntry {
			delete(p.satisfied, m)
		}
		return false
	})
	p.demoteDependentsLocked()
}

// demoteDependentsLocked re-evaluates every ready entry until the ready
// set is self-consistent again.
func (p *Pool) demoteDependentsLocked() {
	for changed := true; changed; {
		changed = false
		for _, e := range p.byMarker {
			if e.ready && !p.requiresSatisfiedLocked(e.ptx) {
				e.ready = false
				e.ptx.Provides.Each(func(m types.Marker) bool {
					if p.satisfied[m] == byReadyEntry {
						delete(p.satisfied, m)
					}
					return false
				})
				changed = true
			}
		}
	}
}

// Drop removes the transaction with the given hash and returns it, or
// nil if absent (anvil_dropTransaction). Dependents that were ready only
// through it fall back to queued.
func (p *Pool) Drop(hash [32]byte) *ctypes.PoolTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.all[hash]
	if !ok {
		return nil
	}
	p.removeLocked(e, true)
	return e.ptx
}

// Get returns the pooled transaction with the given hash, if any.
func (p *Pool) Get(hash [32]byte) *ctypes.PoolTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.all[hash]; ok {
		return e.ptx
	}
	return nil
}

// Ready returns the ready transactions in executable order: priority
// order, with every transaction after all of its dependencies.
func (p *Pool) Ready() []*ctypes.PoolTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readyLocked()
}

func (p *Pool) readyLocked() []*ctypes.PoolTransaction {
	remaining := make([]*entry, 0, len(p.all))
	for _, e := range p.all {
		if e.ready {
			remaining = append(remaining, e)
		}
	}
	emitted := make(map[types.Marker]bool)
	out := make([]*ctypes.PoolTransaction, 0, len(remaining))
	for len(remaining) > 0 {
		best := -1
		for i, e := range remaining {
			if !p.emittableLocked(e.ptx, emitted) {
				continue
			}
			if best < 0 || e.ptx.Less(remaining[best].ptx, p.order) {
				best = i
			}
		}
		if best < 0 {
			// A ready entry depends on a marker nothing emits; should not
			// happen, but never spin.
			p.logger.Error("ready set is not topologically closed", "stuck", len(remaining))
			break
		}
		e := remaining[best]
		out = append(out, e.ptx)
		e.ptx.Provides.Each(func(m types.Marker) bool {
			emitted[m] = true
			return false
		})
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return out
}

// emittableLocked reports whether every requirement of ptx is met by the
// chain or by an already emitted transaction.
func (p *Pool) emittableLocked(ptx *ctypes.PoolTransaction, emitted map[types.Marker]bool) bool {
	ok := true
	ptx.Requires.Each(func(m types.Marker) bool {
		if emitted[m] || p.satisfied[m] == byChain {
			return false
		}
		ok = false
		return true
	})
	return ok
}

// Pending returns the queued transactions whose dependencies are not yet
// satisfied (future nonces).
func (p *Pool) Pending() []*ctypes.PoolTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*ctypes.PoolTransaction, 0)
	for _, e := range p.all {
		if !e.ready {
			out = append(out, e.ptx)
		}
	}
	return out
}

// Len returns the total number of pooled transactions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// NextNonce returns the nonce a fresh transaction from sender should
// carry: one past the highest pooled nonce, or the on-chain nonce when
// nothing is pooled.
func (p *Pool) NextNonce(sender types.Address, onChain uint64) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := onChain
	for _, e := range p.all {
		if e.ptx.Sender == sender && e.ptx.Pending.Nonce >= next {
			next = e.ptx.Pending.Nonce + 1
		}
	}
	return next
}

// OnMinedBlock removes the included transactions and promotes their
// dependents; the included markers stay satisfied permanently since the
// chain now provides them.
func (p *Pool) OnMinedBlock(included [][32]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hash := range included {
		e, ok := p.all[hash]
		if !ok {
			continue
		}
		delete(p.all, hash)
		delete(p.byMarker, e.ptx.Marker())
		e.ptx.Provides.Each(func(m types.Marker) bool {
			p.satisfied[m] = byChain
			return false
		})
	}
	for _, e := range p.byMarker {
		if !e.ready && p.requiresSatisfiedLocked(e.ptx) {
			p.promoteLocked(e)
		}
	}
}

// SubscribeReady registers a listener for the hash of every transaction
// that turns ready. Unsubscribing (or dropping the subscription) is the
// cancellation path.
func (p *Pool) SubscribeReady(ch chan<- [32]byte) event.Subscription {
	return p.readyFeed.Subscribe(ch)
}

// Snapshot captures the pool for evm_snapshot.
type Snapshot struct {
	seq       uint64
	entries   []*entry
	satisfied map[types.Marker]satisfiedBy
}

func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{seq: p.seq, satisfied: make(map[types.Marker]satisfiedBy, len(p.satisfied))}
	for _, e := range p.all {
		cp := *e
		s.entries = append(s.entries, &cp)
	}
	for m, by := range p.satisfied {
		s.satisfied[m] = by
	}
	return s
}

// Restore resets the pool to a captured snapshot.
func (p *Pool) Restore(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq = s.seq
	p.all = make(map[[32]byte]*entry, len(s.entries))
	p.byMarker = make(map[types.Marker]*entry, len(s.entries))
	p.satisfied = make(map[types.Marker]satisfiedBy, len(s.satisfied))
	for _, e := range s.entries {
		cp := *e
		p.all[cp.hash] = &cp
		p.byMarker[cp.ptx.Marker()] = &cp
	}
	for m, by := range s.satisfied {
		p.satisfied[m] = by
	}
}

// Clear empties the pool (anvil_reset).
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.all = make(map[[32]byte]*entry)
	p.byMarker = make(map[types.Marker]*entry)
	p.satisfied = make(map[types.Marker]satisfiedBy)
}
