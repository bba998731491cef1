// Package clock implements the logical time source the backend and miner
// read block timestamps from. It is a pure offset/override over
// wall-clock time so that
// evm_increaseTime / evm_setNextBlockTimestamp / anvil_setBlockTimestampInterval
// behave deterministically without requiring the host clock to move.
package clock

import (
	"sync"
	"time"
)

// Clock is a mutex-guarded monotonically increasing logical time source.
type Clock struct {
	mu sync.Mutex

	offset       time.Duration // added to wall-clock Now()
	nextOverride *int64        // one-shot override for the next Next() call, unix seconds
	interval     *uint64       // if set, next timestamp = lastBlock + interval
	lastBlock    int64         // timestamp handed out by the most recent Next()

	now func() time.Time // overridable for tests
}

func New() *Clock {
	return &Clock{now: time.Now}
}

// NewAt builds a Clock whose wall-clock reference is t instead of the real
// time.Now, for deterministic tests.
func NewAt(t time.Time) *Clock {
	c := &Clock{}
	c.now = func() time.Time { return t }
	return c
}

// NowUnix returns the current logical time, in unix seconds, without
// advancing any per-block state.
func (c *Clock) NowUnix() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *Clock) nowLocked() int64 {
	return c.now().Add(c.offset).Unix()
}

// Next computes the timestamp for the block about to be mined and records
// it as lastBlock. Precedence: one-shot override, then interval-from-last,
// then wall-clock (never going backwards relative to lastBlock).
func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ts int64
	switch {
	case c.nextOverride != nil:
		ts = *c.nextOverride
		c.nextOverride = nil
	case c.interval != nil:
		ts = c.lastBlock + int64(*c.interval)
	default:
		ts = c.nowLocked()
		if ts <= c.lastBlock {
			ts = c.lastBlock + 1
		}
	}
	c.lastBlock = ts
	return ts
}

// IncreaseTime adds delta to every future wall-clock read (evm_increaseTime).
// Returns the new effective offset in seconds.
func (c *Clock) IncreaseTime(delta time.Duration) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += delta
	return int64(c.offset.Seconds())
}

// SetTime pins the logical clock to exactly ts (unix seconds), returning
// the number of seconds jumped relative to the previous logical time
// (evm_setTime semantics).
func (c *Clock) SetTime(ts int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.nowLocked()
	c.offset += time.Duration(ts-prev) * time.Second
	return ts - prev
}

// SetNextBlockTimestamp sets a one-shot override consumed by the next
// Next() call.
func (c *Clock) SetNextBlockTimestamp(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextOverride = &ts
}

// SetBlockTimestampInterval makes every future block's timestamp
// lastBlock + seconds, until RemoveBlockTimestampInterval is called.
func (c *Clock) SetBlockTimestampInterval(seconds uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = &seconds
}

func (c *Clock) RemoveBlockTimestampInterval() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	had := c.interval != nil
	c.interval = nil
	return had
}

// Snapshot captures everything needed to restore this clock on
// evm_revert.
type Snapshot struct {
	offset       time.Duration
	nextOverride *int64
	interval     *uint64
	lastBlock    int64
}

func (c *Clock) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{offset: c.offset, lastBlock: c.lastBlock}
	if c.nextOverride != nil {
		v := *c.nextOverride
		s.nextOverride = &v
	}
	if c.interval != nil {
		v := *c.interval
		s.interval = &v
	}
	return s
}

func (c *Clock) Restore(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = s.offset
	c.lastBlock = s.lastBlock
	c.nextOverride = s.nextOverride
	c.interval = s.interval
}
