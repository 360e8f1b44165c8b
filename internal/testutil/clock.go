package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the first instant reported by a DeterministicClock unless
// another one is given.
var DefaultEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a Clock port for tests. Every NowISO call advances
// the clock by one step, so timestamps are distinct, ordered, and identical
// across runs.
//
// Unlike hostport.SystemClock, DeterministicClock can be reset and moved
// forward explicitly, which is how tests cross a replay TTL.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	epoch time.Time
	step  time.Duration
	seq   int64
	skew  time.Duration
}

// NewDeterministicClock creates a clock at DefaultEpoch that advances one
// millisecond per reading.
func NewDeterministicClock() *DeterministicClock {
	return NewDeterministicClockAt(DefaultEpoch, time.Millisecond)
}

// NewDeterministicClockAt creates a clock starting at epoch that advances
// by step per reading.
func NewDeterministicClockAt(epoch time.Time, step time.Duration) *DeterministicClock {
	return &DeterministicClock{epoch: epoch.UTC(), step: step}
}

// NowISO returns the next timestamp. The first call returns the epoch.
func (c *DeterministicClock) NowISO() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.epoch.Add(time.Duration(c.seq)*c.step + c.skew)
	c.seq++
	return t.Format("2006-01-02T15:04:05.000Z07:00")
}

// Current returns the number of readings taken so far.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Advance moves the clock forward by d without taking a reading.
func (c *DeterministicClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skew += d
}

// Reset returns the clock to its epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
	c.skew = 0
}
