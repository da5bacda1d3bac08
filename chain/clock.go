package chain

import (
	"sync/atomic"
	"time"
)

// Clock is the external, monotonic time source read once per accrual.
type Clock interface {
	// Now returns the current time in unix seconds.
	Now() uint64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() uint64 {
	return uint64(time.Now().Unix())
}

// ManualClock is a Clock that only moves when told to. It is used by tests and
// simulations.
type ManualClock struct {
	now atomic.Uint64
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start uint64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(start)
	return c
}

func (c *ManualClock) Now() uint64 {
	return c.now.Load()
}

// Advance moves the clock forward by d, truncated to whole seconds.
func (c *ManualClock) Advance(d time.Duration) {
	c.now.Add(uint64(d / time.Second))
}

// Set moves the clock to ts. Moving backwards is ignored.
func (c *ManualClock) Set(ts uint64) {
	for {
		cur := c.now.Load()
		if ts <= cur || c.now.CompareAndSwap(cur, ts) {
			return
		}
	}
}
