package driver

import "sync/atomic"

// IDStrategy decides who assigns vertex identifiers.
type IDStrategy interface {
	// Allocate returns an identifier to write a new vertex under, or false
	// when the backend assigns identifiers itself.
	Allocate() (int64, bool)

	// Restart moves the strategy past observed, the largest identifier
	// found in the backend.
	Restart(observed int64)
}

// NativeIDs leaves identity to the backend's auto-increment.
type NativeIDs struct{}

func (NativeIDs) Allocate() (int64, bool) { return 0, false }
func (NativeIDs) Restart(int64)           {}

// CounterIDs allocates identifiers from a process-wide monotonically
// increasing counter. It is safe for concurrent use.
type CounterIDs struct {
	n atomic.Int64
}

// NewCounterIDs returns a counter whose first allocation is 1.
func NewCounterIDs() *CounterIDs {
	return &CounterIDs{}
}

// Allocate returns the next identifier.
func (c *CounterIDs) Allocate() (int64, bool) {
	return c.n.Add(1), true
}

// Restart guarantees that every later allocation is greater than observed.
// It never moves the counter backwards.
func (c *CounterIDs) Restart(observed int64) {
	for {
		cur := c.n.Load()
		if observed <= cur {
			return
		}
		if c.n.CompareAndSwap(cur, observed) {
			return
		}
	}
}

// Current returns the last allocated (or restarted-to) identifier.
func (c *CounterIDs) Current() int64 {
	return c.n.Load()
}

// Engines that number from zero are shifted by one at the boundary, since
// identifier 0 means "unwritten".
func toZeroBased(id int64) int64   { return id - 1 }
func fromZeroBased(id int64) int64 { return id + 1 }
