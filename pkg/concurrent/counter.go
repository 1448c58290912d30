// Package concurrent holds small lock-free primitives shared across the
// storage engine.
package concurrent

import "sync/atomic"

// Counter is a lock-free uint64 counter, used by the disk manager for
// page-id allocation and I/O bookkeeping.
type Counter struct {
	value uint64
}

// NewCounter creates a counter starting at 0.
func NewCounter() *Counter {
	return &Counter{}
}

// Inc increments the counter by 1 and returns the new value.
func (c *Counter) Inc() uint64 {
	return atomic.AddUint64(&c.value, 1)
}

// Load returns the current value.
func (c *Counter) Load() uint64 {
	return atomic.LoadUint64(&c.value)
}

// Store sets the counter to a specific value.
func (c *Counter) Store(value uint64) {
	atomic.StoreUint64(&c.value, value)
}
