package acquire

import "sync/atomic"

// ErrorCounter tracks consecutive acquisition failures across both device
// roles. It only resets after a full adapter reset.
type ErrorCounter struct {
	n atomic.Int64
}

// Inc records one failure and returns the new count.
func (c *ErrorCounter) Inc() int {
	return int(c.n.Add(1))
}

// Count returns the current failure count.
func (c *ErrorCounter) Count() int {
	return int(c.n.Load())
}

// Reset zeroes the counter.
func (c *ErrorCounter) Reset() {
	c.n.Store(0)
}
