package pbx

import "sync"

// Cursor tracks the sequence number of the last accepted stream frame.
// It survives reconnects; only a new process starts it at zero.
type Cursor struct {
	mu   sync.Mutex
	last int64
}

// Accept reports whether seq is newer than every previously accepted
// sequence, advancing the cursor when it is.
func (c *Cursor) Accept(seq int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq <= c.last {
		return false
	}
	c.last = seq
	return true
}

// Value returns the last accepted sequence.
func (c *Cursor) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
