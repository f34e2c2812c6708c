package ttypes

import (
	"sync"
	"sync/atomic"
)

// EpochCounter is the process-wide cancellation epoch. The driver is the
// single writer; the worker and scheduler treat it as read-only.
type EpochCounter struct {
	current atomic.Uint64

	mu      sync.Mutex
	changed chan struct{}
}

// Current returns the epoch in effect right now.
func (c *EpochCounter) Current() Epoch {
	return Epoch(c.current.Load())
}

// Advance moves to the next epoch and returns it. Must only be called by
// the driver, with its state lock held.
func (c *EpochCounter) Advance() Epoch {
	c.mu.Lock()
	e := Epoch(c.current.Add(1))
	if c.changed != nil {
		close(c.changed)
		c.changed = nil
	}
	c.mu.Unlock()
	return e
}

// Changed returns a channel that is closed by the next Advance. Callers
// must re-check staleness once it fires and call Changed again to wait
// for any later advance.
func (c *EpochCounter) Changed() <-chan struct{} {
	c.mu.Lock()
	if c.changed == nil {
		c.changed = make(chan struct{})
	}
	ch := c.changed
	c.mu.Unlock()
	return ch
}

// IsStale reports whether e belongs to a superseded generation.
func (c *EpochCounter) IsStale(e Epoch) bool {
	return uint64(e) < c.current.Load()
}
