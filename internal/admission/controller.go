// Package admission enforces the concurrency ceiling on active simulation runs.
package admission

import "sync"

// Controller counts execution slots against a fixed ceiling.
// A single mutex is the only source of truth for the count.
type Controller struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	rejected uint64
}

// New creates a controller admitting at most capacity concurrent runs.
// A capacity below one is treated as one.
func New(capacity int) *Controller {
	if capacity < 1 {
		capacity = 1
	}
	return &Controller{capacity: capacity}
}

// TryAdmit reserves a slot if one is free. It has no side effects on refusal
// other than counting the rejection.
func (c *Controller) TryAdmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inUse >= c.capacity {
		c.rejected++
		return false
	}
	c.inUse++
	return true
}

// Release returns a slot obtained from TryAdmit. Extra releases are ignored.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inUse > 0 {
		c.inUse--
	}
}

// InUse returns the number of reserved slots.
func (c *Controller) InUse() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inUse
}

// Available reports whether TryAdmit would currently succeed.
func (c *Controller) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inUse < c.capacity
}

// Capacity returns the configured ceiling.
func (c *Controller) Capacity() int {
	return c.capacity
}

// Rejected returns the number of refused admissions.
func (c *Controller) Rejected() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected
}
