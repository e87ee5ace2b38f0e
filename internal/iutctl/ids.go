package iutctl

import "sync/atomic"

// IDAllocator hands out controller IDs. The ID selects the device by its
// position in the adb device list when no serial is given.
type IDAllocator interface {
	Next() int
}

// Counter is an IDAllocator that counts up from zero. Safe for concurrent use.
type Counter struct {
	n atomic.Int64
}

// Compile-time check that Counter implements IDAllocator.
var _ IDAllocator = (*Counter)(nil)

// NewCounter returns a Counter whose first ID is 0.
func NewCounter() *Counter {
	return &Counter{}
}

// Next returns the next ID.
func (c *Counter) Next() int {
	return int(c.n.Add(1) - 1)
}

// defaultIDs is shared by controllers built without an allocator.
var defaultIDs = NewCounter()

// Fixed always returns the same ID.
type Fixed int

// Next implements IDAllocator.
func (f Fixed) Next() int { return int(f) }
