package exchange

import (
	"fmt"
	"sync"
)

// PortAllocator hands out UDP relay ports from a fixed range by linear
// scan, freeing them on relay teardown so concurrent calls never collide
// on the same port.
type PortAllocator struct {
	mu   sync.Mutex
	min  uint16
	max  uint16
	used map[uint16]bool
}

// NewPortAllocator creates an allocator over the inclusive range
// [min, max].
func NewPortAllocator(min, max uint16) *PortAllocator {
	return &PortAllocator{
		min:  min,
		max:  max,
		used: make(map[uint16]bool),
	}
}

// Allocate returns the lowest free port in range, or an error if the
// range is exhausted.
func (a *PortAllocator) Allocate() (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for p := a.min; ; p++ {
		if !a.used[p] {
			a.used[p] = true
			return p, nil
		}
		if p == a.max {
			break
		}
	}
	return 0, fmt.Errorf("exchange: no free udp port in [%d, %d]", a.min, a.max)
}

// Free releases a previously allocated port.
func (a *PortAllocator) Free(port uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.used, port)
}
