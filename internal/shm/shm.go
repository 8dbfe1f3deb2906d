// Package shm provides an anonymous shared memory mapping, the backing
// store a RingBuffer uses when its producer and consumer are meant to be
// able to live in separate OS processes rather than goroutines.
package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Region is an anonymous MAP_SHARED mapping.
type Region struct {
	data []byte
}

// Alloc maps size bytes of anonymous, shared, zero-filled memory.
func Alloc(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: invalid size %d", size)
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap failed: %w", err)
	}
	return &Region{data: data}, nil
}

// Bytes returns the mapped region.
func (r *Region) Bytes() []byte {
	return r.data
}

// Close unmaps the region.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}
