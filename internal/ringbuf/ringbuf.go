// Package ringbuf implements the lock-free single-producer/single-consumer
// byte ring buffer shared between the audio device and the transfer engine.
//
// Exactly one producer and one consumer goroutine may call the corresponding
// half of the API; acquire/commit pairs are the only synchronisation point
// and involve no allocation, no blocking and no system calls.
package ringbuf

import (
	"sync/atomic"

	"github.com/rileyhorrix/intercom/internal/shm"
)

// Backing selects where a RingBuffer's byte arena lives.
type Backing int

const (
	// Private backs the ring buffer with process-local memory. Use this
	// when producer and consumer are goroutines in the same process.
	Private Backing = iota
	// Shared backs the ring buffer's byte arena with an anonymous shared
	// mapping. The w and r cursors are not in the mapping: they stay in the
	// RingBuffer value, so another process sharing the bytes does not see
	// this buffer's cursor updates.
	Shared
)

// RingBuffer is a fixed-capacity SPSC byte queue.
//
// w is the cumulative number of bytes committed by the producer; r is the
// cumulative number of bytes committed by the consumer. Both only ever grow,
// and readable bytes are w-r modulo 2*capacity. Placing them first keeps
// them 8-byte aligned even on 32-bit ARM.
type RingBuffer struct {
	w int64
	r int64

	buf      []byte
	capacity int64
	backing  Backing
	region   *shm.Region // non-nil only when backing == Shared
}

// New creates a process-local ring buffer of the given byte capacity.
func New(capacity int) *RingBuffer {
	return &RingBuffer{
		buf:      make([]byte, capacity),
		capacity: int64(capacity),
		backing:  Private,
	}
}

// NewShared creates a ring buffer whose byte arena is an anonymous shared
// mapping. Only the bytes are shared; the cursors remain process-local
// fields of the returned RingBuffer. The returned RingBuffer owns the
// mapping; call Close to release it.
func NewShared(capacity int) (*RingBuffer, error) {
	region, err := shm.Alloc(capacity)
	if err != nil {
		return nil, err
	}
	return &RingBuffer{
		buf:      region.Bytes(),
		capacity: int64(capacity),
		backing:  Shared,
		region:   region,
	}, nil
}

// Close releases the shared mapping backing the buffer, if any.
func (rb *RingBuffer) Close() error {
	if rb.region != nil {
		return rb.region.Close()
	}
	return nil
}

// Capacity returns the buffer's fixed byte capacity.
func (rb *RingBuffer) Capacity() int {
	return int(rb.capacity)
}

// AcquireRead returns a contiguous slice of up to max readable bytes. The
// slice aliases the buffer's backing array; the caller must not retain it
// past the matching CommitRead. If the logical readable region straddles
// the wrap boundary, only the prefix up to the boundary is returned — a
// second AcquireRead yields the remainder.
func (rb *RingBuffer) AcquireRead(max int) ([]byte, int) {
	w := atomic.LoadInt64(&rb.w)
	r := rb.r // consumer owns r

	avail := w - r
	if avail <= 0 {
		return nil, 0
	}

	n := int64(max)
	if n > avail {
		n = avail
	}

	pos := r % rb.capacity
	if room := rb.capacity - pos; n > room {
		n = room
	}
	if n == 0 {
		return nil, 0
	}
	return rb.buf[pos : pos+n], int(n)
}

// CommitRead advances the read cursor by n bytes. n must be no greater than
// the actual count returned by the preceding AcquireRead.
func (rb *RingBuffer) CommitRead(n int) {
	if n <= 0 {
		return
	}
	atomic.StoreInt64(&rb.r, rb.r+int64(n))
}

// AcquireWrite returns a contiguous slice of up to max writable bytes,
// analogous to AcquireRead.
func (rb *RingBuffer) AcquireWrite(max int) ([]byte, int) {
	r := atomic.LoadInt64(&rb.r)
	w := rb.w // producer owns w

	free := rb.capacity - (w - r)
	if free <= 0 {
		return nil, 0
	}

	n := int64(max)
	if n > free {
		n = free
	}

	pos := w % rb.capacity
	if room := rb.capacity - pos; n > room {
		n = room
	}
	if n == 0 {
		return nil, 0
	}
	return rb.buf[pos : pos+n], int(n)
}

// CommitWrite advances the write cursor by n bytes, publishing those bytes
// to the consumer. n must be no greater than the actual count returned by
// the preceding AcquireWrite.
func (rb *RingBuffer) CommitWrite(n int) {
	if n <= 0 {
		return
	}
	atomic.StoreInt64(&rb.w, rb.w+int64(n))
}

// SeekRead advances the read cursor by n bytes without returning any data,
// used to discard stale content.
func (rb *RingBuffer) SeekRead(n int) {
	rb.CommitRead(n)
}

// SeekWrite advances the write cursor by n bytes without writing any data.
func (rb *RingBuffer) SeekWrite(n int) {
	rb.CommitWrite(n)
}

// PointerDistance returns the signed count of currently readable bytes.
func (rb *RingBuffer) PointerDistance() int32 {
	w := atomic.LoadInt64(&rb.w)
	r := atomic.LoadInt64(&rb.r)
	return int32(w - r)
}
