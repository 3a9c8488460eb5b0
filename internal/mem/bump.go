// Package mem hands out physical memory to the kernel.
package mem

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
)

var (
	ErrOutOfMemory   = errors.New("out of memory")
	ErrUninitialized = errors.New("allocator not initialized")
	ErrBadAlignment  = errors.New("alignment is not a power of two")
)

// BumpAllocator carves allocations from one physical range in increasing
// address order. Memory is never returned.
type BumpAllocator struct {
	mu    sync.Mutex
	ready bool
	start uint64
	next  uint64
	end   uint64
}

// Init sets the managed range to [start, end). It may be called again to
// move the heap, discarding the previous state.
func (a *BumpAllocator) Init(start, end uint64) error {
	if end < start {
		return fmt.Errorf("mem: heap end %#x below start %#x", end, start)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.start, a.next, a.end = start, start, end
	a.ready = true
	return nil
}

// Allocate reserves size bytes aligned to align and returns their address.
// An alignment of zero means byte alignment.
func (a *BumpAllocator) Allocate(size, align uint64) (uint64, error) {
	if align == 0 {
		align = 1
	}
	if bits.OnesCount64(align) != 1 {
		return 0, fmt.Errorf("mem: align %d: %w", align, ErrBadAlignment)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ready {
		return 0, ErrUninitialized
	}

	addr, carry := bits.Add64(a.next, align-1, 0)
	if carry != 0 {
		return 0, ErrOutOfMemory
	}
	addr &^= align - 1
	end, carry := bits.Add64(addr, size, 0)
	if carry != 0 || end > a.end {
		return 0, fmt.Errorf("mem: %d bytes: %w", size, ErrOutOfMemory)
	}
	a.next = end
	return addr, nil
}

// Available returns the bytes left between the bump pointer and the end.
func (a *BumpAllocator) Available() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.end - a.next
}

// Range returns the managed range.
func (a *BumpAllocator) Range() (start, end uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.start, a.end
}
