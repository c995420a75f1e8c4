// Package arena implements the fixed-capacity feature-map pool that backs every
// transient activation buffer of an inference run.
//
// The pool is a single owned byte buffer. Allocation is first-fit over a free
// list kept in ascending address order; Free re-inserts a block at its address
// position and coalesces it with both physical neighbours, so a run of frees
// always restores the largest contiguous span that was handed out.
//
// Bookkeeping lives in side structures, not in the pool bytes: the free list is
// a sorted slice of (offset, size) records and live blocks are tracked in a
// map keyed by block offset. Every block still reserves HeaderSize bytes in
// front of its payload so that capacity accounting matches an in-band header
// layout and handles are never zero.
//
// An Arena is owned by exactly one caller and is not safe for concurrent use.
package arena

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"unsafe"

	"github.com/born-ml/yolo/internal/tensor"
)

const (
	// Alignment is the payload size granularity and the base alignment.
	Alignment = 8

	// HeaderSize is reserved in front of every block.
	HeaderSize = 16

	// minSplit is the smallest surplus worth turning into a new free block.
	minSplit = 2 * HeaderSize
)

// Handle identifies a live allocation. Its value is the payload offset within
// the pool, which is always >= HeaderSize.
type Handle int

// Region is a block extent in pool coordinates, header included.
type Region struct {
	Offset int
	Size   int
}

// End returns the first offset past the region.
func (r Region) End() int {
	return r.Offset + r.Size
}

// Stats is a snapshot of arena usage.
type Stats struct {
	Capacity    int // Usable pool bytes
	InUse       int // Bytes held by live blocks, headers included
	Peak        int // High-water mark of InUse since New or Reset
	LargestFree int
	LiveBlocks  int
	FreeBlocks  int
}

// Arena is a first-fit, address-ordered, coalescing pool allocator.
type Arena struct {
	buf   []byte
	free  []Region    // Ascending by Offset, never two adjacent records
	live  map[int]int // Block offset -> block size
	inUse int
	peak  int
}

// New claims capacity bytes from the Go heap and returns an arena with one
// free block spanning the whole pool. Capacity is rounded down to Alignment.
func New(capacity int) (*Arena, error) {
	capacity &^= Alignment - 1
	if capacity < HeaderSize+Alignment {
		return nil, ErrNoBacking
	}
	return newArena(alignedBytes(capacity)), nil
}

// NewFromBuffer builds an arena over caller-provided memory, typically a
// statically reserved platform region. The region is trimmed so that it
// starts and ends on an Alignment boundary.
func NewFromBuffer(buf []byte) (*Arena, error) {
	if len(buf) == 0 {
		return nil, ErrNoBacking
	}
	if mod := uintptr(unsafe.Pointer(&buf[0])) % Alignment; mod != 0 {
		skip := int(Alignment - mod)
		if skip >= len(buf) {
			return nil, ErrNoBacking
		}
		buf = buf[skip:]
	}
	capacity := len(buf) &^ (Alignment - 1)
	if capacity < HeaderSize+Alignment {
		return nil, ErrNoBacking
	}
	return newArena(buf[:capacity:capacity]), nil
}

func newArena(buf []byte) *Arena {
	a := &Arena{buf: buf}
	a.Reset()
	return a
}

// alignedBytes returns a byte slice whose backing array is 8-byte aligned.
func alignedBytes(size int) []byte {
	words := make([]uint64, (size+7)/8)
	//nolint:gosec // unsafe.Slice over a []uint64 backing array, length bounded by allocation
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
}

func alignUp(n int) int {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// Capacity returns the usable pool size in bytes.
func (a *Arena) Capacity() int {
	return len(a.buf)
}

// Alloc reserves size payload bytes and returns a handle to them.
//
// The request is rounded up to Alignment and HeaderSize is added. The free
// list is walked from the lowest address and the first block that fits is
// used. When the block's surplus is at least 2*HeaderSize the surplus is split
// off as a new free block at the same list position; otherwise the whole
// block is consumed.
//
// On failure the returned error is an *AllocError wrapping ErrOutOfMemory.
// Alloc never retries.
func (a *Arena) Alloc(size int) (Handle, error) {
	if a == nil || a.buf == nil {
		return 0, ErrNoBacking
	}
	if size <= 0 {
		return 0, ErrInvalidSize
	}
	if size > len(a.buf) {
		return 0, a.outOfMemory(size, size)
	}

	need := alignUp(size) + HeaderSize
	if need <= len(a.buf) {
		for i, blk := range a.free {
			if blk.Size < need {
				continue
			}

			taken := blk
			if blk.Size-need >= minSplit {
				taken.Size = need
				a.free[i] = Region{Offset: blk.Offset + need, Size: blk.Size - need}
			} else {
				a.free = slices.Delete(a.free, i, i+1)
			}

			a.live[taken.Offset] = taken.Size
			a.inUse += taken.Size
			if a.inUse > a.peak {
				a.peak = a.inUse
			}
			return Handle(taken.Offset + HeaderSize), nil
		}
	}

	return 0, a.outOfMemory(size, need)
}

func (a *Arena) outOfMemory(requested, needed int) *AllocError {
	return &AllocError{
		Requested:   requested,
		Needed:      needed,
		LargestFree: a.LargestFree(),
		Capacity:    len(a.buf),
	}
}

// Free returns a block to the pool.
//
// The block is inserted at its address-sorted position, merged with the
// preceding free block when they touch, and then merged with the following
// free block when they touch.
func (a *Arena) Free(h Handle) error {
	if a == nil || a.buf == nil {
		return ErrNoBacking
	}
	off := int(h) - HeaderSize
	if off < 0 || int(h) >= len(a.buf) {
		return ErrOutOfBounds
	}
	size, ok := a.live[off]
	if !ok {
		return ErrNotAllocated
	}
	delete(a.live, off)
	a.inUse -= size

	i := sort.Search(len(a.free), func(j int) bool { return a.free[j].Offset > off })
	a.free = slices.Insert(a.free, i, Region{Offset: off, Size: size})

	if i > 0 && a.free[i-1].End() == off {
		a.free[i-1].Size += a.free[i].Size
		a.free = slices.Delete(a.free, i, i+1)
		i--
	}
	if i+1 < len(a.free) && a.free[i].End() == a.free[i+1].Offset {
		a.free[i].Size += a.free[i+1].Size
		a.free = slices.Delete(a.free, i+1, i+2)
	}
	return nil
}

// Reset discards every outstanding allocation and restores a single free
// block spanning the whole pool. Handles obtained before Reset are invalid.
func (a *Arena) Reset() {
	a.free = append(a.free[:0], Region{Offset: 0, Size: len(a.buf)})
	a.live = make(map[int]int)
	a.inUse = 0
	a.peak = 0
}

// LargestFree returns the size of the largest free block, header included.
// Used to explain allocation failures.
func (a *Arena) LargestFree() int {
	largest := 0
	for _, blk := range a.free {
		if blk.Size > largest {
			largest = blk.Size
		}
	}
	return largest
}

// Bytes returns the payload of a live block.
// Panics if h is not live.
func (a *Arena) Bytes(h Handle) []byte {
	off := int(h) - HeaderSize
	size, ok := a.live[off]
	if !ok {
		panic("arena: Bytes on a handle that is not live")
	}
	return a.buf[int(h) : off+size : off+size]
}

// Floats returns the first n float32 elements of a live block's payload.
// Panics if h is not live or the block is too small.
func (a *Arena) Floats(h Handle, n int) []float32 {
	b := a.Bytes(h)
	if n*tensor.Float32Size > len(b) {
		panic("arena: Floats exceeds block payload")
	}
	return tensor.BytesFloat32(b[:n*tensor.Float32Size])
}

// AllocFloats reserves room for n float32 values and returns the handle and
// the typed view in one step.
func (a *Arena) AllocFloats(n int) (Handle, []float32, error) {
	if a != nil && a.buf != nil && n > len(a.buf)/tensor.Float32Size {
		size := math.MaxInt
		if n <= math.MaxInt/tensor.Float32Size {
			size = n * tensor.Float32Size
		}
		return 0, nil, a.outOfMemory(size, size)
	}
	h, err := a.Alloc(n * tensor.Float32Size)
	if err != nil {
		return 0, nil, err
	}
	return h, a.Floats(h, n), nil
}

// Stats returns a usage snapshot.
func (a *Arena) Stats() Stats {
	return Stats{
		Capacity:    len(a.buf),
		InUse:       a.inUse,
		Peak:        a.peak,
		LargestFree: a.LargestFree(),
		LiveBlocks:  len(a.live),
		FreeBlocks:  len(a.free),
	}
}

// FreeBlocks returns a copy of the free list in address order.
func (a *Arena) FreeBlocks() []Region {
	return slices.Clone(a.free)
}

// LiveBlocks returns the live blocks sorted by address.
func (a *Arena) LiveBlocks() []Region {
	out := make([]Region, 0, len(a.live))
	for off, size := range a.live {
		out = append(out, Region{Offset: off, Size: size})
	}
	slices.SortFunc(out, func(x, y Region) int { return x.Offset - y.Offset })
	return out
}

// Check verifies the allocator invariants: free blocks are sorted, positive,
// in bounds and never touching; live blocks do not overlap free blocks or each
// other; live and free bytes together cover the whole pool.
func (a *Arena) Check() error {
	prevEnd := -1
	freeBytes := 0
	for i, blk := range a.free {
		if blk.Size <= 0 || blk.Offset < 0 || blk.End() > len(a.buf) {
			return fmt.Errorf("free block %d %+v out of bounds", i, blk)
		}
		if blk.Offset <= prevEnd {
			return fmt.Errorf("free block %d %+v not coalesced or out of order", i, blk)
		}
		prevEnd = blk.End()
		freeBytes += blk.Size
	}

	all := append(a.FreeBlocks(), a.LiveBlocks()...)
	slices.SortFunc(all, func(x, y Region) int { return x.Offset - y.Offset })
	for i := 1; i < len(all); i++ {
		if all[i].Offset < all[i-1].End() {
			return fmt.Errorf("blocks %+v and %+v overlap", all[i-1], all[i])
		}
	}
	if freeBytes+a.inUse != len(a.buf) {
		return fmt.Errorf("accounting mismatch: free %d + in use %d != capacity %d",
			freeBytes, a.inUse, len(a.buf))
	}
	return nil
}
