package tensor

import (
	"fmt"
	"unsafe"
)

// View is a borrowed float32 buffer interpreted with an explicit Shape.
//
// Invariant: len(Data) >= Shape.NumElements(). The view does not own Data;
// whoever produced the slice (normally the arena) tracks its lifetime.
type View struct {
	Shape Shape
	Data  []float32
}

// NewView wraps data with shape, trimming data to exactly NumElements.
// It returns an error when data is too short to hold the shape.
func NewView(shape Shape, data []float32) (View, error) {
	if err := shape.Validate(); err != nil {
		return View{}, err
	}
	n := shape.NumElements()
	if len(data) < n {
		return View{}, fmt.Errorf("buffer holds %d elements, shape %v needs %d", len(data), shape, n)
	}
	return View{Shape: shape, Data: data[:n]}, nil
}

// MustView is NewView that panics on error. Intended for tests and for
// buffers whose size was derived from the same shape.
func MustView(shape Shape, data []float32) View {
	v, err := NewView(shape, data)
	if err != nil {
		panic(err)
	}
	return v
}

// Zeros returns a heap-backed view. Only tests and host-side tooling use it;
// the inference path takes all buffers from the arena.
func Zeros(shape Shape) View {
	return View{Shape: shape, Data: make([]float32, shape.NumElements())}
}

// At returns element (n, c, y, x).
func (v View) At(n, c, y, x int) float32 {
	return v.Data[v.Shape.Offset(n, c, y, x)]
}

// Set writes element (n, c, y, x).
func (v View) Set(n, c, y, x int, val float32) {
	v.Data[v.Shape.Offset(n, c, y, x)] = val
}

// Channel returns the H*W plane of channel c in batch n.
func (v View) Channel(n, c int) []float32 {
	start := (n*v.Shape.C + c) * v.Shape.Plane()
	return v.Data[start : start+v.Shape.Plane()]
}

// Bytes reinterprets the view's elements as raw bytes without copying.
// Used at the hardware boundary for cache maintenance ranges.
func (v View) Bytes() []byte {
	return Float32Bytes(v.Data[:v.Shape.NumElements()])
}

// Float32Bytes reinterprets f as a byte slice without copying.
func Float32Bytes(f []float32) []byte {
	if len(f) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy reinterpretation, length derived from len(f)
	return unsafe.Slice((*byte)(unsafe.Pointer(&f[0])), len(f)*Float32Size)
}

// BytesFloat32 reinterprets b as a float32 slice without copying.
// b must be 4-byte aligned and its length a multiple of 4.
func BytesFloat32(b []byte) []float32 {
	if len(b) < Float32Size {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy reinterpretation, caller guarantees alignment
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/Float32Size)
}

// Aligned4 reports whether the first byte of b sits on a 4-byte boundary.
func Aligned4(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&b[0]))%Float32Size == 0
}
