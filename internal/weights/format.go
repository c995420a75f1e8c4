// Package weights reads the flat float32 weight container the detector is
// exported to and resolves tensors by name.
//
// File layout (all integers little-endian u32):
//
//	[count]
//	count times:
//	  [name length][name bytes]
//	  [ndim][shape[0]] ... [shape[ndim-1]]
//	  [0-3 zero bytes so the next offset is a multiple of 4]
//	  [product(shape) float32 values]
//
// Padding is computed from the absolute file position, so a file loaded at a
// 4-byte aligned address can be viewed as []float32 without copying.
package weights

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/born-ml/yolo/internal/tensor"
)

// Format limits. Anything larger is treated as corruption.
const (
	MaxTensors    = 1 << 16
	MaxNameLength = 1024
	MaxDims       = 16
)

// hostLittleEndian reports whether float data can be reinterpreted in place.
var hostLittleEndian = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// Tensor is an immutable named float32 array.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float32
}

// NumElements returns the product of Shape.
func (t Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

type cursor struct {
	buf    []byte
	pos    int
	tensor int
}

func (c *cursor) fail(field, format string, args ...any) error {
	return &FormatError{Offset: c.pos, Tensor: c.tensor, Field: field, Detail: fmt.Sprintf(format, args...)}
}

func (c *cursor) u32(field string) (uint32, error) {
	if len(c.buf)-c.pos < 4 {
		return 0, c.fail(field, "truncated, %d bytes left", len(c.buf)-c.pos)
	}
	v := binary.LittleEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) take(field string, n int) ([]byte, error) {
	if n < 0 || len(c.buf)-c.pos < n {
		return nil, c.fail(field, "need %d bytes, %d left", n, len(c.buf)-c.pos)
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Parse decodes every tensor record in data.
//
// When data starts on a 4-byte boundary and the host is little-endian, the
// returned tensors alias data; otherwise their values are copied. Trailing
// bytes after the last record are ignored.
func Parse(data []byte) ([]Tensor, error) {
	c := &cursor{buf: data, tensor: -1}

	count, err := c.u32("tensor count")
	if err != nil {
		return nil, err
	}
	if count > MaxTensors {
		return nil, c.fail("tensor count", "%d exceeds limit %d", count, MaxTensors)
	}

	zeroCopy := hostLittleEndian && tensor.Aligned4(data)
	out := make([]Tensor, 0, count)
	for i := 0; i < int(count); i++ {
		c.tensor = i
		t, err := c.record(zeroCopy)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *cursor) record(zeroCopy bool) (Tensor, error) {
	nameLen, err := c.u32("name length")
	if err != nil {
		return Tensor{}, err
	}
	if nameLen == 0 || nameLen > MaxNameLength {
		return Tensor{}, c.fail("name length", "%d outside 1..%d", nameLen, MaxNameLength)
	}
	name, err := c.take("name", int(nameLen))
	if err != nil {
		return Tensor{}, err
	}

	ndim, err := c.u32("ndim")
	if err != nil {
		return Tensor{}, err
	}
	if ndim > MaxDims {
		return Tensor{}, c.fail("ndim", "%d exceeds limit %d", ndim, MaxDims)
	}
	shape := make([]int, ndim)
	elements := 1
	for d := range shape {
		dim, err := c.u32("shape")
		if err != nil {
			return Tensor{}, err
		}
		shape[d] = int(dim)
		if dim != 0 && elements > math.MaxInt32/int(dim) {
			return Tensor{}, c.fail("shape", "element count overflows")
		}
		elements *= int(dim)
	}

	if pad := (4 - c.pos%4) % 4; pad != 0 {
		if _, err := c.take("padding", pad); err != nil {
			return Tensor{}, err
		}
	}
	raw, err := c.take("data", elements*tensor.Float32Size)
	if err != nil {
		return Tensor{}, err
	}

	return Tensor{Name: string(name), Shape: shape, Data: decodeFloats(raw, zeroCopy)}, nil
}

func decodeFloats(raw []byte, zeroCopy bool) []float32 {
	if len(raw) == 0 {
		return []float32{}
	}
	if zeroCopy {
		return tensor.BytesFloat32(raw)
	}
	out := make([]float32, len(raw)/tensor.Float32Size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}
