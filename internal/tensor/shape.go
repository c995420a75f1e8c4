// Package tensor provides the NCHW shape and borrowed float32 view types
// shared by the kernels, the composite blocks and the pipeline.
//
// Tensors in this module never own memory. A View is a float32 slice carved
// out of an arena block (or an external region such as the input image)
// plus its dimensions carried alongside as plain integers.
package tensor

import "fmt"

// Float32Size is the byte size of one element. Single precision is the only
// supported element type.
const Float32Size = 4

// Shape is an (N, C, H, W) tensor shape in channel-major layout.
type Shape struct {
	N, C, H, W int
}

// NCHW builds a Shape.
func NCHW(n, c, h, w int) Shape {
	return Shape{N: n, C: c, H: h, W: w}
}

// NumElements returns N*C*H*W.
func (s Shape) NumElements() int {
	return s.N * s.C * s.H * s.W
}

// Bytes returns the float32 byte size of a buffer holding this shape.
func (s Shape) Bytes() int {
	return s.NumElements() * Float32Size
}

// Plane returns H*W, the element count of a single channel.
func (s Shape) Plane() int {
	return s.H * s.W
}

// Offset returns the linear index of element (n, c, y, x):
//
//	(((n*C + c)*H + y)*W + x)
func (s Shape) Offset(n, c, y, x int) int {
	return ((n*s.C+c)*s.H+y)*s.W + x
}

// Validate checks that every dimension is positive.
func (s Shape) Validate() error {
	dims := [4]int{s.N, s.C, s.H, s.W}
	for i, dim := range dims {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// WithChannels returns a copy of s with C replaced.
func (s Shape) WithChannels(c int) Shape {
	s.C = c
	return s
}

// SameSpatial reports whether s and other agree on N, H and W.
func (s Shape) SameSpatial(other Shape) bool {
	return s.N == other.N && s.H == other.H && s.W == other.W
}

// String renders the shape as [N,C,H,W].
func (s Shape) String() string {
	return fmt.Sprintf("[%d,%d,%d,%d]", s.N, s.C, s.H, s.W)
}

// ConvOutput computes one spatial output extent of a convolution or pooling
// window:
//
//	out = (in + 2*pad - k) / stride + 1
func ConvOutput(in, k, stride, pad int) int {
	return (in+2*pad-k)/stride + 1
}
