// Package nn implements the composite blocks of the detector on top of the
// CPU kernels.
//
// This package provides:
//   - Backend: the kernel set the blocks are written against
//   - Workspace: scoped scratch buffers taken from the arena
//   - ConvBlock, Bottleneck, C3, SPPF: feature blocks (convolution + SiLU)
//   - Detect: the three raw 1x1 prediction heads
//
// Blocks hold immutable weights and never allocate from the Go heap on the
// forward path. Every scratch buffer comes from the caller's Allocator and is
// returned before Forward returns, whether it succeeded or not.
package nn

import (
	"github.com/born-ml/yolo/internal/arena"
	"github.com/born-ml/yolo/internal/backend/cpu"
	"github.com/born-ml/yolo/internal/tensor"
)

// Backend is the kernel set blocks run on. *cpu.CPUBackend implements it.
type Backend interface {
	Conv2D(dst, src tensor.View, weight, bias []float32, p cpu.ConvParams)
	SiLU(dst, src tensor.View)
	Add(dst, a, b tensor.View)
	MaxPool2D(dst, src tensor.View, kernelSize, stride, pad int)
	Concat(dst tensor.View, srcs ...tensor.View)
	Upsample2x(dst, src tensor.View)
}

// Allocator hands out arena-backed float buffers. *arena.Arena implements it.
type Allocator interface {
	AllocFloats(n int) (arena.Handle, []float32, error)
	Free(h arena.Handle) error
}

// WeightSource resolves named tensors with an expected shape.
// *weights.Store implements it.
type WeightSource interface {
	Expect(name string, shape ...int) ([]float32, error)
}

// Module is a single-input feature block.
type Module interface {
	// OutputShape returns the shape Forward writes for an input of shape in.
	OutputShape(in tensor.Shape) tensor.Shape

	// Forward computes the block output into dst, which the caller sized
	// with OutputShape. Scratch buffers are taken from alloc and released
	// before returning. On error dst is left unspecified.
	Forward(alloc Allocator, dst, src tensor.View) error

	// ScratchBytes returns the largest amount of arena payload the block
	// holds at once for an input of shape in, excluding dst.
	ScratchBytes(in tensor.Shape) int
}

var (
	_ Backend   = (*cpu.CPUBackend)(nil)
	_ Allocator = (*arena.Arena)(nil)
)
