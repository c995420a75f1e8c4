package nn

import (
	"fmt"

	"github.com/born-ml/yolo/internal/backend/cpu"
	"github.com/born-ml/yolo/internal/tensor"
)

// ConvSpec describes a fused convolution: batch norm is already folded into
// the weight and bias.
type ConvSpec struct {
	InC, OutC int
	Kernel    int
	Stride    int
	Pad       int
}

// Params returns the kernel parameters of the convolution.
func (s ConvSpec) Params() cpu.ConvParams {
	return cpu.Square(s.Kernel, s.Stride, s.Pad)
}

// WeightShape returns [OutC, InC, Kernel, Kernel].
func (s ConvSpec) WeightShape() []int {
	return []int{s.OutC, s.InC, s.Kernel, s.Kernel}
}

// OutputShape returns the convolution output shape for in.
func (s ConvSpec) OutputShape(in tensor.Shape) tensor.Shape {
	return s.Params().OutputShape(in, s.OutC)
}

// Pointwise returns a 1x1, stride 1, unpadded spec.
func Pointwise(inC, outC int) ConvSpec {
	return ConvSpec{InC: inC, OutC: outC, Kernel: 1, Stride: 1}
}

// Conv3x3 returns a 3x3 spec with padding 1.
func Conv3x3(inC, outC, stride int) ConvSpec {
	return ConvSpec{InC: inC, OutC: outC, Kernel: 3, Stride: stride, Pad: 1}
}

// ConvWeights is a ConvSpec plus its tensors.
type ConvWeights struct {
	Spec   ConvSpec
	Weight []float32 // [OutC, InC, K, K]
	Bias   []float32 // [OutC]
}

// LoadConv resolves "<prefix>.conv.weight" and "<prefix>.conv.bias".
func LoadConv(src WeightSource, prefix string, spec ConvSpec) (ConvWeights, error) {
	return loadConv(src, prefix+".conv", spec)
}

func loadConv(src WeightSource, prefix string, spec ConvSpec) (ConvWeights, error) {
	w, err := src.Expect(prefix+".weight", spec.WeightShape()...)
	if err != nil {
		return ConvWeights{}, err
	}
	b, err := src.Expect(prefix+".bias", spec.OutC)
	if err != nil {
		return ConvWeights{}, err
	}
	return ConvWeights{Spec: spec, Weight: w, Bias: b}, nil
}

// ConvBlock computes SiLU(Conv(x)).
//
// Input shape:  [N, InC, H, W]
// Output shape: [N, OutC, (H+2p-k)/s+1, (W+2p-k)/s+1]
type ConvBlock struct {
	W       ConvWeights
	backend Backend
}

// NewConvBlock creates a ConvBlock.
func NewConvBlock(w ConvWeights, backend Backend) *ConvBlock {
	return &ConvBlock{W: w, backend: backend}
}

// OutputShape implements Module.
func (b *ConvBlock) OutputShape(in tensor.Shape) tensor.Shape {
	return b.W.Spec.OutputShape(in)
}

// ScratchBytes implements Module. ConvBlock needs no scratch.
func (b *ConvBlock) ScratchBytes(tensor.Shape) int {
	return 0
}

// Forward implements Module.
func (b *ConvBlock) Forward(_ Allocator, dst, src tensor.View) error {
	if src.Shape.C != b.W.Spec.InC {
		return fmt.Errorf("conv block: input has %d channels, expected %d", src.Shape.C, b.W.Spec.InC)
	}
	b.apply(dst, src)
	return nil
}

func (b *ConvBlock) apply(dst, src tensor.View) {
	b.backend.Conv2D(dst, src, b.W.Weight, b.W.Bias, b.W.Spec.Params())
	b.backend.SiLU(dst, dst)
}
