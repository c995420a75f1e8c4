package nn

import (
	"fmt"

	"github.com/born-ml/yolo/internal/tensor"
)

// Bottleneck computes ConvBlock3x3(ConvBlock1x1(x)), adding x back when a
// shortcut is requested and the input and output channel counts match. A
// requested shortcut across mismatched channels is silently dropped.
type Bottleneck struct {
	CV1, CV2 *ConvBlock
	Shortcut bool
	backend  Backend
}

// NewBottleneck creates a Bottleneck from a 1x1 and a 3x3 convolution.
func NewBottleneck(cv1, cv2 ConvWeights, shortcut bool, backend Backend) *Bottleneck {
	return &Bottleneck{
		CV1:      NewConvBlock(cv1, backend),
		CV2:      NewConvBlock(cv2, backend),
		Shortcut: shortcut,
		backend:  backend,
	}
}

// LoadBottleneck resolves "<prefix>.cv1" (1x1) and "<prefix>.cv2" (3x3) for
// a hidden-to-hidden bottleneck.
func LoadBottleneck(src WeightSource, prefix string, channels int, shortcut bool, backend Backend) (*Bottleneck, error) {
	cv1, err := LoadConv(src, prefix+".cv1", Pointwise(channels, channels))
	if err != nil {
		return nil, err
	}
	cv2, err := LoadConv(src, prefix+".cv2", Conv3x3(channels, channels, 1))
	if err != nil {
		return nil, err
	}
	return NewBottleneck(cv1, cv2, shortcut, backend), nil
}

// Residual reports whether Forward adds the input to the output.
func (b *Bottleneck) Residual() bool {
	return b.Shortcut && b.CV1.W.Spec.InC == b.CV2.W.Spec.OutC
}

// OutputShape implements Module.
func (b *Bottleneck) OutputShape(in tensor.Shape) tensor.Shape {
	return b.CV2.OutputShape(b.CV1.OutputShape(in))
}

// ScratchBytes implements Module: one hidden buffer.
func (b *Bottleneck) ScratchBytes(in tensor.Shape) int {
	return BlockBytes(b.CV1.OutputShape(in))
}

// Forward implements Module. dst must not alias src.
func (b *Bottleneck) Forward(alloc Allocator, dst, src tensor.View) (err error) {
	if src.Shape.C != b.CV1.W.Spec.InC {
		return fmt.Errorf("bottleneck: input has %d channels, expected %d", src.Shape.C, b.CV1.W.Spec.InC)
	}

	ws := NewWorkspace(alloc)
	defer func() { err = releaseInto(ws, err) }()

	hidden, err := ws.Tensor(b.CV1.OutputShape(src.Shape))
	if err != nil {
		return fmt.Errorf("bottleneck: %w", err)
	}

	b.CV1.apply(hidden, src)
	b.CV2.apply(dst, hidden)
	if b.Residual() {
		b.backend.Add(dst, dst, src)
	}
	return nil
}

// releaseInto releases ws and keeps the first error.
func releaseInto(ws *Workspace, err error) error {
	if rerr := ws.Release(); rerr != nil && err == nil {
		return rerr
	}
	return err
}
