package nn

import (
	"fmt"

	"github.com/born-ml/yolo/internal/tensor"
)

// SPPF is spatial pyramid pooling (fast):
//
//	x1 = CV1(x)               [Hidden]
//	y1 = pool(x1)
//	y2 = pool(y1)
//	y3 = pool(y2)
//	y  = CV2(concat(x1, y1, y2, y3))
//
// pool is a k x k max pool with stride 1 and padding k/2, so the spatial
// size never changes. Five scratch buffers are held: x1, y1, y2, y3 and the
// concat buffer.
type SPPF struct {
	Hidden   int
	PoolSize int
	CV1, CV2 *ConvBlock
	backend  Backend
}

// LoadSPPF resolves "<prefix>.cv1" (in -> hidden) and "<prefix>.cv2"
// (4*hidden -> out).
func LoadSPPF(src WeightSource, prefix string, inC, outC, hidden, poolSize int, backend Backend) (*SPPF, error) {
	cv1, err := LoadConv(src, prefix+".cv1", Pointwise(inC, hidden))
	if err != nil {
		return nil, err
	}
	cv2, err := LoadConv(src, prefix+".cv2", Pointwise(4*hidden, outC))
	if err != nil {
		return nil, err
	}
	return &SPPF{
		Hidden:   hidden,
		PoolSize: poolSize,
		CV1:      NewConvBlock(cv1, backend),
		CV2:      NewConvBlock(cv2, backend),
		backend:  backend,
	}, nil
}

// OutputShape implements Module.
func (s *SPPF) OutputShape(in tensor.Shape) tensor.Shape {
	return in.WithChannels(s.CV2.W.Spec.OutC)
}

func (s *SPPF) scratchShapes(in tensor.Shape) []tensor.Shape {
	h := in.WithChannels(s.Hidden)
	return []tensor.Shape{h, h, h, h, in.WithChannels(4 * s.Hidden)}
}

// ScratchBytes implements Module.
func (s *SPPF) ScratchBytes(in tensor.Shape) int {
	total := 0
	for _, sh := range s.scratchShapes(in) {
		total += BlockBytes(sh)
	}
	return total
}

// Forward implements Module.
func (s *SPPF) Forward(alloc Allocator, dst, src tensor.View) (err error) {
	if src.Shape.C != s.CV1.W.Spec.InC {
		return fmt.Errorf("sppf: input has %d channels, expected %d", src.Shape.C, s.CV1.W.Spec.InC)
	}

	ws := NewWorkspace(alloc)
	defer func() { err = releaseInto(ws, err) }()

	bufs, err := ws.Tensors(s.scratchShapes(src.Shape)...)
	if err != nil {
		return fmt.Errorf("sppf: %w", err)
	}
	x1, y1, y2, y3, cat := bufs[0], bufs[1], bufs[2], bufs[3], bufs[4]

	pad := s.PoolSize / 2
	s.CV1.apply(x1, src)
	s.backend.MaxPool2D(y1, x1, s.PoolSize, 1, pad)
	s.backend.MaxPool2D(y2, y1, s.PoolSize, 1, pad)
	s.backend.MaxPool2D(y3, y2, s.PoolSize, 1, pad)
	s.backend.Concat(cat, x1, y1, y2, y3)
	s.CV2.apply(dst, cat)
	return nil
}
