package nn

import (
	"fmt"

	"github.com/born-ml/yolo/internal/tensor"
)

// C3Spec describes a CSP bottleneck block.
type C3Spec struct {
	InC, OutC int
	Hidden    int // c_, the width of each branch
	N         int // Number of bottlenecks
	Shortcut  bool
}

// C3 is a cross-stage-partial block:
//
//	a = CV1(x)                 [Hidden]
//	b = CV2(x)                 [Hidden]
//	a = M[N-1](...M[0](a))     [Hidden]
//	y = CV3(concat(a, b))      [OutC]
//
// It takes five scratch buffers: the concat buffer, both branch outputs and
// two ping-pong buffers for the bottleneck chain (even indices write the
// first, odd indices the second).
type C3 struct {
	Spec          C3Spec
	CV1, CV2, CV3 *ConvBlock
	M             []*Bottleneck
	backend       Backend
}

// LoadC3 resolves "<prefix>.cv1", "<prefix>.cv2", "<prefix>.cv3" and
// "<prefix>.m.<i>.cv{1,2}".
func LoadC3(src WeightSource, prefix string, spec C3Spec, backend Backend) (*C3, error) {
	cv1, err := LoadConv(src, prefix+".cv1", Pointwise(spec.InC, spec.Hidden))
	if err != nil {
		return nil, err
	}
	cv2, err := LoadConv(src, prefix+".cv2", Pointwise(spec.InC, spec.Hidden))
	if err != nil {
		return nil, err
	}
	cv3, err := LoadConv(src, prefix+".cv3", Pointwise(2*spec.Hidden, spec.OutC))
	if err != nil {
		return nil, err
	}

	c := &C3{
		Spec:    spec,
		CV1:     NewConvBlock(cv1, backend),
		CV2:     NewConvBlock(cv2, backend),
		CV3:     NewConvBlock(cv3, backend),
		M:       make([]*Bottleneck, spec.N),
		backend: backend,
	}
	for i := range c.M {
		m, err := LoadBottleneck(src, fmt.Sprintf("%s.m.%d", prefix, i), spec.Hidden, spec.Shortcut, backend)
		if err != nil {
			return nil, err
		}
		c.M[i] = m
	}
	return c, nil
}

// OutputShape implements Module.
func (c *C3) OutputShape(in tensor.Shape) tensor.Shape {
	return in.WithChannels(c.Spec.OutC)
}

func (c *C3) scratchShapes(in tensor.Shape) []tensor.Shape {
	hidden := in.WithChannels(c.Spec.Hidden)
	return []tensor.Shape{in.WithChannels(2 * c.Spec.Hidden), hidden, hidden, hidden, hidden}
}

// ScratchBytes implements Module: five block buffers plus one bottleneck
// hidden buffer while the chain runs.
func (c *C3) ScratchBytes(in tensor.Shape) int {
	total := 0
	for _, s := range c.scratchShapes(in) {
		total += BlockBytes(s)
	}
	if len(c.M) > 0 {
		total += c.M[0].ScratchBytes(in.WithChannels(c.Spec.Hidden))
	}
	return total
}

// Forward implements Module.
func (c *C3) Forward(alloc Allocator, dst, src tensor.View) (err error) {
	if src.Shape.C != c.Spec.InC {
		return fmt.Errorf("c3: input has %d channels, expected %d", src.Shape.C, c.Spec.InC)
	}

	ws := NewWorkspace(alloc)
	defer func() { err = releaseInto(ws, err) }()

	bufs, err := ws.Tensors(c.scratchShapes(src.Shape)...)
	if err != nil {
		return fmt.Errorf("c3: %w", err)
	}
	cat, a, b, pingA, pingB := bufs[0], bufs[1], bufs[2], bufs[3], bufs[4]

	c.CV1.apply(a, src)
	c.CV2.apply(b, src)

	y := a
	for i, m := range c.M {
		out := pingA
		if i%2 == 1 {
			out = pingB
		}
		if err := m.Forward(alloc, out, y); err != nil {
			return fmt.Errorf("c3: m.%d: %w", i, err)
		}
		y = out
	}

	c.backend.Concat(cat, y, b)
	c.CV3.apply(dst, cat)
	return nil
}
