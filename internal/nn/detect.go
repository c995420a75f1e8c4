package nn

import (
	"fmt"

	"github.com/born-ml/yolo/internal/tensor"
)

// NumHeads is the number of detection scales.
const NumHeads = 3

// Detect holds the three raw prediction convolutions. Each is a 1x1
// convolution with bias and no activation producing
// anchorsPerHead*(5+numClasses) channels.
type Detect struct {
	M       [NumHeads]ConvWeights
	backend Backend
}

// LoadDetect resolves "<prefix>.m.<i>.weight" and "<prefix>.m.<i>.bias" for
// each head input channel count in inC.
func LoadDetect(src WeightSource, prefix string, inC [NumHeads]int, outC int, backend Backend) (*Detect, error) {
	d := &Detect{backend: backend}
	for i := range d.M {
		w, err := loadConv(src, fmt.Sprintf("%s.m.%d", prefix, i), Pointwise(inC[i], outC))
		if err != nil {
			return nil, err
		}
		d.M[i] = w
	}
	return d, nil
}

// OutputShape returns the output shape of head i for an input of shape in.
func (d *Detect) OutputShape(i int, in tensor.Shape) tensor.Shape {
	return d.M[i].Spec.OutputShape(in)
}

// Forward computes every head. Detect takes no scratch.
func (d *Detect) Forward(dsts, srcs [NumHeads]tensor.View) error {
	for i := range d.M {
		if srcs[i].Shape.C != d.M[i].Spec.InC {
			return fmt.Errorf("detect: head %d input has %d channels, expected %d",
				i, srcs[i].Shape.C, d.M[i].Spec.InC)
		}
	}
	for i := range d.M {
		d.ForwardHead(i, dsts[i], srcs[i])
	}
	return nil
}

// ForwardHead computes head i only.
func (d *Detect) ForwardHead(i int, dst, src tensor.View) {
	w := d.M[i]
	d.backend.Conv2D(dst, src, w.Weight, w.Bias, w.Spec.Params())
}
