package pipeline

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/born-ml/yolo/internal/nn"
	"github.com/born-ml/yolo/internal/weights"
)

// ConvLayer names one convolution of the network.
type ConvLayer struct {
	Name string // Prefix of the ".weight" and ".bias" tensors
	Spec nn.ConvSpec
}

// Convolutions lists every convolution the plan reads, in stage order.
func (p *Plan) Convolutions() []ConvLayer {
	var out []ConvLayer
	for _, st := range p.Stages {
		s := st.Spec
		switch s.Op {
		case OpConv:
			out = append(out, ConvLayer{st.Name + ".conv", convSpec(st)})
		case OpC3:
			c := c3Spec(st)
			out = append(out,
				ConvLayer{st.Name + ".cv1.conv", nn.Pointwise(c.InC, c.Hidden)},
				ConvLayer{st.Name + ".cv2.conv", nn.Pointwise(c.InC, c.Hidden)},
				ConvLayer{st.Name + ".cv3.conv", nn.Pointwise(2*c.Hidden, c.OutC)},
			)
			for i := 0; i < c.N; i++ {
				m := fmt.Sprintf("%s.m.%d", st.Name, i)
				out = append(out,
					ConvLayer{m + ".cv1.conv", nn.Pointwise(c.Hidden, c.Hidden)},
					ConvLayer{m + ".cv2.conv", nn.Conv3x3(c.Hidden, c.Hidden, 1)},
				)
			}
		case OpSPPF:
			out = append(out,
				ConvLayer{st.Name + ".cv1.conv", nn.Pointwise(st.In[0].C, s.Hidden)},
				ConvLayer{st.Name + ".cv2.conv", nn.Pointwise(4*s.Hidden, s.OutC)},
			)
		case OpDetect:
			for i, in := range st.In {
				out = append(out, ConvLayer{fmt.Sprintf("%s.m.%d", st.Name, i), nn.Pointwise(in.C, st.Out[i].C)})
			}
		}
	}
	return out
}

// TensorNames lists every weight tensor name the plan reads.
func (p *Plan) TensorNames() []string {
	layers := p.Convolutions()
	names := make([]string, 0, 2*len(layers))
	for _, l := range layers {
		names = append(names, l.Name+".weight", l.Name+".bias")
	}
	return names
}

// SyntheticWeights returns a complete weight set for the plan: Xavier
// uniform kernels and small uniform biases drawn from a seeded source, so
// the same seed always yields the same tensors.
func SyntheticWeights(p *Plan, seed int64) []weights.Tensor {
	//nolint:gosec // Deterministic test weights, not security-critical
	rng := rand.New(rand.NewSource(seed))

	layers := p.Convolutions()
	out := make([]weights.Tensor, 0, 2*len(layers))
	for _, l := range layers {
		k2 := l.Spec.Kernel * l.Spec.Kernel
		bound := math.Sqrt(6.0 / float64((l.Spec.InC+l.Spec.OutC)*k2))

		shape := l.Spec.WeightShape()
		w := make([]float32, l.Spec.OutC*l.Spec.InC*k2)
		for i := range w {
			w[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
		}
		b := make([]float32, l.Spec.OutC)
		for i := range b {
			b[i] = float32((rng.Float64()*2.0 - 1.0) * 0.1)
		}
		out = append(out,
			weights.Tensor{Name: l.Name + ".weight", Shape: shape, Data: w},
			weights.Tensor{Name: l.Name + ".bias", Shape: []int{l.Spec.OutC}, Data: b},
		)
	}
	return out
}
