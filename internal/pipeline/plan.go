package pipeline

import (
	"errors"
	"fmt"

	"github.com/born-ml/yolo/internal/config"
	"github.com/born-ml/yolo/internal/tensor"
)

// ErrInvalidPlan is returned when a plan cannot be built.
var ErrInvalidPlan = errors.New("invalid plan")

// PlannedStage is a stage with its shapes resolved.
type PlannedStage struct {
	Index int
	Name  string
	Spec  StageSpec
	In    []tensor.Shape
	Out   []tensor.Shape // One entry, three for the detect stage

	// Release lists the stages whose outputs are last read here and are
	// freed once this stage completes.
	Release []int
}

// Plan is the stage table resolved for one input size and class count.
// Buffer lifetimes follow from the graph: a stage output lives from its
// producing stage until its last reader.
type Plan struct {
	InputSize  int
	NumClasses int
	Input      tensor.Shape
	Stages     []PlannedStage
}

// NewPlan resolves every stage shape and release list.
func NewPlan(inputSize, numClasses int) (*Plan, error) {
	if inputSize <= 0 || inputSize%32 != 0 {
		return nil, fmt.Errorf("%w: input size %d must be a positive multiple of 32", ErrInvalidPlan, inputSize)
	}
	if numClasses <= 0 {
		return nil, fmt.Errorf("%w: class count %d", ErrInvalidPlan, numClasses)
	}

	p := &Plan{
		InputSize:  inputSize,
		NumClasses: numClasses,
		Input:      tensor.NCHW(1, 3, inputSize, inputSize),
		Stages:     make([]PlannedStage, NumStages),
	}
	headC := config.NumAnchors * (5 + numClasses)
	lastUse := make([]int, NumStages)
	for i := range lastUse {
		lastUse[i] = -1
	}

	for i, spec := range Topology() {
		st := PlannedStage{Index: i, Name: StageName(i), Spec: spec}
		for _, j := range spec.Inputs {
			switch {
			case j == ImageInput:
				st.In = append(st.In, p.Input)
			case j >= 0 && j < i:
				st.In = append(st.In, p.Stages[j].Out[0])
				lastUse[j] = i
			default:
				return nil, fmt.Errorf("%w: %s reads stage %d", ErrInvalidPlan, st.Name, j)
			}
		}

		out, err := outputShapes(spec, st.In, headC)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPlan, st.Name, err)
		}
		st.Out = out
		p.Stages[i] = st
	}

	for j, last := range lastUse {
		if last < 0 {
			continue
		}
		p.Stages[last].Release = append(p.Stages[last].Release, j)
	}
	// Release in input order so frees mirror the order stages read them.
	for i := range p.Stages {
		p.Stages[i].Release = inputOrder(p.Stages[i].Spec.Inputs, p.Stages[i].Release)
	}
	return p, nil
}

func inputOrder(inputs, release []int) []int {
	if len(release) == 0 {
		return nil
	}
	out := make([]int, 0, len(release))
	for _, in := range inputs {
		for _, r := range release {
			if r == in {
				out = append(out, r)
			}
		}
	}
	return out
}

func outputShapes(spec StageSpec, in []tensor.Shape, headC int) ([]tensor.Shape, error) {
	if len(in) == 0 {
		return nil, errors.New("no inputs")
	}
	x := in[0]
	switch spec.Op {
	case OpConv:
		h := tensor.ConvOutput(x.H, spec.Kernel, spec.Stride, spec.Pad)
		w := tensor.ConvOutput(x.W, spec.Kernel, spec.Stride, spec.Pad)
		if h <= 0 || w <= 0 {
			return nil, fmt.Errorf("input %v too small", x)
		}
		return []tensor.Shape{tensor.NCHW(x.N, spec.OutC, h, w)}, nil
	case OpC3, OpSPPF:
		return []tensor.Shape{x.WithChannels(spec.OutC)}, nil
	case OpUpsample:
		return []tensor.Shape{tensor.NCHW(x.N, x.C, 2*x.H, 2*x.W)}, nil
	case OpConcat:
		c := 0
		for _, s := range in {
			if !s.SameSpatial(x) {
				return nil, fmt.Errorf("concat inputs %v and %v differ", x, s)
			}
			c += s.C
		}
		return []tensor.Shape{x.WithChannels(c)}, nil
	case OpDetect:
		if len(in) != config.NumScales {
			return nil, fmt.Errorf("detect reads %d inputs", len(in))
		}
		out := make([]tensor.Shape, len(in))
		for i, s := range in {
			out[i] = s.WithChannels(headC)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown op %v", spec.Op)
	}
}

// Detect returns the final detect stage.
func (p *Plan) Detect() PlannedStage {
	return p.Stages[NumStages-1]
}

// HeadShapes returns the three detection head output shapes.
func (p *Plan) HeadShapes() [config.NumScales]tensor.Shape {
	var out [config.NumScales]tensor.Shape
	copy(out[:], p.Detect().Out)
	return out
}

// LiveAfter returns the stages whose outputs are still held once stage i has
// completed and released its inputs.
func (p *Plan) LiveAfter(i int) []int {
	var live []int
	for j := 0; j <= i && j < NumStages-1; j++ {
		freed := false
		for k := j + 1; k <= i; k++ {
			for _, r := range p.Stages[k].Release {
				if r == j {
					freed = true
				}
			}
		}
		if !freed {
			live = append(live, j)
		}
	}
	return live
}
