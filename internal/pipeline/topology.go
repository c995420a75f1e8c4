package pipeline

import "fmt"

// Op is the kind of work a stage performs.
type Op int

// Stage operations.
const (
	OpConv Op = iota
	OpC3
	OpSPPF
	OpUpsample
	OpConcat
	OpDetect
)

var opNames = [...]string{
	OpConv:     "conv",
	OpC3:       "c3",
	OpSPPF:     "sppf",
	OpUpsample: "upsample",
	OpConcat:   "concat",
	OpDetect:   "detect",
}

func (o Op) String() string {
	if o >= 0 && int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// HasWeights reports whether stages of this kind read weight tensors.
func (o Op) HasWeights() bool {
	switch o {
	case OpConv, OpC3, OpSPPF, OpDetect:
		return true
	default:
		return false
	}
}

// ImageInput marks a stage input that reads the network input image.
const ImageInput = -1

// StageSpec is one entry of the fixed network graph.
type StageSpec struct {
	Op     Op
	Inputs []int // Stage indices, or ImageInput

	OutC   int // conv, c3, sppf
	Kernel int // conv
	Stride int // conv
	Pad    int // conv

	Hidden   int  // c3, sppf
	Depth    int  // c3 bottleneck count
	Shortcut bool // c3
	PoolSize int  // sppf
}

func conv(in, outC, k, s, p int) StageSpec {
	return StageSpec{Op: OpConv, Inputs: []int{in}, OutC: outC, Kernel: k, Stride: s, Pad: p}
}

func c3(in, outC, hidden, depth int, shortcut bool) StageSpec {
	return StageSpec{Op: OpC3, Inputs: []int{in}, OutC: outC, Hidden: hidden, Depth: depth, Shortcut: shortcut}
}

func sppf(in, outC, hidden, pool int) StageSpec {
	return StageSpec{Op: OpSPPF, Inputs: []int{in}, OutC: outC, Hidden: hidden, PoolSize: pool}
}

func upsample(in int) StageSpec {
	return StageSpec{Op: OpUpsample, Inputs: []int{in}}
}

func concat(ins ...int) StageSpec {
	return StageSpec{Op: OpConcat, Inputs: ins}
}

func detect(ins ...int) StageSpec {
	return StageSpec{Op: OpDetect, Inputs: ins}
}

// topology is YOLOv5n: width multiple 0.25, depth multiple 0.33.
var topology = [...]StageSpec{
	// Backbone
	0: conv(ImageInput, 16, 6, 2, 2),
	1: conv(0, 32, 3, 2, 1),
	2: c3(1, 32, 16, 1, true),
	3: conv(2, 64, 3, 2, 1),
	4: c3(3, 64, 32, 2, true),
	5: conv(4, 128, 3, 2, 1),
	6: c3(5, 128, 64, 3, true),
	7: conv(6, 256, 3, 2, 1),
	8: c3(7, 256, 128, 1, true),
	9: sppf(8, 256, 128, 5),

	// Neck
	10: conv(9, 128, 1, 1, 0),
	11: upsample(10),
	12: concat(11, 6),
	13: c3(12, 128, 64, 1, false),
	14: conv(13, 64, 1, 1, 0),
	15: upsample(14),
	16: concat(15, 4),
	17: c3(16, 64, 32, 1, false), // P3
	18: conv(17, 64, 3, 2, 1),
	19: concat(18, 14),
	20: c3(19, 128, 64, 1, false), // P4
	21: conv(20, 128, 3, 2, 1),
	22: concat(21, 10),
	23: c3(22, 256, 128, 1, false), // P5

	// Head
	24: detect(17, 20, 23),
}

// NumStages is the length of the stage table.
const NumStages = len(topology)

// Topology returns a copy of the stage table.
func Topology() []StageSpec {
	out := make([]StageSpec, NumStages)
	for i, s := range topology {
		s.Inputs = append([]int(nil), s.Inputs...)
		out[i] = s
	}
	return out
}

// StageName returns the weight prefix of stage i, e.g. "model.4".
func StageName(i int) string {
	return fmt.Sprintf("model.%d", i)
}
