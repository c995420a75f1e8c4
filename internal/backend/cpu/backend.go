// Package cpu implements the float32 NCHW kernels of the detector on the CPU.
//
// Kernels write into caller-provided destination views and never allocate.
// Shape mismatches are programmer errors and panic with a descriptive message;
// they are never used for control flow.
package cpu

import (
	"fmt"

	"github.com/born-ml/yolo/internal/parallel"
	"github.com/born-ml/yolo/internal/tensor"
)

// CPUBackend runs kernels on the host CPU, optionally splitting output planes
// across goroutines.
type CPUBackend struct {
	par parallel.Config
}

// New creates a sequential CPU backend.
func New() *CPUBackend {
	return &CPUBackend{par: parallel.Sequential()}
}

// NewWithConfig creates a CPU backend with the given fan-out configuration.
// Results are identical to the sequential backend: workers own disjoint
// output planes and each plane is reduced in the same order.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{par: cfg}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Parallel returns the fan-out configuration.
func (cpu *CPUBackend) Parallel() parallel.Config {
	return cpu.par
}

func checkView(op, role string, v tensor.View) {
	if err := v.Shape.Validate(); err != nil {
		panic(fmt.Sprintf("%s: %s shape %v: %v", op, role, v.Shape, err))
	}
	if len(v.Data) < v.Shape.NumElements() {
		panic(fmt.Sprintf("%s: %s buffer holds %d elements, shape %v needs %d",
			op, role, len(v.Data), v.Shape, v.Shape.NumElements()))
	}
}

func checkSameShape(op string, dst, src tensor.View) {
	if dst.Shape != src.Shape {
		panic(fmt.Sprintf("%s: dst shape %v != src shape %v", op, dst.Shape, src.Shape))
	}
}
