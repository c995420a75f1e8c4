package cpu

import (
	"math"

	"github.com/born-ml/yolo/internal/tensor"
)

// SiLU applies x * sigmoid(x) element-wise. dst may alias src.
func (cpu *CPUBackend) SiLU(dst, src tensor.View) {
	checkView("silu", "src", src)
	checkView("silu", "dst", dst)
	checkSameShape("silu", dst, src)

	n := src.Shape.NumElements()
	in, out := src.Data[:n], dst.Data[:n]
	for i, x := range in {
		out[i] = x / (1 + float32(math.Exp(float64(-x))))
	}
}

// Add writes a + b element-wise into dst. dst may alias either input.
func (cpu *CPUBackend) Add(dst, a, b tensor.View) {
	checkView("add", "a", a)
	checkView("add", "b", b)
	checkView("add", "dst", dst)
	checkSameShape("add", dst, a)
	checkSameShape("add", dst, b)

	n := dst.Shape.NumElements()
	x, y, out := a.Data[:n], b.Data[:n], dst.Data[:n]
	for i := range out {
		out[i] = x[i] + y[i]
	}
}
