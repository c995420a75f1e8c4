package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/yolo/internal/parallel"
	"github.com/born-ml/yolo/internal/tensor"
)

// MaxPool2D performs padded 2D max pooling per channel.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, out_height, out_width]
//
// Where:
//
//	out_height = (height + 2*pad - kernelSize) / stride + 1
//	out_width  = (width + 2*pad - kernelSize) / stride + 1
//
// Taps outside the input are skipped, so padding never wins the maximum.
//
// Example (3x3 pool, stride=1, pad=1, corner output):
//
//	Input: [[1,2,3],      Output[0][0] = max(1,2,4,5) = 5
//	        [4,5,6],
//	        [7,8,9]]
func (cpu *CPUBackend) MaxPool2D(dst, src tensor.View, kernelSize, stride, pad int) {
	checkView("maxpool2d", "src", src)
	checkView("maxpool2d", "dst", dst)

	if kernelSize <= 0 || stride <= 0 || pad < 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel %d, stride %d, pad %d", kernelSize, stride, pad))
	}
	in := src.Shape
	want := tensor.NCHW(in.N, in.C,
		tensor.ConvOutput(in.H, kernelSize, stride, pad),
		tensor.ConvOutput(in.W, kernelSize, stride, pad))
	if dst.Shape != want {
		panic(fmt.Sprintf("maxpool2d: dst shape %v, expected %v", dst.Shape, want))
	}

	parallel.ForPlanes(in.N, in.C, func(n, c int) {
		inPlane := src.Channel(n, c)
		outPlane := dst.Channel(n, c)
		for oy := 0; oy < want.H; oy++ {
			for ox := 0; ox < want.W; ox++ {
				m := float32(-math.MaxFloat32)
				for ky := 0; ky < kernelSize; ky++ {
					iy := oy*stride - pad + ky
					if iy < 0 || iy >= in.H {
						continue
					}
					for kx := 0; kx < kernelSize; kx++ {
						ix := ox*stride - pad + kx
						if ix < 0 || ix >= in.W {
							continue
						}
						if v := inPlane[iy*in.W+ix]; v > m {
							m = v
						}
					}
				}
				outPlane[oy*want.W+ox] = m
			}
		}
	}, cpu.par)
}
