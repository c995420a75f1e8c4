package cpu

import (
	"fmt"

	"github.com/born-ml/yolo/internal/parallel"
	"github.com/born-ml/yolo/internal/tensor"
)

// ConvParams describes a convolution window. Padding is symmetric per axis.
type ConvParams struct {
	KernelH, KernelW int
	StrideH, StrideW int
	PadH, PadW       int
}

// Square returns parameters with the same kernel, stride and padding on both
// axes.
func Square(kernel, stride, pad int) ConvParams {
	return ConvParams{
		KernelH: kernel, KernelW: kernel,
		StrideH: stride, StrideW: stride,
		PadH: pad, PadW: pad,
	}
}

// OutputShape returns the destination shape for an input of shape in and
// outChannels filters.
func (p ConvParams) OutputShape(in tensor.Shape, outChannels int) tensor.Shape {
	return tensor.NCHW(in.N, outChannels,
		tensor.ConvOutput(in.H, p.KernelH, p.StrideH, p.PadH),
		tensor.ConvOutput(in.W, p.KernelW, p.StrideW, p.PadW))
}

// Conv2D computes a direct NCHW convolution into dst.
//
// Weight layout: [C_out, C_in, K_h, K_w]
// Bias: C_out values, or nil for zero bias.
// Output extent per axis:
//
//	out = (in + 2*pad - k) / stride + 1
//
// Taps that fall into the padding contribute zero. Every output element is
//
//	dst[n,oc,oy,ox] = bias[oc] + sum_{ic,ky,kx} w[oc,ic,ky,kx] * src[n,ic,oy*s-p+ky,ox*s-p+kx]
//
// The reduction walks input channels, then kernel rows, then kernel columns,
// accumulating into the destination plane. dst must not alias src.
func (cpu *CPUBackend) Conv2D(dst, src tensor.View, weight, bias []float32, p ConvParams) {
	checkView("conv2d", "src", src)
	checkView("conv2d", "dst", dst)

	if p.KernelH <= 0 || p.KernelW <= 0 || p.StrideH <= 0 || p.StrideW <= 0 || p.PadH < 0 || p.PadW < 0 {
		panic(fmt.Sprintf("conv2d: invalid params %+v", p))
	}
	if want := p.OutputShape(src.Shape, dst.Shape.C); want != dst.Shape {
		panic(fmt.Sprintf("conv2d: dst shape %v, expected %v for src %v and params %+v",
			dst.Shape, want, src.Shape, p))
	}

	in, out := src.Shape, dst.Shape
	wPerOut := in.C * p.KernelH * p.KernelW
	if len(weight) != out.C*wPerOut {
		panic(fmt.Sprintf("conv2d: weight holds %d values, expected %d for [%d,%d,%d,%d]",
			len(weight), out.C*wPerOut, out.C, in.C, p.KernelH, p.KernelW))
	}
	if bias != nil && len(bias) != out.C {
		panic(fmt.Sprintf("conv2d: bias holds %d values, expected %d", len(bias), out.C))
	}

	parallel.ForPlanes(out.N, out.C, func(n, oc int) {
		var b float32
		if bias != nil {
			b = bias[oc]
		}
		convPlane(dst.Channel(n, oc), src, n, weight[oc*wPerOut:(oc+1)*wPerOut], b, out.H, out.W, p)
	}, cpu.par)
}

// convPlane fills one output plane.
func convPlane(plane []float32, src tensor.View, n int, w []float32, bias float32, hOut, wOut int, p ConvParams) {
	for i := range plane {
		plane[i] = bias
	}

	in := src.Shape
	for ic := 0; ic < in.C; ic++ {
		inPlane := src.Channel(n, ic)
		for ky := 0; ky < p.KernelH; ky++ {
			for kx := 0; kx < p.KernelW; kx++ {
				wv := w[(ic*p.KernelH+ky)*p.KernelW+kx]
				lo, hi := validRange(kx, p.PadW, p.StrideW, in.W, wOut)
				if lo >= hi {
					continue
				}
				for oy := 0; oy < hOut; oy++ {
					iy := oy*p.StrideH - p.PadH + ky
					if iy < 0 || iy >= in.H {
						continue
					}
					row := inPlane[iy*in.W : (iy+1)*in.W]
					orow := plane[oy*wOut : (oy+1)*wOut]
					ix := lo*p.StrideW - p.PadW + kx
					for ox := lo; ox < hi; ox++ {
						orow[ox] += wv * row[ix]
						ix += p.StrideW
					}
				}
			}
		}
	}
}

// validRange returns the half-open range of output columns whose tap k lands
// inside an input row of width size.
func validRange(k, pad, stride, size, outSize int) (int, int) {
	lo := 0
	if d := pad - k; d > 0 {
		lo = (d + stride - 1) / stride
	}
	last := size - 1 + pad - k
	if last < 0 {
		return 0, 0
	}
	hi := min(last/stride+1, outSize)
	return lo, hi
}
