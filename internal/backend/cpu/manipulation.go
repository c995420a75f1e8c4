package cpu

import (
	"fmt"

	"github.com/born-ml/yolo/internal/tensor"
)

// Concat stacks srcs along the channel axis into dst, preserving input order.
//
// All inputs must share N, H and W with dst and their channel counts must sum
// to dst's. The pipeline uses two inputs for the neck merges and SPPF uses four.
func (cpu *CPUBackend) Concat(dst tensor.View, srcs ...tensor.View) {
	checkView("concat", "dst", dst)
	if len(srcs) == 0 {
		panic("concat: no inputs")
	}

	channels := 0
	for i, s := range srcs {
		checkView("concat", fmt.Sprintf("src[%d]", i), s)
		if !s.Shape.SameSpatial(dst.Shape) {
			panic(fmt.Sprintf("concat: src[%d] shape %v incompatible with dst %v", i, s.Shape, dst.Shape))
		}
		channels += s.Shape.C
	}
	if channels != dst.Shape.C {
		panic(fmt.Sprintf("concat: inputs carry %d channels, dst has %d", channels, dst.Shape.C))
	}

	plane := dst.Shape.Plane()
	for n := 0; n < dst.Shape.N; n++ {
		off := n * dst.Shape.C * plane
		for _, s := range srcs {
			block := s.Shape.C * plane
			copy(dst.Data[off:off+block], s.Data[n*block:(n+1)*block])
			off += block
		}
	}
}

// Upsample2x doubles H and W by nearest-neighbour replication:
//
//	dst[n,c,y,x] = src[n,c,y/2,x/2]
func (cpu *CPUBackend) Upsample2x(dst, src tensor.View) {
	checkView("upsample2x", "src", src)
	checkView("upsample2x", "dst", dst)

	in := src.Shape
	if want := tensor.NCHW(in.N, in.C, in.H*2, in.W*2); dst.Shape != want {
		panic(fmt.Sprintf("upsample2x: dst shape %v, expected %v", dst.Shape, want))
	}

	outW := in.W * 2
	for n := 0; n < in.N; n++ {
		for c := 0; c < in.C; c++ {
			inPlane := src.Channel(n, c)
			outPlane := dst.Channel(n, c)
			for y := 0; y < in.H; y++ {
				row := inPlane[y*in.W : (y+1)*in.W]
				top := outPlane[(2*y)*outW : (2*y+1)*outW]
				for x, v := range row {
					top[2*x] = v
					top[2*x+1] = v
				}
				copy(outPlane[(2*y+1)*outW:(2*y+2)*outW], top)
			}
		}
	}
}
