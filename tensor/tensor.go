// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/yolo/internal/tensor"
)

// Shape holds NCHW dimensions.
type Shape = tensor.Shape

// View is a borrowed NCHW float32 buffer.
type View = tensor.View

// Float32Size is the byte size of one element.
const Float32Size = tensor.Float32Size

// NCHW builds a Shape.
func NCHW(n, c, h, w int) Shape {
	return tensor.NCHW(n, c, h, w)
}

// NewView wraps data, which must hold at least shape.NumElements() values.
func NewView(shape Shape, data []float32) (View, error) {
	return tensor.NewView(shape, data)
}

// Zeros allocates a zeroed view on the Go heap.
func Zeros(shape Shape) View {
	return tensor.Zeros(shape)
}

// ConvOutput returns the output extent of a convolution or pooling window.
func ConvOutput(in, kernel, stride, pad int) int {
	return tensor.ConvOutput(in, kernel, stride, pad)
}
