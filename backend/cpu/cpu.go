// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	internalcpu "github.com/born-ml/yolo/internal/backend/cpu"
	"github.com/born-ml/yolo/internal/parallel"
	"github.com/born-ml/yolo/nn"
)

// Backend is the CPU kernel set.
type Backend = internalcpu.CPUBackend

// ConvParams describes a convolution kernel.
type ConvParams = internalcpu.ConvParams

// Compile-time check that Backend can run the nn blocks.
var _ nn.Backend = (*Backend)(nil)

// New creates a single-threaded CPU backend.
func New() *Backend {
	return internalcpu.New()
}

// NewWithThreads creates a backend that runs convolutions on n workers.
// n <= 0 uses one worker per CPU.
func NewWithThreads(n int) *Backend {
	return internalcpu.NewWithConfig(parallel.Threads(n))
}

// Square returns square kernel parameters.
func Square(kernel, stride, pad int) ConvParams {
	return internalcpu.Square(kernel, stride, pad)
}
