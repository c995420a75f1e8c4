// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go CPU kernels the detector runs on.
//
// # Overview
//
// The backend implements the fixed kernel set of the network:
//   - Conv2D: direct NCHW convolution with per-channel bias
//   - SiLU: x * sigmoid(x), in place allowed
//   - MaxPool2D: out-of-bounds taps skipped
//   - Concat: channel concatenation of any number of inputs
//   - Upsample2x: nearest neighbour
//   - Add: residual add
//
// Kernels never allocate. Callers size every output buffer.
//
// # Basic Usage
//
//	backend := cpu.New()
//	dst := tensor.Zeros(cpu.Square(3, 1, 1).OutputShape(src.Shape, 16))
//	backend.Conv2D(dst, src, weight, bias, cpu.Square(3, 1, 1))
//	backend.SiLU(dst, dst)
//
// # Threads
//
// New runs every kernel on the calling goroutine. NewWithThreads spreads
// convolution output planes over workers; results are bit-identical.
package cpu
