// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public tensor types of the detector.
//
// Tensors are borrowed views: a float32 slice plus explicit NCHW dimensions.
// A View never owns its memory; buffers come from the feature arena or from
// the caller.
//
// Example:
//
//	x := tensor.Zeros(tensor.NCHW(1, 3, 640, 640))
//	x.Set(0, 0, 10, 20, 0.5)
//	plane := x.Channel(0, 0) // 640*640 floats
package tensor
