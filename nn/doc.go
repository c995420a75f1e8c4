// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn exposes the detector's building blocks.
//
// The blocks are fused convolutions (batch norm folded in) followed by SiLU,
// composed into the YOLOv5 Bottleneck, C3 and SPPF blocks, plus the three raw
// Detect heads. Every block draws its scratch memory from an Allocator, which
// is normally the feature arena, and returns all of it before Forward returns.
//
// Example:
//
//	backend := cpu.New()
//	c3, err := nn.LoadC3(store, "model.2", nn.C3Spec{
//	    InC: 32, OutC: 32, Hidden: 16, Depth: 1, Shortcut: true,
//	}, backend)
//	if err != nil {
//	    return err
//	}
//	dst := tensor.Zeros(c3.OutputShape(src.Shape))
//	err = c3.Forward(pool, dst, src)
package nn
