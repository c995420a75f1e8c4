// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/yolo/internal/nn"
)

// Core interfaces.
type (
	// Backend is the kernel set blocks run on.
	Backend = nn.Backend

	// Allocator hands out arena-backed float buffers.
	Allocator = nn.Allocator

	// WeightSource resolves named tensors with an expected shape.
	WeightSource = nn.WeightSource

	// Module is a single-input feature block.
	Module = nn.Module
)

// Blocks.
type (
	ConvSpec    = nn.ConvSpec
	ConvWeights = nn.ConvWeights
	ConvBlock   = nn.ConvBlock
	Bottleneck  = nn.Bottleneck
	C3Spec      = nn.C3Spec
	C3          = nn.C3
	SPPF        = nn.SPPF
	Detect      = nn.Detect
	Workspace   = nn.Workspace
)

// NumHeads is the number of detection heads.
const NumHeads = nn.NumHeads

// Pointwise returns a 1x1 stride-1 convolution spec.
func Pointwise(inC, outC int) ConvSpec {
	return nn.Pointwise(inC, outC)
}

// Conv3x3 returns a 3x3 convolution spec with padding 1.
func Conv3x3(inC, outC, stride int) ConvSpec {
	return nn.Conv3x3(inC, outC, stride)
}

// LoadConv reads "<prefix>.conv.weight" and "<prefix>.conv.bias" from src.
func LoadConv(src WeightSource, prefix string, spec ConvSpec) (ConvWeights, error) {
	return nn.LoadConv(src, prefix, spec)
}

// NewConvBlock wraps weights into a convolution + SiLU block.
func NewConvBlock(w ConvWeights, backend Backend) *ConvBlock {
	return nn.NewConvBlock(w, backend)
}

// LoadBottleneck loads "<prefix>.cv1" and "<prefix>.cv2".
func LoadBottleneck(src WeightSource, prefix string, channels int, shortcut bool, backend Backend) (*Bottleneck, error) {
	return nn.LoadBottleneck(src, prefix, channels, shortcut, backend)
}

// LoadC3 loads a C3 block rooted at prefix.
func LoadC3(src WeightSource, prefix string, spec C3Spec, backend Backend) (*C3, error) {
	return nn.LoadC3(src, prefix, spec, backend)
}

// LoadSPPF loads an SPPF block rooted at prefix.
func LoadSPPF(src WeightSource, prefix string, inC, outC, hidden, poolSize int, backend Backend) (*SPPF, error) {
	return nn.LoadSPPF(src, prefix, inC, outC, hidden, poolSize, backend)
}

// LoadDetect loads the three heads "<prefix>.m.{0,1,2}".
func LoadDetect(src WeightSource, prefix string, inC [NumHeads]int, outC int, backend Backend) (*Detect, error) {
	return nn.LoadDetect(src, prefix, inC, outC, backend)
}

// NewWorkspace returns an empty scratch scope over alloc.
func NewWorkspace(alloc Allocator) *Workspace {
	return nn.NewWorkspace(alloc)
}
