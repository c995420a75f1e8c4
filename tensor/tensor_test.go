// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"testing"

	"github.com/born-ml/yolo/tensor"
)

func TestViewAPI(t *testing.T) {
	s := tensor.NCHW(1, 2, 3, 4)
	if s.NumElements() != 24 {
		t.Fatalf("NumElements() = %d, want 24", s.NumElements())
	}

	v := tensor.Zeros(s)
	v.Set(0, 1, 2, 3, 7)
	if got := v.At(0, 1, 2, 3); got != 7 {
		t.Errorf("At() = %v, want 7", got)
	}
	if got := v.Data[s.Offset(0, 1, 2, 3)]; got != 7 {
		t.Errorf("Data[Offset] = %v, want 7", got)
	}
	if len(v.Channel(0, 1)) != 12 {
		t.Errorf("Channel length = %d, want 12", len(v.Channel(0, 1)))
	}
}

func TestNewViewRejectsShortData(t *testing.T) {
	if _, err := tensor.NewView(tensor.NCHW(1, 1, 2, 2), make([]float32, 3)); err == nil {
		t.Fatal("expected error for short data")
	}
	if _, err := tensor.NewView(tensor.NCHW(1, 1, 2, 2), make([]float32, 4)); err != nil {
		t.Fatalf("NewView failed: %v", err)
	}
}

func TestConvOutput(t *testing.T) {
	if got := tensor.ConvOutput(640, 6, 2, 2); got != 320 {
		t.Errorf("ConvOutput(640, 6, 2, 2) = %d, want 320", got)
	}
	if got := tensor.ConvOutput(20, 5, 1, 2); got != 20 {
		t.Errorf("ConvOutput(20, 5, 1, 2) = %d, want 20", got)
	}
}
