// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu_test

import (
	"testing"

	"github.com/born-ml/yolo/backend/cpu"
	"github.com/born-ml/yolo/tensor"
)

func TestBackendConstructors(t *testing.T) {
	if cpu.New().Parallel().Enabled(64) {
		t.Error("New() should run sequentially")
	}
	if !cpu.NewWithThreads(4).Parallel().Enabled(64) {
		t.Error("NewWithThreads(4) should run in parallel")
	}
}

func TestSquareOutputShape(t *testing.T) {
	p := cpu.Square(6, 2, 2)
	got := p.OutputShape(tensor.NCHW(1, 3, 640, 640), 16)
	if got != tensor.NCHW(1, 16, 320, 320) {
		t.Errorf("OutputShape = %v, want [1 16 320 320]", got)
	}
}

func TestUpsampleAndConcat(t *testing.T) {
	b := cpu.New()
	src := tensor.Zeros(tensor.NCHW(1, 1, 1, 2))
	copy(src.Data, []float32{1, 2})

	up := tensor.Zeros(tensor.NCHW(1, 1, 2, 4))
	b.Upsample2x(up, src)
	want := []float32{1, 1, 2, 2, 1, 1, 2, 2}
	for i, v := range want {
		if up.Data[i] != v {
			t.Fatalf("Upsample2x[%d] = %v, want %v", i, up.Data[i], v)
		}
	}

	cat := tensor.Zeros(tensor.NCHW(1, 2, 2, 4))
	b.Concat(cat, up, up)
	for i := range want {
		if cat.Data[8+i] != want[i] {
			t.Fatalf("Concat[%d] = %v, want %v", 8+i, cat.Data[8+i], want[i])
		}
	}
}
