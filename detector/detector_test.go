// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package detector_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/born-ml/yolo/detector"
	"github.com/born-ml/yolo/internal/input"
	"github.com/born-ml/yolo/internal/pipeline"
	"github.com/born-ml/yolo/internal/weights"
)

func smallConfig() detector.Config {
	cfg := detector.DefaultConfig()
	cfg.InputSize = 64
	cfg.PoolBytes = 4 << 20
	return cfg
}

func writeWeights(t *testing.T, cfg detector.Config, comp weights.Compression) string {
	t.Helper()
	plan, err := pipeline.NewPlan(cfg.InputSize, cfg.NumClasses)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "weights.bin")
	if err := weights.WriteFile(path, pipeline.SyntheticWeights(plan, 3), comp); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestOpenAndDetect(t *testing.T) {
	cfg := smallConfig()
	reg := prometheus.NewRegistry()
	d, err := detector.Open(writeWeights(t, cfg, weights.CompressionNone), cfg, detector.WithRegisterer(reg))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = d.Close() }()

	img := input.Blank(cfg.InputSize)
	res, err := d.DetectImage(context.Background(), img)
	if err != nil {
		t.Fatalf("DetectImage failed: %v", err)
	}
	if res.Stats.Peak > cfg.PoolBytes {
		t.Errorf("peak %d exceeds pool %d", res.Stats.Peak, cfg.PoolBytes)
	}
	if len(res.Detections) > cfg.MaxDetections {
		t.Errorf("%d detections, cap is %d", len(res.Detections), cfg.MaxDetections)
	}

	again, err := d.Detect(context.Background(), img.Pixels)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(again.Detections) != len(res.Detections) {
		t.Errorf("second run gave %d detections, first gave %d", len(again.Detections), len(res.Detections))
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) == 0 {
		t.Error("no metrics registered")
	}
}

func TestDetectFile(t *testing.T) {
	cfg := smallConfig()
	d, err := detector.Open(writeWeights(t, cfg, weights.CompressionZstd), cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = d.Close() }()

	var buf bytes.Buffer
	if err := input.Blank(cfg.InputSize).Encode(&buf); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "image.bin")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := d.DetectFile(context.Background(), path); err != nil {
		t.Fatalf("DetectFile failed: %v", err)
	}

	if _, err := d.DetectImage(context.Background(), input.Blank(32)); err == nil {
		t.Error("expected size mismatch error")
	}
}

func TestPoolTooSmall(t *testing.T) {
	cfg := smallConfig()
	path := writeWeights(t, cfg, weights.CompressionNone)

	probe, err := detector.Open(path, cfg)
	if err != nil {
		t.Fatal(err)
	}
	cfg.PoolBytes = probe.PeakEstimate() / 4
	_ = probe.Close()

	d, err := detector.Open(path, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = d.Close() }()

	_, err = d.DetectImage(context.Background(), input.Blank(cfg.InputSize))
	if !errors.Is(err, detector.ErrOutOfMemory) {
		t.Fatalf("error = %v, want ErrOutOfMemory", err)
	}
	var stageErr *detector.StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("error %v carries no stage", err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := detector.Open(filepath.Join(t.TempDir(), "nope.bin"), smallConfig()); err == nil {
		t.Fatal("expected error for missing weight file")
	}
}
