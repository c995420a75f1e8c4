// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package detector is the high-level entry point: load a weight file, run the
// YOLOv5n forward pass on a preprocessed image and get non-overlapping
// detections back.
//
// All intermediate feature maps live in a fixed-capacity arena sized by
// Config.PoolBytes. A run that does not fit fails with an error wrapping
// ErrOutOfMemory instead of growing the pool.
//
// Example:
//
//	d, err := detector.Open("assets/weights.bin", detector.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer d.Close()
//
//	res, err := d.DetectFile(ctx, "data/input/preprocessed_image.bin")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, det := range res.Detections {
//	    fmt.Println(detector.ClassName(det.Class), det.Conf)
//	}
package detector
