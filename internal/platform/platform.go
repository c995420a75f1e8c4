// Package platform abstracts the machine the detector runs on.
//
// Two implementations exist:
//   - Host: a regular process; the arena comes from the Go heap and
//     detections are written to a file.
//   - BareMetal: an accelerator board with fixed DDR regions for the feature
//     pool, the detection heads and the output records, explicit cache
//     maintenance and a serial console.
//
// The pipeline talks to a Platform only at its boundary: it asks for backing
// memory once, flushes each stage output, and publishes the final detections.
package platform

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/born-ml/yolo/internal/config"
	"github.com/born-ml/yolo/internal/postprocess"
)

// Platform is the hardware abstraction consumed by the pipeline.
type Platform interface {
	// Name identifies the platform in logs.
	Name() string

	// PoolRegion returns dedicated memory for the feature arena, or nil when
	// the arena should claim its own.
	PoolRegion() []byte

	// HeadRegion returns dedicated memory for the three detection heads, or
	// nil when they are allocated from the arena.
	HeadRegion() []float32

	// Flush writes back data produced by the CPU so a device sees it.
	Flush(data []float32)

	// Invalidate discards cached copies of data a device may have written.
	Invalidate(data []float32)

	// Barrier orders every preceding memory access before any following one.
	Barrier()

	// Publish delivers the final detections.
	Publish(dets []postprocess.Detection, inputSize int) error
}

// Options configure New.
type Options struct {
	// OutDir receives detections.bin on the host. Empty disables the file.
	OutDir string
	// Serial receives the hex dump on bare metal.
	Serial io.Writer
	Logger zerolog.Logger
}

// New returns the platform named by cfg.Platform.
func New(cfg config.Config, opts Options) (Platform, error) {
	switch cfg.Platform {
	case config.PlatformHost, "":
		return NewHost(opts.OutDir, opts.Logger), nil
	case config.PlatformBareMetal:
		return NewBareMetal(DefaultLayout(), opts.Serial, opts.Logger)
	default:
		return nil, fmt.Errorf("unknown platform %q", cfg.Platform)
	}
}
