// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package detector

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/born-ml/yolo/internal/arena"
	"github.com/born-ml/yolo/internal/config"
	"github.com/born-ml/yolo/internal/input"
	"github.com/born-ml/yolo/internal/pipeline"
	"github.com/born-ml/yolo/internal/postprocess"
	"github.com/born-ml/yolo/internal/weights"
	"github.com/born-ml/yolo/nn"
	"github.com/born-ml/yolo/tensor"
)

type (
	// Config holds the detector parameters.
	Config = config.Config

	// Detection is one box, centre format, normalised by the input size.
	Detection = postprocess.Detection

	// Result is the outcome of a detection run.
	Result = pipeline.Result

	// Image is a preprocessed, letterboxed input.
	Image = input.Image

	// StageError names the pipeline stage a failure happened in.
	StageError = pipeline.StageError
)

// ErrOutOfMemory is wrapped by every arena exhaustion error.
var ErrOutOfMemory = arena.ErrOutOfMemory

// DefaultConfig returns the 640x640, 80-class configuration.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads a YAML, JSON or TOML configuration file.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// ClassName returns the COCO label of a class id.
func ClassName(id int) string {
	return postprocess.ClassName(id)
}

// OpenImage reads a preprocessed image file.
func OpenImage(path string) (*Image, error) {
	return input.Open(path)
}

type options struct {
	logger zerolog.Logger
	reg    prometheus.Registerer
}

// Option configures a Detector.
type Option func(*options)

// WithLogger sets the logger used for run and stage events.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer registers the pipeline metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// Detector runs inference on one image at a time. It is not safe for
// concurrent use.
type Detector struct {
	p      *pipeline.Pipeline
	closer io.Closer
}

// Open loads the weight file at path and builds a detector over it. The file
// stays mapped until Close.
func Open(path string, cfg Config, opts ...Option) (*Detector, error) {
	store, err := weights.Open(path)
	if err != nil {
		return nil, err
	}
	d, err := New(store, cfg, opts...)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}
	d.closer = store
	return d, nil
}

// New builds a detector over an already loaded weight source. src must stay
// valid for the detector's lifetime.
func New(src nn.WeightSource, cfg Config, opts ...Option) (*Detector, error) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	popts := []pipeline.Option{pipeline.WithLogger(o.logger)}
	if o.reg != nil {
		popts = append(popts, pipeline.WithMetrics(pipeline.NewMetrics(o.reg)))
	}
	p, err := pipeline.New(cfg, src, popts...)
	if err != nil {
		return nil, err
	}
	return &Detector{p: p}, nil
}

// Config returns the validated configuration.
func (d *Detector) Config() Config {
	return d.p.Config()
}

// PeakEstimate returns the arena bytes one run needs at its high-water mark.
func (d *Detector) PeakEstimate() int {
	return d.p.PeakEstimate()
}

// Detect runs the network on pixels, which must be [1, 3, size, size] with
// size equal to Config.InputSize.
func (d *Detector) Detect(ctx context.Context, pixels tensor.View) (*Result, error) {
	return d.p.Detect(ctx, pixels)
}

// DetectImage runs the network on a preprocessed image.
func (d *Detector) DetectImage(ctx context.Context, img *Image) (*Result, error) {
	if img.Size != d.p.Config().InputSize {
		return nil, fmt.Errorf("image is %dx%d, detector expects %d",
			img.Size, img.Size, d.p.Config().InputSize)
	}
	return d.p.Detect(ctx, img.Pixels)
}

// DetectFile reads a preprocessed image file and runs the network on it.
func (d *Detector) DetectFile(ctx context.Context, path string) (*Result, error) {
	img, err := input.Open(path)
	if err != nil {
		return nil, err
	}
	return d.DetectImage(ctx, img)
}

// Close releases the weight file. Detections returned earlier stay valid.
func (d *Detector) Close() error {
	if d.closer == nil {
		return nil
	}
	err := d.closer.Close()
	d.closer = nil
	return err
}
