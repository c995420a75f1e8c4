// Package config holds the detector's build-time constants and lets a file
// override them.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Compile-time defaults.
const (
	DefaultInputSize     = 640
	DefaultNumClasses    = 80
	DefaultConfThreshold = 0.25
	DefaultIoUThreshold  = 0.45
	DefaultMaxDetections = 300
	DefaultPoolBytes     = 22 * 1024 * 1024

	// NumScales is the number of detection heads.
	NumScales = 3
	// NumAnchors is the number of anchors per head.
	NumAnchors = 3
)

// HeadStrides are the downsampling factors of the three heads of the fixed
// network: stages 17, 20 and 23 sit at 1/8, 1/16 and 1/32 of the input.
var HeadStrides = [NumScales]float32{8, 16, 32}

// Platform names.
const (
	PlatformHost      = "host"
	PlatformBareMetal = "baremetal"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the detector parameters.
type Config struct {
	InputSize     int     `json:"input_size" yaml:"input_size" toml:"input_size"`
	NumClasses    int     `json:"num_classes" yaml:"num_classes" toml:"num_classes"`
	ConfThreshold float32 `json:"conf_threshold" yaml:"conf_threshold" toml:"conf_threshold"`
	IoUThreshold  float32 `json:"iou_threshold" yaml:"iou_threshold" toml:"iou_threshold"`
	MaxDetections int     `json:"max_detections" yaml:"max_detections" toml:"max_detections"`

	// Strides per head, in input pixels per grid cell.
	Strides [NumScales]float32 `json:"strides" yaml:"strides" toml:"strides"`
	// Anchors per head as (width, height) in input pixels.
	Anchors [NumScales][NumAnchors][2]float32 `json:"anchors" yaml:"anchors" toml:"anchors"`

	PoolBytes int    `json:"pool_bytes" yaml:"pool_bytes" toml:"pool_bytes"`
	Threads   int    `json:"threads" yaml:"threads" toml:"threads"`
	Platform  string `json:"platform" yaml:"platform" toml:"platform"`
}

// Default returns the compile-time configuration: 640 input, 80 COCO
// classes, strides 8/16/32 and the standard YOLOv5 anchors.
func Default() Config {
	return Config{
		InputSize:     DefaultInputSize,
		NumClasses:    DefaultNumClasses,
		ConfThreshold: DefaultConfThreshold,
		IoUThreshold:  DefaultIoUThreshold,
		MaxDetections: DefaultMaxDetections,
		Strides:       HeadStrides,
		Anchors: [NumScales][NumAnchors][2]float32{
			{{10, 13}, {16, 30}, {33, 23}},
			{{30, 61}, {62, 45}, {59, 119}},
			{{116, 90}, {156, 198}, {373, 326}},
		},
		PoolBytes: DefaultPoolBytes,
		Threads:   1,
		Platform:  PlatformHost,
	}
}

// HeadChannels returns the channel count of one detection head output:
// NumAnchors * (5 + NumClasses).
func (c Config) HeadChannels() int {
	return NumAnchors * (5 + c.NumClasses)
}

// GridSize returns the side of head i's grid.
func (c Config) GridSize(i int) int {
	return c.InputSize / int(c.Strides[i])
}

// Load reads a configuration file based on its extension and applies it on
// top of Default. Keys absent from the file keep their default.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	//nolint:gosec // G304: config path is user supplied
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks every field for a usable value.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.InputSize <= 0 || c.InputSize%32 != 0 {
		bad("input_size %d must be a positive multiple of 32", c.InputSize)
	}
	if c.NumClasses <= 0 || c.NumClasses > 256 {
		bad("num_classes %d must be in 1..256", c.NumClasses)
	}
	if c.ConfThreshold < 0 || c.ConfThreshold > 1 {
		bad("conf_threshold %v must be in [0,1]", c.ConfThreshold)
	}
	if c.IoUThreshold <= 0 || c.IoUThreshold > 1 {
		bad("iou_threshold %v must be in (0,1]", c.IoUThreshold)
	}
	if c.MaxDetections <= 0 {
		bad("max_detections %d must be positive", c.MaxDetections)
	}
	for i, s := range c.Strides {
		if s != HeadStrides[i] {
			bad("strides[%d] %v must be %v, the network's head stride", i, s, HeadStrides[i])
		}
	}
	for i := range c.Anchors {
		for j, a := range c.Anchors[i] {
			if a[0] <= 0 || a[1] <= 0 {
				bad("anchors[%d][%d] %v must be positive", i, j, a)
			}
		}
	}
	if c.PoolBytes <= 0 {
		bad("pool_bytes %d must be positive", c.PoolBytes)
	}
	if c.Threads < 0 {
		bad("threads %d must not be negative", c.Threads)
	}
	if c.Platform != PlatformHost && c.Platform != PlatformBareMetal {
		bad("platform %q must be %q or %q", c.Platform, PlatformHost, PlatformBareMetal)
	}
	return errors.Join(errs...)
}
