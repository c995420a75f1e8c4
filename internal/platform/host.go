package platform

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/born-ml/yolo/internal/config"
	"github.com/born-ml/yolo/internal/postprocess"
)

// DetectionsFile is the name of the host output file.
const DetectionsFile = "detections.bin"

// Host runs in an ordinary process. Cache maintenance is a no-op.
type Host struct {
	outDir string
	logger zerolog.Logger
}

// NewHost creates a host platform writing into outDir.
func NewHost(outDir string, logger zerolog.Logger) *Host {
	return &Host{outDir: outDir, logger: logger}
}

// Name implements Platform.
func (h *Host) Name() string { return config.PlatformHost }

// PoolRegion implements Platform.
func (h *Host) PoolRegion() []byte { return nil }

// HeadRegion implements Platform.
func (h *Host) HeadRegion() []float32 { return nil }

// Flush implements Platform.
func (h *Host) Flush([]float32) {}

// Invalidate implements Platform.
func (h *Host) Invalidate([]float32) {}

// Barrier implements Platform.
func (h *Host) Barrier() {}

// OutputPath returns the detections file path, or "" when disabled.
func (h *Host) OutputPath() string {
	if h.outDir == "" {
		return ""
	}
	return filepath.Join(h.outDir, DetectionsFile)
}

// Publish writes the detection records to OutputPath.
func (h *Host) Publish(dets []postprocess.Detection, inputSize int) (err error) {
	path := h.OutputPath()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(h.outDir, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	//nolint:gosec // G304: output path is user supplied
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	if err := postprocess.WriteRecords(w, dets, inputSize); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	count := min(len(dets), postprocess.MaxRecords)
	h.logger.Info().
		Str("path", path).
		Int("records", count).
		Int("bytes", 1+count*postprocess.RecordSize).
		Msg("detections saved")
	return nil
}
