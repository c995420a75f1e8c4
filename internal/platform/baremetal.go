package platform

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/born-ml/yolo/internal/config"
	"github.com/born-ml/yolo/internal/postprocess"
	"github.com/born-ml/yolo/internal/tensor"
)

// Layout is the board DDR map.
type Layout struct {
	PoolBase uintptr
	PoolSize int
	HeadBase uintptr
	HeadSize int
	OutBase  uintptr
	OutSize  int
}

// DefaultLayout returns the reference board map:
//
//	0x82000000  feature pool     32 MiB
//	0x8E000000  detection heads   9 MiB
//	0x8FFFF000  output records    4 KiB (last page of the image region)
func DefaultLayout() Layout {
	return Layout{
		PoolBase: 0x82000000,
		PoolSize: 32 << 20,
		HeadBase: 0x8E000000,
		HeadSize: 9 << 20,
		OutBase:  0x8F000000 + 16<<20 - 4096,
		OutSize:  4096,
	}
}

// Validate checks that every region is usable.
func (l Layout) Validate() error {
	var errs []error
	if l.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("pool size %d", l.PoolSize))
	}
	if l.HeadSize <= 0 || l.HeadSize%tensor.Float32Size != 0 {
		errs = append(errs, fmt.Errorf("head size %d", l.HeadSize))
	}
	if need := 1 + postprocess.MaxRecords*postprocess.RecordSize; l.OutSize < need {
		errs = append(errs, fmt.Errorf("output size %d below %d", l.OutSize, need))
	}
	return errors.Join(errs...)
}

// CacheStats counts cache maintenance calls.
type CacheStats struct {
	Flushes          uint64
	FlushedBytes     uint64
	Invalidates      uint64
	InvalidatedBytes uint64
	Barriers         uint64
}

// BareMetal models the accelerator board. Each DDR region is a fixed buffer
// reserved up front; nothing else is allocated while inference runs.
type BareMetal struct {
	layout Layout
	pool   []byte
	head   []float32
	out    []byte
	serial io.Writer
	logger zerolog.Logger

	flushes          atomic.Uint64
	flushedBytes     atomic.Uint64
	invalidates      atomic.Uint64
	invalidatedBytes atomic.Uint64
	barriers         atomic.Uint64
}

// NewBareMetal reserves the regions described by layout. A nil serial
// discards the console output.
func NewBareMetal(layout Layout, serial io.Writer, logger zerolog.Logger) (*BareMetal, error) {
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid board layout: %w", err)
	}
	if serial == nil {
		serial = io.Discard
	}
	return &BareMetal{
		layout: layout,
		pool:   make([]byte, layout.PoolSize),
		head:   make([]float32, layout.HeadSize/tensor.Float32Size),
		out:    make([]byte, layout.OutSize),
		serial: serial,
		logger: logger,
	}, nil
}

// Name implements Platform.
func (b *BareMetal) Name() string { return config.PlatformBareMetal }

// Layout returns the board map.
func (b *BareMetal) Layout() Layout { return b.layout }

// PoolRegion implements Platform.
func (b *BareMetal) PoolRegion() []byte { return b.pool }

// HeadRegion implements Platform.
func (b *BareMetal) HeadRegion() []float32 { return b.head }

// Flush implements Platform.
func (b *BareMetal) Flush(data []float32) {
	b.flushes.Add(1)
	b.flushedBytes.Add(uint64(len(data) * tensor.Float32Size))
}

// Invalidate implements Platform.
func (b *BareMetal) Invalidate(data []float32) {
	b.invalidates.Add(1)
	b.invalidatedBytes.Add(uint64(len(data) * tensor.Float32Size))
}

// Barrier implements Platform. The atomic add is a full fence.
func (b *BareMetal) Barrier() {
	b.barriers.Add(1)
}

// CacheStats returns the maintenance counters.
func (b *BareMetal) CacheStats() CacheStats {
	return CacheStats{
		Flushes:          b.flushes.Load(),
		FlushedBytes:     b.flushedBytes.Load(),
		Invalidates:      b.invalidates.Load(),
		InvalidatedBytes: b.invalidatedBytes.Load(),
		Barriers:         b.barriers.Load(),
	}
}

// Output returns the populated part of the output region: the count byte
// followed by the records.
func (b *BareMetal) Output() []byte {
	return b.out[:1+int(b.out[0])*postprocess.RecordSize]
}

// Publish stores the count byte and records in the output region, then
// sends the records over the serial console as hex.
func (b *BareMetal) Publish(dets []postprocess.Detection, inputSize int) error {
	data := postprocess.EncodeRecords(dets, inputSize)
	copy(b.out, data)
	b.Barrier()

	count := int(data[0])
	b.logger.Info().
		Int("records", count).
		Str("addr", fmt.Sprintf("0x%08X", b.layout.OutBase)).
		Msg("sending detections to UART")
	if err := postprocess.WriteHex(b.serial, data[1:], count); err != nil {
		return err
	}
	return nil
}
