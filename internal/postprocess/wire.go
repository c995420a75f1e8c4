package postprocess

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// RecordSize is the byte size of one encoded detection.
const RecordSize = 12

// MaxRecords is the largest count a single count byte can carry.
const MaxRecords = 255

// ErrMalformed reports an undecodable record stream or serial dump.
var ErrMalformed = errors.New("malformed detection data")

// Record is the fixed-width form of a detection handed to the device side.
//
// Layout (little-endian, 12 bytes):
//
//	u16 x, u16 y, u16 w, u16 h   pixel units of the square input
//	u8  class
//	u8  confidence * 255
//	u8  reserved[2] = 0
type Record struct {
	X, Y, W, H uint16
	Class      uint8
	Conf       uint8
}

func toU16(v float32) uint16 {
	switch {
	case v <= 0 || v != v:
		return 0
	case v >= math.MaxUint16:
		return math.MaxUint16
	default:
		return uint16(v)
	}
}

func toU8(v float32) uint8 {
	switch {
	case v <= 0 || v != v:
		return 0
	case v >= math.MaxUint8:
		return math.MaxUint8
	default:
		return uint8(v)
	}
}

// NewRecord scales a normalised detection by inputSize. Fractions are
// truncated toward zero.
func NewRecord(d Detection, inputSize int) Record {
	s := float32(inputSize)
	return Record{
		X:     toU16(d.X * s),
		Y:     toU16(d.Y * s),
		W:     toU16(d.W * s),
		H:     toU16(d.H * s),
		Class: uint8(min(max(d.Class, 0), math.MaxUint8)), //nolint:gosec // G115: clamped above
		Conf:  toU8(d.Conf * 255),
	}
}

// Detection converts the record back to normalised form. Precision lost to
// truncation is not recovered.
func (r Record) Detection(inputSize int) Detection {
	inv := 1 / float32(inputSize)
	return Detection{
		X:     float32(r.X) * inv,
		Y:     float32(r.Y) * inv,
		W:     float32(r.W) * inv,
		H:     float32(r.H) * inv,
		Class: int(r.Class),
		Conf:  float32(r.Conf) / 255,
	}
}

// Put writes r into b[:RecordSize].
func (r Record) Put(b []byte) {
	le := binary.LittleEndian
	le.PutUint16(b[0:], r.X)
	le.PutUint16(b[2:], r.Y)
	le.PutUint16(b[4:], r.W)
	le.PutUint16(b[6:], r.H)
	b[8] = r.Class
	b[9] = r.Conf
	b[10], b[11] = 0, 0
}

// ReadRecord decodes b[:RecordSize].
func ReadRecord(b []byte) Record {
	le := binary.LittleEndian
	return Record{
		X:     le.Uint16(b[0:]),
		Y:     le.Uint16(b[2:]),
		W:     le.Uint16(b[4:]),
		H:     le.Uint16(b[6:]),
		Class: b[8],
		Conf:  b[9],
	}
}

// EncodeRecords returns the detections output: one count byte clamped to
// MaxRecords, then that many records.
func EncodeRecords(dets []Detection, inputSize int) []byte {
	n := min(len(dets), MaxRecords)
	out := make([]byte, 1+n*RecordSize)
	out[0] = byte(n)
	for i := 0; i < n; i++ {
		NewRecord(dets[i], inputSize).Put(out[1+i*RecordSize:])
	}
	return out
}

// WriteRecords writes EncodeRecords(dets, inputSize) to w.
func WriteRecords(w io.Writer, dets []Detection, inputSize int) error {
	if _, err := w.Write(EncodeRecords(dets, inputSize)); err != nil {
		return fmt.Errorf("failed to write detections: %w", err)
	}
	return nil
}

// DecodeRecords parses a detections output produced by EncodeRecords.
func DecodeRecords(data []byte) ([]Record, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: missing count byte", ErrMalformed)
	}
	n := int(data[0])
	if len(data) < 1+n*RecordSize {
		return nil, fmt.Errorf("%w: count %d needs %d bytes, have %d", ErrMalformed, n, 1+n*RecordSize, len(data))
	}
	out := make([]Record, n)
	for i := range out {
		out[i] = ReadRecord(data[1+i*RecordSize:])
	}
	return out, nil
}
