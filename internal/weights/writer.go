package weights

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Write serialises tensors in the padded container layout read by Parse.
func Write(w io.Writer, tensors []Tensor) error {
	cw := &countingWriter{w: w}

	if len(tensors) > MaxTensors {
		return fmt.Errorf("%d tensors exceeds limit %d", len(tensors), MaxTensors)
	}
	if err := cw.u32(uint32(len(tensors))); err != nil { //nolint:gosec // G115: bounded by MaxTensors
		return err
	}

	for _, t := range tensors {
		if len(t.Name) == 0 || len(t.Name) > MaxNameLength {
			return fmt.Errorf("tensor %q: invalid name length %d", t.Name, len(t.Name))
		}
		if len(t.Shape) > MaxDims {
			return fmt.Errorf("tensor %q: %d dims exceeds limit %d", t.Name, len(t.Shape), MaxDims)
		}
		if t.NumElements() != len(t.Data) {
			return fmt.Errorf("tensor %q: shape %v holds %d values, data has %d",
				t.Name, t.Shape, t.NumElements(), len(t.Data))
		}

		if err := cw.u32(uint32(len(t.Name))); err != nil { //nolint:gosec // G115: bounded by MaxNameLength
			return err
		}
		if err := cw.write([]byte(t.Name)); err != nil {
			return err
		}
		if err := cw.u32(uint32(len(t.Shape))); err != nil { //nolint:gosec // G115: bounded by MaxDims
			return err
		}
		for _, d := range t.Shape {
			if err := cw.u32(uint32(d)); err != nil { //nolint:gosec // G115: dims are small positive ints
				return err
			}
		}
		if pad := (4 - cw.n%4) % 4; pad != 0 {
			if err := cw.write(make([]byte, pad)); err != nil {
				return err
			}
		}

		buf := make([]byte, 4*len(t.Data))
		for i, v := range t.Data {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
		if err := cw.write(buf); err != nil {
			return err
		}
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int
}

func (cw *countingWriter) write(b []byte) error {
	n, err := cw.w.Write(b)
	cw.n += n
	if err != nil {
		return fmt.Errorf("failed to write weights: %w", err)
	}
	return nil
}

func (cw *countingWriter) u32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return cw.write(b[:])
}
