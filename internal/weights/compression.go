package weights

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// MaxDecodedBytes caps the decompressed size of a weight file. The float32
// YOLOv5n tensors take under 8 MiB; larger outputs are rejected as malformed.
const MaxDecodedBytes = 256 << 20

// Compression identifies the outer encoding of a weight file.
type Compression int

// Supported encodings. Detection is by frame magic, so callers only choose a
// Compression when writing.
const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

var (
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	lz4Magic  = []byte{0x04, 0x22, 0x4D, 0x18}
)

// String returns the lowercase codec name.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", int(c))
	}
}

// ParseCompression maps a codec name to a Compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q (want none, zstd or lz4)", name)
	}
}

// DetectCompression inspects the leading frame magic.
func DetectCompression(head []byte) Compression {
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		return CompressionZstd
	case bytes.HasPrefix(head, lz4Magic):
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// decompress expands a compressed container into a fresh buffer of at most
// limit bytes.
func decompress(c Compression, r io.Reader, limit int64) ([]byte, error) {
	switch c {
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		return readAligned(dec, limit)
	case CompressionLZ4:
		return readAligned(lz4.NewReader(r), limit)
	default:
		return readAligned(r, limit)
	}
}

// readAligned reads r to EOF into a buffer whose base is 8-byte aligned, so
// the decoded floats can be viewed in place. More than limit bytes is an
// ErrMalformed failure.
func readAligned(r io.Reader, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(r, limit+1)); err != nil {
		return nil, fmt.Errorf("failed to decompress weights: %w", err)
	}
	if int64(buf.Len()) > limit {
		return nil, fmt.Errorf("%w: decompressed size exceeds %d bytes", ErrMalformed, limit)
	}
	out := alignedCopy(buf.Bytes())
	return out, nil
}

// compressWriter wraps w with the encoder for c. The returned closer must be
// closed to flush the frame; it does not close w.
func compressWriter(c Compression, w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return enc, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported compression %v", c)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
