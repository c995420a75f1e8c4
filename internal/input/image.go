// Package input reads the preprocessed, letterboxed image the detector runs
// on and maps detections back onto the original picture.
//
// File layout (little-endian):
//
//	u32 original width
//	u32 original height
//	f32 resize scale
//	u32 pad x
//	u32 pad y
//	u32 square size S
//	3*S*S f32 values, CHW
package input

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/born-ml/yolo/internal/tensor"
)

// HeaderSize is the fixed header length in bytes.
const HeaderSize = 24

// Channels is the number of colour planes.
const Channels = 3

// PadValue is the letterbox fill level (114/255).
const PadValue = float32(114.0 / 255.0)

// ErrMalformed reports a truncated or inconsistent image file.
var ErrMalformed = errors.New("malformed image file")

// Image is a square, normalised RGB input plus the letterbox geometry used to
// produce it.
type Image struct {
	OrigW, OrigH int
	Scale        float32
	PadX, PadY   int
	Size         int
	Pixels       tensor.View // [1, 3, Size, Size]
}

// Parse decodes an image file held in memory. Pixel data are copied out of
// data.
func Parse(data []byte) (*Image, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, have %d", ErrMalformed, HeaderSize, len(data))
	}
	le := binary.LittleEndian
	img := &Image{
		OrigW: int(le.Uint32(data[0:])),
		OrigH: int(le.Uint32(data[4:])),
		Scale: math.Float32frombits(le.Uint32(data[8:])),
		PadX:  int(le.Uint32(data[12:])),
		PadY:  int(le.Uint32(data[16:])),
		Size:  int(le.Uint32(data[20:])),
	}
	if img.Size <= 0 || img.Size > 1<<14 {
		return nil, fmt.Errorf("%w: square size %d", ErrMalformed, img.Size)
	}

	shape := tensor.NCHW(1, Channels, img.Size, img.Size)
	body := data[HeaderSize:]
	if len(body) < shape.Bytes() {
		return nil, fmt.Errorf("%w: pixel data needs %d bytes, have %d", ErrMalformed, shape.Bytes(), len(body))
	}

	pixels := make([]float32, shape.NumElements())
	for i := range pixels {
		pixels[i] = math.Float32frombits(le.Uint32(body[i*4:]))
	}
	img.Pixels = tensor.MustView(shape, pixels)
	return img, nil
}

// Load reads an image from r.
func Load(r io.Reader) (*Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return Parse(data)
}

// Open reads an image file from disk.
func Open(path string) (*Image, error) {
	//nolint:gosec // G304: image path is user supplied
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	return Parse(data)
}

// Blank returns a letterbox-only image of the given square size, every pixel
// at PadValue. Useful for smoke runs without a real picture.
func Blank(size int) *Image {
	v := tensor.Zeros(tensor.NCHW(1, Channels, size, size))
	for i := range v.Data {
		v.Data[i] = PadValue
	}
	return &Image{OrigW: size, OrigH: size, Scale: 1, Size: size, Pixels: v}
}

// Encode serialises img in the file layout read by Parse.
func (img *Image) Encode(w io.Writer) error {
	le := binary.LittleEndian
	buf := make([]byte, HeaderSize+img.Pixels.Shape.Bytes())
	le.PutUint32(buf[0:], uint32(img.OrigW)) //nolint:gosec // G115: image dims are small
	le.PutUint32(buf[4:], uint32(img.OrigH)) //nolint:gosec // G115: image dims are small
	le.PutUint32(buf[8:], math.Float32bits(img.Scale))
	le.PutUint32(buf[12:], uint32(img.PadX)) //nolint:gosec // G115: image dims are small
	le.PutUint32(buf[16:], uint32(img.PadY)) //nolint:gosec // G115: image dims are small
	le.PutUint32(buf[20:], uint32(img.Size)) //nolint:gosec // G115: image dims are small
	for i, v := range img.Pixels.Data[:img.Pixels.Shape.NumElements()] {
		le.PutUint32(buf[HeaderSize+i*4:], math.Float32bits(v))
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return nil
}

// Box is an axis-aligned rectangle in original-image pixels.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// ToOriginal maps a centre-format box normalised to the square input back to
// original-image pixel corners, undoing the letterbox padding and resize
// scale. The result is clamped to the original image.
func (img *Image) ToOriginal(cx, cy, w, h float32) Box {
	s := float32(img.Size)
	scale := img.Scale
	if scale <= 0 {
		scale = 1
	}
	unmap := func(v float32, pad int, limit int) float32 {
		p := (v*s - float32(pad)) / scale
		return min(max(p, 0), float32(limit))
	}
	return Box{
		X1: unmap(cx-w/2, img.PadX, img.OrigW),
		Y1: unmap(cy-h/2, img.PadY, img.OrigH),
		X2: unmap(cx+w/2, img.PadX, img.OrigW),
		Y2: unmap(cy+h/2, img.PadY, img.OrigH),
	}
}
