package input

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/yolo/internal/tensor"
)

func sampleImage() *Image {
	v := tensor.Zeros(tensor.NCHW(1, 3, 4, 4))
	for i := range v.Data {
		v.Data[i] = float32(i) / 48
	}
	return &Image{OrigW: 8, OrigH: 4, Scale: 0.5, PadX: 0, PadY: 1, Size: 4, Pixels: v}
}

func TestEncodeParse_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleImage().Encode(&buf))
	assert.Equal(t, HeaderSize+3*4*4*4, buf.Len())

	got, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, sampleImage(), got)
}

func TestParse_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleImage().Encode(&buf))
	data := buf.Bytes()

	for _, n := range []int{0, 23, HeaderSize, len(data) - 1} {
		_, err := Parse(data[:n])
		assert.ErrorIs(t, err, ErrMalformed, "length %d", n)
	}

	zero := make([]byte, HeaderSize)
	_, err := Parse(zero)
	assert.ErrorIs(t, err, ErrMalformed, "zero size")
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")
	var buf bytes.Buffer
	require.NoError(t, Blank(8).Encode(&buf))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	img, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, tensor.NCHW(1, 3, 8, 8), img.Pixels.Shape)
	assert.InDelta(t, 114.0/255.0, img.Pixels.Data[100], 1e-7)

	_, err = Open(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}

func TestToOriginal(t *testing.T) {
	// 8x4 original scaled by 0.5 into a 4x4 square: 4x2 content with one
	// padding row above and below.
	img := sampleImage()

	box := img.ToOriginal(0.5, 0.5, 0.5, 0.5)
	assert.InDelta(t, 2.0, box.X1, 1e-6)
	assert.InDelta(t, 6.0, box.X2, 1e-6)
	assert.InDelta(t, 0.0, box.Y1, 1e-6)
	assert.InDelta(t, 4.0, box.Y2, 1e-6)

	// Boxes reaching into the padding are clamped to the picture.
	full := img.ToOriginal(0.5, 0.5, 1, 1)
	assert.Equal(t, Box{X1: 0, Y1: 0, X2: 8, Y2: 4}, full)
}
