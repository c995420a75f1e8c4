package weights

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTensors() []Tensor {
	return []Tensor{
		{Name: "model.0.conv.weight", Shape: []int{2, 1, 1, 1}, Data: []float32{1.5, -2}},
		// Odd name length forces padding before the data.
		{Name: "model.model.24.m.0.bias", Shape: []int{3}, Data: []float32{0.25, 0.5, 0.75}},
		{Name: "scalar", Shape: []int{}, Data: []float32{42}},
	}
}

func TestWriteParse_RoundTrip(t *testing.T) {
	data, err := Encode(sampleTensors(), CompressionNone)
	require.NoError(t, err)

	got, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, sampleTensors(), got)
}

func TestParse_PaddingIsAbsolute(t *testing.T) {
	data, err := Encode(sampleTensors()[:1], CompressionNone)
	require.NoError(t, err)

	// count(4) + len(4) + name(19) + ndim(4) + shape(16) = 47 -> 1 pad byte.
	assert.Len(t, data, 48+8)
	assert.Equal(t, byte(0), data[47])
	assert.Equal(t, float32(1.5), mustParse(t, data)[0].Data[0])
}

func TestParse_ZeroCopyAliasesInput(t *testing.T) {
	data, err := Encode(sampleTensors(), CompressionNone)
	require.NoError(t, err)

	got := mustParse(t, data)
	if !hostLittleEndian {
		t.Skip("zero-copy requires a little-endian host")
	}
	off := len(data) - 4
	binary.LittleEndian.PutUint32(data[off:], 0)
	assert.Equal(t, float32(0), got[2].Data[0])
}

func TestParse_Unaligned(t *testing.T) {
	data, err := Encode(sampleTensors(), CompressionNone)
	require.NoError(t, err)

	shifted := make([]byte, len(data)+1)
	copy(shifted[1:], data)
	got, err := Parse(shifted[1:])
	require.NoError(t, err)
	assert.Equal(t, sampleTensors(), got)
}

func TestParse_Truncated(t *testing.T) {
	data, err := Encode(sampleTensors(), CompressionNone)
	require.NoError(t, err)

	for _, n := range []int{0, 3, 6, 20, len(data) - 1} {
		_, err := Parse(data[:n])
		require.Error(t, err, "length %d", n)
		assert.ErrorIs(t, err, ErrMalformed)

		var fe *FormatError
		require.True(t, errors.As(err, &fe))
	}
}

func TestParse_Limits(t *testing.T) {
	var huge [8]byte
	binary.LittleEndian.PutUint32(huge[:], MaxTensors+1)
	_, err := Parse(huge[:])
	assert.ErrorIs(t, err, ErrMalformed)

	var badName [8]byte
	binary.LittleEndian.PutUint32(badName[:], 1)
	binary.LittleEndian.PutUint32(badName[4:], MaxNameLength+1)
	_, err = Parse(badName[:])
	require.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "name length")
}

func TestStore_LookupFallback(t *testing.T) {
	s := NewStore(sampleTensors())

	exact, err := s.Lookup("model.0.conv.weight")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 1, 1}, exact.Shape)

	fallback, err := s.Lookup("model.24.m.0.bias")
	require.NoError(t, err)
	assert.Equal(t, "model.model.24.m.0.bias", fallback.Name)

	_, err = s.Lookup("model.1.conv.weight")
	assert.ErrorIs(t, err, ErrTensorNotFound)

	// Only a single prefix level is tried.
	_, err = s.Lookup("24.m.0.bias")
	assert.ErrorIs(t, err, ErrTensorNotFound)
}

func TestStore_Expect(t *testing.T) {
	s := NewStore(sampleTensors())

	data, err := s.Expect("model.0.conv.weight", 2, 1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -2}, data)

	_, err = s.Expect("model.0.conv.weight", 2, 1, 3, 3)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = s.Expect("missing", 1)
	assert.ErrorIs(t, err, ErrTensorNotFound)
}

func TestStore_Metadata(t *testing.T) {
	s := NewStore(sampleTensors())
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"model.0.conv.weight", "model.model.24.m.0.bias", "scalar"}, s.Names())
	assert.Equal(t, 24, s.DataBytes())
	require.NoError(t, s.Close())
}

func TestLoad_Compressed(t *testing.T) {
	for _, comp := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(comp.String(), func(t *testing.T) {
			data, err := Encode(sampleTensors(), comp)
			require.NoError(t, err)
			assert.Equal(t, comp, DetectCompression(data))

			s, err := Load(data)
			require.NoError(t, err)
			assert.Equal(t, comp, s.Compression())
			assert.Equal(t, sampleTensors(), s.Tensors())
			assert.NotEqual(t, [32]byte{}, s.Checksum())
		})
	}
}

func TestDecompress_Limit(t *testing.T) {
	raw, err := Encode(sampleTensors(), CompressionNone)
	require.NoError(t, err)
	limit := int64(len(raw))

	for _, comp := range []Compression{CompressionZstd, CompressionLZ4} {
		t.Run(comp.String(), func(t *testing.T) {
			data, err := Encode(sampleTensors(), comp)
			require.NoError(t, err)

			out, err := decompress(comp, bytes.NewReader(data), limit)
			require.NoError(t, err)
			assert.Equal(t, raw, out)

			_, err = decompress(comp, bytes.NewReader(data), limit-1)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	for _, comp := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(comp.String(), func(t *testing.T) {
			path := filepath.Join(dir, "weights-"+comp.String()+".bin")
			require.NoError(t, WriteFile(path, sampleTensors(), comp))

			s, err := Open(path)
			require.NoError(t, err)
			defer func() { require.NoError(t, s.Close()) }()

			got, err := s.Lookup("scalar")
			require.NoError(t, err)
			assert.Equal(t, []float32{42}, got.Data)
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.bin"))
	assert.Error(t, err)

	short := filepath.Join(dir, "short.bin")
	require.NoError(t, os.WriteFile(short, []byte{1, 0}, 0o600))
	_, err = Open(short)
	assert.ErrorIs(t, err, ErrMalformed)

	bad := filepath.Join(dir, "bad.bin")
	require.NoError(t, os.WriteFile(bad, []byte{1, 0, 0, 0, 4, 0, 0, 0, 'a'}, 0o600))
	_, err = Open(bad)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseCompression(t *testing.T) {
	for _, name := range []string{"none", "zstd", "lz4"} {
		c, err := ParseCompression(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.String())
	}
	_, err := ParseCompression("gzip")
	assert.Error(t, err)
}

func mustParse(t *testing.T, data []byte) []Tensor {
	t.Helper()
	got, err := Parse(data)
	require.NoError(t, err)
	return got
}
