package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape_Offset(t *testing.T) {
	s := NCHW(2, 3, 4, 5)

	assert.Equal(t, 120, s.NumElements())
	assert.Equal(t, 480, s.Bytes())
	assert.Equal(t, 20, s.Plane())
	assert.Equal(t, 0, s.Offset(0, 0, 0, 0))
	assert.Equal(t, ((1*3+2)*4+3)*5+4, s.Offset(1, 2, 3, 4))
	assert.Equal(t, s.NumElements()-1, s.Offset(1, 2, 3, 4))
	assert.Equal(t, "[2,3,4,5]", s.String())
}

func TestShape_Validate(t *testing.T) {
	require.NoError(t, NCHW(1, 3, 640, 640).Validate())

	err := NCHW(1, 0, 4, 4).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index 1")
}

func TestConvOutput(t *testing.T) {
	assert.Equal(t, 320, ConvOutput(640, 6, 2, 2))
	assert.Equal(t, 160, ConvOutput(320, 3, 2, 1))
	assert.Equal(t, 20, ConvOutput(20, 5, 1, 2))
	assert.Equal(t, 20, ConvOutput(20, 1, 1, 0))
}

func TestShape_Helpers(t *testing.T) {
	s := NCHW(1, 64, 40, 40)
	assert.Equal(t, NCHW(1, 128, 40, 40), s.WithChannels(128))
	assert.True(t, s.SameSpatial(NCHW(1, 3, 40, 40)))
	assert.False(t, s.SameSpatial(NCHW(1, 64, 20, 40)))
}

func TestView(t *testing.T) {
	data := make([]float32, 10)
	v, err := NewView(NCHW(1, 2, 2, 2), data)
	require.NoError(t, err)
	assert.Len(t, v.Data, 8, "trimmed to shape")

	v.Set(0, 1, 1, 0, 3.5)
	assert.Equal(t, float32(3.5), v.At(0, 1, 1, 0))
	assert.Equal(t, float32(3.5), data[6])
	assert.Equal(t, []float32{0, 0, 3.5, 0}, v.Channel(0, 1))
	assert.Len(t, v.Bytes(), 32)

	_, err = NewView(NCHW(1, 4, 2, 2), data)
	require.Error(t, err)
	assert.Panics(t, func() { MustView(NCHW(1, 4, 2, 2), data) })
}

func TestFloat32Bytes_ZeroCopy(t *testing.T) {
	f := []float32{1, 2, 3}
	b := Float32Bytes(f)
	require.Len(t, b, 12)
	assert.True(t, Aligned4(b))

	back := BytesFloat32(b)
	back[1] = 42
	assert.Equal(t, float32(42), f[1])

	assert.Nil(t, Float32Bytes(nil))
	assert.Nil(t, BytesFloat32([]byte{1, 2}))
}
