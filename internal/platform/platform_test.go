package platform

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/yolo/internal/config"
	"github.com/born-ml/yolo/internal/postprocess"
)

var sample = []postprocess.Detection{
	{X: 0.5, Y: 0.25, W: 0.1, H: 0.2, Class: 0, Conf: 0.9},
	{X: 0.75, Y: 0.5, W: 0.3, H: 0.4, Class: 2, Conf: 0.5},
}

func smallLayout() Layout {
	l := DefaultLayout()
	l.PoolSize = 4096
	l.HeadSize = 1024
	return l
}

func TestNew_SelectsPlatform(t *testing.T) {
	cfg := config.Default()
	p, err := New(cfg, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, config.PlatformHost, p.Name())
	assert.Nil(t, p.PoolRegion())
	assert.Nil(t, p.HeadRegion())

	cfg.Platform = config.PlatformBareMetal
	p, err = New(cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, config.PlatformBareMetal, p.Name())
	assert.Len(t, p.PoolRegion(), 32<<20)
	assert.Len(t, p.HeadRegion(), (9<<20)/4)

	cfg.Platform = "fpga"
	_, err = New(cfg, Options{})
	assert.Error(t, err)
}

func TestHost_Publish(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	h := NewHost(dir, zerolog.Nop())
	require.NoError(t, h.Publish(sample, 640))

	data, err := os.ReadFile(h.OutputPath())
	require.NoError(t, err)
	assert.Equal(t, postprocess.EncodeRecords(sample, 640), data)

	records, err := postprocess.DecodeRecords(data)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint16(320), records[0].X)
	assert.Equal(t, uint8(2), records[1].Class)
}

func TestHost_PublishDisabled(t *testing.T) {
	h := NewHost("", zerolog.Nop())
	assert.Empty(t, h.OutputPath())
	assert.NoError(t, h.Publish(sample, 640))
}

func TestBareMetal_Publish(t *testing.T) {
	var serial bytes.Buffer
	b, err := NewBareMetal(smallLayout(), &serial, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, b.Publish(sample, 640))
	assert.Equal(t, postprocess.EncodeRecords(sample, 640), b.Output())
	assert.Equal(t, uint64(1), b.CacheStats().Barriers)

	records, err := postprocess.ReadHex(&serial)
	require.NoError(t, err)
	want, err := postprocess.DecodeRecords(b.Output())
	require.NoError(t, err)
	assert.Equal(t, want, records)
}

func TestBareMetal_CacheStats(t *testing.T) {
	b, err := NewBareMetal(smallLayout(), nil, zerolog.Nop())
	require.NoError(t, err)

	b.Flush(make([]float32, 16))
	b.Flush(make([]float32, 4))
	b.Invalidate(b.HeadRegion())
	b.Barrier()

	assert.Equal(t, CacheStats{
		Flushes:          2,
		FlushedBytes:     80,
		Invalidates:      1,
		InvalidatedBytes: 1024,
		Barriers:         1,
	}, b.CacheStats())
}

func TestLayout_Validate(t *testing.T) {
	require.NoError(t, DefaultLayout().Validate())

	l := smallLayout()
	l.OutSize = 100
	l.HeadSize = 6
	_, err := NewBareMetal(l, nil, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output size 100")
	assert.Contains(t, err.Error(), "head size 6")
}
