package pipeline

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/yolo/internal/arena"
	"github.com/born-ml/yolo/internal/config"
	"github.com/born-ml/yolo/internal/platform"
	"github.com/born-ml/yolo/internal/postprocess"
	"github.com/born-ml/yolo/internal/tensor"
	"github.com/born-ml/yolo/internal/weights"
)

const testInput = 64

func testConfig() config.Config {
	cfg := config.Default()
	cfg.InputSize = testInput
	cfg.PoolBytes = 4 << 20
	return cfg
}

func testStore(t *testing.T, cfg config.Config) *weights.Store {
	t.Helper()
	plan, err := NewPlan(cfg.InputSize, cfg.NumClasses)
	require.NoError(t, err)
	return weights.NewStore(SyntheticWeights(plan, 1))
}

func testImage(size int) tensor.View {
	rng := rand.New(rand.NewSource(7))
	img := tensor.Zeros(tensor.NCHW(1, 3, size, size))
	for i := range img.Data {
		img.Data[i] = rng.Float32()
	}
	return img
}

func newTestPipeline(t *testing.T, cfg config.Config, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(cfg, testStore(t, cfg), opts...)
	require.NoError(t, err)
	return p
}

func TestPipeline_DetectReleasesEverything(t *testing.T) {
	cfg := testConfig()
	p := newTestPipeline(t, cfg)

	res, err := p.Detect(context.Background(), testImage(testInput))
	require.NoError(t, err)

	s := p.Arena().Stats()
	assert.Zero(t, s.InUse)
	assert.Zero(t, s.LiveBlocks)
	assert.Equal(t, p.Arena().Capacity(), p.Arena().LargestFree())
	require.NoError(t, p.Arena().Check())

	require.Len(t, res.Stats.Stages, NumStages)
	assert.Equal(t, "model.24", res.Stats.Stages[NumStages-1].Name)
	assert.LessOrEqual(t, len(res.Detections), cfg.MaxDetections)
	assert.LessOrEqual(t, len(res.Detections), res.Candidates)

	estimate := p.PeakEstimate()
	assert.GreaterOrEqual(t, res.Stats.Peak, estimate)
	assert.LessOrEqual(t, res.Stats.Peak, estimate+32*2*arena.HeaderSize)
}

func TestPipeline_DetectIsDeterministic(t *testing.T) {
	cfg := testConfig()
	cfg.ConfThreshold = 0.01
	p := newTestPipeline(t, cfg)
	img := testImage(testInput)

	first, err := p.Detect(context.Background(), img)
	require.NoError(t, err)
	second, err := p.Detect(context.Background(), img)
	require.NoError(t, err)

	require.NotEmpty(t, first.Detections)
	assert.Equal(t, first.Detections, second.Detections)
	assert.Equal(t, first.Candidates, second.Candidates)

	for i := 1; i < len(first.Detections); i++ {
		assert.GreaterOrEqual(t, first.Detections[i-1].Conf, first.Detections[i].Conf)
	}
	for i, a := range first.Detections {
		for _, b := range first.Detections[i+1:] {
			assert.Less(t, postprocess.IoU(a, b), cfg.IoUThreshold)
		}
	}
}

func TestPipeline_ThreadsGiveIdenticalHeads(t *testing.T) {
	cfg := testConfig()
	seq := newTestPipeline(t, cfg)
	cfg.Threads = 4
	par := newTestPipeline(t, cfg)
	img := testImage(testInput)

	a, err := seq.Forward(context.Background(), img)
	require.NoError(t, err)
	b, err := par.Forward(context.Background(), img)
	require.NoError(t, err)

	for i := range a.Heads {
		assert.Equal(t, a.Heads[i].Shape, b.Heads[i].Shape)
		assert.Equal(t, a.Heads[i].Data, b.Heads[i].Data, "head %d", i)
	}
	require.NoError(t, a.Release())
	require.NoError(t, b.Release())
	assert.NoError(t, a.Release(), "second release is a no-op")
}

func TestPipeline_StaleOutputReleaseKeepsNewHeads(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	img := testImage(testInput)

	first, err := p.Forward(context.Background(), img)
	require.NoError(t, err)
	second, err := p.Forward(context.Background(), img)
	require.NoError(t, err)

	live := p.Arena().Stats().LiveBlocks
	assert.Equal(t, 3, live)

	require.ErrorIs(t, first.Release(), ErrStaleOutput)
	assert.Equal(t, live, p.Arena().Stats().LiveBlocks, "stale release must not free the new heads")
	assert.NoError(t, first.Release(), "second release is a no-op")

	require.NoError(t, second.Release())
	assert.Zero(t, p.Arena().Stats().InUse)
	require.NoError(t, p.Arena().Check())
}

func TestPipeline_ExhaustionAbortsAndReleases(t *testing.T) {
	cfg := testConfig()
	full := newTestPipeline(t, cfg)
	cfg.PoolBytes = full.PeakEstimate() / 2

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	p := newTestPipeline(t, cfg, WithMetrics(m))

	_, err := p.Detect(context.Background(), testImage(testInput))
	require.Error(t, err)
	assert.ErrorIs(t, err, arena.ErrOutOfMemory)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Contains(t, err.Error(), stageErr.Name)

	assert.Zero(t, p.Arena().Stats().InUse)
	require.NoError(t, p.Arena().Check())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.allocFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(ResultError)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.runs.WithLabelValues(ResultOK)))
}

func TestPipeline_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	p := newTestPipeline(t, testConfig(), WithMetrics(m))

	res, err := p.Detect(context.Background(), testImage(testInput))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(ResultOK)))
	assert.Equal(t, float64(len(res.Detections)), testutil.ToFloat64(m.detections))
	assert.Equal(t, float64(res.Stats.Peak), testutil.ToFloat64(m.arenaPeak))
	assert.Equal(t, NumStages, testutil.CollectAndCount(m.stageDuration))

	n, err := testutil.GatherAndCount(reg, "yolo_pipeline_stage_duration_seconds", "yolo_arena_peak_bytes")
	require.NoError(t, err)
	assert.Equal(t, NumStages+1, n)
}

func TestPipeline_MissingWeight(t *testing.T) {
	cfg := testConfig()
	plan, err := NewPlan(cfg.InputSize, cfg.NumClasses)
	require.NoError(t, err)

	var kept []weights.Tensor
	for _, w := range SyntheticWeights(plan, 1) {
		if w.Name != "model.13.m.0.cv2.conv.weight" {
			kept = append(kept, w)
		}
	}
	_, err = New(cfg, weights.NewStore(kept))
	require.Error(t, err)
	assert.ErrorIs(t, err, weights.ErrTensorNotFound)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, 13, stageErr.Stage)
	assert.Equal(t, OpC3, stageErr.Op)
}

func TestPipeline_FallbackPrefix(t *testing.T) {
	cfg := testConfig()
	plan, err := NewPlan(cfg.InputSize, cfg.NumClasses)
	require.NoError(t, err)

	tensors := SyntheticWeights(plan, 1)
	for i := range tensors {
		tensors[i].Name = weights.FallbackPrefix + tensors[i].Name
	}
	_, err = New(cfg, weights.NewStore(tensors))
	assert.NoError(t, err)
}

func TestPipeline_ContextCanceled(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Detect(ctx, testImage(testInput))
	require.ErrorIs(t, err, context.Canceled)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, 0, stageErr.Stage)
	assert.Zero(t, p.Arena().Stats().InUse)
}

func TestPipeline_RejectsWrongInput(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	_, err := p.Forward(context.Background(), testImage(32))
	assert.Error(t, err)
}

func TestPipeline_BareMetal(t *testing.T) {
	cfg := testConfig()
	plan, err := NewPlan(cfg.InputSize, cfg.NumClasses)
	require.NoError(t, err)

	headFloats := 0
	for _, s := range plan.HeadShapes() {
		headFloats += s.NumElements()
	}
	layout := platform.DefaultLayout()
	layout.PoolSize = 4 << 20
	layout.HeadSize = headFloats * tensor.Float32Size

	var serial bytes.Buffer
	board, err := platform.NewBareMetal(layout, &serial, zerolog.Nop())
	require.NoError(t, err)

	p := newTestPipeline(t, cfg, WithPlatform(board))
	assert.Equal(t, layout.PoolSize, p.Arena().Capacity())

	res, err := p.Detect(context.Background(), testImage(testInput))
	require.NoError(t, err)
	require.NoError(t, p.Publish(res.Detections))

	stats := board.CacheStats()
	assert.Equal(t, uint64(NumStages-1+3), stats.Flushes)
	assert.Equal(t, uint64(2), stats.Barriers)
	assert.Zero(t, p.Arena().Stats().InUse)

	records, err := postprocess.ReadHex(&serial)
	require.NoError(t, err)
	assert.Len(t, records, min(len(res.Detections), postprocess.MaxRecords))

	host := newTestPipeline(t, cfg)
	want, err := host.Detect(context.Background(), testImage(testInput))
	require.NoError(t, err)
	assert.Equal(t, want.Detections, res.Detections)
}

func TestPipeline_HeadRegionTooSmall(t *testing.T) {
	layout := platform.DefaultLayout()
	layout.PoolSize = 4 << 20
	layout.HeadSize = 64
	board, err := platform.NewBareMetal(layout, nil, zerolog.Nop())
	require.NoError(t, err)

	cfg := testConfig()
	_, err = New(cfg, testStore(t, cfg), WithPlatform(board))
	assert.Error(t, err)
}
