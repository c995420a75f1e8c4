// Package pipeline drives the fixed detector graph over arena-backed buffers.
//
// A Plan resolves the stage table for one input size: every stage output
// shape and, for every stage, the list of earlier outputs it is the last
// reader of. A Pipeline binds a plan to loaded weights, a feature arena and
// a platform, then executes it:
//
//	for each stage:
//	    allocate the output (exact N*C*H*W floats)
//	    run the block or kernel
//	    flush the output through the platform
//	    free the outputs listed in the stage's release list
//
// Any failure aborts the run and frees every buffer the run still holds.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/born-ml/yolo/internal/arena"
	"github.com/born-ml/yolo/internal/backend/cpu"
	"github.com/born-ml/yolo/internal/config"
	"github.com/born-ml/yolo/internal/nn"
	"github.com/born-ml/yolo/internal/parallel"
	"github.com/born-ml/yolo/internal/platform"
	"github.com/born-ml/yolo/internal/postprocess"
	"github.com/born-ml/yolo/internal/tensor"
)

// Pipeline runs inference for one configuration. It owns its arena and is
// not safe for concurrent use.
type Pipeline struct {
	cfg      config.Config
	plan     *Plan
	params   postprocess.Params
	backend  *cpu.CPUBackend
	blocks   []nn.Module // Indexed by stage, nil where the stage has no block
	detect   *nn.Detect
	pool     *arena.Arena
	platform platform.Platform
	logger   zerolog.Logger
	metrics  *Metrics
	run      uint64 // Incremented by every Forward; stamps each Output
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithPlatform sets the platform. The default is a host platform that
// publishes nowhere.
func WithPlatform(pl platform.Platform) Option {
	return func(p *Pipeline) { p.platform = pl }
}

// WithArena supplies the feature pool instead of claiming one from the
// platform or the heap.
func WithArena(a *arena.Arena) Option {
	return func(p *Pipeline) { p.pool = a }
}

// New builds a pipeline: it resolves the plan for cfg, loads every block's
// weights from src and claims the feature pool.
func New(cfg config.Config, src nn.WeightSource, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	plan, err := NewPlan(cfg.InputSize, cfg.NumClasses)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:     cfg,
		plan:    plan,
		params:  postprocess.ParamsFromConfig(cfg),
		backend: cpu.NewWithConfig(threads(cfg.Threads)),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.platform == nil {
		p.platform = platform.NewHost("", p.logger)
	}

	if err := p.load(src); err != nil {
		return nil, err
	}

	if p.pool == nil {
		if region := p.platform.PoolRegion(); region != nil {
			p.pool, err = arena.NewFromBuffer(region)
		} else {
			p.pool, err = arena.New(cfg.PoolBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("feature pool: %w", err)
		}
	}

	if region := p.platform.HeadRegion(); region != nil {
		need := 0
		for _, s := range plan.HeadShapes() {
			need += s.NumElements()
		}
		if len(region) < need {
			return nil, fmt.Errorf("head region holds %d floats, heads need %d", len(region), need)
		}
	}

	p.logger.Debug().
		Str("platform", p.platform.Name()).
		Int("input_size", cfg.InputSize).
		Int("pool_bytes", p.pool.Capacity()).
		Int("peak_estimate", p.PeakEstimate()).
		Msg("pipeline ready")
	return p, nil
}

func threads(n int) parallel.Config {
	if n == 1 {
		return parallel.Sequential()
	}
	return parallel.Threads(n)
}

func (p *Pipeline) load(src nn.WeightSource) error {
	p.blocks = make([]nn.Module, NumStages)
	for _, st := range p.plan.Stages {
		if !st.Spec.Op.HasWeights() {
			continue
		}
		if st.Spec.Op == OpDetect {
			var inC [nn.NumHeads]int
			for i, s := range st.In {
				inC[i] = s.C
			}
			d, err := nn.LoadDetect(src, st.Name, inC, st.Out[0].C, p.backend)
			if err != nil {
				return stageError(st, err)
			}
			p.detect = d
			continue
		}
		m, err := p.loadBlock(src, st)
		if err != nil {
			return stageError(st, err)
		}
		p.blocks[st.Index] = m
	}
	return nil
}

func (p *Pipeline) loadBlock(src nn.WeightSource, st PlannedStage) (nn.Module, error) {
	s := st.Spec
	inC := st.In[0].C
	switch s.Op {
	case OpConv:
		w, err := nn.LoadConv(src, st.Name, convSpec(st))
		if err != nil {
			return nil, err
		}
		return nn.NewConvBlock(w, p.backend), nil
	case OpC3:
		return nn.LoadC3(src, st.Name, c3Spec(st), p.backend)
	case OpSPPF:
		return nn.LoadSPPF(src, st.Name, inC, s.OutC, s.Hidden, s.PoolSize, p.backend)
	default:
		return nil, fmt.Errorf("no block for %v", s.Op)
	}
}

func convSpec(st PlannedStage) nn.ConvSpec {
	s := st.Spec
	return nn.ConvSpec{InC: st.In[0].C, OutC: s.OutC, Kernel: s.Kernel, Stride: s.Stride, Pad: s.Pad}
}

func c3Spec(st PlannedStage) nn.C3Spec {
	s := st.Spec
	return nn.C3Spec{InC: st.In[0].C, OutC: s.OutC, Hidden: s.Hidden, N: s.Depth, Shortcut: s.Shortcut}
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() config.Config { return p.cfg }

// Plan returns the resolved stage plan.
func (p *Pipeline) Plan() *Plan { return p.plan }

// Arena returns the feature pool.
func (p *Pipeline) Arena() *arena.Arena { return p.pool }

// Platform returns the platform the pipeline publishes through.
func (p *Pipeline) Platform() platform.Platform { return p.platform }

// PeakEstimate returns the arena bytes, headers included, held at the
// busiest point of a run, assuming every allocation is split exactly.
func (p *Pipeline) PeakEstimate() int {
	sizes := make([]int, NumStages)
	live, peak := 0, 0
	for _, st := range p.plan.Stages[:NumStages-1] {
		sizes[st.Index] = nn.BlockBytes(st.Out[0])
		live += sizes[st.Index]
		scratch := 0
		if m := p.blocks[st.Index]; m != nil {
			scratch = m.ScratchBytes(st.In[0])
		}
		peak = max(peak, live+scratch)
		for _, j := range st.Release {
			live -= sizes[j]
		}
	}
	if p.platform.HeadRegion() == nil {
		for _, s := range p.plan.HeadShapes() {
			live += nn.BlockBytes(s)
		}
		peak = max(peak, live)
	}
	return peak
}

// StageStats describes one completed stage.
type StageStats struct {
	Name        string
	Op          Op
	Shape       tensor.Shape
	Elapsed     time.Duration
	InUse       int // Arena bytes held after the stage released its inputs
	LargestFree int
}

// RunStats describes one forward pass.
type RunStats struct {
	Stages  []StageStats
	Peak    int
	Elapsed time.Duration
}

// Output holds the detection heads of one forward pass. Release returns
// them to the arena once they have been decoded. The heads are only valid
// until the next Forward on the same pipeline.
type Output struct {
	Heads [nn.NumHeads]tensor.View
	Stats RunStats

	owner   *Pipeline
	run     uint64
	handles []arena.Handle
}

// Release frees the head buffers. Calling it again is a no-op. After a later
// Forward the arena has been reset and the handles may name that run's
// buffers, so Release frees nothing and returns ErrStaleOutput.
func (o *Output) Release() error {
	if len(o.handles) == 0 {
		return nil
	}
	if o.run != o.owner.run {
		o.handles = nil
		return ErrStaleOutput
	}
	var errs []error
	for i := len(o.handles) - 1; i >= 0; i-- {
		if err := o.owner.pool.Free(o.handles[i]); err != nil {
			errs = append(errs, err)
		}
	}
	o.handles = nil
	return errors.Join(errs...)
}

// Forward runs every stage on img, a [1, 3, S, S] tensor, and returns the
// three raw detection heads. The arena is reset first, so any buffers of a
// previous run are invalidated.
//
// ctx is checked between stages; a stage always runs to completion.
func (p *Pipeline) Forward(ctx context.Context, img tensor.View) (out *Output, err error) {
	if img.Shape != p.plan.Input {
		return nil, fmt.Errorf("input shape %v, expected %v", img.Shape, p.plan.Input)
	}
	if len(img.Data) < img.Shape.NumElements() {
		return nil, fmt.Errorf("input holds %d floats, expected %d", len(img.Data), img.Shape.NumElements())
	}

	p.run++
	p.pool.Reset()
	p.platform.Invalidate(img.Data)

	start := time.Now()
	views := make([]tensor.View, NumStages)
	handles := make([]arena.Handle, NumStages)
	held := make([]bool, NumStages)
	var headHandles []arena.Handle
	stats := RunStats{Stages: make([]StageStats, 0, NumStages)}

	defer func() {
		if err != nil {
			for i := range held {
				if held[i] {
					_ = p.pool.Free(handles[i])
				}
			}
			for _, h := range headHandles {
				_ = p.pool.Free(h)
			}
			p.logger.Error().Err(err).Msg("forward pass aborted")
		}
		p.metrics.observeRun(p.pool.Stats().Peak, err, errors.Is(err, arena.ErrOutOfMemory))
	}()

	for _, st := range p.plan.Stages[:NumStages-1] {
		if err := ctx.Err(); err != nil {
			return nil, stageError(st, err)
		}
		t0 := time.Now()

		h, data, err := p.pool.AllocFloats(st.Out[0].NumElements())
		if err != nil {
			return nil, stageError(st, err)
		}
		handles[st.Index], held[st.Index] = h, true
		dst := tensor.MustView(st.Out[0], data)
		views[st.Index] = dst

		if err := p.runStage(st, dst, stageInputs(st, img, views)); err != nil {
			return nil, stageError(st, err)
		}
		p.platform.Flush(dst.Data)

		if err := p.release(st, handles, held); err != nil {
			return nil, stageError(st, err)
		}
		stats.Stages = append(stats.Stages, p.record(st, st.Out[0], time.Since(t0)))
	}

	st := p.plan.Detect()
	if err := ctx.Err(); err != nil {
		return nil, stageError(st, err)
	}
	t0 := time.Now()

	var heads [nn.NumHeads]tensor.View
	if region := p.platform.HeadRegion(); region != nil {
		p.platform.Invalidate(region)
		off := 0
		for i, s := range st.Out {
			n := s.NumElements()
			heads[i] = tensor.MustView(s, region[off:off+n])
			off += n
		}
	} else {
		for i, s := range st.Out {
			h, data, err := p.pool.AllocFloats(s.NumElements())
			if err != nil {
				return nil, stageError(st, err)
			}
			headHandles = append(headHandles, h)
			heads[i] = tensor.MustView(s, data)
		}
	}

	var srcs [nn.NumHeads]tensor.View
	for i, j := range st.Spec.Inputs {
		srcs[i] = views[j]
	}
	if err := p.detect.Forward(heads, srcs); err != nil {
		return nil, stageError(st, err)
	}
	for _, v := range heads {
		p.platform.Flush(v.Data)
	}
	p.platform.Barrier()

	if err := p.release(st, handles, held); err != nil {
		return nil, stageError(st, err)
	}
	stats.Stages = append(stats.Stages, p.record(st, st.Out[0], time.Since(t0)))
	stats.Peak = p.pool.Stats().Peak
	stats.Elapsed = time.Since(start)

	return &Output{Heads: heads, Stats: stats, owner: p, run: p.run, handles: headHandles}, nil
}

func stageInputs(st PlannedStage, img tensor.View, views []tensor.View) []tensor.View {
	in := make([]tensor.View, len(st.Spec.Inputs))
	for i, j := range st.Spec.Inputs {
		if j == ImageInput {
			in[i] = img
		} else {
			in[i] = views[j]
		}
	}
	return in
}

func (p *Pipeline) runStage(st PlannedStage, dst tensor.View, in []tensor.View) error {
	switch st.Spec.Op {
	case OpConv, OpC3, OpSPPF:
		return p.blocks[st.Index].Forward(p.pool, dst, in[0])
	case OpUpsample:
		p.backend.Upsample2x(dst, in[0])
		return nil
	case OpConcat:
		p.backend.Concat(dst, in...)
		return nil
	default:
		return fmt.Errorf("unexpected op %v", st.Spec.Op)
	}
}

func (p *Pipeline) release(st PlannedStage, handles []arena.Handle, held []bool) error {
	for _, j := range st.Release {
		held[j] = false
		if err := p.pool.Free(handles[j]); err != nil {
			return fmt.Errorf("release %s: %w", StageName(j), err)
		}
	}
	return nil
}

func (p *Pipeline) record(st PlannedStage, shape tensor.Shape, elapsed time.Duration) StageStats {
	s := p.pool.Stats()
	p.metrics.observeStage(st.Name, elapsed)
	p.logger.Debug().
		Str("stage", st.Name).
		Stringer("op", st.Spec.Op).
		Stringer("shape", shape).
		Int("in_use", s.InUse).
		Int("largest_free", s.LargestFree).
		Dur("elapsed", elapsed).
		Msg("stage done")
	return StageStats{
		Name:        st.Name,
		Op:          st.Spec.Op,
		Shape:       shape,
		Elapsed:     elapsed,
		InUse:       s.InUse,
		LargestFree: s.LargestFree,
	}
}

// Result is the outcome of Detect.
type Result struct {
	Detections []postprocess.Detection // Descending confidence
	Candidates int                     // Decoded before suppression
	Stats      RunStats
}

// Detect runs Forward, decodes the heads, sorts the candidates by
// confidence and suppresses overlaps. Head buffers are released before
// returning.
func (p *Pipeline) Detect(ctx context.Context, img tensor.View) (res *Result, err error) {
	out, err := p.Forward(ctx, img)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := out.Release(); rerr != nil && err == nil {
			res, err = nil, rerr
		}
	}()

	for _, h := range out.Heads {
		p.platform.Invalidate(h.Data)
	}
	dets, candidates, err := postprocess.Run(out.Heads[:], p.params, p.cfg.IoUThreshold)
	if err != nil {
		return nil, err
	}
	p.metrics.addDetections(len(dets))

	p.logger.Info().
		Int("candidates", candidates).
		Int("detections", len(dets)).
		Int("arena_peak", out.Stats.Peak).
		Dur("elapsed", out.Stats.Elapsed).
		Msg("inference done")
	return &Result{Detections: dets, Candidates: candidates, Stats: out.Stats}, nil
}

// Publish hands detections to the platform.
func (p *Pipeline) Publish(dets []postprocess.Detection) error {
	return p.platform.Publish(dets, p.cfg.InputSize)
}
