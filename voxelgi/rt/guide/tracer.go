package guide

import (
	"fmt"

	svopg "github.com/gekko3d/svopg"
	"github.com/gekko3d/svopg/voxelgi/rt/core"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
	"github.com/gekko3d/svopg/voxelgi/rt/octree"
	"github.com/gekko3d/svopg/voxelgi/rt/voxelize"
)

// Tracer owns the accumulation buffers and the output image and records the trace and tonemap
// dispatches.
type Tracer struct {
	dev gpu.Device
	log svopg.Logger
	cfg svopg.TraceConfig

	Budget  *Budget
	Display Display

	Accum     *gpu.Buffer
	Secondary *gpu.Buffer
	Output    *gpu.Image

	seed uint32
}

func New(dev gpu.Device, log svopg.Logger, cfg svopg.TraceConfig) (*Tracer, error) {
	t := &Tracer{
		dev:    dev,
		log:    svopg.OrNop(log),
		cfg:    cfg,
		Budget: NewBudget(cfg.MaxFrames),
	}
	if err := t.Resize(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tracer) Width() uint32  { return t.cfg.Width }
func (t *Tracer) Height() uint32 { return t.cfg.Height }

// Resize reallocates the per-pixel resources and restarts accumulation.
func (t *Tracer) Resize(w, h uint32) error {
	if w == 0 || h == 0 {
		return fmt.Errorf("tracer: empty extent %dx%d", w, h)
	}
	t.destroy()
	size := uint64(w) * uint64(h) * PixelWords * 4
	var err error
	if t.Accum, err = t.dev.CreateBuffer(gpu.BufferDesc{Label: "Accum", Size: size, Usage: gpu.BufferUsageStorage | gpu.BufferUsageCopySrc}); err != nil {
		return fmt.Errorf("tracer: accum: %w", err)
	}
	if t.Secondary, err = t.dev.CreateBuffer(gpu.BufferDesc{Label: "Secondary", Size: size, Usage: gpu.BufferUsageStorage | gpu.BufferUsageCopySrc}); err != nil {
		return fmt.Errorf("tracer: secondary: %w", err)
	}
	if t.Output, err = t.dev.CreateImage(gpu.ImageDesc{Label: "Output", Width: w, Height: h, Format: gpu.ImageFormatRGBA8Unorm}); err != nil {
		return fmt.Errorf("tracer: output: %w", err)
	}
	t.cfg.Width, t.cfg.Height = w, h
	t.Budget.Reset()
	t.log.Debugf("tracer resized to %dx%d", w, h)
	return nil
}

func (t *Tracer) SetNEE(on bool) { t.cfg.NEE = on }

func (t *Tracer) NEE() bool { return t.cfg.NEE }

// SetGuideProbability changes the mixture weight of the guide and restarts accumulation.
func (t *Tracer) SetGuideProbability(a float32) {
	t.cfg.GuideProbability = min(max(a, 0), 1)
	t.Budget.Reset()
}

func (t *Tracer) GuideProbability() float32 { return t.cfg.GuideProbability }

func (t *Tracer) SetExposure(e float32) { t.cfg.Exposure = e }

// Record dispatches the tracer unless the accumulation budget says the image has converged, and
// reports whether it did. The caller must have made the octree writes visible to the ray-tracing
// stage; rt is the shared prefix from accel.Manager.Bindings.
func (t *Tracer) Record(l *gpu.CommandList, rt []gpu.Binding, tree *octree.Builder, grid voxelize.Grid, pose core.CameraPose, dynamic bool) bool {
	if !t.Budget.ShouldTrace(pose, dynamic) {
		return false
	}
	params := tree.Params()
	p := TracePush{
		Width:           t.cfg.Width,
		Height:          t.cfg.Height,
		Frame:           uint32(t.Budget.Frame()),
		Seed:            t.seed,
		Bounces:         uint32(t.cfg.MaxDepth),
		TreeDepth:       uint32(params.MaxDepth),
		ClusteringLevel: uint32(params.ClusteringLevel),
		Grid:            grid,
		GuideProb:       t.cfg.GuideProbability,
	}
	if t.cfg.NEE {
		p.Flags |= FlagNEE
	}
	if t.cfg.GuideProbability > 0 {
		p.Flags |= FlagGuide
	}
	bindings := append(append([]gpu.Binding(nil), rt...),
		gpu.Read(tree.E), gpu.Read(tree.G), gpu.ReadWrite(t.Accum), gpu.ReadWrite(t.Secondary))
	l.Dispatch(TraceKernel, gpu.StageRayTracingShader, gpu.Groups1D(t.cfg.Width*t.cfg.Height, svopg.WorkgroupSize), p.Bytes(), bindings...)
	t.Budget.Advance()
	t.seed++
	return true
}

// RecordTonemap writes the output image. The caller must have made the trace writes visible to the
// compute stage.
func (t *Tracer) RecordTonemap(l *gpu.CommandList) {
	p := TonemapPush{Width: t.cfg.Width, Height: t.cfg.Height, Exposure: t.cfg.Exposure, Display: t.Display}
	l.Dispatch(TonemapKernel, gpu.StageComputeShader, gpu.Groups1D(t.cfg.Width*t.cfg.Height, svopg.WorkgroupSize), p.Bytes(),
		gpu.Read(t.Accum), gpu.Read(t.Secondary), gpu.WriteImage(t.Output))
}

// Pixels reads the output image back, one packed RGBA8 word per pixel.
func (t *Tracer) Pixels() ([]uint32, error) {
	px, err := t.dev.ReadImage(t.Output)
	if err != nil {
		return nil, fmt.Errorf("tracer: read output: %w", err)
	}
	return px, nil
}

func (t *Tracer) destroy() {
	if t.Accum != nil {
		t.dev.DestroyBuffer(t.Accum)
		t.dev.DestroyBuffer(t.Secondary)
		t.dev.DestroyImage(t.Output)
	}
	t.Accum, t.Secondary, t.Output = nil, nil, nil
}

func (t *Tracer) Destroy() { t.destroy() }
