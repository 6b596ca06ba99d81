package app

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	svopg "github.com/gekko3d/svopg"
	"github.com/gekko3d/svopg/voxelgi/rt/accel"
	"github.com/gekko3d/svopg/voxelgi/rt/core"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
	"github.com/gekko3d/svopg/voxelgi/rt/guide"
	"github.com/gekko3d/svopg/voxelgi/rt/inject"
	"github.com/gekko3d/svopg/voxelgi/rt/octree"
	"github.com/gekko3d/svopg/voxelgi/rt/voxelize"
)

// traceStorageBuffers is the widest storage binding set of any kernel: the tracer binds the accel,
// vertex, index and material buffers, both octrees and two accumulators.
const traceStorageBuffers = 8

var stageOrder = []string{"voxelize", "inject", "octree", "trace", "tonemap"}

// stageOf maps kernel and pipeline names to profiler stages.
var stageOf = map[string]string{
	voxelize.ClearKernel.Name: "voxelize",
	voxelize.Pipeline.Name:    "voxelize",
	inject.Kernel.Name:        "inject",
	octree.LeafKernel.Name:    "octree",
	octree.ReduceKernel.Name:  "octree",
	octree.LabelKernel.Name:   "octree",
	guide.TraceKernel.Name:    "trace",
	guide.TonemapKernel.Name:  "tonemap",
}

// Renderer owns every stage of the global-illumination pipeline and records them in frame order.
type Renderer struct {
	dev gpu.Device
	log svopg.Logger
	cfg svopg.Config

	Scene     *core.Scene
	Accel     *accel.Manager
	Buffers   *gpu.SceneBuffers
	Voxelizer *voxelize.Voxelizer
	Injector  *inject.Injector
	Octree    *octree.Builder
	Tracer    *guide.Tracer
	Profiler  *Profiler

	// Warnings lists capability gaps that degrade the result without stopping the renderer.
	Warnings []string

	frame  uint32
	time   float32
	traced bool
}

// NewRenderer builds the acceleration structures and allocates every stage for scene. Failures
// here are fatal setup errors.
func NewRenderer(dev gpu.Device, log svopg.Logger, cfg svopg.Config, scene *core.Scene) (*Renderer, error) {
	log = svopg.OrNop(log)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := gpu.RequireStorageBuffers(dev, traceStorageBuffers); err != nil {
		log.Errorf("%v", err)
		return nil, err
	}
	if err := requireStorageSizes(dev, cfg); err != nil {
		log.Errorf("%v", err)
		return nil, err
	}
	r := &Renderer{dev: dev, log: log, cfg: cfg, Scene: scene, Profiler: NewProfiler()}
	if !dev.Capabilities().TimestampQuery {
		r.warn("timestamp queries unavailable: GPU stage timings disabled")
	}

	r.Accel = accel.NewManager(dev, log)
	if err := r.Accel.Init(scene); err != nil {
		log.Errorf("acceleration structure build: %v", err)
		return nil, err
	}
	r.Buffers = gpu.NewSceneBuffers(dev)
	if err := r.Buffers.Update(scene, r.frameParams()); err != nil {
		return nil, err
	}
	var err error
	if r.Voxelizer, err = voxelize.New(dev, log, cfg.Voxel, scene); err != nil {
		return nil, err
	}
	r.Injector = inject.New(log, cfg.Inject)
	if r.Octree, err = octree.New(dev, log, octree.ParamsFromConfig(cfg)); err != nil {
		return nil, err
	}
	if r.Tracer, err = guide.New(dev, log, cfg.Trace); err != nil {
		return nil, err
	}
	log.Infof("renderer on %s: %d^3 voxels, octree depth %d, clustering level %d",
		dev.Name(), cfg.Voxel.Count, cfg.MaxDepth(), cfg.Octree.ClusteringLevel)
	return r, nil
}

func (r *Renderer) warn(msg string) {
	r.log.Warnf("%s", msg)
	r.Warnings = append(r.Warnings, msg)
}

func (r *Renderer) Config() svopg.Config { return r.cfg }

// FrameCount is the number of frames rendered since start, traced or not.
func (r *Renderer) FrameCount() uint32 { return r.frame }

// Traced reports whether the last frame dispatched the tracer.
func (r *Renderer) Traced() bool { return r.traced }

func (r *Renderer) frameParams() core.FrameParams {
	p := core.FrameParams{
		Width:    r.cfg.Trace.Width,
		Height:   r.cfg.Trace.Height,
		Frame:    r.frame,
		MaxDepth: uint32(r.cfg.Trace.MaxDepth),
	}
	if r.cfg.Trace.NEE {
		p.Flags |= core.SceneFlagNEE
	}
	if r.cfg.Trace.GuideProbability > 0 {
		p.Flags |= core.SceneFlagGuide
	}
	return p
}

func (r *Renderer) rtBindings() []gpu.Binding {
	return r.Accel.Bindings(r.Buffers.Info, r.Buffers.Materials)
}

// Record appends one frame: voxelize, inject, build the octrees, trace and tonemap, with the
// barrier between every producer and its consumer. It reports whether the tracer was dispatched.
func (r *Renderer) Record(l *gpu.CommandList) bool {
	grid, vgb := r.Voxelizer.Grid, r.Voxelizer.VGB
	rt := r.rtBindings()

	r.Voxelizer.Record(l, r.Scene, r.Accel, r.Buffers.Materials)
	l.Barrier(gpu.StageFragmentShader|gpu.StageColorAttachmentOutput, gpu.StageRayTracingShader)

	r.Injector.Record(l, grid, vgb, rt, r.frame, r.time)
	l.Barrier(gpu.StageRayTracingShader, gpu.StageComputeShader)

	r.Octree.Record(l, grid, vgb)
	l.Barrier(gpu.StageComputeShader, gpu.StageRayTracingShader)

	traced := r.Tracer.Record(l, rt, r.Octree, grid, r.Scene.Camera.Pose(), r.Scene.HasDynamicContent())
	l.Barrier(gpu.StageRayTracingShader, gpu.StageComputeShader)

	r.Tracer.RecordTonemap(l)
	return traced
}

// Frame advances the scene by dt seconds, refreshes the dynamic TLAS and the per-frame uniforms,
// then records and submits one frame.
func (r *Renderer) Frame(dt float32) error {
	p := r.Profiler
	p.BeginScope("update")
	r.time += dt
	r.Scene.Update(r.time)
	if err := r.Accel.UpdateTopLevelAS(); err != nil {
		p.EndScope("update")
		return err
	}
	if err := r.Buffers.Update(r.Scene, r.frameParams()); err != nil {
		p.EndScope("update")
		return err
	}
	p.EndScope("update")

	p.BeginScope("record")
	l := gpu.NewCommandList(fmt.Sprintf("frame %d", r.frame))
	r.traced = r.Record(l)
	p.EndScope("record")

	p.BeginScope("submit")
	err := r.dev.Submit(l)
	p.EndScope("submit")
	if err != nil {
		r.log.Errorf("frame %d: %v", r.frame, err)
		return err
	}

	if timer, ok := r.dev.(gpu.CommandTimer); ok {
		stages := map[string]time.Duration{}
		for name, d := range timer.CommandTimes() {
			if stage, ok := stageOf[name]; ok {
				stages[stage] += d
			}
		}
		for _, stage := range stageOrder {
			p.SetDetail(stage, stages[stage])
		}
	}
	r.frame++
	p.SetCount("frame", int(r.frame))
	p.SetCount("accumulated", r.Tracer.Budget.Frame())
	p.SetCount("tlas updates", r.Accel.Stats.TLASUpdates)
	return nil
}

// SetNEE switches next-event estimation for injection and tracing. The acceleration structures are
// rebuilt, blocking, as when a ray-tracing pipeline variant changes.
func (r *Renderer) SetNEE(on bool) error {
	if on == r.cfg.Trace.NEE {
		return nil
	}
	r.cfg.Trace.NEE, r.cfg.Inject.NEE = on, on
	r.Injector.SetNEE(on)
	r.Tracer.SetNEE(on)
	r.Tracer.Budget.Reset()
	if err := r.dev.WaitIdle(); err != nil {
		return err
	}
	if err := r.Accel.Rebuild(); err != nil {
		r.log.Errorf("acceleration structure rebuild: %v", err)
		return err
	}
	r.log.Infof("next-event estimation %v", on)
	return nil
}

func (r *Renderer) SetGuideProbability(a float32) {
	r.Tracer.SetGuideProbability(a)
	r.cfg.Trace.GuideProbability = r.Tracer.GuideProbability()
}

// SetExposure only changes the tonemap; the accumulated radiance is kept.
func (r *Renderer) SetExposure(e float32) {
	e = max(e, 0)
	r.Tracer.SetExposure(e)
	r.cfg.Trace.Exposure = e
}

func accumSize(w, h uint32) uint64 { return uint64(w) * uint64(h) * guide.PixelWords * 4 }

// requireStorageSizes checks the largest storage buffers cfg allocates against the device limits.
func requireStorageSizes(dev gpu.Device, cfg svopg.Config) error {
	n := uint64(cfg.Voxel.Count)
	sizes := []struct {
		label string
		size  uint64
	}{
		{"voxel grid", n * n * n * voxelize.CellSize},
		{"octree", uint64(octree.NodeCount(cfg.MaxDepth())) * octree.NodeSize},
		{"accumulator", accumSize(cfg.Trace.Width, cfg.Trace.Height)},
	}
	for _, s := range sizes {
		if err := gpu.RequireStorageSize(dev, s.label, s.size); err != nil {
			return fmt.Errorf("config does not fit %s: %w", dev.Name(), err)
		}
	}
	return nil
}

func (r *Renderer) SetDisplay(d guide.Display) {
	r.Tracer.Display = d
}

func (r *Renderer) Resize(w, h uint32) error {
	if w == 0 || h == 0 {
		return nil
	}
	if err := gpu.RequireStorageSize(r.dev, "accumulator", accumSize(w, h)); err != nil {
		return err
	}
	if err := r.dev.WaitIdle(); err != nil {
		return err
	}
	if err := r.Tracer.Resize(w, h); err != nil {
		return err
	}
	r.cfg.Trace.Width, r.cfg.Trace.Height = w, h
	return nil
}

// Image reads the tonemapped output back.
func (r *Renderer) Image() (*image.RGBA, error) {
	px, err := r.Tracer.Pixels()
	if err != nil {
		return nil, err
	}
	w, h := int(r.Tracer.Width()), int(r.Tracer.Height())
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, p := range px {
		img.SetRGBA(i%w, i/w, color.RGBA{R: uint8(p), G: uint8(p >> 8), B: uint8(p >> 16), A: uint8(p >> 24)})
	}
	return img, nil
}

// DebugBoxes returns the occupied nodes of the configured debug levels of the configured tree.
func (r *Renderer) DebugBoxes() ([]octree.Box, error) {
	if len(r.cfg.Octree.DebugLevels) == 0 {
		return nil, nil
	}
	t, err := octree.ParseTree(r.cfg.Octree.DebugTree)
	if err != nil {
		return nil, err
	}
	return r.Octree.Boxes(t, r.cfg.Octree.DebugLevels)
}

// Summary is the one-line frame description used by logs and the overlay.
func (r *Renderer) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "frame %d, accumulated %d/%d", r.frame, r.Tracer.Budget.Frame(), r.cfg.Trace.MaxFrames)
	fmt.Fprintf(&sb, ", nee %v, guide %.2f, display %s", r.cfg.Trace.NEE, r.cfg.Trace.GuideProbability, r.Tracer.Display)
	return sb.String()
}

func (r *Renderer) Destroy() {
	_ = r.dev.WaitIdle()
	r.Tracer.Destroy()
	r.Octree.Destroy()
	r.Voxelizer.Destroy()
	r.Buffers.Destroy()
	r.Accel.Destroy()
}
