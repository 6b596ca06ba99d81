package guide

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svopg "github.com/gekko3d/svopg"
	"github.com/gekko3d/svopg/voxelgi/rt/accel"
	"github.com/gekko3d/svopg/voxelgi/rt/core"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
	"github.com/gekko3d/svopg/voxelgi/rt/inject"
	"github.com/gekko3d/svopg/voxelgi/rt/octree"
	"github.com/gekko3d/svopg/voxelgi/rt/voxelize"
)

type stages struct {
	dev     *gpu.HostDevice
	scene   *core.Scene
	mgr     *accel.Manager
	buffers *gpu.SceneBuffers
	vox     *voxelize.Voxelizer
	inj     *inject.Injector
	tree    *octree.Builder
	tracer  *Tracer
}

func newStages(t *testing.T, scene *core.Scene, mutate func(*svopg.Config)) *stages {
	t.Helper()
	cfg := svopg.DefaultConfig()
	cfg.Voxel.Count = 16
	cfg.Trace.Width, cfg.Trace.Height = 16, 12
	cfg.Trace.MaxDepth = 3
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())

	s := &stages{dev: gpu.NewHostDevice(), scene: scene}
	s.mgr = accel.NewManager(s.dev, nil)
	require.NoError(t, s.mgr.Init(scene))
	s.buffers = gpu.NewSceneBuffers(s.dev)
	require.NoError(t, s.buffers.Update(scene, core.FrameParams{Width: cfg.Trace.Width, Height: cfg.Trace.Height, MaxDepth: 3}))
	var err error
	s.vox, err = voxelize.New(s.dev, nil, cfg.Voxel, scene)
	require.NoError(t, err)
	s.inj = inject.New(nil, cfg.Inject)
	s.tree, err = octree.New(s.dev, nil, octree.ParamsFromConfig(cfg))
	require.NoError(t, err)
	s.tracer, err = New(s.dev, nil, cfg.Trace)
	require.NoError(t, err)
	return s
}

func (s *stages) rt() []gpu.Binding { return s.mgr.Bindings(s.buffers.Info, s.buffers.Materials) }

// recordCache records voxelization, injection and the octree build, leaving the trees visible to
// the ray-tracing stage.
func (s *stages) recordCache(l *gpu.CommandList) {
	s.vox.Record(l, s.scene, s.mgr, s.buffers.Materials)
	l.Barrier(gpu.StageFragmentShader|gpu.StageColorAttachmentOutput, gpu.StageRayTracingShader)
	s.inj.Record(l, s.vox.Grid, s.vox.VGB, s.rt(), 0, 0)
	l.Barrier(gpu.StageRayTracingShader, gpu.StageComputeShader)
	s.tree.Record(l, s.vox.Grid, s.vox.VGB)
	l.Barrier(gpu.StageComputeShader, gpu.StageRayTracingShader)
}

func (s *stages) frame(t *testing.T) bool {
	t.Helper()
	l := gpu.NewCommandList("frame")
	s.recordCache(l)
	traced := s.tracer.Record(l, s.rt(), s.tree, s.vox.Grid, s.scene.Camera.Pose(), s.scene.HasDynamicContent())
	l.Barrier(gpu.StageRayTracingShader, gpu.StageComputeShader)
	s.tracer.RecordTonemap(l)
	require.NoError(t, gpu.SubmitAndWait(s.dev, l))
	return traced
}

func (s *stages) accum(t *testing.T, buf *gpu.Buffer) gpu.HostResource {
	raw, err := s.dev.ReadBuffer(buf)
	require.NoError(t, err)
	return gpu.HostResource{Words: gpu.BytesToWords(raw)}
}

func TestTraceCornellAccumulates(t *testing.T) {
	s := newStages(t, core.NewCornellScene(), nil)
	require.True(t, s.frame(t))
	require.True(t, s.frame(t))

	acc := s.accum(t, s.tracer.Accum)
	sec := s.accum(t, s.tracer.Secondary)
	pixels := s.tracer.Width() * s.tracer.Height()
	lit, cached := 0, 0
	for i := uint32(0); i < pixels; i++ {
		assert.Equal(t, float32(2), acc.F32(i*PixelWords+3))
		if acc.Vec3(i*PixelWords).Len() > 0 {
			lit++
		}
		if sec.Vec3(i*PixelWords).Len() > 0 {
			cached++
		}
	}
	assert.Greater(t, lit, int(pixels)/3)
	assert.Greater(t, cached, int(pixels)/3)

	px, err := s.tracer.Pixels()
	require.NoError(t, err)
	require.Len(t, px, int(pixels))
	nonBlack := 0
	for _, p := range px {
		assert.Equal(t, uint32(0xff), p>>24)
		if p&0xffffff != 0 {
			nonBlack++
		}
	}
	assert.Greater(t, nonBlack, int(pixels)/3)
}

func TestTraceWithoutGuide(t *testing.T) {
	s := newStages(t, core.NewOccluderScene(), func(c *svopg.Config) { c.Trace.GuideProbability = 0 })
	require.True(t, s.frame(t))
	acc := s.accum(t, s.tracer.Accum)
	assert.Equal(t, float32(1), acc.F32(3))
}

func TestTraceStopsAtFrameBudget(t *testing.T) {
	s := newStages(t, core.NewOccluderScene(), func(c *svopg.Config) { c.Trace.MaxFrames = 2 })
	assert.True(t, s.frame(t))
	assert.False(t, s.frame(t))
	assert.Equal(t, float32(1), s.accum(t, s.tracer.Accum).F32(3), "skipped frame must not accumulate")

	s.scene.Camera.Position = s.scene.Camera.Position.Add(mgl32.Vec3{0, 0.1, 0})
	assert.True(t, s.frame(t))
}

func TestTraceRequiresBarrierAfterOctree(t *testing.T) {
	s := newStages(t, core.NewOccluderScene(), nil)
	l := gpu.NewCommandList("frame")
	s.vox.Record(l, s.scene, s.mgr, s.buffers.Materials)
	l.Barrier(gpu.StageFragmentShader|gpu.StageColorAttachmentOutput, gpu.StageRayTracingShader)
	s.inj.Record(l, s.vox.Grid, s.vox.VGB, s.rt(), 0, 0)
	l.Barrier(gpu.StageRayTracingShader, gpu.StageComputeShader)
	s.tree.Record(l, s.vox.Grid, s.vox.VGB)
	require.True(t, s.tracer.Record(l, s.rt(), s.tree, s.vox.Grid, s.scene.Camera.Pose(), false))
	assert.ErrorIs(t, s.dev.Submit(l), gpu.ErrHazard)
}

func TestTracePushRoundTrip(t *testing.T) {
	grid := voxelize.NewGrid(mgl32.Vec3{-1, -1, 0}, mgl32.Vec3{1, 1, 2}, 16, 0.1)
	p := TracePush{Width: 64, Height: 32, Frame: 3, Seed: 9, Bounces: 4, Flags: FlagNEE | FlagGuide,
		TreeDepth: 4, ClusteringLevel: 3, Grid: grid, GuideProb: 0.5}
	got := ReadTracePush(p.Bytes())
	assert.Equal(t, p.Grid.Min, got.Grid.Min)
	assert.Equal(t, p.Grid.VoxelSize, got.Grid.VoxelSize)
	assert.Equal(t, p.Grid.Count, got.Grid.Count)
	got.Grid = p.Grid
	assert.Equal(t, p, got)
}

func TestTonemap(t *testing.T) {
	assert.Equal(t, uint32(0xff000000), Tonemap(mgl32.Vec3{}, 1))
	assert.Equal(t, uint32(0xffffffff), Tonemap(mgl32.Vec3{1e6, 1e6, 1e6}, 1))
	assert.Equal(t, uint32(0xff000000), Tonemap(mgl32.Vec3{-3, -3, -3}, 1))

	mid := Tonemap(mgl32.Vec3{0.5, 0, 0}, 1)
	assert.Equal(t, uint32(0), mid>>8&0xff)
	assert.Greater(t, mid&0xff, uint32(0))

	d, err := ParseDisplay("cache")
	require.NoError(t, err)
	assert.Equal(t, DisplayCache, d)
	_, err = ParseDisplay("nope")
	assert.Error(t, err)

	p := TonemapPush{Width: 3, Height: 2, Exposure: 1.5, Display: DisplayMerged}
	assert.Equal(t, p, ReadTonemapPush(p.Bytes()))
}
