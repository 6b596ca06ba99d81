package app

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svopg "github.com/gekko3d/svopg"
	"github.com/gekko3d/svopg/voxelgi/rt/core"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
	"github.com/gekko3d/svopg/voxelgi/rt/guide"
)

func testConfig() svopg.Config {
	cfg := svopg.DefaultConfig()
	cfg.Voxel.Count = 16
	cfg.Octree.ClusteringLevel = 2
	cfg.Trace.Width, cfg.Trace.Height = 16, 12
	cfg.Trace.MaxDepth = 3
	cfg.Trace.MaxFrames = 3
	cfg.Inject.Samples = 2
	return cfg
}

func newTestRenderer(t *testing.T, sceneName string, mutate func(*svopg.Config)) (*Renderer, *svopg.RecordingLogger) {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	scene, err := core.BuiltinScene(sceneName)
	require.NoError(t, err)
	log := &svopg.RecordingLogger{}
	r, err := NewRenderer(gpu.NewHostDevice(), log, cfg, scene)
	require.NoError(t, err)
	t.Cleanup(r.Destroy)
	return r, log
}

func TestRecordBarrierOrder(t *testing.T) {
	r, _ := newTestRenderer(t, "cornell", nil)
	l := gpu.NewCommandList("frame")
	require.True(t, r.Record(l))
	require.NoError(t, l.Validate())

	cc := gpu.BarrierCmd{Src: gpu.StageComputeShader, Dst: gpu.StageComputeShader}
	want := []gpu.BarrierCmd{
		{Src: gpu.StageComputeShader, Dst: gpu.StageFragmentShader},
		{Src: gpu.StageFragmentShader | gpu.StageColorAttachmentOutput, Dst: gpu.StageRayTracingShader},
		{Src: gpu.StageRayTracingShader, Dst: gpu.StageComputeShader},
	}
	for i := 0; i < r.Octree.Barriers(); i++ {
		want = append(want, cc)
	}
	want = append(want,
		gpu.BarrierCmd{Src: gpu.StageComputeShader, Dst: gpu.StageRayTracingShader},
		gpu.BarrierCmd{Src: gpu.StageRayTracingShader, Dst: gpu.StageComputeShader},
	)
	if diff := cmp.Diff(want, l.Barriers()); diff != "" {
		t.Errorf("barriers mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordWithoutBarrierIsHazard(t *testing.T) {
	r, _ := newTestRenderer(t, "cube", nil)
	full := gpu.NewCommandList("frame")
	r.Record(full)

	// Drop the barrier between injection and the octree build.
	broken := gpu.NewCommandList("broken")
	dropped := false
	for _, c := range full.Commands() {
		if b, ok := c.(*gpu.BarrierCmd); ok && !dropped &&
			b.Src == gpu.StageRayTracingShader && b.Dst == gpu.StageComputeShader {
			dropped = true
			continue
		}
		switch cmd := c.(type) {
		case *gpu.DispatchCmd:
			broken.Dispatch(cmd.Kernel, cmd.Stage, cmd.Groups, cmd.Push, cmd.Bindings...)
		case *gpu.DrawCmd:
			broken.Draw(*cmd)
		case *gpu.BarrierCmd:
			broken.Barrier(cmd.Src, cmd.Dst)
		}
	}
	require.True(t, dropped)
	err := broken.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, gpu.ErrHazard))
}

func TestFrameAccumulatesThenSkips(t *testing.T) {
	r, _ := newTestRenderer(t, "cornell", nil)
	var traced []bool
	for i := 0; i < 4; i++ {
		require.NoError(t, r.Frame(0.016))
		traced = append(traced, r.Traced())
	}
	assert.Equal(t, []bool{true, true, false, false}, traced)
	assert.Equal(t, uint32(4), r.FrameCount())

	r.Scene.Camera.Position = r.Scene.Camera.Position.Add(core.NewCamera().Forward())
	require.NoError(t, r.Frame(0.016))
	assert.True(t, r.Traced(), "a camera move restarts accumulation")
}

func TestFrameDynamicSceneRefitsTLAS(t *testing.T) {
	r, _ := newTestRenderer(t, "orbit", nil)
	require.True(t, r.Scene.HasDynamicContent())
	for i := 0; i < 4; i++ {
		require.NoError(t, r.Frame(0.05))
		assert.True(t, r.Traced(), "dynamic scenes trace every frame")
	}
	assert.Positive(t, r.Accel.Stats.TLASUpdates)
	assert.Equal(t, 1, r.Accel.Stats.TLASBuilds)
}

func TestSetNEERebuildsAccel(t *testing.T) {
	r, log := newTestRenderer(t, "cube", nil)
	require.True(t, r.Config().Trace.NEE)
	before := r.Accel.Stats.BLASBuilds

	require.NoError(t, r.SetNEE(true))
	assert.Equal(t, before, r.Accel.Stats.BLASBuilds, "no change, no rebuild")

	require.NoError(t, r.SetNEE(false))
	assert.Greater(t, r.Accel.Stats.BLASBuilds, before)
	assert.False(t, r.Tracer.NEE())
	assert.False(t, r.Config().Inject.NEE)
	assert.Equal(t, 0, r.Tracer.Budget.Frame())
	assert.Zero(t, log.Count("ERROR"))
	require.NoError(t, r.Frame(0.016))
}

func TestSetGuideProbabilityClamps(t *testing.T) {
	r, _ := newTestRenderer(t, "cube", nil)
	r.SetGuideProbability(2)
	assert.Equal(t, float32(1), r.Config().Trace.GuideProbability)
	r.SetGuideProbability(-1)
	assert.Equal(t, float32(0), r.Config().Trace.GuideProbability)
	assert.Contains(t, r.Summary(), "guide 0.00")
}

func TestImageAndResize(t *testing.T) {
	r, _ := newTestRenderer(t, "cornell", nil)
	r.SetDisplay(guide.DisplayMerged)
	require.NoError(t, r.Frame(0.016))
	img, err := r.Image()
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 12, img.Bounds().Dy())

	lit := false
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i-3] != 0 || img.Pix[i-2] != 0 || img.Pix[i-1] != 0 {
			lit = true
			break
		}
	}
	assert.True(t, lit, "the cornell box is lit")

	require.NoError(t, r.Resize(8, 6))
	require.NoError(t, r.Resize(0, 6))
	require.NoError(t, r.Frame(0.016))
	img, err = r.Image()
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 6, img.Bounds().Dy())
}

func TestDebugBoxes(t *testing.T) {
	r, _ := newTestRenderer(t, "cube", func(c *svopg.Config) {
		c.Octree.DebugLevels = []int{0, 2}
	})
	require.NoError(t, r.Frame(0.016))
	boxes, err := r.DebugBoxes()
	require.NoError(t, err)
	require.NotEmpty(t, boxes)
	assert.Equal(t, 0, boxes[0].Level, "the root is occupied")
	for _, b := range boxes {
		assert.Contains(t, []int{0, 2}, b.Level)
		assert.True(t, b.Max.X() > b.Min.X())
	}
}

func TestNewRendererRequiresStorageBuffers(t *testing.T) {
	dev := gpu.NewHostDevice(gpu.WithCapabilities(gpu.Capabilities{MaxStorageBuffersPerStage: 4, MaxComputeInvocations: 256,
		MaxStorageBufferBindingSize: 1 << 30, MaxBufferSize: 1 << 30}))
	scene, err := core.BuiltinScene("cube")
	require.NoError(t, err)
	log := &svopg.RecordingLogger{}
	_, err = NewRenderer(dev, log, testConfig(), scene)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gpu.ErrMissingFeature))
	assert.Equal(t, 1, log.Count("ERROR"))
}

func limitedDevice(bindingSize uint64) *gpu.HostDevice {
	return gpu.NewHostDevice(gpu.WithCapabilities(gpu.Capabilities{
		MaxStorageBuffersPerStage:   8,
		MaxComputeInvocations:       256,
		MaxStorageBufferBindingSize: bindingSize,
		MaxBufferSize:               1 << 30,
		TimestampQuery:              true,
	}))
}

func TestNewRendererRejectsOversizedBuffers(t *testing.T) {
	scene, err := core.BuiltinScene("cube")
	require.NoError(t, err)

	// 16^3 cells of 96 bytes need 384 KiB.
	log := &svopg.RecordingLogger{}
	_, err = NewRenderer(limitedDevice(256<<10), log, testConfig(), scene)
	require.Error(t, err)
	assert.ErrorIs(t, err, gpu.ErrTooLarge)
	assert.Contains(t, err.Error(), "voxel grid")
	assert.Equal(t, 1, log.Count("ERROR"))

	cfg := testConfig()
	cfg.Trace.Width, cfg.Trace.Height = 512, 512
	_, err = NewRenderer(limitedDevice(1<<20), &svopg.RecordingLogger{}, cfg, scene)
	assert.ErrorIs(t, err, gpu.ErrTooLarge)
	assert.Contains(t, err.Error(), "accumulator")
}

func TestResizeRejectsOversizedAccumulator(t *testing.T) {
	scene, err := core.BuiltinScene("cube")
	require.NoError(t, err)
	r, err := NewRenderer(limitedDevice(1<<20), &svopg.RecordingLogger{}, testConfig(), scene)
	require.NoError(t, err)
	defer r.Destroy()

	assert.ErrorIs(t, r.Resize(1024, 1024), gpu.ErrTooLarge)
	assert.Equal(t, uint32(16), r.Config().Trace.Width)
	require.NoError(t, r.Resize(32, 24))
	assert.Equal(t, uint32(32), r.Config().Trace.Width)
}

func TestNewRendererWarnsWithoutTimestamps(t *testing.T) {
	dev := gpu.NewHostDevice(gpu.WithCapabilities(gpu.Capabilities{MaxStorageBuffersPerStage: 8, MaxComputeInvocations: 256,
		MaxStorageBufferBindingSize: 1 << 30, MaxBufferSize: 1 << 30}))
	scene, err := core.BuiltinScene("cube")
	require.NoError(t, err)
	log := &svopg.RecordingLogger{}
	r, err := NewRenderer(dev, log, testConfig(), scene)
	require.NoError(t, err)
	defer r.Destroy()
	require.Len(t, r.Warnings, 1)
	assert.True(t, strings.Contains(r.Warnings[0], "timestamp"))
	assert.Equal(t, 1, log.Count("WARN"))
}

func TestFrameProfilesStages(t *testing.T) {
	r, _ := newTestRenderer(t, "cube", nil)
	require.NoError(t, r.Frame(0.016))
	table := r.Profiler.Table()
	for _, stage := range append([]string{"update", "record", "submit"}, stageOrder...) {
		assert.Contains(t, table, stage)
	}
	assert.Equal(t, 1, r.Profiler.Counts["frame"])
	assert.Equal(t, 1, r.Profiler.Counts["accumulated"])
}

func TestSetExposureKeepsAccumulation(t *testing.T) {
	r, _ := newTestRenderer(t, "cornell", nil)
	require.NoError(t, r.Frame(0.016))
	require.NoError(t, r.Frame(0.016))
	accumulated := r.Tracer.Budget.Frame()

	r.SetExposure(0)
	assert.Zero(t, r.Config().Trace.Exposure)
	assert.Equal(t, accumulated, r.Tracer.Budget.Frame())
	require.NoError(t, r.Frame(0.016))

	img, err := r.Image()
	require.NoError(t, err)
	for i := 0; i < len(img.Pix); i += 4 {
		require.Zero(t, img.Pix[i]|img.Pix[i+1]|img.Pix[i+2], "pixel %d", i/4)
	}

	r.SetExposure(-2)
	assert.Zero(t, r.Config().Trace.Exposure)
}
