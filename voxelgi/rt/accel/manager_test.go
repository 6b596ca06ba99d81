package accel

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/svopg/voxelgi/rt/core"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
)

func partitionScene(nStatic, nDynamic int) *core.Scene {
	s := core.NewScene()
	cube := s.AddMesh(core.NewCube())
	for i := 0; i < nStatic; i++ {
		s.AddInstance(core.NewInstance("static", cube, 0, core.At(mgl32.Vec3{float32(i) * 3, 0, 0})))
	}
	for i := 0; i < nDynamic; i++ {
		inst := core.NewInstance("dynamic", cube, 0, core.At(mgl32.Vec3{float32(i) * 3, 5, 0}))
		inst.Motion = core.Motion{Type: core.MotionPeriod, Axis: mgl32.Vec3{0, 0, 1}, Period: 4}
		s.AddInstance(inst)
	}
	return s
}

func readWords(t *testing.T, dev gpu.Device, b *gpu.Buffer) []uint32 {
	t.Helper()
	raw, err := dev.ReadBuffer(b)
	require.NoError(t, err)
	return gpu.BytesToWords(raw)
}

func TestStaticRecordsSurviveDynamicUpdate(t *testing.T) {
	const n, m = 3, 2
	dev := gpu.NewHostDevice()
	scene := partitionScene(n, m)
	mgr := NewManager(dev, nil)
	require.NoError(t, mgr.Init(scene))

	before := readWords(t, dev, mgr.Accel)
	hdr := before[:HeaderWords]
	inst := hdr[HdrInstances]
	staticBefore := append([]uint32(nil), before[inst:inst+n*RecordWords]...)
	dynamicBefore := append([]uint32(nil), before[inst+n*RecordWords:inst+(n+m)*RecordWords]...)

	scene.Update(1)
	require.NoError(t, mgr.UpdateTopLevelAS())

	after := readWords(t, dev, mgr.Accel)
	assert.Equal(t, uint32(n+m), after[HdrInstanceCount])
	assert.Equal(t, uint32(n), after[HdrStaticCount])
	if diff := cmp.Diff(staticBefore, after[inst:inst+n*RecordWords]); diff != "" {
		t.Errorf("static records changed (-before +after):\n%s", diff)
	}
	assert.NotEqual(t, dynamicBefore, after[inst+n*RecordWords:inst+(n+m)*RecordWords])
	assert.Equal(t, mgr.StaticRecords(), mgr.InstanceRecords()[:n*RecordSize])
	assert.Equal(t, 1, mgr.Stats.TLASUpdates)
	assert.Equal(t, 1, mgr.Stats.TLASBuilds)
}

func TestUpdateWithoutDynamicInstancesIsNoop(t *testing.T) {
	dev := gpu.NewHostDevice()
	mgr := NewManager(dev, nil)
	require.NoError(t, mgr.Init(partitionScene(2, 0)))
	require.NoError(t, mgr.UpdateTopLevelAS())
	assert.Equal(t, 0, mgr.Stats.TLASUpdates)
}

func TestRecordLayout(t *testing.T) {
	scene := partitionScene(1, 0)
	inst := scene.Instances[0]
	inst.Transform.Position = mgl32.Vec3{7, 8, 9}
	r := NewRecord(inst, BLASRef{NodeBase: 5, PrimBase: 11})

	words := gpu.BytesToWords(r.Bytes())
	require.Len(t, words, RecordWords)
	// row-major: translation is the last column of each row
	assert.Equal(t, float32(7), r.Transform[3])
	assert.Equal(t, float32(8), r.Transform[7])
	assert.Equal(t, float32(9), r.Transform[11])
	assert.Equal(t, uint32(DefaultMask)<<24|uint32(inst.Mesh), words[12])
	assert.Equal(t, InstanceFlagTriangleCullDisable<<24, words[13], "sbt offset 0, cull disabled")
	assert.Equal(t, r, DecodeRecord(words))
	assert.Equal(t, BLASRef{NodeBase: 5, PrimBase: 11}, RefFromAddress(r.BLAS))
}

func TestHostViewTracesInstances(t *testing.T) {
	dev := gpu.NewHostDevice()
	scene := partitionScene(2, 1)
	mgr := NewManager(dev, nil)
	require.NoError(t, mgr.Init(scene))
	view, err := mgr.HostView()
	require.NoError(t, err)

	// second static cube sits at x=3
	hit, ok := view.Closest(mgl32.Vec3{3, -5, 0}, mgl32.Vec3{0, 1, 0}, 0, 100)
	require.True(t, ok)
	assert.InDelta(t, 4.5, hit.T, 1e-4)
	assert.Equal(t, uint32(1), hit.Instance)
	assert.InDelta(t, -1, hit.Normal.Y(), 1e-5, "normal faces the ray")
	assert.InDelta(t, -0.5, hit.Position.Y(), 1e-4)

	// the ray from inside the cube hits its far side; culling is disabled
	hit, ok = view.Closest(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, 1}, 0, 100)
	require.True(t, ok)
	assert.InDelta(t, 0.5, hit.T, 1e-4)

	assert.True(t, view.Occluded(mgl32.Vec3{-5, 0, 0}, mgl32.Vec3{1, 0, 0}, 0, 100))
	assert.False(t, view.Occluded(mgl32.Vec3{-5, 0, 0}, mgl32.Vec3{1, 0, 0}, 0, 4))
	assert.False(t, view.Occluded(mgl32.Vec3{-5, 20, 0}, mgl32.Vec3{1, 0, 0}, 0, 100))
}

func TestInitRejectsBrokenScene(t *testing.T) {
	s := partitionScene(1, 0)
	s.Instances[0].Mesh = 4
	err := NewManager(gpu.NewHostDevice(), nil).Init(s)
	assert.ErrorIs(t, err, ErrBuild)
}
