package voxelize

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svopg "github.com/gekko3d/svopg"
	"github.com/gekko3d/svopg/voxelgi/rt/accel"
	"github.com/gekko3d/svopg/voxelgi/rt/core"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
)

type fixture struct {
	dev     *gpu.HostDevice
	scene   *core.Scene
	accel   *accel.Manager
	buffers *gpu.SceneBuffers
	vox     *Voxelizer
}

func newFixture(t *testing.T, scene *core.Scene, count uint32) *fixture {
	t.Helper()
	dev := gpu.NewHostDevice()
	mgr := accel.NewManager(dev, nil)
	require.NoError(t, mgr.Init(scene))
	buffers := gpu.NewSceneBuffers(dev)
	require.NoError(t, buffers.Update(scene, core.FrameParams{Width: 1, Height: 1, MaxDepth: 1}))
	cfg := svopg.DefaultConfig().Voxel
	cfg.Count = count
	vox, err := New(dev, nil, cfg, scene)
	require.NoError(t, err)
	return &fixture{dev: dev, scene: scene, accel: mgr, buffers: buffers, vox: vox}
}

func (f *fixture) voxelize(t *testing.T) []Cell {
	t.Helper()
	l := gpu.NewCommandList("voxelize")
	f.vox.Record(l, f.scene, f.accel, f.buffers.Materials)
	require.NoError(t, gpu.SubmitAndWait(f.dev, l))
	cells, err := f.vox.Cells()
	require.NoError(t, err)
	return cells
}

func TestGridPadsBounds(t *testing.T) {
	g := NewGrid(mgl32.Vec3{-0.5, -0.5, -0.5}, mgl32.Vec3{0.5, 0.5, 0.5}, 8, 0.1)
	assert.InDelta(t, -0.55, g.Min.X(), 1e-6)
	assert.InDelta(t, 0.1375, g.VoxelSize.Z(), 1e-6)

	idx, ok := g.CellOf(mgl32.Vec3{0.5, 0, -0.5})
	require.True(t, ok)
	x, y, z := g.Coord(idx)
	assert.Equal(t, [3]uint32{7, 4, 0}, [3]uint32{x, y, z})

	_, ok = g.CellOf(mgl32.Vec3{0.6, 0, 0})
	assert.False(t, ok)
}

func TestGridWidensFlatAxis(t *testing.T) {
	g := NewGrid(mgl32.Vec3{-2, -2, 0}, mgl32.Vec3{2, 2, 0}, 16, 0)
	assert.Greater(t, g.VoxelSize.Z(), float32(0))
	idx, ok := g.CellOf(mgl32.Vec3{0, 0, 0})
	require.True(t, ok)
	_, _, z := g.Coord(idx)
	assert.Equal(t, uint32(0), z)
}

func TestViewsMapGridOntoClipVolume(t *testing.T) {
	g := NewGrid(mgl32.Vec3{-1, -2, -3}, mgl32.Vec3{1, 2, 3}, 8, 0)
	views := g.Views(3)
	require.Len(t, views, 3)
	for _, v := range views {
		for _, p := range []mgl32.Vec3{g.Min, g.Max(), g.Centre()} {
			c := v.ViewProj.Mul4x1(p.Vec4(1))
			assert.InDelta(t, 1, c.W(), 1e-5, v.Name)
			for k := 0; k < 2; k++ {
				assert.LessOrEqual(t, c[k], float32(1.0001), v.Name)
				assert.GreaterOrEqual(t, c[k], float32(-1.0001), v.Name)
			}
			assert.GreaterOrEqual(t, c.Z(), float32(-1e-5), v.Name)
			assert.LessOrEqual(t, c.Z(), float32(1+1e-5), v.Name)
		}
	}
	assert.Len(t, g.Views(1), 1)
}

// A unit cube in an 8^3 grid padded by 10% touches exactly the outer shell of voxels.
func TestVoxelizeCubeShell(t *testing.T) {
	f := newFixture(t, core.NewCubeScene(), 8)
	cells := f.voxelize(t)
	require.Len(t, cells, 512)

	filled := 0
	for i, c := range cells {
		x, y, z := f.vox.Grid.Coord(uint32(i))
		shell := x == 0 || x == 7 || y == 0 || y == 7 || z == 0 || z == 7
		if shell {
			assert.False(t, c.Empty(), "shell voxel %d,%d,%d", x, y, z)
		} else {
			assert.True(t, c.Empty(), "interior voxel %d,%d,%d", x, y, z)
		}
		if !c.Empty() {
			filled++
			minB, maxB := f.vox.Grid.CellBounds(x, y, z)
			for k := 0; k < 3; k++ {
				assert.GreaterOrEqual(t, c.Position[k], minB[k]-1e-5)
				assert.LessOrEqual(t, c.Position[k], maxB[k]+1e-5)
			}
			assert.InDelta(t, 0.8, c.Albedo.X(), 1e-5)
		}
	}
	assert.Equal(t, 296, filled)

	// A face voxel away from edges only sees its own face.
	c := cells[f.vox.Grid.Index(7, 3, 4)]
	assert.InDelta(t, 1, c.Normal.X(), 1e-5)
}

func TestClearIsIdempotent(t *testing.T) {
	f := newFixture(t, core.NewCubeScene(), 8)
	f.voxelize(t)

	clearOnce := func() []byte {
		l := gpu.NewCommandList("clear")
		f.vox.RecordClear(l)
		require.NoError(t, gpu.SubmitAndWait(f.dev, l))
		raw, err := f.dev.ReadBuffer(f.vox.VGB)
		require.NoError(t, err)
		return raw
	}
	once := clearOnce()
	twice := clearOnce()
	assert.Equal(t, once, twice)
	for _, b := range once {
		require.Zero(t, b)
	}
}

func TestRecordOrdersClearBeforeDraws(t *testing.T) {
	f := newFixture(t, core.NewCubeScene(), 8)
	l := gpu.NewCommandList("voxelize")
	f.vox.Record(l, f.scene, f.accel, f.buffers.Materials)
	assert.Equal(t, []gpu.BarrierCmd{{Src: gpu.StageComputeShader, Dst: gpu.StageFragmentShader}}, l.Barriers())
	assert.NoError(t, l.Validate())

	// Without the barrier the first draw races the clear.
	bad := gpu.NewCommandList("voxelize")
	f.vox.RecordClear(bad)
	f.vox.RecordDraws(bad, f.scene, f.accel, f.buffers.Materials)
	assert.ErrorIs(t, bad.Validate(), gpu.ErrHazard)
}
