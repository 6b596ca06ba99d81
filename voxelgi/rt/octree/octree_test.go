package octree

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rand"

	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
	"github.com/gekko3d/svopg/voxelgi/rt/voxelize"
)

type cellFunc func(x, y, z uint32) (ok bool, normal, irradiance mgl32.Vec3)

func testGrid(n uint32) voxelize.Grid {
	return voxelize.NewGrid(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 1, 1}, n, 0)
}

// writeVGB fills a VGB directly, one fragment per occupied cell.
func writeVGB(t *testing.T, dev gpu.Device, grid voxelize.Grid, fill cellFunc) *gpu.Buffer {
	t.Helper()
	vgb, err := dev.CreateBuffer(gpu.BufferDesc{Label: "VGB", Size: uint64(grid.Cells()) * voxelize.CellSize})
	require.NoError(t, err)
	r := gpu.HostResource{Words: make([]uint32, grid.Cells()*voxelize.CellWords)}
	for i := uint32(0); i < grid.Cells(); i++ {
		x, y, z := grid.Coord(i)
		ok, n, irr := fill(x, y, z)
		if !ok {
			continue
		}
		base := i * voxelize.CellWords
		r.StoreVec3(base+voxelize.CellNormal, n)
		r.StoreU32(base+voxelize.CellCount, 1)
		r.StoreVec3(base+voxelize.CellIrradiance, irr)
	}
	require.NoError(t, dev.WriteBuffer(vgb, 0, gpu.WordsToBytes(r.Words)))
	return vgb
}

func build(t *testing.T, n uint32, cl int, fill cellFunc) (*Builder, *gpu.CommandList) {
	t.Helper()
	dev := gpu.NewHostDevice()
	grid := testGrid(n)
	vgb := writeVGB(t, dev, grid, fill)
	b, err := New(dev, nil, Params{
		MaxDepth:        int(math.Log2(float64(n))),
		ClusteringLevel: cl,
		EntropyMin:      0.05,
		EntropyMax:      0.2,
		IrradianceRatio: 0.5,
	})
	require.NoError(t, err)
	t.Cleanup(b.Destroy)
	l := gpu.NewCommandList("octree")
	b.Record(l, grid, vgb)
	require.NoError(t, gpu.SubmitAndWait(dev, l))
	return b, l
}

var up = mgl32.Vec3{0, 0, 1}

func uniform(uint32, uint32, uint32) (bool, mgl32.Vec3, mgl32.Vec3) {
	return true, up, mgl32.Vec3{1, 1, 1}
}

func TestLevelLayout(t *testing.T) {
	assert.Equal(t, uint32(0), LevelOffset(0))
	assert.Equal(t, uint32(1), LevelOffset(1))
	assert.Equal(t, uint32(9), LevelOffset(2))
	assert.Equal(t, uint32(73), NodeCount(2))
	assert.Equal(t, uint32(64), LevelSize(2))

	first, last := ChildRange(1, 3)
	assert.Equal(t, [2]uint32{24, 32}, [2]uint32{first, last})
	assert.Equal(t, uint32(10), Label(1, 0))
}

func TestMortonParentIsShift(t *testing.T) {
	assert.Equal(t, uint32(1), Morton(1, 0, 0))
	assert.Equal(t, uint32(2), Morton(0, 1, 0))
	assert.Equal(t, uint32(4), Morton(0, 0, 1))
	for x := uint32(0); x < 8; x++ {
		for y := uint32(0); y < 8; y++ {
			for z := uint32(0); z < 8; z++ {
				m := Morton(x, y, z)
				dx, dy, dz := DecodeMorton(m)
				require.Equal(t, [3]uint32{x, y, z}, [3]uint32{dx, dy, dz})
				assert.Equal(t, Morton(x/2, y/2, z/2), m>>3)
				first, last := ChildRange(2, m>>3)
				assert.True(t, m >= first && m < last)
			}
		}
	}
}

func TestSimilarBoundaryIsExclusive(t *testing.T) {
	const th = float32(0.1)
	assert.False(t, Similar(th, th, false, 0, 0.5))
	assert.True(t, Similar(math.Nextafter32(th, 0), th, false, 0, 0.5))
	assert.False(t, Similar(0, th, true, 0.5, 0.5))
	assert.True(t, Similar(0, th, true, math.Nextafter32(0.5, 0), 0.5))
	assert.True(t, Similar(0, th, false, 0.9, 0.5), "spread is ignored for the G tree")
}

func TestEntropyThresholdInterpolates(t *testing.T) {
	p := Params{MaxDepth: 4, EntropyMin: 0.1, EntropyMax: 0.5}
	assert.InDelta(t, 0.1, p.EntropyThreshold(0), 1e-6)
	assert.InDelta(t, 0.3, p.EntropyThreshold(2), 1e-6)
	assert.InDelta(t, 0.5, p.EntropyThreshold(4), 1e-6)
}

func TestReduceIndivisibleAtDispersionThreshold(t *testing.T) {
	var children [8]Node
	for c := range children {
		n := mgl32.Vec3{0.3, 0, 1}.Normalize()
		if c%2 == 1 {
			n = mgl32.Vec3{-0.3, 0, 1}.Normalize()
		}
		children[c] = Node{
			Min: mgl32.Vec3{0, 0, 0}, Max: mgl32.Vec3{1, 1, 1},
			Weight: 1, Normal: n, NotIgnore: 1, Flags: FlagOccupied,
		}
	}
	disp := Reduce(&children, 1, 0, false, Params{MaxDepth: 2, EntropyMin: 1, EntropyMax: 1}).Dispersion
	require.Greater(t, disp, float32(0))

	at := Reduce(&children, 1, 0, false, Params{MaxDepth: 2, EntropyMin: disp, EntropyMax: disp})
	assert.True(t, at.Indivisible())

	above := math.Nextafter32(disp, 1)
	below := Reduce(&children, 1, 0, false, Params{MaxDepth: 2, EntropyMin: above, EntropyMax: above})
	assert.False(t, below.Indivisible())
	assert.Equal(t, uint32(0xff), below.ChildMask)
	assert.Equal(t, float32(8), below.Weight)
}

func TestReducePropagatesIndivisible(t *testing.T) {
	var children [8]Node
	for c := range children {
		children[c] = Node{Min: mgl32.Vec3{}, Max: mgl32.Vec3{1, 1, 1}, Weight: 1, Normal: up, Flags: FlagOccupied}
	}
	children[5].Flags |= FlagIndivisible
	n := Reduce(&children, 0, 0, false, Params{MaxDepth: 1, EntropyMin: 0.5, EntropyMax: 0.5})
	assert.True(t, n.Indivisible())
}

func TestBuildAggregatesChildrenAtEveryLevel(t *testing.T) {
	rng := rand.New(7)
	occupied := map[[3]uint32]bool{}
	b, _ := build(t, 8, 2, func(x, y, z uint32) (bool, mgl32.Vec3, mgl32.Vec3) {
		if rng.Float32() < 0.6 {
			return false, mgl32.Vec3{}, mgl32.Vec3{}
		}
		occupied[[3]uint32{x, y, z}] = true
		n := mgl32.Vec3{rng.Float32() - 0.5, rng.Float32() - 0.5, rng.Float32() + 0.1}
		return true, n, mgl32.Vec3{rng.Float32(), rng.Float32(), rng.Float32()}
	})

	for _, tree := range []Tree{TreeG, TreeE} {
		for d := b.Params().MaxDepth - 1; d >= 0; d-- {
			parents, err := b.Level(tree, d)
			require.NoError(t, err)
			children, err := b.Level(tree, d+1)
			require.NoError(t, err)
			for i, p := range parents {
				first, last := ChildRange(d, uint32(i))
				lo := mgl32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
				hi := lo.Mul(-1)
				var weight float32
				var mask uint32
				for c := first; c < last; c++ {
					ch := children[c]
					for k := 0; k < 3; k++ {
						lo[k] = min(lo[k], ch.Min[k])
						hi[k] = max(hi[k], ch.Max[k])
					}
					if ch.Occupied() {
						weight += ch.Weight
						mask |= 1 << (c - first)
					}
				}
				require.Equal(t, lo, p.Min, "%s level %d node %d", tree, d, i)
				require.Equal(t, hi, p.Max, "%s level %d node %d", tree, d, i)
				require.Equal(t, weight, p.Weight)
				require.Equal(t, mask, p.ChildMask)
				require.Equal(t, weight > 0, p.Occupied())
				require.Equal(t, uint32(d), p.Depth)
			}
		}
		root, err := b.Level(tree, 0)
		require.NoError(t, err)
		assert.Equal(t, float32(len(occupied)), root[0].Weight)
	}
}

func TestUniformGridCollapsesToOneCluster(t *testing.T) {
	b, _ := build(t, 8, 2, uniform)
	for _, tree := range []Tree{TreeG, TreeE} {
		n, err := b.Clusters(tree)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "tree %s", tree)

		root, err := b.Level(tree, 0)
		require.NoError(t, err)
		assert.True(t, root[0].ClusterRoot())
		assert.False(t, root[0].Indivisible())
		assert.InDelta(t, 0, root[0].Dispersion, 1e-6)

		level, err := b.Level(tree, 2)
		require.NoError(t, err)
		for _, node := range level {
			assert.Equal(t, Label(0, 0), node.Label)
		}
	}
	leaves, err := b.Level(TreeE, 3)
	require.NoError(t, err)
	assert.Equal(t, mgl32.Vec3{1, 1, 1}, leaves[0].Irradiance)
}

// Constant normals everywhere, but one octant much darker: only the E tree splits.
func TestIrradianceSpreadSplitsOnlyE(t *testing.T) {
	b, _ := build(t, 8, 2, func(x, y, z uint32) (bool, mgl32.Vec3, mgl32.Vec3) {
		irr := mgl32.Vec3{1, 1, 1}
		if x < 4 && y < 4 && z < 4 {
			irr = mgl32.Vec3{0.1, 0.1, 0.1}
		}
		return true, up, irr
	})
	g, err := b.Level(TreeG, 0)
	require.NoError(t, err)
	assert.False(t, g[0].Indivisible())

	e, err := b.Level(TreeE, 0)
	require.NoError(t, err)
	assert.True(t, e[0].Indivisible())
	assert.Equal(t, uint32(0), e[0].Label)

	// Each octant is uniform on its own, so it heads a cluster of its own.
	n, err := b.Clusters(TreeE)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestEmptyGridHasNoClusters(t *testing.T) {
	b, _ := build(t, 4, 1, func(uint32, uint32, uint32) (bool, mgl32.Vec3, mgl32.Vec3) {
		return false, mgl32.Vec3{}, mgl32.Vec3{}
	})
	root, err := b.Level(TreeG, 0)
	require.NoError(t, err)
	assert.False(t, root[0].Occupied())
	assert.Equal(t, float32(0), root[0].Weight)
	n, err := b.Clusters(TreeG)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordBarriers(t *testing.T) {
	b, l := build(t, 8, 2, uniform)
	barriers := l.Barriers()
	assert.Len(t, barriers, b.Barriers())
	assert.Len(t, barriers, 1+3+2)
	for _, br := range barriers {
		assert.Equal(t, gpu.BarrierCmd{Src: gpu.StageComputeShader, Dst: gpu.StageComputeShader}, br)
	}
}

func TestReduceWithoutBarrierIsHazard(t *testing.T) {
	dev := gpu.NewHostDevice()
	grid := testGrid(4)
	vgb := writeVGB(t, dev, grid, uniform)
	b, err := New(dev, nil, Params{MaxDepth: 2, ClusteringLevel: 1, EntropyMin: 0.05, EntropyMax: 0.2, IrradianceRatio: 0.5})
	require.NoError(t, err)

	p := b.push(grid)
	l := gpu.NewCommandList("octree")
	l.Dispatch(LeafKernel, gpu.StageComputeShader, gpu.Groups1D(grid.Cells(), 256), p.Bytes(),
		gpu.Write(b.G), gpu.Write(b.E), gpu.Read(vgb))
	p.Depth = 2
	l.Dispatch(ReduceKernel, gpu.StageComputeShader, gpu.Groups1D(LevelSize(1), 256), p.Bytes(),
		gpu.ReadWrite(b.G), gpu.ReadWrite(b.E))
	assert.ErrorIs(t, dev.Submit(l), gpu.ErrHazard)
}

func TestNewRejectsClusteringLevel(t *testing.T) {
	_, err := New(gpu.NewHostDevice(), nil, Params{MaxDepth: 3, ClusteringLevel: 4})
	assert.Error(t, err)
	_, err = New(gpu.NewHostDevice(), nil, Params{MaxDepth: 3, ClusteringLevel: 0})
	assert.Error(t, err)
}

func TestPushRoundTrip(t *testing.T) {
	p := Push{Count: 16, MaxDepth: 4, Depth: 3, Cluster: true, GridMin: mgl32.Vec3{1, 2, 3},
		VoxelSize: mgl32.Vec3{0.5, 0.5, 0.25}, EntropyMin: 0.1, EntropyMax: 0.3, Ratio: 0.7}
	assert.Equal(t, p, ReadPush(p.Bytes()))
	assert.Len(t, p.Bytes(), 64)
}
