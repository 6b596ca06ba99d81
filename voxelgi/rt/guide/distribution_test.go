package guide

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rand"

	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
	"github.com/gekko3d/svopg/voxelgi/rt/octree"
	"github.com/gekko3d/svopg/voxelgi/rt/voxelize"
)

// floorTree builds both octrees over an 8^3 unit grid whose bottom layer is a floor facing +z with
// the given irradiance per column.
func floorTree(t *testing.T, irradiance func(x, y uint32) float32) Distribution {
	t.Helper()
	dev := gpu.NewHostDevice()
	grid := voxelize.NewGrid(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 1, 1}, 8, 0)
	r := gpu.HostResource{Words: make([]uint32, grid.Cells()*voxelize.CellWords)}
	for x := uint32(0); x < 8; x++ {
		for y := uint32(0); y < 8; y++ {
			base := grid.Index(x, y, 0) * voxelize.CellWords
			e := irradiance(x, y)
			r.StoreVec3(base+voxelize.CellNormal, mgl32.Vec3{0, 0, 1})
			r.StoreU32(base+voxelize.CellCount, 1)
			r.StoreVec3(base+voxelize.CellIrradiance, mgl32.Vec3{e, e, e})
		}
	}
	vgb, err := dev.CreateBuffer(gpu.BufferDesc{Label: "VGB", Size: uint64(len(r.Words)) * 4})
	require.NoError(t, err)
	require.NoError(t, dev.WriteBuffer(vgb, 0, gpu.WordsToBytes(r.Words)))

	params := octree.Params{MaxDepth: 3, ClusteringLevel: 1, EntropyMin: 0.05, EntropyMax: 0.2, IrradianceRatio: 0.5}
	b, err := octree.New(dev, nil, params)
	require.NoError(t, err)
	l := gpu.NewCommandList("octree")
	b.Record(l, grid, vgb)
	require.NoError(t, gpu.SubmitAndWait(dev, l))

	read := func(buf *gpu.Buffer) gpu.HostResource {
		raw, err := dev.ReadBuffer(buf)
		require.NoError(t, err)
		return gpu.HostResource{Words: gpu.BytesToWords(raw)}
	}
	return Distribution{E: read(b.E), G: read(b.G), MaxDepth: params.MaxDepth, ClusteringLevel: params.ClusteringLevel}
}

// Half the floor is a hundred times brighter than the other half.
func split(x, _ uint32) float32 {
	if x < 4 {
		return 10
	}
	return 0.1
}

func uniformSphere(rng *rand.Rand) mgl32.Vec3 {
	z := 1 - 2*rng.Float32()
	r := float32(math.Sqrt(math.Max(0, float64(1-z*z))))
	phi := 2 * math.Pi * rng.Float64()
	return mgl32.Vec3{r * float32(math.Cos(phi)), r * float32(math.Sin(phi)), z}
}

func TestGuidePdfIntegratesToOne(t *testing.T) {
	dist := floorTree(t, split)
	p := mgl32.Vec3{0.5, 0.5, 0.7}
	rng := rand.New(11)
	const n = 100000
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(dist.Pdf(p, uniformSphere(rng)))
	}
	assert.InDelta(t, 1.0, sum*4*math.Pi/n, 0.05)
}

func TestGuideSamplesHaveDensity(t *testing.T) {
	dist := floorTree(t, split)
	require.True(t, dist.Available())
	p := mgl32.Vec3{0.5, 0.5, 0.7}
	rng := rand.New(3)
	bright := 0
	const n = 2000
	for i := 0; i < n; i++ {
		dir, ok := dist.Sample(p, rng)
		require.True(t, ok)
		require.InDelta(t, 1, dir.Len(), 1e-4)
		require.Greater(t, dist.Pdf(p, dir), float32(0), "sample %d", i)
		if dir.X() < 0 {
			bright++
		}
	}
	assert.Greater(t, float64(bright)/n, 0.75)
}

func TestGuideUniformFloorStopsAtRoot(t *testing.T) {
	dist := floorTree(t, func(uint32, uint32) float32 { return 1 })
	root := octree.LoadNode(dist.E, 0, 0)
	require.True(t, root.ClusterRoot())
	assert.True(t, dist.terminal(root))

	// Inside the root's bounding sphere the guide degenerates to the uniform sphere.
	p := mgl32.Vec3{0.5, 0.5, 0.3}
	assert.InDelta(t, 1/(4*math.Pi), dist.Pdf(p, mgl32.Vec3{0, 0, -1}), 1e-6)
	assert.InDelta(t, 1/(4*math.Pi), dist.Pdf(p, mgl32.Vec3{0, 0, 1}), 1e-6)
}

func TestGuideUnavailableWithoutLight(t *testing.T) {
	dist := floorTree(t, func(uint32, uint32) float32 { return 0 })
	assert.False(t, dist.Available())
	_, ok := dist.Sample(mgl32.Vec3{0.5, 0.5, 0.7}, rand.New(1))
	assert.False(t, ok)
	assert.Zero(t, dist.Pdf(mgl32.Vec3{0.5, 0.5, 0.7}, mgl32.Vec3{0, 0, -1}))
}

func TestMixture(t *testing.T) {
	assert.Equal(t, float32(2), Mixture(0, 5, 2))
	assert.Equal(t, float32(5), Mixture(1, 5, 2))
	assert.InDelta(t, 3.5, Mixture(0.5, 5, 2), 1e-6)
}
