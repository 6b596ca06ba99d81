package voxelize

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
)

// Grid maps world space onto the dense Count^3 voxel grid. Voxels are boxes, not cubes: each axis
// has its own voxel size so the grid hugs the scene bounds.
type Grid struct {
	Min       mgl32.Vec3
	Extent    mgl32.Vec3
	VoxelSize mgl32.Vec3
	Count     uint32
}

// NewGrid pads the bounds by padding (relative, split over both sides) and divides them into count
// voxels per axis. Flat axes are widened to one voxel of the largest axis.
func NewGrid(minB, maxB mgl32.Vec3, count uint32, padding float32) Grid {
	ext := maxB.Sub(minB)
	centre := minB.Add(maxB).Mul(0.5)
	largest := max(ext[0], ext[1], ext[2], 1e-3)
	for k := 0; k < 3; k++ {
		ext[k] = max(ext[k], largest/float32(count))
	}
	ext = ext.Mul(1 + padding)
	g := Grid{
		Min:    centre.Sub(ext.Mul(0.5)),
		Extent: ext,
		Count:  count,
	}
	g.VoxelSize = ext.Mul(1 / float32(count))
	return g
}

func (g Grid) Max() mgl32.Vec3 { return g.Min.Add(g.Extent) }

func (g Grid) Centre() mgl32.Vec3 { return g.Min.Add(g.Extent.Mul(0.5)) }

func (g Grid) Cells() uint32 { return g.Count * g.Count * g.Count }

// Index is the flat cell index x + y*N + z*N^2.
func (g Grid) Index(x, y, z uint32) uint32 {
	return x + y*g.Count + z*g.Count*g.Count
}

func (g Grid) Coord(idx uint32) (x, y, z uint32) {
	n := g.Count
	return idx % n, (idx / n) % n, idx / (n * n)
}

// CellOf returns the cell containing p.
func (g Grid) CellOf(p mgl32.Vec3) (uint32, bool) {
	var c [3]uint32
	for k := 0; k < 3; k++ {
		f := math.Floor(float64((p[k] - g.Min[k]) / g.VoxelSize[k]))
		if f < 0 || f >= float64(g.Count) {
			return 0, false
		}
		c[k] = uint32(f)
	}
	return g.Index(c[0], c[1], c[2]), true
}

// CellBounds is the world box of cell (x, y, z).
func (g Grid) CellBounds(x, y, z uint32) (mgl32.Vec3, mgl32.Vec3) {
	lo := mgl32.Vec3{float32(x), float32(y), float32(z)}
	minB := g.Min.Add(mgl32.Vec3{lo[0] * g.VoxelSize[0], lo[1] * g.VoxelSize[1], lo[2] * g.VoxelSize[2]})
	return minB, minB.Add(g.VoxelSize)
}

// View is one axis-aligned orthographic projection of the grid. Its target has one pixel per voxel
// column, so every pixel centre lands on a voxel centre.
type View struct {
	Name     string
	Axis     int
	ViewProj mgl32.Mat4
}

var viewSetups = []struct {
	name string
	axis int
	up   mgl32.Vec3
}{
	{"front", 1, mgl32.Vec3{0, 0, 1}},
	{"left", 0, mgl32.Vec3{0, 0, 1}},
	{"bottom", 2, mgl32.Vec3{0, 1, 0}},
}

// Views returns the first n of the front, left and bottom views.
func (g Grid) Views(n int) []View {
	n = min(max(n, 1), len(viewSetups))
	c := g.Centre()
	out := make([]View, 0, n)
	for _, s := range viewSetups[:n] {
		var dir mgl32.Vec3
		dir[s.axis] = 1
		depth := g.Extent[s.axis]
		eye := c.Sub(dir.Mul(depth))
		view := mgl32.LookAtV(eye, c, s.up)

		// Half extents along the view's right and up axes.
		right := dir.Cross(s.up)
		hw := float32(math.Abs(float64(right.Dot(g.Extent)))) * 0.5
		hh := s.up.Dot(g.Extent) * 0.5
		proj := mgl32.Ortho(-hw, hw, -hh, hh, depth*0.5, depth*1.5)
		out = append(out, View{Name: s.name, Axis: s.axis, ViewProj: gpu.ClipToNDC.Mul4(proj).Mul4(view)})
	}
	return out
}
