package octree

import (
	"github.com/go-gl/mathgl/mgl32"

	svopg "github.com/gekko3d/svopg"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
	"github.com/gekko3d/svopg/voxelgi/rt/shaders"
	"github.com/gekko3d/svopg/voxelgi/rt/voxelize"
)

// Push is shared by the three octree kernels; each reads the fields it needs.
type Push struct {
	Count    uint32
	MaxDepth uint32
	// Depth is the child level for reductions and the level being labelled for label passes.
	Depth   uint32
	Cluster bool

	GridMin    mgl32.Vec3
	VoxelSize  mgl32.Vec3
	EntropyMin float32
	EntropyMax float32
	Ratio      float32
}

func (p Push) Bytes() []byte {
	var cluster uint32
	if p.Cluster {
		cluster = 1
	}
	b := gpu.NewPush().U32(p.Count).U32(p.MaxDepth).U32(p.Depth).U32(cluster)
	b.Vec3(p.GridMin, p.EntropyMin).Vec3(p.VoxelSize, p.EntropyMax)
	b.F32(p.Ratio).U32(0).U32(0).U32(0)
	return b.Bytes()
}

func ReadPush(b []byte) Push {
	r := gpu.NewPushReader(b)
	p := Push{Count: r.U32(), MaxDepth: r.U32(), Depth: r.U32(), Cluster: r.U32() != 0}
	p.GridMin = mgl32.Vec3{r.F32(), r.F32(), r.F32()}
	p.EntropyMin = r.F32()
	p.VoxelSize = mgl32.Vec3{r.F32(), r.F32(), r.F32()}
	p.EntropyMax = r.F32()
	p.Ratio = r.F32()
	return p
}

func (p Push) params() Params {
	return Params{
		MaxDepth:        int(p.MaxDepth),
		EntropyMin:      p.EntropyMin,
		EntropyMax:      p.EntropyMax,
		IrradianceRatio: p.Ratio,
	}
}

var octreeWGSL = shaders.Kernel(shaders.OctreeWGSL)

// LeafKernel writes the leaf level of both trees from the VGB, one invocation per voxel.
var LeafKernel = &gpu.Kernel{
	Name:          "octree_leaf",
	WGSL:          octreeWGSL,
	Entry:         "octree_leaf",
	WorkgroupSize: svopg.WorkgroupSize,
	Host: func(push []byte, res []gpu.HostResource) func(uint32) {
		p := ReadPush(push)
		g, e, vgb := res[0], res[1], res[2]
		grid := voxelize.Grid{Min: p.GridMin, VoxelSize: p.VoxelSize, Count: p.Count}
		d := int(p.MaxDepth)
		cells := grid.Cells()
		return func(id uint32) {
			if id >= cells {
				return
			}
			x, y, z := grid.Coord(id)
			m := Morton(x, y, z)
			c := voxelize.LoadCell(vgb, id)
			n := emptyNode(d, m)
			if !c.Empty() {
				n.Min, n.Max = grid.CellBounds(x, y, z)
				n.Weight = 1
				n.Normal = c.Normal
				n.NotIgnore = 1
				n.Flags = FlagOccupied
			}
			n.store(g, d, m)
			if !c.Empty() {
				n.Irradiance = c.Irradiance
			}
			n.store(e, d, m)
		}
	},
}

// ReduceKernel writes level Depth-1 of both trees from level Depth. With Cluster set, nodes that
// pass the similarity test are also flagged as cluster candidates.
var ReduceKernel = &gpu.Kernel{
	Name:          "octree_reduce",
	WGSL:          octreeWGSL,
	Entry:         "octree_reduce",
	WorkgroupSize: svopg.WorkgroupSize,
	Host: func(push []byte, res []gpu.HostResource) func(uint32) {
		p := ReadPush(push)
		params := p.params()
		d := int(p.Depth) - 1
		size := LevelSize(d)
		trees := [2]gpu.HostResource{res[0], res[1]}
		return func(id uint32) {
			if id >= size || d < 0 {
				return
			}
			first, _ := ChildRange(d, id)
			for t, r := range trees {
				var children [8]Node
				for c := range children {
					children[c] = LoadNode(r, d+1, first+uint32(c))
				}
				n := Reduce(&children, d, id, t == 1, params)
				if p.Cluster && n.Occupied() && !n.Indivisible() {
					n.Flags |= FlagCluster
				}
				n.store(r, d, id)
			}
		}
	},
}

// LabelKernel resolves cluster labels on level Depth, top-down: a node inherits its parent's label,
// otherwise a cluster candidate starts its own cluster.
var LabelKernel = &gpu.Kernel{
	Name:          "octree_label",
	WGSL:          octreeWGSL,
	Entry:         "octree_label",
	WorkgroupSize: svopg.WorkgroupSize,
	Host: func(push []byte, res []gpu.HostResource) func(uint32) {
		p := ReadPush(push)
		d := int(p.Depth)
		size := LevelSize(d)
		trees := [2]gpu.HostResource{res[0], res[1]}
		return func(id uint32) {
			if id >= size {
				return
			}
			for _, r := range trees {
				base := GlobalID(d, id) * NodeWords
				var label uint32
				if d > 0 {
					label = r.U32(GlobalID(d-1, id/8)*NodeWords + NodeLabel)
				}
				if label == 0 && r.U32(base+NodeFlags)&FlagCluster != 0 {
					label = Label(d, id)
				}
				r.StoreU32(base+NodeLabel, label)
			}
		}
	},
}
