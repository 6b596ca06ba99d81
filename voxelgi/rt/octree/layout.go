package octree

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
)

// Each tree is one buffer holding every level back to back, root first. Level d starts at node
// LevelOffset(d) and has 8^d nodes; node (d, i) aggregates (d+1, 8i..8i+7). The leaf level is
// stored in Morton order so the same rule holds between the last two levels.
//
// Node layout, NodeWords 32-bit words:
//
//	0  min (xyz), weight: occupied leaves below the node
//	4  max (xyz), child mask (u32)
//	8  mean unit normal (xyz), normal dispersion
//	12 mean irradiance (rgb, E tree only), not-ignore ratio
//	16 flags, cluster label, depth, index in level (u32)
const (
	NodeWords = 20
	NodeSize  = NodeWords * 4

	NodeMin        = 0
	NodeWeight     = 3
	NodeMax        = 4
	NodeChildMask  = 7
	NodeNormal     = 8
	NodeDispersion = 11
	NodeIrradiance = 12
	NodeNotIgnore  = 15
	NodeFlags      = 16
	NodeLabel      = 17
	NodeDepth      = 18
	NodeIndex      = 19
)

// Node flags.
const (
	FlagOccupied uint32 = 1 << iota
	FlagIndivisible
	FlagCluster
)

// LevelOffset is the first node of level d: (8^d - 1) / 7.
func LevelOffset(d int) uint32 {
	return (uint32(1)<<(3*uint(d)) - 1) / 7
}

func LevelSize(d int) uint32 { return uint32(1) << (3 * uint(d)) }

// NodeCount is the total node count of a tree with leaves at level maxDepth.
func NodeCount(maxDepth int) uint32 { return LevelOffset(maxDepth + 1) }

// ChildRange returns the half-open index range [first, last) of the children of (level, index) on
// level+1. The range does not depend on the level; it is passed for readability at call sites.
func ChildRange(level int, index uint32) (uint32, uint32) {
	return 8 * index, 8*index + 8
}

// GlobalID is the position of (d, i) in the tree buffer.
func GlobalID(d int, i uint32) uint32 { return LevelOffset(d) + i }

// Label is the cluster label a node rooting a cluster gives itself. Zero means no cluster.
func Label(d int, i uint32) uint32 { return GlobalID(d, i) + 1 }

func part1By2(v uint32) uint32 {
	v &= 0x3ff
	v = (v | v<<16) & 0x030000ff
	v = (v | v<<8) & 0x0300f00f
	v = (v | v<<4) & 0x030c30c3
	v = (v | v<<2) & 0x09249249
	return v
}

func compact1By2(v uint32) uint32 {
	v &= 0x09249249
	v = (v | v>>2) & 0x030c30c3
	v = (v | v>>4) & 0x0300f00f
	v = (v | v>>8) & 0x030000ff
	v = (v | v>>16) & 0x3ff
	return v
}

// Morton interleaves x, y and z with x in the lowest bit, so child c of a node sits at offset
// c = x&1 | (y&1)<<1 | (z&1)<<2.
func Morton(x, y, z uint32) uint32 {
	return part1By2(x) | part1By2(y)<<1 | part1By2(z)<<2
}

func DecodeMorton(m uint32) (x, y, z uint32) {
	return compact1By2(m), compact1By2(m >> 1), compact1By2(m >> 2)
}

// Node is a decoded tree node.
type Node struct {
	Min        mgl32.Vec3
	Max        mgl32.Vec3
	Weight     float32
	ChildMask  uint32
	Normal     mgl32.Vec3
	Dispersion float32
	Irradiance mgl32.Vec3
	NotIgnore  float32
	Flags      uint32
	Label      uint32
	Depth      uint32
	Index      uint32
}

func emptyNode(d int, i uint32) Node {
	inf := float32(math.MaxFloat32)
	return Node{
		Min:   mgl32.Vec3{inf, inf, inf},
		Max:   mgl32.Vec3{-inf, -inf, -inf},
		Depth: uint32(d),
		Index: i,
	}
}

func (n Node) Occupied() bool    { return n.Flags&FlagOccupied != 0 }
func (n Node) Indivisible() bool { return n.Flags&FlagIndivisible != 0 }
func (n Node) Cluster() bool     { return n.Flags&FlagCluster != 0 }

// ClusterRoot reports whether the node heads its own cluster.
func (n Node) ClusterRoot() bool {
	return n.Label != 0 && n.Label == Label(int(n.Depth), n.Index)
}

// Bounds is the node's bounding sphere.
func (n Node) Bounds() (mgl32.Vec3, float32) {
	c := n.Min.Add(n.Max).Mul(0.5)
	return c, n.Max.Sub(n.Min).Len() * 0.5
}

func LoadNode(r gpu.HostResource, d int, i uint32) Node {
	base := GlobalID(d, i) * NodeWords
	return Node{
		Min:        r.Vec3(base + NodeMin),
		Weight:     r.F32(base + NodeWeight),
		Max:        r.Vec3(base + NodeMax),
		ChildMask:  r.U32(base + NodeChildMask),
		Normal:     r.Vec3(base + NodeNormal),
		Dispersion: r.F32(base + NodeDispersion),
		Irradiance: r.Vec3(base + NodeIrradiance),
		NotIgnore:  r.F32(base + NodeNotIgnore),
		Flags:      r.U32(base + NodeFlags),
		Label:      r.U32(base + NodeLabel),
		Depth:      r.U32(base + NodeDepth),
		Index:      r.U32(base + NodeIndex),
	}
}

func (n Node) store(r gpu.HostResource, d int, i uint32) {
	base := GlobalID(d, i) * NodeWords
	r.StoreVec3(base+NodeMin, n.Min)
	r.StoreF32(base+NodeWeight, n.Weight)
	r.StoreVec3(base+NodeMax, n.Max)
	r.StoreU32(base+NodeChildMask, n.ChildMask)
	r.StoreVec3(base+NodeNormal, n.Normal)
	r.StoreF32(base+NodeDispersion, n.Dispersion)
	r.StoreVec3(base+NodeIrradiance, n.Irradiance)
	r.StoreF32(base+NodeNotIgnore, n.NotIgnore)
	r.StoreU32(base+NodeFlags, n.Flags)
	r.StoreU32(base+NodeLabel, n.Label)
	r.StoreU32(base+NodeDepth, uint32(d))
	r.StoreU32(base+NodeIndex, i)
}

// DecodeLevel decodes level d of a tree read back from the device.
func DecodeLevel(raw []byte, d int) []Node {
	r := gpu.HostResource{Words: gpu.BytesToWords(raw)}
	out := make([]Node, LevelSize(d))
	for i := range out {
		out[i] = LoadNode(r, d, uint32(i))
	}
	return out
}
