package bvh

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

// NodeSize is the byte size of an encoded node: min and max as vec4<f32>, then left, right,
// leaf_first and leaf_count as i32, padded to 64 bytes.
const NodeSize = 64

// NodeWords is NodeSize in 32-bit words.
const NodeWords = NodeSize / 4

type Node struct {
	Min       mgl32.Vec3
	Max       mgl32.Vec3
	Left      int32
	Right     int32
	LeafFirst int32
	LeafCount int32
}

func (n *Node) IsLeaf() bool { return n.LeafCount > 0 }

// AppendTo appends the encoded node to buf.
func (n *Node) AppendTo(buf []byte) []byte {
	var words [NodeWords]uint32
	for k := 0; k < 3; k++ {
		words[k] = math.Float32bits(n.Min[k])
		words[4+k] = math.Float32bits(n.Max[k])
	}
	words[8], words[9] = uint32(n.Left), uint32(n.Right)
	words[10], words[11] = uint32(n.LeafFirst), uint32(n.LeafCount)
	for _, w := range words {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	return buf
}

type item struct {
	bounds   [2]mgl32.Vec3
	centroid mgl32.Vec3
	index    int
}

// BVH is a flattened tree in depth-first order: a parent always precedes its children. Leaves
// reference the contiguous range Prims[LeafFirst : LeafFirst+LeafCount] of primitive indices.
type BVH struct {
	Nodes []Node
	Prims []int32
}

// Builder is a median-split builder. TLAS builds use MaxLeafSize 1, BLAS builds a few triangles.
type Builder struct {
	MaxLeafSize int
}

func (b *Builder) Build(aabbs [][2]mgl32.Vec3) *BVH {
	t := &BVH{}
	if len(aabbs) == 0 {
		t.Nodes = []Node{emptyNode()}
		return t
	}
	items := make([]item, len(aabbs))
	for i, bb := range aabbs {
		items[i] = item{bounds: bb, centroid: bb[0].Add(bb[1]).Mul(0.5), index: i}
	}
	b.split(items, t)
	return t
}

func emptyNode() Node {
	// Inverted bounds never intersect a ray.
	inf := float32(math.MaxFloat32)
	return Node{Min: mgl32.Vec3{inf, inf, inf}, Max: mgl32.Vec3{-inf, -inf, -inf}, Left: -1, Right: -1, LeafFirst: -1}
}

// split appends the subtree over items in depth-first order and returns its root index.
func (b *Builder) split(items []item, t *BVH) int32 {
	idx := int32(len(t.Nodes))
	minB, maxB := union(len(items), func(i int) [2]mgl32.Vec3 { return items[i].bounds })
	t.Nodes = append(t.Nodes, Node{Min: minB, Max: maxB, Left: -1, Right: -1, LeafFirst: -1})

	if len(items) <= max(b.MaxLeafSize, 1) {
		t.Nodes[idx].LeafFirst = int32(len(t.Prims))
		t.Nodes[idx].LeafCount = int32(len(items))
		for _, it := range items {
			t.Prims = append(t.Prims, int32(it.index))
		}
		return idx
	}

	extent := maxB.Sub(minB)
	axis := 0
	if extent.Y() > extent.X() {
		axis = 1
	}
	if extent.Z() > extent[axis] {
		axis = 2
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].centroid[axis] < items[j].centroid[axis]
	})

	mid := len(items) / 2
	left := b.split(items[:mid], t)
	right := b.split(items[mid:], t)
	t.Nodes[idx].Left, t.Nodes[idx].Right = left, right
	return idx
}

// union bounds the n boxes returned by at.
func union(n int, at func(int) [2]mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	inf := float32(math.Inf(1))
	minB, maxB := mgl32.Vec3{inf, inf, inf}, mgl32.Vec3{-inf, -inf, -inf}
	for i := 0; i < n; i++ {
		bb := at(i)
		for k := 0; k < 3; k++ {
			minB[k] = min(minB[k], bb[0][k])
			maxB[k] = max(maxB[k], bb[1][k])
		}
	}
	return minB, maxB
}

// Refit recomputes every node's bounds from new primitive AABBs without changing the topology.
// aabbs is indexed like the slice the tree was built from.
func (t *BVH) Refit(aabbs [][2]mgl32.Vec3) {
	for i := len(t.Nodes) - 1; i >= 0; i-- {
		n := &t.Nodes[i]
		switch {
		case n.IsLeaf():
			prims := t.Prims[n.LeafFirst : n.LeafFirst+n.LeafCount]
			n.Min, n.Max = union(len(prims), func(i int) [2]mgl32.Vec3 { return aabbs[prims[i]] })
		case n.Left >= 0:
			l, r := t.Nodes[n.Left], t.Nodes[n.Right]
			for k := 0; k < 3; k++ {
				n.Min[k] = min(l.Min[k], r.Min[k])
				n.Max[k] = max(l.Max[k], r.Max[k])
			}
		}
	}
}

func (t *BVH) Bytes() []byte {
	out := make([]byte, 0, len(t.Nodes)*NodeSize)
	for i := range t.Nodes {
		out = t.Nodes[i].AppendTo(out)
	}
	return out
}
