package guide

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
	"github.com/gekko3d/svopg/voxelgi/rt/octree"
	"github.com/gekko3d/svopg/voxelgi/rt/shading"
)

// Distribution is the guiding density over directions at a shading point, derived from the E and G
// octrees. Sampling descends the E tree from the root, picking children by their estimated
// contribution, until it reaches a node whose aggregate may stand in for its subtree; the direction
// is then drawn uniformly from the cone that node's bounding sphere subtends.
type Distribution struct {
	E, G            gpu.HostResource
	MaxDepth        int
	ClusteringLevel int
}

// terminal reports whether descent stops at n: cluster roots on the clustering levels, mergeable
// nodes below them, and leaves.
func (t Distribution) terminal(n octree.Node) bool {
	d := int(n.Depth)
	switch {
	case d >= t.MaxDepth:
		return true
	case d <= t.ClusteringLevel:
		return n.ClusterRoot()
	default:
		return !n.Indivisible()
	}
}

// weight estimates the light node (d, i) sends towards p.
func (t Distribution) weight(p mgl32.Vec3, e octree.Node, d int, i uint32) float32 {
	if !e.Occupied() {
		return 0
	}
	c, r := e.Bounds()
	to := c.Sub(p)
	dist2 := max(to.Dot(to), r*r, 1e-8)
	facing := float32(1)
	if l := to.Len(); l > 0 {
		n := t.G.Vec3(octree.GlobalID(d, i)*octree.NodeWords + octree.NodeNormal)
		facing = 0.25 + 0.75*max(0, -n.Dot(to.Mul(1/l)))
	}
	return shading.Luminance(e.Irradiance) * e.Weight * facing / dist2
}

func (t Distribution) children(p mgl32.Vec3, d int, i uint32) (nodes [8]octree.Node, w [8]float32, total float32) {
	first, _ := octree.ChildRange(d, i)
	for c := range nodes {
		nodes[c] = octree.LoadNode(t.E, d+1, first+uint32(c))
		w[c] = t.weight(p, nodes[c], d+1, first+uint32(c))
		total += w[c]
	}
	return nodes, w, total
}

func lit(n octree.Node) bool {
	return n.Occupied() && shading.Luminance(n.Irradiance) > 0
}

// Available reports whether any light was cached at all; when it is false the guide cannot sample.
func (t Distribution) Available() bool {
	return lit(octree.LoadNode(t.E, 0, 0))
}

// Sample draws a guided direction from p. ok is false when no node carries energy towards p.
func (t Distribution) Sample(p mgl32.Vec3, s shading.Sampler) (mgl32.Vec3, bool) {
	n := octree.LoadNode(t.E, 0, 0)
	if !lit(n) {
		return mgl32.Vec3{}, false
	}
	d, i := 0, uint32(0)
	for !t.terminal(n) {
		nodes, w, total := t.children(p, d, i)
		if total <= 0 {
			return mgl32.Vec3{}, false
		}
		u := s.Float32() * total
		pick := -1
		for c := range w {
			if w[c] <= 0 {
				continue
			}
			pick = c
			if u < w[c] {
				break
			}
			u -= w[c]
		}
		first, _ := octree.ChildRange(d, i)
		d, i, n = d+1, first+uint32(pick), nodes[pick]
	}
	c, r := n.Bounds()
	axis, cosMax := shading.SphereCone(p, c, r)
	return shading.UniformCone(axis, cosMax, s.Float32(), s.Float32()), true
}

// Pdf is the solid-angle density Sample draws dir from p with.
func (t Distribution) Pdf(p, dir mgl32.Vec3) float32 {
	root := octree.LoadNode(t.E, 0, 0)
	if !lit(root) {
		return 0
	}
	return t.pdf(p, dir, root, 0, 0, 1)
}

func (t Distribution) pdf(p, dir mgl32.Vec3, n octree.Node, d int, i uint32, prob float32) float32 {
	c, r := n.Bounds()
	if t.terminal(n) {
		axis, cosMax := shading.SphereCone(p, c, r)
		if dir.Dot(axis) < cosMax {
			return 0
		}
		return prob * shading.ConePdf(cosMax)
	}
	// Every descendant's sphere lies inside the ball of twice the radius.
	if axis, cosMax := shading.SphereCone(p, c, 2*r); dir.Dot(axis) < cosMax {
		return 0
	}
	nodes, w, total := t.children(p, d, i)
	if total <= 0 {
		return 0
	}
	first, _ := octree.ChildRange(d, i)
	var sum float32
	for k := range nodes {
		if w[k] > 0 {
			sum += t.pdf(p, dir, nodes[k], d+1, first+uint32(k), prob*w[k]/total)
		}
	}
	return sum
}

// Mixture is the one-sample MIS density of choosing the guide with probability a and the BSDF
// otherwise.
func Mixture(a, guidePdf, bsdfPdf float32) float32 {
	return a*guidePdf + (1-a)*bsdfPdf
}
