package bvh

import (
	"github.com/go-gl/mathgl/mgl32"
)

// MaxStack bounds the traversal stack. Median splits keep depth near log2(n).
const MaxStack = 64

// RayAABB is the slab test; it returns the entry distance and whether [tMin,tMax] overlaps the box.
func RayAABB(origin, invDir, minB, maxB mgl32.Vec3, tMin, tMax float32) (float32, bool) {
	for k := 0; k < 3; k++ {
		if minB[k] > maxB[k] {
			return 0, false
		}
		t0 := (minB[k] - origin[k]) * invDir[k]
		t1 := (maxB[k] - origin[k]) * invDir[k]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tMin = max(tMin, t0)
		tMax = min(tMax, t1)
		if tMin > tMax {
			return 0, false
		}
	}
	return tMin, true
}

// SafeInverse returns 1/d per component, replacing zero components with a large finite value.
func SafeInverse(d mgl32.Vec3) mgl32.Vec3 {
	var inv mgl32.Vec3
	for k := 0; k < 3; k++ {
		if d[k] == 0 {
			inv[k] = 1e30
		} else {
			inv[k] = 1 / d[k]
		}
	}
	return inv
}

// LeafFunc tests one primitive against the ray and returns its hit distance. Returning stop ends
// the traversal (any-hit queries).
type LeafFunc func(prim int32, tMax float32) (t float32, hit bool, stop bool)

// Traverse walks the tree depth first and returns the closest accepted distance.
func (t *BVH) Traverse(origin, dir mgl32.Vec3, tMin, tMax float32, leaf LeafFunc) (float32, bool) {
	if len(t.Nodes) == 0 {
		return tMax, false
	}
	invDir := SafeInverse(dir)
	var stack [MaxStack]int32
	sp := 0
	stack[sp] = 0
	sp++
	found := false
	for sp > 0 {
		sp--
		n := &t.Nodes[stack[sp]]
		if _, ok := RayAABB(origin, invDir, n.Min, n.Max, tMin, tMax); !ok {
			continue
		}
		if n.IsLeaf() {
			for _, p := range t.Prims[n.LeafFirst : n.LeafFirst+n.LeafCount] {
				d, hit, stop := leaf(p, tMax)
				if hit && d < tMax && d >= tMin {
					tMax = d
					found = true
				}
				if stop && hit {
					return tMax, true
				}
			}
			continue
		}
		if n.Left < 0 || sp+2 > MaxStack {
			continue
		}
		stack[sp] = n.Right
		stack[sp+1] = n.Left
		sp += 2
	}
	return tMax, found
}

// RayTriangle is the Moller-Trumbore test without backface culling. It returns the distance and
// the barycentrics (u, v) of the hit.
func RayTriangle(origin, dir, a, b, c mgl32.Vec3) (float32, float32, float32, bool) {
	const eps = 1e-8
	e1 := b.Sub(a)
	e2 := c.Sub(a)
	p := dir.Cross(e2)
	det := e1.Dot(p)
	if det > -eps && det < eps {
		return 0, 0, 0, false
	}
	inv := 1 / det
	s := origin.Sub(a)
	u := s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, 0, 0, false
	}
	q := s.Cross(e1)
	v := dir.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, 0, 0, false
	}
	return e2.Dot(q) * inv, u, v, true
}
