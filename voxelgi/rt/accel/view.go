package accel

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/svopg/voxelgi/rt/bvh"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
)

// View traverses the packed acceleration buffer exactly like the WGSL trace functions do. Host
// kernels of the ray-tracing stages use it with their bound resources.
type View struct {
	Accel    gpu.HostResource
	Vertices gpu.HostResource
	Indices  gpu.HostResource
}

type Hit struct {
	T        float32
	Instance uint32
	Prim     uint32
	U, V     float32
	Position mgl32.Vec3
	// Normal is the interpolated shading normal and GeoNormal the face normal, both in world space
	// and flipped to face the incoming ray.
	Normal    mgl32.Vec3
	GeoNormal mgl32.Vec3
	// Front is true when the ray hit the side the triangle winding faces.
	Front    bool
	Material uint32
	Mesh     uint32
}

func (v View) hdr(i uint32) uint32 { return v.Accel.U32(i) }

func (v View) InstanceCount() uint32 { return v.hdr(HdrInstanceCount) }

type nodeRef struct {
	min, max             mgl32.Vec3
	left, right          int32
	leafFirst, leafCount int32
}

func (v View) node(word uint32) nodeRef {
	return nodeRef{
		min:       v.Accel.Vec3(word),
		max:       v.Accel.Vec3(word + 4),
		left:      int32(v.Accel.U32(word + 8)),
		right:     int32(v.Accel.U32(word + 9)),
		leafFirst: int32(v.Accel.U32(word + 10)),
		leafCount: int32(v.Accel.U32(word + 11)),
	}
}

// walk traverses one flattened BVH whose nodes start at nodeWord and whose leaf ranges index
// primWord.
func (v View) walk(nodeWord, primWord uint32, o, invD mgl32.Vec3, tMin, tMax float32,
	leaf func(prim uint32, tMax float32) (float32, bool, bool)) (float32, bool) {
	var stack [bvh.MaxStack]int32
	sp := 1
	found := false
	for sp > 0 {
		sp--
		n := v.node(nodeWord + uint32(stack[sp])*bvh.NodeWords)
		if _, ok := bvh.RayAABB(o, invD, n.min, n.max, tMin, tMax); !ok {
			continue
		}
		if n.leafCount > 0 {
			for k := int32(0); k < n.leafCount; k++ {
				prim := v.Accel.U32(primWord + uint32(n.leafFirst+k))
				d, hit, stop := leaf(prim, tMax)
				if hit && d >= tMin && d < tMax {
					tMax = d
					found = true
					if stop {
						return tMax, true
					}
				}
			}
			continue
		}
		if n.left < 0 || sp+2 > bvh.MaxStack {
			continue
		}
		stack[sp] = n.right
		stack[sp+1] = n.left
		sp += 2
	}
	return tMax, found
}

func (v View) triangle(inst, prim uint32) (idx [3]uint32) {
	info := v.hdr(HdrInfos) + inst*InfoWords
	first := v.Accel.U32(info + 2)
	voff := v.Accel.U32(info + 3)
	for k := uint32(0); k < 3; k++ {
		idx[k] = v.Indices.U32(first+3*prim+k) + voff
	}
	return idx
}

func (v View) position(vi uint32) mgl32.Vec3 { return v.Vertices.Vec3(vi * gpu.VertexWords) }

func (v View) normal(vi uint32) mgl32.Vec3 { return v.Vertices.Vec3(vi*gpu.VertexWords + 4) }

func (v View) inverse(inst uint32) [12]float32 {
	var m [12]float32
	base := v.hdr(HdrInverses) + inst*InverseWords
	for i := range m {
		m[i] = v.Accel.F32(base + uint32(i))
	}
	return m
}

func xformPoint(m [12]float32, p mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		m[0]*p[0] + m[1]*p[1] + m[2]*p[2] + m[3],
		m[4]*p[0] + m[5]*p[1] + m[6]*p[2] + m[7],
		m[8]*p[0] + m[9]*p[1] + m[10]*p[2] + m[11],
	}
}

func xformDir(m [12]float32, d mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		m[0]*d[0] + m[1]*d[1] + m[2]*d[2],
		m[4]*d[0] + m[5]*d[1] + m[6]*d[2],
		m[8]*d[0] + m[9]*d[1] + m[10]*d[2],
	}
}

// xformNormal multiplies by the transpose of the world-to-object matrix.
func xformNormal(m [12]float32, n mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		m[0]*n[0] + m[4]*n[1] + m[8]*n[2],
		m[1]*n[0] + m[5]*n[1] + m[9]*n[2],
		m[2]*n[0] + m[6]*n[1] + m[10]*n[2],
	}
}

type candidate struct {
	inst, prim uint32
	u, v       float32
}

func (v View) trace(o, d mgl32.Vec3, tMin, tMax float32, anyHit bool) (float32, candidate, bool) {
	var best candidate
	if v.InstanceCount() == 0 {
		return tMax, best, false
	}
	instWord := v.hdr(HdrInstances)
	blasNodes := v.hdr(HdrBLASNodes)
	blasPrims := v.hdr(HdrBLASPrims)

	t, ok := v.walk(v.hdr(HdrTLASNodes), v.hdr(HdrTLASPrims), o, bvh.SafeInverse(d), tMin, tMax,
		func(inst uint32, tMax float32) (float32, bool, bool) {
			rec := instWord + inst*RecordWords
			ref := BLASRef{NodeBase: v.Accel.U32(rec + 14), PrimBase: v.Accel.U32(rec + 15)}
			inv := v.inverse(inst)
			oo := xformPoint(inv, o)
			od := xformDir(inv, d)
			tt, hit := v.walk(blasNodes+ref.NodeBase*bvh.NodeWords, blasPrims+ref.PrimBase, oo, bvh.SafeInverse(od), tMin, tMax,
				func(prim uint32, tMax float32) (float32, bool, bool) {
					idx := v.triangle(inst, prim)
					tt, u, w, hit := bvh.RayTriangle(oo, od, v.position(idx[0]), v.position(idx[1]), v.position(idx[2]))
					if hit && tt >= tMin && tt < tMax {
						best = candidate{inst: inst, prim: prim, u: u, v: w}
						return tt, true, anyHit
					}
					return 0, false, false
				})
			return tt, hit, anyHit
		})
	return t, best, ok
}

// Closest returns the nearest hit in [tMin, tMax).
func (v View) Closest(o, d mgl32.Vec3, tMin, tMax float32) (Hit, bool) {
	t, c, ok := v.trace(o, d, tMin, tMax, false)
	if !ok {
		return Hit{}, false
	}
	idx := v.triangle(c.inst, c.prim)
	inv := v.inverse(c.inst)
	w := 1 - c.u - c.v
	ns := v.normal(idx[0]).Mul(w).Add(v.normal(idx[1]).Mul(c.u)).Add(v.normal(idx[2]).Mul(c.v))
	p0, p1, p2 := v.position(idx[0]), v.position(idx[1]), v.position(idx[2])
	ng := p1.Sub(p0).Cross(p2.Sub(p0))

	h := Hit{
		T:         t,
		Instance:  c.inst,
		Prim:      c.prim,
		U:         c.u,
		V:         c.v,
		Position:  o.Add(d.Mul(t)),
		Normal:    normalize(xformNormal(inv, ns)),
		GeoNormal: normalize(xformNormal(inv, ng)),
	}
	info := v.hdr(HdrInfos) + c.inst*InfoWords
	h.Material = v.Accel.U32(info)
	h.Mesh = v.Accel.U32(info + 1)
	h.Front = h.GeoNormal.Dot(d) < 0
	if !h.Front {
		h.GeoNormal = h.GeoNormal.Mul(-1)
	}
	if h.Normal.Dot(h.GeoNormal) < 0 {
		h.Normal = h.Normal.Mul(-1)
	}
	return h, true
}

// Occluded reports whether anything blocks the segment (tMin, tMax) along d.
func (v View) Occluded(o, d mgl32.Vec3, tMin, tMax float32) bool {
	_, _, ok := v.trace(o, d, tMin, tMax, true)
	return ok
}

func normalize(v mgl32.Vec3) mgl32.Vec3 {
	if l := v.Len(); l > 0 {
		return v.Mul(1 / l)
	}
	return mgl32.Vec3{0, 0, 1}
}

// RayTracingBindings is the number of leading bindings every ray-tracing kernel shares: the
// SceneInfo uniform, the acceleration buffer, the vertex and index pools, and the materials.
const RayTracingBindings = 5

// Bindings returns the shared ray-tracing binding prefix in WGSL declaration order.
func (m *Manager) Bindings(info, materials *gpu.Buffer) []gpu.Binding {
	return []gpu.Binding{
		gpu.Uniform(info),
		gpu.Read(m.Accel),
		gpu.Read(m.Vertices),
		gpu.Read(m.Indices),
		gpu.Read(materials),
	}
}

// BoundView is the host view over a kernel's shared ray-tracing bindings.
func BoundView(res []gpu.HostResource) View {
	return View{Accel: res[1], Vertices: res[2], Indices: res[3]}
}
