package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type Vertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
}

// VertexStride is the pooled vertex layout: vec4 position, vec4 normal.
const VertexStride = 32

// Mesh is an indexed triangle list in object space.
type Mesh struct {
	Name     string
	Vertices []Vertex
	Indices  []uint32
}

func (m *Mesh) TriangleCount() int { return len(m.Indices) / 3 }

func (m *Mesh) Bounds() (mgl32.Vec3, mgl32.Vec3) {
	inf := float32(math.MaxFloat32)
	minB := mgl32.Vec3{inf, inf, inf}
	maxB := mgl32.Vec3{-inf, -inf, -inf}
	for _, v := range m.Vertices {
		for k := 0; k < 3; k++ {
			minB[k] = min(minB[k], v.Position[k])
			maxB[k] = max(maxB[k], v.Position[k])
		}
	}
	return minB, maxB
}

// Triangle returns the object-space corners of triangle t.
func (m *Mesh) Triangle(t int) [3]mgl32.Vec3 {
	return [3]mgl32.Vec3{
		m.Vertices[m.Indices[3*t]].Position,
		m.Vertices[m.Indices[3*t+1]].Position,
		m.Vertices[m.Indices[3*t+2]].Position,
	}
}

// NewBox builds an axis-aligned box with per-face normals.
func NewBox(name string, minB, maxB mgl32.Vec3) *Mesh {
	m := &Mesh{Name: name}
	type face struct {
		n    mgl32.Vec3
		quad [4]mgl32.Vec3
	}
	x0, y0, z0 := minB.X(), minB.Y(), minB.Z()
	x1, y1, z1 := maxB.X(), maxB.Y(), maxB.Z()
	faces := []face{
		{mgl32.Vec3{1, 0, 0}, [4]mgl32.Vec3{{x1, y0, z0}, {x1, y1, z0}, {x1, y1, z1}, {x1, y0, z1}}},
		{mgl32.Vec3{-1, 0, 0}, [4]mgl32.Vec3{{x0, y1, z0}, {x0, y0, z0}, {x0, y0, z1}, {x0, y1, z1}}},
		{mgl32.Vec3{0, 1, 0}, [4]mgl32.Vec3{{x1, y1, z0}, {x0, y1, z0}, {x0, y1, z1}, {x1, y1, z1}}},
		{mgl32.Vec3{0, -1, 0}, [4]mgl32.Vec3{{x0, y0, z0}, {x1, y0, z0}, {x1, y0, z1}, {x0, y0, z1}}},
		{mgl32.Vec3{0, 0, 1}, [4]mgl32.Vec3{{x0, y0, z1}, {x1, y0, z1}, {x1, y1, z1}, {x0, y1, z1}}},
		{mgl32.Vec3{0, 0, -1}, [4]mgl32.Vec3{{x0, y1, z0}, {x1, y1, z0}, {x1, y0, z0}, {x0, y0, z0}}},
	}
	for _, f := range faces {
		m.addQuad(f.quad, f.n)
	}
	return m
}

// NewCube is a unit cube centred at the origin.
func NewCube() *Mesh {
	return NewBox("cube", mgl32.Vec3{-0.5, -0.5, -0.5}, mgl32.Vec3{0.5, 0.5, 0.5})
}

// NewQuad is a w x h rectangle in the z=0 plane facing +Z.
func NewQuad(w, h float32) *Mesh {
	m := &Mesh{Name: "quad"}
	hw, hh := w/2, h/2
	m.addQuad([4]mgl32.Vec3{{-hw, -hh, 0}, {hw, -hh, 0}, {hw, hh, 0}, {-hw, hh, 0}}, mgl32.Vec3{0, 0, 1})
	return m
}

// NewSphere is a UV sphere of the given radius.
func NewSphere(radius float32, rings, segments int) *Mesh {
	m := &Mesh{Name: "sphere"}
	rings = max(rings, 2)
	segments = max(segments, 3)
	for r := 0; r <= rings; r++ {
		theta := math.Pi * float64(r) / float64(rings)
		for s := 0; s <= segments; s++ {
			phi := 2 * math.Pi * float64(s) / float64(segments)
			n := mgl32.Vec3{
				float32(math.Sin(theta) * math.Cos(phi)),
				float32(math.Sin(theta) * math.Sin(phi)),
				float32(math.Cos(theta)),
			}
			m.Vertices = append(m.Vertices, Vertex{Position: n.Mul(radius), Normal: n})
		}
	}
	stride := uint32(segments + 1)
	for r := uint32(0); r < uint32(rings); r++ {
		for s := uint32(0); s < uint32(segments); s++ {
			a := r*stride + s
			b := a + stride
			m.Indices = append(m.Indices, a, b, a+1, a+1, b, b+1)
		}
	}
	return m
}

func (m *Mesh) addQuad(q [4]mgl32.Vec3, n mgl32.Vec3) {
	base := uint32(len(m.Vertices))
	for _, p := range q {
		m.Vertices = append(m.Vertices, Vertex{Position: p, Normal: n})
	}
	m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
}

// MeshRange locates one mesh inside the pooled vertex and index buffers.
type MeshRange struct {
	FirstIndex   uint32
	IndexCount   uint32
	VertexOffset uint32
	VertexCount  uint32
}

// MeshPool concatenates every mesh into one vertex and one index array, the zero-copy views
// acceleration structures and draws reference by offset.
type MeshPool struct {
	Vertices []Vertex
	Indices  []uint32
	Ranges   []MeshRange
}

func NewMeshPool(meshes []*Mesh) *MeshPool {
	p := &MeshPool{}
	for _, m := range meshes {
		p.Ranges = append(p.Ranges, MeshRange{
			FirstIndex:   uint32(len(p.Indices)),
			IndexCount:   uint32(len(m.Indices)),
			VertexOffset: uint32(len(p.Vertices)),
			VertexCount:  uint32(len(m.Vertices)),
		})
		p.Vertices = append(p.Vertices, m.Vertices...)
		p.Indices = append(p.Indices, m.Indices...)
	}
	return p
}

func (p *MeshPool) VertexBytes() []byte {
	w := NewWriter(len(p.Vertices) * VertexStride)
	for _, v := range p.Vertices {
		w.Vec4(v.Position, 1).Vec4(v.Normal, 0)
	}
	return w.Bytes()
}

func (p *MeshPool) IndexBytes() []byte {
	w := NewWriter(len(p.Indices) * 4)
	for _, i := range p.Indices {
		w.U32(i)
	}
	return w.Bytes()
}
