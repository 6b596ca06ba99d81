package gpu

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/go-gl/mathgl/mgl32"
)

// VertexWords is the pooled vertex stride in words: vec4 position, vec4 normal.
const VertexWords = 8

type screenVertex struct {
	x, y, z float32
	invW    float32
	vary    [8]float32
}

func (d *HostDevice) draw(cmd *DrawCmd) error {
	p := cmd.Pipeline
	if p.HostVertex == nil || p.HostFragment == nil {
		return fmt.Errorf("pipeline %s has no host implementation", p.Name)
	}
	if cmd.Target == nil || cmd.Vertices == nil || cmd.Indices == nil {
		return fmt.Errorf("draw %s: target, vertices and indices are required", p.Name)
	}
	if cmd.IndexCount%3 != 0 {
		return fmt.Errorf("draw %s: index count %d is not a triangle list", p.Name, cmd.IndexCount)
	}
	res, err := bindResources(cmd.Bindings)
	if err != nil {
		return err
	}
	vs := p.HostVertex(cmd.Push, res)
	fs := p.HostFragment(cmd.Push, res)
	verts := HostResource{Words: cmd.Vertices.words}
	idx := HostResource{Words: cmd.Indices.words}
	w, h := float32(cmd.Target.Width), float32(cmd.Target.Height)

	fetch := func(i uint32) (screenVertex, error) {
		vi := idx.U32(cmd.FirstIndex+i) + cmd.BaseVertex
		base := vi * VertexWords
		if base+VertexWords > verts.Len() {
			return screenVertex{}, fmt.Errorf("vertex %d outside the vertex pool", vi)
		}
		out := vs(VertexIn{
			Position: [3]float32{verts.F32(base), verts.F32(base + 1), verts.F32(base + 2)},
			Normal:   [3]float32{verts.F32(base + 4), verts.F32(base + 5), verts.F32(base + 6)},
			Index:    vi,
		})
		cw := out.Clip[3]
		if cw == 0 {
			cw = 1
		}
		sv := screenVertex{
			// NDC y points up; framebuffer rows grow downwards.
			x:    (out.Clip[0]/cw*0.5 + 0.5) * w,
			y:    (0.5 - out.Clip[1]/cw*0.5) * h,
			z:    out.Clip[2] / cw,
			invW: 1 / cw,
		}
		for k := range sv.vary {
			sv.vary[k] = out.Varyings[k] * sv.invW
		}
		return sv, nil
	}

	tris := cmd.IndexCount / 3
	var g errgroup.Group
	g.SetLimit(d.workers)
	var fetchErr error
	for t := uint32(0); t < tris && fetchErr == nil; t++ {
		var tri [3]screenVertex
		for k := range tri {
			if tri[k], fetchErr = fetch(t*3 + uint32(k)); fetchErr != nil {
				break
			}
		}
		if fetchErr != nil {
			break
		}
		g.Go(func() error {
			rasterTriangle(tri[0], tri[1], tri[2], cmd.Target.Width, cmd.Target.Height, fs)
			return nil
		})
	}
	// Triangles already handed out keep writing until Wait returns.
	if err := g.Wait(); err != nil {
		return err
	}
	if fetchErr != nil {
		return fetchErr
	}
	d.mu.Lock()
	d.stats.Draws++
	d.stats.Triangles += int(tris)
	d.mu.Unlock()
	return nil
}

func edge(a, b screenVertex, px, py float32) float32 {
	return (b.x-a.x)*(py-a.y) - (b.y-a.y)*(px-a.x)
}

// ownsEdge breaks ties for pixel centres lying exactly on an edge. A shared edge appears with
// opposite directions in its two triangles once both are wound the same way, so exactly one of
// them claims it.
func ownsEdge(a, b screenVertex) bool {
	dy := b.y - a.y
	return dy > 0 || (dy == 0 && b.x < a.x)
}

// rasterTriangle samples pixel centres. Triangles of either winding are drawn; degenerate ones
// produce no fragments. Fragments outside the [0,1] depth range are clipped.
func rasterTriangle(a, b, c screenVertex, width, height uint32, fs func(Fragment)) {
	area := edge(a, b, c.x, c.y)
	if area == 0 || math.IsNaN(float64(area)) {
		return
	}
	if area < 0 {
		b, c = c, b
		area = -area
	}
	minX := max(0, int(math.Floor(float64(min(a.x, b.x, c.x)))))
	maxX := min(int(width)-1, int(math.Ceil(float64(max(a.x, b.x, c.x)))))
	minY := max(0, int(math.Floor(float64(min(a.y, b.y, c.y)))))
	maxY := min(int(height)-1, int(math.Ceil(float64(max(a.y, b.y, c.y)))))
	ownBC, ownCA, ownAB := ownsEdge(b, c), ownsEdge(c, a), ownsEdge(a, b)

	for py := minY; py <= maxY; py++ {
		fy := float32(py) + 0.5
		for px := minX; px <= maxX; px++ {
			fx := float32(px) + 0.5
			w0 := edge(b, c, fx, fy)
			w1 := edge(c, a, fx, fy)
			w2 := edge(a, b, fx, fy)
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			if (w0 == 0 && !ownBC) || (w1 == 0 && !ownCA) || (w2 == 0 && !ownAB) {
				continue
			}
			l0, l1, l2 := w0/area, w1/area, w2/area
			z := l0*a.z + l1*b.z + l2*c.z
			if z < 0 || z > 1 {
				continue
			}
			invW := l0*a.invW + l1*b.invW + l2*c.invW
			f := Fragment{X: fx, Y: fy, Depth: z}
			for k := range f.Varyings {
				f.Varyings[k] = (l0*a.vary[k] + l1*b.vary[k] + l2*c.vary[k]) / invW
			}
			fs(f)
		}
	}
}

// ClipToNDC is the GL-to-WebGPU depth remap applied after mgl32 projection matrices, whose clip
// depth range is [-1,1].
var ClipToNDC = mgl32.Mat4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 0.5, 0,
	0, 0, 0.5, 1,
}
