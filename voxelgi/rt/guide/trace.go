package guide

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	svopg "github.com/gekko3d/svopg"
	"github.com/gekko3d/svopg/voxelgi/rt/accel"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
	"github.com/gekko3d/svopg/voxelgi/rt/octree"
	"github.com/gekko3d/svopg/voxelgi/rt/shaders"
	"github.com/gekko3d/svopg/voxelgi/rt/shading"
	"github.com/gekko3d/svopg/voxelgi/rt/voxelize"
)

// Trace push flags.
const (
	FlagNEE uint32 = 1 << iota
	FlagGuide
)

const saltTrace = 0x2c9277b5

// PixelWords is the accumulator stride: mean radiance (rgb) and the sample count.
const PixelWords = 4

// Trace binding slots after the shared ray-tracing prefix.
const (
	bindE = accel.RayTracingBindings + iota
	bindG
	bindAccum
	bindSecondary
)

// TraceKernel is the path-guided tracer: one path per pixel, accumulated into a running mean.
var TraceKernel = &gpu.Kernel{
	Name:          "trace",
	WGSL:          shaders.RayTracing(shaders.TraceWGSL),
	Entry:         "trace",
	WorkgroupSize: svopg.WorkgroupSize,
	Host:          hostTrace,
}

// TracePush is the trace push-constant block.
type TracePush struct {
	Width, Height uint32
	// Frame is the accumulation index; Seed decorrelates frames and never resets.
	Frame           uint32
	Seed            uint32
	Bounces         uint32
	Flags           uint32
	TreeDepth       uint32
	ClusteringLevel uint32
	Grid            voxelize.Grid
	GuideProb       float32
}

func (p TracePush) Bytes() []byte {
	b := gpu.NewPush()
	b.U32(p.Width).U32(p.Height).U32(p.Frame).U32(p.Seed)
	b.U32(p.Bounces).U32(p.Flags).U32(p.TreeDepth).U32(p.ClusteringLevel)
	b.Vec3(p.Grid.VoxelSize, 0)
	b.F32(p.Grid.Min[0]).F32(p.Grid.Min[1]).F32(p.Grid.Min[2]).U32(p.Grid.Count)
	b.F32(p.GuideProb).U32(0).U32(0).U32(0)
	return b.Bytes()
}

func ReadTracePush(b []byte) TracePush {
	r := gpu.NewPushReader(b)
	p := TracePush{Width: r.U32(), Height: r.U32(), Frame: r.U32(), Seed: r.U32()}
	p.Bounces, p.Flags, p.TreeDepth, p.ClusteringLevel = r.U32(), r.U32(), r.U32(), r.U32()
	p.Grid.VoxelSize = r.Vec3()
	p.Grid.Min = mgl32.Vec3{r.F32(), r.F32(), r.F32()}
	p.Grid.Count = r.U32()
	p.Grid.Extent = p.Grid.VoxelSize.Mul(float32(p.Grid.Count))
	p.GuideProb = r.F32()
	return p
}

// cachedIrradiance looks up the E-tree leaf containing p.
func cachedIrradiance(e gpu.HostResource, grid voxelize.Grid, depth int, p mgl32.Vec3) mgl32.Vec3 {
	idx, ok := grid.CellOf(p)
	if !ok {
		return mgl32.Vec3{}
	}
	x, y, z := grid.Coord(idx)
	base := octree.GlobalID(depth, octree.Morton(x, y, z)) * octree.NodeWords
	if e.U32(base+octree.NodeFlags)&octree.FlagOccupied == 0 {
		return mgl32.Vec3{}
	}
	return e.Vec3(base + octree.NodeIrradiance)
}

func finite(v mgl32.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(float64(c)) || math.IsInf(float64(c), 0) {
			return false
		}
	}
	return true
}

// accumulate folds v into the running mean of pixel id; frame 0 overwrites.
func accumulate(r gpu.HostResource, id, frame uint32, v mgl32.Vec3) {
	base := id * PixelWords
	if frame > 0 {
		k := float32(frame)
		v = r.Vec3(base).Mul(k / (k + 1)).Add(v.Mul(1 / (k + 1)))
	}
	r.StoreVec3(base, v)
	r.StoreF32(base+3, float32(frame+1))
}

func cameraRay(info shading.SceneInfo, px, py uint32, w, h uint32, jx, jy float32) (mgl32.Vec3, mgl32.Vec3) {
	x := (float32(px)+jx)/float32(w)*2 - 1
	y := 1 - (float32(py)+jy)/float32(h)*2
	target := info.InvProj().Mul4x1(mgl32.Vec4{x, y, 1, 1})
	local := target.Vec3().Mul(1 / target.W()).Normalize()
	dir := info.InvView().Mul4x1(local.Vec4(0)).Vec3().Normalize()
	return info.CamPos(), dir
}

func hostTrace(push []byte, res []gpu.HostResource) func(uint32) {
	p := ReadTracePush(push)
	info := shading.SceneInfo{HostResource: res[0]}
	view := accel.BoundView(res)
	mats := res[4]
	dist := Distribution{E: res[bindE], G: res[bindG], MaxDepth: int(p.TreeDepth), ClusteringLevel: int(p.ClusteringLevel)}
	accum, secondary := res[bindAccum], res[bindSecondary]
	nee := p.Flags&FlagNEE != 0
	a := float32(0)
	if p.Flags&FlagGuide != 0 && dist.Available() {
		a = p.GuideProb
	}
	background := info.Background()
	pixels := p.Width * p.Height

	return func(id uint32) {
		if id >= pixels {
			return
		}
		s := shading.NewSampler(id, p.Seed, saltTrace)
		o, d := cameraRay(info, id%p.Width, id/p.Width, p.Width, p.Height, s.Float32(), s.Float32())

		var l, cached mgl32.Vec3
		throughput := mgl32.Vec3{1, 1, 1}
		for bounce := uint32(0); bounce < p.Bounces; bounce++ {
			hit, ok := view.Closest(o, d, 0, math.MaxFloat32)
			if !ok {
				l = l.Add(shading.Mul(throughput, background))
				if bounce == 0 {
					cached = background
				}
				break
			}
			m := shading.LoadMaterial(mats, hit.Material)
			wo := d.Mul(-1)
			n := hit.Normal
			if bounce == 0 {
				irr := cachedIrradiance(dist.E, p.Grid, int(p.TreeDepth), hit.Position)
				cached = m.Emission.Add(shading.Mul(m.Albedo, irr).Mul(shading.InvPi))
			}
			l = l.Add(shading.Mul(throughput, m.Emission))
			if nee {
				l = l.Add(shading.Mul(throughput, shading.DirectRadiance(info, view, m, hit.Position, n, wo)))
			}

			var next mgl32.Vec3
			if m.Guidable() && a > 0 {
				if s.Float32() < a {
					dir, ok := dist.Sample(hit.Position, s)
					if !ok {
						break
					}
					next = dir
				} else {
					bs, ok := shading.Sample(m, n, wo, hit.Front, s)
					if !ok {
						break
					}
					next = bs.Dir
				}
				f, bsdfPdf := shading.Eval(m, n, wo, next)
				pdf := Mixture(a, dist.Pdf(hit.Position, next), bsdfPdf)
				cos := n.Dot(next)
				if pdf <= 0 || cos <= 0 {
					break
				}
				throughput = shading.Mul(throughput, f.Mul(cos/pdf))
			} else {
				bs, ok := shading.Sample(m, n, wo, hit.Front, s)
				if !ok {
					break
				}
				next = bs.Dir
				throughput = shading.Mul(throughput, bs.Weight)
			}
			if throughput.Len() == 0 {
				break
			}
			offset := hit.GeoNormal.Mul(shading.RayEpsilon)
			if next.Dot(hit.GeoNormal) < 0 {
				offset = offset.Mul(-1)
			}
			o, d = hit.Position.Add(offset), next
		}
		if !finite(l) {
			l = mgl32.Vec3{}
		}
		accumulate(accum, id, p.Frame, l)
		accumulate(secondary, id, p.Frame, cached)
	}
}
