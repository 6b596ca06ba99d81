package inject

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	svopg "github.com/gekko3d/svopg"
	"github.com/gekko3d/svopg/voxelgi/rt/accel"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
	"github.com/gekko3d/svopg/voxelgi/rt/shaders"
	"github.com/gekko3d/svopg/voxelgi/rt/shading"
	"github.com/gekko3d/svopg/voxelgi/rt/voxelize"
)

// Push flags.
const (
	FlagNEE uint32 = 1 << iota
)

const saltInject = 0x1f123bb5

// Kernel injects direct and one-bounce indirect light into every occupied voxel. It runs in the
// ray-tracing stage and owns the irradiance and radiance words of each cell.
var Kernel = &gpu.Kernel{
	Name:          "inject",
	WGSL:          shaders.RayTracing(shaders.InjectWGSL),
	Entry:         "inject",
	WorkgroupSize: svopg.WorkgroupSize,
	Host:          hostInject,
}

// Push is the injection push-constant block.
type Push struct {
	Grid    voxelize.Grid
	Samples uint32
	Frame   uint32
	Flags   uint32
	Time    float32
}

func (p Push) Bytes() []byte {
	b := gpu.NewPush()
	b.F32(p.Grid.Min[0]).F32(p.Grid.Min[1]).F32(p.Grid.Min[2]).U32(p.Grid.Count)
	b.F32(p.Grid.VoxelSize[0]).F32(p.Grid.VoxelSize[1]).F32(p.Grid.VoxelSize[2]).U32(p.Samples)
	b.U32(p.Frame).U32(p.Flags).F32(p.Time).U32(0)
	return b.Bytes()
}

func ReadPush(b []byte) Push {
	r := gpu.NewPushReader(b)
	var p Push
	p.Grid.Min = mgl32.Vec3{r.F32(), r.F32(), r.F32()}
	p.Grid.Count = r.U32()
	p.Grid.VoxelSize = mgl32.Vec3{r.F32(), r.F32(), r.F32()}
	p.Samples = r.U32()
	p.Frame = r.U32()
	p.Flags = r.U32()
	p.Time = r.F32()
	return p
}

func hostInject(push []byte, res []gpu.HostResource) func(uint32) {
	p := ReadPush(push)
	info := shading.SceneInfo{HostResource: res[0]}
	view := accel.BoundView(res)
	mats := res[4]
	vgb := res[accel.RayTracingBindings]
	cells := p.Grid.Count * p.Grid.Count * p.Grid.Count
	nee := p.Flags&FlagNEE != 0
	background := info.Background()

	return func(id uint32) {
		if id >= cells {
			return
		}
		c := voxelize.LoadCell(vgb, id)
		if c.Empty() {
			return
		}
		s := shading.NewSampler(id, p.Frame, saltInject)
		var e mgl32.Vec3
		if nee {
			e = shading.DirectIrradiance(info, view, c.Position, c.Normal)
		}
		origin := c.Position.Add(c.Normal.Mul(shading.RayEpsilon))
		var indirect mgl32.Vec3
		for k := uint32(0); k < p.Samples; k++ {
			dir, _ := shading.CosineHemisphere(c.Normal, s.Float32(), s.Float32())
			hit, ok := view.Closest(origin, dir, 0, math.MaxFloat32)
			if !ok {
				indirect = indirect.Add(background)
				continue
			}
			m := shading.LoadMaterial(mats, hit.Material)
			l := m.Emission
			if nee {
				l = l.Add(shading.DirectRadiance(info, view, m, hit.Position, hit.Normal, dir.Mul(-1)))
			}
			indirect = indirect.Add(l)
		}
		irr := e.Add(indirect.Mul(shading.Pi / float32(max(p.Samples, 1))))

		base := id * voxelize.CellWords
		vgb.StoreVec3(base+voxelize.CellIrradiance, irr)
		vgb.StoreU32(base+voxelize.CellSamples, p.Samples)
		vgb.StoreVec3(base+voxelize.CellRadiance, c.Emission.Add(shading.Mul(c.Albedo, irr).Mul(shading.InvPi)))
		vgb.StoreU32(base+voxelize.CellFlags, voxelize.CellFlagLit)
	}
}

// Injector records the light-injection dispatch.
type Injector struct {
	log svopg.Logger
	cfg svopg.InjectConfig
}

func New(log svopg.Logger, cfg svopg.InjectConfig) *Injector {
	return &Injector{log: svopg.OrNop(log), cfg: cfg}
}

// SetNEE switches between the plain and the next-event-estimation variants.
func (in *Injector) SetNEE(on bool) { in.cfg.NEE = on }

func (in *Injector) NEE() bool { return in.cfg.NEE }

// Record injects light into vgb. The caller must have made the voxelization writes visible to the
// ray-tracing stage; rt is the shared prefix from accel.Manager.Bindings.
func (in *Injector) Record(l *gpu.CommandList, grid voxelize.Grid, vgb *gpu.Buffer, rt []gpu.Binding, frame uint32, time float32) {
	p := Push{Grid: grid, Samples: uint32(in.cfg.Samples), Frame: frame, Time: time}
	if in.cfg.NEE {
		p.Flags |= FlagNEE
	}
	bindings := append(append([]gpu.Binding(nil), rt...), gpu.ReadWrite(vgb))
	l.Dispatch(Kernel, gpu.StageRayTracingShader, gpu.Groups1D(grid.Cells(), svopg.WorkgroupSize), p.Bytes(), bindings...)
}
