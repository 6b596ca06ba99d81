package voxelize

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	svopg "github.com/gekko3d/svopg"
	"github.com/gekko3d/svopg/voxelgi/rt/core"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
	"github.com/gekko3d/svopg/voxelgi/rt/shaders"
)

// Geometry is the pooled mesh data the voxelizer draws from.
type Geometry interface {
	VertexBuffer() *gpu.Buffer
	IndexBuffer() *gpu.Buffer
	MeshRange(mesh int) core.MeshRange
}

// ClearKernel zeroes the VGB, one word per invocation.
var ClearKernel = &gpu.Kernel{
	Name:          "clear_vgb",
	WGSL:          shaders.Kernel(shaders.ClearWGSL),
	Entry:         "clear_vgb",
	WorkgroupSize: svopg.WorkgroupSize,
	Host: func(push []byte, res []gpu.HostResource) func(uint32) {
		words := gpu.NewPushReader(push).U32()
		vgb := res[0]
		return func(id uint32) {
			if id >= words || id >= vgb.Len() {
				return
			}
			vgb.StoreU32(id, 0)
		}
	},
}

// Pipeline rasterizes one instance per draw and accumulates its fragments into the VGB.
var Pipeline = &gpu.RasterPipeline{
	Name:          "voxelize",
	WGSL:          shaders.Kernel(shaders.VoxelizeWGSL),
	VertexEntry:   "vs_main",
	FragmentEntry: "fs_main",
	TargetFormat:  gpu.ImageFormatR8Unorm,
	HostVertex:    hostVertex,
	HostFragment:  hostFragment,
}

// drawPush mirrors the WGSL Push block of voxelize.wgsl.
type drawPush struct {
	viewProj  mgl32.Mat4
	model     mgl32.Mat4
	normal    mgl32.Mat4
	gridMin   mgl32.Vec3
	count     uint32
	voxelSize mgl32.Vec3
	material  uint32
}

func (p drawPush) bytes() []byte {
	b := gpu.NewPush().Mat4(p.viewProj).Mat4(p.model).Mat4(p.normal)
	b.F32(p.gridMin[0]).F32(p.gridMin[1]).F32(p.gridMin[2]).U32(p.count)
	b.F32(p.voxelSize[0]).F32(p.voxelSize[1]).F32(p.voxelSize[2]).U32(p.material)
	return b.Bytes()
}

func readDrawPush(b []byte) drawPush {
	r := gpu.NewPushReader(b)
	var p drawPush
	p.viewProj, p.model, p.normal = r.Mat4(), r.Mat4(), r.Mat4()
	p.gridMin = mgl32.Vec3{r.F32(), r.F32(), r.F32()}
	p.count = r.U32()
	p.voxelSize = mgl32.Vec3{r.F32(), r.F32(), r.F32()}
	p.material = r.U32()
	return p
}

func hostVertex(push []byte, _ []gpu.HostResource) func(gpu.VertexIn) gpu.VertexOut {
	p := readDrawPush(push)
	return func(v gpu.VertexIn) gpu.VertexOut {
		world := p.model.Mul4x1(mgl32.Vec3(v.Position).Vec4(1))
		n := p.normal.Mul4x1(mgl32.Vec3(v.Normal).Vec4(0))
		out := gpu.VertexOut{Clip: p.viewProj.Mul4x1(world)}
		copy(out.Varyings[:3], world[:3])
		copy(out.Varyings[3:6], n[:3])
		return out
	}
}

func hostFragment(push []byte, res []gpu.HostResource) func(gpu.Fragment) {
	p := readDrawPush(push)
	mats, vgb := res[0], res[1]
	mb := p.material * core.MaterialWords
	albedo, emission := mats.Vec3(mb), mats.Vec3(mb+4)
	g := Grid{Min: p.gridMin, VoxelSize: p.voxelSize, Count: p.count}
	return func(f gpu.Fragment) {
		world := mgl32.Vec3{f.Varyings[0], f.Varyings[1], f.Varyings[2]}
		idx, ok := g.CellOf(world)
		if !ok {
			return
		}
		n := mgl32.Vec3{f.Varyings[3], f.Varyings[4], f.Varyings[5]}
		if l := n.Len(); l > 0 {
			n = n.Mul(1 / l)
		} else {
			n = mgl32.Vec3{0, 0, 1}
		}
		base := idx * CellWords
		vgb.AddVec3(base+CellNormal, n)
		vgb.AddU32(base+CellCount, 1)
		vgb.AddVec3(base+CellPosition, world)
		vgb.AddVec3(base+CellAlbedo, albedo)
		vgb.AddVec3(base+CellEmission, emission)
	}
}

// Voxelizer owns the VGB and rasterizes the scene into it from up to three axis views.
type Voxelizer struct {
	dev gpu.Device
	log svopg.Logger
	cfg svopg.VoxelConfig

	Grid  Grid
	Views []View

	VGB    *gpu.Buffer
	target *gpu.Image
}

// New sizes the grid to the scene's swept bounds and allocates the VGB.
func New(dev gpu.Device, log svopg.Logger, cfg svopg.VoxelConfig, scene *core.Scene) (*Voxelizer, error) {
	minB, maxB := scene.Bounds()
	v := &Voxelizer{
		dev:  dev,
		log:  svopg.OrNop(log),
		cfg:  cfg,
		Grid: NewGrid(minB, maxB, cfg.Count, cfg.Padding),
	}
	v.Views = v.Grid.Views(cfg.Views)

	var err error
	v.VGB, err = dev.CreateBuffer(gpu.BufferDesc{
		Label: "VGB",
		Size:  uint64(v.Grid.Cells()) * CellSize,
		Usage: gpu.BufferUsageStorage | gpu.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("voxelizer: vgb: %w", err)
	}
	v.target, err = dev.CreateImage(gpu.ImageDesc{
		Label:      "VoxelizeTarget",
		Width:      cfg.Count,
		Height:     cfg.Count,
		Format:     gpu.ImageFormatR8Unorm,
		Attachment: true,
	})
	if err != nil {
		dev.DestroyBuffer(v.VGB)
		return nil, fmt.Errorf("voxelizer: target: %w", err)
	}
	v.log.Infof("voxel grid %d^3, min %v, voxel size %v, %d views", cfg.Count, v.Grid.Min, v.Grid.VoxelSize, len(v.Views))
	return v, nil
}

// RecordClear zeroes the VGB in the compute stage.
func (v *Voxelizer) RecordClear(l *gpu.CommandList) {
	words := v.Grid.Cells() * CellWords
	l.Dispatch(ClearKernel, gpu.StageComputeShader, gpu.Groups1D(words, svopg.WorkgroupSize),
		gpu.NewPush().U32(words).Bytes(), gpu.Write(v.VGB))
}

// RecordDraws rasterizes every instance from every view. Draws only accumulate, so they need no
// barriers between each other.
func (v *Voxelizer) RecordDraws(l *gpu.CommandList, scene *core.Scene, geo Geometry, materials *gpu.Buffer) {
	for _, view := range v.Views {
		for _, inst := range scene.Instances {
			r := geo.MeshRange(inst.Mesh)
			p := drawPush{
				viewProj:  view.ViewProj,
				model:     inst.Transform.ObjectToWorld(),
				normal:    inst.Transform.NormalMatrix().Mat4(),
				gridMin:   v.Grid.Min,
				count:     v.Grid.Count,
				voxelSize: v.Grid.VoxelSize,
				material:  uint32(inst.Material),
			}
			l.Draw(gpu.DrawCmd{
				Pipeline:   Pipeline,
				Target:     v.target,
				Vertices:   geo.VertexBuffer(),
				Indices:    geo.IndexBuffer(),
				FirstIndex: r.FirstIndex,
				IndexCount: r.IndexCount,
				BaseVertex: r.VertexOffset,
				Push:       p.bytes(),
				Bindings:   []gpu.Binding{gpu.Read(materials), gpu.AtomicAdd(v.VGB)},
			})
		}
	}
}

// Record clears the VGB and voxelizes the scene. The clear must be visible to the fragment stage
// before the first draw accumulates.
func (v *Voxelizer) Record(l *gpu.CommandList, scene *core.Scene, geo Geometry, materials *gpu.Buffer) {
	v.RecordClear(l)
	l.Barrier(gpu.StageComputeShader, gpu.StageFragmentShader)
	v.RecordDraws(l, scene, geo, materials)
}

// Cells reads the VGB back and decodes it.
func (v *Voxelizer) Cells() ([]Cell, error) {
	raw, err := v.dev.ReadBuffer(v.VGB)
	if err != nil {
		return nil, fmt.Errorf("voxelizer: read vgb: %w", err)
	}
	return DecodeCells(raw), nil
}

func (v *Voxelizer) Destroy() {
	v.dev.DestroyBuffer(v.VGB)
	v.dev.DestroyImage(v.target)
	v.VGB, v.target = nil, nil
}
