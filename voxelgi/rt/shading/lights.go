package shading

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/svopg/voxelgi/rt/accel"
	"github.com/gekko3d/svopg/voxelgi/rt/core"
	"github.com/gekko3d/svopg/voxelgi/rt/gpu"
)

// SceneInfo reads the packed core.SceneInfo uniform.
type SceneInfo struct {
	gpu.HostResource
}

func (s SceneInfo) mat(word uint32) mgl32.Mat4 {
	var m mgl32.Mat4
	for i := range m {
		m[i] = s.F32(word + uint32(i))
	}
	return m
}

func (s SceneInfo) ViewProj() mgl32.Mat4   { return s.mat(0) }
func (s SceneInfo) InvView() mgl32.Mat4    { return s.mat(16) }
func (s SceneInfo) InvProj() mgl32.Mat4    { return s.mat(32) }
func (s SceneInfo) CamPos() mgl32.Vec3     { return s.Vec3(48) }
func (s SceneInfo) Time() float32          { return s.F32(51) }
func (s SceneInfo) Background() mgl32.Vec3 { return s.Vec3(52) }
func (s SceneInfo) LightCount() uint32     { return min(s.U32(56), core.MaxLights) }
func (s SceneInfo) Frame() uint32          { return s.U32(59) }
func (s SceneInfo) Width() uint32          { return s.U32(60) }
func (s SceneInfo) Height() uint32         { return s.U32(61) }
func (s SceneInfo) MaxDepth() uint32       { return s.U32(62) }
func (s SceneInfo) Flags() uint32          { return s.U32(63) }

type Light struct {
	Type      core.LightType
	Position  mgl32.Vec3
	Radiance  mgl32.Vec3
	Direction mgl32.Vec3
}

func (s SceneInfo) Light(i uint32) Light {
	base := uint32(64) + i*core.LightWords
	return Light{
		Type:      core.LightType(s.U32(base + 3)),
		Position:  s.Vec3(base),
		Radiance:  s.Vec3(base + 4),
		Direction: s.Vec3(base + 8),
	}
}

// RayEpsilon offsets secondary ray origins along the normal.
const RayEpsilon = 1e-3

// Incident returns the direction towards the light, the distance to it and the unshadowed
// irradiance it delivers at p on a surface facing the light.
func (l Light) Incident(p mgl32.Vec3) (mgl32.Vec3, float32, mgl32.Vec3) {
	if l.Type == core.LightDirectional {
		return l.Direction.Mul(-1), float32(math.MaxFloat32), l.Radiance
	}
	d := l.Position.Sub(p)
	dist2 := max(d.Dot(d), 1e-8)
	dist := float32(math.Sqrt(float64(dist2)))
	return d.Mul(1 / dist), dist, l.Radiance.Mul(1 / dist2)
}

// DirectIrradiance sums the visible light arriving at p with normal n, weighted by the cosine.
func DirectIrradiance(info SceneInfo, view accel.View, p, n mgl32.Vec3) mgl32.Vec3 {
	var e mgl32.Vec3
	origin := p.Add(n.Mul(RayEpsilon))
	for i := uint32(0); i < info.LightCount(); i++ {
		dir, dist, irr := info.Light(i).Incident(p)
		cos := n.Dot(dir)
		if cos <= 0 {
			continue
		}
		if view.Occluded(origin, dir, 0, dist-RayEpsilon) {
			continue
		}
		e = e.Add(irr.Mul(cos))
	}
	return e
}

// DirectRadiance is the light reflected towards wo by NEE over every light.
func DirectRadiance(info SceneInfo, view accel.View, m Material, p, n, wo mgl32.Vec3) mgl32.Vec3 {
	var l mgl32.Vec3
	if !m.Guidable() {
		return l
	}
	origin := p.Add(n.Mul(RayEpsilon))
	for i := uint32(0); i < info.LightCount(); i++ {
		dir, dist, irr := info.Light(i).Incident(p)
		cos := n.Dot(dir)
		if cos <= 0 {
			continue
		}
		f, _ := Eval(m, n, wo, dir)
		if f.Len() == 0 || view.Occluded(origin, dir, 0, dist-RayEpsilon) {
			continue
		}
		l = l.Add(Mul(f, irr).Mul(cos))
	}
	return l
}
