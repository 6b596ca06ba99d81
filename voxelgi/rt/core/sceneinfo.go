package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// SceneInfo layout (WGSL struct SceneInfo, 1024 bytes):
//
//	view_proj  mat4x4<f32>   0
//	inv_view   mat4x4<f32>   64
//	inv_proj   mat4x4<f32>   128
//	cam_pos    vec4<f32>     192  (w = scene time)
//	background vec4<f32>     208
//	counts     vec4<u32>     224  (lights, instances, materials, frame)
//	extent     vec4<u32>     240  (width, height, max depth, flags)
//	lights     array<Light,16> 256, 48 bytes each
const (
	SceneInfoSize  = 1024
	LightWords     = 12
	sceneLightBase = 256
)

// SceneInfo flags.
const (
	SceneFlagNEE uint32 = 1 << iota
	SceneFlagGuide
)

type FrameParams struct {
	Width    uint32
	Height   uint32
	Frame    uint32
	MaxDepth uint32
	Flags    uint32
}

// PackSceneInfo builds the per-frame uniform every ray-tracing stage reads.
func PackSceneInfo(s *Scene, p FrameParams) []byte {
	aspect := float32(p.Width) / float32(max(p.Height, 1))
	view := s.Camera.ViewMatrix()
	proj := s.Camera.ProjectionMatrix(aspect)

	w := NewWriter(SceneInfoSize)
	w.Mat4(proj.Mul4(view))
	w.Mat4(view.Inv())
	w.Mat4(proj.Inv())
	w.Vec4(s.Camera.Position, s.Time)
	w.Vec4(s.Background, 0)
	w.U32(uint32(len(s.Lights))).U32(uint32(len(s.Instances))).U32(uint32(len(s.Materials))).U32(p.Frame)
	w.U32(p.Width).U32(p.Height).U32(p.MaxDepth).U32(p.Flags)
	w.Pad(sceneLightBase)
	for _, l := range s.Lights {
		w.Vec4U(l.Position, uint32(l.Type))
		w.Vec4(l.Radiance(), 0)
		w.Vec4(safeNormalize(l.Direction), 0)
	}
	return w.Pad(SceneInfoSize).Bytes()
}

// PackMaterials lays materials out with MaterialWords words each.
func PackMaterials(mats []Material) []byte {
	w := NewWriter(len(mats) * MaterialWords * 4)
	for _, m := range mats {
		w.Vec4U(m.Albedo, uint32(m.Kind))
		w.Vec4(m.Emission, m.Roughness)
		w.F32(m.IOR).U32(0).U32(0).U32(0)
	}
	return w.Bytes()
}

func safeNormalize(v mgl32.Vec3) mgl32.Vec3 {
	if v.Len() == 0 {
		return mgl32.Vec3{0, 0, -1}
	}
	return v.Normalize()
}
