package core

import (
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

var builtinScenes = map[string]func() *Scene{
	"cube":     NewCubeScene,
	"occluder": NewOccluderScene,
	"cornell":  NewCornellScene,
	"orbit":    NewOrbitScene,
}

// BuiltinScene returns one of the procedural scenes by name.
func BuiltinScene(name string) (*Scene, error) {
	f, ok := builtinScenes[name]
	if !ok {
		return nil, fmt.Errorf("unknown builtin scene %q (have %v)", name, BuiltinSceneNames())
	}
	return f(), nil
}

func BuiltinSceneNames() []string {
	names := make([]string, 0, len(builtinScenes))
	for n := range builtinScenes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewCubeScene is a single unit cube centred at the origin.
func NewCubeScene() *Scene {
	s := NewScene()
	cube := s.AddMesh(NewCube())
	s.AddInstance(NewInstance("cube", cube, 0, NewTransform()))
	s.Camera.Position = mgl32.Vec3{2, -3, 2}
	s.Camera.LookAt(mgl32.Vec3{})
	return s
}

// NewOccluderScene is a 4x4 floor at z=0 with a thin slab hovering between it and a point light.
func NewOccluderScene() *Scene {
	s := NewScene()
	floor := s.AddMesh(NewQuad(4, 4))
	slab := s.AddMesh(NewBox("slab", mgl32.Vec3{0.5, -0.5, 0.8}, mgl32.Vec3{1.5, 0.5, 1.0}))
	s.AddInstance(NewInstance("floor", floor, 0, NewTransform()))
	s.AddInstance(NewInstance("slab", slab, 0, NewTransform()))
	_ = s.AddLight(&Light{Type: LightPoint, Position: mgl32.Vec3{0, 0, 2}, Color: mgl32.Vec3{1, 1, 1}, Intensity: 8})
	s.Camera.Position = mgl32.Vec3{0, -5, 3}
	s.Camera.LookAt(mgl32.Vec3{0, 0, 0.5})
	return s
}

// NewCornellScene is a closed box with coloured side walls, two blocks and a ceiling light.
func NewCornellScene() *Scene {
	s := NewScene()
	white := s.AddMaterial(Material{Name: "white", Kind: BSDFDiffuse, Albedo: mgl32.Vec3{0.73, 0.73, 0.73}, Roughness: 1, IOR: 1.5})
	red := s.AddMaterial(Material{Name: "red", Kind: BSDFDiffuse, Albedo: mgl32.Vec3{0.65, 0.05, 0.05}, Roughness: 1, IOR: 1.5})
	green := s.AddMaterial(Material{Name: "green", Kind: BSDFDiffuse, Albedo: mgl32.Vec3{0.12, 0.45, 0.15}, Roughness: 1, IOR: 1.5})
	metal := s.AddMaterial(Material{Name: "metal", Kind: BSDFRoughConductor, Albedo: mgl32.Vec3{0.9, 0.8, 0.6}, Roughness: 0.3, IOR: 1.5})
	lamp := s.AddMaterial(Material{Name: "lamp", Kind: BSDFDiffuse, Albedo: mgl32.Vec3{0.8, 0.8, 0.8}, Emission: mgl32.Vec3{12, 11, 9}, Roughness: 1, IOR: 1.5})

	wall := s.AddMesh(NewQuad(2, 2))
	block := s.AddMesh(NewCube())
	light := s.AddMesh(NewQuad(0.5, 0.5))

	add := func(name string, mesh, mat int, pos mgl32.Vec3, rot mgl32.Quat, scale mgl32.Vec3) {
		t := NewTransform()
		t.Position, t.Rotation, t.Scale = pos, rot, scale
		s.AddInstance(NewInstance(name, mesh, mat, t))
	}
	one := mgl32.Vec3{1, 1, 1}
	rx := func(deg float32) mgl32.Quat { return mgl32.QuatRotate(mgl32.DegToRad(deg), mgl32.Vec3{1, 0, 0}) }
	ry := func(deg float32) mgl32.Quat { return mgl32.QuatRotate(mgl32.DegToRad(deg), mgl32.Vec3{0, 1, 0}) }

	add("floor", wall, white, mgl32.Vec3{0, 0, 0}, mgl32.QuatIdent(), one)
	add("ceiling", wall, white, mgl32.Vec3{0, 0, 2}, rx(180), one)
	add("back", wall, white, mgl32.Vec3{0, 1, 1}, rx(90), one)
	add("left", wall, red, mgl32.Vec3{-1, 0, 1}, ry(90), one)
	add("right", wall, green, mgl32.Vec3{1, 0, 1}, ry(-90), one)
	add("tall", block, white, mgl32.Vec3{-0.35, 0.3, 0.6}, mgl32.QuatRotate(0.3, mgl32.Vec3{0, 0, 1}), mgl32.Vec3{0.55, 0.55, 1.2})
	add("short", block, metal, mgl32.Vec3{0.4, -0.3, 0.3}, mgl32.QuatRotate(-0.3, mgl32.Vec3{0, 0, 1}), mgl32.Vec3{0.55, 0.55, 0.6})
	add("lamp", light, lamp, mgl32.Vec3{0, 0, 1.99}, rx(180), one)

	_ = s.AddLight(&Light{Type: LightPoint, Position: mgl32.Vec3{0, 0, 1.8}, Color: mgl32.Vec3{1, 0.95, 0.85}, Intensity: 3})
	s.Camera.Position = mgl32.Vec3{0, -3.4, 1}
	s.Camera.LookAt(mgl32.Vec3{0, 0, 1})
	return s
}

// NewOrbitScene is the Cornell box with an animated sphere, which forces single-frame rendering.
func NewOrbitScene() *Scene {
	s := NewCornellScene()
	sphere := s.AddMesh(NewSphere(0.2, 12, 24))
	inst := NewInstance("orbiter", sphere, 0, At(mgl32.Vec3{0, -0.4, 1.2}))
	inst.Motion = Motion{Type: MotionPeriod, Axis: mgl32.Vec3{0.5, 0, 0}, Period: 4}
	s.AddInstance(inst)
	return s
}
