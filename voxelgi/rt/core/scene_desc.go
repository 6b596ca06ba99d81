package core

import (
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"

	svopg "github.com/gekko3d/svopg"
)

// SceneDesc is the YAML scene description format.
type SceneDesc struct {
	Background [3]float32     `yaml:"background"`
	Camera     CameraDesc     `yaml:"camera"`
	Materials  []MaterialDesc `yaml:"materials"`
	Meshes     []MeshDesc     `yaml:"meshes"`
	Instances  []InstanceDesc `yaml:"instances"`
	Lights     []LightDesc    `yaml:"lights"`
}

type CameraDesc struct {
	Position *[3]float32 `yaml:"position"`
	LookAt   *[3]float32 `yaml:"look_at"`
	FovY     float32     `yaml:"fov"`
}

type MaterialDesc struct {
	Name      string     `yaml:"name"`
	BSDF      string     `yaml:"bsdf"`
	Albedo    [3]float32 `yaml:"albedo"`
	Emission  [3]float32 `yaml:"emission"`
	Roughness float32    `yaml:"roughness"`
	IOR       float32    `yaml:"ior"`
}

type MeshDesc struct {
	Name      string     `yaml:"name"`
	Primitive string     `yaml:"primitive"`
	Size      [2]float32 `yaml:"size"`
	Min       [3]float32 `yaml:"min"`
	Max       [3]float32 `yaml:"max"`
	Radius    float32    `yaml:"radius"`
}

type MotionDesc struct {
	Type      string     `yaml:"type"`
	Axis      [3]float32 `yaml:"axis"`
	Period    float32    `yaml:"period"`
	Amplitude float32    `yaml:"amplitude"`
	Seed      uint64     `yaml:"seed"`
}

type InstanceDesc struct {
	Name     string      `yaml:"name"`
	Mesh     string      `yaml:"mesh"`
	Material string      `yaml:"material"`
	Position [3]float32  `yaml:"position"`
	Rotation [3]float32  `yaml:"rotation"` // euler degrees, XYZ order
	Scale    *[3]float32 `yaml:"scale"`
	Motion   *MotionDesc `yaml:"motion"`
}

type LightDesc struct {
	Type      string      `yaml:"type"`
	Position  [3]float32  `yaml:"position"`
	Direction [3]float32  `yaml:"direction"`
	Color     [3]float32  `yaml:"color"`
	Intensity float32     `yaml:"intensity"`
	Motion    *MotionDesc `yaml:"motion"`
}

func LoadSceneFile(path string, log svopg.Logger) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene: %w", err)
	}
	return ParseScene(data, log)
}

// ParseScene builds a scene from YAML. Broken references are soft errors: they are logged as
// warnings and replaced by defaults (material 0, static motion) or skipped (unknown meshes).
func ParseScene(data []byte, log svopg.Logger) (*Scene, error) {
	log = svopg.OrNop(log)
	var desc SceneDesc
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to parse scene: %w", err)
	}

	s := NewScene()
	s.Background = mgl32.Vec3(desc.Background)

	materialIdx := map[string]int{s.Materials[0].Name: 0}
	for _, md := range desc.Materials {
		kind, ok := bsdfNames[md.BSDF]
		if !ok {
			log.Warnf("material %q: unknown bsdf %q, using diffuse", md.Name, md.BSDF)
			kind = BSDFDiffuse
		}
		m := Material{
			Name:      md.Name,
			Kind:      kind,
			Albedo:    mgl32.Vec3(md.Albedo),
			Emission:  mgl32.Vec3(md.Emission),
			Roughness: md.Roughness,
			IOR:       md.IOR,
		}
		if m.IOR == 0 {
			m.IOR = 1.5
		}
		materialIdx[md.Name] = s.AddMaterial(m)
	}

	meshIdx := map[string]int{}
	for _, md := range desc.Meshes {
		mesh, err := buildMesh(md)
		if err != nil {
			log.Warnf("mesh %q skipped: %v", md.Name, err)
			continue
		}
		mesh.Name = md.Name
		meshIdx[md.Name] = s.AddMesh(mesh)
	}

	for _, id := range desc.Instances {
		mi, ok := meshIdx[id.Mesh]
		if !ok {
			log.Warnf("instance %q: unknown mesh %q, skipped", id.Name, id.Mesh)
			continue
		}
		mat, ok := materialIdx[id.Material]
		if !ok {
			log.Warnf("instance %q: unknown material %q, using material 0", id.Name, id.Material)
			mat = 0
		}
		t := NewTransform()
		t.Position = mgl32.Vec3(id.Position)
		t.Rotation = mgl32.AnglesToQuat(
			mgl32.DegToRad(id.Rotation[0]), mgl32.DegToRad(id.Rotation[1]), mgl32.DegToRad(id.Rotation[2]), mgl32.XYZ)
		if id.Scale != nil {
			t.Scale = mgl32.Vec3(*id.Scale)
		}
		inst := NewInstance(id.Name, mi, mat, t)
		inst.Motion = parseMotion(id.Motion, "instance "+id.Name, log)
		s.AddInstance(inst)
	}

	for i, ld := range desc.Lights {
		l := &Light{
			Position:  mgl32.Vec3(ld.Position),
			Direction: mgl32.Vec3(ld.Direction),
			Color:     mgl32.Vec3(ld.Color),
			Intensity: ld.Intensity,
		}
		switch ld.Type {
		case "point", "":
			l.Type = LightPoint
		case "directional":
			l.Type = LightDirectional
		default:
			log.Warnf("light %d: unknown type %q, using point", i, ld.Type)
		}
		l.Motion = parseMotion(ld.Motion, fmt.Sprintf("light %d", i), log)
		if err := s.AddLight(l); err != nil {
			log.Warnf("light %d dropped: %v", i, err)
		}
	}

	if desc.Camera.Position != nil {
		s.Camera.Position = mgl32.Vec3(*desc.Camera.Position)
	}
	if desc.Camera.FovY > 0 {
		s.Camera.FovY = desc.Camera.FovY
	}
	if desc.Camera.LookAt != nil {
		s.Camera.LookAt(mgl32.Vec3(*desc.Camera.LookAt))
	}
	return s, s.Validate()
}

func buildMesh(md MeshDesc) (*Mesh, error) {
	switch md.Primitive {
	case "cube":
		return NewCube(), nil
	case "quad":
		if md.Size[0] <= 0 || md.Size[1] <= 0 {
			return nil, fmt.Errorf("quad needs a positive size")
		}
		return NewQuad(md.Size[0], md.Size[1]), nil
	case "box":
		return NewBox(md.Name, mgl32.Vec3(md.Min), mgl32.Vec3(md.Max)), nil
	case "sphere":
		r := md.Radius
		if r <= 0 {
			r = 0.5
		}
		return NewSphere(r, 16, 32), nil
	}
	return nil, fmt.Errorf("unknown primitive %q", md.Primitive)
}

func parseMotion(md *MotionDesc, owner string, log svopg.Logger) Motion {
	if md == nil {
		return Motion{}
	}
	t, ok := motionNames[md.Type]
	if !ok {
		log.Warnf("%s: unknown motion type %q, using static", owner, md.Type)
		t = MotionStatic
	}
	return Motion{
		Type:      t,
		Axis:      mgl32.Vec3(md.Axis),
		Period:    md.Period,
		Amplitude: md.Amplitude,
		Seed:      md.Seed,
	}
}
